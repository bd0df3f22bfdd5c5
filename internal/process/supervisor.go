package process

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/loykin/stackctl/internal/detector"
	"github.com/loykin/stackctl/internal/env"
	"github.com/loykin/stackctl/internal/logger"
)

// Supervisor starts detached processes and stops them through their pid files.
// It keeps no in-memory registry: the pid file is the only record, so a
// later stackctl invocation can stop what an earlier one started.
type Supervisor struct {
	logger       *slog.Logger
	env          *env.Env
	pollInterval time.Duration
	killWait     time.Duration

	alive  func(pid int) bool
	signal func(pid int, sig syscall.Signal) error
}

func NewSupervisor(l *slog.Logger, opts ...Option) *Supervisor {
	if l == nil {
		l = slog.Default()
	}
	s := &Supervisor{
		logger:       l,
		env:          env.New(),
		pollInterval: DefaultPollInterval,
		killWait:     DefaultKillWait,
		alive:        detector.PIDAlive,
		signal:       signalGroup,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches spec detached from the terminal and records its pid.
// The pid file exists when Start returns successfully; if it cannot be
// written the child is killed and an error is returned.
func (s *Supervisor) Start(spec Spec) (*ManagedProcess, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	cmd := spec.BuildCommand()
	cmd.Dir = spec.WorkDir
	cmd.Env = s.env.Merge(spec.Env)
	detach(cmd)

	stdin, err := os.Open(os.DevNull)
	if err != nil {
		return nil, &StartError{Name: spec.Name, Err: err}
	}
	defer func() { _ = stdin.Close() }()
	cmd.Stdin = stdin

	var out *os.File
	if spec.LogFile != "" {
		f, err := logger.OpenAppend(spec.LogFile)
		if err != nil {
			return nil, &StartError{Name: spec.Name, Err: fmt.Errorf("open log file: %w", err)}
		}
		defer func() { _ = f.Close() }()
		out = f
	} else {
		devnull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
		if err != nil {
			return nil, &StartError{Name: spec.Name, Err: err}
		}
		defer func() { _ = devnull.Close() }()
		out = devnull
	}
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Start(); err != nil {
		return nil, &StartError{Name: spec.Name, Err: err}
	}
	pid := cmd.Process.Pid
	if err := WritePIDFile(spec.PIDFile, pid); err != nil {
		_ = signalGroup(pid, syscall.SIGKILL)
		_ = cmd.Wait()
		return nil, &StartError{Name: spec.Name, Err: err}
	}

	// Reap in the background so an early exit does not linger as a zombie.
	go func() {
		err := cmd.Wait()
		s.logger.Debug("process exited", "name", spec.Name, "pid", pid, "error", err)
	}()

	s.logger.Info("process started", "name", spec.Name, "pid", pid, "pid_file", spec.PIDFile, "log_file", spec.LogFile)
	return &ManagedProcess{
		Name:      spec.Name,
		PID:       pid,
		PIDFile:   spec.PIDFile,
		LogFile:   spec.LogFile,
		StartedAt: time.Now(),
	}, nil
}

// Stop terminates the process recorded in pidFile, escalating from SIGTERM to
// SIGKILL after grace. The pid file is removed once the process is confirmed
// gone; on failure it is kept and a *StopError is returned.
func (s *Supervisor) Stop(pidFile string, grace time.Duration) (StopOutcome, error) {
	log := s.logger.With("pid_file", pidFile)
	pid, err := ReadPIDFile(pidFile)
	if errors.Is(err, fs.ErrNotExist) {
		log.Debug("no pid file")
		return OutcomeAlreadyStopped, nil
	}
	if err != nil {
		log.Warn("unreadable pid file, removing", "error", err)
		s.removePIDFile(pidFile)
		return OutcomeNotFound, nil
	}
	log = log.With("pid", pid)
	if !s.alive(pid) {
		log.Info("stale pid file, process is gone")
		s.removePIDFile(pidFile)
		return OutcomeNotFound, nil
	}

	if err := s.signal(pid, syscall.SIGTERM); err != nil {
		log.Warn("SIGTERM failed", "error", err)
	}
	if s.waitGone(pid, grace) {
		log.Info("process stopped")
		s.removePIDFile(pidFile)
		return OutcomeStopped, nil
	}

	log.Warn("grace period expired, sending SIGKILL", "grace", grace)
	if err := s.signal(pid, syscall.SIGKILL); err != nil && s.alive(pid) {
		return OutcomeFailed, &StopError{PID: pid, PIDFile: pidFile, Err: fmt.Errorf("SIGKILL: %w", err)}
	}
	if !s.waitGone(pid, s.killWait) {
		return OutcomeFailed, &StopError{PID: pid, PIDFile: pidFile, Err: errors.New("still alive after SIGKILL")}
	}
	log.Info("process force killed")
	s.removePIDFile(pidFile)
	return OutcomeForceKilled, nil
}

// Record is a point-in-time view of a pid file.
type Record struct {
	PIDFile string `json:"pid_file"`
	PID     int    `json:"pid,omitempty"`
	Exists  bool   `json:"exists"`
	Alive   bool   `json:"alive"`
}

// Inspect reads pidFile without changing anything.
func (s *Supervisor) Inspect(pidFile string) (Record, error) {
	rec := Record{PIDFile: pidFile}
	pid, err := ReadPIDFile(pidFile)
	if errors.Is(err, fs.ErrNotExist) {
		return rec, nil
	}
	rec.Exists = true
	if err != nil {
		return rec, err
	}
	rec.PID = pid
	rec.Alive = s.alive(pid)
	return rec, nil
}

// waitGone polls until pid is no longer alive or d elapses.
func (s *Supervisor) waitGone(pid int, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for {
		if !s.alive(pid) {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(s.pollInterval)
	}
}

func (s *Supervisor) removePIDFile(path string) {
	if err := RemovePIDFile(path); err != nil {
		s.logger.Warn("remove pid file", "pid_file", path, "error", err)
	}
}
