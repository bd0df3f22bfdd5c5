package process

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/loykin/stackctl/internal/logger"
)

// RunResult describes a finished one-shot command.
type RunResult struct {
	Name     string        `json:"name"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
	LogFile  string        `json:"log_file,omitempty"`
}

// Run executes spec in the foreground and waits for it, appending its output
// to spec.LogFile. When ctx ends first the whole process group is killed.
// A non-zero exit is returned as an error alongside the result.
func (s *Supervisor) Run(ctx context.Context, spec Spec) (RunResult, error) {
	res := RunResult{Name: spec.Name, ExitCode: -1, LogFile: spec.LogFile}
	if spec.Command == "" {
		return res, errors.New("run " + spec.Name + ": command is required")
	}
	cmd := spec.BuildCommand()
	cmd.Dir = spec.WorkDir
	cmd.Env = s.env.Merge(spec.Env)
	detach(cmd)
	if spec.LogFile != "" {
		f, err := logger.OpenAppend(spec.LogFile)
		if err != nil {
			return res, fmt.Errorf("run %s: open log file: %w", spec.Name, err)
		}
		defer func() { _ = f.Close() }()
		cmd.Stdout = f
		cmd.Stderr = f
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return res, &StartError{Name: spec.Name, Err: err}
	}
	s.logger.Info("running", "name", spec.Name, "pid", cmd.Process.Pid, "log_file", spec.LogFile)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		_ = signalGroup(cmd.Process.Pid, syscall.SIGKILL)
		<-done
		res.Duration = time.Since(start)
		return res, fmt.Errorf("run %s: %w", spec.Name, ctx.Err())
	}
	res.Duration = time.Since(start)
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			res.ExitCode = ee.ExitCode()
		}
		return res, fmt.Errorf("run %s: %w", spec.Name, err)
	}
	res.ExitCode = 0
	return res, nil
}

