package stack

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/loykin/stackctl/internal/history"
	"github.com/loykin/stackctl/internal/image"
	"github.com/loykin/stackctl/internal/metrics"
	"github.com/loykin/stackctl/internal/process"
	"github.com/loykin/stackctl/internal/readiness"
)

// LaunchOptions select the optional launch steps.
type LaunchOptions struct {
	WithDashboard   bool
	RunVerification bool
}

// ProcessResult describes an owned process after launch.
type ProcessResult struct {
	Name    string `json:"name"`
	PID     int    `json:"pid"`
	PIDFile string `json:"pid_file"`
	LogFile string `json:"log_file,omitempty"`
	Reused  bool   `json:"reused"`
	Ready   bool   `json:"ready"`
	Error   string `json:"error,omitempty"`
}

// StepResult describes an optional step that does not abort the launch.
type StepResult struct {
	OK      bool   `json:"ok"`
	Detail  string `json:"detail,omitempty"`
	LogFile string `json:"log_file,omitempty"`
	Error   string `json:"error,omitempty"`
}

// LaunchReport summarises a launch, including the steps that failed softly.
type LaunchReport struct {
	RunID        string         `json:"run_id"`
	Images       []image.Result `json:"images"`
	Infra        []string       `json:"infra_ready,omitempty"`
	Backend      *ProcessResult `json:"backend,omitempty"`
	Dashboard    *ProcessResult `json:"dashboard,omitempty"`
	Verification *StepResult    `json:"verification,omitempty"`
	Duration     time.Duration  `json:"duration"`
}

// Launcher brings the stack up in dependency order.
type Launcher struct {
	d Deps
}

func NewLauncher(d Deps) *Launcher {
	d.defaults()
	return &Launcher{d: d}
}

// Up provisions images, starts the stores and waits for them, starts the
// backend and waits for its health endpoint, then runs the optional
// dashboard and verification steps. The first failure among the mandatory
// steps is returned; nothing already started is rolled back.
func (l *Launcher) Up(ctx context.Context, opts LaunchOptions) (*LaunchReport, error) {
	rec := history.NewRecorder(l.d.Sink, history.PhaseLaunch, l.d.Logger)
	rep := &LaunchReport{RunID: rec.RunID()}
	log := l.d.Logger.With("run_id", rep.RunID)
	log.Info("launching stack")

	start := time.Now()
	err := l.up(ctx, opts, rep, rec)
	rep.Duration = time.Since(start)
	metrics.ObservePhase("launch", err == nil, rep.Duration.Seconds())
	if err != nil {
		log.Error("launch failed", "error", err, "elapsed", rep.Duration.Truncate(time.Millisecond))
		return rep, err
	}
	log.Info("stack is up", "elapsed", rep.Duration.Truncate(time.Millisecond))
	return rep, nil
}

func (l *Launcher) up(ctx context.Context, opts LaunchOptions, rep *LaunchReport, rec *history.Recorder) error {
	if err := l.d.requireCollaborators(); err != nil {
		return err
	}
	cfg := l.d.Config
	if err := cfg.EnsureDirs(); err != nil {
		return err
	}

	// Images
	refs, err := image.ParseRefs(cfg.Images.Refs)
	if err != nil {
		return err
	}
	rep.Images, err = l.d.Images.EnsureImages(ctx, refs)
	for _, r := range rep.Images {
		outcome := "present"
		if r.Pulled {
			outcome = "pulled"
		}
		rec.Record(ctx, "image", outcome, 0, r.Image, nil)
	}
	if err != nil {
		var pe *image.ProvisionError
		if errors.As(err, &pe) {
			rec.Record(ctx, "image", "failed", 0, pe.Image, err)
		}
		return err
	}

	// Infrastructure
	if err := l.d.Infra.Up(ctx); err != nil {
		rec.Record(ctx, "infra", "failed", 0, "", err)
		return err
	}
	for _, pc := range cfg.Infra.Probes {
		probe, err := buildProbe(pc, l.d.Infra)
		if err != nil {
			return err
		}
		if err := readiness.WaitUntilReady(ctx, probe, cfg.Infra.Poll, l.d.Logger); err != nil {
			rec.Record(ctx, "infra", "not_ready", 0, probe.Describe(), err)
			var te *readiness.TimeoutError
			if errors.As(err, &te) {
				return &InfraNotReadyError{Err: te}
			}
			return err
		}
		rep.Infra = append(rep.Infra, probe.Describe())
	}
	rec.Record(ctx, "infra", "ready", 0, "", nil)

	// Backend
	backend := cfg.BackendSpec()
	res, err := l.ensureProcess(backend)
	rep.Backend = res
	if err != nil {
		rec.Record(ctx, backend.Name, "failed", 0, "", err)
		return err
	}
	rec.Record(ctx, backend.Name, startedOutcome(res), res.PID, res.PIDFile, nil)
	if err := readiness.WaitUntilReady(ctx, l.d.Endpoint.HealthProbe(), cfg.Backend.Poll, l.d.Logger); err != nil {
		res.Error = err.Error()
		rec.Record(ctx, backend.Name, "not_ready", res.PID, l.d.Endpoint.HealthURL(), err)
		var te *readiness.TimeoutError
		if errors.As(err, &te) {
			return &NotReadyError{Component: backend.Name, PID: res.PID, PIDFile: res.PIDFile, LogFile: res.LogFile, Err: te}
		}
		return err
	}
	res.Ready = true
	rec.Record(ctx, backend.Name, "ready", res.PID, l.d.Endpoint.HealthURL(), nil)

	// Dashboard, best effort
	if opts.WithDashboard || cfg.Dashboard.Enabled {
		rep.Dashboard = l.launchDashboard(ctx, rec)
	}

	// Verification, best effort
	if opts.RunVerification {
		rep.Verification = l.verify(ctx, rec)
	}
	return ctx.Err()
}

// ensureProcess reuses a live process recorded in the spec's pid file, clears
// a stale one, and otherwise starts the process.
func (l *Launcher) ensureProcess(spec process.Spec) (*ProcessResult, error) {
	res := &ProcessResult{Name: spec.Name, PIDFile: spec.PIDFile, LogFile: spec.LogFile}
	log := l.d.Logger.With("component", spec.Name)

	rec, err := l.d.Supervisor.Inspect(spec.PIDFile)
	switch {
	case err != nil:
		log.Warn("unreadable pid file, removing", "pid_file", spec.PIDFile, "error", err)
		if err := process.RemovePIDFile(spec.PIDFile); err != nil {
			return res, fmt.Errorf("remove pid file: %w", err)
		}
	case rec.Alive:
		log.Info("already running, reusing", "pid", rec.PID)
		res.PID = rec.PID
		res.Reused = true
		return res, nil
	case rec.Exists:
		log.Info("removing stale pid file", "pid", rec.PID, "pid_file", spec.PIDFile)
		if err := process.RemovePIDFile(spec.PIDFile); err != nil {
			return res, fmt.Errorf("remove pid file: %w", err)
		}
	}

	mp, err := l.d.Supervisor.Start(spec)
	if err != nil {
		res.Error = err.Error()
		return res, err
	}
	res.PID = mp.PID
	return res, nil
}

func (l *Launcher) launchDashboard(ctx context.Context, rec *history.Recorder) *ProcessResult {
	cfg := l.d.Config
	spec := cfg.DashboardSpec()
	log := l.d.Logger.With("component", spec.Name)

	res, err := l.ensureProcess(spec)
	if err != nil {
		log.Warn("dashboard failed to start", "error", err)
		rec.Record(ctx, spec.Name, "failed", 0, "", err)
		return res
	}
	rec.Record(ctx, spec.Name, startedOutcome(res), res.PID, res.PIDFile, nil)
	if cfg.Dashboard.HealthURL == "" {
		return res
	}
	probe := readiness.HTTPProbe{URL: cfg.Dashboard.HealthURL}
	if err := readiness.WaitUntilReady(ctx, probe, cfg.Dashboard.Poll, l.d.Logger); err != nil {
		log.Warn("dashboard did not become ready", "error", err, "log_file", res.LogFile)
		res.Error = err.Error()
		rec.Record(ctx, spec.Name, "not_ready", res.PID, cfg.Dashboard.HealthURL, err)
		return res
	}
	res.Ready = true
	rec.Record(ctx, spec.Name, "ready", res.PID, cfg.Dashboard.HealthURL, nil)
	return res
}

func (l *Launcher) verify(ctx context.Context, rec *history.Recorder) *StepResult {
	cfg := l.d.Config
	spec := process.Spec{
		Name:    "verify",
		Command: cfg.Verify.Command,
		WorkDir: cfg.Verify.WorkDir,
	}
	if cfg.LogDir != "" {
		spec.LogFile = filepath.Join(cfg.LogDir, "verify.log")
	}
	if cfg.Verify.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Verify.Timeout)
		defer cancel()
	}
	res := &StepResult{LogFile: spec.LogFile}
	out, err := l.d.Supervisor.Run(ctx, spec)
	res.Detail = fmt.Sprintf("exit %d in %s", out.ExitCode, out.Duration.Truncate(time.Millisecond))
	if err != nil {
		l.d.Logger.Warn("verification failed", "error", err, "log_file", spec.LogFile)
		res.Error = err.Error()
		rec.Record(ctx, "verify", "failed", 0, res.Detail, err)
		return res
	}
	res.OK = true
	rec.Record(ctx, "verify", "passed", 0, res.Detail, nil)
	return res
}

func startedOutcome(r *ProcessResult) string {
	if r.Reused {
		return "reused"
	}
	return "started"
}
