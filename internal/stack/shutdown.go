package stack

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/loykin/stackctl/internal/endpoint"
	"github.com/loykin/stackctl/internal/history"
	"github.com/loykin/stackctl/internal/metrics"
	"github.com/loykin/stackctl/internal/process"
)

const (
	ComponentStopEndpoint = "stop-endpoint"
	ComponentInfra        = "infra"
)

// ShutdownOptions select the optional teardown steps.
type ShutdownOptions struct {
	TeardownInfra bool
	RemoveVolumes bool
	// Grace overrides the configured grace periods when non-zero.
	Grace time.Duration
}

// Entry is the result of one shutdown step.
type Entry struct {
	Component string              `json:"component"`
	Outcome   process.StopOutcome `json:"outcome"`
	PID       int                 `json:"pid,omitempty"`
	Detail    string              `json:"detail,omitempty"`
	Error     string              `json:"error,omitempty"`
	Err       error               `json:"-"`
}

// ShutdownReport collects every step of a shutdown in order.
type ShutdownReport struct {
	RunID    string        `json:"run_id"`
	Entries  []Entry       `json:"entries"`
	Duration time.Duration `json:"duration"`
}

// Failed reports whether any step ended in the failed outcome.
func (r *ShutdownReport) Failed() bool {
	for _, e := range r.Entries {
		if e.Outcome == process.OutcomeFailed {
			return true
		}
	}
	return false
}

// Entry returns the entry for component, if present.
func (r *ShutdownReport) Entry(component string) (Entry, bool) {
	for _, e := range r.Entries {
		if e.Component == component {
			return e, true
		}
	}
	return Entry{}, false
}

// Err joins the errors of the failed entries.
func (r *ShutdownReport) Err() error {
	var errs []error
	for _, e := range r.Entries {
		if e.Outcome == process.OutcomeFailed && e.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Component, e.Err))
		}
	}
	return errors.Join(errs...)
}

// Coordinator stops everything the launcher started.
type Coordinator struct {
	d Deps
}

func NewCoordinator(d Deps) *Coordinator {
	d.defaults()
	return &Coordinator{d: d}
}

// Shutdown runs every stop step regardless of earlier failures and never
// returns an error; failures are recorded in the report.
func (c *Coordinator) Shutdown(ctx context.Context, opts ShutdownOptions) *ShutdownReport {
	rec := history.NewRecorder(c.d.Sink, history.PhaseShutdown, c.d.Logger)
	rep := &ShutdownReport{RunID: rec.RunID()}
	start := time.Now()
	cfg := c.d.Config

	add := func(e Entry) {
		if e.Err != nil {
			e.Error = e.Err.Error()
		}
		rep.Entries = append(rep.Entries, e)
		c.logEntry(rep.RunID, e)
		metrics.IncStopOutcome(e.Component, string(e.Outcome))
		rec.Record(ctx, e.Component, string(e.Outcome), e.PID, e.Detail, e.Err)
	}

	add(c.stopEndpoint(ctx))

	backend := cfg.BackendSpec()
	add(c.stopProcess(ctx, backend, cfg.Backend.Signature, c.grace(opts, cfg.Backend.GracePeriod), true))

	if cfg.Dashboard.Command != "" || cfg.Dashboard.Signature != "" {
		dash := cfg.DashboardSpec()
		add(c.stopProcess(ctx, dash, cfg.Dashboard.Signature, c.grace(opts, cfg.Dashboard.GracePeriod), false))
	}

	if opts.TeardownInfra {
		add(c.teardownInfra(ctx, opts.RemoveVolumes))
	}

	rep.Duration = time.Since(start)
	metrics.ObservePhase("shutdown", !rep.Failed(), rep.Duration.Seconds())
	return rep
}

func (c *Coordinator) grace(opts ShutdownOptions, configured time.Duration) time.Duration {
	if opts.Grace > 0 {
		return opts.Grace
	}
	return configured
}

func (c *Coordinator) stopEndpoint(ctx context.Context) Entry {
	e := Entry{Component: ComponentStopEndpoint}
	err := c.d.Endpoint.Stop(ctx)
	var unreachable *endpoint.UnreachableError
	var status *endpoint.StatusError
	switch {
	case err == nil:
		e.Outcome = process.OutcomeStopped
		e.Detail = "shutdown requested"
	case errors.As(err, &status):
		e.Outcome = process.OutcomeNotFound
		e.Detail = fmt.Sprintf("stop endpoint returned status %d", status.Code)
	case errors.As(err, &unreachable):
		e.Outcome = process.OutcomeAlreadyStopped
		e.Detail = "service may not be running"
	default:
		e.Outcome = process.OutcomeAlreadyStopped
		e.Detail = "service may not be running"
		e.Err = err
	}
	return e
}

// stopProcess stops spec via its pid file and then sweeps for signature.
// When always is false the pid-file stop only runs if the file exists.
func (c *Coordinator) stopProcess(ctx context.Context, spec process.Spec, signature string, grace time.Duration, always bool) Entry {
	e := Entry{Component: spec.Name, Outcome: process.OutcomeAlreadyStopped}

	if always || pidFileExists(spec.PIDFile) {
		if rec, err := c.d.Supervisor.Inspect(spec.PIDFile); err == nil {
			e.PID = rec.PID
		}
		out, err := c.d.Supervisor.Stop(spec.PIDFile, grace)
		e.Outcome = out
		e.Err = err
		e.Detail = "pid file " + spec.PIDFile
	}

	if signature == "" {
		return e
	}
	sw, err := c.d.Supervisor.Sweep(ctx, signature, grace)
	if err != nil {
		c.d.Logger.Warn("sweep failed", "component", spec.Name, "signature", signature, "error", err)
		return e
	}
	if !sw.Matched() {
		return e
	}
	if o := sw.Outcome(); o.Severity() > e.Outcome.Severity() {
		e.Outcome = o
		if o == process.OutcomeFailed && e.Err == nil {
			e.Err = fmt.Errorf("processes %v matching %q survived SIGKILL", sw.Failed, signature)
		}
	}
	e.Detail = fmt.Sprintf("%s; swept %d process(es) matching %q", e.Detail, len(sw.Terminated), signature)
	return e
}

func (c *Coordinator) teardownInfra(ctx context.Context, removeVolumes bool) Entry {
	e := Entry{Component: ComponentInfra}
	if c.d.Infra == nil {
		e.Outcome = process.OutcomeFailed
		e.Err = fmt.Errorf("%w: Infra", ErrMissingCollaborator)
		return e
	}
	running, err := c.d.Infra.Running(ctx)
	if err != nil {
		c.d.Logger.Warn("cannot list running services, tearing down anyway", "error", err)
	} else if len(running) == 0 {
		e.Outcome = process.OutcomeAlreadyStopped
		e.Detail = "no running services"
		return e
	}
	if err := c.d.Infra.Down(ctx, removeVolumes); err != nil {
		e.Outcome = process.OutcomeFailed
		e.Err = err
		return e
	}
	e.Outcome = process.OutcomeStopped
	e.Detail = fmt.Sprintf("services %v", running)
	if removeVolumes {
		e.Detail += ", volumes removed"
	}
	return e
}

func (c *Coordinator) logEntry(runID string, e Entry) {
	attrs := []any{"run_id", runID, "component", e.Component, "outcome", string(e.Outcome)}
	if e.PID > 0 {
		attrs = append(attrs, "pid", e.PID)
	}
	if e.Detail != "" {
		attrs = append(attrs, "detail", e.Detail)
	}
	if e.Err != nil {
		attrs = append(attrs, "error", e.Err)
	}
	switch e.Outcome {
	case process.OutcomeFailed:
		c.d.Logger.Error("shutdown step", attrs...)
	case process.OutcomeForceKilled:
		c.d.Logger.Warn("shutdown step", attrs...)
	default:
		c.d.Logger.Info("shutdown step", attrs...)
	}
}

func pidFileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
