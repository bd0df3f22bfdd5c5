// Package readiness polls probes until a dependency reports ready or a bounded
// number of attempts is used up.
package readiness

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loykin/stackctl/internal/metrics"
)

// Probe checks a dependency once. A nil error means ready; any error means
// "not yet" and is kept as the last failure reason.
type Probe interface {
	Ready(ctx context.Context) error
	Describe() string
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc struct {
	Name string
	Fn   func(ctx context.Context) error
}

func (p ProbeFunc) Ready(ctx context.Context) error { return p.Fn(ctx) }
func (p ProbeFunc) Describe() string                { return p.Name }

// PollPolicy bounds a wait: at most MaxIterations probe invocations with
// Interval between them.
type PollPolicy struct {
	MaxIterations int           `mapstructure:"max_iterations"`
	Interval      time.Duration `mapstructure:"interval"`
}

// Budget is the longest a wait can take, ignoring probe execution time.
func (p PollPolicy) Budget() time.Duration {
	if p.MaxIterations <= 1 {
		return 0
	}
	return time.Duration(p.MaxIterations-1) * p.Interval
}

// TimeoutError is returned when every iteration failed.
type TimeoutError struct {
	Probe      string
	Iterations int
	Elapsed    time.Duration
	LastErr    error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s not ready after %d checks (%s): %v", e.Probe, e.Iterations, e.Elapsed.Truncate(time.Millisecond), e.LastErr)
}

func (e *TimeoutError) Unwrap() error { return e.LastErr }

// WaitUntilReady invokes probe up to policy.MaxIterations times, sleeping
// policy.Interval between failed attempts but not after the last one.
// It returns nil on the first success, ctx's error if ctx ends first, and
// a *TimeoutError otherwise.
func WaitUntilReady(ctx context.Context, probe Probe, policy PollPolicy, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	n := policy.MaxIterations
	if n < 1 {
		n = 1
	}
	name := probe.Describe()
	log := logger.With("probe", name)
	start := time.Now()

	var lastErr error
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = probe.Ready(ctx)
		metrics.IncReadinessPoll(name, lastErr == nil)
		if lastErr == nil {
			log.Info("ready", "attempt", i, "elapsed", time.Since(start).Truncate(time.Millisecond))
			metrics.ObserveReadinessWait(name, true, time.Since(start).Seconds())
			return nil
		}
		log.Debug("not ready yet", "attempt", i, "of", n, "error", lastErr)
		if i == n {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(policy.Interval):
		}
	}
	elapsed := time.Since(start)
	metrics.ObserveReadinessWait(name, false, elapsed.Seconds())
	return &TimeoutError{Probe: name, Iterations: n, Elapsed: elapsed, LastErr: lastErr}
}
