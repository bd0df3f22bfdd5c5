// Package history journals launch and shutdown outcomes to an external store.
// Journaling is best effort: a failing sink is logged and never changes the
// result of the operation being recorded.
package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Phase is the operation an event belongs to.
type Phase string

const (
	PhaseLaunch   Phase = "launch"
	PhaseShutdown Phase = "shutdown"
)

// Event is one component outcome within a run.
type Event struct {
	RunID      string    `json:"run_id"`
	Phase      Phase     `json:"phase"`
	Component  string    `json:"component"`
	Outcome    string    `json:"outcome"`
	PID        int       `json:"pid,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}

// Nop discards events.
type Nop struct{}

func (Nop) Send(context.Context, Event) error { return nil }
func (Nop) Close() error                      { return nil }

// Recorder stamps events with a run id and phase before handing them to a sink.
type Recorder struct {
	sink   Sink
	runID  string
	phase  Phase
	logger *slog.Logger
	now    func() time.Time
}

// NewRecorder starts a new run. A nil sink records nothing.
func NewRecorder(sink Sink, phase Phase, logger *slog.Logger) *Recorder {
	if sink == nil {
		sink = Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{sink: sink, runID: uuid.NewString(), phase: phase, logger: logger, now: time.Now}
}

func (r *Recorder) RunID() string { return r.runID }

// Record sends one event. Sink errors are logged and swallowed.
func (r *Recorder) Record(ctx context.Context, component, outcome string, pid int, detail string, err error) {
	e := Event{
		RunID:      r.runID,
		Phase:      r.phase,
		Component:  component,
		Outcome:    outcome,
		PID:        pid,
		Detail:     detail,
		OccurredAt: r.now().UTC(),
	}
	if err != nil {
		e.Error = err.Error()
	}
	if serr := r.sink.Send(ctx, e); serr != nil {
		r.logger.Warn("history sink failed", "component", component, "error", serr)
	}
}
