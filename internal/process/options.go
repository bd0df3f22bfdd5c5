package process

import (
	"time"

	"github.com/loykin/stackctl/internal/env"
)

const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultKillWait     = 2 * time.Second
)

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithEnv sets the shared environment layered under each Spec.Env.
func WithEnv(e *env.Env) Option {
	return func(s *Supervisor) {
		if e != nil {
			s.env = e
		}
	}
}

// WithPollInterval sets how often liveness is re-checked while stopping.
func WithPollInterval(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithKillWait bounds how long a SIGKILLed process may take to disappear.
func WithKillWait(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.killWait = d
		}
	}
}
