package stack

import (
	"fmt"

	"github.com/loykin/stackctl/internal/readiness"
)

// NotReadyError reports an owned process that started but never became
// healthy. The process and its pid file are left in place.
type NotReadyError struct {
	Component string
	PID       int
	PIDFile   string
	LogFile   string
	Err       *readiness.TimeoutError
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("%s (pid %d) did not become ready: %v", e.Component, e.PID, e.Err)
}

func (e *NotReadyError) Unwrap() error { return e.Err }

func (e *NotReadyError) Hints() []string {
	var hints []string
	if e.LogFile != "" {
		hints = append(hints, "check the "+e.Component+" log: tail -n 100 "+e.LogFile)
	}
	hints = append(hints,
		"the process was left running for diagnosis (pid file "+e.PIDFile+")",
		"stop everything with: stackctl down",
	)
	return hints
}

// InfraNotReadyError reports a store whose readiness check never passed.
type InfraNotReadyError struct {
	Err *readiness.TimeoutError
}

func (e *InfraNotReadyError) Error() string {
	return "infrastructure not ready: " + e.Err.Error()
}

func (e *InfraNotReadyError) Unwrap() error { return e.Err }

func (e *InfraNotReadyError) Hints() []string {
	return []string{
		"inspect container state: docker compose ps",
		"inspect container output: docker compose logs",
		"raise infra.poll.max_iterations if the stores are just slow to start",
	}
}
