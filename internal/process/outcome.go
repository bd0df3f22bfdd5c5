package process

import "fmt"

// StopOutcome reports what a stop request actually did.
type StopOutcome string

const (
	OutcomeStopped        StopOutcome = "stopped"
	OutcomeAlreadyStopped StopOutcome = "already_stopped"
	OutcomeNotFound       StopOutcome = "not_found"
	OutcomeForceKilled    StopOutcome = "force_killed"
	OutcomeFailed         StopOutcome = "failed"
)

// Severity orders outcomes so a component with several stop steps can keep
// the most significant one.
func (o StopOutcome) Severity() int {
	switch o {
	case OutcomeFailed:
		return 4
	case OutcomeForceKilled:
		return 3
	case OutcomeStopped:
		return 2
	case OutcomeNotFound:
		return 1
	}
	return 0
}

// StartError is returned when an owned process could not be launched.
type StartError struct {
	Name string
	Err  error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start %s: %v", e.Name, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// StopError means a process could not be confirmed dead. Its pid file is kept.
type StopError struct {
	PID     int
	PIDFile string
	Err     error
}

func (e *StopError) Error() string {
	return fmt.Sprintf("stop pid %d (%s): %v", e.PID, e.PIDFile, e.Err)
}

func (e *StopError) Unwrap() error { return e.Err }

func (e *StopError) Hints() []string {
	return []string{
		fmt.Sprintf("check the process manually: ps -p %d -o pid,stat,cmd", e.PID),
		fmt.Sprintf("kill it by hand and remove %s once it is gone", e.PIDFile),
	}
}
