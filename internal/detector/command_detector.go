package detector

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"
)

// CommandDetector runs a command that should succeed if the process is running.
// A zero Timeout leaves the command unbounded except by the caller's context.
type CommandDetector struct {
	Command string
	Timeout time.Duration
}

// buildShellAwareCommand constructs an *exec.Cmd for a detector command.
// Avoids invoking a shell unless obvious shell metacharacters are present (G204 mitigation).
func buildShellAwareCommand(ctx context.Context, cmdStr string) *exec.Cmd {
	cmdStr = strings.TrimSpace(cmdStr)
	if cmdStr == "" {
		return getTrueCommand(ctx)
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		return getShellCommand(ctx, cmdStr)
	}
	parts := strings.Fields(cmdStr)
	// #nosec G204
	return exec.CommandContext(ctx, parts[0], parts[1:]...)
}

func (d CommandDetector) Alive() (bool, error) {
	return d.AliveContext(context.Background())
}

// AliveContext is Alive bounded by ctx and the detector Timeout.
// A non-zero exit means not alive; failing to run the command at all is an error.
func (d CommandDetector) AliveContext(ctx context.Context) (bool, error) {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}
	cmd := buildShellAwareCommand(ctx, d.Command)
	cmd.Stdout = nil
	cmd.Stderr = nil
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return false, nil
	}
	return false, err
}

func (d CommandDetector) Describe() string { return "cmd:" + d.Command }
