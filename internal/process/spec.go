package process

import (
	"errors"
	"os/exec"
	"strings"
	"time"
)

// Spec describes an owned long-running process.
type Spec struct {
	Name    string   `json:"name" mapstructure:"name"`
	Command string   `json:"command" mapstructure:"command"`   // command line; a shell is used only when needed
	WorkDir string   `json:"work_dir" mapstructure:"work_dir"` // optional working dir
	Env     []string `json:"env" mapstructure:"env"`           // extra KEY=VALUE pairs, highest precedence
	PIDFile string   `json:"pid_file" mapstructure:"pid_file"`
	LogFile string   `json:"log_file" mapstructure:"log_file"` // stdout and stderr are appended here
}

// ManagedProcess is the record of a started process.
type ManagedProcess struct {
	Name      string    `json:"name"`
	PID       int       `json:"pid"`
	PIDFile   string    `json:"pid_file"`
	LogFile   string    `json:"log_file"`
	StartedAt time.Time `json:"started_at"`
}

// Validate checks the fields Start cannot work without.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("process name is required")
	}
	if strings.TrimSpace(s.Command) == "" {
		return errors.New("process " + s.Name + ": command is required")
	}
	if strings.TrimSpace(s.PIDFile) == "" {
		return errors.New("process " + s.Name + ": pid file is required")
	}
	return nil
}

// BuildCommand constructs an *exec.Cmd for the spec's command line.
// Plain commands are executed directly. Commands carrying shell
// metacharacters, or an explicit "sh -c" prefix, run through /bin/sh once.
func (s Spec) BuildCommand() *exec.Cmd {
	cmdStr := strings.TrimSpace(s.Command)
	if cmdStr == "" {
		return noopCommand()
	}
	if script, ok := parseExplicitShell(cmdStr); ok {
		return shellCommand(script)
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		return shellCommand(cmdStr)
	}
	parts := strings.Fields(cmdStr)
	// #nosec G204
	return exec.Command(parts[0], parts[1:]...)
}

// parseExplicitShell recognises "sh -c <script>" at the start of cmdStr and
// returns the script with one pair of surrounding quotes removed.
func parseExplicitShell(cmdStr string) (string, bool) {
	for _, p := range []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "} {
		after, ok := strings.CutPrefix(cmdStr, p)
		if !ok {
			continue
		}
		if n := len(after); n >= 2 {
			if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
				after = after[1 : n-1]
			}
		}
		return after, true
	}
	return "", false
}
