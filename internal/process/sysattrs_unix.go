//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// detach starts the child in a new session so it leaves the controlling
// terminal, outlives stackctl, and leads its own process group.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
