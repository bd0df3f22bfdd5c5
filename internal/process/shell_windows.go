//go:build windows

package process

import "os/exec"

func shellCommand(script string) *exec.Cmd {
	// #nosec G204
	return exec.Command("cmd", "/c", script)
}

func noopCommand() *exec.Cmd {
	return exec.Command("cmd", "/c", "rem")
}
