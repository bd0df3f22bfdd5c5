//go:build windows

package detector

import (
	"context"
	"os/exec"
)

func getShellCommand(ctx context.Context, script string) *exec.Cmd {
	// #nosec G204
	return exec.CommandContext(ctx, "cmd", "/C", script)
}

func getTrueCommand(ctx context.Context) *exec.Cmd {
	return exec.CommandContext(ctx, "cmd", "/C", "exit 0")
}
