//go:build windows

package process

import (
	"os"
	"syscall"
)

// Windows has no signals; any request terminates the process.
func signalGroup(pid int, sig syscall.Signal) error {
	return signalPID(pid, sig)
}

func signalPID(pid int, _ syscall.Signal) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}
