//go:build !windows

package process

import "syscall"

// signalGroup delivers sig to the process group led by pid, falling back to
// the single pid when no such group exists.
func signalGroup(pid int, sig syscall.Signal) error {
	if err := syscall.Kill(-pid, sig); err == nil {
		return nil
	}
	return syscall.Kill(pid, sig)
}

func signalPID(pid int, sig syscall.Signal) error {
	return syscall.Kill(pid, sig)
}
