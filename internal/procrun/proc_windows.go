//go:build windows

package procrun

import (
	"os"
	"syscall"
)

const termSignal = syscall.SIGTERM

// PIDAlive reports whether a process with the given PID currently exists.
func PIDAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	_, err := os.FindProcess(pid)
	return err == nil
}

// PIDCommand is unavailable on Windows; attach validation always fails and
// the supervisor launches a fresh process instead.
func PIDCommand(pid int) string {
	return ""
}
