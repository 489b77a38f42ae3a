//go:build unix

package procrun

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

const termSignal = syscall.SIGTERM

// PIDAlive reports whether a process with the given PID currently exists.
func PIDAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	// Signal 0 performs the existence/permission check without delivering.
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}

// PIDCommand returns the short command name of a running process, used to
// validate that a PID recovered from a marker file still belongs to the
// program we launched. Empty string when unavailable.
func PIDCommand(pid int) string {
	if pid <= 0 {
		return ""
	}
	data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "comm"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
