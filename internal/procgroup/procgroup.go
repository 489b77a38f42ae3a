// Package procgroup spawns external commands in their own process group and
// tears the whole group down with SIGTERM -> grace -> SIGKILL escalation.
// ffmpeg forks helpers on some inputs; killing only the leader leaks them.
package procgroup

import (
	"errors"
	"os/exec"
	"time"
)

var (
	ErrProcessNotFound = errors.New("process not found")
	ErrKillFailed      = errors.New("kill operation failed")
)

// Set configures the command to start in a new process group.
// Required for KillGroup and Kill to reap the full process tree.
func Set(cmd *exec.Cmd) {
	set(cmd)
}

// KillGroup terminates an entire process group by leader PID.
// The process must have been spawned with Set.
func KillGroup(pid int, grace, timeout time.Duration) error {
	return killGroup(pid, grace, timeout)
}
