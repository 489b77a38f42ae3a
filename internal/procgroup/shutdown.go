package procgroup

import (
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/fbirkner/nestcam/internal/metrics"
)

// Terminate attempts to gracefully stop a process group. It sends SIGTERM,
// waits for the process to exit via waitCh, and escalates to SIGKILL once the
// grace period elapses. waitCh is always drained; its error is returned.
// Safe to call on nil commands.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	if err := Kill(cmd, syscall.SIGTERM); err == nil {
		metrics.IncProcTerminate("SIGTERM", "sent")
	} else if alreadyGone(err) {
		metrics.IncProcTerminate("SIGTERM", "esrch")
	} else {
		metrics.IncProcTerminate("SIGTERM", "error")
	}

	select {
	case err := <-waitCh:
		if err == nil {
			metrics.ProcTerminateTotal.WithLabelValues("wait", "exit0").Inc()
		} else {
			metrics.ProcTerminateTotal.WithLabelValues("wait", "exit_nonzero").Inc()
		}
		return err
	case <-time.After(grace):
		if err := Kill(cmd, syscall.SIGKILL); err == nil {
			metrics.IncProcTerminate("SIGKILL", "sent")
		} else if alreadyGone(err) {
			metrics.IncProcTerminate("SIGKILL", "esrch")
		} else {
			metrics.IncProcTerminate("SIGKILL", "error")
		}

		// SIGKILL frees a blocked Wait; drain it regardless.
		err := <-waitCh
		if err == nil {
			metrics.ProcTerminateTotal.WithLabelValues("wait", "forced_exit0").Inc()
		} else {
			metrics.ProcTerminateTotal.WithLabelValues("wait", "forced_error").Inc()
		}
		return err
	}
}

func alreadyGone(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "process already finished") ||
		strings.Contains(err.Error(), "no such process")
}
