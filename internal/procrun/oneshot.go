package procrun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/fbirkner/nestcam/internal/log"
	"github.com/fbirkner/nestcam/internal/metrics"
	"github.com/fbirkner/nestcam/internal/procgroup"
)

// Result captures the outcome of a bounded one-shot command.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	TimedOut bool
}

// Run executes a command with a hard wall-clock timeout. On timeout the
// process group receives SIGTERM and, after a short grace, SIGKILL. The
// captured output is returned in every case so callers can inspect partial
// stderr after a failure.
func Run(ctx context.Context, component string, timeout time.Duration, bin string, args ...string) (Result, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, bin, args...) // #nosec G204 -- args are built internally
	procgroup.Set(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// exec.CommandContext only kills the leader; replace its cancel behaviour
	// with a group-wide terminate so ffmpeg children do not linger.
	cmd.Cancel = func() error {
		return procgroup.Kill(cmd, termSignal)
	}
	cmd.WaitDelay = 3 * time.Second

	logger := log.WithComponentFromContext(ctx, component)
	logger.Debug().Str("command", cmd.String()).Msg("running bounded command")

	if err := cmd.Start(); err != nil {
		metrics.ProcStartTotal.WithLabelValues(component, "error").Inc()
		return Result{ExitCode: -1}, fmt.Errorf("procrun: start %s: %w", bin, err)
	}
	metrics.ProcStartTotal.WithLabelValues(component, "ok").Inc()

	waitErr := cmd.Wait()

	res := Result{
		ExitCode: 0,
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
	}
	if runCtx.Err() == context.DeadlineExceeded {
		res.TimedOut = true
		if waitErr != nil {
			res.ExitCode = exitCodeOf(waitErr)
		}
		metrics.ProcExitTotal.WithLabelValues(component, "timeout").Inc()
		return res, fmt.Errorf("procrun: %s timed out after %s", bin, timeout)
	}
	if waitErr != nil {
		res.ExitCode = exitCodeOf(waitErr)
		metrics.ProcExitTotal.WithLabelValues(component, "error").Inc()
		return res, fmt.Errorf("procrun: %s exited: %w", bin, waitErr)
	}
	metrics.ProcExitTotal.WithLabelValues(component, "clean").Inc()
	return res, nil
}

func exitCodeOf(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}
