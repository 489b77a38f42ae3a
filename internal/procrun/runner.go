// Package procrun supervises single external commands: start, non-blocking
// liveness polls, graceful termination with forced-kill escalation, and
// capture of the last stderr lines. It is the leaf every pipeline, motion and
// recording component builds on.
package procrun

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/fbirkner/nestcam/internal/log"
	"github.com/fbirkner/nestcam/internal/metrics"
	"github.com/fbirkner/nestcam/internal/procgroup"
)

// ErrNotStarted is returned by Wait and Stop when Start was never called.
var ErrNotStarted = errors.New("procrun: process not started")

// Runner manages one external process from start to exit.
type Runner struct {
	component string
	bin       string
	args      []string

	ring *LineRing

	mu       sync.Mutex
	cmd      *exec.Cmd
	started  time.Time
	waitCh   chan error
	exited   bool
	exitErr  error
	ioWg     sync.WaitGroup
	grace    time.Duration
}

// New creates a runner for the given command. The component name is used for
// log and metric labels only.
func New(component, bin string, args ...string) *Runner {
	return &Runner{
		component: component,
		bin:       bin,
		args:      args,
		ring:      NewLineRing(256),
		grace:     5 * time.Second,
	}
}

// SetGrace overrides the SIGTERM grace period used by Stop.
func (r *Runner) SetGrace(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d > 0 {
		r.grace = d
	}
}

// Start launches the process in its own process group and begins draining
// stderr into the line ring. It returns once the process is spawned.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cmd != nil {
		return fmt.Errorf("procrun: %s already started", r.component)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	cmd := exec.CommandContext(ctx, r.bin, r.args...) // #nosec G204 -- args are built internally
	procgroup.Set(cmd)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		metrics.ProcStartTotal.WithLabelValues(r.component, "error").Inc()
		return fmt.Errorf("procrun: stderr pipe: %w", err)
	}

	logger := log.WithComponentFromContext(ctx, r.component)
	logger.Info().Str("command", cmd.String()).Msg("starting process")

	if err := cmd.Start(); err != nil {
		metrics.ProcStartTotal.WithLabelValues(r.component, "error").Inc()
		return fmt.Errorf("procrun: start %s: %w", r.bin, err)
	}
	metrics.ProcStartTotal.WithLabelValues(r.component, "ok").Inc()

	r.cmd = cmd
	r.started = time.Now()
	r.waitCh = make(chan error, 1)

	r.ioWg.Add(1)
	go func() {
		defer r.ioWg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			_, _ = r.ring.Write(scanner.Bytes())
			_, _ = r.ring.Write([]byte("\n"))
		}
	}()

	go func() {
		err := cmd.Wait()
		r.ioWg.Wait()

		r.mu.Lock()
		r.exited = true
		r.exitErr = err
		r.mu.Unlock()

		reason := "clean"
		if err != nil {
			reason = "error"
		}
		metrics.ProcExitTotal.WithLabelValues(r.component, reason).Inc()

		r.waitCh <- err
		close(r.waitCh)
	}()

	return nil
}

// PID returns the process ID, or 0 when not started.
func (r *Runner) PID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd == nil || r.cmd.Process == nil {
		return 0
	}
	return r.cmd.Process.Pid
}

// Alive reports whether the process was started and has not yet exited.
// It never blocks.
func (r *Runner) Alive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cmd != nil && !r.exited
}

// StartedAt returns the spawn time, zero when not started.
func (r *Runner) StartedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

// Wait blocks until the process exits or ctx is cancelled. The process itself
// is not signalled on cancellation; callers use Stop for that.
func (r *Runner) Wait(ctx context.Context) error {
	r.mu.Lock()
	ch := r.waitCh
	r.mu.Unlock()
	if ch == nil {
		return ErrNotStarted
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err, ok := <-ch:
		if !ok {
			r.mu.Lock()
			defer r.mu.Unlock()
			return r.exitErr
		}
		return err
	}
}

// Stop terminates the process group with SIGTERM, escalating to SIGKILL after
// the grace period. Returns the process exit error, nil for a clean exit.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	cmd := r.cmd
	ch := r.waitCh
	grace := r.grace
	exited := r.exited
	r.mu.Unlock()

	if cmd == nil {
		return ErrNotStarted
	}
	if exited {
		return nil
	}

	logger := log.WithComponentFromContext(ctx, r.component)
	logger.Debug().Int("pid", cmd.Process.Pid).Msg("stopping process group")

	return procgroup.Terminate(cmd, ch, grace)
}

// ExitCode returns the recorded exit code once the process has exited.
// Returns -1 while running or before start.
func (r *Runner) ExitCode() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.exited {
		return -1
	}
	if r.exitErr == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(r.exitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}

// LastLogLines returns the newest n captured stderr lines.
func (r *Runner) LastLogLines(n int) []string {
	return r.ring.LastN(n)
}
