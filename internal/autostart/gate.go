// Package autostart implements the "first one wins" startup gate: an
// advisory file lock on a well-known path that lets exactly one daemon
// instance proceed. The kernel drops the lock with its holder, so a crashed
// instance never blocks the next start; its leftover file is reclaimed when
// older than the staleness age.
package autostart

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
)

// DefaultStaleAge is the age past which a leftover lock file from a dead
// holder is reported as reclaimed.
const DefaultStaleAge = time.Hour

// Gate is the cross-process startup gate.
type Gate struct {
	logger   zerolog.Logger
	path     string
	staleAge time.Duration
	lock     *flock.Flock
}

// New creates a gate on path. staleAge <= 0 selects DefaultStaleAge.
func New(logger zerolog.Logger, path string, staleAge time.Duration) *Gate {
	if staleAge <= 0 {
		staleAge = DefaultStaleAge
	}
	return &Gate{
		logger:   logger,
		path:     path,
		staleAge: staleAge,
		lock:     flock.New(path),
	}
}

// Acquire attempts to take the gate without blocking. At most one process
// system-wide gets true; a false with nil error means another live instance
// holds the gate. The lock file must never be removed while another process
// may hold it, so reclaim happens only after the lock is won.
func (g *Gate) Acquire(ctx context.Context) (bool, error) {
	leftoverAge := g.leftoverAge()

	ok, err := g.lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("autostart: acquire gate %s: %w", g.path, err)
	}
	if !ok {
		g.logger.Info().
			Str("path", g.path).
			Msg("startup gate held by another instance")
		return false, nil
	}

	if leftoverAge > g.staleAge {
		g.logger.Warn().
			Str("path", g.path).
			Dur("age", leftoverAge).
			Msg("reclaimed stale startup gate file from a dead instance")
	}
	// Refresh the file so its age tracks the current holder.
	now := time.Now()
	_ = os.Chtimes(g.path, now, now)

	g.logger.Debug().Str("path", g.path).Msg("startup gate acquired")
	return true, nil
}

// Release frees the gate and removes the lock file.
func (g *Gate) Release() {
	if err := g.lock.Unlock(); err != nil {
		g.logger.Warn().Err(err).Msg("releasing startup gate failed")
	}
	_ = os.Remove(g.path)
}

func (g *Gate) leftoverAge() time.Duration {
	fi, err := os.Stat(g.path)
	if err != nil {
		return 0
	}
	return time.Since(fi.ModTime())
}
