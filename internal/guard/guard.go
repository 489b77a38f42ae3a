// Package guard implements the system-wide recording guard: a binary
// exclusive token shared by every component that may produce a recorded clip.
// At most one recording process runs at any instant, regardless of which
// trigger source won.
package guard

import (
	"sync"

	"github.com/fbirkner/nestcam/internal/metrics"
)

// Guard is the exclusive recording token. The zero value is ready to use.
// It is deliberately not a counting semaphore; there is exactly one token.
type Guard struct {
	mu    sync.Mutex
	held  bool
	owner string
}

// TryAcquire attempts a non-blocking acquire, recording the owner name for
// status reporting. Returns false when another owner holds the token.
func (g *Guard) TryAcquire(owner string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.held {
		return false
	}
	g.held = true
	g.owner = owner
	metrics.GuardHeld.Set(1)
	return true
}

// Release frees the token. Releasing an unheld guard is a no-op so deferred
// releases on every exit path stay safe.
func (g *Guard) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.held = false
	g.owner = ""
	metrics.GuardHeld.Set(0)
}

// Held reports whether the token is currently held.
func (g *Guard) Held() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held
}

// Owner returns the current holder's name, empty when free.
func (g *Guard) Owner() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.owner
}
