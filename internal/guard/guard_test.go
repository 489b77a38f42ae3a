package guard

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAcquireReleaseCycle(t *testing.T) {
	var g Guard

	assert.False(t, g.Held())
	assert.True(t, g.TryAcquire("motion:framediff"))
	assert.True(t, g.Held())
	assert.Equal(t, "motion:framediff", g.Owner())

	assert.False(t, g.TryAcquire("manual"), "held token must not be granted twice")
	assert.Equal(t, "motion:framediff", g.Owner(), "failed acquire must not change the owner")

	g.Release()
	assert.False(t, g.Held())
	assert.Empty(t, g.Owner())
	assert.True(t, g.TryAcquire("manual"))
}

func TestConcurrentAcquireGrantsExactlyOne(t *testing.T) {
	var g Guard
	var wins atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.TryAcquire("contender") {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}
