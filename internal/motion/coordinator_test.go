package motion

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fbirkner/nestcam/internal/guard"
	"github.com/fbirkner/nestcam/internal/media"
	"github.com/fbirkner/nestcam/internal/metrics"
	"github.com/fbirkner/nestcam/internal/sensor"
	"github.com/fbirkner/nestcam/internal/settings"
)

// scriptedSource yields frames from a user function.
type scriptedSource struct {
	next   func(ctx context.Context) ([]uint8, error)
	closed atomic.Bool
}

func (s *scriptedSource) Next(ctx context.Context) ([]uint8, error) { return s.next(ctx) }
func (s *scriptedSource) Close() error                              { s.closed.Store(true); return nil }

// quietSource yields flat frames at a slow cadence, never signalling motion.
func quietSource() *scriptedSource {
	frame := make([]uint8, sampleWidth*sampleHeight)
	return &scriptedSource{next: func(ctx context.Context) ([]uint8, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
			return frame, nil
		}
	}}
}

type fakeLine struct {
	mu     sync.Mutex
	reads  []bool
	closed bool
}

func (l *fakeLine) Available() bool { return true }
func (l *fakeLine) Read() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.reads) == 0 {
		return false, nil
	}
	v := l.reads[0]
	l.reads = l.reads[1:]
	return v, nil
}
func (l *fakeLine) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func newTestCoordinator(t *testing.T, opener SourceOpener, line sensor.Line) *Coordinator {
	t.Helper()
	c := New(Config{
		Logger:     zerolog.Nop(),
		Loader:     settings.NewLoader(nil),
		Guard:      &guard.Guard{},
		Layout:     media.Layout{Root: t.TempDir()},
		FFmpegBin:  "/nonexistent/ffmpeg",
		FFprobeBin: "/nonexistent/ffprobe",
		OpenSource: opener,
		OpenSensor: func(int) sensor.Line { return line },
	})
	c.retryBackoff = time.Millisecond
	return c
}

func acceptedCount(source string) float64 {
	return testutil.ToFloat64(metrics.MotionTriggerTotal.WithLabelValues(source, "accepted"))
}

func TestStartFailsWithoutTriggerSources(t *testing.T) {
	t.Setenv(settings.KeyMotionEnabled, "0")

	c := newTestCoordinator(t, nil, nil)
	err := c.Start(context.Background())
	require.ErrorIs(t, err, ErrNoTriggerEnabled)
	assert.Equal(t, StateStopped, c.Status().State)
}

func TestStartTwiceReturnsAlreadyRunning(t *testing.T) {
	t.Setenv(settings.KeyMotionFramediffEnabled, "1")
	t.Setenv(settings.KeyMotionSensorEnabled, "0")

	opener := func(ctx context.Context, source string) (FrameSource, error) {
		return quietSource(), nil
	}
	c := newTestCoordinator(t, opener, nil)

	require.NoError(t, c.Start(context.Background()))
	defer c.Stop(context.Background())

	assert.ErrorIs(t, c.Start(context.Background()), ErrAlreadyRunning)
	assert.Equal(t, StateRunning, c.Status().State)
}

func TestStopIsIdempotent(t *testing.T) {
	c := newTestCoordinator(t, nil, nil)
	require.NoError(t, c.Stop(context.Background()))
	require.NoError(t, c.Stop(context.Background()))
}

func TestTriggerCooldownSharedAcrossSources(t *testing.T) {
	c := newTestCoordinator(t, nil, nil)
	snap := settings.FromMap(map[string]string{
		settings.KeyMotionCooldownS: "3600",
		settings.KeyMotionDurationS: "1",
	})

	before := acceptedCount("framediff")
	c.triggerRecording(context.Background(), "framediff", nil, snap)
	c.DrainRecordings()
	assert.Equal(t, before+1, acceptedCount("framediff"))

	// The other source is inside the shared cooldown window.
	sensorBefore := acceptedCount("sensor")
	c.triggerRecording(context.Background(), "sensor", nil, snap)
	c.DrainRecordings()
	assert.Equal(t, sensorBefore, acceptedCount("sensor"))
	assert.False(t, c.guard.Held())
}

func TestTriggerIgnoredWhileGuardHeld(t *testing.T) {
	c := newTestCoordinator(t, nil, nil)
	snap := settings.FromMap(map[string]string{settings.KeyMotionCooldownS: "0"})

	require.True(t, c.guard.TryAcquire("manual"))
	defer c.guard.Release()

	before := acceptedCount("framediff")
	c.triggerRecording(context.Background(), "framediff", nil, snap)
	c.DrainRecordings()

	assert.Equal(t, before, acceptedCount("framediff"))
	assert.Equal(t, "manual", c.guard.Owner())
	assert.True(t, c.Status().LastTrigger == nil, "losing trigger must not record a trigger time")
}

func TestConcurrentTriggersExactlyOneWins(t *testing.T) {
	c := newTestCoordinator(t, nil, nil)
	snap := settings.FromMap(map[string]string{
		settings.KeyMotionCooldownS: "3600",
		settings.KeyMotionDurationS: "1",
	})

	frameBefore := acceptedCount("framediff")
	sensorBefore := acceptedCount("sensor")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		source := "framediff"
		if i%2 == 1 {
			source = "sensor"
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.triggerRecording(context.Background(), source, nil, snap)
		}()
	}
	wg.Wait()
	c.DrainRecordings()

	won := (acceptedCount("framediff") - frameBefore) + (acceptedCount("sensor") - sensorBefore)
	assert.Equal(t, float64(1), won)
	assert.False(t, c.guard.Held())
}

func TestFrameLoopStopsAfterFailedReconnect(t *testing.T) {
	t.Setenv(settings.KeyMotionFramediffEnabled, "1")
	t.Setenv(settings.KeyMotionSensorEnabled, "0")

	frame := make([]uint8, sampleWidth*sampleHeight)
	var opens atomic.Int32
	opener := func(ctx context.Context, source string) (FrameSource, error) {
		if opens.Add(1) > 1 {
			return nil, errors.New("transport gone")
		}
		first := true
		return &scriptedSource{next: func(ctx context.Context) ([]uint8, error) {
			if first {
				first = false
				return frame, nil
			}
			return nil, errors.New("read failed")
		}}, nil
	}

	c := New(Config{
		Logger:          zerolog.Nop(),
		Loader:          settings.NewLoader(nil),
		Guard:           &guard.Guard{},
		Layout:          media.Layout{Root: t.TempDir()},
		FFmpegBin:       "/nonexistent/ffmpeg",
		OpenSource:      opener,
		MaxReadFailures: 2,
	})
	c.retryBackoff = time.Millisecond

	require.NoError(t, c.Start(context.Background()))

	assert.Eventually(t, func() bool {
		return c.Status().State == StateStopped
	}, 10*time.Second, 20*time.Millisecond, "coordinator should stop itself after a failed reconnect")
	assert.GreaterOrEqual(t, opens.Load(), int32(2), "exactly one reconnect attempt expected")
}

func TestSensorTriggerFlow(t *testing.T) {
	t.Setenv(settings.KeyMotionFramediffEnabled, "0")
	t.Setenv(settings.KeyMotionSensorEnabled, "1")
	t.Setenv(settings.KeyMotionDurationS, "1")

	line := &fakeLine{reads: []bool{false, true}}
	c := newTestCoordinator(t, nil, line)

	before := acceptedCount("sensor")
	require.NoError(t, c.Start(context.Background()))

	st := c.Status()
	assert.True(t, st.SensorTrigger)
	assert.True(t, st.SensorAvailable)
	assert.False(t, st.FrameTrigger)

	assert.Eventually(t, func() bool {
		return acceptedCount("sensor") > before
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, c.Stop(context.Background()))
	c.DrainRecordings()

	line.mu.Lock()
	closed := line.closed
	line.mu.Unlock()
	assert.True(t, closed, "sensor line must be released on stop")
}

func TestRecordingNonZeroExitClassified(t *testing.T) {
	dir := t.TempDir()
	stub := filepath.Join(dir, "ffmpeg")
	// Writes the output file (last argument), complains, exits non-zero.
	script := "#!/bin/sh\nfor a; do out=$a; done\n: > \"$out\"\necho boom >&2\nexit 3\n"
	require.NoError(t, os.WriteFile(stub, []byte(script), 0o755))

	catalog, err := media.NewCatalog(filepath.Join(dir, "media.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = catalog.Close() })

	c := New(Config{
		Logger:     zerolog.Nop(),
		Loader:     settings.NewLoader(nil),
		Guard:      &guard.Guard{},
		Layout:     media.Layout{Root: t.TempDir()},
		Catalog:    catalog,
		FFmpegBin:  stub,
		FFprobeBin: "/nonexistent/ffprobe",
	})
	snap := settings.FromMap(map[string]string{
		settings.KeyMotionCooldownS: "0",
		settings.KeyMotionDurationS: "1",
	})

	before := testutil.ToFloat64(metrics.RecordingTotal.WithLabelValues("motion", "ffmpeg_error"))
	c.triggerRecording(context.Background(), "framediff", nil, snap)
	c.DrainRecordings()

	assert.Equal(t, before+1,
		testutil.ToFloat64(metrics.RecordingTotal.WithLabelValues("motion", "ffmpeg_error")))
}
