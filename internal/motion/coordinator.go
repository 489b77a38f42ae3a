// Package motion runs the two motion trigger loops (frame differencing over
// the shared transport and the optional PIR sensor), fans their events into a
// single cooldown-and-guard gate, and records bounded clips when a trigger
// wins. At most one recording runs system-wide; the recording guard and a
// shared cooldown are the only cross-trigger coordination.
package motion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fbirkner/nestcam/internal/guard"
	"github.com/fbirkner/nestcam/internal/media"
	"github.com/fbirkner/nestcam/internal/metrics"
	"github.com/fbirkner/nestcam/internal/sensor"
	"github.com/fbirkner/nestcam/internal/settings"
)

// Coordinator states.
type State string

const (
	StateStopped  State = "STOPPED"
	StateStarting State = "STARTING"
	StateRunning  State = "RUNNING"
	StateStopping State = "STOPPING"
)

var (
	// ErrNoTriggerEnabled means neither frame differencing nor the sensor
	// is enabled in settings; there is nothing to run.
	ErrNoTriggerEnabled = errors.New("motion: no trigger source enabled")
	// ErrAlreadyRunning is returned by Start while detection is active.
	ErrAlreadyRunning = errors.New("motion: detection already running")
)

const (
	defaultMaxReadFailures = 10
	readFailureBackoff     = 200 * time.Millisecond

	sensorPollInterval = 400 * time.Millisecond
	sensorDebounce     = 2 * time.Second

	// Recording gets this much wall clock beyond the requested duration
	// before the process is killed.
	recordTimeoutSlack = 15 * time.Second

	transportRetries    = 5
	transportBackoffMax = 30 * time.Second
	firstFrameTimeout   = 15 * time.Second

	stopJoinTimeout = 5 * time.Second
)

// Status is the externally visible detection state.
type Status struct {
	State           State      `json:"state"`
	FrameTrigger    bool       `json:"frame_trigger"`
	SensorTrigger   bool       `json:"sensor_trigger"`
	SensorAvailable bool       `json:"sensor_available"`
	Recording       bool       `json:"recording"`
	LastTrigger     *time.Time `json:"last_trigger,omitempty"`
}

// Config carries the coordinator's collaborators.
type Config struct {
	Logger     zerolog.Logger
	Loader     *settings.Loader
	Store      *settings.Store
	Catalog    *media.Catalog
	Layout     media.Layout
	Guard      *guard.Guard
	FFmpegBin  string
	FFprobeBin string

	// OpenSource overrides the ffmpeg sampler, for tests. Nil selects
	// OpenSampler with FFmpegBin.
	OpenSource SourceOpener
	// OpenSensor overrides hardware line resolution, for tests.
	OpenSensor func(pin int) sensor.Line
	// MaxReadFailures is the consecutive-failure count that forces a
	// reconnect. Zero selects the default of 10.
	MaxReadFailures int
}

// Coordinator is the motion trigger fan-in. All exported methods are safe
// for concurrent use and non-blocking apart from Stop's bounded join.
type Coordinator struct {
	logger     zerolog.Logger
	loader     *settings.Loader
	store      *settings.Store
	catalog    *media.Catalog
	layout     media.Layout
	guard      *guard.Guard
	ffmpegBin  string
	ffprobeBin string

	openSource   SourceOpener
	openSensor   func(pin int) sensor.Line
	maxFailures  int
	retryBackoff time.Duration

	mu            sync.Mutex
	state         State
	cancel        context.CancelFunc
	frameEnabled  bool
	sensorEnabled bool
	sensorAvail   bool
	recording     bool
	lastTrigger   time.Time

	loopWg sync.WaitGroup
	recWg  sync.WaitGroup
}

// New creates a stopped coordinator.
func New(cfg Config) *Coordinator {
	c := &Coordinator{
		logger:      cfg.Logger,
		loader:      cfg.Loader,
		store:       cfg.Store,
		catalog:     cfg.Catalog,
		layout:      cfg.Layout,
		guard:       cfg.Guard,
		ffmpegBin:   cfg.FFmpegBin,
		ffprobeBin:  cfg.FFprobeBin,
		openSource:  cfg.OpenSource,
		openSensor:  cfg.OpenSensor,
		maxFailures: cfg.MaxReadFailures,
		state:       StateStopped,
	}
	if c.openSource == nil {
		c.openSource = func(ctx context.Context, source string) (FrameSource, error) {
			return OpenSampler(ctx, c.ffmpegBin, source)
		}
	}
	if c.openSensor == nil {
		c.openSensor = sensor.Open
	}
	if c.maxFailures <= 0 {
		c.maxFailures = defaultMaxReadFailures
	}
	c.retryBackoff = time.Second
	return c
}

// Start loads settings and launches the enabled trigger loops. Fails with
// ErrNoTriggerEnabled when both trigger sources are off, ErrAlreadyRunning
// when detection is not fully stopped.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateStopped {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.state = StateStarting
	c.mu.Unlock()

	snap, err := c.loader.Snapshot(ctx)
	if err != nil {
		c.setState(StateStopped)
		return fmt.Errorf("motion: load settings: %w", err)
	}

	master := snap.Bool(settings.KeyMotionEnabled, true)
	frameEnabled := master && snap.Bool(settings.KeyMotionFramediffEnabled, true)
	sensorEnabled := master && snap.Bool(settings.KeyMotionSensorEnabled, false)
	if !frameEnabled && !sensorEnabled {
		c.setState(StateStopped)
		return ErrNoTriggerEnabled
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	c.mu.Lock()
	c.cancel = cancel
	c.frameEnabled = frameEnabled
	c.sensorEnabled = sensorEnabled
	c.sensorAvail = false

	if frameEnabled {
		c.loopWg.Add(1)
		go c.frameLoop(runCtx, snap)
	}
	if sensorEnabled {
		line := c.openSensor(snap.Int(settings.KeyMotionSensorPin, 22))
		c.sensorAvail = line.Available()
		c.loopWg.Add(1)
		go c.sensorLoop(runCtx, line, snap)
	}
	c.state = StateRunning
	c.mu.Unlock()

	c.persistDesiredState(ctx, true)
	c.logger.Info().
		Str("event", "motion.start").
		Bool("frame_trigger", frameEnabled).
		Bool("sensor_trigger", sensorEnabled).
		Msg("motion detection started")
	return nil
}

// Stop signals the trigger loops and joins them with a bounded timeout.
// An in-flight recording is not interrupted; its own timeout bounds it.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateStopped || c.state == StateStopping {
		c.mu.Unlock()
		return nil
	}
	c.state = StateStopping
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		c.loopWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopJoinTimeout):
		c.logger.Warn().Msg("motion loops did not stop within join timeout")
	case <-ctx.Done():
	}

	c.setState(StateStopped)
	c.persistDesiredState(ctx, false)
	c.logger.Info().Str("event", "motion.stop").Msg("motion detection stopped")
	return nil
}

// Status reports current detection state from maintained fields; it never
// touches a process or the transport.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		State:           c.state,
		FrameTrigger:    c.frameEnabled,
		SensorTrigger:   c.sensorEnabled,
		SensorAvailable: c.sensorAvail,
		Recording:       c.recording,
	}
	if !c.lastTrigger.IsZero() {
		t := c.lastTrigger
		st.LastTrigger = &t
	}
	return st
}

// DrainRecordings blocks until in-flight recordings finish; used on daemon
// shutdown so a clip being written is not orphaned mid-file.
func (c *Coordinator) DrainRecordings() {
	c.recWg.Wait()
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// persistDesiredState writes the motion-enabled flag back to the settings
// store so the desired state survives a daemon restart.
func (c *Coordinator) persistDesiredState(ctx context.Context, enabled bool) {
	if c.store == nil {
		return
	}
	value := "0"
	if enabled {
		value = "1"
	}
	if err := c.store.Put(ctx, settings.KeyMotionServiceEnabled, value); err != nil {
		c.logger.Warn().Err(err).Msg("persisting motion desired-state failed")
	}
}

// frameLoop samples the transport and feeds the difference detector. On
// sustained read failure it reconnects once; if the reconnect fails too the
// whole coordinator is stopped.
func (c *Coordinator) frameLoop(ctx context.Context, snap settings.Snapshot) {
	defer c.loopWg.Done()

	logger := c.logger.With().Str("trigger", "framediff").Logger()

	source := snap.Str(settings.KeyMotionSource, "")
	if source == "" {
		source = snap.Str(settings.KeyStreamUDPURL, "")
	}
	det := NewDetector(
		sampleWidth, sampleHeight,
		snap.Int(settings.KeyMotionThreshold, 25),
		snap.Int(settings.KeyMotionMinContourArea, 35),
	)

	src, first, err := c.openTransport(ctx, source)
	if err != nil {
		if ctx.Err() == nil {
			logger.Error().Err(err).Msg("transport never became readable, stopping detection")
			go c.Stop(context.WithoutCancel(ctx))
		}
		return
	}
	// src is reassigned on reconnect and may be nil after a failed one.
	defer func() {
		if src != nil {
			_ = src.Close()
		}
	}()
	det.Feed(first)

	failures := 0
	reconnected := false
	for ctx.Err() == nil {
		frame, err := src.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			if failures < c.maxFailures {
				sleepCtx(ctx, readFailureBackoff)
				continue
			}
			if reconnected {
				logger.Error().
					Int("failures", failures).
					Msg("transport lost after reconnect, stopping detection")
				go c.Stop(context.WithoutCancel(ctx))
				return
			}
			logger.Warn().Int("failures", failures).Msg("sustained read failure, reconnecting")
			_ = src.Close()
			src, first, err = c.openTransport(ctx, source)
			if err != nil {
				if ctx.Err() == nil {
					logger.Error().Err(err).Msg("reconnect failed, stopping detection")
					go c.Stop(context.WithoutCancel(ctx))
				}
				return
			}
			det.Reset()
			det.Feed(first)
			failures = 0
			reconnected = true
			continue
		}
		failures = 0

		if area, hit := det.Feed(frame); hit {
			logger.Debug().Int("area", area).Msg("frame difference above threshold")
			c.triggerRecording(ctx, "framediff", frame, snap)
		}
	}
}

// sensorLoop polls the digital input line. An unavailable line degrades to
// an immediate return; Status keeps reporting sensor_available=false.
func (c *Coordinator) sensorLoop(ctx context.Context, line sensor.Line, snap settings.Snapshot) {
	defer c.loopWg.Done()
	defer func() { _ = line.Close() }()

	logger := c.logger.With().Str("trigger", "sensor").Logger()
	if !line.Available() {
		logger.Warn().Msg("sensor trigger enabled but hardware unavailable")
		return
	}

	ticker := time.NewTicker(sensorPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			high, err := line.Read()
			if err != nil {
				logger.Debug().Err(err).Msg("sensor read failed")
				continue
			}
			if high {
				c.triggerRecording(ctx, "sensor", nil, snap)
				sleepCtx(ctx, sensorDebounce)
			}
		}
	}
}

// openTransport opens the sampler and waits for a first readable frame,
// retrying with exponential backoff. The returned frame is already consumed
// from the source and must be fed to the detector by the caller.
func (c *Coordinator) openTransport(ctx context.Context, source string) (FrameSource, []uint8, error) {
	backoff := c.retryBackoff
	var lastErr error

	for attempt := 0; attempt < transportRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}

		src, err := c.openSource(ctx, source)
		if err == nil {
			readCtx, cancel := context.WithTimeout(ctx, firstFrameTimeout)
			frame, err := src.Next(readCtx)
			cancel()
			if err == nil {
				return src, slices.Clone(frame), nil
			}
			_ = src.Close()
		}
		lastErr = err

		c.logger.Debug().
			Err(err).
			Int("attempt", attempt+1).
			Msg("transport not readable yet")
		sleepCtx(ctx, backoff)
		backoff = min(backoff*2, transportBackoffMax)
	}
	return nil, nil, fmt.Errorf("motion: transport not readable after %d attempts: %w", transportRetries, lastErr)
}

// triggerRecording is the single fan-in for both trigger loops. Cooldown and
// guard acquisition are evaluated under one lock so concurrent events from
// different sources are strictly serialized.
func (c *Coordinator) triggerRecording(ctx context.Context, source string, frame []uint8, snap settings.Snapshot) {
	cooldown := snap.Seconds(settings.KeyMotionCooldownS, 5*time.Second)

	c.mu.Lock()
	if since := time.Since(c.lastTrigger); since <= cooldown {
		c.mu.Unlock()
		c.logger.Debug().
			Str("source", source).
			Dur("since_last", since).
			Msg("trigger within cooldown, ignored")
		metrics.MotionTriggerTotal.WithLabelValues(source, "cooldown").Inc()
		return
	}
	if !c.guard.TryAcquire("motion:" + source) {
		c.mu.Unlock()
		metrics.MotionTriggerTotal.WithLabelValues(source, "busy").Inc()
		return
	}
	c.lastTrigger = time.Now()
	c.recording = true
	c.mu.Unlock()

	metrics.MotionTriggerTotal.WithLabelValues(source, "accepted").Inc()
	c.logger.Info().
		Str("event", "motion.trigger").
		Str("source", source).
		Msg("motion trigger accepted")

	var still []uint8
	if frame != nil {
		still = slices.Clone(frame)
	}

	c.recWg.Add(1)
	go c.record(context.WithoutCancel(ctx), source, still, snap)
}

// record runs one bounded recording. The guard release covers every exit
// path.
func (c *Coordinator) record(ctx context.Context, source string, frame []uint8, snap settings.Snapshot) {
	defer c.recWg.Done()
	defer func() {
		c.guard.Release()
		c.mu.Lock()
		c.recording = false
		c.mu.Unlock()
	}()

	start := time.Now()
	duration := snap.Seconds(settings.KeyMotionDurationS, 10*time.Second)
	logger := c.logger.With().Str("source", source).Logger()

	dir, err := c.layout.Dir(media.DirMotion)
	if err != nil {
		logger.Error().Err(err).Msg("motion directory unavailable")
		metrics.RecordingTotal.WithLabelValues("motion", "error").Inc()
		return
	}
	prefix := snap.Str(settings.KeyPrefix, "nest_")
	outPath := filepath.Join(dir, media.Filename(prefix, "motion", "mp4", start))

	if frame != nil {
		c.saveTriggerFrame(ctx, frame, dir, prefix, start)
	}

	result, err := runRecording(ctx, c.ffmpegBin, snap, duration, outPath)
	outcome := "ok"
	// Run returns a non-nil error for timeouts and non-zero exits too, so
	// the specific outcomes are classified off the result first.
	switch {
	case result.TimedOut:
		logger.Warn().Dur("duration", duration).Msg("recording exceeded its timeout and was killed")
		outcome = "timeout"
	case result.ExitCode > 0:
		logger.Error().
			Int("exit_code", result.ExitCode).
			Str("stderr", tail(string(result.Stderr), 400)).
			Msg("recording process exited non-zero")
		outcome = "ffmpeg_error"
	case err != nil:
		logger.Error().Err(err).Msg("recording process failed to run")
		outcome = "error"
	}

	fi, statErr := os.Stat(outPath)
	if statErr != nil {
		logger.Warn().Str("path", outPath).Msg("recording produced no output file")
		metrics.RecordingTotal.WithLabelValues("motion", "missing_output").Inc()
		return
	}

	c.persistClip(ctx, snap, outPath, start, duration, fi.Size(), source)
	metrics.RecordingTotal.WithLabelValues("motion", outcome).Inc()
	logger.Info().
		Str("event", "motion.recording.done").
		Str("path", outPath).
		Int64("bytes", fi.Size()).
		Str("outcome", outcome).
		Msg("motion recording finished")
}

// persistClip probes the produced file and writes the catalog row, falling
// back to the requested duration/resolution when probing fails.
func (c *Coordinator) persistClip(ctx context.Context, snap settings.Snapshot, path string, start time.Time, requested time.Duration, size int64, source string) {
	durationS := int(requested.Seconds())
	resolution := snap.Str(settings.KeyRecordRes, "")

	if info, err := ffmpegInspect(ctx, c.ffprobeBin, path); err == nil {
		if info.Duration > 0 {
			durationS = int(info.Duration.Round(time.Second).Seconds())
		}
		if info.Width > 0 {
			resolution = fmt.Sprintf("%dx%d", info.Width, info.Height)
		}
	} else {
		c.logger.Debug().Err(err).Msg("clip inspection failed, using requested values")
	}

	rel, err := c.layout.Rel(path)
	if err != nil {
		rel = path
	}
	if _, err := c.catalog.AddVideo(ctx, media.Video{
		Path:       rel,
		CreatedAt:  start,
		DurationS:  durationS,
		Resolution: resolution,
		SizeBytes:  size,
		Notes:      "trigger:" + source,
	}); err != nil {
		c.logger.Error().Err(err).Msg("persisting clip row failed")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
