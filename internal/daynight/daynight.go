// Package daynight drives the two-state day/night mode machine. Ambient
// brightness is sampled from a test frame and fed through an asymmetric
// threshold pair so the mode cannot oscillate when light hovers at the
// boundary: NIGHT engages below the threshold, DAY re-engages only above
// threshold+10.
package daynight

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fbirkner/nestcam/internal/log"
	"github.com/fbirkner/nestcam/internal/metrics"
)

// Mode is the operating mode of the camera pipeline.
type Mode string

const (
	ModeDay   Mode = "DAY"
	ModeNight Mode = "NIGHT"
)

// HysteresisBand is how far brightness must rise above the night threshold
// before switching back to DAY.
const HysteresisBand = 10.0

// Status is a point-in-time view of the controller state.
type Status struct {
	Mode       Mode      `json:"mode"`
	Brightness float64   `json:"brightness"`
	LastCheck  time.Time `json:"last_check"`
	Threshold  float64   `json:"threshold"`
	Running    bool      `json:"running"`
}

// Restarter restarts the upstream ingest process after a mode change so
// mode-dependent encoder parameters take effect.
type Restarter interface {
	RestartIngest(ctx context.Context) bool
}

// Prober measures ambient brightness from the configured source.
// Implementations must be failure-tolerant; the controller falls back to the
// last known brightness when a probe errors.
type Prober interface {
	Brightness(ctx context.Context) (float64, error)
}

// SourceFunc yields the current video source when the probe runs, so a
// settings change is picked up without restarting the monitor.
type SourceFunc func(ctx context.Context) string

// Controller owns DayNightState. All mutation happens under its lock.
type Controller struct {
	logger    zerolog.Logger
	prober    Prober
	restarter Restarter

	mu             sync.Mutex
	mode           Mode
	lastBrightness float64
	lastCheck      time.Time
	threshold      float64
	interval       time.Duration
	running        bool
	stopCh         chan struct{}
	doneCh         chan struct{}
}

// New creates a controller starting in DAY mode with mid-range brightness.
func New(prober Prober, restarter Restarter) *Controller {
	return &Controller{
		logger:         log.WithComponent("daynight"),
		prober:         prober,
		restarter:      restarter,
		mode:           ModeDay,
		lastBrightness: 50.0,
		threshold:      30.0,
		interval:       60 * time.Second,
	}
}

// Status returns the current controller state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Mode:       c.mode,
		Brightness: c.lastBrightness,
		LastCheck:  c.lastCheck,
		Threshold:  c.threshold,
		Running:    c.running,
	}
}

// Mode returns the current operating mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SetMode applies a manual mode override.
func (c *Controller) SetMode(mode Mode) error {
	if mode != ModeDay && mode != ModeNight {
		return fmt.Errorf("daynight: invalid mode %q", mode)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode != mode {
		c.logger.Info().
			Str("event", "daynight.switch").
			Str("from", string(c.mode)).
			Str("to", string(mode)).
			Msg("manual mode switch")
		metrics.ModeSwitchTotal.WithLabelValues(string(mode)).Inc()
	}
	c.mode = mode
	return nil
}

// CheckAndUpdate performs one brightness check and applies the hysteresis
// rule. Returns true when the mode changed. Probe failures reuse the last
// known brightness instead of erroring; a transient camera hiccup must not
// flap the mode.
func (c *Controller) CheckAndUpdate(ctx context.Context) bool {
	brightness, err := c.prober.Brightness(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.logger.Warn().Err(err).Msg("brightness probe failed, reusing last value")
		brightness = c.lastBrightness
	}

	c.lastBrightness = brightness
	c.lastCheck = time.Now()
	metrics.Brightness.Set(brightness)

	oldMode := c.mode
	switch c.mode {
	case ModeDay:
		if brightness < c.threshold {
			c.mode = ModeNight
		}
	case ModeNight:
		if brightness > c.threshold+HysteresisBand {
			c.mode = ModeDay
		}
	}

	if c.mode != oldMode {
		c.logger.Info().
			Str("event", "daynight.switch").
			Str("from", string(oldMode)).
			Str("to", string(c.mode)).
			Float64("brightness", brightness).
			Msg("mode transition")
		metrics.ModeSwitchTotal.WithLabelValues(string(c.mode)).Inc()
		return true
	}
	return false
}

// StartMonitoring launches the periodic check loop. Idempotent: a second call
// while running warns and returns without effect.
func (c *Controller) StartMonitoring(ctx context.Context, threshold float64, interval time.Duration) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		c.logger.Warn().Msg("monitoring already running")
		return
	}
	c.threshold = threshold
	if interval > 0 {
		c.interval = interval
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	stopCh, doneCh, loopInterval := c.stopCh, c.doneCh, c.interval
	c.mu.Unlock()

	c.logger.Info().
		Float64("threshold", threshold).
		Dur("interval", loopInterval).
		Msg("started day/night monitoring")

	// The loop outlives the caller (an HTTP request, typically); only
	// StopMonitoring ends it.
	go c.monitorLoop(context.WithoutCancel(ctx), stopCh, doneCh, loopInterval)
}

func (c *Controller) monitorLoop(ctx context.Context, stopCh chan struct{}, doneCh chan struct{}, interval time.Duration) {
	defer close(doneCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Not reachable from StartMonitoring, but a loop that dies
			// with its context must not leave Status stuck on running.
			c.mu.Lock()
			if c.doneCh == doneCh {
				c.running = false
			}
			c.mu.Unlock()
			return
		case <-stopCh:
			return
		case <-ticker.C:
			if c.CheckAndUpdate(ctx) && c.restarter != nil {
				// Only the ingest process restarts; the consumer keeps
				// reading from the (re-established) transport.
				if ok := c.restarter.RestartIngest(ctx); !ok {
					c.logger.Error().Msg("ingest restart after mode change failed")
				}
			}
		}
	}
}

// StopMonitoring signals the loop and waits for it with a bounded timeout.
// Cessation is cooperative; callers must not assume it is instantaneous.
func (c *Controller) StopMonitoring() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopCh)
	doneCh := c.doneCh
	c.mu.Unlock()

	select {
	case <-doneCh:
	case <-time.After(5 * time.Second):
		c.logger.Warn().Msg("monitor loop did not stop within timeout")
	}
	c.logger.Info().Msg("stopped day/night monitoring")
}
