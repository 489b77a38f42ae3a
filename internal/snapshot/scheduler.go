package snapshot

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fbirkner/nestcam/internal/settings"
)

// Scheduler runs periodic captures with jitter and failure backoff, so a
// camera outage does not hammer the transport once per interval.
type Scheduler struct {
	service *Service
	logger  zerolog.Logger

	BaseInterval time.Duration
	MaxInterval  time.Duration
	Jitter       time.Duration
	StartupDelay time.Duration

	clock Clock

	mu              sync.Mutex
	currentInterval time.Duration
}

// Clock abstracts time for deterministic scheduler tests.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
}

// Timer is the mockable subset of time.Timer.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
	Reset(d time.Duration) bool
}

// RealClock implements Clock with the standard time package.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
func (RealClock) NewTimer(d time.Duration) Timer {
	return &realTimer{t: time.NewTimer(d)}
}

type realTimer struct{ t *time.Timer }

func (r *realTimer) C() <-chan time.Time        { return r.t.C }
func (r *realTimer) Stop() bool                 { return r.t.Stop() }
func (r *realTimer) Reset(d time.Duration) bool { return r.t.Reset(d) }

// NewScheduler creates a scheduler for the given service. The base interval
// follows the configured photo interval once the first snapshot is loaded.
func NewScheduler(service *Service, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		service:      service,
		logger:       logger,
		BaseInterval: time.Minute,
		MaxInterval:  30 * time.Minute,
		Jitter:       10 * time.Second,
		StartupDelay: 15 * time.Second,
		clock:        RealClock{},
	}
}

// Start begins the capture loop in a background goroutine. It returns
// immediately; the loop stops when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	if snap, err := s.service.loader.Snapshot(ctx); err == nil {
		if iv := snap.Seconds(settings.KeyPhotoIntervalS, s.BaseInterval); iv > 0 {
			s.BaseInterval = iv
		}
	}
	go s.loop(ctx)
}

func (s *Scheduler) loop(ctx context.Context) {
	s.logger.Info().
		Dur("interval", s.BaseInterval).
		Msg("snapshot scheduler started")

	timer := s.clock.NewTimer(s.nextDuration(true))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("snapshot scheduler stopping")
			return
		case <-timer.C():
			if _, err := s.service.Capture(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Warn().Err(err).Msg("scheduled snapshot failed, backing off")
				s.increaseBackoff()
			} else {
				s.resetBackoff()
			}
			timer.Reset(s.nextDuration(false))
		}
	}
}

// nextDuration returns the next wait: startup delay for the first run,
// otherwise the current (possibly backed-off) interval plus jitter.
func (s *Scheduler) nextDuration(first bool) time.Duration {
	if first {
		return s.StartupDelay
	}

	s.mu.Lock()
	interval := s.currentInterval
	s.mu.Unlock()
	if interval <= 0 {
		interval = s.BaseInterval
	}

	if s.Jitter > 0 {
		interval += time.Duration(rand.Int63n(int64(s.Jitter)))
	}
	return interval
}

func (s *Scheduler) increaseBackoff() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentInterval <= 0 {
		s.currentInterval = s.BaseInterval
	}
	s.currentInterval *= 2
	if s.currentInterval > s.MaxInterval {
		s.currentInterval = s.MaxInterval
	}
}

func (s *Scheduler) resetBackoff() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentInterval = s.BaseInterval
}
