// Package record implements manually requested recordings: one session at a
// time, captured as a copy-remux of the shared transport with a configured
// duration cap. A per-second watcher finalizes the session automatically once
// the capture process exits on its own; an explicit Stop terminates it early.
package record

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fbirkner/nestcam/internal/ffmpeg"
	"github.com/fbirkner/nestcam/internal/guard"
	"github.com/fbirkner/nestcam/internal/media"
	"github.com/fbirkner/nestcam/internal/metrics"
	"github.com/fbirkner/nestcam/internal/procrun"
	"github.com/fbirkner/nestcam/internal/settings"
)

var (
	// ErrInProgress is returned by Start while a session is active.
	ErrInProgress = errors.New("record: recording already in progress")
	// ErrGuardBusy means another component holds the recording guard.
	ErrGuardBusy = errors.New("record: another recording is active")
	// ErrNotRecording is returned by Stop when no session exists.
	ErrNotRecording = errors.New("record: no recording in progress")
)

const (
	guardOwner   = "manual"
	stopGrace    = 10 * time.Second
	pollInterval = time.Second
)

// Status describes the current session, if any.
type Status struct {
	Recording bool       `json:"recording"`
	SessionID string     `json:"session_id,omitempty"`
	Path      string     `json:"path,omitempty"`
	PID       int        `json:"pid,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	ElapsedS  int        `json:"elapsed_s,omitempty"`
}

// StopResult reports how a session ended. Warning is set instead of an error
// when the capture produced no output file; the stop itself still succeeded.
type StopResult struct {
	SessionID string        `json:"session_id"`
	Path      string        `json:"path,omitempty"`
	Elapsed   time.Duration `json:"-"`
	ElapsedS  int           `json:"elapsed_s"`
	Warning   string        `json:"warning,omitempty"`
}

// Config carries the controller's collaborators.
type Config struct {
	Logger     zerolog.Logger
	Loader     *settings.Loader
	Catalog    *media.Catalog
	Layout     media.Layout
	Guard      *guard.Guard
	FFmpegBin  string
	FFprobeBin string
	RunDir     string
}

type session struct {
	id       string
	runner   *procrun.Runner
	start    time.Time
	outPath  string
	maxDur   time.Duration
	snap     settings.Snapshot
	finalize sync.Once
	done     chan struct{}

	// set by finalize, read after done is closed
	missing bool
	elapsed time.Duration
}

// Controller manages manual recording sessions. Safe for concurrent use.
type Controller struct {
	logger     zerolog.Logger
	loader     *settings.Loader
	catalog    *media.Catalog
	layout     media.Layout
	guard      *guard.Guard
	ffmpegBin  string
	ffprobeBin string
	marker     procrun.PIDFile

	mu   sync.Mutex
	sess *session
}

// New creates an idle controller.
func New(cfg Config) *Controller {
	return &Controller{
		logger:     cfg.Logger,
		loader:     cfg.Loader,
		catalog:    cfg.Catalog,
		layout:     cfg.Layout,
		guard:      cfg.Guard,
		ffmpegBin:  cfg.FFmpegBin,
		ffprobeBin: cfg.FFprobeBin,
		marker:     procrun.PIDFile{Path: filepath.Join(cfg.RunDir, "record.pid")},
	}
}

// Start launches a capped copy-recording of the shared transport. The
// session's guard token blocks motion-triggered recordings until release.
func (c *Controller) Start(ctx context.Context) (Status, error) {
	c.mu.Lock()
	if c.sess != nil {
		c.mu.Unlock()
		return Status{}, ErrInProgress
	}
	c.mu.Unlock()

	snap, err := c.loader.Snapshot(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("record: load settings: %w", err)
	}

	if !c.guard.TryAcquire(guardOwner) {
		return Status{}, ErrGuardBusy
	}
	ok := false
	defer func() {
		if !ok {
			c.guard.Release()
		}
	}()

	dir, err := c.layout.Dir(media.DirVideos)
	if err != nil {
		return Status{}, err
	}

	start := time.Now()
	maxDur := snap.Seconds(settings.KeyRecordMaxDuration, 10*time.Minute)
	outPath := filepath.Join(dir, media.Filename(snap.Str(settings.KeyPrefix, "nest_"), "record", "mp4", start))

	runner := procrun.New("manual-record", c.ffmpegBin, captureArgs(snap, maxDur, outPath)...)
	runner.SetGrace(stopGrace)
	if err := runner.Start(context.WithoutCancel(ctx)); err != nil {
		metrics.RecordingTotal.WithLabelValues("manual", "error").Inc()
		return Status{}, fmt.Errorf("record: start capture: %w", err)
	}

	sess := &session{
		id:      uuid.NewString(),
		runner:  runner,
		start:   start,
		outPath: outPath,
		maxDur:  maxDur,
		snap:    snap,
		done:    make(chan struct{}),
	}

	c.mu.Lock()
	c.sess = sess
	c.mu.Unlock()

	if err := c.marker.Write(runner.PID()); err != nil {
		c.logger.Warn().Err(err).Msg("writing recording pid marker failed")
	}

	go c.watch(sess)
	ok = true

	c.logger.Info().
		Str("event", "record.start").
		Str("session_id", sess.id).
		Str("path", outPath).
		Int("pid", runner.PID()).
		Msg("manual recording started")

	return c.statusOf(sess), nil
}

// Stop terminates the active session: graceful signal, forced kill after the
// grace period, then finalization. A missing output file yields a warning in
// the result, not an error.
func (c *Controller) Stop(ctx context.Context) (StopResult, error) {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return StopResult{}, ErrNotRecording
	}

	if err := sess.runner.Stop(ctx); err != nil && !errors.Is(err, procrun.ErrNotStarted) {
		// Stop returns the process exit error; a killed ffmpeg exits
		// non-zero, which is expected here.
		c.logger.Debug().Err(err).Msg("capture process exit after stop")
	}

	c.finalizeSession(ctx, sess)
	<-sess.done

	res := StopResult{
		SessionID: sess.id,
		Path:      sess.outPath,
		Elapsed:   sess.elapsed,
		ElapsedS:  int(sess.elapsed.Seconds()),
	}
	if sess.missing {
		res.Path = ""
		res.Warning = "recording produced no output file"
	}
	return res, nil
}

// Status reports the current session state, computed on demand.
func (c *Controller) Status() Status {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return Status{}
	}
	return c.statusOf(sess)
}

func (c *Controller) statusOf(sess *session) Status {
	t := sess.start
	return Status{
		Recording: sess.runner.Alive(),
		SessionID: sess.id,
		Path:      sess.outPath,
		PID:       sess.runner.PID(),
		StartedAt: &t,
		ElapsedS:  int(time.Since(sess.start).Seconds()),
	}
}

// watch polls the capture process once per second and finalizes the session
// when it exits on its own, e.g. by reaching the duration cap.
func (c *Controller) watch(sess *session) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for range ticker.C {
		if !sess.runner.Alive() {
			c.finalizeSession(context.Background(), sess)
			return
		}
		select {
		case <-sess.done:
			return
		default:
		}
	}
}

// finalizeSession runs exactly once per session, covering both the watcher
// path and the explicit stop path: persist the artifact if one exists,
// release the guard, clear session state.
func (c *Controller) finalizeSession(ctx context.Context, sess *session) {
	sess.finalize.Do(func() {
		defer close(sess.done)
		defer c.guard.Release()

		sess.elapsed = time.Since(sess.start)
		if sess.elapsed > sess.maxDur {
			sess.elapsed = sess.maxDur
		}

		c.mu.Lock()
		if c.sess == sess {
			c.sess = nil
		}
		c.mu.Unlock()
		c.marker.Clear()

		fi, err := os.Stat(sess.outPath)
		if err != nil {
			sess.missing = true
			metrics.RecordingTotal.WithLabelValues("manual", "missing_output").Inc()
			c.logger.Warn().
				Str("session_id", sess.id).
				Str("path", sess.outPath).
				Msg("manual recording produced no output file")
			return
		}

		c.persist(ctx, sess, fi.Size())
		metrics.RecordingTotal.WithLabelValues("manual", "ok").Inc()
		c.logger.Info().
			Str("event", "record.done").
			Str("session_id", sess.id).
			Str("path", sess.outPath).
			Int64("bytes", fi.Size()).
			Dur("elapsed", sess.elapsed).
			Msg("manual recording finalized")
	})
}

func (c *Controller) persist(ctx context.Context, sess *session, size int64) {
	durationS := int(sess.elapsed.Seconds())
	resolution := sess.snap.Str(settings.KeyRecordRes, "")

	if info, err := ffmpeg.Inspect(ctx, c.ffprobeBin, sess.outPath); err == nil {
		if info.Duration > 0 {
			durationS = int(info.Duration.Round(time.Second).Seconds())
		}
		if info.Width > 0 {
			resolution = fmt.Sprintf("%dx%d", info.Width, info.Height)
		}
	} else {
		c.logger.Debug().Err(err).Msg("clip inspection failed, using session values")
	}

	rel, err := c.layout.Rel(sess.outPath)
	if err != nil {
		rel = sess.outPath
	}
	if _, err := c.catalog.AddVideo(ctx, media.Video{
		Path:       rel,
		CreatedAt:  sess.start,
		DurationS:  durationS,
		Resolution: resolution,
		SizeBytes:  size,
		Notes:      "manual",
	}); err != nil {
		c.logger.Error().Err(err).Msg("persisting recording row failed")
	}
}

// captureArgs builds the copy-remux capture command with the duration cap.
func captureArgs(snap settings.Snapshot, maxDur time.Duration, outPath string) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-i", snap.Str(settings.KeyStreamUDPURL, ""),
		"-t", fmt.Sprintf("%d", int(maxDur.Seconds())),
		"-c:v", "copy",
	}
	if snap.Str(settings.KeyAudioSource, "") != "" {
		args = append(args, "-c:a", "copy")
	} else {
		args = append(args, "-an")
	}
	return append(args, outPath)
}
