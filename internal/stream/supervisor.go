// Package stream supervises the two ffmpeg legs of the live pipeline: the
// ingest process that encodes the camera into a local UDP MPEG-TS stream, and
// the HLS consumer that packages that stream into a rolling playlist. The
// ingest leg is shared infrastructure: motion sampling, recordings and
// snapshots all tap its UDP output, so stopping the viewer-facing consumer
// never touches it.
package stream

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fbirkner/nestcam/internal/daynight"
	"github.com/fbirkner/nestcam/internal/metrics"
	"github.com/fbirkner/nestcam/internal/procgroup"
	"github.com/fbirkner/nestcam/internal/procrun"
	"github.com/fbirkner/nestcam/internal/settings"
)

// Pipeline modes. Segmented runs the HLS consumer; direct leaves the UDP
// stream for an external player and runs only the ingest leg.
type Mode string

const (
	ModeSegmented Mode = "LIVE_SEGMENTED"
	ModeDirect    Mode = "LIVE_DIRECT"
)

// DefaultFreshnessWindow is how recent a playlist write must be for Status to
// count the pipeline as running without a live process handle.
const DefaultFreshnessWindow = 10 * time.Second

const (
	roleIngest   = "ingest"
	roleConsumer = "hls"

	attachGrace = 10 * time.Second
	killTimeout = 5 * time.Second
)

// Status is the externally visible pipeline state.
type Status struct {
	Running       bool       `json:"running"`
	Mode          Mode       `json:"mode"`
	IngestRunning bool       `json:"ingest_running"`
	PID           int        `json:"pid,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
}

// Config carries the supervisor's collaborators and paths.
type Config struct {
	Logger    zerolog.Logger
	Loader    *settings.Loader
	Modes     *daynight.Controller
	FFmpegBin string
	HLSDir    string
	RunDir    string

	// FreshnessWindow overrides DefaultFreshnessWindow when positive.
	FreshnessWindow time.Duration
}

// leg is one supervised pipeline process: either a runner we spawned or a
// PID we attached to from a marker left by a previous daemon run.
type leg struct {
	runner   *procrun.Runner
	attached int
}

func (l *leg) alive() bool {
	if l.runner != nil {
		return l.runner.Alive()
	}
	return l.attached > 0 && procrun.PIDAlive(l.attached)
}

func (l *leg) pid() int {
	if l.runner != nil {
		return l.runner.PID()
	}
	return l.attached
}

// Supervisor owns the pipeline lifecycle. All methods are safe for concurrent
// use; Status never blocks on process management.
type Supervisor struct {
	logger      zerolog.Logger
	loader      *settings.Loader
	modes       *daynight.Controller
	bin         string
	hlsDir      string
	freshWindow time.Duration

	ingestMarker   procrun.PIDFile
	consumerMarker procrun.PIDFile
	watcher        *playlistWatcher

	mu           sync.Mutex
	mode         Mode
	ingest       leg
	consumer     leg
	startedAt    time.Time
	reloadCancel context.CancelFunc
}

// New creates a supervisor. It starts the playlist watcher immediately but
// launches no processes until Start.
func New(cfg Config) *Supervisor {
	window := cfg.FreshnessWindow
	if window <= 0 {
		window = DefaultFreshnessWindow
	}
	playlist := filepath.Join(cfg.HLSDir, PlaylistName)
	return &Supervisor{
		logger:         cfg.Logger,
		loader:         cfg.Loader,
		modes:          cfg.Modes,
		bin:            cfg.FFmpegBin,
		hlsDir:         cfg.HLSDir,
		freshWindow:    window,
		ingestMarker:   procrun.PIDFile{Path: filepath.Join(cfg.RunDir, "ingest.pid")},
		consumerMarker: procrun.PIDFile{Path: filepath.Join(cfg.RunDir, "hls.pid")},
		watcher:        newPlaylistWatcher(cfg.Logger, playlist),
		mode:           ModeSegmented,
	}
}

// Start brings the pipeline up: the ingest leg always, the HLS consumer only
// in segmented mode. Already-running legs are left alone, so Start is safe to
// call repeatedly and from the API.
func (s *Supervisor) Start(ctx context.Context) error {
	snap, err := s.loader.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("stream: load settings: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.mode = modeFromSetting(snap.Str(settings.KeyStreamMode, "hls"))

	if err := s.ensureIngestLocked(ctx, snap); err != nil {
		return err
	}

	if s.mode != ModeSegmented {
		return nil
	}
	if s.consumer.alive() {
		return nil
	}

	if pid, ok := s.consumerMarker.Attach("ffmpeg"); ok {
		s.logger.Info().
			Str("event", "stream.consumer.attach").
			Int("pid", pid).
			Msg("attached to running HLS consumer")
		s.consumer = leg{attached: pid}
		s.startedAt = time.Now()
		metrics.PipelineRunning.WithLabelValues(roleConsumer).Set(1)
		return nil
	}

	s.clearStaleArtifacts()

	runner := procrun.New(roleConsumer, s.bin, consumerArgs(snap, s.hlsDir)...)
	// spawned with the daemon's lifetime, not the caller's request
	if err := runner.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("stream: start consumer: %w", err)
	}
	s.consumer = leg{runner: runner}
	s.startedAt = time.Now()
	metrics.PipelineRunning.WithLabelValues(roleConsumer).Set(1)

	if err := s.consumerMarker.Write(runner.PID()); err != nil {
		s.logger.Warn().Err(err).Msg("writing consumer pid marker failed")
	}

	reloadCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.reloadCancel = cancel
	go s.watchConsumer(reloadCtx, runner)

	return nil
}

// Stop terminates the HLS consumer. The ingest leg keeps running so motion
// detection, recordings and snapshots continue without a live viewer.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	consumer := s.consumer
	cancel := s.reloadCancel
	s.consumer = leg{}
	s.reloadCancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if !consumer.alive() {
		s.consumerMarker.Clear()
		return nil
	}

	s.logger.Info().
		Str("event", "stream.consumer.stop").
		Int("pid", consumer.pid()).
		Msg("stopping HLS consumer")

	err := s.stopLeg(ctx, consumer)
	s.consumerMarker.Clear()
	metrics.PipelineRunning.WithLabelValues(roleConsumer).Set(0)
	return err
}

// RestartIngest force-restarts the ingest leg so encoder parameters pick up
// the current day/night profile. Reports whether the new process came up.
func (s *Supervisor) RestartIngest(ctx context.Context) bool {
	snap, err := s.loader.Snapshot(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("ingest restart aborted, settings unavailable")
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ingest.alive() {
		old := s.ingest
		s.ingest = leg{}
		if err := s.stopLeg(ctx, old); err != nil {
			s.logger.Warn().Err(err).Int("pid", old.pid()).Msg("stopping ingest for restart failed")
		}
	}
	s.ingestMarker.Clear()
	metrics.PipelineRunning.WithLabelValues(roleIngest).Set(0)

	if err := s.launchIngestLocked(ctx, snap); err != nil {
		s.logger.Error().
			Str("event", "stream.ingest.restart_failed").
			Err(err).
			Msg("ingest restart failed")
		return false
	}
	return true
}

// Status reports pipeline state without blocking. In segmented mode a fresh
// playlist counts as running even without a process handle, covering
// consumers inherited from a previous daemon run.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	mode := s.mode
	ingest := s.ingest
	consumer := s.consumer
	startedAt := s.startedAt
	s.mu.Unlock()

	st := Status{
		Mode:          mode,
		IngestRunning: ingest.alive(),
	}

	switch mode {
	case ModeDirect:
		st.Running = st.IngestRunning
		st.PID = ingest.pid()
	default:
		st.Running = consumer.alive() || s.watcher.fresh(s.freshWindow)
		st.PID = consumer.pid()
	}

	if st.Running && !startedAt.IsZero() {
		t := startedAt
		st.StartedAt = &t
	}
	return st
}

// Shutdown stops both legs for daemon exit and clears the PID markers.
func (s *Supervisor) Shutdown(ctx context.Context) {
	if err := s.Stop(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("consumer shutdown failed")
	}

	s.mu.Lock()
	ingest := s.ingest
	s.ingest = leg{}
	s.mu.Unlock()

	if ingest.alive() {
		if err := s.stopLeg(ctx, ingest); err != nil {
			s.logger.Warn().Err(err).Int("pid", ingest.pid()).Msg("ingest shutdown failed")
		}
	}
	s.ingestMarker.Clear()
	metrics.PipelineRunning.WithLabelValues(roleIngest).Set(0)

	s.watcher.close()
}

// ensureIngestLocked makes sure exactly one ingest process exists, attaching
// to a marker-recorded PID before spawning a new one. Caller holds s.mu.
func (s *Supervisor) ensureIngestLocked(ctx context.Context, snap settings.Snapshot) error {
	if s.ingest.alive() {
		return nil
	}

	if pid, ok := s.ingestMarker.Attach("ffmpeg"); ok {
		s.logger.Info().
			Str("event", "stream.ingest.attach").
			Int("pid", pid).
			Msg("attached to running ingest")
		s.ingest = leg{attached: pid}
		metrics.PipelineRunning.WithLabelValues(roleIngest).Set(1)
		return nil
	}

	return s.launchIngestLocked(ctx, snap)
}

func (s *Supervisor) launchIngestLocked(ctx context.Context, snap settings.Snapshot) error {
	params := s.modes.StreamParams(snap.Int(settings.KeyStreamFPS, 30))
	runner := procrun.New(roleIngest, s.bin, ingestArgs(snap, params)...)
	if err := runner.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("stream: start ingest: %w", err)
	}

	s.ingest = leg{runner: runner}
	metrics.PipelineRunning.WithLabelValues(roleIngest).Set(1)

	if err := s.ingestMarker.Write(runner.PID()); err != nil {
		s.logger.Warn().Err(err).Msg("writing ingest pid marker failed")
	}
	s.logger.Info().
		Str("event", "stream.ingest.start").
		Int("pid", runner.PID()).
		Bool("grayscale", params.Grayscale).
		Msg("ingest started")
	return nil
}

// stopLeg terminates one leg. Owned runners go through the runner's graceful
// stop; attached PIDs get a best-effort group kill.
func (s *Supervisor) stopLeg(ctx context.Context, l leg) error {
	if l.runner != nil {
		return l.runner.Stop(ctx)
	}
	if l.attached > 0 {
		return procgroup.KillGroup(l.attached, attachGrace, killTimeout)
	}
	return nil
}

// watchConsumer re-reads settings on an interval while the consumer lives and
// logs its exit. The loop is bound to one consumer instance; Stop cancels it.
func (s *Supervisor) watchConsumer(ctx context.Context, runner *procrun.Runner) {
	exited := make(chan struct{})
	go func() {
		_ = runner.Wait(context.WithoutCancel(ctx))
		close(exited)
	}()

	ticker := time.NewTicker(settings.ReloadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-exited:
			s.logger.Warn().
				Str("event", "stream.consumer.exit").
				Int("exit_code", runner.ExitCode()).
				Strs("stderr_tail", runner.LastLogLines(5)).
				Msg("HLS consumer exited")
			metrics.PipelineRunning.WithLabelValues(roleConsumer).Set(0)

			s.mu.Lock()
			if s.consumer.runner == runner {
				s.consumer = leg{}
				s.reloadCancel = nil
			}
			s.mu.Unlock()
			s.consumerMarker.Clear()
			return
		case <-ticker.C:
			if _, err := s.loader.Snapshot(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("periodic settings reload failed")
			}
		}
	}
}

// clearStaleArtifacts removes leftover playlist and segment files before a
// fresh consumer launch, so Status cannot report a dead pipeline as running
// off an old playlist mtime.
func (s *Supervisor) clearStaleArtifacts() {
	entries, err := os.ReadDir(s.hlsDir)
	if err != nil {
		return
	}
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if name == PlaylistName || filepath.Ext(name) == ".ts" {
			if os.Remove(filepath.Join(s.hlsDir, name)) == nil {
				removed++
			}
		}
	}
	if removed > 0 {
		s.logger.Debug().Int("files", removed).Msg("cleared stale HLS artifacts")
	}
}

func modeFromSetting(v string) Mode {
	switch v {
	case "direct", "udp", string(ModeDirect):
		return ModeDirect
	default:
		return ModeSegmented
	}
}
