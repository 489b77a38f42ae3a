// Command nestcamd is the camera-rig orchestration daemon: it supervises the
// ffmpeg streaming pipeline, runs motion detection, day/night switching, the
// snapshot scheduler, and exposes the control API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/fbirkner/nestcam/internal/api"
	"github.com/fbirkner/nestcam/internal/autostart"
	"github.com/fbirkner/nestcam/internal/config"
	"github.com/fbirkner/nestcam/internal/daynight"
	"github.com/fbirkner/nestcam/internal/guard"
	"github.com/fbirkner/nestcam/internal/log"
	"github.com/fbirkner/nestcam/internal/media"
	"github.com/fbirkner/nestcam/internal/motion"
	"github.com/fbirkner/nestcam/internal/persistence/sqlite"
	"github.com/fbirkner/nestcam/internal/record"
	"github.com/fbirkner/nestcam/internal/settings"
	"github.com/fbirkner/nestcam/internal/snapshot"
	"github.com/fbirkner/nestcam/internal/stream"
	"github.com/fbirkner/nestcam/internal/timelapse"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

// ingestRestarter breaks the construction cycle between the day/night
// controller (which needs a restarter) and the stream supervisor (which
// needs the controller for encoder parameters). The field is set before
// monitoring starts.
type ingestRestarter struct {
	sup *stream.Supervisor
}

func (r *ingestRestarter) RestartIngest(ctx context.Context) bool {
	if r.sup == nil {
		return false
	}
	return r.sup.RestartIngest(ctx)
}

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("nestcamd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cfg := config.FromEnv()

	log.Configure(log.Config{
		Level:   cfg.LogLevel,
		Service: "nestcamd",
	})
	logger := log.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("daemon failed")
	}
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	for _, dir := range []string{cfg.DataDir, cfg.MediaDir, cfg.HLSDir, cfg.RunDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	// Exactly one daemon per rig. A second instance (rc.local plus a manual
	// start, typically) exits cleanly instead of fighting over the camera.
	gate := autostart.New(logger, cfg.GatePath(), cfg.GateStaleAge)
	acquired, err := gate.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("startup gate: %w", err)
	}
	if !acquired {
		logger.Info().Msg("another instance holds the startup gate, exiting")
		return nil
	}
	defer gate.Release()

	db, err := sqlite.Open(cfg.DBPath(), sqlite.DefaultConfig())
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	store, err := settings.NewStoreWithDB(db)
	if err != nil {
		return err
	}
	catalog, err := media.NewCatalogWithDB(db)
	if err != nil {
		return err
	}
	loader := settings.NewLoader(store)
	layout := media.Layout{Root: cfg.MediaDir}
	recGuard := &guard.Guard{}

	prober := &daynight.FFmpegProber{
		Bin: cfg.FFmpegBin,
		Source: func(ctx context.Context) string {
			snap, err := loader.Snapshot(ctx)
			if err != nil {
				return ""
			}
			return snap.Str(settings.KeyVideoSource, "/dev/video0")
		},
	}
	restart := &ingestRestarter{}
	modes := daynight.New(prober, restart)

	sup := stream.New(stream.Config{
		Logger:    log.WithComponent("stream"),
		Loader:    loader,
		Modes:     modes,
		FFmpegBin: cfg.FFmpegBin,
		HLSDir:    cfg.HLSDir,
		RunDir:    cfg.RunDir,
	})
	restart.sup = sup

	detector := motion.New(motion.Config{
		Logger:     log.WithComponent("motion"),
		Loader:     loader,
		Store:      store,
		Catalog:    catalog,
		Layout:     layout,
		Guard:      recGuard,
		FFmpegBin:  cfg.FFmpegBin,
		FFprobeBin: cfg.FFprobeBin,
	})

	recorder := record.New(record.Config{
		Logger:     log.WithComponent("record"),
		Loader:     loader,
		Catalog:    catalog,
		Layout:     layout,
		Guard:      recGuard,
		FFmpegBin:  cfg.FFmpegBin,
		FFprobeBin: cfg.FFprobeBin,
		RunDir:     cfg.RunDir,
	})

	snapSvc := snapshot.New(snapshot.Config{
		Logger:    log.WithComponent("snapshot"),
		Loader:    loader,
		Catalog:   catalog,
		Layout:    layout,
		Modes:     modes,
		FFmpegBin: cfg.FFmpegBin,
	})
	scheduler := snapshot.NewScheduler(snapSvc, log.WithComponent("snapshot"))

	lapse := timelapse.New(timelapse.Config{
		Logger:    log.WithComponent("timelapse"),
		Loader:    loader,
		Catalog:   catalog,
		Layout:    layout,
		FFmpegBin: cfg.FFmpegBin,
	})

	snap, err := loader.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("initial settings snapshot: %w", err)
	}

	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Str("addr", cfg.ListenAddr).
		Str("data_dir", cfg.DataDir).
		Str("hls_dir", cfg.HLSDir).
		Msg("starting nestcamd")

	// The pipeline starts at boot; a failure (camera unplugged, ffmpeg
	// missing) leaves the daemon serving the API so the problem can be
	// diagnosed and retried remotely.
	if err := sup.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("pipeline start failed, continuing without stream")
	}

	if snap.Bool(settings.KeyDayNightEnabled, false) {
		modes.StartMonitoring(ctx,
			snap.Float(settings.KeyDayNightThreshold, 30),
			snap.Seconds(settings.KeyDayNightInterval, time.Minute))
	}

	// MOTION_SERVICE_ENABLED is the persisted desired state: set to "1"
	// whenever detection was running when the previous daemon stopped.
	if snap.Str(settings.KeyMotionServiceEnabled, "0") == "1" {
		if err := detector.Start(ctx); err != nil {
			logger.Error().Err(err).Msg("motion detection auto-start failed")
		}
	}

	scheduler.Start(ctx)

	apiSrv := api.New(api.Config{
		Logger:     log.WithComponent("api"),
		Pipeline:   sup,
		Motion:     detector,
		DayNight:   modes,
		Recorder:   recorder,
		Snapshots:  snapSvc,
		Timelapses: lapse,
	})
	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           apiSrv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("api listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutCtx)
	})

	serveErr := g.Wait()

	logger.Info().Msg("shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	modes.StopMonitoring()
	if err := detector.Stop(shutCtx); err != nil {
		logger.Warn().Err(err).Msg("motion stop failed during shutdown")
	}
	detector.DrainRecordings()
	if _, err := recorder.Stop(shutCtx); err != nil && !errors.Is(err, record.ErrNotRecording) {
		logger.Warn().Err(err).Msg("recording stop failed during shutdown")
	}
	sup.Shutdown(shutCtx)

	return serveErr
}
