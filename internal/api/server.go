// Package api exposes the orchestration core over HTTP: start/stop/status
// for the pipeline, motion detection, day/night control, manual recording,
// and the snapshot/timelapse operations. Every response carries an `ok`
// boolean; failures add an `error` string.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/fbirkner/nestcam/internal/daynight"
	"github.com/fbirkner/nestcam/internal/media"
	"github.com/fbirkner/nestcam/internal/motion"
	"github.com/fbirkner/nestcam/internal/record"
	"github.com/fbirkner/nestcam/internal/stream"
)

// Pipeline is the supervisor surface the API needs.
type Pipeline interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() stream.Status
	RestartIngest(ctx context.Context) bool
}

// Motion is the trigger-coordinator surface.
type Motion interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() motion.Status
}

// DayNight is the mode-controller surface.
type DayNight interface {
	Status() daynight.Status
	SetMode(mode daynight.Mode) error
	CheckAndUpdate(ctx context.Context) bool
	StartMonitoring(ctx context.Context, threshold float64, interval time.Duration)
	StopMonitoring()
}

// Recorder is the manual-recording surface.
type Recorder interface {
	Start(ctx context.Context) (record.Status, error)
	Stop(ctx context.Context) (record.StopResult, error)
	Status() record.Status
}

// Snapshotter captures one still frame.
type Snapshotter interface {
	Capture(ctx context.Context) (media.Photo, error)
}

// TimelapseBuilder assembles a timelapse from a snapshot date range.
type TimelapseBuilder interface {
	Build(ctx context.Context, from, to time.Time) (media.Timelapse, error)
}

// Config carries the server's collaborators. Snapshots and Timelapses may be
// nil when those features are not wired.
type Config struct {
	Logger     zerolog.Logger
	Pipeline   Pipeline
	Motion     Motion
	DayNight   DayNight
	Recorder   Recorder
	Snapshots  Snapshotter
	Timelapses TimelapseBuilder

	// MutationLimit bounds state-changing requests per client IP per
	// minute. Zero selects the default of 30.
	MutationLimit int
}

// Server holds the handler dependencies.
type Server struct {
	logger     zerolog.Logger
	pipeline   Pipeline
	motion     Motion
	daynight   DayNight
	recorder   Recorder
	snapshots  Snapshotter
	timelapses TimelapseBuilder

	mutationLimit int
}

// New creates the API server.
func New(cfg Config) *Server {
	limit := cfg.MutationLimit
	if limit <= 0 {
		limit = 30
	}
	return &Server{
		logger:        cfg.Logger,
		pipeline:      cfg.Pipeline,
		motion:        cfg.Motion,
		daynight:      cfg.DayNight,
		recorder:      cfg.Recorder,
		snapshots:     cfg.Snapshots,
		timelapses:    cfg.Timelapses,
		mutationLimit: limit,
	}
}

// Routes builds the router: read endpoints unthrottled, mutating endpoints
// behind a per-IP rate limit.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/stream/status", s.handleStreamStatus)
		r.Get("/motion/status", s.handleMotionStatus)
		r.Get("/daynight/status", s.handleDayNightStatus)
		r.Get("/recording/status", s.handleRecordingStatus)

		r.Group(func(r chi.Router) {
			r.Use(httprate.Limit(
				s.mutationLimit,
				time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
			))

			r.Post("/stream/start", s.handleStreamStart)
			r.Post("/stream/stop", s.handleStreamStop)
			r.Post("/stream/restart-ingest", s.handleRestartIngest)

			r.Post("/motion/start", s.handleMotionStart)
			r.Post("/motion/stop", s.handleMotionStop)

			r.Post("/daynight/mode", s.handleDayNightSetMode)
			r.Post("/daynight/check", s.handleDayNightCheck)
			r.Post("/daynight/monitor/start", s.handleMonitorStart)
			r.Post("/daynight/monitor/stop", s.handleMonitorStop)

			r.Post("/recording/start", s.handleRecordingStart)
			r.Post("/recording/stop", s.handleRecordingStop)

			r.Post("/snapshot", s.handleSnapshot)
			r.Post("/timelapse", s.handleTimelapse)
		})
	})

	return r
}

// requestLogger emits one structured line per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, envelope{"ok": true, "status": "healthy"})
}
