// Package snapshot captures still frames from the shared transport and files
// them into the photo catalog, both on demand and on a periodic schedule.
package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/fbirkner/nestcam/internal/daynight"
	"github.com/fbirkner/nestcam/internal/ffmpeg"
	"github.com/fbirkner/nestcam/internal/media"
	"github.com/fbirkner/nestcam/internal/procrun"
	"github.com/fbirkner/nestcam/internal/settings"
)

const captureTimeout = 15 * time.Second

// Service takes still frames. Safe for concurrent use; captures are
// independent readers of the broadcast transport and need no guard.
type Service struct {
	logger    zerolog.Logger
	loader    *settings.Loader
	catalog   *media.Catalog
	layout    media.Layout
	modes     *daynight.Controller
	ffmpegBin string
}

// Config carries the service's collaborators.
type Config struct {
	Logger    zerolog.Logger
	Loader    *settings.Loader
	Catalog   *media.Catalog
	Layout    media.Layout
	Modes     *daynight.Controller
	FFmpegBin string
}

// New creates the snapshot service.
func New(cfg Config) *Service {
	return &Service{
		logger:    cfg.Logger,
		loader:    cfg.Loader,
		catalog:   cfg.Catalog,
		layout:    cfg.Layout,
		modes:     cfg.Modes,
		ffmpegBin: cfg.FFmpegBin,
	}
}

// Capture grabs one frame from the transport, applies the rotation and
// current-mode filters, and persists a photo row.
func (s *Service) Capture(ctx context.Context) (media.Photo, error) {
	snap, err := s.loader.Snapshot(ctx)
	if err != nil {
		return media.Photo{}, fmt.Errorf("snapshot: load settings: %w", err)
	}

	dir, err := s.layout.Dir(media.DirSnapshots)
	if err != nil {
		return media.Photo{}, err
	}

	now := time.Now()
	path := filepath.Join(dir, media.Filename(snap.Str(settings.KeyPrefix, "nest_"), "photo", "jpg", now))

	res, err := procrun.Run(ctx, "snapshot", captureTimeout, s.ffmpegBin, s.captureArgs(snap, path)...)
	if err != nil {
		return media.Photo{}, fmt.Errorf("snapshot: capture: %w", err)
	}
	if res.ExitCode != 0 {
		return media.Photo{}, fmt.Errorf("snapshot: ffmpeg exit %d: %s", res.ExitCode, strings.TrimSpace(string(res.Stderr)))
	}
	if _, err := os.Stat(path); err != nil {
		return media.Photo{}, fmt.Errorf("snapshot: no output produced: %w", err)
	}

	rel, err := s.layout.Rel(path)
	if err != nil {
		rel = path
	}
	photo := media.Photo{
		Path:       rel,
		CreatedAt:  now,
		Resolution: snap.Str(settings.KeyStreamRes, ""),
	}
	if photo.ID, err = s.catalog.AddPhoto(ctx, photo); err != nil {
		return media.Photo{}, fmt.Errorf("snapshot: persist: %w", err)
	}

	s.logger.Info().
		Str("event", "snapshot.capture").
		Str("path", rel).
		Msg("snapshot captured")
	return photo, nil
}

func (s *Service) captureArgs(snap settings.Snapshot, outPath string) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, ffmpeg.InputArgs(snap.Str(settings.KeyStreamUDPURL, ""))...)

	var filters []string
	if rot := ffmpeg.RotationFilter(snap.Int(settings.KeyVideoRotation, 0)); rot != "" {
		filters = append(filters, rot)
	}
	if s.modes != nil && s.modes.Mode() == daynight.ModeNight {
		filters = append(filters, ffmpeg.GrayscaleFilter)
	}
	args = append(args, ffmpeg.FilterArgs(filters...)...)

	return append(args, "-frames:v", "1", "-q:v", "2", outPath)
}
