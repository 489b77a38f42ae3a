// Package timelapse assembles cataloged snapshots from a date range into one
// video clip via ffmpeg's concat demuxer.
package timelapse

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/fbirkner/nestcam/internal/media"
	"github.com/fbirkner/nestcam/internal/procrun"
	"github.com/fbirkner/nestcam/internal/settings"
)

// ErrNotEnoughFrames means the date range holds fewer than two snapshots.
var ErrNotEnoughFrames = errors.New("timelapse: not enough snapshots in range")

const assembleTimeout = 10 * time.Minute

// Assembler builds timelapse clips from the photo catalog.
type Assembler struct {
	logger    zerolog.Logger
	loader    *settings.Loader
	catalog   *media.Catalog
	layout    media.Layout
	ffmpegBin string
}

// Config carries the assembler's collaborators.
type Config struct {
	Logger    zerolog.Logger
	Loader    *settings.Loader
	Catalog   *media.Catalog
	Layout    media.Layout
	FFmpegBin string
}

// New creates an assembler.
func New(cfg Config) *Assembler {
	return &Assembler{
		logger:    cfg.Logger,
		loader:    cfg.Loader,
		catalog:   cfg.Catalog,
		layout:    cfg.Layout,
		ffmpegBin: cfg.FFmpegBin,
	}
}

// Build encodes all snapshots in [from, to] into one clip and persists a
// timelapse row. Frame order follows capture time, one frame per snapshot.
func (a *Assembler) Build(ctx context.Context, from, to time.Time) (media.Timelapse, error) {
	snap, err := a.loader.Snapshot(ctx)
	if err != nil {
		return media.Timelapse{}, fmt.Errorf("timelapse: load settings: %w", err)
	}

	photos, err := a.catalog.PhotosBetween(ctx, from, to)
	if err != nil {
		return media.Timelapse{}, fmt.Errorf("timelapse: list snapshots: %w", err)
	}
	if len(photos) < 2 {
		return media.Timelapse{}, ErrNotEnoughFrames
	}

	dir, err := a.layout.Dir(media.DirTimelapse)
	if err != nil {
		return media.Timelapse{}, err
	}

	now := time.Now()
	fps := snap.Int(settings.KeyTimelapseFPS, 30)
	outPath := filepath.Join(dir, media.Filename(snap.Str(settings.KeyPrefix, "nest_"), "timelapse", "mp4", now))

	listPath := filepath.Join(dir, ".concat_"+strconv.FormatInt(now.UnixNano(), 10))
	if err := renameio.WriteFile(listPath, a.concatList(photos), 0o644); err != nil {
		return media.Timelapse{}, fmt.Errorf("timelapse: write concat list: %w", err)
	}
	defer func() { _ = os.Remove(listPath) }()

	res, err := procrun.Run(ctx, "timelapse", assembleTimeout, a.ffmpegBin,
		"-hide_banner", "-loglevel", "error",
		"-f", "concat", "-safe", "0",
		"-i", listPath,
		"-r", strconv.Itoa(fps),
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		outPath,
	)
	if err != nil {
		return media.Timelapse{}, fmt.Errorf("timelapse: assemble: %w", err)
	}
	if res.ExitCode != 0 {
		return media.Timelapse{}, fmt.Errorf("timelapse: ffmpeg exit %d: %s", res.ExitCode, strings.TrimSpace(string(res.Stderr)))
	}
	if _, err := os.Stat(outPath); err != nil {
		return media.Timelapse{}, fmt.Errorf("timelapse: no output produced: %w", err)
	}

	rel, err := a.layout.Rel(outPath)
	if err != nil {
		rel = outPath
	}
	clip := media.Timelapse{
		Path:      rel,
		FromDate:  from,
		ToDate:    to,
		FPS:       fps,
		CreatedAt: now,
	}
	if clip.ID, err = a.catalog.AddTimelapse(ctx, clip); err != nil {
		return media.Timelapse{}, fmt.Errorf("timelapse: persist: %w", err)
	}

	a.logger.Info().
		Str("event", "timelapse.build").
		Str("path", rel).
		Int("frames", len(photos)).
		Msg("timelapse assembled")
	return clip, nil
}

// concatList renders the ffmpeg concat demuxer input: one file directive per
// snapshot, paths resolved against the media root.
func (a *Assembler) concatList(photos []media.Photo) []byte {
	var b strings.Builder
	for _, p := range photos {
		abs := p.Path
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(a.layout.Root, p.Path)
		}
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}
	return []byte(b.String())
}
