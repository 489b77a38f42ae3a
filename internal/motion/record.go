package motion

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"time"

	"github.com/fbirkner/nestcam/internal/ffmpeg"
	"github.com/fbirkner/nestcam/internal/media"
	"github.com/fbirkner/nestcam/internal/procrun"
	"github.com/fbirkner/nestcam/internal/settings"
)

// ffmpegInspect is a seam for tests; production code uses ffprobe.
var ffmpegInspect = ffmpeg.Inspect

// recordArgs builds the clip capture command: copy-remux from the shared
// transport for a fixed wall-clock duration. Audio is included only when an
// audio source is configured, since the transport carries no audio track
// otherwise and ffmpeg would fail mapping one.
func recordArgs(snap settings.Snapshot, duration time.Duration, outPath string) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-i", snap.Str(settings.KeyStreamUDPURL, ""),
		"-t", fmt.Sprintf("%d", int(duration.Seconds())),
		"-c:v", "copy",
	}
	if snap.Str(settings.KeyAudioSource, "") != "" {
		args = append(args, "-c:a", "copy")
	} else {
		args = append(args, "-an")
	}
	return append(args, outPath)
}

// runRecording executes the capture with a timeout slightly beyond the
// requested duration; on timeout the process group is killed and the partial
// file, if any, is left for the caller to judge.
func runRecording(ctx context.Context, bin string, snap settings.Snapshot, duration time.Duration, outPath string) (procrun.Result, error) {
	return procrun.Run(ctx, "motion-record", duration+recordTimeoutSlack, bin,
		recordArgs(snap, duration, outPath)...)
}

// saveTriggerFrame persists the grayscale frame that fired the trigger as a
// JPEG next to the clip and records a photo row for it.
func (c *Coordinator) saveTriggerFrame(ctx context.Context, frame []uint8, dir, prefix string, ts time.Time) {
	img := &image.Gray{
		Pix:    frame,
		Stride: sampleWidth,
		Rect:   image.Rect(0, 0, sampleWidth, sampleHeight),
	}

	path := filepath.Join(dir, media.Filename(prefix, "motion", "jpg", ts))
	f, err := os.Create(path)
	if err != nil {
		c.logger.Warn().Err(err).Msg("creating trigger frame file failed")
		return
	}
	defer f.Close()

	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 85}); err != nil {
		c.logger.Warn().Err(err).Msg("encoding trigger frame failed")
		return
	}

	rel, err := c.layout.Rel(path)
	if err != nil {
		rel = path
	}
	if _, err := c.catalog.AddPhoto(ctx, media.Photo{
		Path:       rel,
		CreatedAt:  ts,
		Resolution: fmt.Sprintf("%dx%d", sampleWidth, sampleHeight),
	}); err != nil {
		c.logger.Warn().Err(err).Msg("persisting trigger frame row failed")
	}
}
