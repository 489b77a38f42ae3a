package stream

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/fbirkner/nestcam/internal/daynight"
	"github.com/fbirkner/nestcam/internal/ffmpeg"
	"github.com/fbirkner/nestcam/internal/settings"
)

// PlaylistName is the HLS index file the consumer rewrites on every new
// segment. Its mtime doubles as the pipeline's liveness artifact.
const PlaylistName = "index.m3u8"

const segmentPattern = "segment_%05d.ts"

// ingestArgs builds the capture leg: camera (and optionally microphone) in,
// one encoded MPEG-TS stream out over local UDP. Every downstream consumer
// (HLS packager, motion sampler, recorders, snapshots) taps that UDP URL, so
// this is the only process that touches the capture device.
func ingestArgs(snap settings.Snapshot, params daynight.StreamParams) []string {
	args := []string{"-hide_banner", "-loglevel", "warning"}

	args = append(args, ffmpeg.InputArgs(snap.Str(settings.KeyVideoSource, ""))...)

	audio := snap.Str(settings.KeyAudioSource, "")
	if audio != "" {
		args = append(args, ffmpeg.InputArgs(audio)...)
	}

	var filters []string
	if res := snap.Str(settings.KeyStreamRes, ""); res != "" {
		filters = append(filters, "scale="+scaleExpr(res))
	}
	if rot := ffmpeg.RotationFilter(snap.Int(settings.KeyVideoRotation, 0)); rot != "" {
		filters = append(filters, rot)
	}
	if params.Grayscale {
		filters = append(filters, ffmpeg.GrayscaleFilter)
	}
	args = append(args, ffmpeg.FilterArgs(filters...)...)

	fps := snap.Int(settings.KeyStreamFPS, 30)
	args = append(args,
		"-r", strconv.Itoa(fps),
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-tune", "zerolatency",
		"-crf", params.CRF,
		"-g", params.GOPSize,
		"-keyint_min", params.KeyintMin,
		"-sc_threshold", params.SCThreshold,
		"-pix_fmt", "yuv420p",
	)

	if audio != "" {
		args = append(args, "-c:a", "aac", "-b:a", "128k")
	} else {
		args = append(args, "-an")
	}

	args = append(args, "-f", "mpegts", snap.Str(settings.KeyStreamUDPURL, ""))
	return args
}

// consumerArgs builds the HLS packaging leg: copy-remux the ingest TS into a
// rolling playlist. No re-encode, so the consumer is cheap to restart.
func consumerArgs(snap settings.Snapshot, hlsDir string) []string {
	return []string{
		"-hide_banner", "-loglevel", "warning",
		"-fflags", "+genpts",
		"-i", snap.Str(settings.KeyStreamUDPURL, ""),
		"-c:v", "copy",
		"-c:a", "copy",
		"-f", "hls",
		"-hls_time", strconv.Itoa(snap.Int(settings.KeyHLSSegmentSeconds, 3)),
		"-hls_list_size", strconv.Itoa(snap.Int(settings.KeyHLSPlaylistSize, 6)),
		"-hls_flags", "delete_segments+append_list",
		"-hls_segment_filename", filepath.Join(hlsDir, segmentPattern),
		filepath.Join(hlsDir, PlaylistName),
	}
}

// scaleExpr turns "1280x720" into the "1280:720" form the scale filter wants.
// Anything without an "x" is passed through untouched.
func scaleExpr(res string) string {
	var w, h int
	if _, err := fmt.Sscanf(res, "%dx%d", &w, &h); err == nil && w > 0 && h > 0 {
		return fmt.Sprintf("%d:%d", w, h)
	}
	return res
}
