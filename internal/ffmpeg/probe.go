package ffmpeg

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fbirkner/nestcam/internal/procrun"
)

const probeTimeout = 10 * time.Second

// MediaInfo describes a recorded file as reported by ffprobe.
type MediaInfo struct {
	Duration time.Duration
	Width    int
	Height   int
}

// Inspect runs ffprobe against path and parses duration and the first video
// stream's dimensions. Callers treat failure as non-fatal and fall back to
// the values they requested when building the recording.
func Inspect(ctx context.Context, probeBin, path string) (MediaInfo, error) {
	res, err := procrun.Run(ctx, "ffprobe", probeTimeout, probeBin,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height:format=duration",
		"-of", "default=noprint_wrappers=1",
		path,
	)
	if err != nil {
		return MediaInfo{}, fmt.Errorf("ffmpeg: probe %s: %w", path, err)
	}
	if res.ExitCode != 0 {
		return MediaInfo{}, fmt.Errorf("ffmpeg: probe %s: exit %d: %s", path, res.ExitCode, strings.TrimSpace(string(res.Stderr)))
	}

	info, err := parseProbeOutput(string(res.Stdout))
	if err != nil {
		return MediaInfo{}, fmt.Errorf("ffmpeg: probe %s: %w", path, err)
	}
	return info, nil
}

// parseProbeOutput reads the key=value lines of ffprobe's default writer.
func parseProbeOutput(out string) (MediaInfo, error) {
	var info MediaInfo
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch key {
		case "width":
			info.Width, _ = strconv.Atoi(value)
		case "height":
			info.Height, _ = strconv.Atoi(value)
		case "duration":
			if secs, err := strconv.ParseFloat(value, 64); err == nil {
				info.Duration = time.Duration(secs * float64(time.Second))
			}
		}
	}
	if info.Duration <= 0 && info.Width == 0 {
		return MediaInfo{}, fmt.Errorf("no usable fields in probe output")
	}
	return info, nil
}
