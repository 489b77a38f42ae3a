package daynight

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fbirkner/nestcam/internal/ffmpeg"
	"github.com/fbirkner/nestcam/internal/procrun"
)

const (
	captureTimeout = 15 * time.Second
	analyzeTimeout = 10 * time.Second
)

// FFmpegProber measures brightness by capturing one test frame from the
// source and running a signalstats pass over it. The mean luminance (YAVG,
// 0-255) is normalized to a 0-100 scale.
type FFmpegProber struct {
	Bin     string     // ffmpeg binary, default "ffmpeg"
	TempDir string     // scratch dir for test frames, default os.TempDir()
	Source  SourceFunc // yields the current video source
}

// Brightness captures and scores one frame. Any failure (missing source,
// capture timeout, unparsable stats) is returned as an error; the controller
// decides the fallback.
func (p *FFmpegProber) Brightness(ctx context.Context) (float64, error) {
	source := ""
	if p.Source != nil {
		source = p.Source(ctx)
	}
	if strings.TrimSpace(source) == "" {
		return 0, fmt.Errorf("daynight: video source not configured")
	}

	framePath, err := p.captureTestFrame(ctx, source)
	if err != nil {
		return 0, err
	}
	defer func() { _ = os.Remove(framePath) }()

	return p.analyze(ctx, framePath)
}

func (p *FFmpegProber) bin() string {
	if p.Bin != "" {
		return p.Bin
	}
	return "ffmpeg"
}

func (p *FFmpegProber) captureTestFrame(ctx context.Context, source string) (string, error) {
	dir := p.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("daynight: create temp dir: %w", err)
	}
	outPath := filepath.Join(dir, "brightness_test.jpg")

	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, ffmpeg.InputArgs(source)...)
	args = append(args, "-frames:v", "1", "-q:v", "2", "-y", outPath)

	if _, err := procrun.Run(ctx, "daynight", captureTimeout, p.bin(), args...); err != nil {
		return "", fmt.Errorf("daynight: capture test frame: %w", err)
	}
	if _, err := os.Stat(outPath); err != nil {
		return "", fmt.Errorf("daynight: test frame not created: %w", err)
	}
	return outPath, nil
}

func (p *FFmpegProber) analyze(ctx context.Context, imagePath string) (float64, error) {
	args := []string{
		"-hide_banner",
		"-i", imagePath,
		"-vf", "signalstats",
		"-f", "null", "-",
	}

	res, err := procrun.Run(ctx, "daynight", analyzeTimeout, p.bin(), args...)
	if err != nil {
		return 0, fmt.Errorf("daynight: signalstats: %w", err)
	}

	// signalstats reports per-frame stats on stderr as
	// [Parsed_signalstats_0 @ ...] YAVG:123.456
	yavg, ok := ParseYAVG(string(res.Stderr))
	if !ok {
		return 0, fmt.Errorf("daynight: no YAVG in signalstats output")
	}
	return yavg / 255.0 * 100.0, nil
}

// ParseYAVG extracts the first YAVG value from ffmpeg signalstats output.
func ParseYAVG(output string) (float64, bool) {
	for _, line := range strings.Split(output, "\n") {
		idx := strings.Index(line, "YAVG:")
		if idx < 0 {
			continue
		}
		rest := strings.Fields(line[idx+len("YAVG:"):])
		if len(rest) == 0 {
			continue
		}
		if v, err := strconv.ParseFloat(rest[0], 64); err == nil {
			return v, true
		}
	}
	return 0, false
}
