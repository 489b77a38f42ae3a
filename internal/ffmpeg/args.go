// Package ffmpeg builds ffmpeg argument vectors for the capture pipeline.
// All commands are spawned argv-style, never through a shell.
package ffmpeg

import "strings"

// InputArgs expands a configured source into input arguments. A source
// beginning with "-" is treated as raw ffmpeg input flags (e.g.
// "-f v4l2 -i /dev/video0"); anything else becomes a plain "-i" input.
func InputArgs(source string) []string {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil
	}
	if strings.HasPrefix(source, "-") {
		return strings.Fields(source)
	}
	return []string{"-i", source}
}

// RotationFilter maps a rotation in degrees to a transpose filter chain.
// Unsupported angles yield an empty filter (no rotation).
func RotationFilter(degrees int) string {
	switch ((degrees % 360) + 360) % 360 {
	case 90:
		return "transpose=1"
	case 180:
		return "transpose=1,transpose=1"
	case 270:
		return "transpose=2"
	default:
		return ""
	}
}

// FilterArgs joins non-empty filters into a single -vf argument pair.
// Returns nil when no filter applies.
func FilterArgs(filters ...string) []string {
	joined := make([]string, 0, len(filters))
	for _, f := range filters {
		if strings.TrimSpace(f) != "" {
			joined = append(joined, f)
		}
	}
	if len(joined) == 0 {
		return nil
	}
	return []string{"-vf", strings.Join(joined, ",")}
}

// GrayscaleFilter desaturates the image; applied at night.
const GrayscaleFilter = "hue=s=0"
