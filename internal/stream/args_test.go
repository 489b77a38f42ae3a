package stream

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fbirkner/nestcam/internal/daynight"
	"github.com/fbirkner/nestcam/internal/settings"
)

func TestIngestArgsDayProfile(t *testing.T) {
	snap := settings.FromMap(map[string]string{
		settings.KeyVideoSource:  "/dev/video0",
		settings.KeyAudioSource:  "",
		settings.KeyStreamRes:    "1280x720",
		settings.KeyStreamFPS:    "30",
		settings.KeyStreamUDPURL: "udp://127.0.0.1:5004",
	})
	params := daynight.StreamParams{CRF: "23", GOPSize: "60", KeyintMin: "30", SCThreshold: "0"}

	args := ingestArgs(snap, params)
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-i /dev/video0")
	assert.Contains(t, joined, "-vf scale=1280:720")
	assert.Contains(t, joined, "-crf 23")
	assert.Contains(t, joined, "-an")
	assert.NotContains(t, joined, "hue=s=0")
	require.Equal(t, "udp://127.0.0.1:5004", args[len(args)-1])
}

func TestIngestArgsNightProfile(t *testing.T) {
	snap := settings.FromMap(map[string]string{
		settings.KeyVideoSource:   "/dev/video0",
		settings.KeyAudioSource:   "-f alsa -i hw:1",
		settings.KeyStreamRes:     "1280x720",
		settings.KeyStreamFPS:     "25",
		settings.KeyVideoRotation: "180",
		settings.KeyStreamUDPURL:  "udp://127.0.0.1:5004",
	})
	params := daynight.StreamParams{CRF: "22", GOPSize: "50", KeyintMin: "25", SCThreshold: "0", Grayscale: true}

	joined := strings.Join(ingestArgs(snap, params), " ")

	assert.Contains(t, joined, "hue=s=0")
	assert.Contains(t, joined, "transpose=1,transpose=1")
	assert.Contains(t, joined, "-f alsa -i hw:1")
	assert.Contains(t, joined, "-c:a aac")
	assert.NotContains(t, joined, "-an")
}

func TestConsumerArgs(t *testing.T) {
	snap := settings.FromMap(map[string]string{
		settings.KeyStreamUDPURL:      "udp://127.0.0.1:5004",
		settings.KeyHLSSegmentSeconds: "3",
		settings.KeyHLSPlaylistSize:   "6",
	})

	args := consumerArgs(snap, "/srv/hls")
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-i udp://127.0.0.1:5004")
	assert.Contains(t, joined, "-c:v copy")
	assert.Contains(t, joined, "-hls_time 3")
	assert.Contains(t, joined, "-hls_list_size 6")
	assert.Contains(t, joined, "delete_segments+append_list")
	require.Equal(t, "/srv/hls/index.m3u8", args[len(args)-1])
}

func TestScaleExpr(t *testing.T) {
	assert.Equal(t, "1280:720", scaleExpr("1280x720"))
	assert.Equal(t, "640:480", scaleExpr("640x480"))
	// non-standard values pass through for ffmpeg to reject or accept
	assert.Equal(t, "iw/2:ih/2", scaleExpr("iw/2:ih/2"))
}

func TestModeFromSetting(t *testing.T) {
	assert.Equal(t, ModeSegmented, modeFromSetting("hls"))
	assert.Equal(t, ModeSegmented, modeFromSetting(""))
	assert.Equal(t, ModeDirect, modeFromSetting("direct"))
	assert.Equal(t, ModeDirect, modeFromSetting("udp"))
}
