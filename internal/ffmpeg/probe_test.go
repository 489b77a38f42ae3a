package ffmpeg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProbeOutput(t *testing.T) {
	out := "width=1280\nheight=720\nduration=10.500000\n"

	info, err := parseProbeOutput(out)

	require.NoError(t, err)
	assert.Equal(t, 1280, info.Width)
	assert.Equal(t, 720, info.Height)
	assert.Equal(t, 10500*time.Millisecond, info.Duration)
}

func TestParseProbeOutputDimensionsOnly(t *testing.T) {
	info, err := parseProbeOutput("width=320\nheight=240\nduration=N/A\n")

	require.NoError(t, err)
	assert.Equal(t, 320, info.Width)
	assert.Zero(t, info.Duration)
}

func TestParseProbeOutputEmpty(t *testing.T) {
	_, err := parseProbeOutput("garbage with no fields")
	assert.Error(t, err)
}
