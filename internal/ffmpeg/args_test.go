package ffmpeg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInputArgs(t *testing.T) {
	assert.Equal(t, []string{"-i", "/dev/video0"}, InputArgs("/dev/video0"))
	assert.Equal(t, []string{"-f", "v4l2", "-i", "/dev/video0"}, InputArgs("-f v4l2 -i /dev/video0"))
	assert.Nil(t, InputArgs(""))
	assert.Nil(t, InputArgs("   "))
}

func TestRotationFilter(t *testing.T) {
	assert.Equal(t, "transpose=1", RotationFilter(90))
	assert.Equal(t, "transpose=1,transpose=1", RotationFilter(180))
	assert.Equal(t, "transpose=2", RotationFilter(270))
	assert.Equal(t, "transpose=2", RotationFilter(-90))
	assert.Equal(t, "transpose=1", RotationFilter(450))
	assert.Empty(t, RotationFilter(0))
	assert.Empty(t, RotationFilter(45))
}

func TestFilterArgs(t *testing.T) {
	assert.Equal(t, []string{"-vf", "scale=1280:720,transpose=1"},
		FilterArgs("scale=1280:720", "", "transpose=1"))
	assert.Nil(t, FilterArgs("", "  "))
	assert.Nil(t, FilterArgs())
}
