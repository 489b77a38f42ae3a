package motion

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	testW = 64
	testH = 48
)

func flatFrame(v uint8) []uint8 {
	f := make([]uint8, testW*testH)
	for i := range f {
		f[i] = v
	}
	return f
}

// withBlob returns a copy of frame with a bright square of the given side.
func withBlob(frame []uint8, side int) []uint8 {
	out := make([]uint8, len(frame))
	copy(out, frame)
	for y := 10; y < 10+side; y++ {
		for x := 10; x < 10+side; x++ {
			out[y*testW+x] = 255
		}
	}
	return out
}

func TestDetectorFirstFrameSeedsOnly(t *testing.T) {
	d := NewDetector(testW, testH, 25, 10)

	area, hit := d.Feed(withBlob(flatFrame(0), 20))
	assert.False(t, hit)
	assert.Zero(t, area)
}

func TestDetectorIdenticalFramesNoMotion(t *testing.T) {
	d := NewDetector(testW, testH, 25, 10)
	f := flatFrame(80)

	d.Feed(f)
	area, hit := d.Feed(f)
	assert.False(t, hit)
	assert.Zero(t, area)
}

func TestDetectorBlobTriggersMotion(t *testing.T) {
	d := NewDetector(testW, testH, 25, 10)

	d.Feed(flatFrame(0))
	area, hit := d.Feed(withBlob(flatFrame(0), 20))
	assert.True(t, hit)
	assert.GreaterOrEqual(t, area, 10)
}

func TestDetectorSmallChangeBelowMinArea(t *testing.T) {
	// Enormous minimum area: even a clear blob must not qualify.
	d := NewDetector(testW, testH, 25, testW*testH)

	d.Feed(flatFrame(0))
	_, hit := d.Feed(withBlob(flatFrame(0), 20))
	assert.False(t, hit)
}

func TestDetectorResetDropsReference(t *testing.T) {
	d := NewDetector(testW, testH, 25, 10)

	d.Feed(flatFrame(0))
	d.Reset()
	// After reset the blob frame becomes the new reference, not a diff.
	_, hit := d.Feed(withBlob(flatFrame(0), 20))
	assert.False(t, hit)
}

func TestDetectorWrongFrameSizeIgnored(t *testing.T) {
	d := NewDetector(testW, testH, 25, 10)
	_, hit := d.Feed(make([]uint8, 3))
	assert.False(t, hit)
}

func TestThresholdMask(t *testing.T) {
	src := []uint8{0, 24, 25, 26, 255}
	dst := make([]uint8, len(src))
	thresholdMask(dst, src, 25)
	assert.Equal(t, []uint8{0, 0, 1, 1, 1}, dst)
}

func TestAbsDiffSymmetric(t *testing.T) {
	a := []uint8{10, 200, 7}
	b := []uint8{30, 100, 7}
	d1 := make([]uint8, 3)
	d2 := make([]uint8, 3)
	absDiff(d1, a, b)
	absDiff(d2, b, a)
	assert.Equal(t, d1, d2)
	assert.Equal(t, []uint8{20, 100, 0}, d1)
}

func TestLargestRegionCountsBiggestComponent(t *testing.T) {
	d := NewDetector(8, 8, 25, 1)
	// two components: a 2x2 block and an isolated pixel
	for _, p := range []int{0, 1, 8, 9, 63} {
		d.mask[p] = 1
	}
	assert.Equal(t, 4, d.largestRegion())
}

func TestBoxBlurPreservesFlatFrame(t *testing.T) {
	src := flatFrame(128)
	dst := make([]uint8, len(src))
	tmp := make([]uint8, len(src))
	boxBlur(dst, tmp, src, testW, testH, blurRadius)
	assert.Equal(t, src, dst)
}
