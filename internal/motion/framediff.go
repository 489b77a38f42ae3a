package motion

// Grayscale frame-difference detection over raw 8-bit planes. Frames arrive
// from the sampler as w*h byte slices; each is smoothed, differenced against
// the previous smoothed frame, thresholded, dilated, and scanned for
// connected regions. Any region at or above the configured minimum area is a
// motion event.

const (
	blurRadius       = 10 // ~21x21 smoothing window
	dilateIterations = 2
)

// Detector holds the per-stream state of the differencing pipeline. Not safe
// for concurrent use; each detection loop owns exactly one.
type Detector struct {
	w, h    int
	thresh  uint8
	minArea int

	hasPrev bool
	prev    []uint8
	blurred []uint8
	scratch []uint8
	diff    []uint8
	mask    []uint8
	stack   []int32
}

// NewDetector creates a detector for w*h grayscale frames. thresh is the
// per-pixel difference cutoff, minArea the smallest region (in pixels)
// counted as motion.
func NewDetector(w, h, thresh, minArea int) *Detector {
	n := w * h
	return &Detector{
		w:       w,
		h:       h,
		thresh:  clampU8(thresh),
		minArea: minArea,
		prev:    make([]uint8, n),
		blurred: make([]uint8, n),
		scratch: make([]uint8, n),
		diff:    make([]uint8, n),
		mask:    make([]uint8, n),
	}
}

// Feed processes one frame and reports the largest changed region. The first
// frame only seeds the reference and never signals motion.
func (d *Detector) Feed(frame []uint8) (area int, motion bool) {
	if len(frame) != d.w*d.h {
		return 0, false
	}

	boxBlur(d.blurred, d.scratch, frame, d.w, d.h, blurRadius)

	if !d.hasPrev {
		copy(d.prev, d.blurred)
		d.hasPrev = true
		return 0, false
	}

	absDiff(d.diff, d.prev, d.blurred)
	copy(d.prev, d.blurred)

	thresholdMask(d.mask, d.diff, d.thresh)
	for i := 0; i < dilateIterations; i++ {
		dilate(d.scratch, d.mask, d.w, d.h)
		d.mask, d.scratch = d.scratch, d.mask
	}

	area = d.largestRegion()
	return area, area >= d.minArea
}

// Reset drops the reference frame, e.g. after a source reconnect, so the
// first frame of the new stream cannot diff against stale content.
func (d *Detector) Reset() {
	d.hasPrev = false
}

// boxBlur writes a mean-filtered copy of src into dst using tmp as the
// intermediate for the separable horizontal+vertical passes. Runs in O(n)
// regardless of radius via a sliding window sum.
func boxBlur(dst, tmp, src []uint8, w, h, radius int) {
	if radius <= 0 {
		copy(dst, src)
		return
	}

	// horizontal pass: src -> tmp
	for y := 0; y < h; y++ {
		row := src[y*w : (y+1)*w]
		out := tmp[y*w : (y+1)*w]
		sum := 0
		for x := -radius; x <= radius; x++ {
			sum += int(row[clampIdx(x, w)])
		}
		n := 2*radius + 1
		for x := 0; x < w; x++ {
			out[x] = uint8(sum / n)
			sum += int(row[clampIdx(x+radius+1, w)]) - int(row[clampIdx(x-radius, w)])
		}
	}

	// vertical pass: tmp -> dst
	n := 2*radius + 1
	for x := 0; x < w; x++ {
		sum := 0
		for y := -radius; y <= radius; y++ {
			sum += int(tmp[clampIdx(y, h)*w+x])
		}
		for y := 0; y < h; y++ {
			dst[y*w+x] = uint8(sum / n)
			sum += int(tmp[clampIdx(y+radius+1, h)*w+x]) - int(tmp[clampIdx(y-radius, h)*w+x])
		}
	}
}

func absDiff(dst, a, b []uint8) {
	for i := range dst {
		d := int(a[i]) - int(b[i])
		if d < 0 {
			d = -d
		}
		dst[i] = uint8(d)
	}
}

func thresholdMask(dst, src []uint8, thresh uint8) {
	for i := range dst {
		if src[i] >= thresh {
			dst[i] = 1
		} else {
			dst[i] = 0
		}
	}
}

// dilate grows set pixels by one in a 3x3 neighborhood.
func dilate(dst, src []uint8, w, h int) {
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(0)
		neighbors:
			for dy := -1; dy <= 1; dy++ {
				yy := y + dy
				if yy < 0 || yy >= h {
					continue
				}
				for dx := -1; dx <= 1; dx++ {
					xx := x + dx
					if xx < 0 || xx >= w {
						continue
					}
					if src[yy*w+xx] != 0 {
						v = 1
						break neighbors
					}
				}
			}
			dst[y*w+x] = v
		}
	}
}

// largestRegion flood-fills the mask (8-connected) and returns the biggest
// region's pixel count. The mask is consumed in the process.
func (d *Detector) largestRegion() int {
	w, h := d.w, d.h
	best := 0
	d.stack = d.stack[:0]

	for i := range d.mask {
		if d.mask[i] == 0 {
			continue
		}
		area := 0
		d.mask[i] = 0
		d.stack = append(d.stack, int32(i))
		for len(d.stack) > 0 {
			p := int(d.stack[len(d.stack)-1])
			d.stack = d.stack[:len(d.stack)-1]
			area++

			px, py := p%w, p/w
			for dy := -1; dy <= 1; dy++ {
				yy := py + dy
				if yy < 0 || yy >= h {
					continue
				}
				for dx := -1; dx <= 1; dx++ {
					xx := px + dx
					if xx < 0 || xx >= w {
						continue
					}
					q := yy*w + xx
					if d.mask[q] != 0 {
						d.mask[q] = 0
						d.stack = append(d.stack, int32(q))
					}
				}
			}
		}
		if area > best {
			best = area
		}
	}
	return best
}

func clampIdx(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

func clampU8(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
