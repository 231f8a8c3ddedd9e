package capture

import (
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// Motion gate constants
const (
	// DefaultMotionThreshold is the percentage of changed pixels that counts as motion.
	DefaultMotionThreshold = 1.0

	// motionBlurSize is the Gaussian kernel applied before differencing.
	motionBlurSize = 21
	// motionDiffThreshold is the per-pixel difference counted as change.
	motionDiffThreshold = 25
	// motionProbeWidth is the width frames are shrunk to before comparison.
	motionProbeWidth = 160
)

// MotionGate decides whether a frame differs enough from the last accepted one to
// be worth inferring. A static scene keeps its last result instead of re-running
// the model on identical frames.
type MotionGate struct {
	threshold float64
	prev      gocv.Mat
	primed    bool
	mu        sync.Mutex
}

// NewMotionGate creates a gate. threshold is the percentage of changed pixels needed
// to let a frame through, e.g. 1.0 means 1%.
func NewMotionGate(threshold float64) *MotionGate {
	return &MotionGate{
		threshold: threshold,
		prev:      gocv.NewMat(),
	}
}

// Allow reports whether frame should be offered and the percentage of pixels that
// changed. The first frame is always allowed. When haveResult is false the frame is
// allowed regardless of motion so a result eventually exists.
func (g *MotionGate) Allow(frame gocv.Mat, haveResult bool) (bool, float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if frame.Empty() {
		return false, 0
	}

	small := shrinkGray(frame)
	defer small.Close()

	if !g.primed || small.Rows() != g.prev.Rows() || small.Cols() != g.prev.Cols() {
		small.CopyTo(&g.prev)
		g.primed = true
		return true, 100
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(small, g.prev, &diff)

	mask := gocv.NewMat()
	defer mask.Close()
	gocv.Threshold(diff, &mask, motionDiffThreshold, 255, gocv.ThresholdBinary)

	changed := float64(gocv.CountNonZero(mask)) / float64(mask.Rows()*mask.Cols()) * 100.0

	moved := changed > g.threshold
	if moved || !haveResult {
		small.CopyTo(&g.prev)
		return true, changed
	}
	return false, changed
}

// Reset forgets the reference frame.
func (g *MotionGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.prev.Close()
	g.prev = gocv.NewMat()
	g.primed = false
}

// Close releases the reference frame.
func (g *MotionGate) Close() {
	g.Reset()
}

// SetThreshold changes the motion threshold. Values <= 0 are ignored.
func (g *MotionGate) SetThreshold(threshold float64) {
	if threshold <= 0 {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.threshold = threshold
}

func shrinkGray(frame gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	if frame.Channels() > 1 {
		gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray)
	} else {
		frame.CopyTo(&gray)
	}

	if gray.Cols() > motionProbeWidth {
		h := gray.Rows() * motionProbeWidth / gray.Cols()
		small := gocv.NewMat()
		gocv.Resize(gray, &small, image.Pt(motionProbeWidth, h), 0, 0, gocv.InterpolationArea)
		gray.Close()
		gray = small
	}

	blurred := gocv.NewMat()
	gocv.GaussianBlur(gray, &blurred, image.Pt(motionBlurSize, motionBlurSize), 0, 0, gocv.BorderDefault)
	gray.Close()
	return blurred
}
