package capture

import (
	"image"
	"time"

	"gocv.io/x/gocv"
)

// Frame is a captured raster with its sequence number. Once handed to the pipeline
// it is never mutated; a stage that draws must Clone first.
type Frame struct {
	Mat        gocv.Mat
	Seq        uint64
	CapturedAt time.Time
}

// NewFrame wraps mat. The frame takes ownership of mat.
func NewFrame(mat gocv.Mat, seq uint64) *Frame {
	return &Frame{Mat: mat, Seq: seq, CapturedAt: time.Now()}
}

// Size returns the frame dimensions.
func (f *Frame) Size() image.Point {
	if f == nil || f.Mat.Empty() {
		return image.Point{}
	}
	return image.Pt(f.Mat.Cols(), f.Mat.Rows())
}

// Clone returns a deep copy with the same metadata.
func (f *Frame) Clone() *Frame {
	return &Frame{Mat: f.Mat.Clone(), Seq: f.Seq, CapturedAt: f.CapturedAt}
}

// Close releases the underlying Mat. Safe to call on nil.
func (f *Frame) Close() {
	if f == nil {
		return
	}
	f.Mat.Close()
}

// ReleaseFrame is a release hook for pipeline slots holding frames.
func ReleaseFrame(f *Frame) {
	f.Close()
}
