// Package testdata generates synthetic frames for tests that need real Mats but no
// camera.
package testdata

import (
	"image"

	"gocv.io/x/gocv"
)

// Frame sizes used across tests.
var (
	SizeVGA  = image.Pt(640, 480)
	SizeQVGA = image.Pt(320, 240)
)

// SolidFrame returns a BGR frame filled with one grey level.
func SolidFrame(size image.Point, level float64) *gocv.Mat {
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(level, level, level, 0), size.Y, size.X, gocv.MatTypeCV8UC3)
	return &m
}

// MovingSquare returns n frames of a white square sliding left to right over a dark
// background, so consecutive frames always differ.
func MovingSquare(n int, size image.Point) []*gocv.Mat {
	side := size.Y / 4
	step := 1
	if n > 1 {
		step = (size.X - side) / (n - 1)
	}

	frames := make([]*gocv.Mat, 0, n)
	for i := 0; i < n; i++ {
		m := SolidFrame(size, 30)
		x := i * step
		sq := image.Rect(x, (size.Y-side)/2, x+side, (size.Y+side)/2)
		roi := m.Region(sq)
		roi.SetTo(gocv.NewScalar(255, 255, 255, 0))
		roi.Close()
		frames = append(frames, m)
	}
	return frames
}

// StaticSequence returns n identical frames.
func StaticSequence(n int, size image.Point) []*gocv.Mat {
	frames := make([]*gocv.Mat, 0, n)
	for i := 0; i < n; i++ {
		frames = append(frames, SolidFrame(size, 90))
	}
	return frames
}

// CloseAll releases every frame.
func CloseAll(frames []*gocv.Mat) {
	for _, f := range frames {
		if f != nil {
			f.Close()
		}
	}
}
