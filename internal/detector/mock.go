package detector

import (
	"context"
	"image"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/segcam/internal/capture"
	"github.com/ayusman/segcam/internal/pipeline"
)

// MockEngine is a test implementation of the Engine interface.
// It allows tests to control inference results and latency.
type MockEngine struct {
	mu     sync.Mutex
	hands  []HandLandmarks
	dets   []Detection
	err    error
	delay  time.Duration
	calls  int
	points [][]pipeline.Point
	closed bool

	promptable bool
}

// NewMockEngine creates a new MockEngine instance. By default it returns a mask
// covering the centre quarter of every frame.
func NewMockEngine() *MockEngine {
	return &MockEngine{}
}

// SetHands makes Infer return hand results.
func (m *MockEngine) SetHands(hands []HandLandmarks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hands = hands
}

// SetDetections makes Infer return detection results.
func (m *MockEngine) SetDetections(dets []Detection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dets = dets
}

// SetError sets the error that will be returned by Infer.
func (m *MockEngine) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetPromptable makes Infer fail with ErrNoPrompt when called without points,
// like the SAM2 engine.
func (m *MockEngine) SetPromptable(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.promptable = on
}

// SetDelay makes each Infer call take at least d.
func (m *MockEngine) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Calls returns how many times Infer ran.
func (m *MockEngine) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// PointsSeen returns the point snapshots passed to each call.
func (m *MockEngine) PointsSeen() [][]pipeline.Point {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]pipeline.Point(nil), m.points...)
}

// Closed reports whether Close was called.
func (m *MockEngine) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Name returns "mock".
func (m *MockEngine) Name() string { return "mock" }

// Infer returns the configured result or error.
func (m *MockEngine) Infer(ctx context.Context, frame *capture.Frame, points []pipeline.Point) (*Result, error) {
	m.mu.Lock()
	m.calls++
	m.points = append(m.points, points)
	delay, err := m.delay, m.err
	if m.promptable && len(points) == 0 {
		err = ErrNoPrompt
	}
	hands, dets := m.hands, m.dets
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	r := &Result{
		Seq:    frame.Seq,
		Engine: m.Name(),
		Points: points,
		At:     time.Now(),
	}
	switch {
	case hands != nil:
		r.Kind = KindHands
		r.Hands = hands
		r.Mask = gocv.NewMat()
	case dets != nil:
		r.Kind = KindDetections
		r.Detections = dets
		r.Mask = gocv.NewMat()
	default:
		r.Kind = KindMask
		r.Mask = centreMask(frame)
		r.Score = 0.9
	}
	return r, nil
}

// Close marks the engine closed.
func (m *MockEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func centreMask(frame *capture.Frame) gocv.Mat {
	size := frame.Size()
	mask := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), size.Y, size.X, gocv.MatTypeCV8UC1)
	roi := mask.Region(image.Rect(size.X/4, size.Y/4, size.X*3/4, size.Y*3/4))
	roi.SetTo(gocv.NewScalar(255, 0, 0, 0))
	roi.Close()
	return mask
}

// ThumbsUpLandmarks returns a preset HandLandmarks representing a thumbs up gesture.
// The thumb is extended upward while other fingers are curled.
func ThumbsUpLandmarks() HandLandmarks {
	landmarks := HandLandmarks{
		Handedness: "Right",
		Score:      0.95,
	}

	landmarks.Points[Wrist] = Point3D{X: 0.5, Y: 0.8}

	landmarks.Points[ThumbCMC] = Point3D{X: 0.55, Y: 0.75}
	landmarks.Points[ThumbMCP] = Point3D{X: 0.58, Y: 0.65}
	landmarks.Points[ThumbIP] = Point3D{X: 0.58, Y: 0.50}
	landmarks.Points[ThumbTip] = Point3D{X: 0.60, Y: 0.35}

	// Curled fingers have their tips below the PIP joints.
	for _, base := range []int{IndexMCP, MiddleMCP, RingMCP, PinkyMCP} {
		x := 0.55 - float64(base-IndexMCP)*0.0125
		landmarks.Points[base] = Point3D{X: x, Y: 0.70, Z: -0.02}
		landmarks.Points[base+1] = Point3D{X: x, Y: 0.66, Z: -0.05}
		landmarks.Points[base+2] = Point3D{X: x - 0.03, Y: 0.69, Z: -0.04}
		landmarks.Points[base+3] = Point3D{X: x - 0.05, Y: 0.72, Z: -0.02}
	}

	return landmarks
}

// OpenPalmLandmarks returns a preset HandLandmarks representing an open palm.
// All fingers are extended.
func OpenPalmLandmarks() HandLandmarks {
	landmarks := HandLandmarks{
		Handedness: "Right",
		Score:      0.95,
	}

	landmarks.Points[Wrist] = Point3D{X: 0.5, Y: 0.8}

	landmarks.Points[ThumbCMC] = Point3D{X: 0.55, Y: 0.75, Z: 0.02}
	landmarks.Points[ThumbMCP] = Point3D{X: 0.62, Y: 0.70, Z: 0.03}
	landmarks.Points[ThumbIP] = Point3D{X: 0.68, Y: 0.65, Z: 0.03}
	landmarks.Points[ThumbTip] = Point3D{X: 0.73, Y: 0.60, Z: 0.03}

	for _, base := range []int{IndexMCP, MiddleMCP, RingMCP, PinkyMCP} {
		x := 0.58 - float64(base-IndexMCP)*0.02
		landmarks.Points[base] = Point3D{X: x, Y: 0.68}
		landmarks.Points[base+1] = Point3D{X: x, Y: 0.55}
		landmarks.Points[base+2] = Point3D{X: x, Y: 0.45}
		landmarks.Points[base+3] = Point3D{X: x, Y: 0.35}
	}

	return landmarks
}
