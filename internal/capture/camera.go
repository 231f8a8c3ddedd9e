// Package capture provides frame sources using GoCV (OpenCV).
package capture

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"gocv.io/x/gocv"
)

// Default capture settings
const (
	DefaultFPS    = 30
	DefaultWidth  = 640
	DefaultHeight = 480
)

var (
	// ErrCameraNotOpen is returned when trying to read from a camera that is not open.
	ErrCameraNotOpen = errors.New("camera is not open")

	// ErrSourceExhausted is returned when the source has no more frames, e.g. the end
	// of a video file or a dropped stream.
	ErrSourceExhausted = errors.New("frame source exhausted")
)

// Source names what to open: a device index or a URL/file path.
type Source struct {
	Device int
	URL    string
	Width  int
	Height int
	FPS    int
}

// ParseSource turns a flag value into a Source. Integers select a device, anything
// else is treated as a URL or file path.
func ParseSource(s string) Source {
	if id, err := strconv.Atoi(s); err == nil {
		return Source{Device: id}
	}
	return Source{URL: s}
}

// IsDevice reports whether the source is a local camera.
func (s Source) IsDevice() bool {
	return s.URL == ""
}

func (s Source) String() string {
	if s.IsDevice() {
		return fmt.Sprintf("device %d", s.Device)
	}
	return s.URL
}

// Camera defines the interface for frame sources.
type Camera interface {
	Open() error
	Close() error
	ReadFrame() (*gocv.Mat, error)
	SetFPS(fps int)
	FPS() int
	IsOpen() bool
}

// cameraImpl manages video capture from a device, stream or file using GoCV.
type cameraImpl struct {
	src     Source
	capture *gocv.VideoCapture
	mu      sync.Mutex
	running bool
	fps     int
}

// NewCamera creates a Camera for src. Zero width, height or fps take the defaults.
func NewCamera(src Source) Camera {
	if src.Width <= 0 {
		src.Width = DefaultWidth
	}
	if src.Height <= 0 {
		src.Height = DefaultHeight
	}
	if src.FPS <= 0 {
		src.FPS = DefaultFPS
	}
	return &cameraImpl{
		src: src,
		fps: src.FPS,
	}
}

// Open opens the source for capturing frames.
// Devices are asked for the configured resolution and rate; files and streams keep
// their own.
func (c *cameraImpl) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	var (
		capture *gocv.VideoCapture
		err     error
	)
	if c.src.IsDevice() {
		capture, err = gocv.OpenVideoCapture(c.src.Device)
	} else {
		capture, err = gocv.OpenVideoCapture(c.src.URL)
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", c.src, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return fmt.Errorf("open %s: capture not opened", c.src)
	}

	if c.src.IsDevice() {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(c.src.Width))
		capture.Set(gocv.VideoCaptureFrameHeight, float64(c.src.Height))
		capture.Set(gocv.VideoCaptureFPS, float64(c.fps))
	}

	c.capture = capture
	c.running = true

	return nil
}

// Close closes the source and releases resources.
func (c *cameraImpl) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		c.running = false
		return nil
	}

	err := c.capture.Close()
	c.capture = nil
	c.running = false

	return err
}

// ReadFrame reads a single frame.
// The caller is responsible for closing the returned Mat.
func (c *cameraImpl) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		return nil, ErrCameraNotOpen
	}

	mat := gocv.NewMat()
	if ok := c.capture.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		return nil, ErrSourceExhausted
	}

	return &mat, nil
}

// SetFPS sets the frames per second for capture.
// Values less than or equal to 0 are ignored.
func (c *cameraImpl) SetFPS(fps int) {
	if fps <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.fps = fps

	if c.capture != nil {
		c.capture.Set(gocv.VideoCaptureFPS, float64(fps))
	}
}

// FPS returns the current frames per second setting.
func (c *cameraImpl) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.fps
}

// IsOpen returns true if the source is currently open.
func (c *cameraImpl) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.running
}
