package app

import (
	"image"

	"gocv.io/x/gocv"

	"github.com/ayusman/segcam/internal/config"
	"github.com/ayusman/segcam/internal/pipeline"
)

// OpenCV mouse event codes.
const (
	mouseLeftDown  = 1
	mouseRightDown = 2
)

// Display shows rendered frames and reports key presses.
type Display interface {
	Show(img gocv.Mat)
	// Key returns the key pressed since the last call, or -1.
	Key() int
	Close() error
}

// pointSink receives mouse clicks as steering points.
type pointSink interface {
	AddPoint(at image.Point, label pipeline.Label)
}

func newDisplay(cfg config.RenderConfig, sink pointSink) (Display, error) {
	if cfg.Headless {
		return headless{}, nil
	}
	return newWindowDisplay(cfg.Window, sink), nil
}

// windowDisplay is a HighGUI window with left click for foreground points and
// right click for background points.
type windowDisplay struct {
	window *gocv.Window
}

func newWindowDisplay(name string, sink pointSink) *windowDisplay {
	w := gocv.NewWindow(name)
	w.SetMouseHandler(func(event, x, y, _ int, _ interface{}) {
		if label, ok := clickLabel(event); ok {
			sink.AddPoint(image.Pt(x, y), label)
		}
	}, nil)
	return &windowDisplay{window: w}
}

func clickLabel(event int) (pipeline.Label, bool) {
	switch event {
	case mouseLeftDown:
		return pipeline.Foreground, true
	case mouseRightDown:
		return pipeline.Background, true
	default:
		return pipeline.Background, false
	}
}

func (d *windowDisplay) Show(img gocv.Mat) { d.window.IMShow(img) }
func (d *windowDisplay) Key() int          { return d.window.WaitKey(1) }
func (d *windowDisplay) Close() error      { return d.window.Close() }

// headless discards frames.
type headless struct{}

func (headless) Show(gocv.Mat) {}
func (headless) Key() int      { return -1 }
func (headless) Close() error  { return nil }
