package render

import (
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// HUD is the status text drawn in the top-left corner.
type HUD struct {
	FPS         float64
	Engine      string
	Paused      bool
	Interactive bool

	// Set by Draw.
	Color  string
	Points int
	Extra  []string
}

// Lines returns the HUD text in display order.
func (h HUD) Lines() []string {
	lines := []string{fmt.Sprintf("FPS: %.1f", h.FPS)}
	if h.Engine != "" {
		lines = append(lines, "Engine: "+h.Engine)
	}
	if h.Color != "" {
		lines = append(lines, "Color: "+h.Color)
	}
	if h.Interactive {
		lines = append(lines, fmt.Sprintf("Points: %d", h.Points))
		if h.Points == 0 {
			lines = append(lines, "Left click: object, right click: background")
		}
	}
	if h.Paused {
		lines = append(lines, "PAUSED")
	}
	return append(lines, h.Extra...)
}

func (h HUD) draw(img *gocv.Mat) {
	const (
		scale     = 0.6
		thickness = 2
		lineStep  = 25
	)
	green := color.RGBA{G: 255}

	for i, line := range h.Lines() {
		pos := image.Pt(10, 30+i*lineStep)
		// Dark outline keeps the text readable on bright frames.
		gocv.PutText(img, line, pos, gocv.FontHersheySimplex, scale, black, thickness+2)
		gocv.PutText(img, line, pos, gocv.FontHersheySimplex, scale, green, thickness)
	}
}

// FPSMeter is an exponentially smoothed frame-rate counter.
type FPSMeter struct {
	mu   sync.Mutex
	last time.Time
	fps  float64
}

// Tick records a frame at now and returns the smoothed rate.
func (m *FPSMeter) Tick(now time.Time) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.last.IsZero() {
		if dt := now.Sub(m.last).Seconds(); dt > 0 {
			inst := 1 / dt
			if m.fps == 0 {
				m.fps = inst
			} else {
				m.fps = 0.9*m.fps + 0.1*inst
			}
		}
	}
	m.last = now
	return m.fps
}

// FPS returns the current smoothed rate.
func (m *FPSMeter) FPS() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fps
}
