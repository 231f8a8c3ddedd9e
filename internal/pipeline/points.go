package pipeline

import (
	"fmt"
	"image"
	"sync"
)

// Label marks a steering point as part of the object or as background.
type Label int

const (
	// Background points exclude a region from the segmentation.
	Background Label = 0
	// Foreground points select the region to segment.
	Foreground Label = 1
)

func (l Label) String() string {
	switch l {
	case Background:
		return "background"
	case Foreground:
		return "foreground"
	default:
		return fmt.Sprintf("label(%d)", int(l))
	}
}

// Point is a labelled steering coordinate in frame pixels.
type Point struct {
	Pos   image.Point `json:"pos"`
	Label Label       `json:"label"`
}

// Points is an append-only list of steering points shared between the input
// collaborator and the consumer.
type Points struct {
	mu  sync.Mutex
	pts []Point
}

// Append adds a point at the end of the list.
func (p *Points) Append(pt Point) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pts = append(p.pts, pt)
}

// Snapshot returns a copy of the current points in append order.
func (p *Points) Snapshot() []Point {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Point, len(p.pts))
	copy(out, p.pts)
	return out
}

// Replace swaps the whole list, e.g. when loading a saved prompt.
func (p *Points) Replace(pts []Point) {
	cp := make([]Point, len(pts))
	copy(cp, pts)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.pts = cp
}

// Clear removes every point.
func (p *Points) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pts = nil
}

// Len returns the number of points.
func (p *Points) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pts)
}
