package pipeline

import (
	"fmt"
	"image"
	"strings"
	"sync/atomic"
)

// DropPolicy decides what happens when a frame is offered while another one is
// still pending.
type DropPolicy int

const (
	// DropOldest replaces the pending frame with the new one. The consumer always
	// sees the freshest frame.
	DropOldest DropPolicy = iota
	// DropNewest keeps the pending frame and discards the new one.
	DropNewest
)

func (d DropPolicy) String() string {
	switch d {
	case DropOldest:
		return "drop_oldest"
	case DropNewest:
		return "drop_newest"
	default:
		return fmt.Sprintf("drop_policy(%d)", int(d))
	}
}

// ParseDropPolicy parses "drop_oldest" or "drop_newest". Empty means DropOldest.
func ParseDropPolicy(s string) (DropPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "drop_oldest", "oldest", "replace":
		return DropOldest, nil
	case "drop_newest", "newest", "keep":
		return DropNewest, nil
	default:
		return DropOldest, fmt.Errorf("unknown drop policy %q", s)
	}
}

// Config holds the ownership hooks and mailbox policy of a Pipeline.
type Config[F, R any] struct {
	Policy DropPolicy

	// ReleaseFrame is called for frames the pipeline discards and for frames the
	// worker has finished with.
	ReleaseFrame func(F)

	// ReleaseResult is called for results overwritten or cleared from the
	// latest-result slot.
	ReleaseResult func(R)

	// CloneResult makes Peek hand out a private copy.
	CloneResult func(R) R
}

// Stats is a snapshot of mailbox counters.
type Stats struct {
	Offered   uint64
	Dropped   uint64
	Taken     uint64
	Published uint64
}

// Pipeline owns the pending-frame slot, the latest-result slot and the steering
// points. It is created at startup and shared by reference between the producer,
// the consumer and the renderer.
type Pipeline[F, R any] struct {
	pending       *Slot[F]
	latest        *Slot[R]
	points        Points
	policy        DropPolicy
	releaseFrame  func(F)
	releaseResult func(R)

	offered   atomic.Uint64
	dropped   atomic.Uint64
	taken     atomic.Uint64
	published atomic.Uint64
}

// New creates a Pipeline with empty slots.
func New[F, R any](cfg Config[F, R]) *Pipeline[F, R] {
	var resultOpts []SlotOption[R]
	if cfg.ReleaseResult != nil {
		resultOpts = append(resultOpts, WithRelease(cfg.ReleaseResult))
	}
	if cfg.CloneResult != nil {
		resultOpts = append(resultOpts, WithClone(cfg.CloneResult))
	}

	var frameOpts []SlotOption[F]
	if cfg.ReleaseFrame != nil {
		frameOpts = append(frameOpts, WithRelease(cfg.ReleaseFrame))
	}

	return &Pipeline[F, R]{
		pending:       NewSlot(frameOpts...),
		latest:        NewSlot(resultOpts...),
		policy:        cfg.Policy,
		releaseFrame:  cfg.ReleaseFrame,
		releaseResult: cfg.ReleaseResult,
	}
}

// Policy returns the mailbox policy.
func (p *Pipeline[F, R]) Policy() DropPolicy {
	return p.policy
}

// Offer hands a frame to the consumer without blocking. Ownership of frame passes
// to the pipeline. Under DropOldest an untaken frame is replaced; under DropNewest
// the offered frame is discarded if the slot is occupied.
func (p *Pipeline[F, R]) Offer(frame F) {
	p.offered.Add(1)

	switch p.policy {
	case DropNewest:
		if !p.pending.PutIfEmpty(frame) {
			p.dropped.Add(1)
		}
	default:
		if p.pending.Put(frame) {
			p.dropped.Add(1)
		}
	}
}

// Take removes the pending frame, if any. The caller owns the returned frame.
func (p *Pipeline[F, R]) Take() (F, bool) {
	f, ok := p.pending.Take()
	if ok {
		p.taken.Add(1)
	}
	return f, ok
}

// Publish replaces the latest result unconditionally.
func (p *Pipeline[F, R]) Publish(result R) {
	p.latest.Put(result)
	p.published.Add(1)
}

// Peek returns the latest result without removing it.
func (p *Pipeline[F, R]) Peek() (R, bool) {
	return p.latest.Peek()
}

// ClearResult drops the latest result so the renderer falls back to raw frames.
func (p *Pipeline[F, R]) ClearResult() {
	p.latest.Clear()
}

// AppendPoint adds a steering point for the next inference cycles.
func (p *Pipeline[F, R]) AppendPoint(at image.Point, label Label) {
	p.points.Append(Point{Pos: at, Label: label})
}

// SnapshotPoints returns a private copy of the steering points.
func (p *Pipeline[F, R]) SnapshotPoints() []Point {
	return p.points.Snapshot()
}

// SetPoints replaces all steering points.
func (p *Pipeline[F, R]) SetPoints(pts []Point) {
	p.points.Replace(pts)
}

// ClearPoints removes all steering points.
func (p *Pipeline[F, R]) ClearPoints() {
	p.points.Clear()
}

// PointCount returns the number of steering points.
func (p *Pipeline[F, R]) PointCount() int {
	return p.points.Len()
}

// Release disposes of a frame obtained from Take.
func (p *Pipeline[F, R]) Release(frame F) {
	if p.releaseFrame != nil {
		p.releaseFrame(frame)
	}
}

// Discard disposes of a result that will never be published.
func (p *Pipeline[F, R]) Discard(result R) {
	if p.releaseResult != nil {
		p.releaseResult(result)
	}
}

// Reset empties both slots. Called at shutdown.
func (p *Pipeline[F, R]) Reset() {
	p.pending.Clear()
	p.latest.Clear()
}

// Stats returns the mailbox counters.
func (p *Pipeline[F, R]) Stats() Stats {
	return Stats{
		Offered:   p.offered.Load(),
		Dropped:   p.dropped.Load(),
		Taken:     p.taken.Load(),
		Published: p.published.Load(),
	}
}
