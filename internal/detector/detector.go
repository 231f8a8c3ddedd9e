// Package detector provides the inference engines the pipeline worker drives:
// promptable segmentation and hand landmarks served by a Python subprocess, and
// helmet detection run in-process with the OpenCV DNN module.
package detector

import (
	"errors"
	"fmt"
	"image"
	"strings"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/segcam/internal/capture"
	"github.com/ayusman/segcam/internal/pipeline"
)

// Engine is an inference backend. Infer must not retain the frame after it returns.
type Engine interface {
	pipeline.Engine[*capture.Frame, *Result]

	// Name identifies the engine in logs and journal rows.
	Name() string

	// Close releases any resources held by the engine.
	Close() error
}

var (
	// ErrNoPrompt is returned by promptable engines called without steering points.
	ErrNoPrompt = fmt.Errorf("prompt: %w", pipeline.ErrNoPoints)

	// ErrUnknownEngine is returned by New for an unrecognised kind.
	ErrUnknownEngine = errors.New("unknown engine kind")
)

// Kind describes what a Result carries.
type Kind string

const (
	KindMask       Kind = "mask"
	KindDetections Kind = "detections"
	KindHands      Kind = "hands"
)

// Config holds configuration options for every engine kind.
type Config struct {
	// Kind selects the engine: sam2, hair, hands, yolo or mock.
	Kind string

	// Python is the interpreter for subprocess engines. Empty means search for a
	// virtualenv, then fall back to python3.
	Python string

	// Script is the service script for subprocess engines. Empty means search the
	// usual locations.
	Script string

	// InferenceSize is the resolution frames are shrunk to before segmentation.
	InferenceSize image.Point

	// IdleTimeout shuts an unused subprocess down.
	IdleTimeout time.Duration

	// ModelPath is the ONNX file for the DNN detector.
	ModelPath string

	// Confidence is the minimum detection confidence (0.0-1.0).
	Confidence float64

	// NMSThreshold is the IoU threshold for non-maximum suppression.
	NMSThreshold float64

	// Classes names the detector output classes in index order.
	Classes []string

	// MaxHands is the maximum number of hands to detect.
	MaxHands int
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Kind:          "sam2",
		InferenceSize: image.Pt(320, 240),
		IdleTimeout:   30 * time.Second,
		Confidence:    0.5,
		NMSThreshold:  0.45,
		Classes:       append([]string(nil), HelmetClasses...),
		MaxHands:      1,
	}
}

// New builds the engine named by cfg.Kind.
func New(cfg Config) (Engine, error) {
	switch strings.ToLower(cfg.Kind) {
	case "sam2", "hair":
		return NewSAM2Engine(cfg)
	case "hands":
		return NewHandsEngine(cfg)
	case "yolo", "helmet":
		return NewYOLOEngine(cfg)
	case "mock":
		return NewMockEngine(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, cfg.Kind)
	}
}

// Detection is one box from the object detector.
type Detection struct {
	Class      int             `json:"class"`
	Name       string          `json:"name"`
	Confidence float32         `json:"confidence"`
	Box        image.Rectangle `json:"box"`
}

// Label formats the detection as "name NN.NN%".
func (d Detection) Label() string {
	return fmt.Sprintf("%s %.2f%%", d.Name, d.Confidence*100)
}

// Result is one completed inference. A mask result owns a single-channel Mat the
// size of the source frame; Close releases it.
type Result struct {
	Seq        uint64
	Kind       Kind
	Engine     string
	Mask       gocv.Mat
	Score      float64
	Detections []Detection
	Hands      []HandLandmarks
	Points     []pipeline.Point
	Latency    time.Duration
	At         time.Time
}

// HasMask reports whether the result carries a usable mask.
func (r *Result) HasMask() bool {
	return r != nil && r.Kind == KindMask && !r.Mask.Empty()
}

// Clone returns a deep copy, including the mask.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	c := *r
	if r.HasMask() {
		c.Mask = r.Mask.Clone()
	} else {
		c.Mask = gocv.NewMat()
	}
	c.Detections = append([]Detection(nil), r.Detections...)
	c.Hands = append([]HandLandmarks(nil), r.Hands...)
	c.Points = append([]pipeline.Point(nil), r.Points...)
	return &c
}

// Close releases the mask. Safe to call on nil.
func (r *Result) Close() {
	if r == nil {
		return
	}
	r.Mask.Close()
}

// ReleaseResult and CloneResult are the ownership hooks for the latest-result slot.
func ReleaseResult(r *Result)       { r.Close() }
func CloneResult(r *Result) *Result { return r.Clone() }

// Summary is the plain-data view of a Result used by the journal and the emitter.
type Summary struct {
	Seq        uint64           `json:"seq"`
	Kind       Kind             `json:"kind"`
	Engine     string           `json:"engine"`
	Score      float64          `json:"score"`
	MaskPixels int              `json:"mask_pixels"`
	Detections []Detection      `json:"detections,omitempty"`
	Hands      []HandSummary    `json:"hands,omitempty"`
	Compliance *Compliance      `json:"compliance,omitempty"`
	Points     []pipeline.Point `json:"points,omitempty"`
	LatencyMS  float64          `json:"latency_ms"`
	At         time.Time        `json:"at"`
}

// HandSummary is a hand without its landmark coordinates.
type HandSummary struct {
	Handedness string  `json:"handedness"`
	Score      float64 `json:"score"`
	Fingers    [5]bool `json:"fingers"`
	Raised     int     `json:"raised"`
}

// Summary returns a copy of r that owns no native memory.
func (r *Result) Summary() Summary {
	s := Summary{
		Seq:        r.Seq,
		Kind:       r.Kind,
		Engine:     r.Engine,
		Score:      r.Score,
		Detections: append([]Detection(nil), r.Detections...),
		Points:     append([]pipeline.Point(nil), r.Points...),
		LatencyMS:  float64(r.Latency) / float64(time.Millisecond),
		At:         r.At,
	}
	if r.HasMask() {
		s.MaskPixels = gocv.CountNonZero(r.Mask)
	}
	for _, h := range r.Hands {
		fingers := h.FingersUp()
		s.Hands = append(s.Hands, HandSummary{
			Handedness: h.Handedness,
			Score:      h.Score,
			Fingers:    fingers,
			Raised:     CountRaised(fingers),
		})
	}
	if r.Kind == KindDetections {
		c := AnalyzeCompliance(r.Detections)
		s.Compliance = &c
	}
	return s
}

// String is a one-line description for status displays.
func (s Summary) String() string {
	switch s.Kind {
	case KindMask:
		return fmt.Sprintf("mask %.2f, %d px", s.Score, s.MaskPixels)
	case KindDetections:
		if s.Compliance != nil && s.Compliance.Riders > 0 {
			return fmt.Sprintf("%d detections, helmets %d/%d", len(s.Detections),
				s.Compliance.WithHelmet, s.Compliance.Riders)
		}
		return fmt.Sprintf("%d detections", len(s.Detections))
	case KindHands:
		if len(s.Hands) == 0 {
			return "no hands"
		}
		return fmt.Sprintf("%d hands, %d fingers up", len(s.Hands), s.Hands[0].Raised)
	default:
		return string(s.Kind)
	}
}
