package detector

import (
	"context"
	"fmt"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/segcam/internal/capture"
	"github.com/ayusman/segcam/internal/pipeline"
)

type handsRequest struct {
	Task     string `msgpack:"task"`
	Image    []byte `msgpack:"image"`
	MaxHands int    `msgpack:"max_hands"`
}

type handsResponse struct {
	Hands []wireHand `msgpack:"hands"`
	Error string     `msgpack:"error"`
}

// wireHand represents a hand as sent by the Python service.
type wireHand struct {
	Points     []Point3D `msgpack:"points"`
	Handedness string    `msgpack:"handedness"`
	Score      float64   `msgpack:"score"`
}

func (h wireHand) toHandLandmarks() HandLandmarks {
	lm := HandLandmarks{
		Handedness: h.Handedness,
		Score:      h.Score,
	}
	for i := 0; i < NumLandmarks && i < len(h.Points); i++ {
		lm.Points[i] = h.Points[i]
	}
	return lm
}

// HandsEngine detects hand landmarks with MediaPipe through the model service.
type HandsEngine struct {
	svc      caller
	maxHands int
}

// NewHandsEngine creates a hand-landmark engine backed by the model service.
func NewHandsEngine(cfg Config) (*HandsEngine, error) {
	svc, err := NewService(ServiceConfig{
		Python:      cfg.Python,
		Script:      cfg.Script,
		IdleTimeout: cfg.IdleTimeout,
	})
	if err != nil {
		return nil, err
	}
	return newHandsEngine(svc, cfg.MaxHands), nil
}

func newHandsEngine(svc caller, maxHands int) *HandsEngine {
	if maxHands <= 0 {
		maxHands = 1
	}
	return &HandsEngine{svc: svc, maxHands: maxHands}
}

// Name returns "hands".
func (e *HandsEngine) Name() string { return "hands" }

// Infer finds hands in frame. Steering points are ignored.
func (e *HandsEngine) Infer(ctx context.Context, frame *capture.Frame, _ []pipeline.Point) (*Result, error) {
	start := time.Now()

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, frame.Mat)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	img := append([]byte(nil), buf.GetBytes()...)
	buf.Close()

	var resp handsResponse
	err = e.svc.Call(ctx, handsRequest{Task: "hands", Image: img, MaxHands: e.maxHands}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("hands: %s", resp.Error)
	}

	hands := make([]HandLandmarks, len(resp.Hands))
	for i, h := range resp.Hands {
		hands[i] = h.toHandLandmarks()
	}

	return &Result{
		Seq:     frame.Seq,
		Kind:    KindHands,
		Engine:  e.Name(),
		Mask:    gocv.NewMat(),
		Hands:   hands,
		Latency: time.Since(start),
		At:      time.Now(),
	}, nil
}

// Close stops the model service.
func (e *HandsEngine) Close() error {
	return e.svc.Close()
}
