package detector

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/segcam/internal/capture"
	"github.com/ayusman/segcam/internal/pipeline"
)

// caller is the part of Service the engines use.
type caller interface {
	Call(ctx context.Context, req, resp any) error
	Close() error
}

type segmentRequest struct {
	Task   string   `msgpack:"task"`
	Image  []byte   `msgpack:"image"`
	Width  int      `msgpack:"width"`
	Height int      `msgpack:"height"`
	Points [][2]int `msgpack:"points"`
	Labels []int    `msgpack:"labels"`
}

type segmentResponse struct {
	Mask  []byte  `msgpack:"mask"`
	Score float64 `msgpack:"score"`
	Error string  `msgpack:"error"`
}

// SAM2Engine segments the object selected by the steering points. Frames are shrunk
// to the inference size before they are sent and the mask is scaled back up.
type SAM2Engine struct {
	svc  caller
	size image.Point
}

// NewSAM2Engine creates a segmentation engine backed by the model service.
func NewSAM2Engine(cfg Config) (*SAM2Engine, error) {
	svc, err := NewService(ServiceConfig{
		Python:      cfg.Python,
		Script:      cfg.Script,
		IdleTimeout: cfg.IdleTimeout,
	})
	if err != nil {
		return nil, err
	}
	return newSAM2Engine(svc, cfg.InferenceSize), nil
}

func newSAM2Engine(svc caller, size image.Point) *SAM2Engine {
	if size.X <= 0 || size.Y <= 0 {
		size = DefaultConfig().InferenceSize
	}
	return &SAM2Engine{svc: svc, size: size}
}

// Name returns "sam2".
func (e *SAM2Engine) Name() string { return "sam2" }

// Infer segments frame from points given in frame coordinates.
func (e *SAM2Engine) Infer(ctx context.Context, frame *capture.Frame, points []pipeline.Point) (*Result, error) {
	if len(points) == 0 {
		return nil, ErrNoPrompt
	}
	start := time.Now()
	frameSize := frame.Size()

	small := gocv.NewMat()
	defer small.Close()
	gocv.Resize(frame.Mat, &small, e.size, 0, 0, gocv.InterpolationLinear)

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, small)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	img := append([]byte(nil), buf.GetBytes()...)
	buf.Close()

	coords, labels := ScalePoints(points, frameSize, e.size)
	req := segmentRequest{
		Task:   "segment",
		Image:  img,
		Width:  e.size.X,
		Height: e.size.Y,
		Points: coords,
		Labels: labels,
	}

	var resp segmentResponse
	if err := e.svc.Call(ctx, req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("segment: %s", resp.Error)
	}
	if len(resp.Mask) == 0 {
		return nil, errors.New("segment: empty mask")
	}

	mask, err := decodeMask(resp.Mask, frameSize)
	if err != nil {
		return nil, err
	}

	return &Result{
		Seq:     frame.Seq,
		Kind:    KindMask,
		Engine:  e.Name(),
		Mask:    mask,
		Score:   resp.Score,
		Points:  points,
		Latency: time.Since(start),
		At:      time.Now(),
	}, nil
}

// Close stops the model service.
func (e *SAM2Engine) Close() error {
	return e.svc.Close()
}

// decodeMask turns an encoded 8-bit mask into a binary mask of the given size.
func decodeMask(data []byte, size image.Point) (gocv.Mat, error) {
	raw, err := gocv.IMDecode(data, gocv.IMReadGrayScale)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("decode mask: %w", err)
	}
	if raw.Empty() {
		raw.Close()
		return gocv.NewMat(), errors.New("decode mask: empty image")
	}
	defer raw.Close()

	scaled := gocv.NewMat()
	defer scaled.Close()
	gocv.Resize(raw, &scaled, size, 0, 0, gocv.InterpolationNearestNeighbor)

	mask := gocv.NewMat()
	gocv.Threshold(scaled, &mask, 0, 255, gocv.ThresholdBinary)
	return mask, nil
}

// ScalePoints maps points from a frame of size from into a frame of size to and
// splits them into coordinate and label lists. Results are clamped into the target.
func ScalePoints(points []pipeline.Point, from, to image.Point) ([][2]int, []int) {
	coords := make([][2]int, len(points))
	labels := make([]int, len(points))

	for i, p := range points {
		x, y := p.Pos.X, p.Pos.Y
		if from.X > 0 && from.Y > 0 {
			x = x * to.X / from.X
			y = y * to.Y / from.Y
		}
		coords[i] = [2]int{clamp(x, 0, to.X-1), clamp(y, 0, to.Y-1)}
		labels[i] = int(p.Label)
	}
	return coords, labels
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
