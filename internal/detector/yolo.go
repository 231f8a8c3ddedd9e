package detector

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/golang/glog"
	"gocv.io/x/gocv"

	"github.com/ayusman/segcam/internal/capture"
	"github.com/ayusman/segcam/internal/pipeline"
)

// yoloInputSize is the square input of YOLOv8/11 exports.
const yoloInputSize = 640

// YOLOEngine runs an ONNX YOLO detector with the OpenCV DNN module.
type YOLOEngine struct {
	net     gocv.Net
	classes []string
	conf    float32
	nms     float32
	mu      sync.Mutex
}

// NewYOLOEngine loads the model at cfg.ModelPath.
func NewYOLOEngine(cfg Config) (*YOLOEngine, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("yolo: model path is required")
	}

	net := gocv.ReadNet(cfg.ModelPath, "")
	if net.Empty() {
		return nil, fmt.Errorf("yolo: failed to load model %s", cfg.ModelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	classes := cfg.Classes
	if len(classes) == 0 {
		classes = HelmetClasses
	}
	glog.Infof("yolo model loaded: %s (%d classes)", cfg.ModelPath, len(classes))

	return &YOLOEngine{
		net:     net,
		classes: classes,
		conf:    float32(cfg.Confidence),
		nms:     float32(cfg.NMSThreshold),
	}, nil
}

// Name returns "yolo".
func (e *YOLOEngine) Name() string { return "yolo" }

// Infer detects objects in frame. Steering points are ignored.
func (e *YOLOEngine) Infer(_ context.Context, frame *capture.Frame, _ []pipeline.Point) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	height, width := frame.Mat.Rows(), frame.Mat.Cols()
	maxDim := max(height, width)

	// Pad to a square so boxes scale back with a single factor.
	square := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), maxDim, maxDim, gocv.MatTypeCV8UC3)
	defer square.Close()
	roi := square.Region(image.Rect(0, 0, width, height))
	frame.Mat.CopyTo(&roi)
	roi.Close()

	blob := gocv.BlobFromImage(square, 1.0/255.0, image.Pt(yoloInputSize, yoloInputSize),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	e.net.SetInput(blob, "")
	out := e.net.Forward("")
	defer out.Close()

	dims := out.Size()
	if len(dims) != 3 {
		return nil, fmt.Errorf("yolo: unexpected output shape %v", dims)
	}
	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("yolo: read output: %w", err)
	}

	scale := float32(maxDim) / yoloInputSize
	cands := parseYOLO(data, dims[1], dims[2], scale, e.conf)
	dets := e.suppress(cands, image.Rect(0, 0, width, height))

	return &Result{
		Seq:        frame.Seq,
		Kind:       KindDetections,
		Engine:     e.Name(),
		Mask:       gocv.NewMat(),
		Detections: dets,
		Latency:    time.Since(start),
		At:         time.Now(),
	}, nil
}

// Close releases the network.
func (e *YOLOEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.net.Close()
}

func (e *YOLOEngine) suppress(c candidates, bounds image.Rectangle) []Detection {
	if len(c.boxes) == 0 {
		return nil
	}

	keep := gocv.NMSBoxes(c.boxes, c.scores, e.conf, e.nms)
	dets := make([]Detection, 0, len(keep))
	for _, i := range keep {
		dets = append(dets, Detection{
			Class:      c.classes[i],
			Name:       className(e.classes, c.classes[i]),
			Confidence: c.scores[i],
			Box:        c.boxes[i].Intersect(bounds),
		})
	}
	return dets
}

// candidates are boxes above the confidence threshold, before suppression.
type candidates struct {
	boxes   []image.Rectangle
	scores  []float32
	classes []int
}

// parseYOLO decodes a YOLOv8-style output tensor of shape [1, a, b] where one axis
// holds 4 box values plus per-class scores and the other holds the anchors. Boxes
// are centre/size in input pixels and are multiplied by scale.
func parseYOLO(data []float32, a, b int, scale, conf float32) candidates {
	channels, anchors := a, b
	transposed := false
	if a > b {
		channels, anchors = b, a
		transposed = true
	}

	at := func(c, i int) float32 {
		if transposed {
			return data[i*channels+c]
		}
		return data[c*anchors+i]
	}

	var out candidates
	if channels <= 4 || len(data) < channels*anchors {
		return out
	}

	for i := 0; i < anchors; i++ {
		best, bestScore := -1, float32(0)
		for c := 4; c < channels; c++ {
			if s := at(c, i); s > bestScore {
				best, bestScore = c-4, s
			}
		}
		if best < 0 || bestScore < conf {
			continue
		}

		cx, cy := at(0, i)*scale, at(1, i)*scale
		w, h := at(2, i)*scale, at(3, i)*scale
		out.boxes = append(out.boxes, image.Rect(
			int(cx-w/2), int(cy-h/2), int(cx+w/2), int(cy+h/2),
		))
		out.scores = append(out.scores, bestScore)
		out.classes = append(out.classes, best)
	}
	return out
}

func className(names []string, id int) string {
	if id >= 0 && id < len(names) {
		return names[id]
	}
	return fmt.Sprintf("class_%d", id)
}
