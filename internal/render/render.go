// Package render draws inference results over live frames.
package render

import (
	"fmt"
	"image"
	"image/color"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/segcam/internal/detector"
	"github.com/ayusman/segcam/internal/pipeline"
)

// Default overlay settings
const (
	DefaultAlpha      = 0.4
	DefaultBlurKernel = 5
)

// Swatch is a named overlay colour.
type Swatch struct {
	Name  string
	Color color.RGBA
}

// Palette is the colour cycle for mask overlays.
var Palette = []Swatch{
	{Name: "Blue", Color: color.RGBA{R: 0, G: 0, B: 255, A: 0}},
	{Name: "Yellow", Color: color.RGBA{R: 255, G: 255, B: 0, A: 0}},
	{Name: "Red", Color: color.RGBA{R: 255, G: 0, B: 0, A: 0}},
	{Name: "Green", Color: color.RGBA{R: 0, G: 255, B: 0, A: 0}},
}

var (
	white      = color.RGBA{R: 255, G: 255, B: 255, A: 0}
	black      = color.RGBA{A: 0}
	foreground = color.RGBA{G: 255}
	background = color.RGBA{R: 255}
	cyan       = color.RGBA{G: 255, B: 255}
)

// classColors follow the helmet model classes.
var classColors = map[int]color.RGBA{
	detector.ClassWithHelmet: {G: 255},
	detector.ClassNoHelmet:   {R: 255},
	detector.ClassMotorcycle: {R: 255, G: 165},
}

// Options tune the overlay.
type Options struct {
	// Alpha is the colour weight inside the mask; the frame keeps 1-Alpha.
	Alpha float64
	// BlurKernel is the odd Gaussian kernel used to soften mask edges.
	BlurKernel int
}

// Renderer composes display frames. It is used from the producer goroutine and
// from tray callbacks, so the colour index is guarded.
type Renderer struct {
	opts Options

	mu    sync.Mutex
	color int
}

// New creates a Renderer. Zero options take the defaults.
func New(opts Options) *Renderer {
	if opts.Alpha <= 0 || opts.Alpha > 1 {
		opts.Alpha = DefaultAlpha
	}
	if opts.BlurKernel <= 0 {
		opts.BlurKernel = DefaultBlurKernel
	}
	if opts.BlurKernel%2 == 0 {
		opts.BlurKernel++
	}
	return &Renderer{opts: opts}
}

// NextColor advances the mask colour and returns the new one.
func (r *Renderer) NextColor() Swatch {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.color = (r.color + 1) % len(Palette)
	return Palette[r.color]
}

// Color returns the current mask colour.
func (r *Renderer) Color() Swatch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Palette[r.color]
}

// Draw returns a new Mat with res, points and hud drawn over frame. frame is not
// modified. res may be nil. The caller closes the returned Mat.
func (r *Renderer) Draw(frame gocv.Mat, res *detector.Result, points []pipeline.Point, hud HUD) gocv.Mat {
	out := frame.Clone()
	size := image.Pt(out.Cols(), out.Rows())

	if res != nil {
		switch res.Kind {
		case detector.KindMask:
			if res.HasMask() && res.Mask.Cols() == size.X && res.Mask.Rows() == size.Y {
				r.blendMask(&out, res.Mask, r.Color().Color)
			}
		case detector.KindDetections:
			drawDetections(&out, res.Detections)
			c := detector.AnalyzeCompliance(res.Detections)
			hud.Extra = append(hud.Extra, complianceLine(c))
		case detector.KindHands:
			hud.Extra = append(hud.Extra, drawHands(&out, res.Hands)...)
		}
	}

	drawPoints(&out, points)

	hud.Color = r.Color().Name
	hud.Points = len(points)
	hud.draw(&out)

	return out
}

// blendMask tints the pixels under mask: frame*(1-alpha) + colour*alpha.
func (r *Renderer) blendMask(img *gocv.Mat, mask gocv.Mat, c color.RGBA) {
	k := r.opts.BlurKernel

	soft := gocv.NewMat()
	defer soft.Close()
	gocv.GaussianBlur(mask, &soft, image.Pt(k, k), 0, 0, gocv.BorderDefault)

	region := gocv.NewMat()
	defer region.Close()
	gocv.Threshold(soft, &region, 0, 255, gocv.ThresholdBinary)

	tint := gocv.NewMatWithSizeFromScalar(
		gocv.NewScalar(float64(c.B), float64(c.G), float64(c.R), 0),
		img.Rows(), img.Cols(), gocv.MatTypeCV8UC3)
	defer tint.Close()

	blended := gocv.NewMat()
	defer blended.Close()
	gocv.AddWeighted(*img, 1-r.opts.Alpha, tint, r.opts.Alpha, 0, &blended)

	blended.CopyToWithMask(img, region)
}

func drawDetections(img *gocv.Mat, dets []detector.Detection) {
	for _, d := range dets {
		c, ok := classColors[d.Class]
		if !ok {
			c = white
		}
		gocv.Rectangle(img, d.Box, c, 2)

		label := d.Label()
		pos := image.Pt(d.Box.Min.X, d.Box.Min.Y-8)
		if pos.Y < 15 {
			pos.Y = d.Box.Max.Y + 20
		}
		putLabel(img, label, pos, c)
	}
}

func complianceLine(c detector.Compliance) string {
	if c.Riders == 0 {
		return "No riders detected"
	}
	return fmt.Sprintf("Helmets: %d/%d (%.1f%%) %s", c.WithHelmet, c.Riders, c.Rate, c.Level)
}

// drawHands draws each hand skeleton and returns one finger-count line per hand.
func drawHands(img *gocv.Mat, hands []detector.HandLandmarks) []string {
	size := image.Pt(img.Cols(), img.Rows())
	lines := make([]string, 0, len(hands))

	for i := range hands {
		h := &hands[i]
		for _, conn := range detector.HandConnections {
			gocv.Line(img, h.Pixel(conn[0], size), h.Pixel(conn[1], size), white, 2)
		}
		for j := 0; j < detector.NumLandmarks; j++ {
			gocv.Circle(img, h.Pixel(j, size), 4, cyan, -1)
		}

		fingers := h.FingersUp()
		bits := make([]int, len(fingers))
		for k, up := range fingers {
			if up {
				bits[k] = 1
			}
		}
		lines = append(lines, fmt.Sprintf("%s hand fingers: %d %v", h.Handedness, detector.CountRaised(fingers), bits))
	}
	return lines
}

// drawPoints marks steering points: a filled dot coloured by label inside a white ring.
func drawPoints(img *gocv.Mat, points []pipeline.Point) {
	for _, p := range points {
		c := foreground
		if p.Label == pipeline.Background {
			c = background
		}
		gocv.Circle(img, p.Pos, 5, c, -1)
		gocv.Circle(img, p.Pos, 7, white, 2)
	}
}

// putLabel writes text on a filled box so it stays readable over any background.
func putLabel(img *gocv.Mat, text string, pos image.Point, bg color.RGBA) {
	const scale, thickness = 0.6, 2

	size := gocv.GetTextSize(text, gocv.FontHersheySimplex, scale, thickness)
	box := image.Rect(pos.X, pos.Y-size.Y-4, pos.X+size.X, pos.Y+4)
	gocv.Rectangle(img, box, bg, -1)
	gocv.PutText(img, text, pos, gocv.FontHersheySimplex, scale, black, thickness)
}
