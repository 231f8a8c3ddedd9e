package detector

import "image"

// Hand landmark indices following MediaPipe convention.
// See: https://developers.google.com/mediapipe/solutions/vision/hand_landmarker
const (
	Wrist        = 0
	ThumbCMC     = 1
	ThumbMCP     = 2
	ThumbIP      = 3
	ThumbTip     = 4
	IndexMCP     = 5
	IndexPIP     = 6
	IndexDIP     = 7
	IndexTip     = 8
	MiddleMCP    = 9
	MiddlePIP    = 10
	MiddleDIP    = 11
	MiddleTip    = 12
	RingMCP      = 13
	RingPIP      = 14
	RingDIP      = 15
	RingTip      = 16
	PinkyMCP     = 17
	PinkyPIP     = 18
	PinkyDIP     = 19
	PinkyTip     = 20
	NumLandmarks = 21
)

// fingerTips lists the tip of thumb, index, middle, ring and pinky.
var fingerTips = [5]int{ThumbTip, IndexTip, MiddleTip, RingTip, PinkyTip}

// HandConnections are the landmark pairs drawn as the hand skeleton.
var HandConnections = [][2]int{
	{Wrist, ThumbCMC}, {ThumbCMC, ThumbMCP}, {ThumbMCP, ThumbIP}, {ThumbIP, ThumbTip},
	{Wrist, IndexMCP}, {IndexMCP, IndexPIP}, {IndexPIP, IndexDIP}, {IndexDIP, IndexTip},
	{IndexMCP, MiddleMCP}, {MiddleMCP, MiddlePIP}, {MiddlePIP, MiddleDIP}, {MiddleDIP, MiddleTip},
	{MiddleMCP, RingMCP}, {RingMCP, RingPIP}, {RingPIP, RingDIP}, {RingDIP, RingTip},
	{RingMCP, PinkyMCP}, {Wrist, PinkyMCP}, {PinkyMCP, PinkyPIP}, {PinkyPIP, PinkyDIP}, {PinkyDIP, PinkyTip},
}

// Point3D is a landmark in normalized image coordinates: x and y in [0,1], z is
// relative depth with the wrist as origin.
type Point3D struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
	Z float64 `json:"z" msgpack:"z"`
}

// HandLandmarks represents the 21 hand landmarks detected by MediaPipe.
type HandLandmarks struct {
	Points     [NumLandmarks]Point3D `json:"points"`
	Handedness string                `json:"handedness"` // "Left" or "Right"
	Score      float64               `json:"score"`
}

// Pixel maps landmark i into a frame of the given size.
func (h *HandLandmarks) Pixel(i int, size image.Point) image.Point {
	p := h.Points[i]
	return image.Pt(int(p.X*float64(size.X)), int(p.Y*float64(size.Y)))
}

// FingersUp reports which fingers are raised, thumb first.
//
// A finger is up when its tip is above its PIP joint. The thumb moves sideways, so
// it is up when its tip lies outside the IP joint, which flips with handedness.
// Handedness is as seen in a mirrored selfie view.
func (h *HandLandmarks) FingersUp() [5]bool {
	var up [5]bool

	tip, ip := h.Points[ThumbTip], h.Points[ThumbIP]
	if h.Handedness == "Right" {
		up[0] = tip.X > ip.X
	} else {
		up[0] = tip.X < ip.X
	}

	for i := 1; i < len(fingerTips); i++ {
		t := fingerTips[i]
		up[i] = h.Points[t].Y < h.Points[t-2].Y
	}
	return up
}

// CountRaised returns how many fingers are up.
func CountRaised(fingers [5]bool) int {
	n := 0
	for _, f := range fingers {
		if f {
			n++
		}
	}
	return n
}
