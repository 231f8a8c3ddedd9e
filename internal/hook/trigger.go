package hook

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ayusman/segcam/internal/detector"
)

// ErrBadTrigger is returned for trigger expressions that cannot be parsed.
var ErrBadTrigger = errors.New("invalid trigger")

// Trigger decides whether a result should fire a hook.
//
// Expressions:
//
//	any            every result
//	mask           a non-empty mask
//	no_mask        a mask result with no pixels set
//	detections     at least one detection
//	class:NAME     a detection named NAME
//	warning        helmet compliance at warning or worse
//	unsafe         helmet compliance unsafe
//	hands          at least one hand
//	fingers:N      a hand with exactly N fingers raised
type Trigger struct {
	expr  string
	match func(detector.Summary) bool
}

// ParseTrigger parses a trigger expression.
func ParseTrigger(expr string) (Trigger, error) {
	name, arg, hasArg := strings.Cut(strings.TrimSpace(expr), ":")
	t := Trigger{expr: expr}

	switch name {
	case "any":
		t.match = func(detector.Summary) bool { return true }
	case "mask":
		t.match = func(s detector.Summary) bool { return s.Kind == detector.KindMask && s.MaskPixels > 0 }
	case "no_mask":
		t.match = func(s detector.Summary) bool { return s.Kind == detector.KindMask && s.MaskPixels == 0 }
	case "detections":
		t.match = func(s detector.Summary) bool { return len(s.Detections) > 0 }
	case "class":
		if !hasArg || arg == "" {
			return Trigger{}, fmt.Errorf("%w %q: class needs a name", ErrBadTrigger, expr)
		}
		t.match = func(s detector.Summary) bool {
			for _, d := range s.Detections {
				if d.Name == arg {
					return true
				}
			}
			return false
		}
	case "warning":
		t.match = func(s detector.Summary) bool {
			return s.Compliance != nil &&
				(s.Compliance.Level == detector.LevelWarning || s.Compliance.Level == detector.LevelUnsafe)
		}
	case "unsafe":
		t.match = func(s detector.Summary) bool {
			return s.Compliance != nil && s.Compliance.Level == detector.LevelUnsafe
		}
	case "hands":
		t.match = func(s detector.Summary) bool { return len(s.Hands) > 0 }
	case "fingers":
		n, err := strconv.Atoi(arg)
		if !hasArg || err != nil || n < 0 || n > 5 {
			return Trigger{}, fmt.Errorf("%w %q: fingers needs a count from 0 to 5", ErrBadTrigger, expr)
		}
		t.match = func(s detector.Summary) bool {
			for _, h := range s.Hands {
				if h.Raised == n {
					return true
				}
			}
			return false
		}
	default:
		return Trigger{}, fmt.Errorf("%w %q", ErrBadTrigger, expr)
	}
	return t, nil
}

// Match reports whether s fires the trigger.
func (t Trigger) Match(s detector.Summary) bool {
	return t.match != nil && t.match(s)
}

func (t Trigger) String() string {
	return t.expr
}
