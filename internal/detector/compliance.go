package detector

// Helmet detector classes in model output order.
const (
	ClassWithHelmet = 0
	ClassNoHelmet   = 1
	ClassMotorcycle = 2
)

// HelmetClasses are the default class names of the helmet model.
var HelmetClasses = []string{"with_helmet", "no_helmet", "motorcycle"}

// ComplianceLevel grades how many riders wear a helmet.
type ComplianceLevel string

const (
	LevelNone    ComplianceLevel = "none"
	LevelSafe    ComplianceLevel = "safe"
	LevelWarning ComplianceLevel = "warning"
	LevelUnsafe  ComplianceLevel = "unsafe"
)

// Compliance summarizes helmet use among detected riders.
type Compliance struct {
	WithHelmet int             `json:"with_helmet"`
	NoHelmet   int             `json:"no_helmet"`
	Riders     int             `json:"riders"`
	Rate       float64         `json:"rate"`
	Level      ComplianceLevel `json:"level"`
}

// AnalyzeCompliance counts riders and grades the helmet rate: 80% and above is
// safe, 50% and above is a warning, anything lower is unsafe.
func AnalyzeCompliance(dets []Detection) Compliance {
	var c Compliance
	for _, d := range dets {
		switch d.Class {
		case ClassWithHelmet:
			c.WithHelmet++
		case ClassNoHelmet:
			c.NoHelmet++
		}
	}
	c.Riders = c.WithHelmet + c.NoHelmet

	if c.Riders == 0 {
		c.Level = LevelNone
		return c
	}

	c.Rate = float64(c.WithHelmet) / float64(c.Riders) * 100
	switch {
	case c.Rate >= 80:
		c.Level = LevelSafe
	case c.Rate >= 50:
		c.Level = LevelWarning
	default:
		c.Level = LevelUnsafe
	}
	return c
}
