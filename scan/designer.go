package scan

import "github.com/nasa-jpl/scanlab/waveform"

// DefaultSettleTime is the hold at the end of every ramp, in seconds
const DefaultSettleTime = 0.005

// DefaultMaxSamples bounds the length of a plan when the designer sets no
// limit.  At 100 kHz it is a little over eleven minutes.
const DefaultMaxSamples = 1 << 26

// Designer describes which parameters a family of scans accepts and how its
// axes move
type Designer struct {
	// Name identifies the designer in logs and configuration
	Name string

	// ExpectedParameters is the exact key set of an analog section
	ExpectedParameters []string

	// AxisCount is the number of scanned axes supported.  Zero accepts any.
	AxisCount int

	// Shape is the ramp strategy for every axis
	Shape waveform.Shape

	// CurveFraction is passed to smooth ramps
	CurveFraction float64

	// SettleTime is the hold at the final position, in seconds
	SettleTime float64

	// MaxSamples is the longest plan accepted.  Zero uses DefaultMaxSamples.
	MaxSamples int
}

func (d Designer) maxSamples() int {
	if d.MaxSamples > 0 {
		return d.MaxSamples
	}
	return DefaultMaxSamples
}

// BetaDesigner scans a single stage axis with a mixed ramp
func BetaDesigner() Designer {
	return Designer{
		Name:               "beta",
		ExpectedParameters: AnalogKeys,
		AxisCount:          1,
		Shape:              waveform.ShapeMixed,
		CurveFraction:      0.6,
		SettleTime:         DefaultSettleTime,
	}
}

// MultiAxisDesigner scans any number of axes, each with its own timing
func MultiAxisDesigner() Designer {
	d := BetaDesigner()
	d.Name = "multi"
	d.AxisCount = 0
	return d
}

// DesignerByName returns one of the built in designers.  ok is false for an
// unknown name.
func DesignerByName(name string) (d Designer, ok bool) {
	switch name {
	case "beta", "":
		return BetaDesigner(), true
	case "multi":
		return MultiAxisDesigner(), true
	default:
		return Designer{}, false
	}
}
