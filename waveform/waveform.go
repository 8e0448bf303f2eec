// Package waveform contains pure functions which shape the trajectory of a
// scanned axis between two positions.
//
// Every shaper returns a freshly allocated slice and has no side effects, so
// they may be called concurrently from any goroutine.  A request for zero or
// fewer samples yields an empty slice; a request for one sample yields the
// start position, as there is no room in a single sample to move anywhere.
package waveform

import (
	"errors"
	"fmt"
	"math"
)

// Shape names a ramp strategy
type Shape int

const (
	// ShapeMixed is a two segment ramp, slow then steep
	ShapeMixed Shape = iota

	// ShapeSmooth is a sinusoidal ease-in followed by a hold at the end
	ShapeSmooth

	// ShapeLinear is a straight line from start to end
	ShapeLinear

	// ShapeQuadratic is a quadratic ease-out
	ShapeQuadratic
)

var (
	// ErrStartMismatch is generated when the first sample is further than the
	// tolerance from the requested start
	ErrStartMismatch = errors.New("first sample does not match start position")

	// ErrEndMismatch is generated when the final sample is not exactly the
	// requested end
	ErrEndMismatch = errors.New("final sample does not match end position")
)

// roundingGuard absorbs floating point error before a floor or ceil
const roundingGuard = 1e-9

// Shaper produces a sampled trajectory from start to end
type Shaper func(start, end float64, samples int) []float64

// ParseShape converts a string to a Shape.
// s is a member of {mixed, smooth, linear, quadratic}
func ParseShape(s string) (Shape, error) {
	switch s {
	case "mixed", "":
		return ShapeMixed, nil
	case "smooth":
		return ShapeSmooth, nil
	case "linear":
		return ShapeLinear, nil
	case "quadratic":
		return ShapeQuadratic, nil
	default:
		return -1, fmt.Errorf("ramp shape must be a member of {mixed, smooth, linear, quadratic}, got %q", s)
	}
}

// String satisfies fmt.Stringer
func (s Shape) String() string {
	switch s {
	case ShapeMixed:
		return "mixed"
	case ShapeSmooth:
		return "smooth"
	case ShapeLinear:
		return "linear"
	case ShapeQuadratic:
		return "quadratic"
	default:
		return ""
	}
}

// Shaper returns the function implementing s.  curve is only used by
// ShapeSmooth, see Smooth.
func (s Shape) Shaper(curve float64) Shaper {
	switch s {
	case ShapeSmooth:
		return Smooth(curve)
	case ShapeLinear:
		return Linear
	case ShapeQuadratic:
		return Quadratic
	default:
		return Mixed
	}
}

// linspace returns n evenly spaced values over [a, b].  The final value is
// exactly b.
func linspace(a, b float64, n int) []float64 {
	if n <= 0 {
		return []float64{}
	}
	out := make([]float64, n)
	if n == 1 {
		out[0] = a
		return out
	}
	step := (b - a) / float64(n-1)
	for i := 0; i < n; i++ {
		out[i] = a + float64(i)*step
	}
	out[n-1] = b
	return out
}

// degenerate handles the sample counts that cannot hold a ramp.
// ok is false when samples is large enough to shape normally.
func degenerate(start float64, samples int) ([]float64, bool) {
	switch {
	case samples <= 0:
		return []float64{}, true
	case samples == 1:
		return []float64{start}, true
	default:
		return nil, false
	}
}

// Linear is a straight line of exactly samples points
func Linear(start, end float64, samples int) []float64 {
	if out, ok := degenerate(start, samples); ok {
		return out
	}
	return linspace(start, end, samples)
}

// Quadratic is an ease-out: fast at the start, arriving at end with zero slope
func Quadratic(start, end float64, samples int) []float64 {
	if out, ok := degenerate(start, samples); ok {
		return out
	}
	x := linspace(-1, 0, samples)
	out := make([]float64, samples)
	for i, v := range x {
		out[i] = (1-v*v)*(end-start) + start
	}
	out[samples-1] = end
	return out
}

// Mixed is a two segment ramp.  The first samples/2 points cover the first
// fifth of the excursion, the remainder rise four times as steeply and cover
// the rest.  The result is renormalized by its peak so the final sample is
// exactly end.  The output is exactly samples long.
func Mixed(start, end float64, samples int) []float64 {
	if out, ok := degenerate(start, samples); ok {
		return out
	}
	n1 := samples / 2
	n2 := samples - n1
	first := linspace(0, 0.5, n1)
	second := linspace(0.5, 1, n2)
	for i := range second {
		second[i] = 4*second[i] - 1.5
	}
	peak := second[len(second)-1] // 2.5, the second segment is increasing
	out := make([]float64, 0, samples)
	for _, v := range first {
		out = append(out, v/peak*(end-start)+start)
	}
	for _, v := range second {
		out = append(out, v/peak*(end-start)+start)
	}
	out[samples-1] = end
	return out
}

// Smooth returns a shaper with a sinusoidal ease-in over the first curve
// fraction of the samples and a hold at end for the rest.  curve is clamped
// to [0, 1].
//
// The eased part is floor(curve*n) long and the hold ceil((1-curve)*n) long.
// Both roundings are taken with a 1e-9 guard so a product such as 0.7*10
// landing a hair above 7 does not grow the output to n+1 samples.
func Smooth(curve float64) Shaper {
	curve = math.Max(0, math.Min(1, curve))
	return func(start, end float64, samples int) []float64 {
		if out, ok := degenerate(start, samples); ok {
			return out
		}
		nEase := int(math.Floor(curve*float64(samples) + roundingGuard))
		nHold := int(math.Ceil((1-curve)*float64(samples) - roundingGuard))
		out := make([]float64, 0, nEase+nHold)
		for _, x := range linspace(0, math.Pi/2, nEase) {
			out = append(out, start+(end-start)*math.Sin(x))
		}
		for i := 0; i < nHold; i++ {
			out = append(out, end)
		}
		if len(out) > 0 {
			out[len(out)-1] = end
		}
		return out
	}
}

// CheckEndpoints verifies that out begins within tol of start and ends
// exactly at end.  Empty and single sample outputs only check the start.
func CheckEndpoints(out []float64, start, end, tol float64) error {
	if len(out) == 0 {
		return nil
	}
	if math.Abs(out[0]-start) > tol {
		return fmt.Errorf("%w: got %g, want %g±%g", ErrStartMismatch, out[0], start, tol)
	}
	if len(out) > 1 && out[len(out)-1] != end {
		return fmt.Errorf("%w: got %g, want %g", ErrEndMismatch, out[len(out)-1], end)
	}
	return nil
}
