package waveform_test

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/nasa-jpl/scanlab/waveform"
)

func ExampleLinear() {
	fmt.Println(waveform.Linear(0, 1, 5))
	// Output: [0 0.25 0.5 0.75 1]
}

func ExampleMixed() {
	fmt.Println(waveform.Mixed(0, 5, 4))
	// Output: [0 1 1 5]
}

func TestShapersDegenerateCounts(t *testing.T) {
	shapers := map[string]waveform.Shaper{
		"linear":    waveform.Linear,
		"quadratic": waveform.Quadratic,
		"mixed":     waveform.Mixed,
		"smooth":    waveform.Smooth(0.6),
	}
	for name, fcn := range shapers {
		for _, n := range []int{-3, 0} {
			if out := fcn(1, 2, n); len(out) != 0 {
				t.Errorf("%s with %d samples: expected empty output, got %v", name, n, out)
			}
		}
		out := fcn(1, 2, 1)
		if len(out) != 1 || out[0] != 1 {
			t.Errorf("%s with 1 sample: expected [1], got %v", name, out)
		}
	}
}

func TestShapersEndpoints(t *testing.T) {
	shapers := map[string]waveform.Shaper{
		"linear":    waveform.Linear,
		"quadratic": waveform.Quadratic,
		"mixed":     waveform.Mixed,
		"smooth":    waveform.Smooth(0.6),
	}
	for name, fcn := range shapers {
		for _, n := range []int{2, 3, 7, 27, 1000} {
			out := fcn(-1.3, 4.7, n)
			if err := waveform.CheckEndpoints(out, -1.3, 4.7, 1e-12); err != nil {
				t.Errorf("%s with %d samples: %v", name, n, err)
			}
		}
	}
}

func TestExactLengthShapers(t *testing.T) {
	shapers := map[string]waveform.Shaper{
		"linear":    waveform.Linear,
		"quadratic": waveform.Quadratic,
		"mixed":     waveform.Mixed,
	}
	for name, fcn := range shapers {
		for n := 0; n < 200; n++ {
			if l := len(fcn(0, 1, n)); l != n {
				t.Errorf("%s: expected %d samples, got %d", name, n, l)
			}
		}
	}
}

func TestSmoothLength(t *testing.T) {
	for _, curve := range []float64{0, 0.1, 0.3, 0.6, 0.7, 0.99, 1} {
		fcn := waveform.Smooth(curve)
		for n := 2; n < 200; n++ {
			if l := len(fcn(0, 1, n)); l != n {
				t.Errorf("curve %g: expected %d samples, got %d", curve, n, l)
			}
		}
	}
}

func TestSmoothHoldsAtEnd(t *testing.T) {
	out := waveform.Smooth(0.5)(0, 2, 10)
	for i := 5; i < len(out); i++ {
		if out[i] != 2 {
			t.Errorf("expected hold at 2 from sample 5, sample %d was %g", i, out[i])
		}
	}
}

func TestSmoothClampsCurve(t *testing.T) {
	low := waveform.Smooth(-4)(0, 1, 10)
	for i, v := range low {
		if v != 1 {
			t.Errorf("curve clamped to 0 should hold at end, sample %d was %g", i, v)
		}
	}
	high := waveform.Smooth(7)(0, 1, 10)
	if len(high) != 10 {
		t.Errorf("curve clamped to 1 should be exactly 10 long, got %d", len(high))
	}
}

func TestMixedSegmentsAreMonotonic(t *testing.T) {
	out := waveform.Mixed(0, 10, 27)
	for i := 1; i < len(out); i++ {
		if out[i] < out[i-1] {
			t.Fatalf("mixed ramp decreased at sample %d: %g < %g", i, out[i], out[i-1])
		}
	}
	// the slow half covers one fifth of the excursion
	half := out[len(out)/2-1]
	if math.Abs(half-2) > 1e-12 {
		t.Errorf("expected slow segment to end at 2, got %g", half)
	}
}

func TestMixedDescending(t *testing.T) {
	out := waveform.Mixed(5, -5, 11)
	for i := 1; i < len(out); i++ {
		if out[i] > out[i-1] {
			t.Fatalf("descending mixed ramp increased at sample %d", i)
		}
	}
	if out[len(out)-1] != -5 {
		t.Errorf("expected exact end -5, got %g", out[len(out)-1])
	}
}

func TestParseShapeRoundTrip(t *testing.T) {
	for _, s := range []waveform.Shape{waveform.ShapeMixed, waveform.ShapeSmooth, waveform.ShapeLinear, waveform.ShapeQuadratic} {
		got, err := waveform.ParseShape(s.String())
		if err != nil {
			t.Fatal(err)
		}
		if got != s {
			t.Errorf("expected %v got %v", s, got)
		}
	}
	if _, err := waveform.ParseShape("triangle"); err == nil {
		t.Error("expected an error for an unknown shape")
	}
}

func TestCheckEndpointsReportsMismatch(t *testing.T) {
	err := waveform.CheckEndpoints([]float64{0.5, 1}, 0, 1, 1e-3)
	if !errors.Is(err, waveform.ErrStartMismatch) {
		t.Errorf("expected ErrStartMismatch, got %v", err)
	}
	err = waveform.CheckEndpoints([]float64{0, 0.9}, 0, 1, 1e-3)
	if !errors.Is(err, waveform.ErrEndMismatch) {
		t.Errorf("expected ErrEndMismatch, got %v", err)
	}
}
