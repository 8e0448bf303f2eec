package motion

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/nasa-jpl/scanlab/util"
)

func TestAxisPositioner(t *testing.T) {
	m := NewMock("x", "y", "z")
	p := AxisPositioner{Mover: m, Axes: []string{"x", "y", "z"}}
	if err := p.SetPosition(2.5, 1); err != nil {
		t.Fatal(err)
	}
	if err := p.SetPosition(1, 3); !errors.Is(err, ErrNoSuchAxis) {
		t.Errorf("expected ErrNoSuchAxis for index 3, got %v", err)
	}
	if diff := cmp.Diff([]Move{{"y", 2.5}}, m.Moves()); diff != "" {
		t.Errorf("moves (-want +got):\n%s", diff)
	}
}

func TestLimited(t *testing.T) {
	m := NewMock("x", "y")
	l := Limited{Mover: m, Limits: map[string]util.Limiter{"x": {Min: 0, Max: 10}}}
	if err := l.MoveAbs("x", 11); !errors.Is(err, ErrLimit) {
		t.Errorf("expected ErrLimit, got %v", err)
	}
	if err := l.MoveAbs("x", 10); err != nil {
		t.Errorf("limits are inclusive, got %v", err)
	}
	if err := l.MoveAbs("y", -100); err != nil {
		t.Errorf("y has no limits, got %v", err)
	}
	if p, _ := l.GetPos("x"); p != 10 {
		t.Errorf("expected x at 10, got %g", p)
	}
}

func TestMockUnknownAxis(t *testing.T) {
	m := NewMock("x")
	if err := m.MoveAbs("q", 1); !errors.Is(err, ErrNoSuchAxis) {
		t.Errorf("expected ErrNoSuchAxis, got %v", err)
	}
	if _, err := m.GetPos("q"); !errors.Is(err, ErrNoSuchAxis) {
		t.Errorf("expected ErrNoSuchAxis, got %v", err)
	}
	if diff := cmp.Diff([]string{"x"}, m.Axes()); diff != "" {
		t.Errorf("axes (-want +got):\n%s", diff)
	}
}

func TestPositionerFunc(t *testing.T) {
	var got []float64
	var p Positioner = PositionerFunc(func(v float64, i int) error {
		got = append(got, v, float64(i))
		return nil
	})
	p.SetPosition(3, 2)
	if diff := cmp.Diff([]float64{3, 2}, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}
