// Package motion contains the positioner contract used to park axes before a
// scan, adapters from axis-addressed motion controllers, and a mock.
package motion

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/nasa-jpl/scanlab/util"
)

var (
	// ErrNoSuchAxis is returned when an axis is not known to a controller
	ErrNoSuchAxis = errors.New("no such axis")

	// ErrLimit is returned when a move would violate software limits
	ErrLimit = errors.New("requested position violates software limits, aborted")
)

// Mover describes a motion controller with named axes
type Mover interface {
	// GetPos gets the current position of an axis
	GetPos(string) (float64, error)

	// MoveAbs moves an axis to an absolute position
	MoveAbs(string, float64) error
}

// Positioner is the call contract the scan session uses to park a device.
// axisIndex selects the axis of a multi-axis device.
type Positioner interface {
	SetPosition(value float64, axisIndex int) error
}

// PositionerFunc adapts a function to the Positioner interface
type PositionerFunc func(float64, int) error

// SetPosition calls f
func (f PositionerFunc) SetPosition(v float64, axisIndex int) error {
	return f(v, axisIndex)
}

// AxisPositioner is a Positioner backed by a Mover.  Axes maps the axis index
// to the controller's axis name.
type AxisPositioner struct {
	Mover Mover
	Axes  []string
}

// SetPosition moves Axes[axisIndex] to value
func (a AxisPositioner) SetPosition(value float64, axisIndex int) error {
	if axisIndex < 0 || axisIndex >= len(a.Axes) {
		return fmt.Errorf("axis index %d of %d: %w", axisIndex, len(a.Axes), ErrNoSuchAxis)
	}
	return a.Mover.MoveAbs(a.Axes[axisIndex], value)
}

// Limited imposes per-axis software limits on a Mover.  Axes without a
// limiter are not restricted.
type Limited struct {
	Mover
	Limits map[string]util.Limiter
}

// MoveAbs moves the axis if pos is within its limits
func (l Limited) MoveAbs(axis string, pos float64) error {
	if lim, ok := l.Limits[axis]; ok && !lim.Check(pos) {
		return fmt.Errorf("%s to %g, limits [%g, %g]: %w", axis, pos, lim.Min, lim.Max, ErrLimit)
	}
	return l.Mover.MoveAbs(axis, pos)
}

// Move is one absolute move recorded by Mock
type Move struct {
	Axis string
	Pos  float64
}

// Mock is an in-memory Mover that records every move
type Mock struct {
	mu    sync.Mutex
	pos   map[string]float64
	moves []Move
}

// NewMock returns a Mock with the given axes at zero
func NewMock(axes ...string) *Mock {
	m := &Mock{pos: make(map[string]float64, len(axes))}
	for _, a := range axes {
		m.pos[a] = 0
	}
	return m
}

// GetPos returns the last commanded position of axis
func (m *Mock) GetPos(axis string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pos[axis]
	if !ok {
		return 0, fmt.Errorf("%s: %w", axis, ErrNoSuchAxis)
	}
	return p, nil
}

// MoveAbs records a move of axis to pos
func (m *Mock) MoveAbs(axis string, pos float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pos[axis]; !ok {
		return fmt.Errorf("%s: %w", axis, ErrNoSuchAxis)
	}
	m.pos[axis] = pos
	m.moves = append(m.moves, Move{Axis: axis, Pos: pos})
	return nil
}

// Moves returns the moves made so far, oldest first
func (m *Mock) Moves() []Move {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Move, len(m.moves))
	copy(out, m.moves)
	return out
}

// Axes returns the names of the mock's axes, sorted
func (m *Mock) Axes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.pos))
	for k := range m.pos {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
