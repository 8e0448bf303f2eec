// Package session coordinates one scan at a time: it gathers parameters,
// compiles plans, parks positioners, hands plans to the acquirer and loops
// for repeat and continuous modes.
package session

import (
	"errors"
	"fmt"
	"time"
)

// State is the state of a Controller
type State int

const (
	// Idle has no usable plan, after start up or a runtime fault
	Idle State = iota

	// ParametersDirty means the parameters changed since the plan was compiled
	ParametersDirty

	// PlanReady means a plan is compiled and loaded
	PlanReady

	// Running means the acquirer is playing the plan
	Running

	// RepeatPending is between two passes of a repeating scan
	RepeatPending

	// NonFinalSequencePending is the end of one part of a multi-part sequence
	NonFinalSequencePending

	// Done is the end of a scan
	Done
)

var stateNames = [...]string{"idle", "parameters-dirty", "plan-ready", "running",
	"repeat-pending", "non-final-sequence-pending", "done"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText renders the state name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrBusy is returned for requests which need the controller to be idle
var ErrBusy = errors.New("a scan is running")

// RuntimeFault is an unexpected failure while preparing or running a scan.
// It is recorded by the Controller and never returned to callers.
type RuntimeFault struct {
	// Op is what the controller was doing
	Op string

	// State is the state the fault happened in
	State State

	Err  error
	Time time.Time
}

func (f *RuntimeFault) Error() string {
	return fmt.Sprintf("%s (while %s): %v", f.Op, f.State, f.Err)
}

func (f *RuntimeFault) Unwrap() error { return f.Err }

// EventKind names a notification
type EventKind int

const (
	// ScanStarting is sent before a scan is handed to the acquirer
	ScanStarting EventKind = iota

	// ScanDone is sent when one run finishes, including non-final parts of
	// a sequence
	ScanDone

	// ScanEnded is sent once a scan is over and the controller can take a
	// new request
	ScanEnded

	// Fault is sent with a *RuntimeFault
	Fault

	// ParametersChanged is sent when the plan no longer matches the parameters
	ParametersChanged
)

var eventNames = [...]string{"scan-starting", "scan-done", "scan-ended", "fault", "parameters-changed"}

func (k EventKind) String() string {
	if k < 0 || int(k) >= len(eventNames) {
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
	return eventNames[k]
}

// MarshalText renders the event name
func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Event is one notification from a Controller
type Event struct {
	Kind  EventKind `json:"kind"`
	State State     `json:"state"`
	Err   string    `json:"err,omitempty"`
	Time  time.Time `json:"time"`
}

// Notifier receives events.  Notify must not block.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to the Notifier interface
type NotifierFunc func(Event)

// Notify calls f
func (f NotifierFunc) Notify(e Event) { f(e) }

// ChanNotifier sends events on C, dropping them when C is full
type ChanNotifier struct {
	C chan Event
}

// NewChanNotifier returns a ChanNotifier buffering n events
func NewChanNotifier(n int) ChanNotifier {
	return ChanNotifier{C: make(chan Event, n)}
}

// Notify sends e without blocking
func (c ChanNotifier) Notify(e Event) {
	select {
	case c.C <- e:
	default:
	}
}

type discard struct{}

func (discard) Notify(Event) {}
