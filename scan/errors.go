package scan

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotInteger is wrapped by TimingRoundingWarning when a sample count
	// computed from a duration is not a whole number
	ErrNotInteger = errors.New("non-integer number of samples")

	// ErrLengthMismatch is returned by Plan.Validate when a buffer does not
	// hold exactly SampleCount samples
	ErrLengthMismatch = errors.New("buffer length does not match plan sample count")
)

// ConfigError is returned when a parameter set cannot be compiled.  No plan
// is produced alongside it.
type ConfigError struct {
	// Section is "analog" or "digital", if the error is tied to one
	Section string

	// Missing and Unexpected are populated for key set mismatches
	Missing    []string
	Unexpected []string

	// Msg describes any other problem
	Msg string
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("scan configuration")
	if e.Section != "" {
		b.WriteString(" (" + e.Section + ")")
	}
	b.WriteString(": ")
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing keys "+strings.Join(e.Missing, ", "))
	}
	if len(e.Unexpected) > 0 {
		parts = append(parts, "unexpected keys "+strings.Join(e.Unexpected, ", "))
	}
	if e.Msg != "" {
		parts = append(parts, e.Msg)
	}
	b.WriteString(strings.Join(parts, "; "))
	return b.String()
}

func configErrorf(section, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Section: section, Msg: fmt.Sprintf(format, args...)}
}

// IsConfigError returns true if err is or wraps a *ConfigError
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// PulseOrderingError describes a TTL pulse whose end precedes its start.
// The pulse is skipped and the error is only logged.
type PulseOrderingError struct {
	Device     string
	Pulse      int
	Start, End float64
}

func (e *PulseOrderingError) Error() string {
	return fmt.Sprintf("TTL pulse %d on %s ends at %gs before it starts at %gs", e.Pulse, e.Device, e.End, e.Start)
}

// TimingRoundingWarning is logged when a duration does not map to a whole
// number of samples and the count is rounded up
type TimingRoundingWarning struct {
	What    string
	Raw     float64
	Rounded int
}

func (w *TimingRoundingWarning) Error() string {
	return fmt.Sprintf("%s: %v, %g rounded up to %d", w.What, ErrNotInteger, w.Raw, w.Rounded)
}

func (w *TimingRoundingWarning) Unwrap() error { return ErrNotInteger }
