// Package util contains misc internal utilities.
package util

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

// Limiter is a pair of bounds.  A Limiter with Min >= Max is unset and
// accepts any value.
type Limiter struct {
	Min float64 `json:"min" yaml:"min" koanf:"min"`
	Max float64 `json:"max" yaml:"max" koanf:"max"`
}

// Set returns true if the limiter bounds anything
func (l Limiter) Set() bool {
	return l.Min < l.Max
}

// Check returns true if v is within the limits, inclusive
func (l Limiter) Check(v float64) bool {
	if !l.Set() {
		return true
	}
	return v >= l.Min && v <= l.Max
}

// Clamp limits v to [l.Min, l.Max] when the limiter is set
func (l Limiter) Clamp(v float64) float64 {
	if !l.Set() {
		return v
	}
	return Clamp(v, l.Min, l.Max)
}

// Clamp limits input to [low, high]
func Clamp(input, low, high float64) float64 {
	return math.Max(low, math.Min(high, input))
}

// SecsToDuration converts a number of seconds to a duration, rounded to the
// nearest nanosecond
func SecsToDuration(secs float64) time.Duration {
	return time.Duration(math.Round(secs * float64(time.Second)))
}

// IntSliceToCSV convets a slice of ints to CSV formatted data.
// e.g., []int{1,2,3,4,5} => "1,2,3,4,5"
func IntSliceToCSV(is []int) string {
	s := make([]string, len(is))
	for i, v := range is {
		s[i] = strconv.Itoa(v)
	}

	return strings.Join(s, ",")
}

// UniqueString returns the unique elements of a slice, in order of first
// appearance
func UniqueString(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// MergeErrors joins the non-nil errors of errs.  nil is returned if there are
// none.
func MergeErrors(errs []error) error {
	var keep []error
	for _, err := range errs {
		if err != nil {
			keep = append(keep, err)
		}
	}
	switch len(keep) {
	case 0:
		return nil
	case 1:
		return keep[0]
	default:
		return errors.Join(keep...)
	}
}
