package scan

import (
	"context"
	"math"

	"github.com/nasa-jpl/scanlab/waveform"
	"pkt.systems/pslog"
)

// AxisBuilder turns one AxisScanSpec into a sample buffer
type AxisBuilder struct {
	// SampleRate in samples per second
	SampleRate float64

	// Shaper forms the ramp; nil uses waveform.Mixed
	Shaper waveform.Shaper

	// SettleTime is the hold at the final position in seconds.
	// Zero uses DefaultSettleTime.
	SettleTime float64

	// MaxSamples bounds the signal length.  Zero uses DefaultMaxSamples.
	MaxSamples int

	// Log receives timing warnings.  If nil, the logger in
	// context.Background is used
	Log pslog.Logger
}

// NewAxisBuilder returns a builder configured from a designer
func (d Designer) NewAxisBuilder(sampleRate float64, log pslog.Logger) AxisBuilder {
	return AxisBuilder{
		SampleRate: sampleRate,
		Shaper:     d.Shape.Shaper(d.CurveFraction),
		SettleTime: d.SettleTime,
		MaxSamples: d.maxSamples(),
		Log:        log,
	}
}

func (b AxisBuilder) log() pslog.Logger {
	if b.Log == nil {
		return pslog.Ctx(context.Background())
	}
	return b.Log
}

// ceilSamples rounds n up to a whole number of samples.  Values within
// roundingGuard of an integer are taken as that integer.  exact is false when
// the count was rounded.
func ceilSamples(n float64) (samples int, exact bool) {
	r := math.Round(n)
	if math.Abs(n-r) < roundingGuard {
		return int(r), true
	}
	return int(math.Ceil(n)), false
}

const roundingGuard = 1e-9

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

// boundedSamples is ceilSamples for a count that must be finite, not
// negative and no more than limit.  Failures are a *ConfigError.
func boundedSamples(section, what string, n float64, limit int) (int, error) {
	if !finite(n) || n < 0 {
		return 0, configErrorf(section, "%s: %g samples is not a usable count", what, n)
	}
	samples := limit + 1
	if n <= float64(limit)+1 {
		samples, _ = ceilSamples(n)
	}
	if samples > limit {
		return 0, configErrorf(section, "%s: %.0f samples exceeds the limit of %d", what, math.Ceil(n), limit)
	}
	return samples, nil
}

// SequenceSamples is the number of ramp samples for an axis, rounded up.
// A non-integer count is logged as a TimingRoundingWarning.
func (b AxisBuilder) SequenceSamples(spec AxisScanSpec) int {
	raw := spec.SequenceTimeMs * b.SampleRate / 1000
	n, exact := ceilSamples(raw)
	if !exact {
		w := &TimingRoundingWarning{What: "sequence samples", Raw: raw, Rounded: n}
		b.log().Warn("sample count rounded up", "device", spec.Device, "err", w)
	}
	return n
}

// Build returns the signal for one axis and its length.  The signal holds at
// StartPos for the start delay, ramps to Length over the sequence time, holds
// there for the settle time and ends on a single sample back at StartPos.
// Positions are divided by conversionFactor.
func (b AxisBuilder) Build(spec AxisScanSpec, conversionFactor float64) ([]float64, int, error) {
	if conversionFactor == 0 {
		return nil, 0, configErrorf("analog", "%s: conversion factor is zero", spec.Device)
	}
	if b.SampleRate <= 0 || !finite(b.SampleRate) {
		return nil, 0, configErrorf("", "sample rate must be positive, got %g", b.SampleRate)
	}
	for _, v := range []struct {
		name string
		f    float64
	}{
		{"scan time", spec.SequenceTimeMs},
		{"start time", spec.StartTimeMs},
		{"start position", spec.StartPos},
		{"length", spec.Length},
	} {
		if !finite(v.f) {
			return nil, 0, configErrorf("analog", "%s: %s must be finite, got %g", spec.Device, v.name, v.f)
		}
	}
	if spec.SequenceTimeMs <= 0 {
		return nil, 0, configErrorf("analog", "%s: scan time must be positive, got %g ms", spec.Device, spec.SequenceTimeMs)
	}
	if spec.StartTimeMs < 0 {
		return nil, 0, configErrorf("analog", "%s: start time must not be negative, got %g ms", spec.Device, spec.StartTimeMs)
	}
	shaper := b.Shaper
	if shaper == nil {
		shaper = waveform.Mixed
	}
	settle := b.SettleTime
	if settle == 0 {
		settle = DefaultSettleTime
	}
	if settle < 0 || !finite(settle) {
		return nil, 0, configErrorf("", "settle time must not be negative, got %g s", settle)
	}
	limit := b.MaxSamples
	if limit <= 0 {
		limit = DefaultMaxSamples
	}
	start := spec.StartPos / conversionFactor
	end := spec.Length / conversionFactor

	total := b.SampleRate * (spec.StartTimeMs/1000 + spec.SequenceTimeMs/1000 + settle)
	if _, err := boundedSamples("analog", spec.Device, total+1, limit); err != nil {
		return nil, 0, err
	}
	nRamp := b.SequenceSamples(spec)
	nDelay, _ := ceilSamples(b.SampleRate * spec.StartTimeMs / 1000)
	nSettle, _ := ceilSamples(b.SampleRate * settle)

	out := make([]float64, 0, nDelay+nRamp+nSettle+1)
	for i := 0; i < nDelay; i++ {
		out = append(out, start)
	}
	out = append(out, shaper(start, end, nRamp)...)
	for i := 0; i < nSettle; i++ {
		out = append(out, end)
	}
	out = append(out, start)
	return out, len(out), nil
}
