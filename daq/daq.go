// Package daq plays compiled scan plans on waveform DACs.
//
// An Acquirer is the consumer of a scan.Plan.  DACAcquirer maps the plan's
// channels onto the outputs of a WaveformDAC, uploads the buffers, starts
// playback and reports completion once the plan's duration has elapsed.
// MockDAC is an in-memory WaveformDAC and HTTPDAC drives one over the
// network.
package daq

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/nasa-jpl/scanlab/scan"
	"github.com/nasa-jpl/scanlab/util"
	"pkt.systems/pslog"
)

var (
	// ErrStopped is passed to the completion function of a stopped run
	ErrStopped = errors.New("acquisition stopped")

	// ErrUnmappedChannel is returned when a plan channel has no DAC output
	ErrUnmappedChannel = errors.New("plan channel has no DAC output")

	// ErrRunning is returned by Run while a plan is playing
	ErrRunning = errors.New("acquisition already running")
)

// Acquirer consumes plans.  Run returns as soon as playback has started and
// calls done exactly once, from another goroutine, when it ends.
type Acquirer interface {
	Initialize(ctx context.Context, p *scan.Plan) error
	Run(ctx context.Context, p *scan.Plan, done func(error)) error
	Stop() error
}

// Timer describes a clock
type Timer interface {
	// SetTimerPeriod sets the sample period in nanoseconds
	SetTimerPeriod(uint32) error

	GetTimerPeriod() (uint32, error)
}

// WaveformDAC is a DAC which allows waveform playback
type WaveformDAC interface {
	Timer

	// PopulateWaveform loads the samples for one output channel
	PopulateWaveform(int, []float64) error

	StartWaveform() error

	StopWaveform() error
}

// MultiWaveformDAC can load several channels in one transfer
type MultiWaveformDAC interface {
	WaveformDAC

	PopulateWaveforms([]int, [][]float64) error
}

// PeriodNanos converts a sample rate to the nearest timer period in ns
func PeriodNanos(rate float64) (uint32, error) {
	if rate <= 0 {
		return 0, fmt.Errorf("sample rate must be positive, got %g", rate)
	}
	ns := math.Round(1e9 / rate)
	if ns < 1 || ns > math.MaxUint32 {
		return 0, fmt.Errorf("sample rate %g gives a timer period outside the DAC's range", rate)
	}
	return uint32(ns), nil
}

// DACAcquirer plays plans on a WaveformDAC
type DACAcquirer struct {
	DAC WaveformDAC

	// Channels maps plan channel names to DAC outputs
	Channels map[string]int

	// TTLHigh is the voltage written for a high digital sample
	TTLHigh float64

	// Range clamps analog samples when set
	Range util.Limiter

	Log pslog.Logger

	mu      sync.Mutex
	loaded  uint32
	hasPlan bool
	running bool
	done    func(error)
	timer   *time.Timer
	release func() bool
}

func (a *DACAcquirer) log() pslog.Logger {
	if a.Log == nil {
		return pslog.Ctx(context.Background())
	}
	return a.Log
}

// buffers converts the plan to per-output voltages
func (a *DACAcquirer) buffers(p *scan.Plan) ([]int, [][]float64, error) {
	var (
		chans []int
		data  [][]float64
		errs  []error
	)
	clamped := 0
	for _, name := range p.AnalogChannels() {
		ch, ok := a.Channels[name]
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnmappedChannel, name))
			continue
		}
		buf := make([]float64, len(p.Analog[name]))
		for i, v := range p.Analog[name] {
			buf[i] = a.Range.Clamp(v)
			if buf[i] != v {
				clamped++
			}
		}
		chans = append(chans, ch)
		data = append(data, buf)
	}
	for _, name := range p.DigitalChannels() {
		ch, ok := a.Channels[name]
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnmappedChannel, name))
			continue
		}
		buf := make([]float64, len(p.Digital[name]))
		for i, b := range p.Digital[name] {
			if b {
				buf[i] = a.TTLHigh
			}
		}
		chans = append(chans, ch)
		data = append(data, buf)
	}
	if err := util.MergeErrors(errs); err != nil {
		return nil, nil, err
	}
	if clamped > 0 {
		a.log().Warn("analog samples clamped to the DAC range", "samples", clamped,
			"min", a.Range.Min, "max", a.Range.Max)
	}
	return chans, data, nil
}

// Initialize uploads the plan.  A plan identical to the one already on the
// DAC is not uploaded again.
func (a *DACAcquirer) Initialize(ctx context.Context, p *scan.Plan) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return ErrRunning
	}
	return a.initialize(p)
}

func (a *DACAcquirer) initialize(p *scan.Plan) error {
	if err := p.Validate(); err != nil {
		return err
	}
	sum := p.Checksum()
	if a.hasPlan && sum == a.loaded {
		a.log().Debug("plan already on the DAC", "crc", sum)
		return nil
	}
	period, err := PeriodNanos(p.SampleRate)
	if err != nil {
		return err
	}
	chans, data, err := a.buffers(p)
	if err != nil {
		return err
	}
	a.hasPlan = false
	if err = a.DAC.SetTimerPeriod(period); err != nil {
		return fmt.Errorf("setting DAC timer period: %w", err)
	}
	if m, ok := a.DAC.(MultiWaveformDAC); ok {
		err = m.PopulateWaveforms(chans, data)
	} else {
		for i := range chans {
			if err = a.DAC.PopulateWaveform(chans[i], data[i]); err != nil {
				break
			}
		}
	}
	if err != nil {
		return fmt.Errorf("uploading waveform: %w", err)
	}
	a.loaded, a.hasPlan = sum, true
	a.log().Info("waveform uploaded", "channels", len(chans), "samples", p.SampleCount,
		"periodNs", period, "crc", sum)
	return nil
}

// Run uploads the plan if needed, starts playback and returns.  done is
// called with nil after the plan's duration, with ErrStopped after Stop, or
// with the context's error if ctx ends first.
func (a *DACAcquirer) Run(ctx context.Context, p *scan.Plan, done func(error)) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return ErrRunning
	}
	if err := a.initialize(p); err != nil {
		return err
	}
	if err := a.DAC.StartWaveform(); err != nil {
		return fmt.Errorf("starting waveform: %w", err)
	}
	a.running = true
	a.done = done
	a.timer = time.AfterFunc(p.Duration(), func() { a.finish(nil) })
	a.release = context.AfterFunc(ctx, func() { a.finish(ctx.Err()) })
	a.log().Debug("playback started", "duration", p.Duration())
	return nil
}

// finish ends the current run once; later calls do nothing
func (a *DACAcquirer) finish(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return
	}
	a.running = false
	a.timer.Stop()
	a.release()
	if stopErr := a.DAC.StopWaveform(); stopErr != nil {
		a.log().Error("stopping waveform", "err", stopErr)
		if err == nil {
			err = stopErr
		}
	}
	if done := a.done; done != nil {
		go done(err)
	}
	a.done = nil
}

// Stop ends playback early.  The run's done function receives ErrStopped.
func (a *DACAcquirer) Stop() error {
	a.finish(ErrStopped)
	return nil
}

// Running reports if a plan is playing
func (a *DACAcquirer) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}
