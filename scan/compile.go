package scan

import (
	"context"
	"fmt"
	"sync"

	"github.com/nasa-jpl/scanlab/util"
	"pkt.systems/pslog"
)

// PositionerInfo is the static description of one positioner
type PositionerInfo struct {
	// ConversionFactor divides physical positions to give output values
	ConversionFactor float64

	// ForScanning positioners are driven by the plan.  Those not in the
	// active scan are held at CenterPos.
	ForScanning bool

	// AxisIndex is passed to the positioner when it is parked
	AxisIndex int

	// CenterPos is the park position in physical units
	CenterPos float64

	// Min and Max bound the output values when Min < Max
	Min, Max float64
}

// SetupInfo describes the hardware a plan is compiled for
type SetupInfo struct {
	// SampleRate is the fixed output rate of the acquisition device
	SampleRate float64

	Positioners map[string]PositionerInfo

	// TTLDevices lists the digital devices that exist.  Empty accepts any.
	TTLDevices []string
}

// Compiler turns parameter Dicts into a Plan
type Compiler struct {
	Designer Designer

	// CheckLimits rejects plans which drive a positioner outside [Min, Max]
	CheckLimits bool

	Log pslog.Logger
}

// NewCompiler returns a Compiler for d which checks positioner limits
func NewCompiler(d Designer, log pslog.Logger) *Compiler {
	return &Compiler{Designer: d, CheckLimits: true, Log: log}
}

func (c *Compiler) log() pslog.Logger {
	if c.Log == nil {
		return pslog.Ctx(context.Background())
	}
	return c.Log
}

func constant(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// padTo extends s to n samples by repeating its final sample
func padTo(s []float64, n int) []float64 {
	if len(s) >= n || len(s) == 0 {
		return s
	}
	last := s[len(s)-1]
	for len(s) < n {
		s = append(s, last)
	}
	return s
}

// Compile validates analog and digital against the designer and returns a
// plan in which every buffer has the same length.
//
// Every device in target_device is scanned using its own conversion factor;
// the axes are built concurrently.  Positioners marked ForScanning which are
// not scanned hold their CenterPos.  When static is true nothing moves and
// the scanned axes hold their axis_centerpos instead.  The plan is as long
// as the longest axis or the sequence time, whichever is greater; shorter
// axes are padded with their final sample.
//
// Parameter failures are *ConfigError and no partial plan is returned.  A
// panic while building an axis is returned as a plain error.
func (c *Compiler) Compile(analog, digital Dict, setup SetupInfo, static bool) (*Plan, error) {
	if setup.SampleRate <= 0 || !finite(setup.SampleRate) {
		return nil, configErrorf("", "sample rate must be positive, got %g", setup.SampleRate)
	}
	if err := CheckKeys("analog", analog, c.Designer.ExpectedParameters); err != nil {
		return nil, err
	}
	if err := CheckKeys("digital", digital, DigitalKeys); err != nil {
		return nil, err
	}
	var (
		a AnalogParameters
		d DigitalParameters
	)
	if err := decode("analog", analog, &a); err != nil {
		return nil, err
	}
	if err := decode("digital", digital, &d); err != nil {
		return nil, err
	}
	axes, err := a.Axes()
	if err != nil {
		return nil, err
	}
	if c.Designer.AxisCount > 0 && len(axes) != c.Designer.AxisCount {
		return nil, configErrorf("analog", "designer %s requires %d target devices, got %d",
			c.Designer.Name, c.Designer.AxisCount, len(axes))
	}
	windows, err := d.Windows()
	if err != nil {
		return nil, err
	}

	scanned := make(map[string]bool, len(axes))
	infos := make([]PositionerInfo, len(axes))
	for i, ax := range axes {
		info, ok := setup.Positioners[ax.Device]
		if !ok {
			return nil, configErrorf("analog", "target device %s is not a configured positioner", ax.Device)
		}
		if scanned[ax.Device] {
			return nil, configErrorf("analog", "target device %s is listed more than once", ax.Device)
		}
		if info.ConversionFactor == 0 {
			return nil, configErrorf("analog", "%s: conversion factor is zero", ax.Device)
		}
		scanned[ax.Device] = true
		infos[i] = info
	}

	signals := make([][]float64, len(axes))
	if !static {
		builder := c.Designer.NewAxisBuilder(setup.SampleRate, c.log())
		errs := make([]error, len(axes))
		var wg sync.WaitGroup
		for i := range axes {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				defer func() {
					if r := recover(); r != nil {
						errs[i] = fmt.Errorf("building %s: panic: %v", axes[i].Device, r)
					}
				}()
				signals[i], _, errs[i] = builder.Build(axes[i], infos[i].ConversionFactor)
			}(i)
		}
		wg.Wait()
		for _, err := range errs {
			if err != nil {
				return nil, err
			}
		}
	}

	total := 1
	for _, s := range signals {
		if len(s) > total {
			total = len(s)
		}
	}
	seq := a.SequenceTime
	if d.SequenceTime > seq {
		seq = d.SequenceTime
	}
	n, err := boundedSamples("", "sequence_time", seq*setup.SampleRate, c.Designer.maxSamples())
	if err != nil {
		return nil, err
	}
	if n > total {
		total = n
	}

	plan := &Plan{
		Analog:      make(map[string][]float64),
		SampleCount: total,
		SampleRate:  setup.SampleRate,
	}
	for i, ax := range axes {
		if static {
			plan.Analog[ax.Device] = constant(ax.CenterPos/infos[i].ConversionFactor, total)
			continue
		}
		if len(signals[i]) < total {
			c.log().Debug("axis padded with its final sample", "device", ax.Device,
				"samples", len(signals[i]), "total", total)
		}
		plan.Analog[ax.Device] = padTo(signals[i], total)
	}
	for _, name := range sortedKeys(setup.Positioners) {
		info := setup.Positioners[name]
		if !info.ForScanning || scanned[name] {
			continue
		}
		if info.ConversionFactor == 0 {
			return nil, configErrorf("analog", "%s: conversion factor is zero", name)
		}
		plan.Analog[name] = constant(info.CenterPos/info.ConversionFactor, total)
	}
	if c.CheckLimits {
		if err := checkLimits(plan, setup.Positioners); err != nil {
			return nil, err
		}
	}

	ttl := TTLBuilder{SampleRate: setup.SampleRate, Devices: setup.TTLDevices, Log: c.log()}
	plan.Digital = ttl.Build(windows, total)
	if err := plan.Validate(); err != nil {
		return nil, configErrorf("", "%v", err)
	}
	c.log().Debug("plan compiled", "samples", total, "analog", len(plan.Analog),
		"digital", len(plan.Digital), "static", static)
	return plan, nil
}

func checkLimits(p *Plan, positioners map[string]PositionerInfo) error {
	for _, name := range p.AnalogChannels() {
		info := positioners[name]
		lim := util.Limiter{Min: info.Min, Max: info.Max}
		if !lim.Set() {
			continue
		}
		for i, v := range p.Analog[name] {
			if !lim.Check(v) {
				return configErrorf("analog", "%s: sample %d is %g, outside [%g, %g]",
					name, i, v, info.Min, info.Max)
			}
		}
	}
	return nil
}
