package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	"github.com/nasa-jpl/scanlab/scan"
	"github.com/nasa-jpl/scanlab/util"
	"github.com/nasa-jpl/scanlab/waveform"
)

// EnvPrefix marks environment variables which override the config file.
// A double underscore separates levels, e.g. SCANLAB_DAC__ADDR.
const EnvPrefix = "SCANLAB_"

// DesignerConfig selects and tunes the scan designer
type DesignerConfig struct {
	// Name is "beta" or "multi"
	Name string `koanf:"name" yaml:"name"`

	// Shape overrides the designer's ramp shape when not empty:
	// mixed, smooth, linear or quadratic
	Shape string `koanf:"shape" yaml:"shape"`

	CurveFraction float64 `koanf:"curve_fraction" yaml:"curve_fraction"`

	// SettleTime is in seconds
	SettleTime float64 `koanf:"settle_time" yaml:"settle_time"`

	// MaxSamples bounds the length of a plan; zero keeps the default
	MaxSamples int `koanf:"max_samples" yaml:"max_samples"`
}

// PositionerConfig describes one positioner and, optionally, where to park it
type PositionerConfig struct {
	ConversionFactor float64 `koanf:"conversion_factor" yaml:"conversion_factor"`
	ForScanning      bool    `koanf:"for_scanning" yaml:"for_scanning"`
	AxisIndex        int     `koanf:"axis_index" yaml:"axis_index"`
	CenterPos        float64 `koanf:"center_pos" yaml:"center_pos"`

	// Limits bound the output values; Min >= Max disables them
	Limits util.Limiter `koanf:"limits" yaml:"limits"`

	// MotionAddr is the base URL of the motion server which parks this
	// positioner.  Positioners with no address are not parked.
	MotionAddr string `koanf:"motion_addr" yaml:"motion_addr"`

	// Axes are the motion server's axis names, by axis index
	Axes []string `koanf:"axes" yaml:"axes"`
}

// DACConfig describes the waveform DAC
type DACConfig struct {
	// Addr is the base URL of the DAC server
	Addr string `koanf:"addr" yaml:"addr"`

	// Channels maps plan channel names to DAC outputs
	Channels map[string]int `koanf:"channels" yaml:"channels"`

	// TTLHigh is the voltage of a high digital sample
	TTLHigh float64 `koanf:"ttl_high" yaml:"ttl_high"`

	// Range clamps analog outputs
	Range util.Limiter `koanf:"range" yaml:"range"`
}

// TriggerConfig describes the serial camera trigger
type TriggerConfig struct {
	// Port is e.g. /dev/ttyUSB0; empty disables the trigger
	Port string `koanf:"port" yaml:"port"`
	Baud int    `koanf:"baud" yaml:"baud"`
}

// Config is the complete configuration of scanctl
type Config struct {
	// Addr is the address to listen at
	Addr string `koanf:"addr" yaml:"addr"`

	// Mock replaces the DAC and the motion servers with in-memory fakes
	Mock bool `koanf:"mock" yaml:"mock"`

	// SampleRate is the DAC output rate in Hz
	SampleRate float64 `koanf:"sample_rate" yaml:"sample_rate"`

	Designer DesignerConfig `koanf:"designer" yaml:"designer"`

	// CheckLimits rejects plans which leave a positioner's limits
	CheckLimits bool `koanf:"check_limits" yaml:"check_limits"`

	Positioners map[string]PositionerConfig `koanf:"positioners" yaml:"positioners"`

	// TTLDevices are the digital outputs which exist
	TTLDevices []string `koanf:"ttl_devices" yaml:"ttl_devices,flow"`

	DAC DACConfig `koanf:"dac" yaml:"dac"`

	Trigger TriggerConfig `koanf:"trigger" yaml:"trigger"`

	// ParameterFile holds the scan parameters
	ParameterFile string `koanf:"parameter_file" yaml:"parameter_file"`

	// Watch marks the parameters dirty whenever ParameterFile changes
	Watch bool `koanf:"watch" yaml:"watch"`
}

// DefaultConfig is a single axis mock setup
func DefaultConfig() Config {
	return Config{
		Addr:       ":8000",
		Mock:       true,
		SampleRate: 10000,
		Designer:   DesignerConfig{Name: "beta", CurveFraction: 0.6, SettleTime: scan.DefaultSettleTime},
		Positioners: map[string]PositionerConfig{
			"stage": {ConversionFactor: 1, ForScanning: true, Limits: util.Limiter{Min: -10, Max: 10}},
			"galvo": {ConversionFactor: 2, CenterPos: 0, MotionAddr: "mock", Axes: []string{"galvo"}},
		},
		TTLDevices: []string{"laser", "camera"},
		DAC: DACConfig{
			Addr:     "http://localhost:8001/dac",
			Channels: map[string]int{"stage": 0, "laser": 1, "camera": 2},
			TTLHigh:  5,
			Range:    util.Limiter{Min: -10, Max: 10},
		},
		Trigger:       TriggerConfig{Baud: 9600},
		ParameterFile: "scan.yml",
	}
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// loadConfig layers the defaults, the yaml file at path if it exists, and
// the environment
func loadConfig(path string) (*koanf.Koanf, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return nil, err
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !os.IsNotExist(err) && !strings.Contains(err.Error(), "no such") {
			return nil, fmt.Errorf("error loading config %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, err
	}
	return k, nil
}

func unmarshal(k *koanf.Koanf) (Config, error) {
	c := Config{}
	err := k.Unmarshal("", &c)
	return c, err
}

// ScanDesigner builds the configured scan designer
func (c Config) ScanDesigner() (scan.Designer, error) {
	d, ok := scan.DesignerByName(c.Designer.Name)
	if !ok {
		return d, fmt.Errorf("unknown designer %q", c.Designer.Name)
	}
	if c.Designer.Shape != "" {
		s, err := waveform.ParseShape(c.Designer.Shape)
		if err != nil {
			return d, err
		}
		d.Shape = s
	}
	if c.Designer.CurveFraction > 0 {
		d.CurveFraction = c.Designer.CurveFraction
	}
	if c.Designer.SettleTime > 0 {
		d.SettleTime = c.Designer.SettleTime
	}
	if c.Designer.MaxSamples > 0 {
		d.MaxSamples = c.Designer.MaxSamples
	}
	return d, nil
}

// Setup is the static hardware description the compiler needs
func (c Config) Setup() scan.SetupInfo {
	s := scan.SetupInfo{
		SampleRate:  c.SampleRate,
		Positioners: make(map[string]scan.PositionerInfo, len(c.Positioners)),
		TTLDevices:  c.TTLDevices,
	}
	for name, p := range c.Positioners {
		s.Positioners[name] = scan.PositionerInfo{
			ConversionFactor: p.ConversionFactor,
			ForScanning:      p.ForScanning,
			AxisIndex:        p.AxisIndex,
			CenterPos:        p.CenterPos,
			Min:              p.Limits.Min,
			Max:              p.Limits.Max,
		}
	}
	return s
}

// parked returns the names of positioners with a motion server, sorted
func (c Config) parked() []string {
	var out []string
	for name, p := range c.Positioners {
		if p.MotionAddr != "" {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
