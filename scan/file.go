package scan

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v2"
)

// ParameterSet is everything needed to recreate a scan
type ParameterSet struct {
	Analog  Dict `json:"analog"`
	Digital Dict `json:"digital"`

	// Continuous selects the laser pulse mode, in which nothing moves
	Continuous bool `json:"continuous"`
}

// Clone returns a deep copy of ps
func (ps ParameterSet) Clone() ParameterSet {
	return ParameterSet{Analog: ps.Analog.Clone(), Digital: ps.Digital.Clone(), Continuous: ps.Continuous}
}

type modes struct {
	ScanOrNot bool `yaml:"scan_or_not"`
}

type parameterFileOut struct {
	Analog  AnalogParameters  `yaml:"analogParameterDict"`
	Digital DigitalParameters `yaml:"digitalParameterDict"`
	Modes   modes             `yaml:"Modes"`
}

type parameterFileIn struct {
	Analog  map[string]interface{} `yaml:"analogParameterDict"`
	Digital map[string]interface{} `yaml:"digitalParameterDict"`
	Modes   modes                  `yaml:"Modes"`
}

// SaveParameters writes ps to w as YAML.  Each section must have the
// complete key set; values are written as flow lists.
func SaveParameters(w io.Writer, ps ParameterSet) error {
	a, err := DecodeAnalog(ps.Analog)
	if err != nil {
		return err
	}
	d, err := DecodeDigital(ps.Digital)
	if err != nil {
		return err
	}
	out := parameterFileOut{Analog: a, Digital: d, Modes: modes{ScanOrNot: !ps.Continuous}}
	b, err := yaml.Marshal(out)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// LoadParameters reads a parameter file written by SaveParameters.  The
// analog section must have exactly the keys the designer expects.
func LoadParameters(r io.Reader, designer Designer) (ParameterSet, error) {
	var in parameterFileIn
	if err := yaml.NewDecoder(r).Decode(&in); err != nil {
		return ParameterSet{}, fmt.Errorf("parameter file: %w", err)
	}
	analog, digital := Dict(in.Analog), Dict(in.Digital)
	if err := CheckKeys("analog", analog, designer.ExpectedParameters); err != nil {
		return ParameterSet{}, err
	}
	// decode and re-encode so the Dicts hold typed values
	a, err := DecodeAnalog(analog)
	if err != nil {
		return ParameterSet{}, err
	}
	d, err := DecodeDigital(digital)
	if err != nil {
		return ParameterSet{}, err
	}
	return ParameterSet{Analog: a.Dict(), Digital: d.Dict(), Continuous: !in.Modes.ScanOrNot}, nil
}

// SaveParametersFile is SaveParameters to a file, which is truncated
func SaveParametersFile(path string, ps ParameterSet) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err = SaveParameters(f, ps); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadParametersFile is LoadParameters from a file
func LoadParametersFile(path string, designer Designer) (ParameterSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return ParameterSet{}, err
	}
	defer f.Close()
	return LoadParameters(f, designer)
}
