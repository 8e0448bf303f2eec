package scan

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Dict is one section of scan parameters as exchanged with a parameter
// source or the parameter file.  Values are strings, floats, lists of either,
// nested lists, or nil.
type Dict map[string]interface{}

// Keys returns the sorted keys of d
func (d Dict) Keys() []string {
	out := make([]string, 0, len(d))
	for k := range d {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep copy of d.  Lists, nested lists, maps and pointers
// are copied; nothing is shared with d.
func (d Dict) Clone() Dict {
	if d == nil {
		return nil
	}
	out := make(Dict, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	return deepCopy(reflect.ValueOf(v)).Interface()
}

func deepCopy(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return v
		}
		out := reflect.New(v.Type()).Elem()
		out.Set(deepCopy(v.Elem()))
		return out
	case reflect.Ptr:
		if v.IsNil() {
			return v
		}
		out := reflect.New(v.Type().Elem())
		out.Elem().Set(deepCopy(v.Elem()))
		return out
	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(deepCopy(v.Index(i)))
		}
		return out
	case reflect.Map:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), deepCopy(iter.Value()))
		}
		return out
	}
	return v
}

var (
	// AnalogKeys are the keys of an analog parameter section
	AnalogKeys = []string{
		"target_device",
		"axis_length",
		"axis_step_size",
		"axis_startpos",
		"axis_start_time",
		"scan_time_edit",
		"axis_centerpos",
		"sequence_time",
	}

	// DigitalKeys are the keys of a digital parameter section
	DigitalKeys = []string{
		"target_device",
		"TTL_start",
		"TTL_end",
		"sequence_time",
	}
)

// AnalogParameters is the typed form of an analog Dict.  Lists are parallel
// to TargetDevice.  Per-axis entries are themselves lists so a positioner
// with several axes could be described; only the first element is used.
type AnalogParameters struct {
	TargetDevice  []string    `mapstructure:"target_device" yaml:"target_device,flow" json:"target_device"`
	AxisLength    []float64   `mapstructure:"axis_length" yaml:"axis_length,flow" json:"axis_length"`
	AxisStepSize  []float64   `mapstructure:"axis_step_size" yaml:"axis_step_size,flow" json:"axis_step_size"`
	AxisStartPos  [][]float64 `mapstructure:"axis_startpos" yaml:"axis_startpos,flow" json:"axis_startpos"`
	AxisStartTime [][]float64 `mapstructure:"axis_start_time" yaml:"axis_start_time,flow" json:"axis_start_time"`
	ScanTimeEdit  [][]float64 `mapstructure:"scan_time_edit" yaml:"scan_time_edit,flow" json:"scan_time_edit"`
	AxisCenterPos [][]float64 `mapstructure:"axis_centerpos" yaml:"axis_centerpos,flow" json:"axis_centerpos"`

	// SequenceTime is in seconds
	SequenceTime float64 `mapstructure:"sequence_time" yaml:"sequence_time" json:"sequence_time"`
}

// DigitalParameters is the typed form of a digital Dict.  TTL times are in
// seconds; a nil time is an empty entry.
type DigitalParameters struct {
	TargetDevice []string     `mapstructure:"target_device" yaml:"target_device,flow" json:"target_device"`
	TTLStart     [][]*float64 `mapstructure:"TTL_start" yaml:"TTL_start,flow" json:"TTL_start"`
	TTLEnd       [][]*float64 `mapstructure:"TTL_end" yaml:"TTL_end,flow" json:"TTL_end"`
	SequenceTime float64      `mapstructure:"sequence_time" yaml:"sequence_time" json:"sequence_time"`
}

// Dict converts a back to its keyed form
func (a AnalogParameters) Dict() Dict {
	return Dict{
		"target_device":   a.TargetDevice,
		"axis_length":     a.AxisLength,
		"axis_step_size":  a.AxisStepSize,
		"axis_startpos":   a.AxisStartPos,
		"axis_start_time": a.AxisStartTime,
		"scan_time_edit":  a.ScanTimeEdit,
		"axis_centerpos":  a.AxisCenterPos,
		"sequence_time":   a.SequenceTime,
	}
}

// Dict converts d back to its keyed form
func (d DigitalParameters) Dict() Dict {
	return Dict{
		"target_device": d.TargetDevice,
		"TTL_start":     d.TTLStart,
		"TTL_end":       d.TTLEnd,
		"sequence_time": d.SequenceTime,
	}
}

// CheckKeys returns a *ConfigError if the keys of d are not exactly expected
func CheckKeys(section string, d Dict, expected []string) error {
	want := make(map[string]bool, len(expected))
	for _, k := range expected {
		want[k] = true
	}
	ce := &ConfigError{Section: section}
	for _, k := range expected {
		if _, ok := d[k]; !ok {
			ce.Missing = append(ce.Missing, k)
		}
	}
	for _, k := range d.Keys() {
		if !want[k] {
			ce.Unexpected = append(ce.Unexpected, k)
		}
	}
	if len(ce.Missing) > 0 || len(ce.Unexpected) > 0 {
		return ce
	}
	return nil
}

var timesType = reflect.TypeOf([]*float64{})

// textTimesHook lets a TTL list entry be given in its comma separated text
// form, e.g. "1.0,5.0"
func textTimesHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String || to != timesType {
		return data, nil
	}
	return ParseTimes(data.(string))
}

func decode(section string, d Dict, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:  textTimesHook,
		ErrorUnused: true,
		Result:      out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(map[string]interface{}(d)); err != nil {
		return &ConfigError{Section: section, Msg: err.Error()}
	}
	return nil
}

// DecodeAnalog converts an analog Dict to its typed form.  The key set is
// checked against AnalogKeys.
func DecodeAnalog(d Dict) (AnalogParameters, error) {
	var a AnalogParameters
	if err := CheckKeys("analog", d, AnalogKeys); err != nil {
		return a, err
	}
	err := decode("analog", d, &a)
	return a, err
}

// DecodeDigital converts a digital Dict to its typed form.  The key set is
// checked against DigitalKeys.
func DecodeDigital(d Dict) (DigitalParameters, error) {
	var dp DigitalParameters
	if err := CheckKeys("digital", d, DigitalKeys); err != nil {
		return dp, err
	}
	err := decode("digital", d, &dp)
	return dp, err
}

// AxisScanSpec describes the motion of one scanned axis.  Positions are in
// physical units, times in milliseconds.
type AxisScanSpec struct {
	Device         string
	Length         float64
	StepSize       float64
	StartPos       float64
	StartTimeMs    float64
	CenterPos      float64
	SequenceTimeMs float64
}

// Hold is true when the axis has no step size and therefore no pixel count
func (s AxisScanSpec) Hold() bool {
	return s.StepSize == 0
}

// Pixels is the number of steps from StartPos to Length.
// ok is false in hold mode.
func (s AxisScanSpec) Pixels() (pixels int, ok bool) {
	if s.Hold() {
		return 0, false
	}
	return int(math.Round((s.Length - s.StartPos) / s.StepSize)), true
}

// ScanTime is the time in milliseconds to visit every pixel at sequenceTime
// seconds per pixel, rounded to the microsecond.  ok is false in hold mode.
func (s AxisScanSpec) ScanTime(sequenceTime float64) (ms float64, ok bool) {
	if s.Hold() {
		return 0, false
	}
	raw := (s.Length - s.StartPos) * sequenceTime * 1000 / s.StepSize
	return math.Round(raw*1000) / 1000, true
}

func first(f []float64) float64 {
	if len(f) == 0 {
		return 0
	}
	return f[0]
}

// Axes splits a into one spec per target device.  Parallel lists of the
// wrong length and multi-axis start positions are a *ConfigError.
func (a AnalogParameters) Axes() ([]AxisScanSpec, error) {
	n := len(a.TargetDevice)
	lengths := map[string]int{
		"axis_length":     len(a.AxisLength),
		"axis_step_size":  len(a.AxisStepSize),
		"axis_startpos":   len(a.AxisStartPos),
		"axis_start_time": len(a.AxisStartTime),
		"scan_time_edit":  len(a.ScanTimeEdit),
		"axis_centerpos":  len(a.AxisCenterPos),
	}
	for _, k := range AnalogKeys {
		l, ok := lengths[k]
		if ok && l != n {
			return nil, configErrorf("analog", "%s has %d entries for %d target devices", k, l, n)
		}
	}
	out := make([]AxisScanSpec, n)
	for i, dev := range a.TargetDevice {
		if len(a.AxisStartPos[i]) > 1 {
			return nil, configErrorf("analog", "%s: multi-axis positioners are not supported", dev)
		}
		out[i] = AxisScanSpec{
			Device:         dev,
			Length:         a.AxisLength[i],
			StepSize:       a.AxisStepSize[i],
			StartPos:       first(a.AxisStartPos[i]),
			StartTimeMs:    first(a.AxisStartTime[i]),
			CenterPos:      first(a.AxisCenterPos[i]),
			SequenceTimeMs: first(a.ScanTimeEdit[i]),
		}
	}
	return out, nil
}

// TTLWindowSpec holds the pulses of one digital device.  Starts and Ends are
// paired by index.
type TTLWindowSpec struct {
	Device string
	Starts []*float64
	Ends   []*float64
}

func anySet(f []*float64) bool {
	for _, v := range f {
		if v != nil {
			return true
		}
	}
	return false
}

// Included is false when either the starts or the ends are empty, which
// distinguishes an unset device from one that is always on
func (w TTLWindowSpec) Included() bool {
	return anySet(w.Starts) && anySet(w.Ends)
}

// Windows splits d into one spec per target device
func (d DigitalParameters) Windows() ([]TTLWindowSpec, error) {
	n := len(d.TargetDevice)
	if len(d.TTLStart) != n || len(d.TTLEnd) != n {
		return nil, configErrorf("digital", "TTL_start has %d and TTL_end %d entries for %d target devices",
			len(d.TTLStart), len(d.TTLEnd), n)
	}
	out := make([]TTLWindowSpec, n)
	for i, dev := range d.TargetDevice {
		out[i] = TTLWindowSpec{Device: dev, Starts: d.TTLStart[i], Ends: d.TTLEnd[i]}
	}
	return out, nil
}

// ParseTimes parses the comma separated text form of a TTL time list.
// Blank items are nil, so ParseTimes("") is a single nil entry.
func ParseTimes(s string) ([]*float64, error) {
	items := strings.Split(s, ",")
	out := make([]*float64, len(items))
	for i, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		f, err := strconv.ParseFloat(item, 64)
		if err != nil {
			return nil, fmt.Errorf("TTL time %q: %w", item, err)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("TTL time %q is not finite", item)
		}
		out[i] = &f
	}
	return out, nil
}

// FormatTimes is the inverse of ParseTimes
func FormatTimes(times []*float64) string {
	s := make([]string, len(times))
	for i, t := range times {
		if t != nil {
			s[i] = strconv.FormatFloat(*t, 'g', -1, 64)
		}
	}
	return strings.Join(s, ",")
}
