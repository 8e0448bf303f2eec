// Package scan compiles scan parameters into a Plan of length-synchronized
// analog and digital sample buffers.
//
// Parameters arrive as two Dicts, one analog and one digital, keyed by the
// names in AnalogKeys and DigitalKeys.  A Compiler checks them against a
// Designer, builds one signal per scanned axis with an AxisBuilder, holds the
// other positioners at their center, and adds TTL levels from a TTLBuilder.
// Every buffer of the resulting Plan has exactly SampleCount samples.
package scan

import (
	"encoding/binary"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/nasa-jpl/scanlab/util"
	"github.com/snksoft/crc"
)

var crcTable = crc.NewTable(crc.CRC32)

// Plan is a compiled scan.  Analog values are in the output unit of each
// channel, after the conversion factor has been applied.
type Plan struct {
	Analog      map[string][]float64 `json:"analog"`
	Digital     map[string][]bool    `json:"digital"`
	SampleCount int                  `json:"sampleCount"`
	SampleRate  float64              `json:"sampleRate"`
}

// Copy returns a deep copy of p
func (p *Plan) Copy() *Plan {
	if p == nil {
		return nil
	}
	out := &Plan{
		Analog:      make(map[string][]float64, len(p.Analog)),
		Digital:     make(map[string][]bool, len(p.Digital)),
		SampleCount: p.SampleCount,
		SampleRate:  p.SampleRate,
	}
	for k, v := range p.Analog {
		out.Analog[k] = append([]float64(nil), v...)
	}
	for k, v := range p.Digital {
		out.Digital[k] = append([]bool(nil), v...)
	}
	return out
}

// Validate checks that every buffer holds SampleCount samples
func (p *Plan) Validate() error {
	for k, v := range p.Analog {
		if len(v) != p.SampleCount {
			return fmt.Errorf("%w: analog %s has %d, want %d", ErrLengthMismatch, k, len(v), p.SampleCount)
		}
	}
	for k, v := range p.Digital {
		if len(v) != p.SampleCount {
			return fmt.Errorf("%w: digital %s has %d, want %d", ErrLengthMismatch, k, len(v), p.SampleCount)
		}
	}
	return nil
}

// Duration is the playback time of the plan
func (p *Plan) Duration() time.Duration {
	if p.SampleRate <= 0 {
		return 0
	}
	return util.SecsToDuration(float64(p.SampleCount) / p.SampleRate)
}

func sortedKeys[T any](m map[string]T) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// AnalogChannels returns the sorted analog channel names
func (p *Plan) AnalogChannels() []string { return sortedKeys(p.Analog) }

// DigitalChannels returns the sorted digital channel names
func (p *Plan) DigitalChannels() []string { return sortedKeys(p.Digital) }

// Checksum is a CRC-32 over the sample rate and every buffer in channel
// order.  Two plans with the same checksum play back the same output.
func (p *Plan) Checksum() uint32 {
	c := crcTable.InitCrc()
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, math.Float64bits(p.SampleRate))
	c = crcTable.UpdateCrc(c, buf)
	for _, k := range p.AnalogChannels() {
		c = crcTable.UpdateCrc(c, []byte("a:"+k))
		for _, v := range p.Analog[k] {
			binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
			c = crcTable.UpdateCrc(c, buf)
		}
	}
	for _, k := range p.DigitalChannels() {
		c = crcTable.UpdateCrc(c, []byte("d:"+k))
		bits := make([]byte, len(p.Digital[k]))
		for i, b := range p.Digital[k] {
			if b {
				bits[i] = 1
			}
		}
		c = crcTable.UpdateCrc(c, bits)
	}
	return crcTable.CRC32(c)
}

// WriteCSV writes one column per channel, analog channels first, with a
// header row of channel names.  Digital levels are written as 0 or 1.
func (p *Plan) WriteCSV(w io.Writer) error {
	analog, digital := p.AnalogChannels(), p.DigitalChannels()
	cw := csv.NewWriter(w)
	header := append(append([]string{}, analog...), digital...)
	if err := cw.Write(header); err != nil {
		return err
	}
	row := make([]string, len(header))
	for i := 0; i < p.SampleCount; i++ {
		for j, k := range analog {
			row[j] = strconv.FormatFloat(p.Analog[k][i], 'g', -1, 64)
		}
		for j, k := range digital {
			row[len(analog)+j] = "0"
			if p.Digital[k][i] {
				row[len(analog)+j] = "1"
			}
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFITS streams the plan to w as a 2D float64 image, one row per channel
// in the same order as WriteCSV.  Channel names and the sample rate are kept
// in the header.
func (p *Plan) WriteFITS(w io.Writer) error {
	analog, digital := p.AnalogChannels(), p.DigitalChannels()
	nch := len(analog) + len(digital)
	if nch == 0 || p.SampleCount == 0 {
		return errors.New("WriteFITS: plan is empty")
	}
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	dims := []int{p.SampleCount, nch}
	im := fitsio.NewImage(-64, dims)
	defer im.Close()
	cards := []fitsio.Card{
		{Name: "RATE", Value: p.SampleRate, Comment: "samples per second"},
		{Name: "NSAMP", Value: p.SampleCount, Comment: "samples per channel"},
		{Name: "NANALOG", Value: len(analog), Comment: "analog rows precede digital"},
	}
	for i, k := range append(append([]string{}, analog...), digital...) {
		cards = append(cards, fitsio.Card{Name: fmt.Sprintf("CH%d", i), Value: k})
	}
	err = im.Header().Append(cards...)
	if err != nil {
		return err
	}
	data := make([]float64, 0, p.SampleCount*nch)
	for _, k := range analog {
		data = append(data, p.Analog[k]...)
	}
	for _, k := range digital {
		for _, b := range p.Digital[k] {
			v := 0.
			if b {
				v = 1
			}
			data = append(data, v)
		}
	}
	err = im.Write(data)
	if err != nil {
		return err
	}
	return fits.Write(im)
}
