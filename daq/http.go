package daq

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/nasa-jpl/scanlab/generichttp"
	"github.com/nasa-jpl/scanlab/util"
)

// HTTPDAC is a MultiWaveformDAC on a remote server which serves
// /timer-period, /playback/upload/float/csv, /playback/start and
// /playback/stop
type HTTPDAC struct {
	*generichttp.Client
}

// NewHTTPDAC returns a DAC for the server at addr,
// e.g. http://localhost:8000/omc/dac
func NewHTTPDAC(addr string) HTTPDAC {
	return HTTPDAC{Client: generichttp.NewClient(addr)}
}

// SetTimerPeriod sets the sample period in nanoseconds
func (h HTTPDAC) SetTimerPeriod(ns uint32) error {
	return h.PostJSON(context.Background(), "/timer-period", generichttp.Uint32T{Uint: ns})
}

// GetTimerPeriod returns the sample period in nanoseconds
func (h HTTPDAC) GetTimerPeriod() (uint32, error) {
	u := generichttp.Uint32T{}
	err := h.GetJSON(context.Background(), "/timer-period", &u)
	return u.Uint, err
}

// PopulateWaveform uploads one channel
func (h HTTPDAC) PopulateWaveform(channel int, data []float64) error {
	return h.PopulateWaveforms([]int{channel}, [][]float64{data})
}

// PopulateWaveforms uploads several equal length channels as one CSV file
// with a header row of channel numbers
func (h HTTPDAC) PopulateWaveforms(channels []int, data [][]float64) error {
	body, err := WaveformCSV(channels, data)
	if err != nil {
		return err
	}
	_, err = h.Do(context.Background(), http.MethodPost, "/playback/upload/float/csv", "text/csv", body)
	return err
}

// StartWaveform commences waveform playback
func (h HTTPDAC) StartWaveform() error {
	_, err := h.Do(context.Background(), http.MethodPost, "/playback/start", "", nil)
	return err
}

// StopWaveform ceases waveform playback
func (h HTTPDAC) StopWaveform() error {
	_, err := h.Do(context.Background(), http.MethodPost, "/playback/stop", "", nil)
	return err
}

// WaveformCSV encodes waveforms in the upload format: a header row of
// channel numbers, then one row per sample
func WaveformCSV(channels []int, data [][]float64) ([]byte, error) {
	if len(channels) != len(data) {
		return nil, fmt.Errorf("%d channels but %d waveforms", len(channels), len(data))
	}
	n := 0
	for i, d := range data {
		if i == 0 {
			n = len(d)
		} else if len(d) != n {
			return nil, fmt.Errorf("waveform for channel %d has %d samples, want %d", channels[i], len(d), n)
		}
	}
	var buf bytes.Buffer
	buf.WriteString(util.IntSliceToCSV(channels))
	buf.WriteByte('\n')
	row := make([]string, len(data))
	for i := 0; i < n; i++ {
		for j := range data {
			row[j] = strconv.FormatFloat(data[j][i], 'g', -1, 64)
		}
		buf.WriteString(strings.Join(row, ","))
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// ChannelWaveform is one column of an uploaded CSV file
type ChannelWaveform struct {
	Channel  int
	Waveform []float64
}

// ParseWaveformCSV decodes the output of WaveformCSV
func ParseWaveformCSV(b []byte) ([]ChannelWaveform, error) {
	records, err := csv.NewReader(bytes.NewReader(b)).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("waveform CSV has no header")
	}
	out := make([]ChannelWaveform, len(records[0]))
	for i, s := range records[0] {
		c, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("header column %d: %w", i, err)
		}
		out[i].Channel = c
		out[i].Waveform = make([]float64, 0, len(records)-1)
	}
	for r, record := range records[1:] {
		for i, s := range record {
			f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return nil, fmt.Errorf("row %d column %d: %w", r+1, i, err)
			}
			out[i].Waveform = append(out[i].Waveform, f)
		}
	}
	return out, nil
}
