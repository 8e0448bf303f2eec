// Package daq provides a generic HTTP interface to waveform DACs
//
// This is not the last word in speed, due to HTTP having reasonable latency in
// most client languages, but it is the last word in ease of use.
package daq

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/nasa-jpl/scanlab/daq"
	"github.com/nasa-jpl/scanlab/generichttp"
)

// HTTPWaveform adds routes for waveform playback to the table
func HTTPWaveform(iface daq.WaveformDAC, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/playback/upload/float/csv"}] = UploadWaveformFloatCSV(iface)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/playback/start"}] = StartWaveform(iface)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/playback/stop"}] = StopWaveform(iface)
}

// UploadWaveformFloatCSV is an HTTP interface to multiple
// PopulateWaveform calls from one CSV file
func UploadWaveformFloatCSV(d daq.WaveformDAC) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, err := daq.ParseWaveformCSV(body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for i := 0; i < len(data); i++ {
			err = d.PopulateWaveform(data[i].Channel, data[i].Waveform)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	}
}

// StartWaveform commences waveform playback
func StartWaveform(d daq.WaveformDAC) http.HandlerFunc {
	return generichttp.Trigger(d.StartWaveform)
}

// StopWaveform ceases waveform playback
func StopWaveform(d daq.WaveformDAC) http.HandlerFunc {
	return generichttp.Trigger(d.StopWaveform)
}

// HTTPTimer adds routes for basic Timer operation to a table
func HTTPTimer(iface daq.Timer, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/timer-period"}] = SetTimerPeriod(iface)
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/timer-period"}] = GetTimerPeriod(iface)
}

// SetTimerPeriod invokes the function of the same name on a timer
func SetTimerPeriod(t daq.Timer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u := generichttp.Uint32T{}
		err := json.NewDecoder(r.Body).Decode(&u)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = t.SetTimerPeriod(u.Uint)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetTimerPeriod invokes the function of the same name on a timer
func GetTimerPeriod(t daq.Timer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ns, err := t.GetTimerPeriod()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		err = json.NewEncoder(w).Encode(generichttp.Uint32T{Uint: ns})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// HTTPDAC wraps a waveform DAC with HTTP
type HTTPDAC struct {
	daq.WaveformDAC

	RouteTable generichttp.RouteTable
}

// NewHTTPDAC sets up an HTTP interface to a DAC
func NewHTTPDAC(d daq.WaveformDAC) HTTPDAC {
	rt := generichttp.RouteTable{}
	HTTPWaveform(d, rt)
	HTTPTimer(d, rt)
	return HTTPDAC{WaveformDAC: d, RouteTable: rt}
}

// RT satisfies the HTTPer interface
func (h HTTPDAC) RT() generichttp.RouteTable {
	return h.RouteTable
}
