package daq

import (
	"sync"
)

// MockDAC is an in-memory WaveformDAC.  It keeps the last waveform of every
// channel and counts calls.
type MockDAC struct {
	mu        sync.Mutex
	period    uint32
	waveforms map[int][]float64
	playing   bool

	// Uploads, Starts and Stops count the calls made
	Uploads, Starts, Stops int

	// Fail, when set, is returned by StartWaveform
	Fail error
}

// NewMockDAC returns an empty MockDAC
func NewMockDAC() *MockDAC {
	return &MockDAC{waveforms: make(map[int][]float64)}
}

// SetTimerPeriod stores the period
func (m *MockDAC) SetTimerPeriod(ns uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.period = ns
	return nil
}

// GetTimerPeriod returns the stored period
func (m *MockDAC) GetTimerPeriod() (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.period, nil
}

// PopulateWaveform stores a copy of data for channel
func (m *MockDAC) PopulateWaveform(channel int, data []float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.waveforms == nil {
		m.waveforms = make(map[int][]float64)
	}
	m.waveforms[channel] = append([]float64(nil), data...)
	m.Uploads++
	return nil
}

// StartWaveform marks the DAC as playing
func (m *MockDAC) StartWaveform() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	m.playing = true
	m.Starts++
	return nil
}

// StopWaveform marks the DAC as idle
func (m *MockDAC) StopWaveform() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playing = false
	m.Stops++
	return nil
}

// Waveform returns the samples loaded on channel
func (m *MockDAC) Waveform(channel int) []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float64(nil), m.waveforms[channel]...)
}

// Playing reports if the waveform is started
func (m *MockDAC) Playing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playing
}

// Counts returns the upload, start and stop counts
func (m *MockDAC) Counts() (uploads, starts, stops int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Uploads, m.Starts, m.Stops
}
