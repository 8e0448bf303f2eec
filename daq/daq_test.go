package daq_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/google/go-cmp/cmp"
	"github.com/nasa-jpl/scanlab/daq"
	httpdaq "github.com/nasa-jpl/scanlab/generichttp/daq"
	"github.com/nasa-jpl/scanlab/scan"
	"github.com/nasa-jpl/scanlab/util"
)

func testPlan() *scan.Plan {
	return &scan.Plan{
		Analog:      map[string][]float64{"X": {0, 1, 2, 3}, "Y": {5, 5, 5, 5}},
		Digital:     map[string][]bool{"camera": {false, true, true, false}},
		SampleCount: 4,
		SampleRate:  1000,
	}
}

func newAcquirer(d daq.WaveformDAC) *daq.DACAcquirer {
	return &daq.DACAcquirer{
		DAC:      d,
		Channels: map[string]int{"X": 0, "Y": 1, "camera": 7},
		TTLHigh:  3.3,
	}
}

func wait(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("done was not called")
		return nil
	}
}

func TestPeriodNanos(t *testing.T) {
	ns, err := daq.PeriodNanos(1000)
	if err != nil || ns != 1000000 {
		t.Errorf("expected 1e6 ns at 1 kHz, got %d %v", ns, err)
	}
	if _, err := daq.PeriodNanos(0); err == nil {
		t.Error("expected an error for a zero rate")
	}
}

func TestRunCompletes(t *testing.T) {
	dac := daq.NewMockDAC()
	a := newAcquirer(dac)
	done := make(chan error, 1)
	if err := a.Run(context.Background(), testPlan(), func(err error) { done <- err }); err != nil {
		t.Fatal(err)
	}
	if !dac.Playing() {
		t.Error("the DAC should be playing")
	}
	if err := wait(t, done); err != nil {
		t.Errorf("expected a clean finish, got %v", err)
	}
	if dac.Playing() || a.Running() {
		t.Error("playback should be over")
	}
	if diff := cmp.Diff([]float64{0, 1, 2, 3}, dac.Waveform(0)); diff != "" {
		t.Errorf("X waveform (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{0, 3.3, 3.3, 0}, dac.Waveform(7)); diff != "" {
		t.Errorf("camera TTL waveform (-want +got):\n%s", diff)
	}
	if p, _ := dac.GetTimerPeriod(); p != 1000000 {
		t.Errorf("expected a 1 ms period, got %d ns", p)
	}
}

func TestInitializeSkipsIdenticalPlan(t *testing.T) {
	dac := daq.NewMockDAC()
	a := newAcquirer(dac)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := a.Initialize(ctx, testPlan()); err != nil {
			t.Fatal(err)
		}
	}
	if up, _, _ := dac.Counts(); up != 3 {
		t.Errorf("three channels should be uploaded once, got %d uploads", up)
	}
	p := testPlan()
	p.Analog["X"][0] = -1
	if err := a.Initialize(ctx, p); err != nil {
		t.Fatal(err)
	}
	if up, _, _ := dac.Counts(); up != 6 {
		t.Errorf("a changed plan should be uploaded again, got %d uploads", up)
	}
}

func TestStop(t *testing.T) {
	dac := daq.NewMockDAC()
	a := newAcquirer(dac)
	p := testPlan()
	p.SampleRate = 1
	done := make(chan error, 1)
	if err := a.Run(context.Background(), p, func(err error) { done <- err }); err != nil {
		t.Fatal(err)
	}
	if err := a.Run(context.Background(), p, func(error) {}); !errors.Is(err, daq.ErrRunning) {
		t.Errorf("expected ErrRunning, got %v", err)
	}
	a.Stop()
	if err := wait(t, done); !errors.Is(err, daq.ErrStopped) {
		t.Errorf("expected ErrStopped, got %v", err)
	}
	a.Stop()
	if _, starts, stops := dac.Counts(); starts != 1 || stops != 1 {
		t.Errorf("expected one start and one stop, got %d and %d", starts, stops)
	}
}

func TestContextCancelEndsRun(t *testing.T) {
	a := newAcquirer(daq.NewMockDAC())
	p := testPlan()
	p.SampleRate = 1
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	if err := a.Run(ctx, p, func(err error) { done <- err }); err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := wait(t, done); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestUnmappedChannel(t *testing.T) {
	a := newAcquirer(daq.NewMockDAC())
	delete(a.Channels, "camera")
	err := a.Initialize(context.Background(), testPlan())
	if !errors.Is(err, daq.ErrUnmappedChannel) {
		t.Errorf("expected ErrUnmappedChannel, got %v", err)
	}
}

func TestStartFailure(t *testing.T) {
	dac := daq.NewMockDAC()
	dac.Fail = errors.New("no trigger")
	a := newAcquirer(dac)
	called := false
	if err := a.Run(context.Background(), testPlan(), func(error) { called = true }); err == nil {
		t.Fatal("expected the start failure to be returned")
	}
	if a.Running() || called {
		t.Error("a failed start should not be running or call done")
	}
}

func TestRangeClamps(t *testing.T) {
	dac := daq.NewMockDAC()
	a := newAcquirer(dac)
	a.Range = util.Limiter{Min: -2, Max: 2}
	if err := a.Initialize(context.Background(), testPlan()); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float64{0, 1, 2, 2}, dac.Waveform(0)); diff != "" {
		t.Errorf("clamped X (-want +got):\n%s", diff)
	}
}

func TestOverHTTP(t *testing.T) {
	mock := daq.NewMockDAC()
	r := chi.NewRouter()
	httpdaq.NewHTTPDAC(mock).RT().Bind(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	remote := daq.NewHTTPDAC(srv.URL)
	remote.MaxElapsed = 200 * time.Millisecond
	a := newAcquirer(remote)
	done := make(chan error, 1)
	if err := a.Run(context.Background(), testPlan(), func(err error) { done <- err }); err != nil {
		t.Fatal(err)
	}
	if err := wait(t, done); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float64{5, 5, 5, 5}, mock.Waveform(1)); diff != "" {
		t.Errorf("Y over HTTP (-want +got):\n%s", diff)
	}
	ns, err := remote.GetTimerPeriod()
	if err != nil || ns != 1000000 {
		t.Errorf("expected 1e6 ns, got %d %v", ns, err)
	}
	if _, starts, stops := mock.Counts(); starts != 1 || stops != 1 {
		t.Errorf("expected one start and one stop over HTTP, got %d and %d", starts, stops)
	}
}

func TestWaveformCSV(t *testing.T) {
	b, err := daq.WaveformCSV([]int{3, 1}, [][]float64{{0.5, 1}, {-2, 1e-7}})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "3,1\n0.5,-2\n1,1e-07\n" {
		t.Errorf("unexpected CSV %q", b)
	}
	back, err := daq.ParseWaveformCSV(b)
	if err != nil {
		t.Fatal(err)
	}
	want := []daq.ChannelWaveform{{3, []float64{0.5, 1}}, {1, []float64{-2, 1e-7}}}
	if diff := cmp.Diff(want, back); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if _, err := daq.WaveformCSV([]int{1, 2}, [][]float64{{1}, {1, 2}}); err == nil {
		t.Error("expected an error for ragged waveforms")
	}
}
