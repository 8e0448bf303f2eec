package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/nasa-jpl/scanlab/daq"
	"github.com/nasa-jpl/scanlab/motion"
	"github.com/nasa-jpl/scanlab/scan"
)

// journal is a shared, ordered record of what the collaborators were asked to do
type journal struct {
	mu      sync.Mutex
	entries []string
	events  []EventKind
}

func (j *journal) add(s string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, s)
}

func (j *journal) Notify(e Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, e.Kind)
}

func (j *journal) take() ([]string, []EventKind) {
	j.mu.Lock()
	defer j.mu.Unlock()
	e, ev := j.entries, j.events
	j.entries, j.events = nil, nil
	return e, ev
}

type fakeAcquirer struct {
	j      *journal
	mu     sync.Mutex
	inits  int
	runs   int
	plans  []*scan.Plan
	done   []func(error)
	runErr error
}

func (f *fakeAcquirer) Initialize(ctx context.Context, p *scan.Plan) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inits++
	return nil
}

func (f *fakeAcquirer) Run(ctx context.Context, p *scan.Plan, done func(error)) error {
	f.j.add("run")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.runErr != nil {
		return f.runErr
	}
	f.runs++
	f.plans = append(f.plans, p)
	f.done = append(f.done, done)
	return nil
}

// complete finishes the most recent run
func (f *fakeAcquirer) complete(err error) {
	f.mu.Lock()
	done := f.done[len(f.done)-1]
	f.mu.Unlock()
	done(err)
}

func (f *fakeAcquirer) Stop() error {
	f.j.add("stop")
	f.complete(daq.ErrStopped)
	return nil
}

func (f *fakeAcquirer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

type countingSource struct {
	*StaticSource
	mu    sync.Mutex
	calls int
}

func (c *countingSource) Parameters() (scan.ParameterSet, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.StaticSource.Parameters()
}

func (c *countingSource) n() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func testSetup() scan.SetupInfo {
	return scan.SetupInfo{
		SampleRate: 1000,
		Positioners: map[string]scan.PositionerInfo{
			"X":    {ConversionFactor: 1, ForScanning: true, CenterPos: 2.5},
			"Y":    {ConversionFactor: 2, ForScanning: true, CenterPos: 3, AxisIndex: 1},
			"Lamp": {ConversionFactor: 1, CenterPos: 7},
		},
		TTLDevices: []string{"camera"},
	}
}

func testParameters() scan.ParameterSet {
	a := scan.AnalogParameters{
		TargetDevice:  []string{"X"},
		AxisLength:    []float64{5},
		AxisStepSize:  []float64{0.1},
		AxisStartPos:  [][]float64{{0}},
		AxisStartTime: [][]float64{{17}},
		ScanTimeEdit:  [][]float64{{27}},
		AxisCenterPos: [][]float64{{1}},
	}
	d := scan.DigitalParameters{TargetDevice: []string{}, TTLStart: [][]*float64{}, TTLEnd: [][]*float64{}}
	return scan.ParameterSet{Analog: a.Dict(), Digital: d.Dict()}
}

type fixture struct {
	ctl *Controller
	acq *fakeAcquirer
	src *countingSource
	j   *journal
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	j := &journal{}
	acq := &fakeAcquirer{j: j}
	src := &countingSource{StaticSource: NewStaticSource(testParameters())}
	park := func(name string) motion.Positioner {
		return motion.PositionerFunc(func(v float64, axis int) error {
			j.add("park " + name)
			return nil
		})
	}
	ctl := New(Config{
		Compiler: scan.NewCompiler(scan.BetaDesigner(), nil),
		Setup:    testSetup(),
		Acquirer: acq,
		Positioners: map[string]motion.Positioner{
			"X": park("X"), "Y": park("Y"), "Lamp": park("Lamp"),
		},
		Source:   src,
		Notifier: j,
	})
	return fixture{ctl: ctl, acq: acq, src: src, j: j}
}

func checkState(t *testing.T, c *Controller, want State) {
	t.Helper()
	if got := c.State(); got != want {
		t.Fatalf("expected state %v, got %v", want, got)
	}
}

func TestInitializeThenRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	checkState(t, f.ctl, Idle)
	if err := f.ctl.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	checkState(t, f.ctl, PlanReady)
	if f.acq.inits != 1 {
		t.Errorf("expected the plan to be loaded once, got %d", f.acq.inits)
	}
	if p := f.ctl.Plan(); p == nil || p.SampleCount != 50 {
		t.Fatalf("expected a 50 sample plan, got %+v", p)
	}
	f.j.take()

	calls := f.src.n()
	if err := f.ctl.Run(ctx, RunOptions{}); err != nil {
		t.Fatal(err)
	}
	if f.src.n() != calls {
		t.Error("running an up to date plan should not read the parameters again")
	}
	checkState(t, f.ctl, Running)
	entries, events := f.j.take()
	if diff := cmp.Diff([]string{"park Lamp", "park Y", "run"}, entries); diff != "" {
		t.Errorf("positioners must be parked before the run (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]EventKind{ScanStarting}, events); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}

	f.acq.complete(nil)
	checkState(t, f.ctl, Done)
	if f.ctl.Running() {
		t.Error("running should be false after the scan ended")
	}
	_, events = f.j.take()
	if diff := cmp.Diff([]EventKind{ScanDone, ScanEnded}, events); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
}

func TestRunCompilesWhenNeeded(t *testing.T) {
	f := newFixture(t)
	if err := f.ctl.Run(context.Background(), RunOptions{}); err != nil {
		t.Fatal(err)
	}
	if f.acq.count() != 1 || f.acq.plans[0].SampleCount != 50 {
		t.Fatal("Run without Initialize should compile and run")
	}
	if err := f.ctl.Run(context.Background(), RunOptions{}); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy while running, got %v", err)
	}
}

func TestRepeatReentersWithoutRecompute(t *testing.T) {
	f := newFixture(t)
	f.ctl.SetRepeat(true)
	if err := f.ctl.Run(context.Background(), RunOptions{}); err != nil {
		t.Fatal(err)
	}
	calls := f.src.n()
	f.j.take()

	f.acq.complete(nil)
	checkState(t, f.ctl, Running)
	if f.acq.count() != 2 {
		t.Fatalf("expected a second run, got %d", f.acq.count())
	}
	if f.src.n() != calls {
		t.Error("a repeat should not read the parameters")
	}
	if diff := cmp.Diff(f.acq.plans[0], f.acq.plans[1]); diff != "" {
		t.Errorf("a repeat should reuse the plan:\n%s", diff)
	}
	entries, events := f.j.take()
	if diff := cmp.Diff([]string{"park Lamp", "park Y", "run"}, entries); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if len(events) != 0 {
		t.Errorf("a repeat should not notify, got %v", events)
	}

	f.ctl.Stop()
	checkState(t, f.ctl, Done)
	if f.acq.count() != 2 {
		t.Error("a stopped scan must not repeat")
	}
	_, events = f.j.take()
	if diff := cmp.Diff([]EventKind{ScanEnded}, events); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
}

func TestContinuousMode(t *testing.T) {
	f := newFixture(t)
	if err := f.ctl.SetContinuous(true); err != nil {
		t.Fatal(err)
	}
	f.j.take()
	if err := f.ctl.Run(context.Background(), RunOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, events := f.j.take(); len(events) != 1 || events[0] != ParametersChanged {
		t.Errorf("continuous mode should not announce a scan, got %v", events)
	}
	for i, v := range f.acq.plans[0].Analog["X"] {
		if v != 1 {
			t.Fatalf("nothing should move in continuous mode, X[%d] = %g", i, v)
		}
	}
	f.acq.complete(nil)
	f.acq.complete(nil)
	if f.acq.count() != 3 {
		t.Errorf("continuous mode should keep running, got %d runs", f.acq.count())
	}
	_, events := f.j.take()
	if len(events) != 0 {
		t.Errorf("continuous mode is not a scan and should not notify, got %v", events)
	}
	if err := f.ctl.SetContinuous(false); !errors.Is(err, ErrBusy) {
		t.Errorf("the mode cannot change while running, got %v", err)
	}
	f.ctl.Stop()
	checkState(t, f.ctl, Done)
	if _, events := f.j.take(); len(events) != 0 {
		t.Errorf("stopping continuous mode should not notify, got %v", events)
	}
}

func TestNonFinalPartOfSequence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.ctl.Run(ctx, RunOptions{NonFinalPartOfSequence: true}); err != nil {
		t.Fatal(err)
	}
	f.j.take()
	f.acq.complete(nil)
	checkState(t, f.ctl, NonFinalSequencePending)
	_, events := f.j.take()
	if diff := cmp.Diff([]EventKind{ScanDone}, events); diff != "" {
		t.Errorf("a non-final part should not end the scan (-want +got):\n%s", diff)
	}
	calls := f.src.n()
	if err := f.ctl.Run(ctx, RunOptions{}); err != nil {
		t.Fatal(err)
	}
	if f.src.n() != calls {
		t.Error("the next part should reuse the plan")
	}
	f.acq.complete(nil)
	checkState(t, f.ctl, Done)
	_, events = f.j.take()
	if diff := cmp.Diff([]EventKind{ScanStarting, ScanDone, ScanEnded}, events); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
}

func TestRecalculateSignals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ctl.Initialize(ctx)
	calls := f.src.n()
	if err := f.ctl.Run(ctx, RunOptions{RecalculateSignals: true}); err != nil {
		t.Fatal(err)
	}
	if f.src.n() != calls+1 {
		t.Error("RecalculateSignals should read the parameters and compile")
	}
}

func TestConfigErrorLeavesParametersDirty(t *testing.T) {
	f := newFixture(t)
	ps := testParameters()
	delete(ps.Analog, "axis_centerpos")
	f.src.SetParameters(ps)
	err := f.ctl.Initialize(context.Background())
	if !scan.IsConfigError(err) {
		t.Fatalf("expected a ConfigError, got %v", err)
	}
	checkState(t, f.ctl, ParametersDirty)
	if f.acq.inits != 0 {
		t.Error("nothing should be loaded after a configuration error")
	}
	if f.ctl.Plan() != nil {
		t.Error("no plan should exist")
	}
	if err := f.ctl.Run(context.Background(), RunOptions{}); !scan.IsConfigError(err) {
		t.Errorf("Run should report the configuration error, got %v", err)
	}
	if f.ctl.Running() {
		t.Error("a scan with bad parameters must not start")
	}
}

func TestRuntimeFaults(t *testing.T) {
	boom := errors.New("DAC on fire")

	f := newFixture(t)
	f.acq.runErr = boom
	if err := f.ctl.Run(context.Background(), RunOptions{}); err != nil {
		t.Fatalf("runtime faults are not returned, got %v", err)
	}
	checkState(t, f.ctl, Idle)
	if f.ctl.Running() {
		t.Error("running must be false after a fault")
	}
	if fault := f.ctl.LastFault(); fault == nil || !errors.Is(fault, boom) {
		t.Errorf("expected the fault to be recorded, got %v", fault)
	}
	_, events := f.j.take()
	if len(events) == 0 || events[len(events)-1] != Fault {
		t.Errorf("expected a fault notification, got %v", events)
	}

	f = newFixture(t)
	f.ctl.Run(context.Background(), RunOptions{})
	f.acq.complete(boom)
	checkState(t, f.ctl, Idle)
	if f.ctl.LastFault() == nil {
		t.Error("a failed acquisition should be a fault")
	}
	// ready for a new attempt
	if err := f.ctl.Run(context.Background(), RunOptions{}); err != nil {
		t.Fatal(err)
	}
	checkState(t, f.ctl, Running)
}

func TestCompilePanicIsFault(t *testing.T) {
	f := newFixture(t)
	f.ctl.cfg.Compiler = nil
	if err := f.ctl.Run(context.Background(), RunOptions{}); err != nil {
		t.Fatalf("runtime faults are not returned, got %v", err)
	}
	checkState(t, f.ctl, Idle)
	if f.ctl.Running() || f.acq.count() != 0 {
		t.Error("nothing should run after a failed compile")
	}
	if f.ctl.LastFault() == nil {
		t.Error("a compile panic should be recorded as a fault")
	}
	_, events := f.j.take()
	if len(events) == 0 || events[len(events)-1] != Fault {
		t.Errorf("expected a fault notification, got %v", events)
	}
	if err := f.ctl.Initialize(context.Background()); err != nil {
		t.Errorf("runtime faults are not returned, got %v", err)
	}
	checkState(t, f.ctl, Idle)
}

func longerScan() scan.ParameterSet {
	ps := testParameters()
	ps.Analog["scan_time_edit"] = [][]float64{{100}}
	return ps
}

func TestParameterChangeDuringRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.ctl.Run(ctx, RunOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := f.ctl.SetParameters(longerScan()); err != nil {
		t.Fatal(err)
	}
	checkState(t, f.ctl, Running)
	f.acq.complete(nil)
	checkState(t, f.ctl, ParametersDirty)
	if err := f.ctl.Run(ctx, RunOptions{}); err != nil {
		t.Fatal(err)
	}
	// 17 delay + 100 ramp + 5 settle + 1 return
	if n := f.acq.plans[1].SampleCount; n != 123 {
		t.Errorf("the second run should use the new parameters, got %d samples", n)
	}
	f.acq.complete(nil)
	checkState(t, f.ctl, Done)

	// a file change reported by the watcher behaves the same
	f = newFixture(t)
	if err := f.ctl.Run(ctx, RunOptions{NonFinalPartOfSequence: true}); err != nil {
		t.Fatal(err)
	}
	f.src.SetParameters(longerScan())
	f.ctl.MarkDirty()
	f.acq.complete(nil)
	checkState(t, f.ctl, ParametersDirty)
	if err := f.ctl.Run(ctx, RunOptions{}); err != nil {
		t.Fatal(err)
	}
	if n := f.acq.plans[1].SampleCount; n != 123 {
		t.Errorf("the next part should use the new parameters, got %d samples", n)
	}
}

type slowInit struct {
	*fakeAcquirer
	entered, release chan struct{}
}

func (s *slowInit) Initialize(ctx context.Context, p *scan.Plan) error {
	close(s.entered)
	<-s.release
	return s.fakeAcquirer.Initialize(ctx, p)
}

func TestRunWhileInitializing(t *testing.T) {
	for _, change := range []bool{false, true} {
		f := newFixture(t)
		slow := &slowInit{fakeAcquirer: f.acq, entered: make(chan struct{}), release: make(chan struct{})}
		f.ctl.cfg.Acquirer = slow
		done := make(chan error)
		go func() { done <- f.ctl.Initialize(context.Background()) }()
		<-slow.entered

		if err := f.ctl.Run(context.Background(), RunOptions{}); !errors.Is(err, ErrBusy) {
			t.Errorf("expected ErrBusy while the plan loads, got %v", err)
		}
		if err := f.ctl.Initialize(context.Background()); !errors.Is(err, ErrBusy) {
			t.Errorf("expected ErrBusy from a second Initialize, got %v", err)
		}
		if change {
			f.ctl.MarkDirty()
		}
		close(slow.release)
		if err := <-done; err != nil {
			t.Fatal(err)
		}
		if f.ctl.Running() || f.acq.count() != 0 {
			t.Error("no scan should have started")
		}
		if change {
			checkState(t, f.ctl, ParametersDirty)
		} else {
			checkState(t, f.ctl, PlanReady)
		}
	}
}

func TestParkFailureIsFault(t *testing.T) {
	f := newFixture(t)
	f.ctl.cfg.Positioners["Y"] = motion.PositionerFunc(func(float64, int) error {
		return motion.ErrLimit
	})
	f.ctl.Run(context.Background(), RunOptions{})
	if f.acq.count() != 0 {
		t.Error("the acquirer must not run when parking fails")
	}
	if fault := f.ctl.LastFault(); fault == nil || !errors.Is(fault, motion.ErrLimit) {
		t.Errorf("expected a parking fault, got %v", fault)
	}
	checkState(t, f.ctl, Idle)
}

func TestStaleCompletionIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ctl.Run(ctx, RunOptions{})
	f.acq.complete(nil)
	f.ctl.Run(ctx, RunOptions{})
	f.acq.done[0](nil)
	checkState(t, f.ctl, Running)
	f.ctl.ScanDone(nil)
	checkState(t, f.ctl, Done)
}

type blockingSource struct {
	*StaticSource
	entered, release chan struct{}
}

func (b *blockingSource) SetParameters(ps scan.ParameterSet) error {
	close(b.entered)
	<-b.release
	return b.StaticSource.SetParameters(ps)
}

func TestGetParametersIsNoOpWhileSetting(t *testing.T) {
	src := &blockingSource{StaticSource: NewStaticSource(testParameters()),
		entered: make(chan struct{}), release: make(chan struct{})}
	ctl := New(Config{Compiler: scan.NewCompiler(scan.BetaDesigner(), nil), Source: src})
	done := make(chan error)
	go func() { done <- ctl.SetParameters(testParameters()) }()
	<-src.entered

	ok, err := ctl.GetParameters()
	if ok || err != nil {
		t.Errorf("GetParameters should return immediately, got %v %v", ok, err)
	}
	if _, has := ctl.Parameters(); has {
		t.Error("the parameters should be unchanged")
	}
	close(src.release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if ok, err := ctl.GetParameters(); !ok || err != nil {
		t.Errorf("GetParameters should work once setting is over, got %v %v", ok, err)
	}
	checkState(t, ctl, ParametersDirty)
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	f.ctl.SetRepeat(true)
	f.ctl.Initialize(context.Background())
	s := f.ctl.Status()
	if s.State != PlanReady || !s.Repeat || s.Samples != 50 || s.Checksum == 0 {
		t.Errorf("unexpected status %+v", s)
	}
}

func TestFileSourceWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scan.yml")
	if err := scan.SaveParametersFile(path, testParameters()); err != nil {
		t.Fatal(err)
	}
	src := FileSource{Path: path, Designer: scan.BetaDesigner()}
	ps, err := src.Parameters()
	if err != nil {
		t.Fatal(err)
	}
	if ps.Continuous {
		t.Error("saved in scan mode, loaded as continuous")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changed := make(chan struct{}, 1)
	go src.Watch(ctx, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	// also ignores other files in the directory
	os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o644)
	deadline := time.After(3 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-changed:
			return
		case <-tick.C:
			scan.SaveParametersFile(path, testParameters())
		case <-deadline:
			t.Fatal("no change notification for the parameter file")
		}
	}
}

func TestStaticSourceReturnsFreshValues(t *testing.T) {
	src := NewStaticSource(testParameters())
	ps, err := src.Parameters()
	if err != nil {
		t.Fatal(err)
	}
	ps.Analog["axis_length"].([]float64)[0] = 99
	ps.Analog["scan_time_edit"].([][]float64)[0][0] = 99
	again, _ := src.Parameters()
	if diff := cmp.Diff(testParameters(), again); diff != "" {
		t.Errorf("a caller changed the held parameters (-want +got):\n%s", diff)
	}
}
