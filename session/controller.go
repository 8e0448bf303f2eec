package session

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/nasa-jpl/scanlab/daq"
	"github.com/nasa-jpl/scanlab/motion"
	"github.com/nasa-jpl/scanlab/observability"
	"github.com/nasa-jpl/scanlab/scan"
	"pkt.systems/pslog"
)

// Config is what a Controller is built from
type Config struct {
	Compiler *scan.Compiler
	Setup    scan.SetupInfo
	Acquirer daq.Acquirer

	// Positioners are parked at their CenterPos before each run unless they
	// are scanned.  Keys match Setup.Positioners.
	Positioners map[string]motion.Positioner

	Source   Source
	Notifier Notifier
	Metrics  *observability.Metrics
	Log      pslog.Logger
}

// RunOptions modify a Run request
type RunOptions struct {
	// RecalculateSignals compiles a new plan even if the current one is
	// up to date
	RecalculateSignals bool

	// NonFinalPartOfSequence suppresses the ScanEnded notification; the
	// sequence driver sends its own when the last part is done
	NonFinalPartOfSequence bool
}

// Controller owns the scan session.  All methods are safe for concurrent use.
type Controller struct {
	cfg Config
	log pslog.Logger

	// setting is held while parameters are being written, during which
	// GetParameters does nothing
	setting sync.Mutex

	mu         sync.Mutex
	state      State
	running    bool
	continuous bool
	repeat     bool
	nonFinal   bool
	stopping   bool

	// dirty is set by any parameter change and cleared by a compile
	dirty bool

	// initializing is held while the acquirer loads a plan
	initializing bool

	params     scan.ParameterSet
	hasParams  bool
	plan       *scan.Plan
	planStatic bool
	scanned    map[string]bool
	runID      uint64
	runCtx     context.Context
	lastFault  *RuntimeFault
	pending    []Event
}

// New returns an idle Controller
func New(cfg Config) *Controller {
	if cfg.Notifier == nil {
		cfg.Notifier = discard{}
	}
	if cfg.Source == nil {
		cfg.Source = &StaticSource{}
	}
	log := cfg.Log
	if log == nil {
		log = pslog.Ctx(context.Background())
	}
	return &Controller{cfg: cfg, log: log, state: Idle}
}

// emit queues an event, sent once the lock is released.  c.mu must be held.
func (c *Controller) emit(k EventKind, err error) {
	e := Event{Kind: k, State: c.state, Time: time.Now()}
	if err != nil {
		e.Err = err.Error()
	}
	c.pending = append(c.pending, e)
}

func (c *Controller) lock() { c.mu.Lock() }

// unlock releases c.mu and then delivers queued events
func (c *Controller) unlock() {
	evs := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, e := range evs {
		c.cfg.Notifier.Notify(e)
	}
}

// fault records err as a RuntimeFault and returns to Idle.  c.mu must be held.
func (c *Controller) fault(op string, err error) {
	f := &RuntimeFault{Op: op, State: c.state, Err: err, Time: time.Now()}
	c.log.Error("scan fault", "op", op, "state", c.state.String(), "run", c.runID,
		"continuous", c.continuous, "repeat", c.repeat, "err", err)
	c.lastFault = f
	c.state = Idle
	c.running = false
	c.stopping = false
	c.plan = nil
	c.cfg.Metrics.Faulted()
	c.emit(Fault, f)
}

// errFaulted is returned by prepare when compiling failed at runtime.  The
// fault is already recorded.
var errFaulted = errors.New("compile faulted")

// markDirty moves a settled controller to ParametersDirty.  A running scan
// keeps its plan, repeats included, and settles in ParametersDirty.  c.mu
// must be held.
func (c *Controller) markDirty() {
	c.dirty = true
	switch c.state {
	case Running, RepeatPending:
	default:
		c.state = ParametersDirty
	}
	c.emit(ParametersChanged, nil)
}

// MarkDirty records that the parameters held by the Source have changed
func (c *Controller) MarkDirty() {
	c.lock()
	defer c.unlock()
	c.markDirty()
}

// SetParameters writes ps to the Source, when it accepts writes, and makes
// it the current parameter set.  GetParameters is a no-op until it returns.
// The scan mode of ps is ignored while a scan is running.
func (c *Controller) SetParameters(ps scan.ParameterSet) error {
	c.setting.Lock()
	defer c.setting.Unlock()
	if s, ok := c.cfg.Source.(Setter); ok {
		if err := s.SetParameters(ps); err != nil {
			return err
		}
	}
	c.lock()
	defer c.unlock()
	if !c.running {
		c.continuous = ps.Continuous
	}
	c.params, c.hasParams = ps.Clone(), true
	c.params.Continuous = c.continuous
	c.markDirty()
	return nil
}

// GetParameters refreshes the parameter set from the Source.  It returns
// false without doing anything while SetParameters is in progress.  The
// scan mode is not taken from the Source; it changes with SetParameters and
// SetContinuous.
func (c *Controller) GetParameters() (bool, error) {
	if !c.setting.TryLock() {
		return false, nil
	}
	defer c.setting.Unlock()
	ps, err := c.cfg.Source.Parameters()
	if err != nil {
		return false, err
	}
	c.lock()
	defer c.unlock()
	// the mode belongs to the controller once set
	ps.Continuous = c.continuous
	if c.hasParams && reflect.DeepEqual(c.params, ps) {
		return true, nil
	}
	c.params, c.hasParams = ps, true
	c.markDirty()
	return true, nil
}

// Parameters returns the current parameter set
func (c *Controller) Parameters() (scan.ParameterSet, bool) {
	c.lock()
	defer c.unlock()
	return c.params.Clone(), c.hasParams
}

// compile builds a plan from the current parameters.  c.mu must be held.
func (c *Controller) compile() (err error) {
	if !c.hasParams {
		return ErrNoParameters
	}
	start := time.Now()
	var p *scan.Plan
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("compile panicked: %v", r)
		}
		c.cfg.Metrics.ObserveCompile(time.Since(start), c.samples(p), err)
	}()
	p, err = c.cfg.Compiler.Compile(c.params.Analog, c.params.Digital, c.cfg.Setup, c.continuous)
	if err != nil {
		return err
	}
	a, err := scan.DecodeAnalog(c.params.Analog)
	if err != nil {
		return err
	}
	c.scanned = make(map[string]bool, len(a.TargetDevice))
	for _, d := range a.TargetDevice {
		c.scanned[d] = true
	}
	c.plan, c.planStatic = p, c.continuous
	c.dirty = false
	c.log.Info("plan compiled", "samples", p.SampleCount, "duration", p.Duration(),
		"analog", len(p.Analog), "digital", len(p.Digital), "static", c.continuous)
	return nil
}

func (c *Controller) samples(p *scan.Plan) int {
	if p == nil {
		return 0
	}
	return p.SampleCount
}

// prepare refreshes the parameters and compiles.  Configuration errors
// leave the controller in ParametersDirty; anything else is a fault and
// prepare returns errFaulted.
func (c *Controller) prepare() error {
	if _, err := c.GetParameters(); err != nil && !errors.Is(err, ErrNoParameters) {
		return err
	}
	c.lock()
	defer c.unlock()
	if c.running || c.initializing {
		return ErrBusy
	}
	err := c.compile()
	switch {
	case err == nil:
		return nil
	case scan.IsConfigError(err), errors.Is(err, ErrNoParameters):
		c.state = ParametersDirty
		c.log.Warn("plan not compiled", "err", err)
		return err
	}
	c.fault("compile", err)
	return errFaulted
}

// Initialize compiles a plan from fresh parameters and loads it onto the
// acquirer without running it.  Configuration errors are returned; a
// failure of the acquirer is recorded as a fault.
//
// Run returns ErrBusy while the acquirer is loading.  If the parameters
// change meanwhile the controller stays in ParametersDirty.
func (c *Controller) Initialize(ctx context.Context) error {
	if err := c.prepare(); err != nil {
		if errors.Is(err, errFaulted) {
			return nil
		}
		return err
	}
	c.lock()
	if c.running || c.initializing {
		c.unlock()
		return ErrBusy
	}
	c.initializing = true
	plan := c.plan.Copy()
	c.unlock()
	err := c.cfg.Acquirer.Initialize(ctx, plan)
	c.lock()
	defer c.unlock()
	c.initializing = false
	if err != nil {
		c.fault("initialize", err)
		return nil
	}
	if c.dirty || c.plan == nil {
		return nil
	}
	c.state = PlanReady
	return nil
}

// upToDate reports if the current plan can be run as is.  c.mu must be held.
func (c *Controller) upToDate() bool {
	return c.plan != nil && !c.dirty && c.planStatic == c.continuous &&
		(c.state == PlanReady || c.state == Done || c.state == NonFinalSequencePending)
}

// Run starts a scan.  A new plan is compiled when asked to or when the
// current one is out of date.  Run returns once the plan is with the
// acquirer; the scan continues after ctx ends and is ended with Stop.
func (c *Controller) Run(ctx context.Context, opts RunOptions) error {
	c.lock()
	if c.running || c.initializing {
		c.unlock()
		return ErrBusy
	}
	fresh := !opts.RecalculateSignals && c.upToDate()
	c.unlock()
	if !fresh {
		if err := c.prepare(); err != nil {
			if errors.Is(err, errFaulted) {
				return nil
			}
			return err
		}
	}

	c.lock()
	if c.running || c.initializing {
		c.unlock()
		return ErrBusy
	}
	if c.plan == nil {
		// faulted or reset between prepare and here
		c.unlock()
		return nil
	}
	c.running = true
	c.stopping = false
	c.nonFinal = opts.NonFinalPartOfSequence
	c.runCtx = context.WithoutCancel(ctx)
	c.runID++
	id := c.runID
	c.state = Running
	if !c.continuous {
		c.emit(ScanStarting, nil)
	}
	c.unlock()
	c.start(id)
	return nil
}

// start parks the positioners and hands the plan to the acquirer, in that
// order.  Failures are faults.
func (c *Controller) start(id uint64) {
	c.lock()
	if !c.running || id != c.runID {
		c.unlock()
		return
	}
	ctx, plan := c.runCtx, c.plan.Copy()
	park := c.parkList()
	c.unlock()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		for _, name := range park {
			info := c.cfg.Setup.Positioners[name]
			if err := c.cfg.Positioners[name].SetPosition(info.CenterPos, info.AxisIndex); err != nil {
				return fmt.Errorf("parking %s: %w", name, err)
			}
		}
		c.lock()
		stopping := c.stopping
		if stopping {
			c.finish(Done)
		}
		c.unlock()
		if stopping {
			return nil
		}
		c.cfg.Metrics.Started()
		return c.cfg.Acquirer.Run(ctx, plan, func(err error) { c.scanDone(id, err) })
	}()
	if err == nil {
		return
	}
	c.lock()
	defer c.unlock()
	if c.running && id == c.runID {
		c.fault("run", err)
	}
}

// parkList is the sorted names of the positioners to park.  c.mu must be held.
func (c *Controller) parkList() []string {
	var out []string
	for name := range c.cfg.Positioners {
		if _, ok := c.cfg.Setup.Positioners[name]; ok && !c.scanned[name] {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// ScanDone is the completion signal for the current run, for acquirers
// which report completion out of band
func (c *Controller) ScanDone(err error) {
	c.lock()
	id := c.runID
	c.unlock()
	c.scanDone(id, err)
}

func (c *Controller) scanDone(id uint64, err error) {
	c.lock()
	if !c.running || id != c.runID {
		c.log.Debug("stale completion ignored", "run", id, "current", c.runID)
		c.unlock()
		return
	}
	stopped := c.stopping || errors.Is(err, daq.ErrStopped)
	switch {
	case err != nil && !errors.Is(err, daq.ErrStopped):
		c.fault("acquire", err)
		c.unlock()
		return
	case stopped:
		c.finish(Done)
		c.unlock()
		return
	}
	c.cfg.Metrics.Completed()
	if c.repeat || c.continuous {
		c.state = RepeatPending
		c.runID++
		next := c.runID
		c.unlock()
		c.relaunch(next)
		return
	}
	c.emit(ScanDone, nil)
	if c.nonFinal {
		c.state = NonFinalSequencePending
		if c.dirty {
			c.state = ParametersDirty
		}
		c.running = false
	} else {
		c.finish(Done)
	}
	c.unlock()
}

// finish ends the scan.  Parameters changed during the scan leave it in
// ParametersDirty.  c.mu must be held.
func (c *Controller) finish(s State) {
	c.state = s
	if s == Done && c.dirty {
		c.state = ParametersDirty
	}
	c.running = false
	c.stopping = false
	if !c.continuous {
		c.emit(ScanEnded, nil)
	}
}

// relaunch runs the same plan again for repeat and continuous modes
func (c *Controller) relaunch(id uint64) {
	c.lock()
	if c.state != RepeatPending || id != c.runID || c.stopping {
		c.unlock()
		return
	}
	c.state = Running
	c.unlock()
	c.start(id)
}

// Stop ends the current scan.  The acquirer's completion takes the
// controller to Done; it does not repeat.
func (c *Controller) Stop() error {
	c.lock()
	if !c.running {
		c.unlock()
		return nil
	}
	c.stopping = true
	if c.state == RepeatPending {
		c.finish(Done)
		c.unlock()
		return nil
	}
	c.unlock()
	if err := c.cfg.Acquirer.Stop(); err != nil {
		c.lock()
		c.fault("stop", err)
		c.unlock()
	}
	return nil
}

// SetRepeat enables or disables repeat mode
func (c *Controller) SetRepeat(b bool) {
	c.lock()
	defer c.unlock()
	c.repeat = b
}

// Repeat reports if repeat mode is enabled
func (c *Controller) Repeat() bool {
	c.lock()
	defer c.unlock()
	return c.repeat
}

// SetContinuous selects continuous pulse mode, in which nothing moves and
// scans repeat until stopped.  The mode is fixed for a running scan.
func (c *Controller) SetContinuous(b bool) error {
	c.lock()
	defer c.unlock()
	if c.running {
		return ErrBusy
	}
	if c.continuous != b {
		c.continuous = b
		c.params.Continuous = b
		c.markDirty()
	}
	return nil
}

// Continuous reports if continuous pulse mode is selected
func (c *Controller) Continuous() bool {
	c.lock()
	defer c.unlock()
	return c.continuous
}

// State returns the current state
func (c *Controller) State() State {
	c.lock()
	defer c.unlock()
	return c.state
}

// Running reports if a scan is in progress
func (c *Controller) Running() bool {
	c.lock()
	defer c.unlock()
	return c.running
}

// Plan returns a copy of the current plan, or nil
func (c *Controller) Plan() *scan.Plan {
	c.lock()
	defer c.unlock()
	return c.plan.Copy()
}

// LastFault returns the most recent runtime fault, or nil
func (c *Controller) LastFault() *RuntimeFault {
	c.lock()
	defer c.unlock()
	return c.lastFault
}

// Status is a snapshot of the controller
type Status struct {
	State      State  `json:"state"`
	Running    bool   `json:"running"`
	Continuous bool   `json:"continuous"`
	Repeat     bool   `json:"repeat"`
	Samples    int    `json:"samples"`
	Checksum   uint32 `json:"checksum,omitempty"`
	LastFault  string `json:"lastFault,omitempty"`
}

// Status returns a snapshot of the controller
func (c *Controller) Status() Status {
	c.lock()
	defer c.unlock()
	s := Status{State: c.state, Running: c.running, Continuous: c.continuous, Repeat: c.repeat}
	if c.plan != nil {
		s.Samples = c.plan.SampleCount
		s.Checksum = c.plan.Checksum()
	}
	if c.lastFault != nil {
		s.LastFault = c.lastFault.Error()
	}
	return s
}
