package main

import (
	"context"
	"fmt"
	"math"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/nasa-jpl/scanlab/daq"
	gdaq "github.com/nasa-jpl/scanlab/generichttp/daq"
	gmotion "github.com/nasa-jpl/scanlab/generichttp/motion"
	"github.com/nasa-jpl/scanlab/motion"
	"github.com/nasa-jpl/scanlab/observability"
	"github.com/nasa-jpl/scanlab/scan"
	"github.com/nasa-jpl/scanlab/server"
	"github.com/nasa-jpl/scanlab/server/middleware/locker"
	"github.com/nasa-jpl/scanlab/session"
	"github.com/nasa-jpl/scanlab/trigger"
	"github.com/nasa-jpl/scanlab/util"
	"pkt.systems/pslog"
)

// rig is everything serve runs
type rig struct {
	ctl     *session.Controller
	scan    *server.ScanHTTP
	source  session.Source
	sim     http.Handler
	metrics *observability.Metrics
}

// physicalLimits converts output limits to the positioner's own units
func physicalLimits(p PositionerConfig) (util.Limiter, bool) {
	if !p.Limits.Set() || p.ConversionFactor == 0 {
		return util.Limiter{}, false
	}
	a, b := p.Limits.Min*p.ConversionFactor, p.Limits.Max*p.ConversionFactor
	return util.Limiter{Min: math.Min(a, b), Max: math.Max(a, b)}, true
}

// mockHardware is the in-memory DAC and motion controller used by mock mode
type mockHardware struct {
	dac    *daq.MockDAC
	mover  *motion.Mock
	limits map[string]util.Limiter
}

func newMockHardware(c Config) mockHardware {
	var axes []string
	limits := map[string]util.Limiter{}
	for _, name := range c.parked() {
		p := c.Positioners[name]
		axes = append(axes, p.Axes...)
		if lim, ok := physicalLimits(p); ok && p.AxisIndex < len(p.Axes) {
			limits[p.Axes[p.AxisIndex]] = lim
		}
	}
	return mockHardware{dac: daq.NewMockDAC(), mover: motion.NewMock(util.UniqueString(axes)...), limits: limits}
}

// router serves the mock DAC at /dac and the mock motion controller at
// /motion, the same routes as the real servers
func (m mockHardware) router() chi.Router {
	root := chi.NewRouter()
	dr := chi.NewRouter()
	gdaq.NewHTTPDAC(m.dac).RT().Bind(dr)
	root.Mount("/dac", dr)

	lim := &gmotion.LimitMiddleware{Limits: m.limits, Mov: m.mover}
	hm := gmotion.NewHTTPMotionController(m.mover)
	lim.Inject(hm)
	mr := chi.NewRouter()
	mr.Use(lim.Check)
	hm.RT().Bind(mr)
	root.Mount("/motion", mr)
	return root
}

// buildRig wires the configuration into a session and its HTTP interface
func buildRig(c Config, log pslog.Logger) (*rig, error) {
	designer, err := c.ScanDesigner()
	if err != nil {
		return nil, err
	}
	if c.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %g", c.SampleRate)
	}
	compiler := scan.NewCompiler(designer, log)
	compiler.CheckLimits = c.CheckLimits
	r := &rig{metrics: observability.New()}

	var (
		dac    daq.WaveformDAC
		movers = map[string]motion.Mover{}
	)
	if c.Mock {
		hw := newMockHardware(c)
		dac = hw.dac
		r.sim = hw.router()
		for _, name := range c.parked() {
			movers[c.Positioners[name].MotionAddr] = motion.Limited{Mover: hw.mover, Limits: hw.limits}
		}
		log.Info("mock hardware", "dac", "/sim/dac", "motion", "/sim/motion")
	} else {
		dac = daq.NewHTTPDAC(c.DAC.Addr)
		for _, name := range c.parked() {
			addr := c.Positioners[name].MotionAddr
			if _, ok := movers[addr]; !ok {
				movers[addr] = motion.NewHTTPMover(addr)
			}
		}
	}
	positioners := make(map[string]motion.Positioner)
	for _, name := range c.parked() {
		p := c.Positioners[name]
		positioners[name] = motion.AxisPositioner{Mover: movers[p.MotionAddr], Axes: p.Axes}
	}

	if c.ParameterFile != "" {
		r.source = session.FileSource{Path: c.ParameterFile, Designer: designer, Log: log}
	} else {
		r.source = &session.StaticSource{}
	}

	events := session.NewChanNotifier(256)
	notifier := session.NotifierFunc(func(e session.Event) {
		log.Info("scan event", "kind", e.Kind.String(), "state", e.State.String(), "err", e.Err)
		events.Notify(e)
	})

	r.ctl = session.New(session.Config{
		Compiler: compiler,
		Setup:    c.Setup(),
		Acquirer: &daq.DACAcquirer{
			DAC:      dac,
			Channels: c.DAC.Channels,
			TTLHigh:  c.DAC.TTLHigh,
			Range:    c.DAC.Range,
			Log:      log,
		},
		Positioners: positioners,
		Source:      r.source,
		Notifier:    notifier,
		Metrics:     r.metrics,
		Log:         log,
	})

	sh := &server.ScanHTTP{
		Ctl:           r.ctl,
		Events:        events,
		ParameterFile: c.ParameterFile,
		Designer:      designer,
		Metrics:       r.metrics,
		Locker:        locker.New(),
	}
	if c.Trigger.Port != "" {
		sh.Imager = trigger.NewSerial(c.Trigger.Port, c.Trigger.Baud)
	}
	r.scan = server.NewScanHTTP(sh)
	return r, nil
}

// watch marks the session dirty when the parameter file changes, until ctx
// is done
func (r *rig) watch(ctx context.Context, log pslog.Logger) {
	fs, ok := r.source.(session.FileSource)
	if !ok {
		return
	}
	go func() {
		if err := fs.Watch(ctx, r.ctl.MarkDirty); err != nil {
			log.Warn("parameter file not watched", "err", err)
		}
	}()
}

// handler is the root router: the scan session at /scan and, in mock mode,
// the simulated hardware at /sim
func (r *rig) handler() chi.Router {
	root := chi.NewRouter()
	root.Mount("/scan", r.scan.Router())
	if r.sim != nil {
		root.Mount("/sim", r.sim)
	}
	return root
}
