// Package observability holds the Prometheus metrics of the scan lifecycle
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is a set of collectors on their own registry.  A nil *Metrics
// records nothing.
type Metrics struct {
	reg *prometheus.Registry

	compileSeconds prometheus.Histogram
	compileErrors  prometheus.Counter
	planSamples    prometheus.Gauge
	started        prometheus.Counter
	completed      prometheus.Counter
	faulted        prometheus.Counter
}

// New returns Metrics registered on a fresh registry, along with the Go
// runtime and process collectors
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		compileSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scanlab_compile_seconds",
			Help:    "Time taken to compile scan parameters into a plan.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		compileErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanlab_compile_errors_total",
			Help: "Compilations rejected with a configuration error.",
		}),
		planSamples: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scanlab_plan_samples",
			Help: "Samples per channel of the current plan.",
		}),
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanlab_scans_started_total",
			Help: "Runs handed to the acquirer, repeats included.",
		}),
		completed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanlab_scans_completed_total",
			Help: "Runs which finished without error.",
		}),
		faulted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanlab_scans_faulted_total",
			Help: "Runs aborted by a runtime fault.",
		}),
	}
	m.reg.MustRegister(m.compileSeconds, m.compileErrors, m.planSamples,
		m.started, m.completed, m.faulted,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

// ObserveCompile records one compilation
func (m *Metrics) ObserveCompile(d time.Duration, samples int, err error) {
	if m == nil {
		return
	}
	m.compileSeconds.Observe(d.Seconds())
	if err != nil {
		m.compileErrors.Inc()
		return
	}
	m.planSamples.Set(float64(samples))
}

// Started counts a run
func (m *Metrics) Started() {
	if m != nil {
		m.started.Inc()
	}
}

// Completed counts a clean finish
func (m *Metrics) Completed() {
	if m != nil {
		m.completed.Inc()
	}
}

// Faulted counts a runtime fault
func (m *Metrics) Faulted() {
	if m != nil {
		m.faulted.Inc()
	}
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
