// Package metrics exposes Prometheus instrumentation for security check runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "seca_trust"

// Outcome labels a single probe execution.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeTimeout Outcome = "timeout"
	OutcomeError   Outcome = "error"
	OutcomeSkipped Outcome = "skipped"
)

// Recorder owns a registry and the engine's collectors. A nil *Recorder is a
// valid no-op.
type Recorder struct {
	registry *prometheus.Registry

	probeRuns     *prometheus.CounterVec
	probeDuration *prometheus.HistogramVec
	runs          *prometheus.CounterVec
	runDuration   prometheus.Histogram
	progress      prometheus.Gauge
	signals       prometheus.Gauge
}

// NewRecorder builds a recorder with its own registry, including the Go
// runtime and process collectors.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		probeRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probe_executions_total",
			Help:      "Probe executions by probe and outcome.",
		}, []string{"probe", "outcome"}),
		probeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_duration_seconds",
			Help:      "Probe execution time.",
			Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"probe"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Security check runs by mode and result.",
		}, []string{"mode", "result"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "End-to-end security check duration.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		progress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "progress_percent",
			Help:      "Progress of the current or last run.",
		}),
		signals: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "security_signals",
			Help:      "Number of tracked security signals that are currently true.",
		}),
	}

	r.registry.MustRegister(
		r.probeRuns,
		r.probeDuration,
		r.runs,
		r.runDuration,
		r.progress,
		r.signals,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry returns the recorder's registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// ObserveProbe records one probe execution.
func (r *Recorder) ObserveProbe(probe string, outcome Outcome, d time.Duration) {
	if r == nil {
		return
	}
	r.probeRuns.WithLabelValues(probe, string(outcome)).Inc()
	if outcome != OutcomeSkipped {
		r.probeDuration.WithLabelValues(probe).Observe(d.Seconds())
	}
}

// ObserveRun records a finished run.
func (r *Recorder) ObserveRun(mode string, failed bool, d time.Duration) {
	if r == nil {
		return
	}
	result := "completed"
	if failed {
		result = "error"
	}
	r.runs.WithLabelValues(mode, result).Inc()
	r.runDuration.Observe(d.Seconds())
}

// SetProgress publishes run progress.
func (r *Recorder) SetProgress(pct int) {
	if r == nil {
		return
	}
	r.progress.Set(float64(pct))
}

// SetSignals publishes how many security signals are true.
func (r *Recorder) SetSignals(n int) {
	if r == nil {
		return
	}
	r.signals.Set(float64(n))
}
