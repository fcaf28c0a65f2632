// Package metrics exposes Prometheus metrics for evaluations and sandboxes.
//
// Metrics satisfies the observer interfaces of the evaluation, sandbox and
// workspace packages, so those packages stay free of any metrics dependency.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "safeeval"

// Metrics holds the service's collectors on a private registry
type Metrics struct {
	registry        *prometheus.Registry
	evaluations     *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	running         prometheus.Gauge
	cleanupFailures prometheus.Counter
}

// New creates and registers all collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Evaluations handled, by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_duration_seconds",
			Help:      "Wall-clock time of evaluations, by outcome.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"outcome"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sandboxes_running",
			Help:      "Sandbox containers currently running.",
		}),
		cleanupFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workspace_cleanup_failures_total",
			Help:      "Workspace directories that could not be removed.",
		}),
	}

	m.registry.MustRegister(
		m.evaluations,
		m.duration,
		m.running,
		m.cleanupFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// EvaluationFinished implements evaluation.Observer
func (m *Metrics) EvaluationFinished(outcome string, d time.Duration) {
	m.evaluations.WithLabelValues(outcome).Inc()
	m.duration.WithLabelValues(outcome).Observe(d.Seconds())
}

// SandboxStarted implements sandbox.RunObserver
func (m *Metrics) SandboxStarted() {
	m.running.Inc()
}

// SandboxFinished implements sandbox.RunObserver
func (m *Metrics) SandboxFinished() {
	m.running.Dec()
}

// WorkspaceCleanupFailed implements workspace.CleanupObserver
func (m *Metrics) WorkspaceCleanupFailed() {
	m.cleanupFailures.Inc()
}

// Registry returns the registry holding every collector
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
