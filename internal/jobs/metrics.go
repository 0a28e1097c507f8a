package jobs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics wraps the Prometheus collectors of a Handler.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	submitted *prometheus.CounterVec
	executed  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	panicked  prometheus.Counter
	cleared   prometheus.Counter
	dropped   prometheus.Counter
	depth     prometheus.Gauge
	workers   prometheus.Gauge
}

// NewMetrics creates the job metrics on a fresh registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "inox"
	}

	m := &Metrics{registry: prometheus.NewRegistry()}

	m.submitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "submitted_total",
			Help:      "Jobs accepted by the job handler",
		},
		[]string{"priority"},
	)
	m.executed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "executed_total",
			Help:      "Jobs executed to completion (including panicked jobs)",
		},
		[]string{"priority"},
	)
	m.duration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Time spent executing a job",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14), // 100µs to ~1.6s
		},
		[]string{"priority"},
	)
	m.panicked = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "panicked_total",
		Help:      "Jobs whose task panicked",
	})
	m.cleared = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "cleared_total",
		Help:      "Jobs discarded before they started",
	})
	m.dropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "dropped_total",
		Help:      "Jobs submitted while the handler was stopped",
	})
	m.depth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "queue_depth",
		Help:      "Jobs waiting to start",
	})
	m.workers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "workers",
		Help:      "Running worker goroutines",
	})

	m.registry.MustRegister(
		m.submitted, m.executed, m.duration,
		m.panicked, m.cleared, m.dropped,
		m.depth, m.workers,
	)
	return m
}

// Registry returns the registry holding the job collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) jobSubmitted(p Priority) {
	if m == nil {
		return
	}
	m.submitted.WithLabelValues(p.String()).Inc()
	m.depth.Inc()
}

func (m *Metrics) jobStarted() {
	if m == nil {
		return
	}
	m.depth.Dec()
}

func (m *Metrics) jobFinished(p Priority, elapsed time.Duration, panicked bool) {
	if m == nil {
		return
	}
	m.executed.WithLabelValues(p.String()).Inc()
	m.duration.WithLabelValues(p.String()).Observe(elapsed.Seconds())
	if panicked {
		m.panicked.Inc()
	}
}

func (m *Metrics) jobsCleared(n int) {
	if m == nil {
		return
	}
	m.cleared.Add(float64(n))
	m.depth.Sub(float64(n))
}

func (m *Metrics) jobDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

func (m *Metrics) setWorkers(n int) {
	if m == nil {
		return
	}
	m.workers.Set(float64(n))
}
