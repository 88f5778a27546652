// Package metrics exposes the sync engine's prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "homehealth_sync"

type Metrics struct {
	registry *prometheus.Registry

	QueuePending     prometheus.Gauge
	QueueProcessed   *prometheus.CounterVec
	CycleDuration    prometheus.Histogram
	CyclesTotal      *prometheus.CounterVec
	ReconcileRecords *prometheus.CounterVec
	StepErrors       *prometheus.CounterVec
}

// New registers the collectors on a fresh registry, so several instances
// can coexist in one process.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		QueuePending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_pending",
			Help:      "Queue items waiting to be pushed (pending or processing).",
		}),
		QueueProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_items_processed_total",
			Help:      "Queue items dispatched, by entity kind and outcome.",
		}, []string{"entity_kind", "outcome"}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of a full sync cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		CyclesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Sync cycles run, by trigger and final status.",
		}, []string{"trigger", "status"}),
		ReconcileRecords: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_records_total",
			Help:      "Records touched by reconciliation, by entity kind and operation.",
		}, []string{"entity_kind", "operation"}),
		StepErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_errors_total",
			Help:      "Failed cycle steps, by step.",
		}, []string{"step"}),
	}
}

func (m *Metrics) ObserveCycle(trigger, status string, d time.Duration) {
	m.CycleDuration.Observe(d.Seconds())
	m.CyclesTotal.WithLabelValues(trigger, status).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
