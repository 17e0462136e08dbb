// Package metrics publishes Prometheus instrumentation for the
// coordinator: commit/audit outcomes, phase durations, queue depth, and
// current lock holders.
//
// Grounded on pkg/metrics's promauto CounterVec/HistogramVec/Gauge
// pattern: one struct of pre-registered collectors built at construction
// time, no ad-hoc registration elsewhere.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Coordinator holds every collector the commit/audit coordinator and
// dispatcher update over a run's lifetime.
type Coordinator struct {
	TransactionsTotal  *prometheus.CounterVec
	PhaseDuration      *prometheus.HistogramVec
	QueueDepth         prometheus.Gauge
	ActiveWorkers      prometheus.Gauge
	LockHolder         *prometheus.GaugeVec
	CompensationsTotal prometheus.Counter
}

var (
	defaultOnce        sync.Once
	defaultCoordinator *Coordinator
)

// NewCoordinator builds and registers collectors under the tc_coordinator
// namespace against the default registry. The collectors are registered
// once per process; later calls return the same instance.
func NewCoordinator() *Coordinator {
	defaultOnce.Do(func() {
		defaultCoordinator = NewCoordinatorWithNamespace("tc_coordinator")
	})
	return defaultCoordinator
}

// NewCoordinatorWithNamespace is split out for test isolation, mirroring
// NewHTTPMetricsWithNamespace's pattern of a namespaced constructor behind
// the zero-arg default.
func NewCoordinatorWithNamespace(namespace string) *Coordinator {
	return &Coordinator{
		TransactionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transactions_total",
				Help:      "Total commit/audit transactions by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		PhaseDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "phase_duration_seconds",
				Help:      "Duration of each commit/audit phase",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"phase"},
		),
		QueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "dispatcher_queue_depth",
				Help:      "Number of operations currently queued for dispatch",
			},
		),
		ActiveWorkers: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "dispatcher_active_workers",
				Help:      "Number of dispatcher worker goroutines currently running",
			},
		),
		LockHolder: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "lock_holder",
				Help:      "Session id currently holding each lock class (0 when free)",
			},
			[]string{"op_class"},
		),
		CompensationsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "compensations_total",
				Help:      "Total GlobalAbort compensation sweeps issued",
			},
		),
	}
}

// RecordTransaction increments the outcome counter for a finished
// commit/audit run.
func (c *Coordinator) RecordTransaction(kind, outcome string) {
	c.TransactionsTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordCompensation increments the compensation-sweep counter.
func (c *Coordinator) RecordCompensation() {
	c.CompensationsTotal.Inc()
}

// SetLockHolder publishes which session currently holds opClass; session 0
// denotes no holder.
func (c *Coordinator) SetLockHolder(opClass string, session uint32) {
	c.LockHolder.WithLabelValues(opClass).Set(float64(session))
}
