// Package metrics exposes the sidecar's Prometheus collectors:
//
//	tradeguard_recovery_duration_seconds   - recovery wall time (histogram)
//	tradeguard_recovery_attempts_total     - terminal recoveries by status
//	tradeguard_discrepancies_total         - reconciliation discrepancies by kind
//	tradeguard_replayed_events_total       - events replayed from the cache stream
//	tradeguard_synthetic_events_total      - synthetic gap-filling events
//	tradeguard_shutdown_duration_seconds   - shutdown wall time (histogram)
//	tradeguard_orders_cancelled_total      - orders cancelled during shutdown
//	tradeguard_ready                       - 1 when trading is ungated (gauge)
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector on a dedicated registry so tests and
// multi-instance wiring never collide on the global default.
type Metrics struct {
	registry *prometheus.Registry

	recoveryDuration prometheus.Histogram
	recoveryAttempts *prometheus.CounterVec
	discrepancies    *prometheus.CounterVec
	replayedEvents   prometheus.Counter
	syntheticEvents  prometheus.Counter
	shutdownDuration prometheus.Histogram
	ordersCancelled  prometheus.Counter
	ready            prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		recoveryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tradeguard_recovery_duration_seconds",
			Help:    "Time from recovery start to a terminal state.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		recoveryAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradeguard_recovery_attempts_total",
				Help: "Recovery attempts by terminal status.",
			},
			[]string{"status"},
		),
		discrepancies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradeguard_discrepancies_total",
				Help: "Reconciliation discrepancies by kind.",
			},
			[]string{"kind"},
		),
		replayedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradeguard_replayed_events_total",
			Help: "Position events replayed from the cache stream.",
		}),
		syntheticEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradeguard_synthetic_events_total",
			Help: "Synthetic events manufactured to bridge sequence gaps.",
		}),
		shutdownDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tradeguard_shutdown_duration_seconds",
			Help:    "Wall time of the graceful shutdown sequence.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		ordersCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradeguard_orders_cancelled_total",
			Help: "Orders cancelled during shutdown sequences.",
		}),
		ready: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradeguard_ready",
			Help: "1 when recovery has completed and trading is ungated.",
		}),
	}

	m.registry.MustRegister(
		m.recoveryDuration,
		m.recoveryAttempts,
		m.discrepancies,
		m.replayedEvents,
		m.syntheticEvents,
		m.shutdownDuration,
		m.ordersCancelled,
		m.ready,
	)

	return m
}

// Handler returns the HTTP handler serving the registry in Prometheus text
// exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRecoveryDuration records the wall time of one recovery run.
func (m *Metrics) ObserveRecoveryDuration(seconds float64) { m.recoveryDuration.Observe(seconds) }

// AddRecoveryAttempt counts one terminal recovery by status.
func (m *Metrics) AddRecoveryAttempt(status string) {
	m.recoveryAttempts.WithLabelValues(status).Inc()
}

// AddDiscrepancy counts one reconciliation discrepancy by kind.
func (m *Metrics) AddDiscrepancy(kind string) { m.discrepancies.WithLabelValues(kind).Inc() }

// AddReplayedEvents counts events replayed from the cache stream.
func (m *Metrics) AddReplayedEvents(n int) { m.replayedEvents.Add(float64(n)) }

// AddSyntheticEvents counts synthetic gap-filling events.
func (m *Metrics) AddSyntheticEvents(n int) { m.syntheticEvents.Add(float64(n)) }

// ObserveShutdownDuration records the wall time of one shutdown sequence.
func (m *Metrics) ObserveShutdownDuration(seconds float64) { m.shutdownDuration.Observe(seconds) }

// AddOrdersCancelled counts orders cancelled during shutdown.
func (m *Metrics) AddOrdersCancelled(n int) { m.ordersCancelled.Add(float64(n)) }

// SetReady flips the readiness gauge.
func (m *Metrics) SetReady(ready bool) {
	if ready {
		m.ready.Set(1)
		return
	}
	m.ready.Set(0)
}
