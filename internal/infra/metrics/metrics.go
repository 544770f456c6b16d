// Package metrics exposes Prometheus instrumentation for the room engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the server exports.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	transitions  *prometheus.CounterVec
	transactions *prometheus.CounterVec
	txDuration   prometheus.Histogram
	connections  prometheus.Gauge
	timerFires   *prometheus.CounterVec
	staleSwept   prometheus.Counter
	busDropped   prometheus.Counter
	errors       *prometheus.CounterVec
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomsync_transitions_total",
				Help: "Room state transitions by trigger and target state",
			},
			[]string{"trigger", "state"},
		),
		transactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomsync_transactions_total",
				Help: "Durable store transactions by result",
			},
			[]string{"result"},
		),
		txDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "roomsync_transaction_duration_seconds",
				Help:    "Time taken to commit a transaction including retries",
				Buckets: prometheus.DefBuckets,
			},
		),
		connections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "roomsync_connections",
				Help: "Open persistent connections on this process",
			},
		),
		timerFires: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomsync_fallback_timer_total",
				Help: "Fallback timer wake-ups by outcome",
			},
			[]string{"outcome"},
		),
		staleSwept: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "roomsync_stale_memberships_total",
				Help: "Memberships deactivated by the heartbeat sweep",
			},
		),
		busDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "roomsync_bus_dropped_total",
				Help: "Outbound messages dropped because a connection was too slow",
			},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomsync_errors_total",
				Help: "Error replies sent to callers by code",
			},
			[]string{"code"},
		),
	}

	m.registry.MustRegister(
		m.transitions,
		m.transactions,
		m.txDuration,
		m.connections,
		m.timerFires,
		m.staleSwept,
		m.busDropped,
		m.errors,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Transition(trigger, state string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(trigger, state).Inc()
}

func (m *Metrics) Transaction(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(result).Inc()
	m.txDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

func (m *Metrics) TimerWake(outcome string) {
	if m == nil {
		return
	}
	m.timerFires.WithLabelValues(outcome).Inc()
}

func (m *Metrics) StaleSwept(n int) {
	if m == nil {
		return
	}
	m.staleSwept.Add(float64(n))
}

func (m *Metrics) BusDropped() {
	if m == nil {
		return
	}
	m.busDropped.Inc()
}

func (m *Metrics) ErrorReply(code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(code).Inc()
}
