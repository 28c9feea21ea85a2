package infra

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "price_stream"

// Metrics holds the Prometheus collectors for the stream core, price sources and rate client.
// All methods are safe on a nil receiver so components can run without metrics.
type Metrics struct {
	ActiveSessions     prometheus.Gauge
	SessionsAdmitted   prometheus.Counter
	SessionsRejected   *prometheus.CounterVec
	SessionsTerminated *prometheus.CounterVec
	Ticks              prometheus.Counter
	TickErrors         *prometheus.CounterVec
	DeliveryFailures   prometheus.Counter
	TickDuration       prometheus.Histogram
	SourceQueries      *prometheus.CounterVec
	BreakerState       *prometheus.GaugeVec
	RateFetchFailures  prometheus.Counter
	IngestedPoints     prometheus.Counter
}

// NewMetrics creates and registers all collectors on the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "active_sessions",
			Help:      "Number of sessions with a running broadcast loop.",
		}),
		SessionsAdmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "sessions_admitted_total",
			Help:      "Total number of sessions that started a broadcast loop.",
		}),
		SessionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "sessions_rejected_total",
			Help:      "Connections refused before or during admission, by reason.",
		}, []string{"reason"}),
		SessionsTerminated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "sessions_terminated_total",
			Help:      "Sessions whose loop terminated, by reason.",
		}, []string{"reason"}),
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "ticks_total",
			Help:      "Total number of broadcast ticks across all sessions.",
		}),
		TickErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "tick_errors_total",
			Help:      "Ticks that produced an error snapshot, by error kind.",
		}, []string{"kind"}),
		DeliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "delivery_failures_total",
			Help:      "Total number of failed writes to a session transport.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "tick_duration_seconds",
			Help:      "Time from tick start to delivery completion.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		SourceQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "queries_total",
			Help:      "Price source queries, by source and result.",
		}, []string{"source", "result"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}, []string{"name"}),
		RateFetchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "exchange_rate",
			Name:      "fetch_failures_total",
			Help:      "Failed exchange rate refreshes.",
		}),
		IngestedPoints: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "points_total",
			Help:      "Price points written by the ingest worker.",
		}),
	}

	reg.MustRegister(
		m.ActiveSessions,
		m.SessionsAdmitted,
		m.SessionsRejected,
		m.SessionsTerminated,
		m.Ticks,
		m.TickErrors,
		m.DeliveryFailures,
		m.TickDuration,
		m.SourceQueries,
		m.BreakerState,
		m.RateFetchFailures,
		m.IngestedPoints,
	)
	return m
}

// SessionStarted records a session entering its broadcast loop.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsAdmitted.Inc()
	m.ActiveSessions.Inc()
}

// SessionEnded records a loop termination.
func (m *Metrics) SessionEnded(reason string) {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
	m.SessionsTerminated.WithLabelValues(reason).Inc()
}

// SessionRejected records a connection that never reached a loop.
func (m *Metrics) SessionRejected(reason string) {
	if m == nil {
		return
	}
	m.SessionsRejected.WithLabelValues(reason).Inc()
}

// RecordTick records one completed tick. kind is "none" for a populated snapshot.
func (m *Metrics) RecordTick(d time.Duration, kind string) {
	if m == nil {
		return
	}
	m.Ticks.Inc()
	m.TickDuration.Observe(d.Seconds())
	if kind != "none" {
		m.TickErrors.WithLabelValues(kind).Inc()
	}
}

// RecordDeliveryFailure records a failed transport write.
func (m *Metrics) RecordDeliveryFailure() {
	if m == nil {
		return
	}
	m.DeliveryFailures.Inc()
}

// RecordSourceQuery records a price source query outcome.
func (m *Metrics) RecordSourceQuery(source, result string) {
	if m == nil {
		return
	}
	m.SourceQueries.WithLabelValues(source, result).Inc()
}

// SetBreakerState sets the circuit breaker state gauge.
func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordRateFetchFailure records an exchange rate refresh failure.
func (m *Metrics) RecordRateFetchFailure() {
	if m == nil {
		return
	}
	m.RateFetchFailures.Inc()
}

// RecordIngestedPoint records a point written by the ingest worker.
func (m *Metrics) RecordIngestedPoint() {
	if m == nil {
		return
	}
	m.IngestedPoints.Inc()
}
