// Package metrics provides Prometheus metrics for the operations desk.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the desk.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	PolicyDecisions    *prometheus.CounterVec
	StageTransitions   *prometheus.CounterVec
	EscalationsOpened  *prometheus.CounterVec
	EscalationsClosed  *prometheus.CounterVec
	TriggerDeliveries  *prometheus.CounterVec
	EventsPublished    *prometheus.CounterVec
	SubscribersDropped prometheus.Counter
	Subscribers        prometheus.Gauge
	ErrorsTotal        *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsdesk_http_requests_total",
				Help: "HTTP requests by route and status code.",
			},
			[]string{"route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "opsdesk_http_request_duration_seconds",
				Help:    "HTTP request duration by route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		PolicyDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsdesk_policy_decisions_total",
				Help: "Approval policy evaluations by requested action and result.",
			},
			[]string{"action", "result"},
		),
		StageTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsdesk_stage_transitions_total",
				Help: "Stage change requests by guard verdict.",
			},
			[]string{"verdict"},
		),
		EscalationsOpened: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsdesk_escalations_opened_total",
				Help: "Escalations opened by level and category.",
			},
			[]string{"level", "category"},
		),
		EscalationsClosed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsdesk_escalations_closed_total",
				Help: "Escalations closed by level and final status.",
			},
			[]string{"level", "status"},
		),
		TriggerDeliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsdesk_agent_triggers_total",
				Help: "Agent trigger attempts by agent and outcome.",
			},
			[]string{"agent", "status"},
		),
		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsdesk_events_published_total",
				Help: "Events published to the hub by type.",
			},
			[]string{"type"},
		),
		SubscribersDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "opsdesk_event_subscribers_dropped_total",
				Help: "Subscribers removed after a failed delivery.",
			},
		),
		Subscribers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "opsdesk_event_subscribers",
				Help: "Currently connected event subscribers.",
			},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsdesk_errors_total",
				Help: "Total errors by module and kind.",
			},
			[]string{"module", "kind"},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.PolicyDecisions,
		m.StageTransitions,
		m.EscalationsOpened,
		m.EscalationsClosed,
		m.TriggerDeliveries,
		m.EventsPublished,
		m.SubscribersDropped,
		m.Subscribers,
		m.ErrorsTotal,
	)

	return m
}

// WatchStoreSize exports the database size as a gauge read at scrape time.
// Read failures report -1.
func (m *Metrics) WatchStoreSize(size func() (int64, error)) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "opsdesk_store_size_bytes",
			Help: "Size of the SQLite database file.",
		},
		func() float64 {
			n, err := size()
			if err != nil {
				return -1
			}
			return float64(n)
		},
	))
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the private registry (for tests).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRequest counts one HTTP request.
func (m *Metrics) RecordRequest(route, status string, seconds float64) {
	m.RequestsTotal.WithLabelValues(route, status).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(seconds)
}

// RecordPolicy counts one policy evaluation. result is "allowed",
// "blocked" or "escalated".
func (m *Metrics) RecordPolicy(action, result string) {
	m.PolicyDecisions.WithLabelValues(action, result).Inc()
}

// RecordStage counts one guard verdict.
func (m *Metrics) RecordStage(verdict string) {
	m.StageTransitions.WithLabelValues(verdict).Inc()
}

// RecordEscalationOpened counts a new escalation.
func (m *Metrics) RecordEscalationOpened(level, category string) {
	m.EscalationsOpened.WithLabelValues(level, category).Inc()
}

// RecordEscalationClosed counts a resolution.
func (m *Metrics) RecordEscalationClosed(level, status string) {
	m.EscalationsClosed.WithLabelValues(level, status).Inc()
}

// RecordTrigger counts an agent call outcome.
func (m *Metrics) RecordTrigger(agent, status string) {
	m.TriggerDeliveries.WithLabelValues(agent, status).Inc()
}

// RecordPublish counts a published event and refreshes the subscriber gauge.
func (m *Metrics) RecordPublish(eventType string, subscribers int) {
	m.EventsPublished.WithLabelValues(eventType).Inc()
	m.Subscribers.Set(float64(subscribers))
}

// RecordDrop counts a dropped subscriber.
func (m *Metrics) RecordDrop() {
	m.SubscribersDropped.Inc()
}

// SetSubscribers sets the subscriber gauge.
func (m *Metrics) SetSubscribers(n int) {
	m.Subscribers.Set(float64(n))
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(module, kind string) {
	m.ErrorsTotal.WithLabelValues(module, kind).Inc()
}
