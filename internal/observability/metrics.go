package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/promptcraft/promptcraft-hybrid/models"
)

// Metrics holds the service collectors on a dedicated registry
type Metrics struct {
	registry *prometheus.Registry

	SecurityEventsTotal   *prometheus.CounterVec
	SecurityEventsDropped prometheus.Counter
	SecurityEventsFailed  prometheus.Counter
	AlertsTotal           *prometheus.CounterVec
	NotificationFailures  *prometheus.CounterVec
	LockedAccounts        prometheus.Gauge
	StreamClients         prometheus.Gauge
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
}

// NewMetrics registers all collectors on a fresh registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		SecurityEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "promptcraft_security_events_total",
				Help: "Security events persisted, by type and severity",
			},
			[]string{"type", "severity"},
		),
		SecurityEventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "promptcraft_security_events_dropped_total",
			Help: "Security events dropped because the buffer was full",
		}),
		SecurityEventsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "promptcraft_security_events_failed_total",
			Help: "Security events that could not be persisted",
		}),
		AlertsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "promptcraft_security_alerts_total",
				Help: "Alerts raised, by rule and priority",
			},
			[]string{"rule", "priority"},
		),
		NotificationFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "promptcraft_alert_notification_failures_total",
				Help: "Alert notifications that failed, by notifier",
			},
			[]string{"notifier"},
		),
		LockedAccounts: factory.NewGauge(prometheus.GaugeOpts{
			Name: "promptcraft_locked_accounts",
			Help: "Accounts currently locked out",
		}),
		StreamClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "promptcraft_event_stream_clients",
			Help: "Connected live event stream clients",
		}),
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "promptcraft_http_requests_total",
				Help: "HTTP requests, by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "promptcraft_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// Registry exposes the underlying registry (tests gather from it)
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordEvent counts a persisted security event
func (m *Metrics) RecordEvent(event *models.SecurityEvent) {
	m.SecurityEventsTotal.WithLabelValues(string(event.EventType), string(event.Severity)).Inc()
}

// RecordDropped counts an event rejected because the buffer was full
func (m *Metrics) RecordDropped() {
	m.SecurityEventsDropped.Inc()
}

// RecordFailed counts an event that could not be persisted
func (m *Metrics) RecordFailed() {
	m.SecurityEventsFailed.Inc()
}

// RecordAlert counts a raised alert
func (m *Metrics) RecordAlert(alert *models.Alert) {
	m.AlertsTotal.WithLabelValues(alert.RuleName, string(alert.Priority)).Inc()
}

// RecordNotificationFailure counts a failed notifier dispatch
func (m *Metrics) RecordNotificationFailure(notifier string) {
	m.NotificationFailures.WithLabelValues(notifier).Inc()
}

// SetLockedAccounts reports the current lockout count
func (m *Metrics) SetLockedAccounts(n int) {
	m.LockedAccounts.Set(float64(n))
}

// AddStreamClients adjusts the connected stream client gauge
func (m *Metrics) AddStreamClients(delta int) {
	m.StreamClients.Add(float64(delta))
}

// ObserveHTTP records one completed HTTP request
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
