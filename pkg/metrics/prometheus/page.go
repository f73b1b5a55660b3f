package prometheus

import (
	"strconv"
	"time"

	"github.com/marmos91/pageserver/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// pageMetrics is the Prometheus implementation of metrics.PageMetrics.
type pageMetrics struct {
	responsesTotal         *prometheus.CounterVec
	responseDuration       *prometheus.HistogramVec
	bytesSent              *prometheus.CounterVec
	activeConnections      prometheus.Gauge
	connectionsAccepted    prometheus.Counter
	connectionsClosed      prometheus.Counter
	connectionsForceClosed prometheus.Counter
	acceptErrors           prometheus.Counter
}

// NewPageMetrics creates a Prometheus-backed PageMetrics registered on the
// global registry.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewPageMetrics() metrics.PageMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopPageMetrics()
	}
	return NewPageMetricsWith(metrics.GetRegistry())
}

// NewPageMetricsWith creates a Prometheus-backed PageMetrics registered on reg.
func NewPageMetricsWith(reg prometheus.Registerer) metrics.PageMetrics {
	return &pageMetrics{
		responsesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "pageserver_responses_total",
				Help: "Total number of connections handled, by route and status code",
			},
			[]string{"route", "status"},
		),
		responseDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "pageserver_response_duration_milliseconds",
				Help: "Time from accept to close of a connection in milliseconds",
				Buckets: []float64{
					1,    // 1ms
					10,   // 10ms
					100,  // 100ms
					1000, // 1s
				},
			},
			[]string{"route"},
		),
		bytesSent: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "pageserver_bytes_sent_total",
				Help: "Total bytes written to clients, by route",
			},
			[]string{"route"},
		),
		activeConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "pageserver_active_connections",
				Help: "Current number of connections being handled",
			},
		),
		connectionsAccepted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "pageserver_connections_accepted_total",
				Help: "Total number of connections accepted",
			},
		),
		connectionsClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "pageserver_connections_closed_total",
				Help: "Total number of connections closed",
			},
		),
		connectionsForceClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "pageserver_connections_force_closed_total",
				Help: "Total number of connections force-closed during shutdown timeout",
			},
		),
		acceptErrors: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "pageserver_accept_errors_total",
				Help: "Total number of failed accept calls",
			},
		),
	}
}

func (m *pageMetrics) RecordResponse(route string, status int, bytes int, duration time.Duration) {
	m.responsesTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.responseDuration.WithLabelValues(route).Observe(duration.Seconds() * 1000) // Convert to milliseconds
	m.bytesSent.WithLabelValues(route).Add(float64(bytes))
}

func (m *pageMetrics) SetActiveConnections(count int32) {
	m.activeConnections.Set(float64(count))
}

func (m *pageMetrics) RecordConnectionAccepted() {
	m.connectionsAccepted.Inc()
}

func (m *pageMetrics) RecordConnectionClosed() {
	m.connectionsClosed.Inc()
}

func (m *pageMetrics) RecordConnectionForceClosed() {
	m.connectionsForceClosed.Inc()
}

func (m *pageMetrics) RecordAcceptError() {
	m.acceptErrors.Inc()
}
