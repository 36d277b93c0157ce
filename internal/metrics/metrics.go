// Package metrics exposes the platform server's Prometheus instruments.
//
// Every method is safe on a nil *Metrics, so tests and tools can pass nil
// instead of building a registry.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Webhook outcomes.
const (
	OutcomeProcessed = "processed"
	OutcomeIgnored   = "ignored"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

// Upload results.
const (
	UploadOK     = "ok"
	UploadFailed = "failed"
	UploadDenied = "denied"
)

// Metrics holds the collectors registered for one server.
type Metrics struct {
	wsConnections  *prometheus.GaugeVec
	wsBroadcasts   *prometheus.CounterVec
	wsDropped      *prometheus.CounterVec
	webhookEvents  *prometheus.CounterVec
	emails         *prometheus.CounterVec
	uploads        *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
	httpDurationV2 *prometheus.HistogramVec
}

// New creates the collectors and registers them. A nil registerer means the
// default registry, which is what promhttp.Handler serves.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		wsConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "melotech_ws_connections",
			Help: "Open realtime websocket connections by room.",
		}, []string{"room"}),
		wsBroadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "melotech_ws_broadcasts_total",
			Help: "Realtime envelopes broadcast by room and type.",
		}, []string{"room", "type"}),
		wsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "melotech_ws_dropped_connections_total",
			Help: "Connections removed after a failed broadcast write.",
		}, []string{"room"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "melotech_webhook_events_total",
			Help: "Database change events by processor and outcome.",
		}, []string{"processor", "outcome"}),
		emails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "melotech_status_emails_total",
			Help: "Status emails by submission status and result.",
		}, []string{"status", "result"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "melotech_storage_uploads_total",
			Help: "Object uploads by result.",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "melotech_http_requests_total",
			Help: "HTTP requests by route pattern, method and status code.",
		}, []string{"route", "method", "status"}),
		httpDurationV2: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "melotech_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	registerer.MustRegister(
		m.wsConnections,
		m.wsBroadcasts,
		m.wsDropped,
		m.webhookEvents,
		m.emails,
		m.uploads,
		m.httpRequests,
		m.httpDurationV2,
	)
	return m
}

func (m *Metrics) ConnectionOpened(room string) {
	if m == nil {
		return
	}
	m.wsConnections.WithLabelValues(room).Inc()
}

func (m *Metrics) ConnectionClosed(room string) {
	if m == nil {
		return
	}
	m.wsConnections.WithLabelValues(room).Dec()
}

func (m *Metrics) IncBroadcast(room, msgType string) {
	if m == nil {
		return
	}
	m.wsBroadcasts.WithLabelValues(room, msgType).Inc()
}

func (m *Metrics) AddDropped(room string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.wsDropped.WithLabelValues(room).Add(float64(n))
}

func (m *Metrics) IncWebhookEvent(processor, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(processor, outcome).Inc()
}

func (m *Metrics) IncEmail(status string, err error) {
	if m == nil {
		return
	}
	result := "sent"
	if err != nil {
		result = "failed"
	}
	m.emails.WithLabelValues(status, result).Inc()
}

func (m *Metrics) IncUpload(result string) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(result).Inc()
}

// ObserveRequest records one finished HTTP request. route is the chi pattern,
// not the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveRequest(route, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpDurationV2.WithLabelValues(route).Observe(d.Seconds())
}
