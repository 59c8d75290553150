// Package metrics holds the Prometheus collectors shared by the relay.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "chat_relay"

// Metrics holds all collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	SessionsCreated prometheus.Counter
	SessionsExpired prometheus.Counter
	QuotaRejections prometheus.Counter
	HijackAttempts  prometheus.Counter
	WebhookRequests *prometheus.CounterVec
	WebhookDuration prometheus.Histogram
	registerer      prometheus.Registerer
}

// New creates and registers all collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests handled",
			},
			[]string{"route", "method", "status"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		SessionsCreated: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_created_total",
				Help:      "Total sessions created",
			},
		),
		SessionsExpired: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_expired_total",
				Help:      "Total sessions removed by the expiry sweep",
			},
		),
		QuotaRejections: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_quota_rejections_total",
				Help:      "Session creations rejected by the per-origin quota",
			},
		),
		HijackAttempts: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_hijack_attempts_total",
				Help:      "Session accesses rejected because the origin did not match",
			},
		),
		WebhookRequests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_requests_total",
				Help:      "Outbound webhook calls by outcome",
			},
			[]string{"outcome"}, // ok, unavailable, status, invalid
		),
		WebhookDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "webhook_duration_seconds",
				Help:      "Outbound webhook call duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		registerer: reg,
	}
}

// TrackActiveSessions registers a gauge that reads the live session count on scrape.
func (m *Metrics) TrackActiveSessions(count func() int) {
	if m == nil {
		return
	}
	promauto.With(m.registerer).NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of live sessions",
		},
		func() float64 { return float64(count()) },
	)
}

func (m *Metrics) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveWebhook(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.WebhookRequests.WithLabelValues(outcome).Inc()
	m.WebhookDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) SessionCreated() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
}

func (m *Metrics) SessionsSwept(n int) {
	if m == nil || n == 0 {
		return
	}
	m.SessionsExpired.Add(float64(n))
}

func (m *Metrics) QuotaRejected() {
	if m == nil {
		return
	}
	m.QuotaRejections.Inc()
}

func (m *Metrics) HijackAttempt() {
	if m == nil {
		return
	}
	m.HijackAttempts.Inc()
}
