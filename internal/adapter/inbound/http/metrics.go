// Package http provides the HTTP server adapter: admin API mounting,
// health and metrics endpoints, and the shared middleware chain.
package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway.
// Pass to components that need to record metrics.
type Metrics struct {
	RequestsTotal        *prometheus.CounterVec
	RequestDuration      *prometheus.HistogramVec
	ActiveConnections    prometheus.Gauge
	ClassificationsTotal *prometheus.CounterVec
	RateLimitRejections  *prometheus.CounterVec
	ConfirmationsOpened  prometheus.Counter
	PendingConfirmations prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "commandrelay",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "status"}, // status=ok/error
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "commandrelay",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		ActiveConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "commandrelay",
				Name:      "active_ws_connections",
				Help:      "Number of live WebSocket connections",
			},
		),
		ClassificationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "commandrelay",
				Name:      "classifications_total",
				Help:      "Total command classifications by overall outcome",
			},
			[]string{"result"}, // result=auto/confirm/forbid
		),
		RateLimitRejections: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "commandrelay",
				Name:      "rate_limit_rejections_total",
				Help:      "Total admissions rejected by the rate limiter",
			},
			[]string{"reason"},
		),
		ConfirmationsOpened: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "commandrelay",
				Name:      "confirmations_opened_total",
				Help:      "Total confirmation records opened",
			},
		),
		PendingConfirmations: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "commandrelay",
				Name:      "pending_confirmations",
				Help:      "Confirmation records currently awaiting a decision",
			},
		),
	}
}
