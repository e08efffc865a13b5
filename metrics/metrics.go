package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RealtimeEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "estatehub_realtime_events_total",
			Help: "Realtime events handled, by event type and outcome",
		},
		[]string{"event", "outcome"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "estatehub_websocket_sessions",
			Help: "Websocket sessions currently registered on this instance",
		},
	)

	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "estatehub_webhook_events_total",
			Help: "Payment webhook events, by event type and outcome",
		},
		[]string{"type", "outcome"},
	)

	DraftActivations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "estatehub_draft_activations_total",
			Help: "Draft listings moved to Active by entitlement grants",
		},
	)

	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "estatehub_notifications_total",
			Help: "Notifications and domain events published, by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	ExpiredSubscriptions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "estatehub_expired_subscriptions_total",
			Help: "Users whose subscription state changed during an expiry sweep",
		},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "estatehub_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2, 5},
		},
		[]string{"method", "route", "status"},
	)
)
