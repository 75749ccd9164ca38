package bometrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SubscriptionsByState tracks the number of subscriptions by state (active, cancelled).
	SubscriptionsByState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "vcc",
		Subsystem: "backoffice",
		Name:      "subscriptions_by_state",
		Help:      "Number of subscriptions by state.",
	}, []string{"state"})

	// ReconciliationsByState tracks Stripe to Xero reconciliations by state.
	ReconciliationsByState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "vcc",
		Subsystem: "backoffice",
		Name:      "reconciliations_by_state",
		Help:      "Number of payment reconciliations by state.",
	}, []string{"state"})

	// WebhookRequestsTotal counts inbound webhook requests by provider, event type and status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vcc",
		Subsystem: "backoffice",
		Name:      "webhook_requests_total",
		Help:      "Total webhook requests by provider, event type and HTTP status.",
	}, []string{"provider", "event_type", "status"})

	// WebhookDuration tracks webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vcc",
		Subsystem: "backoffice",
		Name:      "webhook_duration_seconds",
		Help:      "Webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"provider", "event_type"})

	// ReconciliationTotal counts Xero reconciliation outcomes.
	ReconciliationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vcc",
		Subsystem: "backoffice",
		Name:      "reconciliation_total",
		Help:      "Total Stripe payment reconciliations by outcome.",
	}, []string{"outcome"})

	// XeroRequestDuration tracks Xero API latency by operation.
	XeroRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vcc",
		Subsystem: "backoffice",
		Name:      "xero_request_duration_seconds",
		Help:      "Xero API request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "status"})

	// EmailsSentTotal counts outbound email attempts by template and outcome.
	EmailsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vcc",
		Subsystem: "backoffice",
		Name:      "emails_sent_total",
		Help:      "Outbound emails by template and outcome.",
	}, []string{"template", "outcome"})

	// HTTPRequestDuration tracks API latency by method, route pattern and status code.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds.",
		Buckets: []float64{0.1, 0.3, 0.5, 0.7, 1, 3, 5, 7, 10},
	}, []string{"method", "route", "status_code"})

	// HTTPRequestsTotal counts API requests by method, route pattern and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "route", "status_code"})
)
