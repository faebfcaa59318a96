// Package telemetry holds Prometheus metrics for the payment engine.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PaymentMetrics holds Prometheus metrics for payment routing and
// subscription reconciliation.
type PaymentMetrics struct {
	// Checkout path
	CheckoutRequests *prometheus.CounterVec // labels: processor, outcome
	CheckoutLatency  *prometheus.HistogramVec

	// Country detection
	CountryDetections *prometheus.CounterVec // labels: method

	// Webhook ingestion
	WebhookReceived *prometheus.CounterVec // labels: processor, event_type
	WebhookRejected *prometheus.CounterVec // labels: processor, reason
	WebhookDropped  *prometheus.CounterVec // labels: processor

	// Reconciliation
	EventsApplied      *prometheus.CounterVec // labels: processor, result
	EventsDeadLettered *prometheus.CounterVec // labels: processor
	ReconcileLatency   *prometheus.HistogramVec
	ReconcileRetries   *prometheus.CounterVec // labels: processor
}

// NewPaymentMetrics creates and registers all payment metrics.
func NewPaymentMetrics(namespace string) *PaymentMetrics {
	if namespace == "" {
		namespace = "fieldkeep"
	}
	subsystem := "payments"

	return &PaymentMetrics{
		CheckoutRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "checkout_requests_total",
				Help:      "Checkout session creation attempts by processor and outcome",
			},
			[]string{"processor", "outcome"},
		),
		CheckoutLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "checkout_duration_seconds",
				Help:      "Checkout session creation latency including the processor round trip",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"processor"},
		),
		CountryDetections: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "country_detections_total",
				Help:      "Country detections by resolution method",
			},
			[]string{"method"},
		),
		WebhookReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_received_total",
				Help:      "Verified webhook deliveries by processor and canonical event type",
			},
			[]string{"processor", "event_type"},
		),
		WebhookRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_rejected_total",
				Help:      "Webhook deliveries rejected before reconciliation",
			},
			[]string{"processor", "reason"},
		),
		WebhookDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_dropped_total",
				Help:      "Verified webhook events that could not be enqueued",
			},
			[]string{"processor"},
		),
		EventsApplied: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "events_applied_total",
				Help:      "Reconciliation outcomes by processor and result",
			},
			[]string{"processor", "result"},
		),
		EventsDeadLettered: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "events_dead_lettered_total",
				Help:      "Events moved to the dead-letter store after exhausting retries",
			},
			[]string{"processor"},
		),
		ReconcileLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "reconcile_duration_seconds",
				Help:      "Time to reconcile one event including lock acquisition",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"processor"},
		),
		ReconcileRetries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "reconcile_retries_total",
				Help:      "Reconciliation retries triggered by transient failures",
			},
			[]string{"processor"},
		),
	}
}

// Payments is the global payment metrics instance.
// Initialized once in main; nil in tests that don't need metrics.
var Payments *PaymentMetrics

// InitPaymentMetrics initializes the global payment metrics.
func InitPaymentMetrics(namespace string) *PaymentMetrics {
	Payments = NewPaymentMetrics(namespace)
	return Payments
}
