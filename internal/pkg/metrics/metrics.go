package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the application's Prometheus collectors.
type Metrics struct {
	// HTTP requests by method, route and status code
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency by method and route
	HTTPRequestDuration *prometheus.HistogramVec

	// Reconciliation outcomes (created, duplicate, conflict, incomplete, error)
	ReconciliationsTotal *prometheus.CounterVec

	// Payments that succeeded for dates that could not be booked
	PaymentConflictsTotal prometheus.Counter

	// Status transitions written by the lifecycle sweeps (to: completed, cancelled)
	LifecycleTransitionsTotal *prometheus.CounterVec

	// Payment gateway call latency by operation and outcome
	GatewayCallDuration *prometheus.HistogramVec
}

// New creates collectors registered on the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the collectors on reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		ReconciliationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "booking_reconciliations_total",
				Help: "Payment reconciliation attempts by outcome",
			},
			[]string{"outcome"},
		),
		PaymentConflictsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "booking_payment_conflicts_total",
				Help: "Paid checkout sessions whose dates could not be booked",
			},
		),
		LifecycleTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "booking_lifecycle_transitions_total",
				Help: "Booking status transitions applied by lifecycle sweeps",
			},
			[]string{"to"},
		),
		GatewayCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payment_gateway_call_duration_seconds",
				Help:    "Time spent calling the payment gateway, retries included",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation", "status"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ReconciliationsTotal,
		m.PaymentConflictsTotal,
		m.LifecycleTransitionsTotal,
		m.GatewayCallDuration,
	)

	return m
}

// NewNop returns collectors bound to a throwaway registry, for tests and tools.
func NewNop() *Metrics {
	return NewWithRegistry(prometheus.NewRegistry())
}
