// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// GatewayCallDuration tracks backend round trips made by the gateway services.
	GatewayCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_call_duration_seconds",
			Help:    "Gateway call duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"service", "op"},
	)

	// GatewayErrorsTotal counts failed gateway calls by error kind.
	GatewayErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_errors_total",
			Help: "Failed gateway calls by error kind",
		},
		[]string{"service", "op", "kind"},
	)

	// RealtimeEventsTotal counts inbound realtime events by outcome
	// (delivered, duplicate, malformed).
	RealtimeEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_events_total",
			Help: "Inbound realtime events by outcome",
		},
		[]string{"table", "outcome"},
	)

	// RealtimeSubscriptionsActive tracks open realtime subscriptions.
	RealtimeSubscriptionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_subscriptions_active",
			Help: "Number of open realtime subscriptions",
		},
	)

	// OptimisticRevertsTotal counts local state rollbacks after a failed remote call.
	OptimisticRevertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optimistic_reverts_total",
			Help: "Optimistic updates reverted after a failed remote call",
		},
		[]string{"op"},
	)

	// BrokerPublishedTotal counts change events published to the realtime broker.
	BrokerPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_published_total",
			Help: "Change events published to the realtime broker",
		},
		[]string{"broker", "table"},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordGatewayCall records the outcome of one gateway call. kind is empty on success.
func RecordGatewayCall(service, op, kind string, duration float64) {
	GatewayCallDuration.WithLabelValues(service, op).Observe(duration)
	if kind != "" {
		GatewayErrorsTotal.WithLabelValues(service, op, kind).Inc()
	}
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
