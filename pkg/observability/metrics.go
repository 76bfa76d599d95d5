// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the vermittler gateway.
package observability

import "github.com/prometheus/client_golang/prometheus"

// LLMBuckets defines histogram buckets suited for LLM inference latencies,
// ranging from 100ms to 120s.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	// RequestsTotal counts all HTTP requests by method, status class, and model.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vermittler_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status", "model"},
	)

	// RequestDuration records HTTP request duration in seconds by method and model.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vermittler_request_duration_seconds",
			Help:    "Request duration",
			Buckets: LLMBuckets,
		},
		[]string{"method", "model"},
	)

	// StreamingConnections tracks the number of active SSE streaming connections.
	StreamingConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vermittler_streaming_connections_active",
			Help: "Active streaming connections",
		},
	)

	// BackendRequestsTotal counts requests sent to upstream Azure backends.
	BackendRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vermittler_backend_requests_total",
			Help: "Backend requests",
		},
		[]string{"endpoint", "model", "status"},
	)

	// BackendLatency records upstream backend latency in seconds.
	BackendLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vermittler_backend_latency_seconds",
			Help:    "Backend latency",
			Buckets: LLMBuckets,
		},
		[]string{"endpoint", "model"},
	)

	// FailoversTotal counts failover attempts after a backend failure.
	FailoversTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vermittler_failovers_total",
			Help: "Backend failovers",
		},
		[]string{"model"},
	)

	// TokensTotal counts tokens processed by direction (input/output).
	TokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vermittler_tokens_total",
			Help: "Token count",
		},
		[]string{"model", "direction"},
	)

	// AuthRejectionsTotal counts requests rejected by authentication.
	AuthRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vermittler_auth_rejections_total",
			Help: "Authentication rejections",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		StreamingConnections,
		BackendRequestsTotal,
		BackendLatency,
		FailoversTotal,
		TokensTotal,
		AuthRejectionsTotal,
	)
}
