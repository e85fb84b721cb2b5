// Package metrics provides centralized Prometheus metrics for the gate daemon.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ops HTTP metrics track requests served by the operational endpoints
// (/metrics, /health, /health/providers, /ratelimit)
var (
	// OpsRequestsTotal counts total ops requests by method, path, and status
	OpsRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ops_http_requests_total",
			Help: "Total number of operational HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// OpsRequestDuration measures ops request duration in seconds
	OpsRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ops_http_request_duration_seconds",
			Help:    "Operational HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// OpsResponseSize measures ops response body size in bytes.
	// The /metrics payload dominates this distribution.
	OpsResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ops_http_response_size_bytes",
			Help:    "Operational HTTP response size in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 6),
		},
		[]string{"method", "path"},
	)

	// OpsActiveRequests tracks the number of ops requests currently in flight
	OpsActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ops_http_active_requests",
			Help: "Number of operational HTTP requests in flight",
		},
	)
)

// Probe metrics track the scheduled connectivity probes the daemon sends
// through its own gate
var (
	// ProbeCallsTotal counts probe calls by provider and outcome
	ProbeCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gate_probe_calls_total",
			Help: "Total number of probe calls by provider and outcome (ok/rejected/error)",
		},
		[]string{"provider", "outcome"},
	)

	// ProbeCallDuration measures end-to-end probe call duration, admission
	// wait included
	ProbeCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gate_probe_call_duration_seconds",
			Help:    "End-to-end probe call duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
		[]string{"provider"},
	)

	// ProbeAdmissionWait measures how long admitted probe calls waited at
	// the gate before being let through
	ProbeAdmissionWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gate_probe_admission_wait_seconds",
			Help:    "Admission wait of admitted probe calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// CallersConfigured tracks how many provider callers the daemon built
	// at startup
	CallersConfigured = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gate_callers_configured",
			Help: "Number of provider callers configured in this daemon",
		},
	)
)

// RecordOpsRequest records an operational HTTP request with its metadata
func RecordOpsRequest(method, path, status string, duration time.Duration, responseSize int) {
	OpsRequestsTotal.WithLabelValues(method, path, status).Inc()
	OpsRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())

	if responseSize > 0 {
		OpsResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
	}
}
