package providerlimit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics implements the Metrics interface using Prometheus.
//
// This implementation provides observability for admission control with
// detailed metrics including:
// - Acquire outcomes by provider, mode (local/coordinated), and outcome
// - Acquire wait-time histograms
// - Rate-limit hit counters by ceiling kind
// - In-flight call gauges
// - Circuit breaker state tracking
// - Coordinated-path degradation gauge
// - Result cache event counters
// - Provider response-time histograms
//
// All metrics use a custom registry for better testability and isolation.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// acquiresTotal tracks admission attempts.
	// Labels:
	//   - provider: provider name
	//   - mode: "local" or "coordinated"
	//   - outcome: "admitted", "rejected" or "cancelled"
	acquiresTotal *prometheus.CounterVec

	// acquireWait tracks how long callers waited for admission.
	// Labels:
	//   - provider: provider name
	//
	// Buckets cover the interesting range: sub-millisecond uncontended
	// admissions up to a full minute window wait.
	acquireWait *prometheus.HistogramVec

	// rateLimitHits tracks ceiling rejections by kind.
	// Labels:
	//   - provider: provider name
	//   - limit: "rpm", "concurrency", "bucket" or "provider"
	rateLimitHits *prometheus.CounterVec

	// inflight tracks current in-flight calls per provider.
	inflight *prometheus.GaugeVec

	// circuitState tracks the circuit breaker state per provider.
	// Values:
	//   - 0: Closed (normal operation)
	//   - 1: Open (rejecting calls)
	//   - 2: Half-Open (testing recovery)
	circuitState *prometheus.GaugeVec

	// degraded is 1 while the coordinated path is falling back to local
	// limiting.
	degraded prometheus.Gauge

	// cacheEvents tracks result cache activity.
	// Labels:
	//   - event: "hit", "miss", "expired", "evicted", "set" or "full"
	cacheEvents *prometheus.CounterVec

	// providerResponse tracks successful call response times.
	providerResponse *prometheus.HistogramVec
}

// NewPrometheusMetrics creates a new PrometheusMetrics instance with a
// custom registry.
//
// Using a custom registry (instead of the global prometheus.DefaultRegisterer)
// provides:
// - Better testability (isolated metrics per test)
// - No metric conflicts when running multiple instances
// - Explicit metric lifecycle management
//
// The registry can be passed to promhttp.HandlerFor() to expose metrics.
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	acquiresTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callgate_acquires_total",
			Help: "Admission attempts by provider, mode, and outcome",
		},
		[]string{"provider", "mode", "outcome"},
	)

	acquireWait := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "callgate_acquire_wait_seconds",
			Help:    "Time callers spent waiting for admission",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"provider"},
	)

	rateLimitHits := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callgate_rate_limit_hits_total",
			Help: "Ceiling rejections by provider and limit kind",
		},
		[]string{"provider", "limit"},
	)

	inflight := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "callgate_inflight_calls",
			Help: "Current in-flight calls by provider",
		},
		[]string{"provider"},
	)

	circuitState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "callgate_circuit_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"provider"},
	)

	degraded := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "callgate_degraded",
			Help: "1 while coordinated limiting is degraded to local-only",
		},
	)

	cacheEvents := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callgate_cache_events_total",
			Help: "Result cache events by type",
		},
		[]string{"event"},
	)

	providerResponse := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "callgate_provider_response_seconds",
			Help:    "Successful provider call response times",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"provider"},
	)

	// Register all metrics with the custom registry
	registry.MustRegister(
		acquiresTotal,
		acquireWait,
		rateLimitHits,
		inflight,
		circuitState,
		degraded,
		cacheEvents,
		providerResponse,
	)

	return &PrometheusMetrics{
		registry:         registry,
		acquiresTotal:    acquiresTotal,
		acquireWait:      acquireWait,
		rateLimitHits:    rateLimitHits,
		inflight:         inflight,
		circuitState:     circuitState,
		degraded:         degraded,
		cacheEvents:      cacheEvents,
		providerResponse: providerResponse,
	}
}

// Registry returns the Prometheus registry containing all limiter metrics.
//
// This can be used with promhttp.HandlerFor() to expose metrics:
//
//	metrics := NewPrometheusMetrics()
//	http.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordAcquire records an admission attempt outcome.
func (m *PrometheusMetrics) RecordAcquire(provider, mode, outcome string) {
	m.acquiresTotal.WithLabelValues(provider, mode, outcome).Inc()
}

// RecordAcquireWait records how long a caller waited for admission.
func (m *PrometheusMetrics) RecordAcquireWait(provider string, d time.Duration) {
	m.acquireWait.WithLabelValues(provider).Observe(d.Seconds())
}

// RecordRateLimitHit records that an admission attempt hit a ceiling.
func (m *PrometheusMetrics) RecordRateLimitHit(provider string, limit LimitKind) {
	m.rateLimitHits.WithLabelValues(provider, string(limit)).Inc()
}

// SetInflight records the provider's current in-flight call count.
func (m *PrometheusMetrics) SetInflight(provider string, n int) {
	m.inflight.WithLabelValues(provider).Set(float64(n))
}

// RecordCircuitState records the current state of a provider's circuit
// breaker.
//
// The state is mapped to a numeric gauge for alerting:
//   - 0 = closed
//   - 1 = open
//   - 2 = half-open
func (m *PrometheusMetrics) RecordCircuitState(provider, state string) {
	var stateValue float64
	switch state {
	case "closed":
		stateValue = 0
	case "open":
		stateValue = 1
	case "half-open":
		stateValue = 2
	default:
		// Unknown state, default to closed
		stateValue = 0
	}
	m.circuitState.WithLabelValues(provider).Set(stateValue)
}

// SetDegraded flips the coordinated-path degraded gauge.
func (m *PrometheusMetrics) SetDegraded(degraded bool) {
	if degraded {
		m.degraded.Set(1)
		return
	}
	m.degraded.Set(0)
}

// RecordCacheEvent records a result cache event.
func (m *PrometheusMetrics) RecordCacheEvent(event string) {
	m.cacheEvents.WithLabelValues(event).Inc()
}

// RecordProviderResponse records a successful call's response time.
func (m *PrometheusMetrics) RecordProviderResponse(provider string, seconds float64) {
	m.providerResponse.WithLabelValues(provider).Observe(seconds)
}
