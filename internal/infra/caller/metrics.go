package caller

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CallMetricsRecorder defines the interface for recording provider call metrics.
// This interface abstracts the metrics recording implementation, enabling:
//   - Production use with Prometheus (PrometheusCallMetrics)
//   - Testing with mock implementations
//
// Example usage:
//
//	type Anthropic struct {
//	    metricsRecorder CallMetricsRecorder
//	}
//
//	a.metricsRecorder.RecordCall("anthropic", "chat_completion", "success")
//	a.metricsRecorder.RecordDuration("anthropic", duration)
//
// Example mock for testing:
//
//	type MockCallMetrics struct {
//	    Calls []string
//	}
//
//	func (m *MockCallMetrics) RecordCall(provider, operation, status string) {
//	    m.Calls = append(m.Calls, provider+"/"+operation+"/"+status)
//	}
type CallMetricsRecorder interface {
	// RecordCall counts a finished call attempt by outcome.
	// Status is one of "success", "error", "rejected", or "cached".
	RecordCall(provider, operation, status string)

	// RecordDuration records the upstream latency of a successful call.
	RecordDuration(provider string, duration time.Duration)

	// RecordTokens records upstream token usage reported by the provider.
	RecordTokens(provider string, promptTokens, completionTokens int)

	// RecordRetry increments the retry counter when an attempt is repeated.
	RecordRetry(provider string)
}

// PrometheusCallMetrics implements CallMetricsRecorder using Prometheus metrics.
// This is the production implementation that records metrics to Prometheus.
type PrometheusCallMetrics struct {
	callsCounter      *prometheus.CounterVec
	durationHistogram *prometheus.HistogramVec
	tokensCounter     *prometheus.CounterVec
	retriesCounter    *prometheus.CounterVec
}

var (
	prometheusCallMetricsInstance *PrometheusCallMetrics
	prometheusCallMetricsOnce     sync.Once
)

// getOrCreateCounterVec gets an existing counter vector or creates a new one if it doesn't exist
func getOrCreateCounterVec(opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(opts, labels)
	if err := prometheus.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector.(*prometheus.CounterVec)
		}
		// If it's not an AlreadyRegisteredError, use promauto which handles this gracefully
		return promauto.NewCounterVec(opts, labels)
	}
	return c
}

// getOrCreateHistogramVec gets an existing histogram vector or creates a new one if it doesn't exist
func getOrCreateHistogramVec(opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(opts, labels)
	if err := prometheus.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector.(*prometheus.HistogramVec)
		}
		return promauto.NewHistogramVec(opts, labels)
	}
	return h
}

// NewPrometheusCallMetrics creates a new Prometheus-based metrics recorder.
// It initializes and registers all required Prometheus metrics.
// Uses singleton pattern to avoid duplicate metric registration in tests.
func NewPrometheusCallMetrics() *PrometheusCallMetrics {
	prometheusCallMetricsOnce.Do(func() {
		prometheusCallMetricsInstance = &PrometheusCallMetrics{
			callsCounter: getOrCreateCounterVec(prometheus.CounterOpts{
				Name: "gate_upstream_calls_total",
				Help: "Total provider calls by operation and outcome",
			}, []string{"provider", "operation", "status"}),
			durationHistogram: getOrCreateHistogramVec(prometheus.HistogramOpts{
				Name:    "gate_upstream_call_duration_seconds",
				Help:    "Upstream latency of successful provider calls",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			}, []string{"provider"}),
			tokensCounter: getOrCreateCounterVec(prometheus.CounterOpts{
				Name: "gate_upstream_tokens_total",
				Help: "Token usage reported by providers, by kind (prompt or completion)",
			}, []string{"provider", "kind"}),
			retriesCounter: getOrCreateCounterVec(prometheus.CounterOpts{
				Name: "gate_upstream_retries_total",
				Help: "Total retried call attempts per provider",
			}, []string{"provider"}),
		}
	})
	return prometheusCallMetricsInstance
}

// RecordCall implements CallMetricsRecorder.RecordCall
func (p *PrometheusCallMetrics) RecordCall(provider, operation, status string) {
	p.callsCounter.WithLabelValues(provider, operation, status).Inc()
}

// RecordDuration implements CallMetricsRecorder.RecordDuration
func (p *PrometheusCallMetrics) RecordDuration(provider string, duration time.Duration) {
	p.durationHistogram.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordTokens implements CallMetricsRecorder.RecordTokens
func (p *PrometheusCallMetrics) RecordTokens(provider string, promptTokens, completionTokens int) {
	p.tokensCounter.WithLabelValues(provider, "prompt").Add(float64(promptTokens))
	p.tokensCounter.WithLabelValues(provider, "completion").Add(float64(completionTokens))
}

// RecordRetry implements CallMetricsRecorder.RecordRetry
func (p *PrometheusCallMetrics) RecordRetry(provider string) {
	p.retriesCounter.WithLabelValues(provider).Inc()
}
