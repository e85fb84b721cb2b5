package prober

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jaydeelew/callgate/internal/pkg/config"
)

// ProbeMetrics provides Prometheus metrics for the prober component.
// It embeds the standard ConfigMetrics for configuration monitoring and adds
// prober-specific metrics for scheduled run tracking.
//
// Embedded metrics (from ConfigMetrics):
//   - prober_config_load_timestamp: Unix timestamp of last configuration load
//   - prober_config_validation_errors_total: Total validation errors by field
//   - prober_config_fallbacks_total: Total fallback operations by field
//   - prober_config_fallback_active: 1 if any fallback active, 0 otherwise
//
// Prober-specific metrics:
//   - prober_runs_total: Total probe runs by status (started/success/failure)
//   - prober_run_duration_seconds: Duration histogram of probe run execution
//   - prober_calls_probed_total: Total provider calls sent across all runs
//   - prober_last_success_timestamp: Unix timestamp of last successful run
//
// Per-call probe metrics (outcome by provider, latency, admission wait)
// live in internal/observability/metrics; this type only tracks the run
// loop itself.
//
// Example usage:
//
//	metrics := NewProbeMetrics()
//	metrics.MustRegister()
//
//	// Record a probe run
//	start := time.Now()
//	metrics.RecordRun("started")
//	// ... probe each provider ...
//	metrics.RecordRun("success")
//	metrics.RecordRunDuration(time.Since(start).Seconds())
//	metrics.RecordCallsProbed(2)
//	metrics.RecordLastSuccess()
type ProbeMetrics struct {
	// Embedded configuration metrics
	*config.ConfigMetrics

	// RunsTotal counts the total number of probe runs.
	// Type: Counter
	// Labels: status (started, success, failure)
	// Usage: Increment at run start and again at run end with the result
	RunsTotal *prometheus.CounterVec

	// RunDurationSeconds measures the duration of probe run execution.
	// Type: Histogram
	// Labels: none
	// Buckets: 100ms to 60s (a run is a handful of calls, each capped by
	// the probe call timeout)
	// Usage: Observe duration at the end of each run
	RunDurationSeconds prometheus.Histogram

	// CallsProbedTotal counts the total number of provider calls sent by runs.
	// Type: Counter
	// Labels: none
	// Usage: Add the number of callers probed after each run
	CallsProbedTotal prometheus.Counter

	// LastSuccessTimestamp records the Unix timestamp of the last successful run.
	// Type: Gauge
	// Labels: none
	// Usage: Set to current time when a run completes successfully
	LastSuccessTimestamp prometheus.Gauge
}

// NewProbeMetrics creates a new ProbeMetrics instance with all metrics initialized.
// Metrics are created but not registered with Prometheus. Call MustRegister() to register.
//
// Returns:
//   - *ProbeMetrics: Initialized metrics ready for registration
//
// Example:
//
//	metrics := NewProbeMetrics()
//	metrics.MustRegister()  // Register with Prometheus
func NewProbeMetrics() *ProbeMetrics {
	return &ProbeMetrics{
		ConfigMetrics: config.NewConfigMetrics("prober"),

		RunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "prober_runs_total",
			Help: "Total number of probe runs by status (started/success/failure)",
		}, []string{"status"}),

		RunDurationSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "prober_run_duration_seconds",
			Help:    "Duration of probe run execution in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),

		CallsProbedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "prober_calls_probed_total",
			Help: "Total number of provider calls sent across all probe runs",
		}),

		LastSuccessTimestamp: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "prober_last_success_timestamp",
			Help: "Unix timestamp of the last successful probe run",
		}),
	}
}

// MustRegister is a no-op method for API compatibility.
// Metrics are automatically registered via promauto when created in NewProbeMetrics.
//
// This method exists to maintain consistency with the expected metrics initialization pattern:
//
//	metrics := NewProbeMetrics()
//	metrics.MustRegister()
//
// Even though registration happens automatically, this explicit call makes the
// initialization intent clear and maintains compatibility with future changes.
func (m *ProbeMetrics) MustRegister() {
	// No-op: metrics are auto-registered via promauto
}

// RecordRun increments the run counter for the given status.
// Status should be "started", "success", or "failure".
//
// Parameters:
//   - status: Run status ("started", "success", "failure")
//
// Example:
//
//	metrics.RecordRun("started")
//	if err := run(); err != nil {
//	    metrics.RecordRun("failure")
//	} else {
//	    metrics.RecordRun("success")
//	}
func (m *ProbeMetrics) RecordRun(status string) {
	m.RunsTotal.WithLabelValues(status).Inc()
}

// RecordRunDuration observes the duration of a probe run.
// Duration should be in seconds.
func (m *ProbeMetrics) RecordRunDuration(seconds float64) {
	m.RunDurationSeconds.Observe(seconds)
}

// RecordCallsProbed adds the number of provider calls sent to the total counter.
//
// Parameters:
//   - count: Number of callers probed in this run
func (m *ProbeMetrics) RecordCallsProbed(count int) {
	m.CallsProbedTotal.Add(float64(count))
}

// RecordLastSuccess records the current time as the last successful run completion.
//
// Example:
//
//	if failures < len(callers) {
//	    metrics.RecordLastSuccess()
//	}
func (m *ProbeMetrics) RecordLastSuccess() {
	m.LastSuccessTimestamp.SetToCurrentTime()
}
