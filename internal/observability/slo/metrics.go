package slo

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SLO targets define the service level objectives for the call gate.
// These targets are used to measure and monitor admission reliability.
const (
	// AvailabilitySLO defines the target success percentage for admitted calls
	// (99.5% of calls that pass admission must complete without an upstream error)
	AvailabilitySLO = 99.5

	// AdmissionWaitP95SLO defines the target for 95th percentile admission wait
	// in seconds (1s). Waits above this mean the gate is queueing callers too long.
	AdmissionWaitP95SLO = 1.0

	// LatencyP95SLO defines the target for 95th percentile end-to-end call
	// latency in seconds (5s). Model completions dominate this number.
	LatencyP95SLO = 5.0

	// ErrorRateSLO defines the maximum acceptable upstream error rate as a
	// ratio (2% = 0.02). Rejections by the gate itself do not count as errors.
	ErrorRateSLO = 0.02
)

// SLO tracking metrics
// These gauges are updated by the connectivity prober after each run, computed
// over its sliding window of probe results, to track whether the gate and the
// providers behind it are meeting their SLO targets.
var (
	// SLOAvailability tracks the current availability ratio (0-1)
	// calculated as: ok_calls / (ok_calls + error_calls)
	// Rejected calls are excluded: the gate refusing a call is not downtime.
	SLOAvailability = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slo_availability_ratio",
			Help: "Current availability ratio of admitted calls (0-1), target: 0.995",
		},
	)

	// SLOAdmissionWaitP95 tracks the current p95 admission wait in seconds
	// calculated from the prober's result window
	SLOAdmissionWaitP95 = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slo_admission_wait_p95_seconds",
			Help: "Current p95 admission wait in seconds, target: 1.0",
		},
	)

	// SLOLatencyP95 tracks the current p95 end-to-end call latency in seconds
	// calculated from the prober's result window
	SLOLatencyP95 = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slo_latency_p95_seconds",
			Help: "Current p95 call latency in seconds, target: 5.0",
		},
	)

	// SLOErrorRate tracks the current upstream error rate ratio (0-1)
	// calculated as: error_calls / total_calls
	SLOErrorRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slo_error_rate_ratio",
			Help: "Current upstream error rate ratio (0-1), target: 0.02",
		},
	)
)

// UpdateAvailability updates the availability SLO metric.
// Call this after each probe run with the calculated availability ratio.
//
// Example calculation:
//
//	admitted := okCalls + errorCalls
//	availability := float64(okCalls) / float64(admitted)
//	slo.UpdateAvailability(availability)
func UpdateAvailability(ratio float64) {
	SLOAvailability.Set(ratio)
}

// UpdateAdmissionWaitP95 updates the p95 admission wait SLO metric.
// Call this after each probe run with the p95 wait in seconds, computed
// over the admitted calls in the result window.
func UpdateAdmissionWaitP95(seconds float64) {
	SLOAdmissionWaitP95.Set(seconds)
}

// UpdateLatencyP95 updates the p95 latency SLO metric.
// Call this after each probe run with the p95 latency in seconds, computed
// over the successful calls in the result window.
func UpdateLatencyP95(seconds float64) {
	SLOLatencyP95.Set(seconds)
}

// UpdateErrorRate updates the error rate SLO metric.
// Call this after each probe run with the calculated error rate ratio.
//
// Example calculation:
//
//	errorRate := float64(errorCalls) / float64(totalCalls)
//	slo.UpdateErrorRate(errorRate)
func UpdateErrorRate(ratio float64) {
	SLOErrorRate.Set(ratio)
}
