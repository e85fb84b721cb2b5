package metrics

import (
	"time"
)

// RecordProbeCall records the result of a single connectivity probe call.
// Outcome should be "ok", "rejected", or "error". Duration is end to end,
// from probe start to response or failure, and is recorded for every
// outcome so that stuck gates show up in the latency distribution too.
//
// Parameters:
//   - provider: Provider name the probe targeted (e.g., "anthropic")
//   - outcome: Probe outcome ("ok", "rejected", "error")
//   - duration: End-to-end probe duration
//
// Example:
//
//	start := time.Now()
//	resp, err := c.Call(ctx, req)
//	metrics.RecordProbeCall("anthropic", outcomeOf(resp, err), time.Since(start))
func RecordProbeCall(provider, outcome string, duration time.Duration) {
	ProbeCallsTotal.WithLabelValues(provider, outcome).Inc()
	ProbeCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordProbeAdmissionWait records how long an admitted probe call waited
// at the gate. Call this only for probes that passed admission; rejected
// probes never produce a meaningful wait.
func RecordProbeAdmissionWait(provider string, wait time.Duration) {
	ProbeAdmissionWait.WithLabelValues(provider).Observe(wait.Seconds())
}

// UpdateCallersConfigured updates the count of provider callers the daemon
// built at startup. Set once after caller construction.
func UpdateCallersConfigured(count int) {
	CallersConfigured.Set(float64(count))
}
