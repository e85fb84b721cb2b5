package providerlimit

import "time"

// NoOpMetrics implements the Metrics interface with no-op implementations.
//
// This implementation is useful for:
// - Testing environments where metrics are not needed
// - Disabling metrics collection (e.g., development mode)
// - Benchmarking limiter performance without metrics overhead
//
// All methods are no-ops and have minimal performance impact.
type NoOpMetrics struct{}

// NewNoOpMetrics creates a new NoOpMetrics instance.
func NewNoOpMetrics() *NoOpMetrics {
	return &NoOpMetrics{}
}

// RecordAcquire is a no-op implementation.
func (m *NoOpMetrics) RecordAcquire(provider, mode, outcome string) {
	// No-op
}

// RecordAcquireWait is a no-op implementation.
func (m *NoOpMetrics) RecordAcquireWait(provider string, d time.Duration) {
	// No-op
}

// RecordRateLimitHit is a no-op implementation.
func (m *NoOpMetrics) RecordRateLimitHit(provider string, limit LimitKind) {
	// No-op
}

// SetInflight is a no-op implementation.
func (m *NoOpMetrics) SetInflight(provider string, n int) {
	// No-op
}

// RecordCircuitState is a no-op implementation.
func (m *NoOpMetrics) RecordCircuitState(provider, state string) {
	// No-op
}

// SetDegraded is a no-op implementation.
func (m *NoOpMetrics) SetDegraded(degraded bool) {
	// No-op
}

// RecordCacheEvent is a no-op implementation.
func (m *NoOpMetrics) RecordCacheEvent(event string) {
	// No-op
}

// RecordProviderResponse is a no-op implementation.
func (m *NoOpMetrics) RecordProviderResponse(provider string, seconds float64) {
	// No-op
}
