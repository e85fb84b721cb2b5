package providerlimit

import "fmt"

// ProviderStats is a point-in-time view of one provider's admission state.
//
// Stats are for operational visibility only; admission decisions never read
// them.
type ProviderStats struct {
	// RequestsInWindow is the number of admissions in the current rolling
	// window.
	RequestsInWindow int

	// Concurrent is the number of in-flight calls.
	Concurrent int

	// BreakerState is the circuit breaker state ("closed", "open",
	// "half-open").
	BreakerState string

	// RateLimitHits counts, cumulatively, every time an admission attempt
	// hit a ceiling or the provider itself reported a rate limit.
	RateLimitHits uint64

	// TokensAvailable is the current token bucket level.
	TokensAvailable float64
}

// String returns a human-readable summary of the stats.
func (s ProviderStats) String() string {
	return fmt.Sprintf("window=%d concurrent=%d breaker=%s rate_limit_hits=%d tokens=%.2f",
		s.RequestsInWindow, s.Concurrent, s.BreakerState, s.RateLimitHits, s.TokensAvailable)
}
