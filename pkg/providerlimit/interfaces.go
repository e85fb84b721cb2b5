// Package providerlimit gates outbound calls to rate-limited third-party
// providers.
//
// This package implements per-provider admission control using a token
// bucket, a rolling one-minute window, a concurrency ceiling, and a circuit
// breaker. It is designed to be shared by many concurrent callers inside one
// process, and optionally coordinated across processes through an external
// atomic counter store (see CoordinationStore and RedisStore).
package providerlimit

import (
	"context"
	"time"
)

// Limiter is the admission-control contract shared by LocalLimiter and
// CoordinatedLimiter. The Facade selects one of the two at construction time.
//
// All methods must be safe for concurrent use.
type Limiter interface {
	// Acquire suspends the caller until an outbound call to the named
	// provider is admitted, or until ctx is cancelled.
	//
	// Counters are only touched at the moment of successful admission, so
	// cancelling a waiting Acquire leaves no state behind.
	//
	// Returns an error if ctx is cancelled or the provider's circuit
	// breaker is open (check with IsCircuitOpen).
	Acquire(ctx context.Context, provider string) error

	// Release returns the concurrency slot taken by a successful Acquire.
	// It never blocks and never fails observably; releasing more times
	// than acquired is absorbed (the in-flight count is floored at zero).
	Release(provider string)

	// RecordSuccess reports a completed provider call. The response time
	// feeds observability and the circuit breaker's recovery tracking.
	RecordSuccess(provider string, responseSeconds float64)

	// RecordFailure reports a failed provider call of the given kind.
	// Failures feed the provider's circuit breaker.
	RecordFailure(provider string, kind FailureKind)

	// Stats returns a per-provider snapshot used for operational
	// visibility, never for admission decisions.
	Stats() map[string]ProviderStats

	// Close releases any background resources held by the limiter.
	Close() error
}

// FailureKind classifies a provider call failure reported via RecordFailure.
type FailureKind string

const (
	// FailureRateLimit indicates the provider rejected the call with a
	// rate-limit response (e.g. HTTP 429).
	FailureRateLimit FailureKind = "rate_limit"

	// FailureError indicates any other provider-side failure.
	FailureError FailureKind = "error"
)

// LimitKind identifies which ceiling rejected an admission attempt.
type LimitKind string

const (
	// LimitRPM is the per-provider requests-per-minute ceiling.
	LimitRPM LimitKind = "rpm"

	// LimitConcurrency is the per-provider in-flight call ceiling.
	LimitConcurrency LimitKind = "concurrency"

	// LimitBucket is the per-provider token bucket (burst smoothing).
	LimitBucket LimitKind = "bucket"

	// LimitProvider marks a rate limit reported by the provider itself
	// (via RecordFailure with FailureRateLimit) rather than a local gate.
	LimitProvider LimitKind = "provider"
)

// CoordinationStore is the shared-counter backend used by CoordinatedLimiter
// to keep per-provider ceilings correct across independent worker processes.
//
// Implementations must make AcquireSlot atomic: the per-minute counter and
// the concurrent counter are incremented together, and rolled back together
// when either ceiling would be exceeded. All methods must be safe for
// concurrent use.
type CoordinationStore interface {
	// AcquireSlot atomically increments the provider's per-minute-bucket
	// counter and concurrent counter. If either increment would exceed its
	// ceiling, both are rolled back and the result reports which limit was
	// hit together with how long the current minute bucket has left.
	//
	// An error return means the store itself failed (transport, timeout);
	// a ceiling rejection is not an error.
	AcquireSlot(ctx context.Context, provider string, rpmLimit, concurrentLimit int) (*SlotResult, error)

	// ReleaseSlots decrements the provider's concurrent counter by n,
	// flooring at zero. Used by the background release flusher, which may
	// batch several releases into one call.
	ReleaseSlots(ctx context.Context, provider string, n int64) error

	// Ping verifies the store is reachable. Used to probe health before
	// trusting the store again after a failure.
	Ping(ctx context.Context) error

	// Snapshot reads the provider's current counters without mutating
	// them. Observability only, never used for admission.
	Snapshot(ctx context.Context, provider string) (*StoreSnapshot, error)

	// Close releases the store connection.
	Close() error
}

// SlotResult is the outcome of a CoordinationStore.AcquireSlot attempt.
type SlotResult struct {
	// Allowed is true when both counters were incremented and the call is
	// admitted.
	Allowed bool

	// LimitHit names the ceiling that rejected the attempt. Empty when
	// Allowed is true.
	LimitHit LimitKind

	// WindowRemaining is how long the current minute bucket has left.
	// Only meaningful when LimitHit is LimitRPM.
	WindowRemaining time.Duration
}

// StoreSnapshot is a read-only view of a provider's shared counters.
type StoreSnapshot struct {
	RequestsThisMinute int64
	Concurrent         int64
	WindowRemaining    time.Duration
}

// Metrics records admission-control events. Implementations can use
// Prometheus or custom systems; NoOpMetrics discards everything.
type Metrics interface {
	// RecordAcquire records an admission attempt outcome.
	// mode is "local", "coordinated" or "fallback"; outcome is "admitted",
	// "rejected" or "cancelled".
	RecordAcquire(provider, mode, outcome string)

	// RecordAcquireWait records how long a caller waited for admission.
	RecordAcquireWait(provider string, d time.Duration)

	// RecordRateLimitHit records that an admission attempt hit a ceiling.
	RecordRateLimitHit(provider string, limit LimitKind)

	// SetInflight records the provider's current in-flight call count.
	SetInflight(provider string, n int)

	// RecordCircuitState records a circuit breaker state change.
	RecordCircuitState(provider, state string)

	// SetDegraded flips the coordinated-path degraded gauge.
	SetDegraded(degraded bool)

	// RecordCacheEvent records a result-cache event
	// ("hit", "miss", "expired", "evicted", "set").
	RecordCacheEvent(event string)

	// RecordProviderResponse records a successful call's response time.
	RecordProviderResponse(provider string, seconds float64)
}

// Clock provides an abstraction for time operations to enable testing.
//
// This interface allows for dependency injection of time functions,
// making it easy to test time-dependent behavior with fake clocks.
type Clock interface {
	// Now returns the current time.
	//
	// Production implementations should return time.Now().
	// Test implementations can return fixed or controlled times.
	Now() time.Time
}

// SystemClock is a Clock implementation that uses the system time.
type SystemClock struct{}

// Now returns the current system time.
func (c *SystemClock) Now() time.Time {
	return time.Now()
}
