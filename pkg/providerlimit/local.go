package providerlimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// concurrencyRetryDelay is how long a waiter sleeps before rechecking a full
// concurrency ceiling. Releases do not signal waiters, so waiters poll.
const concurrencyRetryDelay = 100 * time.Millisecond

// providerState holds everything the limiter tracks for one provider.
//
// The state is created lazily on first use and owned exclusively by the
// limiter that created it. Its mutex serializes the composite admission
// decision; the bucket and window carry their own locks so they remain safe
// as standalone primitives.
type providerState struct {
	config  ProviderConfig
	bucket  *TokenBucket
	window  *SlidingWindowCounter
	breaker *CircuitBreaker
	pacer   *rate.Limiter

	mu            sync.Mutex
	concurrent    int
	rateLimitHits uint64
}

// LocalLimiter makes single-process admission decisions by composing three
// independent gates per provider: the concurrency ceiling, the rolling
// one-minute window, and the token bucket. All gates must pass, so the most
// restrictive wins.
//
// Providers do not contend with each other: the registry lock only guards
// map access, and each providerState carries its own mutex.
type LocalLimiter struct {
	config  *Config
	clock   Clock
	metrics Metrics
	logger  *slog.Logger

	// windowSize is the rolling window span. Fixed to one minute in
	// production; tests shrink it to keep wall time down.
	windowSize time.Duration

	mu        sync.RWMutex
	providers map[string]*providerState
}

// NewLocalLimiter creates a limiter from the given configuration.
//
// The configuration must already have defaults applied. If clock is nil, the
// system clock is used; if metrics is nil, metrics are discarded; if logger
// is nil, slog.Default() is used.
func NewLocalLimiter(config *Config, clock Clock, metrics Metrics, logger *slog.Logger) *LocalLimiter {
	if clock == nil {
		clock = &SystemClock{}
	}
	if metrics == nil {
		metrics = NewNoOpMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &LocalLimiter{
		config:     config,
		clock:      clock,
		metrics:    metrics,
		logger:     logger,
		windowSize: time.Minute,
		providers:  make(map[string]*providerState),
	}
}

// Acquire suspends until a call to the provider is admitted or ctx is
// cancelled.
//
// Each loop iteration re-checks the circuit breaker, then tries the three
// gates under the provider's lock. A rejected attempt computes how long the
// binding gate needs and sleeps that long before retrying. Counters are only
// touched at the moment of successful admission, so cancellation while
// waiting leaves no state behind.
func (l *LocalLimiter) Acquire(ctx context.Context, provider string) error {
	st := l.state(provider)
	start := l.clock.Now()

	for {
		if !st.breaker.CanProceed() {
			l.metrics.RecordAcquire(provider, "local", "rejected")
			return circuitOpenError(provider)
		}

		admitted, wait, limit := st.tryAdmit()
		if admitted {
			l.metrics.SetInflight(provider, st.inflight())
			if err := l.pace(ctx, st, provider); err != nil {
				l.metrics.RecordAcquire(provider, "local", "cancelled")
				return err
			}
			l.metrics.RecordAcquireWait(provider, l.clock.Now().Sub(start))
			l.metrics.RecordAcquire(provider, "local", "admitted")
			return nil
		}

		l.metrics.RecordRateLimitHit(provider, limit)

		select {
		case <-ctx.Done():
			l.metrics.RecordAcquire(provider, "local", "cancelled")
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Release returns the provider's concurrency slot. The in-flight count is
// floored at zero, so surplus releases are absorbed rather than corrupting
// the ceiling.
func (l *LocalLimiter) Release(provider string) {
	st := l.state(provider)
	l.releaseState(provider, st)
}

// RecordSuccess reports a completed call to the provider's breaker and
// response-time metrics.
func (l *LocalLimiter) RecordSuccess(provider string, responseSeconds float64) {
	st := l.state(provider)
	st.breaker.RecordSuccess()
	l.metrics.RecordProviderResponse(provider, responseSeconds)
}

// RecordFailure reports a failed call to the provider's breaker. A
// rate-limit failure also counts as a rate-limit hit, since the provider is
// telling us its ceiling disagrees with ours.
func (l *LocalLimiter) RecordFailure(provider string, kind FailureKind) {
	st := l.state(provider)
	st.breaker.RecordFailure()

	if kind == FailureRateLimit {
		st.mu.Lock()
		st.rateLimitHits++
		st.mu.Unlock()
		l.metrics.RecordRateLimitHit(provider, LimitProvider)
	}
}

// Stats returns a snapshot of every provider seen so far.
func (l *LocalLimiter) Stats() map[string]ProviderStats {
	l.mu.RLock()
	names := make([]string, 0, len(l.providers))
	states := make([]*providerState, 0, len(l.providers))
	for name, st := range l.providers {
		names = append(names, name)
		states = append(states, st)
	}
	l.mu.RUnlock()

	stats := make(map[string]ProviderStats, len(names))
	for i, st := range states {
		st.mu.Lock()
		s := ProviderStats{
			Concurrent:    st.concurrent,
			RateLimitHits: st.rateLimitHits,
		}
		st.mu.Unlock()

		s.RequestsInWindow = st.window.Count()
		s.BreakerState = st.breaker.State().String()
		s.TokensAvailable = st.bucket.Tokens()
		stats[names[i]] = s
	}
	return stats
}

// Close implements Limiter. A LocalLimiter holds no background resources.
func (l *LocalLimiter) Close() error {
	return nil
}

// tryAdmit runs the three gates in order: concurrency, window, bucket.
//
// On admission it commits all counters and returns admitted=true. On
// rejection it returns the wait the binding gate needs and which limit hit.
func (st *providerState) tryAdmit() (admitted bool, wait time.Duration, limit LimitKind) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.concurrent >= st.config.MaxConcurrent {
		st.rateLimitHits++
		return false, concurrencyRetryDelay, LimitConcurrency
	}

	if st.window.Count() >= st.config.MaxRequestsPerMinute {
		st.rateLimitHits++
		wait := st.window.TimeUntilSlot()
		if wait <= 0 {
			wait = windowBuffer
		}
		return false, wait, LimitRPM
	}

	if !st.bucket.Consume(1) {
		st.rateLimitHits++
		wait := st.bucket.TimeUntilAvailable(1)
		if wait <= 0 {
			wait = windowBuffer
		}
		return false, wait, LimitBucket
	}

	st.concurrent++
	st.window.Record()
	return true, 0, ""
}

// inflight returns the provider's current in-flight count.
func (st *providerState) inflight() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.concurrent
}

// pace spaces successive admissions DelayBetweenRequests apart. If the wait
// fails, because ctx was cancelled mid-pacing or its deadline cannot cover
// the pacing delay, the whole admission is rolled back: the slot, the window
// entry, and the token all return, since the call they paid for never went
// out.
//
// The pacer's own error is returned, not ctx.Err(): rate.Limiter.Wait fails
// eagerly when the wait would exceed the deadline, at which point ctx.Err()
// is still nil and returning it would report a rolled-back admission as
// success.
func (l *LocalLimiter) pace(ctx context.Context, st *providerState, provider string) error {
	if st.pacer == nil {
		return nil
	}
	if err := st.pacer.Wait(ctx); err != nil {
		l.releaseState(provider, st)
		st.window.Unrecord()
		st.bucket.Refund(1)
		return err
	}
	return nil
}

// releaseState decrements the in-flight count, flooring at zero.
func (l *LocalLimiter) releaseState(provider string, st *providerState) {
	st.mu.Lock()
	if st.concurrent > 0 {
		st.concurrent--
	}
	n := st.concurrent
	st.mu.Unlock()

	l.metrics.SetInflight(provider, n)
}

// noteExternalAdmit commits an admission decided elsewhere (by the
// coordination store) into the local counters, keeping stats and the
// fallback state warm. No gates are checked; the store already decided.
func (l *LocalLimiter) noteExternalAdmit(provider string) {
	st := l.state(provider)

	st.mu.Lock()
	st.concurrent++
	n := st.concurrent
	st.mu.Unlock()

	st.window.Record()
	st.bucket.Consume(1)
	l.metrics.SetInflight(provider, n)
}

// canProceed exposes the provider's breaker decision to the coordinated
// limiter, which checks it before touching the shared store.
func (l *LocalLimiter) canProceed(provider string) bool {
	return l.state(provider).breaker.CanProceed()
}

// paceProvider runs post-admission pacing for the coordinated path, which
// admits through the shared store but paces locally.
func (l *LocalLimiter) paceProvider(ctx context.Context, provider string) error {
	st := l.state(provider)
	return l.pace(ctx, st, provider)
}

// state returns the provider's state, creating it on first use.
//
// Lookups take the read lock; creation double-checks under the write lock so
// concurrent first users converge on one state.
func (l *LocalLimiter) state(provider string) *providerState {
	l.mu.RLock()
	st, ok := l.providers[provider]
	l.mu.RUnlock()
	if ok {
		return st
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if st, ok := l.providers[provider]; ok {
		return st
	}

	pc := l.config.ProviderFor(provider)
	st = &providerState{
		config:  pc,
		bucket:  NewTokenBucket(pc.BucketCapacity, pc.RefillRate, l.clock),
		window:  NewSlidingWindowCounter(l.windowSize, l.clock),
		breaker: NewCircuitBreaker(provider, l.config.Breaker, l.clock, l.metrics),
	}
	if pc.DelayBetweenRequests > 0 {
		st.pacer = rate.NewLimiter(rate.Every(pc.DelayBetweenRequests), 1)
	}
	l.providers[provider] = st

	l.logger.Debug("provider state created",
		slog.String("provider", provider),
		slog.Int("max_rpm", pc.MaxRequestsPerMinute),
		slog.Int("max_concurrent", pc.MaxConcurrent),
	)

	return st
}
