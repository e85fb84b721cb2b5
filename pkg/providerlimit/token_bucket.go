package providerlimit

import (
	"sync"
	"time"
)

// TokenBucket is a per-provider burst/refill primitive.
//
// Tokens accumulate at a fixed rate up to a capacity and are spent per
// admitted call. The bucket starts full so a provider can absorb an initial
// burst. Refill and consumption happen inside a single critical section, so
// the bucket is safe under concurrent access by many callers.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	refillRate float64 // tokens per second
	tokens     float64
	lastRefill time.Time
	clock      Clock
}

// NewTokenBucket creates a full bucket with the given capacity and refill
// rate in tokens per second.
//
// If clock is nil, the system clock is used.
func NewTokenBucket(capacity int, refillRate float64, clock Clock) *TokenBucket {
	if clock == nil {
		clock = &SystemClock{}
	}
	return &TokenBucket{
		capacity:   float64(capacity),
		refillRate: refillRate,
		tokens:     float64(capacity),
		lastRefill: clock.Now(),
		clock:      clock,
	}
}

// Consume refills the bucket for the time elapsed since the last call, then
// deducts n tokens if at least n are available.
//
// Returns true if the tokens were deducted, false if the bucket lacks them.
// There are no error conditions.
func (b *TokenBucket) Consume(n float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.tokens < n {
		return false
	}
	b.tokens -= n
	return true
}

// Refund returns n tokens to the bucket, capped at capacity. Used when an
// admission is rolled back before the call it paid for was made.
func (b *TokenBucket) Refund(n float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	b.tokens += n
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
}

// TimeUntilAvailable returns how long the caller must wait before n tokens
// will have accumulated. Returns zero when n tokens are already available.
func (b *TokenBucket) TimeUntilAvailable(n float64) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.tokens >= n {
		return 0
	}
	if b.refillRate <= 0 {
		// Never refills; report a long wait rather than dividing by zero.
		return time.Hour
	}

	missing := n - b.tokens
	return time.Duration(missing / b.refillRate * float64(time.Second))
}

// Tokens returns the current token count after refilling. Observability only.
func (b *TokenBucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	return b.tokens
}

// refill advances the bucket to the current time.
//
// Must be called while holding the lock.
func (b *TokenBucket) refill() {
	now := b.clock.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}

	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}
