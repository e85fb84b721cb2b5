package providerlimit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
)

const (
	// maxCoordAttempts bounds the shared-store retry loop so an
	// over-subscribed provider cannot spin forever. Exhausting the bound
	// falls back to local limiting for that call.
	maxCoordAttempts = 100

	// concurrencySlotRetryDelay spaces retries when the shared concurrency
	// ceiling is full. Slots open on release, not on a schedule, so a
	// short fixed delay is all there is to wait for.
	concurrencySlotRetryDelay = 250 * time.Millisecond

	// releaseFlushRetryDelay paces the release flusher's retries while the
	// store is down. Pending decrements are held, never dropped.
	releaseFlushRetryDelay = time.Second

	// storeGuardTimeout is how long the store guard stays open before
	// letting a probe through to re-validate the connection.
	storeGuardTimeout = 10 * time.Second

	// storeGuardTrip is the consecutive-failure count that opens the
	// store guard.
	storeGuardTrip = 3
)

// CoordinatedLimiter wraps a LocalLimiter with an external shared-counter
// store so per-minute and concurrency ceilings hold across independent
// worker processes. Without it, N processes each running their own
// LocalLimiter would enforce N times the configured limit.
//
// The store is advisory infrastructure, not a hard dependency: any transport
// failure degrades the affected call to local limiting, and a gobreaker
// guard around the store stops hammering it while it is down, letting probe
// calls re-validate the connection. Circuit breaker state stays
// process-local: the breaker is best-effort failure detection, not a
// correctness requirement.
type CoordinatedLimiter struct {
	local   *LocalLimiter
	store   CoordinationStore
	guard   *gobreaker.CircuitBreaker
	config  *Config
	clock   Clock
	metrics Metrics
	logger  *slog.Logger

	degraded atomic.Bool

	// Shared release decrements are queued here so Release never blocks.
	// The map carries the counts; the channel is only a wake-up.
	pendingMu sync.Mutex
	pending   map[string]int64
	notify    chan struct{}
	stop      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewCoordinatedLimiter creates a coordinated limiter over the given store.
//
// The local limiter supplies the circuit breakers, pacing, fallback
// admission, and warm local stats. The store connection is owned by the
// caller (normally the Facade) and is not closed here.
func NewCoordinatedLimiter(config *Config, store CoordinationStore, local *LocalLimiter, clock Clock, metrics Metrics, logger *slog.Logger) *CoordinatedLimiter {
	if clock == nil {
		clock = &SystemClock{}
	}
	if metrics == nil {
		metrics = NewNoOpMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &CoordinatedLimiter{
		local:   local,
		store:   store,
		config:  config,
		clock:   clock,
		metrics: metrics,
		logger:  logger,
		pending: make(map[string]int64),
		notify:  make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}

	c.guard = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "coordination-store",
		MaxRequests: 1,
		Timeout:     storeGuardTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= storeGuardTrip
		},
		// Only transport-level failures count against the guard.
		// Caller cancellations travel through store calls; they say
		// nothing about store health.
		IsSuccessful: func(err error) bool {
			return !isStoreError(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("circuit breaker state changed",
				slog.String("circuit", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})

	c.wg.Add(1)
	go c.releaseFlusher()

	return c
}

// Acquire admits a call through the shared store, falling back to local
// limiting on store failure or retry exhaustion.
//
// The protocol per attempt: check the local circuit breaker, then ask the
// store to atomically claim a minute-bucket slot and a concurrency slot. A
// ceiling rejection waits out the binding limit and retries; a transport
// failure degrades this call to the local limiter.
func (c *CoordinatedLimiter) Acquire(ctx context.Context, provider string) error {
	if !c.local.canProceed(provider) {
		c.metrics.RecordAcquire(provider, "coordinated", "rejected")
		return circuitOpenError(provider)
	}

	pc := c.config.ProviderFor(provider)
	start := c.clock.Now()

	for attempt := 0; attempt < maxCoordAttempts; attempt++ {
		res, err := c.acquireSlot(ctx, provider, pc)
		if err != nil {
			if ctx.Err() != nil {
				c.metrics.RecordAcquire(provider, "coordinated", "cancelled")
				return ctx.Err()
			}
			c.noteDegraded(err)
			return c.local.Acquire(ctx, provider)
		}
		c.noteHealthy()

		if res.Allowed {
			c.local.noteExternalAdmit(provider)
			if err := c.local.paceProvider(ctx, provider); err != nil {
				// Local counters were rolled back by pacing; return
				// the shared slot too.
				c.enqueueRelease(provider)
				c.metrics.RecordAcquire(provider, "coordinated", "cancelled")
				return err
			}
			c.metrics.RecordAcquireWait(provider, c.clock.Now().Sub(start))
			c.metrics.RecordAcquire(provider, "coordinated", "admitted")
			return nil
		}

		c.metrics.RecordRateLimitHit(provider, res.LimitHit)

		select {
		case <-ctx.Done():
			c.metrics.RecordAcquire(provider, "coordinated", "cancelled")
			return ctx.Err()
		case <-time.After(c.retryWait(res)):
		}
	}

	c.logger.Warn("coordinated acquire attempts exhausted, falling back to local limiting",
		slog.String("provider", provider),
		slog.Int("attempts", maxCoordAttempts),
	)
	return c.local.Acquire(ctx, provider)
}

// Release synchronously returns the local concurrency slot, then queues the
// shared-store decrement for the background flusher. It never blocks and
// never suspends, so it is callable from any context.
func (c *CoordinatedLimiter) Release(provider string) {
	c.local.Release(provider)
	c.enqueueRelease(provider)
}

// RecordSuccess feeds the local circuit breaker and response metrics.
// Breaker state is not shared across processes.
func (c *CoordinatedLimiter) RecordSuccess(provider string, responseSeconds float64) {
	c.local.RecordSuccess(provider, responseSeconds)
}

// RecordFailure feeds the local circuit breaker.
func (c *CoordinatedLimiter) RecordFailure(provider string, kind FailureKind) {
	c.local.RecordFailure(provider, kind)
}

// Stats returns the local per-provider snapshot. Local counters are kept
// warm by noteExternalAdmit, so they mirror this process's share of the
// coordinated traffic.
func (c *CoordinatedLimiter) Stats() map[string]ProviderStats {
	return c.local.Stats()
}

// Degraded reports whether the coordinated path is currently falling back to
// local limiting.
func (c *CoordinatedLimiter) Degraded() bool {
	return c.degraded.Load()
}

// Close stops the release flusher after a final backlog flush. Decrements
// that still cannot be delivered are abandoned with a warning; the shared
// concurrency counter's TTL heals the leak within a few minutes.
func (c *CoordinatedLimiter) Close() error {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
	c.wg.Wait()

	if remaining := c.pendingReleases(); remaining > 0 {
		c.logger.Warn("undelivered shared release decrements at shutdown",
			slog.Int64("slots", remaining),
		)
	}
	return c.local.Close()
}

// acquireSlot runs one atomic check-and-increment through the store guard.
// An open guard rejects immediately, which the caller treats like any other
// store failure.
func (c *CoordinatedLimiter) acquireSlot(ctx context.Context, provider string, pc ProviderConfig) (*SlotResult, error) {
	raw, err := c.guard.Execute(func() (interface{}, error) {
		return c.store.AcquireSlot(ctx, provider, pc.MaxRequestsPerMinute, pc.MaxConcurrent)
	})
	if err != nil {
		return nil, err
	}
	return raw.(*SlotResult), nil
}

// retryWait picks the wait before the next store attempt: the remainder of
// the minute window for an RPM rejection, a short fixed delay for a
// concurrency rejection.
func (c *CoordinatedLimiter) retryWait(res *SlotResult) time.Duration {
	if res.LimitHit == LimitRPM {
		wait := res.WindowRemaining
		if wait <= 0 {
			wait = time.Second
		}
		return wait + windowBuffer
	}
	return concurrencySlotRetryDelay
}

// noteDegraded flips the degraded flag once per outage.
func (c *CoordinatedLimiter) noteDegraded(err error) {
	if c.degraded.CompareAndSwap(false, true) {
		c.metrics.SetDegraded(true)
		c.logger.Warn("coordination store unavailable, degrading to local limiting",
			slog.Any("error", err),
		)
	}
}

// noteHealthy clears the degraded flag once per recovery.
func (c *CoordinatedLimiter) noteHealthy() {
	if c.degraded.CompareAndSwap(true, false) {
		c.metrics.SetDegraded(false)
		c.logger.Info("coordination store recovered, coordinated limiting resumed")
	}
}

// enqueueRelease records one shared decrement for the flusher and wakes it.
// The send never blocks: the buffered channel is only a signal, the counts
// live in the pending map.
func (c *CoordinatedLimiter) enqueueRelease(provider string) {
	c.pendingMu.Lock()
	c.pending[provider]++
	c.pendingMu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// releaseFlusher delivers queued shared decrements in batches until Close.
// A failed batch goes back on the queue and is retried after a pause: an
// under-released shared counter would permanently shrink capacity for
// every process, so decrements are held rather than dropped.
func (c *CoordinatedLimiter) releaseFlusher() {
	defer c.wg.Done()

	for {
		select {
		case <-c.stop:
			c.flushPending()
			return
		case <-c.notify:
			if c.flushPending() {
				continue
			}
			select {
			case <-c.stop:
				c.flushPending()
				return
			case <-time.After(releaseFlushRetryDelay):
				c.wake()
			}
		}
	}
}

// flushPending attempts to deliver the whole backlog. Returns false when any
// provider's decrement failed and was re-queued.
func (c *CoordinatedLimiter) flushPending() bool {
	c.pendingMu.Lock()
	batch := c.pending
	c.pending = make(map[string]int64)
	c.pendingMu.Unlock()

	ok := true
	for provider, n := range batch {
		if n <= 0 {
			continue
		}
		_, err := c.guard.Execute(func() (interface{}, error) {
			return nil, c.store.ReleaseSlots(context.Background(), provider, n)
		})
		if err != nil {
			c.pendingMu.Lock()
			c.pending[provider] += n
			c.pendingMu.Unlock()
			c.noteDegraded(err)
			ok = false
			continue
		}
		c.noteHealthy()
	}
	return ok
}

// wake re-arms the flusher after a retry pause.
func (c *CoordinatedLimiter) wake() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// pendingReleases returns the queued decrement total across providers.
func (c *CoordinatedLimiter) pendingReleases() int64 {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	var total int64
	for _, n := range c.pending {
		total += n
	}
	return total
}
