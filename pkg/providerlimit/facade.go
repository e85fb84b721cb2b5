package providerlimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Option customizes a Facade beyond its Config.
type Option func(*facadeOptions)

type facadeOptions struct {
	logger  *slog.Logger
	metrics Metrics
	clock   Clock
	store   CoordinationStore
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *facadeOptions) {
		o.logger = logger
	}
}

// WithMetrics sets the metrics implementation. Defaults to NoOpMetrics.
func WithMetrics(m Metrics) Option {
	return func(o *facadeOptions) {
		o.metrics = m
	}
}

// WithClock sets the time source. Defaults to the system clock.
func WithClock(c Clock) Option {
	return func(o *facadeOptions) {
		o.clock = c
	}
}

// WithStore injects a coordination store, overriding Config.StoreAddr.
// The caller keeps ownership: Close will not close an injected store.
func WithStore(s CoordinationStore) Option {
	return func(o *facadeOptions) {
		o.store = s
	}
}

// Facade is the single entry point for admission control.
//
// It is an explicitly constructed, dependency-injected value: build one at
// the application's composition root and hand it to every caller. The facade
// selects the coordinated path when a store is configured (or injected) and
// the local path otherwise, and owns the result cache.
type Facade struct {
	config      *Config
	limiter     Limiter
	coordinated *CoordinatedLimiter
	cache       *ResultCache
	store       CoordinationStore
	ownsStore   bool
	clock       Clock
	metrics     Metrics
	logger      *slog.Logger
}

// New builds a Facade from the given configuration.
//
// Defaults are applied to the config in place, then validated. When
// Config.StoreAddr is set (and no store is injected), a RedisStore is
// created; a store that is unreachable at startup logs a warning and the
// facade starts degraded rather than failing, since the coordinated path
// recovers by re-probing.
func New(config *Config, opts ...Option) (*Facade, error) {
	if config == nil {
		config = DefaultConfig()
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("providerlimit config: %w", err)
	}

	o := &facadeOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.metrics == nil {
		o.metrics = NewNoOpMetrics()
	}
	if o.clock == nil {
		o.clock = &SystemClock{}
	}

	f := &Facade{
		config:  config,
		clock:   o.clock,
		metrics: o.metrics,
		logger:  o.logger,
	}

	store := o.store
	if store == nil && config.StoreAddr != "" {
		rs, err := NewRedisStore(RedisStoreConfig{
			Addr:      config.StoreAddr,
			Password:  config.StorePassword,
			DB:        config.StoreDB,
			KeyPrefix: config.KeyPrefix,
		}, o.clock)
		if err != nil {
			return nil, fmt.Errorf("providerlimit store: %w", err)
		}
		store = rs
		f.ownsStore = true
	}

	local := NewLocalLimiter(config, o.clock, o.metrics, o.logger)
	if store == nil {
		f.limiter = local
		f.logger.Info("local-only limiting enabled")
	} else {
		f.store = store
		f.coordinated = NewCoordinatedLimiter(config, store, local, o.clock, o.metrics, o.logger)
		f.limiter = f.coordinated

		ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			f.logger.Warn("coordination store unreachable at startup, starting degraded",
				slog.String("addr", config.StoreAddr),
				slog.Any("error", err),
			)
		} else {
			f.logger.Info("coordinated limiting enabled",
				slog.String("addr", config.StoreAddr),
			)
		}
	}

	f.cache = NewResultCache(config.Cache, o.clock, o.metrics)

	return f, nil
}

// Acquire suspends until a call to the provider is admitted, then returns a
// Grant whose Release is idempotent. Callers should defer the release:
//
//	grant, err := facade.Acquire(ctx, "openai")
//	if err != nil {
//		return err
//	}
//	defer grant.Release()
//
// The returned error is ctx.Err() on cancellation or a circuit-open error
// (check with IsCircuitOpen).
func (f *Facade) Acquire(ctx context.Context, provider string) (*Grant, error) {
	if err := f.limiter.Acquire(ctx, provider); err != nil {
		return nil, err
	}
	return &Grant{provider: provider, facade: f}, nil
}

// Release returns a provider's concurrency slot directly, for callers that
// track admission themselves rather than holding a Grant. Releasing more
// times than acquired is absorbed.
func (f *Facade) Release(provider string) {
	f.limiter.Release(provider)
}

// RecordSuccess reports a completed provider call and its response time in
// seconds.
func (f *Facade) RecordSuccess(provider string, responseSeconds float64) {
	f.limiter.RecordSuccess(provider, responseSeconds)
}

// RecordFailure reports a failed provider call.
func (f *Facade) RecordFailure(provider string, kind FailureKind) {
	f.limiter.RecordFailure(provider, kind)
}

// CacheGet returns the cached payload for (provider, query), if any.
func (f *Facade) CacheGet(provider, query string) (string, bool) {
	return f.cache.Get(provider, query)
}

// CacheSet stores a payload for (provider, query). A zero ttl uses the
// configured default.
func (f *Facade) CacheSet(provider, query, payload string, ttl time.Duration) {
	f.cache.Set(provider, query, payload, ttl)
}

// CacheGetOrFill returns the cached payload or executes fill to produce it,
// deduplicating concurrent identical fills.
func (f *Facade) CacheGetOrFill(ctx context.Context, provider, query string, ttl time.Duration, fill func(ctx context.Context) (string, error)) (string, error) {
	return f.cache.GetOrFill(ctx, provider, query, ttl, fill)
}

// Stats returns the per-provider admission snapshot.
func (f *Facade) Stats() map[string]ProviderStats {
	return f.limiter.Stats()
}

// Degraded reports whether coordinated limiting is currently falling back to
// local-only. Always false in local-only mode.
func (f *Facade) Degraded() bool {
	if f.coordinated == nil {
		return false
	}
	return f.coordinated.Degraded()
}

// Mode reports which limiter admits calls: "coordinated" when a
// coordination store is configured, "local" otherwise.
func (f *Facade) Mode() string {
	if f.coordinated != nil {
		return "coordinated"
	}
	return "local"
}

// Close flushes pending shared releases, stops background goroutines, and
// closes the store connection if the facade created it.
func (f *Facade) Close() error {
	err := f.limiter.Close()
	f.cache.Close()

	if f.ownsStore && f.store != nil {
		if cerr := f.store.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// Grant is a scoped admission handle. Its Release is guaranteed to run at
// most once, so a deferred grant.Release() is safe on every exit path even
// when the caller also releases explicitly.
type Grant struct {
	provider string
	facade   *Facade
	released atomic.Bool
}

// Release returns the grant's concurrency slot. Subsequent calls are no-ops.
func (g *Grant) Release() {
	if g.released.CompareAndSwap(false, true) {
		g.facade.Release(g.provider)
	}
}

// Provider returns the provider this grant admitted.
func (g *Grant) Provider() string {
	return g.provider
}
