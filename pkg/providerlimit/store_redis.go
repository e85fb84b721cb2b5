package providerlimit

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

//go:embed acquire.lua
var acquireScript string

//go:embed release.lua
var releaseScript string

const (
	// rpmBucketTTL keeps a minute bucket around for one extra minute so a
	// straggling rollback still finds its key.
	rpmBucketTTL = 2 * time.Minute

	// concCounterTTL is refreshed on every touch. If every process holding
	// slots crashes, the counter ages out and capacity self-heals.
	concCounterTTL = 5 * time.Minute

	// storeOpTimeout bounds individual store operations so a dead store
	// turns into a fast fallback instead of a hung Acquire.
	storeOpTimeout = 2 * time.Second
)

// RedisStoreConfig holds the Redis coordination store settings.
type RedisStoreConfig struct {
	// Addr is the Redis address (host:port).
	Addr string

	// Password authenticates against Redis. Empty means no auth.
	Password string

	// DB selects the Redis database number.
	DB int

	// KeyPrefix namespaces all keys. Default: "callgate"
	KeyPrefix string
}

// RedisStore implements CoordinationStore on Redis.
//
// Both mutations run as Lua scripts, so the check-and-increment and the
// floor-at-zero decrement are atomic on the server. Scripts are sent with
// EVALSHA and fall back to EVAL transparently when Redis has not seen them
// yet.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	clock   Clock
	acquire *redis.Script
	release *redis.Script
}

// NewRedisStore creates a store client for the given configuration.
//
// The connection is not probed here: a store that is down at startup is a
// degraded-mode condition, not a construction error. Callers decide how to
// treat an initial failed Ping.
func NewRedisStore(config RedisStoreConfig, clock Clock) (*RedisStore, error) {
	if config.Addr == "" {
		return nil, errors.New("redis store: addr is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "callgate"
	}
	if clock == nil {
		clock = &SystemClock{}
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  storeOpTimeout,
		WriteTimeout: storeOpTimeout,
	})

	return &RedisStore{
		client:  client,
		prefix:  config.KeyPrefix,
		clock:   clock,
		acquire: redis.NewScript(acquireScript),
		release: redis.NewScript(releaseScript),
	}, nil
}

// AcquireSlot atomically increments the provider's minute-bucket and
// concurrent counters, rolling both back when either ceiling is exceeded.
func (s *RedisStore) AcquireSlot(ctx context.Context, provider string, rpmLimit, concurrentLimit int) (*SlotResult, error) {
	ctx, cancel := context.WithTimeout(ctx, storeOpTimeout)
	defer cancel()

	keys := []string{
		s.rpmKey(provider, s.currentMinute()),
		s.concKey(provider),
	}
	raw, err := s.acquire.Run(ctx, s.client, keys,
		rpmLimit,
		concurrentLimit,
		rpmBucketTTL.Milliseconds(),
		concCounterTTL.Milliseconds(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire slot for %q: %w", provider, err)
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != 3 {
		return nil, fmt.Errorf("acquire slot for %q: unexpected script reply %v", provider, raw)
	}

	allowed, _ := values[0].(int64)
	result := &SlotResult{Allowed: allowed == 1}
	if !result.Allowed {
		limitHit, _ := values[1].(string)
		remainingMS, _ := values[2].(int64)
		result.LimitHit = LimitKind(limitHit)
		result.WindowRemaining = time.Duration(remainingMS) * time.Millisecond
	}
	return result, nil
}

// ReleaseSlots decrements the provider's concurrent counter by n, flooring
// at zero.
func (s *RedisStore) ReleaseSlots(ctx context.Context, provider string, n int64) error {
	if n <= 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, storeOpTimeout)
	defer cancel()

	keys := []string{s.concKey(provider)}
	if err := s.release.Run(ctx, s.client, keys, n, concCounterTTL.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("release %d slots for %q: %w", n, provider, err)
	}
	return nil
}

// Ping verifies the store is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, storeOpTimeout)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Snapshot reads the provider's counters without mutating them.
// Observability only.
func (s *RedisStore) Snapshot(ctx context.Context, provider string) (*StoreSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, storeOpTimeout)
	defer cancel()

	rpmKey := s.rpmKey(provider, s.currentMinute())

	pipe := s.client.Pipeline()
	rpmCmd := pipe.Get(ctx, rpmKey)
	concCmd := pipe.Get(ctx, s.concKey(provider))
	ttlCmd := pipe.PTTL(ctx, rpmKey)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("snapshot for %q: %w", provider, err)
	}

	snap := &StoreSnapshot{}
	if v, err := rpmCmd.Int64(); err == nil {
		snap.RequestsThisMinute = v
	}
	if v, err := concCmd.Int64(); err == nil {
		snap.Concurrent = v
	}
	if ttl, err := ttlCmd.Result(); err == nil && ttl > 0 {
		snap.WindowRemaining = ttl
	}
	return snap, nil
}

// Close releases the Redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// currentMinute returns the Unix minute used to bucket per-minute counters.
// All processes sharing the store land in the same bucket as long as their
// clocks agree to within normal NTP drift.
func (s *RedisStore) currentMinute() int64 {
	return s.clock.Now().Unix() / 60
}

func (s *RedisStore) rpmKey(provider string, minute int64) string {
	return fmt.Sprintf("%s:rpm:%s:%d", s.prefix, provider, minute)
}

func (s *RedisStore) concKey(provider string) string {
	return fmt.Sprintf("%s:conc:%s", s.prefix, provider)
}
