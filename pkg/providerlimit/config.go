package providerlimit

import (
	"fmt"
	"time"
)

// Config contains the configuration for the admission-control subsystem.
//
// This struct holds all settings needed to build a Facade: the coordination
// store address (empty means local-only mode), the default per-provider
// limits, per-provider overrides, and the circuit breaker and result cache
// settings.
type Config struct {
	// StoreAddr is the coordination store address (host:port).
	// When empty, the facade runs in local-only mode.
	StoreAddr string

	// StorePassword authenticates against the coordination store.
	StorePassword string

	// StoreDB selects the coordination store database number.
	StoreDB int

	// KeyPrefix namespaces all coordination store keys.
	// Default: "callgate"
	KeyPrefix string

	// DefaultProvider is applied to any provider without an override.
	DefaultProvider ProviderConfig

	// Providers holds per-provider overrides keyed by provider name.
	Providers map[string]ProviderConfig

	// Breaker configures the per-provider circuit breakers.
	Breaker CircuitBreakerConfig

	// Cache configures the result deduplication cache.
	Cache CacheConfig
}

// ProviderConfig holds the per-provider admission ceilings.
//
// A zero BucketCapacity or RefillRate is derived from MaxRequestsPerMinute
// by ApplyDefaults, matching the burst and sustained-rate the provider's
// published per-minute limit implies.
type ProviderConfig struct {
	// MaxRequestsPerMinute caps admissions inside any rolling 60s window.
	MaxRequestsPerMinute int

	// MaxConcurrent caps simultaneous in-flight calls.
	MaxConcurrent int

	// DelayBetweenRequests spaces successive admissions apart
	// (post-admission pacing). Zero disables pacing.
	DelayBetweenRequests time.Duration

	// BucketCapacity is the token bucket burst size.
	// Default: max(2, MaxRequestsPerMinute/30)
	BucketCapacity int

	// RefillRate is the token bucket refill rate in tokens per second.
	// Default: MaxRequestsPerMinute/60
	RefillRate float64
}

// CircuitBreakerConfig holds the per-provider circuit breaker settings.
type CircuitBreakerConfig struct {
	// Enabled turns breaker enforcement on. A disabled breaker admits
	// everything and ignores recorded failures.
	Enabled bool

	// FailureThreshold is the number of consecutive failures required to
	// open the circuit. Default: 5
	FailureThreshold int

	// SuccessThreshold is the number of consecutive successes required to
	// close a half-open circuit. Default: 2
	SuccessThreshold int

	// OpenTimeout is how long an open circuit rejects calls before the
	// next admission check moves it to half-open. Default: 60 seconds
	OpenTimeout time.Duration
}

// CacheConfig holds the result cache settings.
type CacheConfig struct {
	// Enabled turns the cache on. A disabled cache never hits and
	// discards writes.
	Enabled bool

	// TTL is the default entry lifetime. Default: 5 minutes
	TTL time.Duration

	// MaxEntries bounds the cache size. New writes are dropped when the
	// cache is full and nothing expired can be swept. Default: 10000
	MaxEntries int

	// SweepInterval is how often the background janitor removes expired
	// entries. Zero disables the janitor; expired entries are then only
	// evicted lazily on read.
	SweepInterval time.Duration
}

// Validate checks if the Config is valid.
//
// Returns an error if any configuration values are invalid.
func (c *Config) Validate() error {
	if err := c.DefaultProvider.validate("DefaultProvider"); err != nil {
		return err
	}
	for name, pc := range c.Providers {
		if name == "" {
			return fmt.Errorf("Providers contains an empty provider name")
		}
		if err := pc.validate(fmt.Sprintf("Providers[%q]", name)); err != nil {
			return err
		}
	}

	if c.Breaker.FailureThreshold < 0 {
		return fmt.Errorf("Breaker.FailureThreshold must be non-negative, got %d", c.Breaker.FailureThreshold)
	}
	if c.Breaker.SuccessThreshold < 0 {
		return fmt.Errorf("Breaker.SuccessThreshold must be non-negative, got %d", c.Breaker.SuccessThreshold)
	}
	if c.Breaker.OpenTimeout < 0 {
		return fmt.Errorf("Breaker.OpenTimeout must be non-negative, got %s", c.Breaker.OpenTimeout)
	}

	if c.Cache.TTL < 0 {
		return fmt.Errorf("Cache.TTL must be non-negative, got %s", c.Cache.TTL)
	}
	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("Cache.MaxEntries must be non-negative, got %d", c.Cache.MaxEntries)
	}
	if c.Cache.SweepInterval < 0 {
		return fmt.Errorf("Cache.SweepInterval must be non-negative, got %s", c.Cache.SweepInterval)
	}

	if c.StoreDB < 0 {
		return fmt.Errorf("StoreDB must be non-negative, got %d", c.StoreDB)
	}

	return nil
}

func (p *ProviderConfig) validate(field string) error {
	if p.MaxRequestsPerMinute < 0 {
		return fmt.Errorf("%s.MaxRequestsPerMinute must be non-negative, got %d", field, p.MaxRequestsPerMinute)
	}
	if p.MaxConcurrent < 0 {
		return fmt.Errorf("%s.MaxConcurrent must be non-negative, got %d", field, p.MaxConcurrent)
	}
	if p.DelayBetweenRequests < 0 {
		return fmt.Errorf("%s.DelayBetweenRequests must be non-negative, got %s", field, p.DelayBetweenRequests)
	}
	if p.BucketCapacity < 0 {
		return fmt.Errorf("%s.BucketCapacity must be non-negative, got %d", field, p.BucketCapacity)
	}
	if p.RefillRate < 0 {
		return fmt.Errorf("%s.RefillRate must be non-negative, got %f", field, p.RefillRate)
	}
	return nil
}

// ApplyDefaults sets safe default values for any missing or zero
// configuration values.
//
// This ensures the limiter can function even if the configuration is
// incomplete.
func (c *Config) ApplyDefaults() {
	if c.KeyPrefix == "" {
		c.KeyPrefix = "callgate"
	}

	c.DefaultProvider.applyDefaults()
	for name, pc := range c.Providers {
		pc.applyDefaults()
		c.Providers[name] = pc
	}

	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = 5
	}
	if c.Breaker.SuccessThreshold == 0 {
		c.Breaker.SuccessThreshold = 2
	}
	if c.Breaker.OpenTimeout == 0 {
		c.Breaker.OpenTimeout = 60 * time.Second
	}

	if c.Cache.TTL == 0 {
		c.Cache.TTL = 5 * time.Minute
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = 10000
	}
}

func (p *ProviderConfig) applyDefaults() {
	if p.MaxRequestsPerMinute == 0 {
		p.MaxRequestsPerMinute = 60
	}
	if p.MaxConcurrent == 0 {
		p.MaxConcurrent = 5
	}
	if p.BucketCapacity == 0 {
		p.BucketCapacity = p.MaxRequestsPerMinute / 30
		if p.BucketCapacity < 2 {
			p.BucketCapacity = 2
		}
	}
	if p.RefillRate == 0 {
		p.RefillRate = float64(p.MaxRequestsPerMinute) / 60.0
	}
}

// ProviderFor returns the configuration for the named provider, falling back
// to DefaultProvider when no override exists.
func (c *Config) ProviderFor(name string) ProviderConfig {
	if pc, ok := c.Providers[name]; ok {
		return pc
	}
	return c.DefaultProvider
}

// DefaultConfig returns a Config with safe default values and no
// coordination store (local-only mode).
//
// This is useful for testing and as a starting point for configuration.
func DefaultConfig() *Config {
	config := &Config{
		Breaker: CircuitBreakerConfig{Enabled: true},
		Cache:   CacheConfig{Enabled: true},
	}
	config.ApplyDefaults()
	return config
}
