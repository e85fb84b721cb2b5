package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jaydeelew/callgate/pkg/providerlimit"
)

// LoadLimiterConfig builds a providerlimit.Config from environment variables
// and an optional per-provider overrides file.
//
// Invalid environment values fall back to defaults with a warning so that a
// typo in one variable never prevents startup. Problems reading or parsing
// the overrides file are returned as errors because the file represents
// explicit operator intent.
//
// Environment variables:
//   - CALLGATE_STORE_ADDR: Coordination store address; empty enables local-only mode (default: "")
//   - CALLGATE_STORE_PASSWORD: Coordination store password (default: "")
//   - CALLGATE_STORE_DB: Coordination store database number (default: 0)
//   - CALLGATE_KEY_PREFIX: Namespace for coordination store keys (default: "callgate")
//   - CALLGATE_DEFAULT_RPM: Default per-provider requests per minute (default: 60)
//   - CALLGATE_DEFAULT_MAX_CONCURRENT: Default per-provider concurrent call ceiling (default: 5)
//   - CALLGATE_DEFAULT_DELAY: Default pacing delay between admissions (default: 0)
//   - CALLGATE_DEFAULT_BUCKET_CAPACITY: Default token bucket burst size; 0 derives from RPM (default: 0)
//   - CALLGATE_DEFAULT_REFILL_RATE: Default bucket refill rate in tokens/sec; 0 derives from RPM (default: 0)
//   - CALLGATE_CB_ENABLED: Enable per-provider circuit breakers (default: true)
//   - CALLGATE_CB_FAILURE_THRESHOLD: Consecutive failures before a breaker opens (default: 5)
//   - CALLGATE_CB_SUCCESS_THRESHOLD: Consecutive successes before a half-open breaker closes (default: 2)
//   - CALLGATE_CB_OPEN_TIMEOUT: How long an open breaker rejects before probing (default: 60s)
//   - CALLGATE_CACHE_ENABLED: Enable the result cache (default: true)
//   - CALLGATE_CACHE_TTL: Result cache entry lifetime (default: 5m)
//   - CALLGATE_CACHE_MAX_ENTRIES: Result cache size bound (default: 10000)
//   - CALLGATE_CACHE_SWEEP_INTERVAL: Cache janitor interval; 0 disables the janitor (default: 1m)
//   - CALLGATE_PROVIDERS_FILE: Path to a YAML file with per-provider overrides (default: "")
//
// Returns:
//   - *providerlimit.Config: Validated configuration ready for providerlimit.New
//   - error: If the overrides file cannot be read or the merged config is invalid
//
// Example:
//
//	cfg, err := config.LoadLimiterConfig()
//	if err != nil {
//	    return err
//	}
//	facade, err := providerlimit.New(cfg)
func LoadLimiterConfig() (*providerlimit.Config, error) {
	cfg := providerlimit.DefaultConfig()

	cfg.StoreAddr = GetEnvString("CALLGATE_STORE_ADDR", "")
	cfg.StorePassword = GetEnvString("CALLGATE_STORE_PASSWORD", "")
	cfg.StoreDB = GetEnvInt("CALLGATE_STORE_DB", 0)
	cfg.KeyPrefix = GetEnvString("CALLGATE_KEY_PREFIX", "callgate")

	cfg.DefaultProvider.MaxRequestsPerMinute = GetEnvInt("CALLGATE_DEFAULT_RPM", cfg.DefaultProvider.MaxRequestsPerMinute)
	cfg.DefaultProvider.MaxConcurrent = GetEnvInt("CALLGATE_DEFAULT_MAX_CONCURRENT", cfg.DefaultProvider.MaxConcurrent)
	cfg.DefaultProvider.DelayBetweenRequests = GetEnvDuration("CALLGATE_DEFAULT_DELAY", 0)
	cfg.DefaultProvider.BucketCapacity = GetEnvInt("CALLGATE_DEFAULT_BUCKET_CAPACITY", 0)
	cfg.DefaultProvider.RefillRate = GetEnvFloat("CALLGATE_DEFAULT_REFILL_RATE", 0)

	cfg.Breaker.Enabled = GetEnvBool("CALLGATE_CB_ENABLED", true)
	cfg.Breaker.FailureThreshold = GetEnvInt("CALLGATE_CB_FAILURE_THRESHOLD", cfg.Breaker.FailureThreshold)
	cfg.Breaker.SuccessThreshold = GetEnvInt("CALLGATE_CB_SUCCESS_THRESHOLD", cfg.Breaker.SuccessThreshold)
	cfg.Breaker.OpenTimeout = GetEnvDuration("CALLGATE_CB_OPEN_TIMEOUT", cfg.Breaker.OpenTimeout)

	cfg.Cache.Enabled = GetEnvBool("CALLGATE_CACHE_ENABLED", true)
	cfg.Cache.TTL = GetEnvDuration("CALLGATE_CACHE_TTL", cfg.Cache.TTL)
	cfg.Cache.MaxEntries = GetEnvInt("CALLGATE_CACHE_MAX_ENTRIES", cfg.Cache.MaxEntries)
	cfg.Cache.SweepInterval = GetEnvDuration("CALLGATE_CACHE_SWEEP_INTERVAL", time.Minute)

	if err := ValidateNonNegativeDuration(cfg.DefaultProvider.DelayBetweenRequests); err != nil {
		slog.Warn("invalid CALLGATE_DEFAULT_DELAY, using default",
			slog.String("error", err.Error()))
		cfg.DefaultProvider.DelayBetweenRequests = 0
	}

	if err := ValidatePositiveDuration(cfg.Breaker.OpenTimeout); err != nil {
		slog.Warn("invalid CALLGATE_CB_OPEN_TIMEOUT, using default",
			slog.String("error", err.Error()),
			slog.String("default", "60s"))
		cfg.Breaker.OpenTimeout = 60 * time.Second
	}

	if err := ValidatePositiveDuration(cfg.Cache.TTL); err != nil {
		slog.Warn("invalid CALLGATE_CACHE_TTL, using default",
			slog.String("error", err.Error()),
			slog.String("default", "5m"))
		cfg.Cache.TTL = 5 * time.Minute
	}

	if err := ValidateNonNegativeDuration(cfg.Cache.SweepInterval); err != nil {
		slog.Warn("invalid CALLGATE_CACHE_SWEEP_INTERVAL, disabling janitor",
			slog.String("error", err.Error()))
		cfg.Cache.SweepInterval = 0
	}

	if path := GetEnvString("CALLGATE_PROVIDERS_FILE", ""); path != "" {
		overrides, err := loadProviderOverrides(path)
		if err != nil {
			return nil, err
		}
		cfg.Providers = overrides
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("limiter config: %w", err)
	}

	return cfg, nil
}

// providersFile is the on-disk shape of the per-provider overrides file.
//
// Durations are strings in time.ParseDuration syntax ("100ms", "2s") because
// the YAML decoder has no native duration support.
type providersFile struct {
	Providers map[string]providerOverride `yaml:"providers"`
}

type providerOverride struct {
	MaxRequestsPerMinute int     `yaml:"max_requests_per_minute"`
	MaxConcurrent        int     `yaml:"max_concurrent"`
	DelayBetweenRequests string  `yaml:"delay_between_requests"`
	BucketCapacity       int     `yaml:"bucket_capacity"`
	RefillRate           float64 `yaml:"refill_rate"`
}

// loadProviderOverrides reads per-provider limit overrides from a YAML file.
//
// Example file:
//
//	providers:
//	  openai:
//	    max_requests_per_minute: 500
//	    max_concurrent: 8
//	    delay_between_requests: 100ms
//	  anthropic:
//	    max_requests_per_minute: 300
func loadProviderOverrides(path string) (map[string]providerlimit.ProviderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read providers file %s: %w", path, err)
	}

	var file providersFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse providers file %s: %w", path, err)
	}

	overrides := make(map[string]providerlimit.ProviderConfig, len(file.Providers))
	for name, entry := range file.Providers {
		pc := providerlimit.ProviderConfig{
			MaxRequestsPerMinute: entry.MaxRequestsPerMinute,
			MaxConcurrent:        entry.MaxConcurrent,
			BucketCapacity:       entry.BucketCapacity,
			RefillRate:           entry.RefillRate,
		}

		if entry.DelayBetweenRequests != "" {
			delay, err := time.ParseDuration(entry.DelayBetweenRequests)
			if err != nil {
				return nil, fmt.Errorf("providers file %s: provider %q: invalid delay_between_requests: %w", path, name, err)
			}
			if err := ValidateNonNegativeDuration(delay); err != nil {
				return nil, fmt.Errorf("providers file %s: provider %q: invalid delay_between_requests: %w", path, name, err)
			}
			pc.DelayBetweenRequests = delay
		}

		overrides[name] = pc
	}

	return overrides, nil
}
