package prober

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jaydeelew/callgate/internal/pkg/config"
)

// ProberConfig holds the configuration for the connectivity prober.
// This configuration controls the probe schedule, timezone, prompt text,
// per-call timeout, and the size of the sliding result window the SLO
// gauges are computed over.
//
// Configuration sources:
//   - Environment variables (loaded via LoadConfigFromEnv)
//   - Default values (provided by DefaultConfig)
//
// All fields have sensible defaults and validation rules so the prober can
// operate safely even with invalid or missing configuration. Whether the
// prober runs at all, and which providers it targets, is deployment-critical
// and lives in the daemon config (internal/config) instead.
//
// Example usage:
//
//	// Use defaults
//	config := DefaultConfig()
//
//	// Load from environment with fallback
//	config, err := LoadConfigFromEnv(logger, metrics)
//	if err != nil {
//	    // This should never happen with fail-open strategy
//	    log.Fatal("Unexpected configuration error: %v", err)
//	}
type ProberConfig struct {
	// Schedule is the cron expression for probe scheduling.
	// Standard 5-field expressions and descriptors are both accepted.
	// Example: "@every 30s", "*/2 * * * *"
	// Validation: Must parse as a cron schedule
	// Default: "@every 30s"
	Schedule string

	// Timezone is the IANA timezone name for cron scheduling.
	// Example: "UTC", "Asia/Tokyo", "America/New_York"
	// Validation: Must be a valid IANA timezone name
	// Default: "UTC"
	Timezone string

	// Prompt is the text each probe sends through the gate. Kept short so
	// probes stay cheap against token budgets.
	// Default: "connectivity probe"
	Prompt string

	// CallTimeout is the maximum duration for a single probe call,
	// admission wait included.
	// Range: 1s-5m
	// Default: 10 seconds
	CallTimeout time.Duration

	// WindowSize is the number of recent probe results retained for SLO
	// computation. Older results fall off the window.
	// Range: 1-10000
	// Default: 120 (an hour of two-provider probes at the default schedule)
	WindowSize int
}

// DefaultConfig returns a ProberConfig with sensible default values.
// These defaults are optimized for:
//   - Freshness: a probe every 30 seconds keeps breaker and SLO data current
//   - Cost: a short fixed prompt keeps probes cheap against provider quotas
//   - Safety: a 10-second timeout stops probes from piling up behind a
//     slow provider
//
// Returns:
//   - ProberConfig with production-ready default values
//
// Example:
//
//	config := DefaultConfig()
//	config.Schedule = "@every 5m"  // Probe less often in quiet environments
func DefaultConfig() ProberConfig {
	return ProberConfig{
		Schedule:    "@every 30s",
		Timezone:    "UTC",
		Prompt:      "connectivity probe",
		CallTimeout: 10 * time.Second,
		WindowSize:  120,
	}
}

// Validate checks if the configuration values are valid.
// This method validates each field using the reusable validators from
// internal/pkg/config. If multiple fields are invalid, all errors are
// collected and returned together.
//
// Validation rules:
//   - Schedule: Must parse as a cron expression or descriptor
//   - Timezone: Must be a valid IANA timezone name
//   - CallTimeout: Must be between 1s and 5m (inclusive)
//   - WindowSize: Must be between 1 and 10000 (inclusive)
//
// Returns:
//   - error: nil if configuration is valid, aggregated error if any validation fails
func (c *ProberConfig) Validate() error {
	var errors []error

	// Validate Schedule
	if err := config.ValidateCronSchedule(c.Schedule); err != nil {
		errors = append(errors, fmt.Errorf("schedule: %w", err))
	}

	// Validate Timezone
	if err := config.ValidateTimezone(c.Timezone); err != nil {
		errors = append(errors, fmt.Errorf("timezone: %w", err))
	}

	// Validate CallTimeout (range: 1s-5m)
	if err := config.ValidateDuration(c.CallTimeout, 1*time.Second, 5*time.Minute); err != nil {
		errors = append(errors, fmt.Errorf("call timeout: %w", err))
	}

	// Validate WindowSize (range: 1-10000)
	if err := config.ValidateIntRange(c.WindowSize, 1, 10000); err != nil {
		errors = append(errors, fmt.Errorf("window size: %w", err))
	}

	// Return aggregated errors
	if len(errors) > 0 {
		return fmt.Errorf("validation failed: %v", errors)
	}

	return nil
}

// LoadConfigFromEnv loads prober configuration from environment variables
// with validation and automatic fallback to default values on failure.
//
// This function implements the fail-open strategy:
//  1. Start with DefaultConfig() as base
//  2. Load each field from environment variables
//  3. Validate each loaded value
//  4. If validation fails: use default value, log warning, increment metrics
//  5. Never return error - always return a valid configuration
//
// Environment variables:
//   - PROBE_SCHEDULE: Cron expression or descriptor (default: "@every 30s")
//   - PROBE_TIMEZONE: IANA timezone name (default: "UTC")
//   - PROBE_PROMPT: Probe prompt text (default: "connectivity probe")
//   - PROBE_CALL_TIMEOUT: Duration string, e.g., "10s" (default: 10 seconds)
//   - PROBE_WINDOW_SIZE: Integer 1-10000 (default: 120)
//
// Metrics updated:
//   - ValidationErrorsTotal: Incremented for each validation failure
//   - FallbacksTotal: Incremented for each fallback applied
//   - FallbackActive: Set to 1 if any fallback is active, 0 otherwise
//   - LoadTimestamp: Set to current time after successful load
//
// Parameters:
//   - logger: Structured logger for warnings
//   - metrics: Metrics instance for tracking fallbacks
//
// Returns:
//   - *ProberConfig: Valid configuration (never nil)
//   - error: Always nil (fail-open strategy)
//
// Example:
//
//	logger := slog.Default()
//	metrics := NewProbeMetrics()
//	config, _ := LoadConfigFromEnv(logger, metrics)
//	// config is always valid and ready to use
func LoadConfigFromEnv(logger *slog.Logger, metrics *ProbeMetrics) (*ProberConfig, error) {
	// Start with default config
	cfg := DefaultConfig()
	fallbackApplied := false

	// Load Schedule
	result := config.LoadEnvWithFallback("PROBE_SCHEDULE", cfg.Schedule, config.ValidateCronSchedule)
	cfg.Schedule = result.Value.(string)
	if result.FallbackApplied {
		fallbackApplied = true
		metrics.RecordValidationError("schedule")
		metrics.RecordFallback("schedule")
		for _, warning := range result.Warnings {
			logger.Warn("Configuration fallback applied",
				slog.String("field", "Schedule"),
				slog.String("warning", warning))
		}
	}

	// Load Timezone
	result = config.LoadEnvWithFallback("PROBE_TIMEZONE", cfg.Timezone, config.ValidateTimezone)
	cfg.Timezone = result.Value.(string)
	if result.FallbackApplied {
		fallbackApplied = true
		metrics.RecordValidationError("timezone")
		metrics.RecordFallback("timezone")
		for _, warning := range result.Warnings {
			logger.Warn("Configuration fallback applied",
				slog.String("field", "Timezone"),
				slog.String("warning", warning))
		}
	}

	// Load Prompt (free text, no validation)
	cfg.Prompt = config.LoadEnvString("PROBE_PROMPT", cfg.Prompt)

	// Load CallTimeout (with 1s-5m range limit)
	result = config.LoadEnvDuration("PROBE_CALL_TIMEOUT", cfg.CallTimeout, func(d time.Duration) error {
		return config.ValidateDuration(d, 1*time.Second, 5*time.Minute)
	})
	cfg.CallTimeout = result.Value.(time.Duration)
	if result.FallbackApplied {
		fallbackApplied = true
		metrics.RecordValidationError("call_timeout")
		metrics.RecordFallback("call_timeout")
		for _, warning := range result.Warnings {
			logger.Warn("Configuration fallback applied",
				slog.String("field", "CallTimeout"),
				slog.String("warning", warning))
		}
	}

	// Load WindowSize
	result = config.LoadEnvInt("PROBE_WINDOW_SIZE", cfg.WindowSize, func(v int) error {
		return config.ValidateIntRange(v, 1, 10000)
	})
	cfg.WindowSize = result.Value.(int)
	if result.FallbackApplied {
		fallbackApplied = true
		metrics.RecordValidationError("window_size")
		metrics.RecordFallback("window_size")
		for _, warning := range result.Warnings {
			logger.Warn("Configuration fallback applied",
				slog.String("field", "WindowSize"),
				slog.String("warning", warning))
		}
	}

	// Update metrics
	metrics.SetFallbackActive(fallbackApplied)
	metrics.RecordLoadTimestamp()

	// Always return valid config (fail-open strategy)
	return &cfg, nil
}
