package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// knownCallers are the provider caller names the daemon can construct.
var knownCallers = map[string]bool{
	"anthropic": true,
	"openai":    true,
	"noop":      true,
}

// GatedConfig holds configuration for the gate daemon.
type GatedConfig struct {
	// OpsAddr is the operational HTTP listen address serving metrics,
	// health, and gate statistics.
	// Format: "host:port" or ":port" (e.g., ":9090")
	// Default: ":9090"
	OpsAddr string

	// Callers lists the provider callers to construct on startup.
	// Valid entries: "anthropic", "openai", "noop".
	// Default: ["noop"]
	Callers []string

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 15 seconds
	ShutdownTimeout time.Duration

	// Probe configures the synthetic admission probe.
	Probe ProbeConfig
}

// ProbeConfig holds synthetic probe settings. The probe periodically sends
// a cheap request through each configured caller so admission behavior and
// SLO gauges stay populated even when the embedding application is idle.
//
// Only the deployment-critical switches live here: a probe targeting an
// unconfigured caller is a wiring mistake that must fail startup. Tuning
// knobs (schedule, prompt, call timeout, window size) load fail-open from
// the PROBE_* environment variables in the prober package.
type ProbeConfig struct {
	// Enabled controls whether the probe scheduler runs.
	// Default: true
	Enabled bool

	// Providers to probe. Each entry must also appear in Callers.
	// Default: all configured callers.
	Providers []string
}

// LoadGatedConfig loads daemon configuration from environment variables.
// Returns a config with defaults if environment variables are not set.
func LoadGatedConfig() (*GatedConfig, error) {
	callers := getEnvList("GATED_CALLERS", []string{"noop"})

	config := &GatedConfig{
		OpsAddr:         getEnvOrDefault("GATED_OPS_ADDR", ":9090"),
		Callers:         callers,
		ShutdownTimeout: getEnvDuration("GATED_SHUTDOWN_TIMEOUT", 15*time.Second),
		Probe: ProbeConfig{
			Enabled:   getEnvBool("GATED_PROBE_ENABLED", true),
			Providers: getEnvList("GATED_PROBE_PROVIDERS", callers),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid gated configuration: %w", err)
	}

	return config, nil
}

// Validate checks configuration correctness.
func (c *GatedConfig) Validate() error {
	if c.OpsAddr == "" {
		return fmt.Errorf("GATED_OPS_ADDR cannot be empty")
	}

	if len(c.Callers) == 0 {
		return fmt.Errorf("GATED_CALLERS cannot be empty")
	}

	for _, name := range c.Callers {
		if !knownCallers[name] {
			return fmt.Errorf("GATED_CALLERS contains unknown caller %q (valid: anthropic, openai, noop)", name)
		}
	}

	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("GATED_SHUTDOWN_TIMEOUT must be positive")
	}

	if !c.Probe.Enabled {
		return nil
	}

	configured := make(map[string]bool, len(c.Callers))
	for _, name := range c.Callers {
		configured[name] = true
	}
	for _, name := range c.Probe.Providers {
		if !configured[name] {
			return fmt.Errorf("GATED_PROBE_PROVIDERS contains %q which is not in GATED_CALLERS", name)
		}
	}

	return nil
}

// getEnvOrDefault returns environment variable value or default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool parses boolean environment variable with default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration parses duration environment variable with default.
// Supports formats like "30s", "1m", "2h".
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvList parses a comma-separated environment variable with default.
// Entries are trimmed and empty entries dropped.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
