package config

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ConfigMetrics provides parameterized Prometheus metrics for configuration
// loading. Components that load fail-open configuration (currently the
// prober) embed one of these so operators can alert on a daemon that is
// silently running on defaults.
//
// Metrics generated (parameterized by component name):
//   - {component}_config_load_timestamp: Unix timestamp of last configuration load
//   - {component}_config_validation_errors_total: Total validation errors by field
//   - {component}_config_fallbacks_total: Total fallback operations by field
//   - {component}_config_fallback_active: 1 if any fallback active, 0 otherwise
//
// Example usage:
//
//	metrics := config.NewConfigMetrics("prober")
//
//	// After loading configuration
//	metrics.RecordLoadTimestamp()
//
//	// When a field fails validation and falls back
//	metrics.RecordValidationError("schedule")
//	metrics.RecordFallback("schedule")
//
//	// After processing every field
//	metrics.SetFallbackActive(anyFallback)
type ConfigMetrics struct {
	// LoadTimestamp records the Unix timestamp of the last configuration load.
	// Type: Gauge
	LoadTimestamp prometheus.Gauge

	// ValidationErrorsTotal counts configuration validation errors by field.
	// Type: Counter
	// Labels: field (e.g., "schedule", "timezone", "call_timeout")
	ValidationErrorsTotal *prometheus.CounterVec

	// FallbacksTotal counts fallback operations by field.
	// Type: Counter
	// Labels: field
	FallbacksTotal *prometheus.CounterVec

	// FallbackActive indicates whether any fallback is currently active.
	// Type: Gauge
	// Values: 1 (fallback active), 0 (all fields using configured values)
	FallbackActive prometheus.Gauge

	componentName string
}

// NewConfigMetrics creates a new ConfigMetrics instance with component-specific
// metric names. The component name prefixes every metric so multiple
// components can each carry their own set without colliding.
//
// Parameters:
//   - componentName: The name of the component (e.g., "prober")
//
// Returns:
//   - *ConfigMetrics: Initialized metrics, registered with the default registry
//
// Example:
//
//	proberMetrics := config.NewConfigMetrics("prober")
//	// Creates: prober_config_load_timestamp, prober_config_validation_errors_total, ...
//
// Note: Metrics are registered via promauto with the Prometheus default
// registry. Creating two instances with the same component name panics;
// construct once at startup and share.
func NewConfigMetrics(componentName string) *ConfigMetrics {
	return &ConfigMetrics{
		LoadTimestamp: promauto.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_config_load_timestamp", componentName),
			Help: fmt.Sprintf("Unix timestamp of last %s configuration load", componentName),
		}),

		ValidationErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_config_validation_errors_total", componentName),
			Help: fmt.Sprintf("Total number of %s configuration validation errors", componentName),
		}, []string{"field"}),

		FallbacksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_config_fallbacks_total", componentName),
			Help: fmt.Sprintf("Total number of %s configuration fallback operations", componentName),
		}, []string{"field"}),

		FallbackActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_config_fallback_active", componentName),
			Help: fmt.Sprintf("1 if any %s configuration fallback is active, 0 otherwise", componentName),
		}),

		componentName: componentName,
	}
}

// RecordLoadTimestamp records the current time as the configuration load
// timestamp. Call whenever configuration is loaded or reloaded.
func (m *ConfigMetrics) RecordLoadTimestamp() {
	m.LoadTimestamp.SetToCurrentTime()
}

// RecordValidationError increments the validation error counter for a field.
// Call whenever a configuration value fails validation.
//
// Parameters:
//   - field: The name of the configuration field that failed validation
func (m *ConfigMetrics) RecordValidationError(field string) {
	m.ValidationErrorsTotal.WithLabelValues(field).Inc()
}

// RecordFallback increments the fallback counter for a field.
// Call whenever a default is substituted for an invalid value.
//
// Parameters:
//   - field: The name of the configuration field that triggered fallback
func (m *ConfigMetrics) RecordFallback(field string) {
	m.FallbacksTotal.WithLabelValues(field).Inc()
}

// SetFallbackActive sets the fallback active gauge. Set true if any field is
// running on its default due to a failure, false once all fields load clean.
//
// Parameters:
//   - active: true if any fallback is active, false otherwise
//
// Example:
//
//	cfg, _ := LoadConfigFromEnv(logger, metrics)
//	metrics.SetFallbackActive(anyFieldFellBack)
func (m *ConfigMetrics) SetFallbackActive(active bool) {
	if active {
		m.FallbackActive.Set(1)
	} else {
		m.FallbackActive.Set(0)
	}
}
