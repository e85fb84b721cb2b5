package config

import (
	"fmt"
	"time"
)

// ValidatePositiveDuration validates that a duration is greater than zero.
//
// Used for the knobs that make no sense at zero: the breaker's open timeout
// and the cache TTL.
//
// Example:
//
//	if err := ValidatePositiveDuration(cfg.Breaker.OpenTimeout); err != nil {
//	    return fmt.Errorf("invalid CALLGATE_CB_OPEN_TIMEOUT: %w", err)
//	}
func ValidatePositiveDuration(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("duration must be positive, got %v", d)
	}
	return nil
}

// ValidateNonNegativeDuration validates that a duration is zero or greater.
//
// Used for the knobs where zero means "off": per-provider pacing delays and
// the cache sweep interval.
//
// Example:
//
//	if err := ValidateNonNegativeDuration(delay); err != nil {
//	    return fmt.Errorf("invalid delay_between_requests: %w", err)
//	}
func ValidateNonNegativeDuration(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("duration must be non-negative, got %v", d)
	}
	return nil
}
