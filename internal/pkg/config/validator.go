package config

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ValidateCronSchedule validates a cron expression using the robfig/cron/v3 parser.
// The same parser configuration backs the probe scheduler, so anything accepted
// here is guaranteed to be schedulable.
//
// Accepted formats:
//   - Standard 5-field spec: "minute hour day month weekday"
//     Example: "*/5 * * * *" (every 5 minutes)
//   - Descriptors: "@hourly", "@daily", "@every 30s"
//
// Parameters:
//   - schedule: Cron expression to validate
//
// Returns:
//   - error: nil if valid, descriptive error otherwise
//
// Error messages include the rejected expression so operators can fix the
// environment variable without digging through daemon logs.
//
// Example:
//
//	err := ValidateCronSchedule("@every 30s")
//	if err != nil {
//	    log.Error("Invalid probe schedule: %v", err)
//	}
//
// Validation tool for 5-field specs: https://crontab.guru/
func ValidateCronSchedule(schedule string) error {
	if schedule == "" {
		return fmt.Errorf("invalid cron schedule: cannot be empty")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	_, err := parser.Parse(schedule)
	if err != nil {
		return fmt.Errorf("invalid cron schedule '%s': %w", schedule, err)
	}

	return nil
}

// ValidateTimezone validates a timezone string by attempting to load it
// using the standard library time.LoadLocation function.
//
// The timezone must be a valid IANA timezone name:
//   - Example: "UTC"
//   - Example: "America/New_York"
//   - Example: "Asia/Tokyo"
//
// Loading depends on timezone data being available on the host. A minimal
// container image without the tzdata package will fail this validation for
// every name except "UTC" and "Local".
//
// Parameters:
//   - timezone: IANA timezone name to validate
//
// Returns:
//   - error: nil if valid and loadable, descriptive error otherwise
//
// Example:
//
//	err := ValidateTimezone("UTC")
//	if err != nil {
//	    log.Error("Invalid timezone: %v", err)
//	}
//
// Common issues:
//   - Missing tzdata package in Docker image
//   - Using UTC offset instead of IANA name (e.g., "+09:00" instead of "Asia/Tokyo")
//
// Timezone database: https://www.iana.org/time-zones
func ValidateTimezone(timezone string) error {
	if timezone == "" {
		return fmt.Errorf("invalid timezone: cannot be empty")
	}

	_, err := time.LoadLocation(timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone '%s': %w", timezone, err)
	}

	return nil
}

// ValidateDuration validates that a duration is within a specified range.
// Both bounds are inclusive.
//
// Parameters:
//   - duration: Duration value to validate
//   - min: Minimum allowed duration (inclusive)
//   - max: Maximum allowed duration (inclusive)
//
// Returns:
//   - error: nil if valid, descriptive error otherwise
//
// Error messages include the actual value and the violated bound so the
// limits are visible without reading code.
//
// Example:
//
//	// Probe call timeouts between 1s and 5m
//	err := ValidateDuration(10*time.Second, 1*time.Second, 5*time.Minute)
//
// Use cases:
//   - Probe call timeout validation (too short starves slow providers,
//     too long stalls the whole probe run)
//   - Shutdown timeout validation
func ValidateDuration(duration, min, max time.Duration) error {
	if min > max {
		return fmt.Errorf("invalid range: min (%v) cannot be greater than max (%v)", min, max)
	}

	if duration < min {
		return fmt.Errorf("duration %v is below minimum %v", duration, min)
	}

	if duration > max {
		return fmt.Errorf("duration %v exceeds maximum %v", duration, max)
	}

	return nil
}

// ValidateIntRange validates that an integer value is within a specified range.
// Both bounds are inclusive.
//
// Parameters:
//   - value: Integer value to validate
//   - min: Minimum allowed value (inclusive)
//   - max: Maximum allowed value (inclusive)
//
// Returns:
//   - error: nil if valid, descriptive error otherwise
//
// Example:
//
//	// Result window between 1 and 10000 samples
//	err := ValidateIntRange(120, 1, 10000)
//
// Use cases:
//   - Probe result window sizing
//   - Port number validation (e.g., 1024-65535)
//   - Per-provider requests-per-minute overrides
func ValidateIntRange(value, min, max int) error {
	if min > max {
		return fmt.Errorf("invalid range: min (%d) cannot be greater than max (%d)", min, max)
	}

	if value < min {
		return fmt.Errorf("value %d is below minimum %d", value, min)
	}

	if value > max {
		return fmt.Errorf("value %d exceeds maximum %d", value, max)
	}

	return nil
}

// ValidatePositiveDuration validates that a duration is strictly positive.
// This is the common check for timeouts and intervals where zero means
// "disabled" or "infinite" and both are configuration mistakes here.
//
// Parameters:
//   - duration: Duration value to validate
//
// Returns:
//   - error: nil if positive, descriptive error otherwise
//
// Example:
//
//	err := ValidatePositiveDuration(15 * time.Second)
//	if err != nil {
//	    log.Error("Invalid shutdown timeout: %v", err)
//	}
func ValidatePositiveDuration(duration time.Duration) error {
	if duration <= 0 {
		return fmt.Errorf("duration must be positive, got %v", duration)
	}

	return nil
}
