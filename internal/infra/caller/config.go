package caller

import (
	"fmt"
	"time"
)

// CallerConfig is a common interface for provider caller configuration.
// Both Anthropic and OpenAI implementations should implement this interface
// to ensure consistent validation and configuration behavior.
type CallerConfig interface {
	// GetModel returns the provider model identifier used for calls.
	GetModel() string

	// GetMaxTokens returns the response token cap applied when a request
	// does not override it. The cap should be within the valid range
	// (1-32768).
	GetMaxTokens() int

	// GetTimeout returns the maximum duration for a single call
	// including retries.
	GetTimeout() time.Duration

	// Validate validates the configuration and returns an error if invalid.
	// This should check all configuration fields for validity.
	Validate() error
}

const (
	// minTokenCap is the minimum allowed response token cap.
	minTokenCap = 1

	// maxTokenCap is the maximum allowed response token cap.
	maxTokenCap = 32768
)

// ValidateMaxTokens validates that the response token cap is within the valid range (1-32768).
// Returns an error if the cap is out of range with a descriptive message.
//
// Parameters:
//   - tokens: The token cap to validate
//
// Returns:
//   - nil if the cap is valid
//   - error if the cap is outside the valid range
//
// Example:
//
//	err := ValidateMaxTokens(1024)  // nil (valid)
//	err := ValidateMaxTokens(0)     // error: "max tokens 0 is below minimum 1"
//	err := ValidateMaxTokens(50000) // error: "max tokens 50000 exceeds maximum 32768"
func ValidateMaxTokens(tokens int) error {
	if tokens < minTokenCap {
		return fmt.Errorf("max tokens %d is below minimum %d", tokens, minTokenCap)
	}
	if tokens > maxTokenCap {
		return fmt.Errorf("max tokens %d exceeds maximum %d", tokens, maxTokenCap)
	}
	return nil
}
