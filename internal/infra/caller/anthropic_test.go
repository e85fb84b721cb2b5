package caller_test

import (
	"os"
	"testing"
	"time"

	"github.com/jaydeelew/callgate/internal/infra/caller"
)

/* ───────── Configuration Loading Tests ───────── */

// TestLoadAnthropicConfig_DefaultValue tests that default values are used when env vars are not set
func TestLoadAnthropicConfig_DefaultValue(t *testing.T) {
	// Arrange: Clear environment variables
	_ = os.Unsetenv("CALLER_MAX_TOKENS")
	_ = os.Unsetenv("CALLER_ANTHROPIC_MODEL")

	// Act
	config := caller.LoadAnthropicConfig()

	// Assert
	if config.MaxTokens != 1024 {
		t.Errorf("Expected default MaxTokens=1024, got %d", config.MaxTokens)
	}
	if config.Model == "" {
		t.Error("Expected non-empty default model")
	}
	if config.Timeout != 60*time.Second {
		t.Errorf("Expected Timeout=60s, got %v", config.Timeout)
	}
}

// TestLoadAnthropicConfig_CustomValue tests that custom value is loaded from environment variable
func TestLoadAnthropicConfig_CustomValue(t *testing.T) {
	// Arrange: Set custom token cap
	_ = os.Setenv("CALLER_MAX_TOKENS", "4096")
	defer func() { _ = os.Unsetenv("CALLER_MAX_TOKENS") }()

	// Act
	config := caller.LoadAnthropicConfig()

	// Assert
	if config.MaxTokens != 4096 {
		t.Errorf("Expected MaxTokens=4096, got %d", config.MaxTokens)
	}
}

// TestLoadAnthropicConfig_ModelOverride tests that the model env var overrides the default
func TestLoadAnthropicConfig_ModelOverride(t *testing.T) {
	// Arrange
	_ = os.Setenv("CALLER_ANTHROPIC_MODEL", "claude-haiku-4-5")
	defer func() { _ = os.Unsetenv("CALLER_ANTHROPIC_MODEL") }()

	// Act
	config := caller.LoadAnthropicConfig()

	// Assert
	if config.Model != "claude-haiku-4-5" {
		t.Errorf("Expected Model=claude-haiku-4-5, got %s", config.Model)
	}
}

// TestLoadAnthropicConfig_InvalidValue tests that invalid format falls back to default
func TestLoadAnthropicConfig_InvalidValue(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"non-numeric", "invalid"},
		{"with letters", "1024abc"},
		{"special chars", "!@#$"},
		{"empty string", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			if tt.value == "" {
				_ = os.Unsetenv("CALLER_MAX_TOKENS")
			} else {
				_ = os.Setenv("CALLER_MAX_TOKENS", tt.value)
			}
			defer func() { _ = os.Unsetenv("CALLER_MAX_TOKENS") }()

			// Act
			config := caller.LoadAnthropicConfig()

			// Assert
			if config.MaxTokens != 1024 {
				t.Errorf("Expected fallback to default (1024), got %d", config.MaxTokens)
			}
		})
	}
}

// TestLoadAnthropicConfig_OutOfRange tests that out-of-range values fall back to default
func TestLoadAnthropicConfig_OutOfRange(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"zero", "0"},
		{"negative", "-100"},
		{"above maximum", "32769"},
		{"far above maximum", "100000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			_ = os.Setenv("CALLER_MAX_TOKENS", tt.value)
			defer func() { _ = os.Unsetenv("CALLER_MAX_TOKENS") }()

			// Act
			config := caller.LoadAnthropicConfig()

			// Assert
			if config.MaxTokens != 1024 {
				t.Errorf("Expected fallback to default (1024), got %d", config.MaxTokens)
			}
		})
	}
}

// TestLoadAnthropicConfig_BoundaryValues tests values at the edges of the valid range
func TestLoadAnthropicConfig_BoundaryValues(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		expected int
	}{
		{"minimum valid", "1", 1},
		{"maximum valid", "32768", 32768},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			_ = os.Setenv("CALLER_MAX_TOKENS", tt.value)
			defer func() { _ = os.Unsetenv("CALLER_MAX_TOKENS") }()

			// Act
			config := caller.LoadAnthropicConfig()

			// Assert
			if config.MaxTokens != tt.expected {
				t.Errorf("Expected MaxTokens=%d, got %d", tt.expected, config.MaxTokens)
			}
		})
	}
}
