package config

import (
	"reflect"
	"testing"
	"time"
)

func TestGetEnvString(t *testing.T) {
	tests := []struct {
		name         string
		value        string
		defaultValue string
		expected     string
	}{
		{
			name:         "returns value when set",
			value:        "redis:6379",
			defaultValue: "localhost:6379",
			expected:     "redis:6379",
		},
		{
			name:         "returns default when unset",
			value:        "",
			defaultValue: "localhost:6379",
			expected:     "localhost:6379",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_ENV_STRING", tt.value)

			got := GetEnvString("TEST_ENV_STRING", tt.defaultValue)
			if got != tt.expected {
				t.Errorf("GetEnvString() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestGetEnvInt(t *testing.T) {
	tests := []struct {
		name         string
		value        string
		defaultValue int
		expected     int
	}{
		{
			name:         "parses valid integer",
			value:        "120",
			defaultValue: 60,
			expected:     120,
		},
		{
			name:         "returns default when unset",
			value:        "",
			defaultValue: 60,
			expected:     60,
		},
		{
			name:         "returns default on invalid value",
			value:        "not-a-number",
			defaultValue: 60,
			expected:     60,
		},
		{
			name:         "parses negative integer",
			value:        "-5",
			defaultValue: 0,
			expected:     -5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_ENV_INT", tt.value)

			got := GetEnvInt("TEST_ENV_INT", tt.defaultValue)
			if got != tt.expected {
				t.Errorf("GetEnvInt() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestGetEnvFloat(t *testing.T) {
	tests := []struct {
		name         string
		value        string
		defaultValue float64
		expected     float64
	}{
		{
			name:         "parses valid float",
			value:        "8.5",
			defaultValue: 1.0,
			expected:     8.5,
		},
		{
			name:         "parses integer as float",
			value:        "3",
			defaultValue: 1.0,
			expected:     3.0,
		},
		{
			name:         "returns default when unset",
			value:        "",
			defaultValue: 1.0,
			expected:     1.0,
		},
		{
			name:         "returns default on invalid value",
			value:        "fast",
			defaultValue: 1.0,
			expected:     1.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_ENV_FLOAT", tt.value)

			got := GetEnvFloat("TEST_ENV_FLOAT", tt.defaultValue)
			if got != tt.expected {
				t.Errorf("GetEnvFloat() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name         string
		value        string
		defaultValue bool
		expected     bool
	}{
		{name: "true lowercase", value: "true", defaultValue: false, expected: true},
		{name: "true numeric", value: "1", defaultValue: false, expected: true},
		{name: "true single letter", value: "t", defaultValue: false, expected: true},
		{name: "false lowercase", value: "false", defaultValue: true, expected: false},
		{name: "false numeric", value: "0", defaultValue: true, expected: false},
		{name: "unset returns default", value: "", defaultValue: true, expected: true},
		{name: "invalid returns default", value: "yes", defaultValue: false, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_ENV_BOOL", tt.value)

			got := GetEnvBool("TEST_ENV_BOOL", tt.defaultValue)
			if got != tt.expected {
				t.Errorf("GetEnvBool() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name         string
		value        string
		defaultValue time.Duration
		expected     time.Duration
	}{
		{
			name:         "parses seconds",
			value:        "30s",
			defaultValue: time.Minute,
			expected:     30 * time.Second,
		},
		{
			name:         "parses compound duration",
			value:        "1h30m",
			defaultValue: time.Minute,
			expected:     90 * time.Minute,
		},
		{
			name:         "returns default when unset",
			value:        "",
			defaultValue: time.Minute,
			expected:     time.Minute,
		},
		{
			name:         "returns default on bare number",
			value:        "30",
			defaultValue: time.Minute,
			expected:     time.Minute,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_ENV_DURATION", tt.value)

			got := GetEnvDuration("TEST_ENV_DURATION", tt.defaultValue)
			if got != tt.expected {
				t.Errorf("GetEnvDuration() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestGetEnvStringList(t *testing.T) {
	tests := []struct {
		name         string
		value        string
		defaultValue []string
		expected     []string
	}{
		{
			name:         "splits on comma",
			value:        "openai,anthropic",
			defaultValue: nil,
			expected:     []string{"openai", "anthropic"},
		},
		{
			name:         "trims whitespace",
			value:        " openai , anthropic ",
			defaultValue: nil,
			expected:     []string{"openai", "anthropic"},
		},
		{
			name:         "filters empty entries",
			value:        "openai,,anthropic,",
			defaultValue: nil,
			expected:     []string{"openai", "anthropic"},
		},
		{
			name:         "returns default when unset",
			value:        "",
			defaultValue: []string{"openai"},
			expected:     []string{"openai"},
		},
		{
			name:         "returns default when only separators",
			value:        ", ,",
			defaultValue: []string{"openai"},
			expected:     []string{"openai"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_ENV_LIST", tt.value)

			got := GetEnvStringList("TEST_ENV_LIST", tt.defaultValue)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("GetEnvStringList() = %v, want %v", got, tt.expected)
			}
		})
	}
}
