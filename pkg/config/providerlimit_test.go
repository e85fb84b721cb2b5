package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/jaydeelew/callgate/pkg/providerlimit"
)

// clearLimiterEnv blanks every variable LoadLimiterConfig reads so tests
// are not affected by the ambient environment.
func clearLimiterEnv(t *testing.T) {
	t.Helper()
	vars := []string{
		"CALLGATE_STORE_ADDR",
		"CALLGATE_STORE_PASSWORD",
		"CALLGATE_STORE_DB",
		"CALLGATE_KEY_PREFIX",
		"CALLGATE_DEFAULT_RPM",
		"CALLGATE_DEFAULT_MAX_CONCURRENT",
		"CALLGATE_DEFAULT_DELAY",
		"CALLGATE_DEFAULT_BUCKET_CAPACITY",
		"CALLGATE_DEFAULT_REFILL_RATE",
		"CALLGATE_CB_ENABLED",
		"CALLGATE_CB_FAILURE_THRESHOLD",
		"CALLGATE_CB_SUCCESS_THRESHOLD",
		"CALLGATE_CB_OPEN_TIMEOUT",
		"CALLGATE_CACHE_ENABLED",
		"CALLGATE_CACHE_TTL",
		"CALLGATE_CACHE_MAX_ENTRIES",
		"CALLGATE_CACHE_SWEEP_INTERVAL",
		"CALLGATE_PROVIDERS_FILE",
	}
	for _, v := range vars {
		t.Setenv(v, "")
	}
}

func TestLoadLimiterConfig_Defaults(t *testing.T) {
	clearLimiterEnv(t)

	cfg, err := LoadLimiterConfig()
	if err != nil {
		t.Fatalf("LoadLimiterConfig() error = %v", err)
	}

	if cfg.StoreAddr != "" {
		t.Errorf("StoreAddr = %q, want empty (local-only)", cfg.StoreAddr)
	}
	if cfg.KeyPrefix != "callgate" {
		t.Errorf("KeyPrefix = %q, want %q", cfg.KeyPrefix, "callgate")
	}
	if cfg.DefaultProvider.MaxRequestsPerMinute != 60 {
		t.Errorf("DefaultProvider.MaxRequestsPerMinute = %d, want 60", cfg.DefaultProvider.MaxRequestsPerMinute)
	}
	if cfg.DefaultProvider.MaxConcurrent != 5 {
		t.Errorf("DefaultProvider.MaxConcurrent = %d, want 5", cfg.DefaultProvider.MaxConcurrent)
	}
	if !cfg.Breaker.Enabled {
		t.Error("Breaker.Enabled = false, want true")
	}
	if cfg.Breaker.FailureThreshold != 5 {
		t.Errorf("Breaker.FailureThreshold = %d, want 5", cfg.Breaker.FailureThreshold)
	}
	if cfg.Breaker.OpenTimeout != 60*time.Second {
		t.Errorf("Breaker.OpenTimeout = %v, want 60s", cfg.Breaker.OpenTimeout)
	}
	if !cfg.Cache.Enabled {
		t.Error("Cache.Enabled = false, want true")
	}
	if cfg.Cache.TTL != 5*time.Minute {
		t.Errorf("Cache.TTL = %v, want 5m", cfg.Cache.TTL)
	}
	if cfg.Cache.MaxEntries != 10000 {
		t.Errorf("Cache.MaxEntries = %d, want 10000", cfg.Cache.MaxEntries)
	}
	if cfg.Cache.SweepInterval != time.Minute {
		t.Errorf("Cache.SweepInterval = %v, want 1m", cfg.Cache.SweepInterval)
	}
}

func TestLoadLimiterConfig_EnvOverrides(t *testing.T) {
	clearLimiterEnv(t)
	t.Setenv("CALLGATE_STORE_ADDR", "redis:6379")
	t.Setenv("CALLGATE_STORE_PASSWORD", "secret")
	t.Setenv("CALLGATE_STORE_DB", "2")
	t.Setenv("CALLGATE_KEY_PREFIX", "gate")
	t.Setenv("CALLGATE_DEFAULT_RPM", "300")
	t.Setenv("CALLGATE_DEFAULT_MAX_CONCURRENT", "8")
	t.Setenv("CALLGATE_DEFAULT_DELAY", "100ms")
	t.Setenv("CALLGATE_CB_ENABLED", "false")
	t.Setenv("CALLGATE_CACHE_TTL", "90s")

	cfg, err := LoadLimiterConfig()
	if err != nil {
		t.Fatalf("LoadLimiterConfig() error = %v", err)
	}

	if cfg.StoreAddr != "redis:6379" {
		t.Errorf("StoreAddr = %q, want %q", cfg.StoreAddr, "redis:6379")
	}
	if cfg.StorePassword != "secret" {
		t.Errorf("StorePassword = %q, want %q", cfg.StorePassword, "secret")
	}
	if cfg.StoreDB != 2 {
		t.Errorf("StoreDB = %d, want 2", cfg.StoreDB)
	}
	if cfg.KeyPrefix != "gate" {
		t.Errorf("KeyPrefix = %q, want %q", cfg.KeyPrefix, "gate")
	}
	if cfg.DefaultProvider.MaxRequestsPerMinute != 300 {
		t.Errorf("DefaultProvider.MaxRequestsPerMinute = %d, want 300", cfg.DefaultProvider.MaxRequestsPerMinute)
	}
	if cfg.DefaultProvider.MaxConcurrent != 8 {
		t.Errorf("DefaultProvider.MaxConcurrent = %d, want 8", cfg.DefaultProvider.MaxConcurrent)
	}
	if cfg.DefaultProvider.DelayBetweenRequests != 100*time.Millisecond {
		t.Errorf("DefaultProvider.DelayBetweenRequests = %v, want 100ms", cfg.DefaultProvider.DelayBetweenRequests)
	}
	// Bucket parameters are derived from the overridden RPM.
	if cfg.DefaultProvider.BucketCapacity != 10 {
		t.Errorf("DefaultProvider.BucketCapacity = %d, want 10", cfg.DefaultProvider.BucketCapacity)
	}
	if cfg.DefaultProvider.RefillRate != 5.0 {
		t.Errorf("DefaultProvider.RefillRate = %v, want 5.0", cfg.DefaultProvider.RefillRate)
	}
	if cfg.Breaker.Enabled {
		t.Error("Breaker.Enabled = true, want false")
	}
	if cfg.Cache.TTL != 90*time.Second {
		t.Errorf("Cache.TTL = %v, want 90s", cfg.Cache.TTL)
	}
}

func TestLoadLimiterConfig_InvalidValuesFallBack(t *testing.T) {
	clearLimiterEnv(t)
	t.Setenv("CALLGATE_DEFAULT_RPM", "lots")
	t.Setenv("CALLGATE_CB_OPEN_TIMEOUT", "-5s")
	t.Setenv("CALLGATE_CACHE_TTL", "0s")

	cfg, err := LoadLimiterConfig()
	if err != nil {
		t.Fatalf("LoadLimiterConfig() error = %v", err)
	}

	if cfg.DefaultProvider.MaxRequestsPerMinute != 60 {
		t.Errorf("DefaultProvider.MaxRequestsPerMinute = %d, want default 60", cfg.DefaultProvider.MaxRequestsPerMinute)
	}
	if cfg.Breaker.OpenTimeout != 60*time.Second {
		t.Errorf("Breaker.OpenTimeout = %v, want default 60s", cfg.Breaker.OpenTimeout)
	}
	if cfg.Cache.TTL != 5*time.Minute {
		t.Errorf("Cache.TTL = %v, want default 5m", cfg.Cache.TTL)
	}
}

func TestLoadLimiterConfig_ProvidersFile(t *testing.T) {
	clearLimiterEnv(t)

	path := filepath.Join(t.TempDir(), "providers.yaml")
	content := `providers:
  openai:
    max_requests_per_minute: 500
    max_concurrent: 8
    delay_between_requests: 100ms
  anthropic:
    max_requests_per_minute: 300
    refill_rate: 9.5
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CALLGATE_PROVIDERS_FILE", path)

	cfg, err := LoadLimiterConfig()
	if err != nil {
		t.Fatalf("LoadLimiterConfig() error = %v", err)
	}

	openai, ok := cfg.Providers["openai"]
	if !ok {
		t.Fatal("expected openai override to be loaded")
	}
	// ApplyDefaults derives bucket parameters for file-loaded providers too.
	wantOpenAI := providerlimit.ProviderConfig{
		MaxRequestsPerMinute: 500,
		MaxConcurrent:        8,
		DelayBetweenRequests: 100 * time.Millisecond,
		BucketCapacity:       16,
		RefillRate:           500.0 / 60.0,
	}
	if diff := cmp.Diff(wantOpenAI, openai); diff != "" {
		t.Errorf("openai override mismatch (-want +got):\n%s", diff)
	}

	anthropic, ok := cfg.Providers["anthropic"]
	if !ok {
		t.Fatal("expected anthropic override to be loaded")
	}
	if anthropic.MaxRequestsPerMinute != 300 {
		t.Errorf("anthropic.MaxRequestsPerMinute = %d, want 300", anthropic.MaxRequestsPerMinute)
	}
	if anthropic.RefillRate != 9.5 {
		t.Errorf("anthropic.RefillRate = %v, want explicit 9.5", anthropic.RefillRate)
	}
}

func TestLoadLimiterConfig_ProvidersFileErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		missing bool
		wantErr string
	}{
		{
			name:    "missing file",
			missing: true,
			wantErr: "read providers file",
		},
		{
			name:    "malformed yaml",
			content: "providers: [not a map",
			wantErr: "parse providers file",
		},
		{
			name: "invalid delay",
			content: `providers:
  openai:
    delay_between_requests: soon
`,
			wantErr: "invalid delay_between_requests",
		},
		{
			name: "negative delay",
			content: `providers:
  openai:
    delay_between_requests: -1s
`,
			wantErr: "invalid delay_between_requests",
		},
		{
			name: "negative limit rejected by validation",
			content: `providers:
  openai:
    max_requests_per_minute: -10
`,
			wantErr: "MaxRequestsPerMinute must be non-negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearLimiterEnv(t)

			path := filepath.Join(t.TempDir(), "providers.yaml")
			if !tt.missing {
				if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
					t.Fatal(err)
				}
			}
			t.Setenv("CALLGATE_PROVIDERS_FILE", path)

			_, err := LoadLimiterConfig()
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}
