package providerlimit

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestNew_LocalMode(t *testing.T) {
	facade, err := New(testConfig(nil))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer facade.Close()

	if facade.Degraded() {
		t.Error("Degraded() = true, want false in local-only mode")
	}
	if got := facade.Mode(); got != "local" {
		t.Errorf("Mode() = %q, want %q", got, "local")
	}

	grant, err := facade.Acquire(context.Background(), "openai")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if grant.Provider() != "openai" {
		t.Errorf("Provider() = %v, want openai", grant.Provider())
	}

	if got := facade.Stats()["openai"].Concurrent; got != 1 {
		t.Errorf("Concurrent = %v, want 1", got)
	}

	grant.Release()

	if got := facade.Stats()["openai"].Concurrent; got != 0 {
		t.Errorf("Concurrent = %v, want 0 after release", got)
	}
}

func TestNew_NilConfigUsesDefaults(t *testing.T) {
	facade, err := New(nil)
	if err != nil {
		t.Fatalf("New(nil) error = %v", err)
	}
	defer facade.Close()

	grant, err := facade.Acquire(context.Background(), "openai")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	grant.Release()
}

func TestNew_InvalidConfig(t *testing.T) {
	config := &Config{StoreDB: -1}

	_, err := New(config)
	if err == nil {
		t.Fatal("New() error = nil, want validation error")
	}
	if !strings.Contains(err.Error(), "StoreDB") {
		t.Errorf("New() error = %v, want mention of StoreDB", err)
	}
}

func TestNew_WithStoreSelectsCoordinated(t *testing.T) {
	store := newFakeStore()

	facade, err := New(testConfig(nil), WithStore(store))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if got := facade.Mode(); got != "coordinated" {
		t.Errorf("Mode() = %q, want %q", got, "coordinated")
	}

	grant, err := facade.Acquire(context.Background(), "openai")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	grant.Release()

	// Admission went through the injected store
	if got := store.acquires(); got == 0 {
		t.Error("store acquire calls = 0, want > 0 (coordinated path)")
	}

	// An injected store stays owned by the caller
	if err := facade.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	store.mu.Lock()
	closed := store.closeCalls
	store.mu.Unlock()
	if closed != 0 {
		t.Errorf("store close calls = %v, want 0 (caller owns injected stores)", closed)
	}
}

func TestGrant_ReleaseIsIdempotent(t *testing.T) {
	facade, err := New(testConfig(nil))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer facade.Close()

	g1, err := facade.Acquire(context.Background(), "openai")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	g2, err := facade.Acquire(context.Background(), "openai")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	// Double-releasing one grant must free exactly one slot
	g1.Release()
	g1.Release()

	if got := facade.Stats()["openai"].Concurrent; got != 1 {
		t.Errorf("Concurrent = %v, want 1 (double release must not free g2's slot)", got)
	}

	g2.Release()
	if got := facade.Stats()["openai"].Concurrent; got != 0 {
		t.Errorf("Concurrent = %v, want 0", got)
	}
}

func TestFacade_CachePassthrough(t *testing.T) {
	config := testConfig(func(c *Config) {
		c.Cache = CacheConfig{Enabled: true, TTL: time.Minute, MaxEntries: 10}
	})
	facade, err := New(config)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer facade.Close()

	if _, ok := facade.CacheGet("openai", "query"); ok {
		t.Error("CacheGet() should miss before any write")
	}

	facade.CacheSet("openai", "query", "payload", 0)

	got, ok := facade.CacheGet("openai", "query")
	if !ok {
		t.Fatal("CacheGet() should hit after CacheSet()")
	}
	if got != "payload" {
		t.Errorf("CacheGet() = %v, want payload", got)
	}

	// GetOrFill serves the cached value without filling
	fills := 0
	result, err := facade.CacheGetOrFill(context.Background(), "openai", "query", 0, func(ctx context.Context) (string, error) {
		fills++
		return "fresh", nil
	})
	if err != nil {
		t.Fatalf("CacheGetOrFill() error = %v", err)
	}
	if result != "payload" {
		t.Errorf("CacheGetOrFill() = %v, want payload", result)
	}
	if fills != 0 {
		t.Errorf("fill calls = %v, want 0", fills)
	}
}

func TestFacade_RecordFailureOpensCircuit(t *testing.T) {
	config := testConfig(func(c *Config) {
		c.Breaker = CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: 1,
			SuccessThreshold: 1,
			OpenTimeout:      time.Minute,
		}
	})
	facade, err := New(config)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer facade.Close()

	facade.RecordFailure("openai", FailureError)

	_, err = facade.Acquire(context.Background(), "openai")
	if !IsCircuitOpen(err) {
		t.Errorf("Acquire() error = %v, want circuit-open", err)
	}
	if got := facade.Stats()["openai"].BreakerState; got != "open" {
		t.Errorf("BreakerState = %v, want open", got)
	}
}

func TestFacade_FunctionalOptions(t *testing.T) {
	clock := NewMockClock(time.Now())
	metrics := NewNoOpMetrics()

	facade, err := New(testConfig(nil), WithClock(clock), WithMetrics(metrics))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer facade.Close()

	if facade.clock != clock {
		t.Error("WithClock() was not applied")
	}
	if facade.metrics != Metrics(metrics) {
		t.Error("WithMetrics() was not applied")
	}
}

func TestFacade_CloseIsSafeAfterUse(t *testing.T) {
	store := newFakeStore()
	facade, err := New(testConfig(nil), WithStore(store))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	grant, err := facade.Acquire(context.Background(), "openai")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	grant.Release()

	if err := facade.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
