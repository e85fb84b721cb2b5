package ops

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jaydeelew/callgate/internal/infra/prober"
	"github.com/jaydeelew/callgate/pkg/providerlimit"
)

// fakeGate implements GateStats with canned values.
type fakeGate struct {
	stats    map[string]providerlimit.ProviderStats
	degraded bool
	mode     string
}

func (f *fakeGate) Stats() map[string]providerlimit.ProviderStats { return f.stats }
func (f *fakeGate) Degraded() bool                                { return f.degraded }
func (f *fakeGate) Mode() string                                  { return f.mode }

// fakeProbe implements ProbeWindow with canned window statistics.
type fakeProbe struct {
	window prober.WindowStats
}

func (f *fakeProbe) WindowStats() prober.WindowStats { return f.window }

func testGate() *fakeGate {
	return &fakeGate{
		mode: "local",
		stats: map[string]providerlimit.ProviderStats{
			"openai": {
				RequestsInWindow: 12,
				Concurrent:       3,
				BreakerState:     "closed",
				RateLimitHits:    7,
				TokensAvailable:  4.5,
			},
			"anthropic": {
				RequestsInWindow: 2,
				Concurrent:       1,
				BreakerState:     "half-open",
				RateLimitHits:    0,
				TokensAvailable:  9.0,
			},
		},
	}
}

func TestNewServer(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	server := NewServer(":9090", testGate(), nil, nil, logger)

	if server.addr != ":9090" {
		t.Errorf("expected addr ':9090', got '%s'", server.addr)
	}

	if server.logger == nil {
		t.Error("expected logger to be set")
	}

	if server.isReady == nil {
		t.Fatal("expected isReady to be initialized")
	}

	// Should start as not ready
	if server.isReady.Load() {
		t.Error("expected isReady to be false initially")
	}

	// A nil gatherer falls back to the default one
	if server.gatherer == nil {
		t.Error("expected gatherer to default when nil")
	}
}

func TestSetReady(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	server := NewServer(":9090", testGate(), nil, nil, logger)

	// Initially not ready
	if server.isReady.Load() {
		t.Error("expected isReady to be false initially")
	}

	// Set to ready
	server.SetReady(true)
	if !server.isReady.Load() {
		t.Error("expected isReady to be true after SetReady(true)")
	}

	// Set back to not ready
	server.SetReady(false)
	if server.isReady.Load() {
		t.Error("expected isReady to be false after SetReady(false)")
	}
}

func TestServer_Liveness(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	server := NewServer("localhost:19180", testGate(), nil, nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start server in background
	go func() {
		if err := server.Start(ctx); err != nil && err != http.ErrServerClosed {
			t.Errorf("unexpected server error: %v", err)
		}
	}()

	// Wait for server to start
	time.Sleep(100 * time.Millisecond)

	// Liveness endpoint should always return 200
	resp, err := http.Get("http://localhost:19180/health")
	if err != nil {
		t.Fatalf("failed to call /health: %v", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			t.Errorf("failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}

	var response healthResponse
	if err := json.Unmarshal(body, &response); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if response.Status != "ok" {
		t.Errorf("expected status 'ok', got '%s'", response.Status)
	}

	// Stop server
	cancel()
	time.Sleep(100 * time.Millisecond)
}

func TestServer_Readiness_Transition(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	server := NewServer("localhost:19181", testGate(), nil, nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start server in background (not ready by default)
	go func() {
		if err := server.Start(ctx); err != nil && err != http.ErrServerClosed {
			t.Errorf("unexpected server error: %v", err)
		}
	}()

	// Wait for server to start
	time.Sleep(100 * time.Millisecond)

	// Test 1: Not ready initially
	resp, err := http.Get("http://localhost:19181/health/ready")
	if err != nil {
		t.Fatalf("failed to call /health/ready: %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected status 503 initially, got %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	var response healthResponse
	if err := json.Unmarshal(body, &response); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if response.Status != "not ready" {
		t.Errorf("expected status 'not ready', got '%s'", response.Status)
	}
	if err := resp.Body.Close(); err != nil {
		t.Errorf("failed to close response body: %v", err)
	}

	// Test 2: Transition to ready
	server.SetReady(true)
	time.Sleep(10 * time.Millisecond)

	resp, err = http.Get("http://localhost:19181/health/ready")
	if err != nil {
		t.Fatalf("failed to call /health/ready after SetReady: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200 after SetReady(true), got %d", resp.StatusCode)
	}
	if err := resp.Body.Close(); err != nil {
		t.Errorf("failed to close response body: %v", err)
	}

	// Test 3: Transition back to not ready
	server.SetReady(false)
	time.Sleep(10 * time.Millisecond)

	resp, err = http.Get("http://localhost:19181/health/ready")
	if err != nil {
		t.Fatalf("failed to call /health/ready after SetReady(false): %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected status 503 after SetReady(false), got %d", resp.StatusCode)
	}
	if err := resp.Body.Close(); err != nil {
		t.Errorf("failed to close response body: %v", err)
	}

	// Stop server
	cancel()
	time.Sleep(100 * time.Millisecond)
}

func TestServer_Metrics_MergesGatherers(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// A private registry standing in for the gate's own metric registry.
	gateRegistry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ops_test_gate_registry_total",
		Help: "Test counter living on a non-default registry.",
	})
	gateRegistry.MustRegister(counter)
	counter.Inc()

	gatherers := prometheus.Gatherers{gateRegistry, prometheus.DefaultGatherer}
	server := NewServer("localhost:19182", testGate(), nil, gatherers, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := server.Start(ctx); err != nil && err != http.ErrServerClosed {
			t.Errorf("unexpected server error: %v", err)
		}
	}()

	time.Sleep(100 * time.Millisecond)

	// Prime the ops request counters before scraping
	resp, err := http.Get("http://localhost:19182/health")
	if err != nil {
		t.Fatalf("failed to call /health: %v", err)
	}
	if err := resp.Body.Close(); err != nil {
		t.Errorf("failed to close response body: %v", err)
	}

	resp, err = http.Get("http://localhost:19182/metrics")
	if err != nil {
		t.Fatalf("failed to call /metrics: %v", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			t.Errorf("failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read metrics body: %v", err)
	}
	text := string(body)

	// From the private registry
	if !strings.Contains(text, "ops_test_gate_registry_total") {
		t.Error("expected /metrics to expose the gate registry's metrics")
	}

	// From the default registry, recorded by the instrumentation middleware
	if !strings.Contains(text, "ops_http_requests_total") {
		t.Error("expected /metrics to expose ops request counters")
	}

	cancel()
	time.Sleep(100 * time.Millisecond)
}

func TestServer_GracefulShutdown(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	server := NewServer("localhost:19183", testGate(), nil, nil, logger)

	ctx, cancel := context.WithCancel(context.Background())

	// Start server in background
	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	// Wait for server to start
	time.Sleep(100 * time.Millisecond)

	// Verify server is running
	resp, err := http.Get("http://localhost:19183/health")
	if err != nil {
		t.Fatalf("server not running: %v", err)
	}
	if err := resp.Body.Close(); err != nil {
		t.Errorf("failed to close response body: %v", err)
	}

	// Trigger graceful shutdown
	cancel()

	// Wait for shutdown to complete
	select {
	case err := <-errChan:
		if err != http.ErrServerClosed {
			t.Errorf("expected http.ErrServerClosed, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("shutdown timeout")
	}

	// Verify server is stopped
	_, err = http.Get("http://localhost:19183/health")
	if err == nil {
		t.Error("expected connection error after shutdown, but got success")
	}
}

func TestProviderHealth_AllBreakersClosed(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	server := NewServer(":0", testGate(), nil, nil, logger)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health/providers", nil)

	server.handleProviderHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	var response ProviderHealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if !response.Healthy {
		t.Error("expected healthy=true when no breaker is open")
	}

	if len(response.Providers) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(response.Providers))
	}

	// Providers are sorted by name
	if response.Providers[0].Name != "anthropic" || response.Providers[1].Name != "openai" {
		t.Errorf("expected providers sorted by name, got %s, %s",
			response.Providers[0].Name, response.Providers[1].Name)
	}

	openai := response.Providers[1]
	if openai.BreakerState != "closed" {
		t.Errorf("expected breaker state 'closed', got '%s'", openai.BreakerState)
	}
	if openai.RequestsInWindow != 12 {
		t.Errorf("expected 12 requests in window, got %d", openai.RequestsInWindow)
	}
	if openai.Concurrent != 3 {
		t.Errorf("expected 3 concurrent, got %d", openai.Concurrent)
	}
	if openai.RateLimitHits != 7 {
		t.Errorf("expected 7 rate limit hits, got %d", openai.RateLimitHits)
	}
	if openai.TokensAvailable != 4.5 {
		t.Errorf("expected 4.5 tokens available, got %f", openai.TokensAvailable)
	}
}

func TestProviderHealth_OpenBreakerReturns503(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	gate := testGate()
	st := gate.stats["openai"]
	st.BreakerState = "open"
	gate.stats["openai"] = st

	server := NewServer(":0", gate, nil, nil, logger)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health/providers", nil)

	server.handleProviderHealth(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503 with an open breaker, got %d", rec.Code)
	}

	var response ProviderHealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if response.Healthy {
		t.Error("expected healthy=false when a breaker is open")
	}

	// Half-open does not count as unhealthy: the breaker is testing recovery
	if response.Providers[0].BreakerState != "half-open" {
		t.Errorf("expected anthropic breaker 'half-open', got '%s'", response.Providers[0].BreakerState)
	}
}

func TestProviderHealth_NilGate(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	server := NewServer(":0", nil, nil, nil, logger)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health/providers", nil)

	server.handleProviderHealth(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503 with nil gate, got %d", rec.Code)
	}

	var response map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if response["error"] != "admission gate not initialized" {
		t.Errorf("unexpected error body: %v", response)
	}
}

func TestAdmissionState_WithProbe(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	gate := testGate()
	gate.mode = "coordinated"
	gate.degraded = true

	probe := &fakeProbe{
		window: prober.WindowStats{
			Window:           40,
			Capacity:         120,
			OK:               36,
			Rejected:         2,
			Errors:           2,
			Availability:     36.0 / 38.0,
			ErrorRate:        0.05,
			AdmissionWaitP95: 0.2,
			LatencyP95:       1.8,
		},
	}

	server := NewServer(":0", gate, probe, nil, logger)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ratelimit", nil)

	server.handleAdmissionState(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	var response AdmissionStateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if response.Mode != "coordinated" {
		t.Errorf("expected mode 'coordinated', got '%s'", response.Mode)
	}
	if !response.Degraded {
		t.Error("expected degraded=true")
	}
	if len(response.Providers) != 2 {
		t.Errorf("expected 2 providers, got %d", len(response.Providers))
	}

	if response.Probe == nil {
		t.Fatal("expected probe window in response")
	}
	if response.Probe.Window != 40 {
		t.Errorf("expected probe window 40, got %d", response.Probe.Window)
	}
	if response.Probe.OK != 36 {
		t.Errorf("expected 36 ok probes, got %d", response.Probe.OK)
	}
	if response.Probe.LatencyP95 != 1.8 {
		t.Errorf("expected latency p95 1.8, got %f", response.Probe.LatencyP95)
	}
}

func TestAdmissionState_WithoutProbe(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	server := NewServer(":0", testGate(), nil, nil, logger)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ratelimit", nil)

	server.handleAdmissionState(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	var response AdmissionStateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if response.Probe != nil {
		t.Error("expected no probe section when the prober is disabled")
	}
	if response.Mode != "local" {
		t.Errorf("expected mode 'local', got '%s'", response.Mode)
	}
}

func TestStatusWriter_CapturesStatusAndSize(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	sw.WriteHeader(http.StatusServiceUnavailable)
	if _, err := sw.Write([]byte("hello ")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := sw.Write([]byte("world")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if sw.statusCode != http.StatusServiceUnavailable {
		t.Errorf("expected captured status 503, got %d", sw.statusCode)
	}
	if sw.size != len("hello world") {
		t.Errorf("expected captured size %d, got %d", len("hello world"), sw.size)
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected underlying status 503, got %d", rec.Code)
	}
}
