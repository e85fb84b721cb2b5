// Package ops serves the operational HTTP surface of the gate daemon on a
// single listener: Prometheus metrics, liveness and readiness probes,
// provider breaker health, and a JSON snapshot of admission state.
package ops

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jaydeelew/callgate/internal/infra/prober"
	"github.com/jaydeelew/callgate/internal/observability/metrics"
	"github.com/jaydeelew/callgate/pkg/providerlimit"
)

// GateStats is the view of the admission gate the ops server reports on.
// *providerlimit.Facade satisfies it.
type GateStats interface {
	Stats() map[string]providerlimit.ProviderStats
	Degraded() bool
	Mode() string
}

// ProbeWindow reports the connectivity prober's sliding-window statistics.
// *prober.Prober satisfies it.
type ProbeWindow interface {
	WindowStats() prober.WindowStats
}

// Server is the operational HTTP server.
// It exposes:
//   - /metrics: Prometheus metrics (gate registry merged with the default)
//   - /health: Liveness probe (always returns 200 OK)
//   - /health/ready: Readiness probe (returns 200 if ready, 503 if not)
//   - /health/providers: Breaker health per provider (503 if any breaker is open)
//   - /ratelimit: JSON snapshot of admission state and the probe window
//
// The server supports graceful shutdown via context cancellation.
//
// Example usage:
//
//	opsServer := ops.NewServer(":9090", gate, probe, gatherer, logger)
//	go func() {
//	    if err := opsServer.Start(ctx); err != nil && err != http.ErrServerClosed {
//	        logger.Error("ops server failed", slog.Any("error", err))
//	    }
//	}()
//	opsServer.SetReady(true)  // Mark as ready after initialization
type Server struct {
	addr     string
	logger   *slog.Logger
	gate     GateStats
	probe    ProbeWindow
	gatherer prometheus.Gatherer
	isReady  *atomic.Bool
	server   *http.Server
}

// healthResponse is the JSON response format for the liveness and readiness
// endpoints.
type healthResponse struct {
	Status string `json:"status"`
}

// ProviderHealthResponse reports breaker health across all configured
// providers.
type ProviderHealthResponse struct {
	Healthy   bool             `json:"healthy"`
	Providers []ProviderStatus `json:"providers"`
}

// ProviderStatus is one provider's admission state as reported by the gate.
type ProviderStatus struct {
	Name             string  `json:"name"`
	BreakerState     string  `json:"breaker_state"`
	Concurrent       int     `json:"concurrent"`
	RequestsInWindow int     `json:"requests_in_window"`
	RateLimitHits    uint64  `json:"rate_limit_hits"`
	TokensAvailable  float64 `json:"tokens_available"`
}

// AdmissionStateResponse is the /ratelimit payload: the gate's mode and
// per-provider counters, plus the prober's window when the prober runs.
type AdmissionStateResponse struct {
	Mode      string              `json:"mode"`
	Degraded  bool                `json:"degraded"`
	Providers []ProviderStatus    `json:"providers"`
	Probe     *prober.WindowStats `json:"probe,omitempty"`
}

// NewServer creates an operational server.
//
// Parameters:
//   - addr: Server listen address (e.g., ":9090", "localhost:9090")
//   - gate: Admission gate to report on (can be nil; health endpoints then
//     return 503 with an error body)
//   - probe: Prober window source (can be nil when the prober is disabled;
//     the /ratelimit payload then omits the probe section)
//   - gatherer: Metric source for /metrics. Pass a prometheus.Gatherers
//     stack to merge the gate's own registry with the default one; nil
//     falls back to the default gatherer alone.
//   - logger: Structured logger for server events
//
// Returns:
//   - *Server: Initialized ops server (not started yet)
func NewServer(addr string, gate GateStats, probe ProbeWindow, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	isReady := &atomic.Bool{}
	isReady.Store(false) // Start as not ready

	return &Server{
		addr:     addr,
		logger:   logger,
		gate:     gate,
		probe:    probe,
		gatherer: gatherer,
		isReady:  isReady,
	}
}

// Start starts the operational HTTP server.
// This is a blocking call that runs until the context is cancelled or an
// error occurs. It supports graceful shutdown with a 5-second timeout.
//
// Returns:
//   - error: http.ErrServerClosed on graceful shutdown, other errors on failure
//
// Example:
//
//	go func() {
//	    if err := opsServer.Start(ctx); err != nil && err != http.ErrServerClosed {
//	        logger.Error("ops server failed", slog.Any("error", err))
//	    }
//	}()
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.instrument(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	mux.Handle("/health", s.instrument(http.HandlerFunc(s.handleLiveness)))
	mux.Handle("/health/ready", s.instrument(http.HandlerFunc(s.handleReadiness)))
	mux.Handle("/health/providers", s.instrument(http.HandlerFunc(s.handleProviderHealth)))
	mux.Handle("/ratelimit", s.instrument(http.HandlerFunc(s.handleAdmissionState)))

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("ops server starting", slog.String("addr", s.addr))
		if err := s.server.ListenAndServe(); err != nil {
			errChan <- err
		}
	}()

	// Wait for context cancellation or server error
	select {
	case <-ctx.Done():
		// Graceful shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Info("ops server shutting down")
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("ops server shutdown failed", slog.Any("error", err))
			return err
		}
		s.logger.Info("ops server stopped")
		return http.ErrServerClosed

	case err := <-errChan:
		if err == http.ErrServerClosed {
			return err
		}
		s.logger.Error("ops server failed", slog.Any("error", err))
		return err
	}
}

// SetReady sets the readiness state of the server.
// This affects the response of the /health/ready endpoint.
func (s *Server) SetReady(ready bool) {
	s.isReady.Store(ready)
	s.logger.Info("ops server readiness changed", slog.Bool("ready", ready))
}

// handleLiveness handles the /health endpoint (liveness probe).
// Always returns 200 OK with {"status":"ok"}.
//
// This endpoint is used by Kubernetes liveness probes to determine if the
// container should be restarted. It always returns success unless the server
// is completely dead (in which case it won't respond at all).
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(healthResponse{Status: "ok"}); err != nil {
		s.logger.Error("failed to encode liveness response", slog.Any("error", err))
	}
}

// handleReadiness handles the /health/ready endpoint (readiness probe).
// Returns 200 OK if ready, 503 Service Unavailable if not ready.
//
// Readiness flips to true only after the gate, callers, and prober are all
// wired up, so the daemon never receives scrapes it cannot answer.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if s.isReady.Load() {
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(healthResponse{Status: "ok"}); err != nil {
			s.logger.Error("failed to encode readiness response", slog.Any("error", err))
		}
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		if err := json.NewEncoder(w).Encode(healthResponse{Status: "not ready"}); err != nil {
			s.logger.Error("failed to encode not ready response", slog.Any("error", err))
		}
	}
}

// handleProviderHealth handles the /health/providers endpoint.
// Returns 200 OK if every provider's circuit breaker is closed or half-open.
// Returns 503 Service Unavailable if any breaker is open, so an external
// monitor can alert on a single failing provider without parsing metrics.
func (s *Server) handleProviderHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if s.gate == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error": "admission gate not initialized",
		})
		return
	}

	providers, healthy := providerStatuses(s.gate.Stats())

	statusCode := http.StatusOK
	if !healthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(ProviderHealthResponse{
		Healthy:   healthy,
		Providers: providers,
	}); err != nil {
		s.logger.Error("failed to encode provider health response", slog.Any("error", err))
	}
}

// handleAdmissionState handles the /ratelimit endpoint.
// Returns a point-in-time JSON snapshot of the gate: limiting mode, degraded
// flag, per-provider counters, and the prober's window statistics when a
// prober is attached.
func (s *Server) handleAdmissionState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if s.gate == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error": "admission gate not initialized",
		})
		return
	}

	providers, _ := providerStatuses(s.gate.Stats())

	response := AdmissionStateResponse{
		Mode:      s.gate.Mode(),
		Degraded:  s.gate.Degraded(),
		Providers: providers,
	}
	if s.probe != nil {
		window := s.probe.WindowStats()
		response.Probe = &window
	}

	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("failed to encode admission state response", slog.Any("error", err))
	}
}

// providerStatuses converts the gate's stats map into a name-sorted slice and
// reports whether every breaker is non-open.
func providerStatuses(stats map[string]providerlimit.ProviderStats) ([]ProviderStatus, bool) {
	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)

	providers := make([]ProviderStatus, 0, len(names))
	healthy := true
	for _, name := range names {
		st := stats[name]
		if st.BreakerState == "open" {
			healthy = false
		}
		providers = append(providers, ProviderStatus{
			Name:             name,
			BreakerState:     st.BreakerState,
			Concurrent:       st.Concurrent,
			RequestsInWindow: st.RequestsInWindow,
			RateLimitHits:    st.RateLimitHits,
			TokensAvailable:  st.TokensAvailable,
		})
	}
	return providers, healthy
}

// statusWriter wraps http.ResponseWriter to record status code and response
// size for instrumentation.
type statusWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.statusCode = code
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	n, err := sw.ResponseWriter.Write(b)
	sw.size += n
	return n, err
}

// instrument records request metrics for one ops endpoint. Only registered
// paths are wrapped, so the path label stays bounded.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		metrics.OpsActiveRequests.Inc()
		defer metrics.OpsActiveRequests.Dec()

		sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}

		start := time.Now()
		next.ServeHTTP(sw, r)
		duration := time.Since(start)

		metrics.RecordOpsRequest(r.Method, r.URL.Path, strconv.Itoa(sw.statusCode), duration, sw.size)
	})
}
