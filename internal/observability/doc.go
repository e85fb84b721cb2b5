// Package observability provides production-grade observability infrastructure
// including structured logging, Prometheus metrics, and call tracing.
//
// This package centralizes observability concerns to enable:
//   - Call tracing across the admission and upstream layers
//   - Structured logging with context propagation
//   - Prometheus metrics for monitoring
//   - SLO tracking driven by the connectivity prober
//
// Subpackages:
//   - logging: Structured logging utilities with slog
//   - metrics: Prometheus metrics registry and recorders
//   - slo: Service level objective targets and gauges
//   - tracing: Call annotation and trace ID propagation
//
// Example usage:
//
//	import (
//	    "github.com/jaydeelew/callgate/internal/observability/logging"
//	    "github.com/jaydeelew/callgate/internal/observability/metrics"
//	)
//
//	func main() {
//	    logger := logging.NewLogger()
//	    logger.Info("daemon started")
//
//	    metrics.UpdateCallersConfigured(2)
//	}
package observability
