// Package metrics provides Prometheus metrics registry and recording utilities.
//
// This package centralizes the daemon-level metrics:
//   - Operational HTTP metrics (duration, count, response size)
//   - Connectivity probe metrics (outcomes, latency, admission wait)
//
// Gate internals (admission counters, breaker state, cache events) live on
// the rate limiter's own registry; upstream call metrics live with the
// callers. The ops server gathers all of them onto one /metrics endpoint.
//
// All metrics in this package are automatically registered with the
// Prometheus default registry.
//
// Example usage:
//
//	import "github.com/jaydeelew/callgate/internal/observability/metrics"
//
//	func probe(provider string) {
//	    start := time.Now()
//	    // ... send the probe ...
//
//	    metrics.RecordProbeCall(provider, "ok", time.Since(start))
//	}
package metrics
