// Package prober sends scheduled connectivity probes through the gate to
// every configured provider and keeps a sliding window of the results.
// The window feeds the SLO gauges and the /ratelimit probe section, so a
// provider going dark or a saturated gate shows up within one schedule tick
// instead of waiting for real traffic to fail.
package prober

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/jaydeelew/callgate/internal/infra/caller"
	"github.com/jaydeelew/callgate/internal/observability/metrics"
	"github.com/jaydeelew/callgate/internal/observability/slo"
)

// Outcome classifies a single probe result.
type Outcome string

const (
	// OutcomeOK means the probe was admitted and the provider answered.
	OutcomeOK Outcome = "ok"

	// OutcomeRejected means the gate refused the probe before it reached
	// the network. Rejections are the gate doing its job, not downtime.
	OutcomeRejected Outcome = "rejected"

	// OutcomeError means the probe was admitted but the upstream call failed.
	OutcomeError Outcome = "error"
)

// Result is the record of one probe call kept in the sliding window.
type Result struct {
	// Provider is the caller name the probe targeted.
	Provider string

	// Outcome classifies how the probe ended.
	Outcome Outcome

	// AdmissionWait is how long the probe waited at the gate.
	// Only populated for OutcomeOK; failed calls do not report it.
	AdmissionWait time.Duration

	// Duration is the end-to-end probe duration, admission wait included.
	Duration time.Duration
}

// WindowStats is a snapshot of the sliding result window, exposed on the
// /ratelimit endpoint and mirrored into the SLO gauges.
type WindowStats struct {
	// Window is the number of results currently held.
	Window int `json:"window"`

	// Capacity is the configured window size.
	Capacity int `json:"capacity"`

	// OK, Rejected, and Errors count results by outcome.
	OK       int `json:"ok"`
	Rejected int `json:"rejected"`
	Errors   int `json:"errors"`

	// Availability is ok / (ok + errors). Rejections are excluded; the
	// gate refusing a call is not provider downtime. 1.0 when no probe
	// has been admitted yet.
	Availability float64 `json:"availability_ratio"`

	// ErrorRate is errors / window. 0.0 for an empty window.
	ErrorRate float64 `json:"error_rate_ratio"`

	// AdmissionWaitP95 is the 95th percentile admission wait in seconds
	// across successful probes in the window.
	AdmissionWaitP95 float64 `json:"admission_wait_p95_seconds"`

	// LatencyP95 is the 95th percentile end-to-end duration in seconds
	// across successful probes in the window.
	LatencyP95 float64 `json:"latency_p95_seconds"`
}

// Prober probes each configured caller on a schedule. Safe for concurrent
// use; the cron scheduler and the ops server share one instance.
type Prober struct {
	callers     []caller.Caller
	prompt      string
	callTimeout time.Duration
	metrics     *ProbeMetrics
	logger      *slog.Logger
	window      *resultWindow
}

// New creates a Prober over the given callers. The callers slice is used
// as-is; build it once at startup and do not mutate it afterwards.
func New(callers []caller.Caller, cfg *ProberConfig, m *ProbeMetrics, logger *slog.Logger) *Prober {
	return &Prober{
		callers:     callers,
		prompt:      cfg.Prompt,
		callTimeout: cfg.CallTimeout,
		metrics:     m,
		logger:      logger,
		window:      newResultWindow(cfg.WindowSize),
	}
}

// RunOnce executes a single probe run: one gated call per caller, results
// recorded into the window and the SLO gauges updated. A run is recorded
// as a failure only when it verified nothing, either because every probe
// errored upstream or because cancellation stopped it first. Rejections
// and partial failures still count as a successful run, visible per call
// in gate_probe_calls_total.
func (p *Prober) RunOnce(ctx context.Context) {
	startTime := time.Now()
	p.metrics.RecordRun("started")
	p.logger.Info("probe run started", slog.Int("callers", len(p.callers)))

	probed := 0
	failures := 0
	for _, c := range p.callers {
		// Shutdown cancels the base context mid-run; stop probing
		// instead of recording bogus rejections.
		if ctx.Err() != nil {
			p.logger.Warn("probe run interrupted", slog.Any("error", ctx.Err()))
			break
		}

		res := p.probeOne(ctx, c)
		p.window.add(res)
		probed++

		metrics.RecordProbeCall(res.Provider, string(res.Outcome), res.Duration)
		if res.Outcome == OutcomeOK {
			metrics.RecordProbeAdmissionWait(res.Provider, res.AdmissionWait)
		}
		if res.Outcome == OutcomeError {
			failures++
		}
	}

	p.metrics.RecordCallsProbed(probed)
	p.metrics.RecordRunDuration(time.Since(startTime).Seconds())
	p.updateSLOs()

	// A run fails when it verified nothing: every probe errored upstream,
	// or cancellation stopped the run before any probe was sent.
	if len(p.callers) > 0 && (probed == 0 || failures == probed) {
		p.metrics.RecordRun("failure")
		p.logger.Error("probe run failed",
			slog.Int("probed", probed),
			slog.Int("failures", failures))
		return
	}

	p.metrics.RecordRun("success")
	p.metrics.RecordLastSuccess()
	p.logger.Info("probe run completed",
		slog.Int("probed", probed),
		slog.Int("failures", failures),
		slog.Duration("duration", time.Since(startTime)),
	)
}

// WindowStats returns a snapshot of the sliding result window.
func (p *Prober) WindowStats() WindowStats {
	results := p.window.snapshot()

	stats := WindowStats{
		Window:       len(results),
		Capacity:     p.window.capacity(),
		Availability: 1.0,
	}

	var waits, latencies []float64
	for _, r := range results {
		switch r.Outcome {
		case OutcomeOK:
			stats.OK++
			waits = append(waits, r.AdmissionWait.Seconds())
			latencies = append(latencies, r.Duration.Seconds())
		case OutcomeRejected:
			stats.Rejected++
		case OutcomeError:
			stats.Errors++
		}
	}

	if admitted := stats.OK + stats.Errors; admitted > 0 {
		stats.Availability = float64(stats.OK) / float64(admitted)
	}
	if len(results) > 0 {
		stats.ErrorRate = float64(stats.Errors) / float64(len(results))
	}
	stats.AdmissionWaitP95 = percentile(waits, 0.95)
	stats.LatencyP95 = percentile(latencies, 0.95)

	return stats
}

// probeOne sends a single gated probe to the caller and classifies the result.
func (p *Prober) probeOne(ctx context.Context, c caller.Caller) Result {
	start := time.Now()

	cctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	resp, err := c.Call(cctx, caller.Request{
		Operation: "probe",
		Prompt:    p.prompt,
		NoCache:   true, // every probe must exercise admission
	})
	elapsed := time.Since(start)

	if err != nil {
		var admErr *caller.AdmissionError
		if errors.As(err, &admErr) {
			p.logger.Warn("probe rejected at the gate",
				slog.String("provider", c.Name()),
				slog.Any("error", err))
			return Result{Provider: c.Name(), Outcome: OutcomeRejected, Duration: elapsed}
		}

		p.logger.Error("probe failed",
			slog.String("provider", c.Name()),
			slog.Any("error", err))
		return Result{Provider: c.Name(), Outcome: OutcomeError, Duration: elapsed}
	}

	p.logger.Debug("probe ok",
		slog.String("provider", c.Name()),
		slog.Duration("admission_wait", resp.AdmissionWait),
		slog.Duration("duration", elapsed))
	return Result{
		Provider:      c.Name(),
		Outcome:       OutcomeOK,
		AdmissionWait: resp.AdmissionWait,
		Duration:      elapsed,
	}
}

// updateSLOs mirrors the current window snapshot into the SLO gauges.
func (p *Prober) updateSLOs() {
	stats := p.WindowStats()
	slo.UpdateAvailability(stats.Availability)
	slo.UpdateAdmissionWaitP95(stats.AdmissionWaitP95)
	slo.UpdateLatencyP95(stats.LatencyP95)
	slo.UpdateErrorRate(stats.ErrorRate)
}

// percentile returns the nearest-rank percentile of values, 0 for an empty
// slice. The window tops out at a few thousand entries, so an exact sort
// beats a quantile sketch here. Mutates the slice order.
func percentile(values []float64, pct float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sort.Float64s(values)
	idx := int(math.Ceil(pct*float64(len(values)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(values) {
		idx = len(values) - 1
	}
	return values[idx]
}

// resultWindow is a fixed-capacity ring buffer of probe results.
type resultWindow struct {
	mu      sync.Mutex
	results []Result
	next    int
	filled  bool
}

func newResultWindow(size int) *resultWindow {
	if size < 1 {
		size = 1
	}
	return &resultWindow{results: make([]Result, size)}
}

func (w *resultWindow) add(r Result) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.results[w.next] = r
	w.next++
	if w.next == len(w.results) {
		w.next = 0
		w.filled = true
	}
}

// snapshot copies the currently held results. Order is not meaningful.
func (w *resultWindow) snapshot() []Result {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := w.next
	if w.filled {
		n = len(w.results)
	}
	out := make([]Result, n)
	copy(out, w.results[:n])
	return out
}

func (w *resultWindow) capacity() int {
	return len(w.results)
}
