package caller

import (
	"context"
	"time"

	"github.com/jaydeelew/callgate/pkg/providerlimit"
)

// NoOp is a caller that echoes the prompt without contacting any provider.
// This is useful for testing and development when no API key is available,
// and for synthetic probes that exercise admission without spending tokens.
// When constructed with a gate it goes through the full admission flow, so
// rate limits and the result cache behave exactly as they would for a real
// provider.
type NoOp struct {
	name            string
	gate            *providerlimit.Facade
	metricsRecorder CallMetricsRecorder
}

// NewNoOp creates a new NoOp caller registered under the given provider
// name. A nil gate skips admission entirely and echoes immediately.
func NewNoOp(name string, gate *providerlimit.Facade) *NoOp {
	return &NoOp{
		name:            name,
		gate:            gate,
		metricsRecorder: NewPrometheusCallMetrics(),
	}
}

// Name implements the Caller interface.
func (n *NoOp) Name() string {
	return n.name
}

// Call returns the prompt truncated to a reasonable length.
// For the NoOp caller, we truncate to the first 500 characters
// to match the shape of a real completion.
func (n *NoOp) Call(ctx context.Context, req Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	op := req.operation()

	if n.gate == nil {
		return &Response{Text: truncateEcho(req.Prompt)}, nil
	}

	if !req.NoCache {
		if cached, ok := n.gate.CacheGet(n.name, req.Prompt); ok {
			n.metricsRecorder.RecordCall(n.name, op, "cached")
			return &Response{Text: cached, Cached: true}, nil
		}
	}

	start := time.Now()
	grant, err := n.gate.Acquire(ctx, n.name)
	if err != nil {
		n.metricsRecorder.RecordCall(n.name, op, "rejected")
		return nil, &AdmissionError{Provider: n.name, Err: err}
	}
	defer grant.Release()
	admissionWait := time.Since(start)

	resp := &Response{
		Text:             truncateEcho(req.Prompt),
		AdmissionWait:    admissionWait,
		UpstreamDuration: time.Since(start),
	}

	n.gate.RecordSuccess(n.name, resp.UpstreamDuration.Seconds())
	n.metricsRecorder.RecordCall(n.name, op, "success")
	if !req.NoCache {
		n.gate.CacheSet(n.name, req.Prompt, resp.Text, 0)
	}

	return resp, nil
}

func truncateEcho(text string) string {
	const maxLength = 500
	if len(text) <= maxLength {
		return text
	}
	return text[:maxLength] + "..."
}
