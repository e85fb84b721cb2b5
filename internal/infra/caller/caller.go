// Package caller provides gated adapters for outbound AI provider APIs.
// It includes adapters for Anthropic and OpenAI with reliability patterns.
// Every call is admitted through the provider rate-limit gate before it
// reaches the network, with comprehensive observability through structured
// logging, tracing spans, and Prometheus metrics.
package caller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	openai "github.com/sashabaranov/go-openai"

	"github.com/jaydeelew/callgate/internal/resilience/retry"
	"github.com/jaydeelew/callgate/pkg/providerlimit"
)

const (
	// ProviderAnthropic is the gate provider name for Anthropic callers.
	ProviderAnthropic = "anthropic"

	// ProviderOpenAI is the gate provider name for OpenAI callers.
	ProviderOpenAI = "openai"
)

// Caller is the interface implemented by all provider adapters.
// Implementations must be safe for concurrent use.
type Caller interface {
	// Name returns the provider identifier used for gating and metrics,
	// e.g. "anthropic" or "openai".
	Name() string

	// Call sends a single prompt to the provider and returns its response.
	// The call is admitted through the rate-limit gate first; admission
	// rejections are returned without touching the network.
	Call(ctx context.Context, req Request) (*Response, error)
}

// Request describes a single outbound provider call.
type Request struct {
	// Operation names the logical operation for tracing and metrics,
	// e.g. "chat_completion". Defaults to "completion" when empty.
	Operation string

	// Prompt is the user prompt sent to the provider. Required.
	Prompt string

	// MaxTokens overrides the configured response token cap when positive.
	MaxTokens int

	// NoCache bypasses the result cache for this call. Synthetic probes
	// set this so every probe exercises admission.
	NoCache bool
}

// Validate checks that the request is well-formed.
func (r Request) Validate() error {
	if r.Prompt == "" {
		return fmt.Errorf("caller request: prompt is required")
	}
	if r.MaxTokens < 0 {
		return fmt.Errorf("caller request: max tokens must be non-negative, got %d", r.MaxTokens)
	}
	return nil
}

// operation returns the request operation, defaulting when unset.
func (r Request) operation() string {
	if r.Operation == "" {
		return "completion"
	}
	return r.Operation
}

// Response is the provider's answer to a Request.
type Response struct {
	// Text is the response body extracted from the provider payload.
	Text string

	// PromptTokens and CompletionTokens report upstream token usage.
	// Both are zero for cache hits.
	PromptTokens     int
	CompletionTokens int

	// AdmissionWait is how long the call waited for the gate to admit it.
	// Zero for cache hits, which never reach admission.
	AdmissionWait time.Duration

	// UpstreamDuration is the latency of the final upstream attempt.
	// Zero for cache hits.
	UpstreamDuration time.Duration

	// Cached reports whether the response was served from the result
	// cache without an upstream call.
	Cached bool
}

// AdmissionError reports that the gate refused a call before it reached the
// network. Callers that need to tell gate refusals apart from upstream
// failures (the prober, for one) unwrap with errors.As.
type AdmissionError struct {
	// Provider is the gate provider name the call was made under.
	Provider string

	// Err is the underlying gate error, e.g. providerlimit.ErrCircuitOpen
	// or a context deadline hit while waiting for capacity.
	Err error
}

func (e *AdmissionError) Error() string {
	return e.Provider + " admission: " + e.Err.Error()
}

func (e *AdmissionError) Unwrap() error { return e.Err }

// classifyFailure maps a provider call error to the failure kind reported
// to the gate. Upstream 429 responses count as rate-limit feedback so the
// gate can penalize the provider's window; everything else is a plain error.
func classifyFailure(err error) providerlimit.FailureKind {
	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) && anthropicErr.StatusCode == 429 {
		return providerlimit.FailureRateLimit
	}

	var openaiErr *openai.APIError
	if errors.As(err, &openaiErr) && openaiErr.HTTPStatusCode == 429 {
		return providerlimit.FailureRateLimit
	}

	var httpErr *retry.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == 429 {
		return providerlimit.FailureRateLimit
	}

	return providerlimit.FailureError
}
