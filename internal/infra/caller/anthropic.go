package caller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sony/gobreaker"

	"github.com/jaydeelew/callgate/internal/callid"
	"github.com/jaydeelew/callgate/internal/observability/tracing"
	"github.com/jaydeelew/callgate/internal/resilience/circuitbreaker"
	"github.com/jaydeelew/callgate/internal/resilience/retry"
	"github.com/jaydeelew/callgate/pkg/providerlimit"
)

// AnthropicConfig holds configuration parameters for the Anthropic caller.
// Configuration is loaded from environment variables with fallback to defaults.
type AnthropicConfig struct {
	// Model is the Anthropic API model identifier to use for calls.
	// Loaded from CALLER_ANTHROPIC_MODEL environment variable.
	Model string

	// MaxTokens is the response token cap applied when a request does not
	// override it. Loaded from CALLER_MAX_TOKENS environment variable.
	// Valid range: 1-32768 tokens. Default: 1024.
	MaxTokens int

	// Timeout is the maximum duration for a single call including retries.
	Timeout time.Duration
}

// LoadAnthropicConfig loads configuration from environment variables.
// It performs validation on the token cap to ensure it's within a valid range (1-32768).
// Invalid values fall back to the default (1024) with a warning log.
//
// Environment variables:
//   - CALLER_ANTHROPIC_MODEL: Model identifier (default: claude-sonnet-4-5)
//   - CALLER_MAX_TOKENS: Response token cap (default: 1024, range: 1-32768)
//
// Returns AnthropicConfig with validated settings.
func LoadAnthropicConfig() AnthropicConfig {
	const defaultMaxTokens = 1024

	maxTokens := defaultMaxTokens

	if envTokens := os.Getenv("CALLER_MAX_TOKENS"); envTokens != "" {
		parsed, err := strconv.Atoi(envTokens)
		if err != nil {
			slog.Warn("Invalid CALLER_MAX_TOKENS format, using default",
				slog.String("value", envTokens),
				slog.Int("default", defaultMaxTokens),
				slog.String("error", err.Error()))
		} else if validateErr := ValidateMaxTokens(parsed); validateErr != nil {
			slog.Warn("CALLER_MAX_TOKENS out of valid range, using default",
				slog.Int("value", parsed),
				slog.Int("default", defaultMaxTokens),
				slog.String("error", validateErr.Error()))
		} else {
			maxTokens = parsed
		}
	}

	model := string(anthropic.ModelClaudeSonnet4_5_20250929)
	if envModel := os.Getenv("CALLER_ANTHROPIC_MODEL"); envModel != "" {
		model = envModel
	}

	return AnthropicConfig{
		Model:     model,
		MaxTokens: maxTokens,
		Timeout:   60 * time.Second,
	}
}

// Anthropic implements the Caller interface using Anthropic's Messages API.
// Every call is admitted through the provider gate first, then executed
// through circuit breaker and retry logic for improved reliability.
type Anthropic struct {
	client          anthropic.Client
	gate            *providerlimit.Facade
	circuitBreaker  *circuitbreaker.CircuitBreaker
	retryConfig     retry.Config
	config          AnthropicConfig
	metricsRecorder CallMetricsRecorder
}

// NewAnthropic creates a new Anthropic caller with the given API key.
// It automatically configures circuit breaker, retry logic, model configuration,
// and metrics recording. The gate must not be nil.
func NewAnthropic(apiKey string, gate *providerlimit.Facade) *Anthropic {
	config := LoadAnthropicConfig()

	slog.Info("Initialized Anthropic caller with configuration",
		slog.String("model", config.Model),
		slog.Int("max_tokens", config.MaxTokens),
		slog.String("gate_mode", gate.Mode()))

	return &Anthropic{
		client:          anthropic.NewClient(option.WithAPIKey(apiKey)),
		gate:            gate,
		circuitBreaker:  circuitbreaker.New(circuitbreaker.AnthropicAPIConfig()),
		retryConfig:     retry.ProviderCallConfig(),
		config:          config,
		metricsRecorder: NewPrometheusCallMetrics(),
	}
}

// Name implements the Caller interface.
func (a *Anthropic) Name() string {
	return ProviderAnthropic
}

// Call sends the prompt to Anthropic after admission through the gate.
// Repeated prompts are served from the result cache without consuming
// rate-limit budget. Admission rejections return before any network I/O.
func (a *Anthropic) Call(ctx context.Context, req Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	op := req.operation()

	ctx, callID := callid.Ensure(ctx)

	// Serve repeated prompts from the result cache
	if !req.NoCache {
		if cached, ok := a.gate.CacheGet(ProviderAnthropic, req.Prompt); ok {
			slog.DebugContext(ctx, "Result cache hit, skipping provider call",
				slog.String("call_id", callID),
				slog.String("provider", ProviderAnthropic))
			a.metricsRecorder.RecordCall(ProviderAnthropic, op, "cached")
			return &Response{Text: cached, Cached: true}, nil
		}
	}

	admissionStart := time.Now()
	grant, err := a.gate.Acquire(ctx, ProviderAnthropic)
	if err != nil {
		a.metricsRecorder.RecordCall(ProviderAnthropic, op, "rejected")
		return nil, &AdmissionError{Provider: ProviderAnthropic, Err: err}
	}
	defer grant.Release()
	admissionWait := time.Since(admissionStart)

	ctx, span := tracing.StartCall(ctx, ProviderAnthropic, op)
	tracing.AnnotateAdmission(span, a.gate.Mode(), admissionWait)

	// Set individual timeout covering all retry attempts
	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	var result *Response
	attempt := 0

	// Wrap with retry logic
	retryErr := retry.WithBackoff(ctx, a.retryConfig, func() error {
		attempt++
		if attempt > 1 {
			a.metricsRecorder.RecordRetry(ProviderAnthropic)
		}

		// Execute through circuit breaker
		cbResult, err := a.circuitBreaker.Execute(func() (interface{}, error) {
			return a.doCall(ctx, callID, req, op)
		})

		// Handle circuit breaker open state
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) {
				slog.Warn("anthropic api circuit breaker open, request rejected",
					slog.String("service", "anthropic-api"),
					slog.String("state", a.circuitBreaker.State().String()))
				return fmt.Errorf("anthropic api unavailable: circuit breaker open")
			}
			return err
		}

		result = cbResult.(*Response)
		return nil
	})

	tracing.EndCall(span, retryErr)

	if retryErr != nil {
		a.gate.RecordFailure(ProviderAnthropic, classifyFailure(retryErr))
		a.metricsRecorder.RecordCall(ProviderAnthropic, op, "error")
		return nil, fmt.Errorf("anthropic call failed after retries: %w", retryErr)
	}

	result.AdmissionWait = admissionWait
	a.gate.RecordSuccess(ProviderAnthropic, result.UpstreamDuration.Seconds())
	a.metricsRecorder.RecordCall(ProviderAnthropic, op, "success")
	a.metricsRecorder.RecordTokens(ProviderAnthropic, result.PromptTokens, result.CompletionTokens)
	if !req.NoCache {
		a.gate.CacheSet(ProviderAnthropic, req.Prompt, result.Text, 0)
	}

	return result, nil
}

// doCall performs the actual API call without retry or circuit breaker.
// It includes comprehensive structured logging and metrics recording for observability.
func (a *Anthropic) doCall(ctx context.Context, callID string, req Request, op string) (*Response, error) {
	tokenCap := a.config.MaxTokens
	if req.MaxTokens > 0 {
		tokenCap = req.MaxTokens
	}

	// Log call start
	slog.InfoContext(ctx, "Starting provider call",
		slog.String("call_id", callID),
		slog.String("provider", ProviderAnthropic),
		slog.String("operation", op),
		slog.String("model", a.config.Model),
		slog.Int("max_tokens", tokenCap))

	// Record start time for duration measurement
	start := time.Now()

	// Call Anthropic API
	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.config.Model),
		MaxTokens: int64(tokenCap),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewTextBlock(req.Prompt),
			),
		},
	})

	duration := time.Since(start)

	if err != nil {
		slog.ErrorContext(ctx, "Provider call failed",
			slog.String("call_id", callID),
			slog.String("provider", ProviderAnthropic),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("anthropic api error: %w", err)
	}

	// Validate response structure
	if len(message.Content) == 0 {
		slog.ErrorContext(ctx, "Anthropic API returned empty response",
			slog.String("call_id", callID),
			slog.Duration("duration", duration))
		return nil, fmt.Errorf("anthropic api returned empty response")
	}

	// Extract text from response
	textBlock, ok := message.Content[0].AsAny().(anthropic.TextBlock)
	if !ok {
		slog.ErrorContext(ctx, "Anthropic API returned unexpected response type",
			slog.String("call_id", callID),
			slog.Duration("duration", duration))
		return nil, fmt.Errorf("anthropic api returned unexpected response type")
	}

	resp := &Response{
		Text:             textBlock.Text,
		PromptTokens:     int(message.Usage.InputTokens),
		CompletionTokens: int(message.Usage.OutputTokens),
		UpstreamDuration: duration,
	}

	// Log call result
	slog.InfoContext(ctx, "Provider call completed",
		slog.String("call_id", callID),
		slog.String("provider", ProviderAnthropic),
		slog.Int("prompt_tokens", resp.PromptTokens),
		slog.Int("completion_tokens", resp.CompletionTokens),
		slog.Duration("duration", duration))

	// Record metrics
	a.metricsRecorder.RecordDuration(ProviderAnthropic, duration)

	return resp, nil
}
