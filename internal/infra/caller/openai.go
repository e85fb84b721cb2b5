package caller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"

	"github.com/jaydeelew/callgate/internal/callid"
	"github.com/jaydeelew/callgate/internal/observability/tracing"
	"github.com/jaydeelew/callgate/internal/resilience/circuitbreaker"
	"github.com/jaydeelew/callgate/internal/resilience/retry"
	"github.com/jaydeelew/callgate/pkg/providerlimit"
)

// OpenAIConfig holds configuration parameters for the OpenAI caller.
// Configuration is loaded from environment variables with fallback to defaults.
type OpenAIConfig struct {
	// Model is the OpenAI API model identifier to use for calls.
	// Loaded from CALLER_OPENAI_MODEL environment variable.
	Model string

	// MaxTokens is the response token cap applied when a request does not
	// override it. Loaded from CALLER_MAX_TOKENS environment variable.
	// Valid range: 1-32768 tokens. Default: 1024.
	MaxTokens int

	// Timeout is the maximum duration for a single call including retries.
	Timeout time.Duration
}

// GetModel implements CallerConfig interface.
// Returns the configured OpenAI model identifier.
func (c *OpenAIConfig) GetModel() string {
	return c.Model
}

// GetMaxTokens implements CallerConfig interface.
// Returns the configured response token cap.
func (c *OpenAIConfig) GetMaxTokens() int {
	return c.MaxTokens
}

// GetTimeout implements CallerConfig interface.
// Returns the configured per-call timeout.
func (c *OpenAIConfig) GetTimeout() time.Duration {
	return c.Timeout
}

// Validate implements CallerConfig interface.
// Validates the configuration and returns an error if invalid.
func (c *OpenAIConfig) Validate() error {
	// Validate token cap using shared helper
	if err := ValidateMaxTokens(c.MaxTokens); err != nil {
		return fmt.Errorf("invalid max tokens: %w", err)
	}

	// Validate other fields
	if c.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", c.Timeout)
	}

	return nil
}

// LoadOpenAIConfig loads configuration from environment variables.
// It performs validation on the token cap to ensure it's within a valid range (1-32768).
// Returns an error if the configuration is invalid.
//
// Environment variables:
//   - CALLER_OPENAI_MODEL: Model identifier (default: gpt-4o-mini)
//   - CALLER_MAX_TOKENS: Response token cap (default: 1024, range: 1-32768)
//
// Returns:
//   - OpenAIConfig with validated settings
//   - error if validation fails (fail-closed behavior)
func LoadOpenAIConfig() (*OpenAIConfig, error) {
	const defaultMaxTokens = 1024

	maxTokens := defaultMaxTokens

	if envTokens := os.Getenv("CALLER_MAX_TOKENS"); envTokens != "" {
		parsed, err := strconv.Atoi(envTokens)
		if err != nil {
			return nil, fmt.Errorf("invalid CALLER_MAX_TOKENS format: %s: %w", envTokens, err)
		}

		// Validate token cap using shared helper
		if err := ValidateMaxTokens(parsed); err != nil {
			return nil, fmt.Errorf("CALLER_MAX_TOKENS out of valid range: %w", err)
		}

		maxTokens = parsed
	}

	model := "gpt-4o-mini"
	if envModel := os.Getenv("CALLER_OPENAI_MODEL"); envModel != "" {
		model = envModel
	}

	config := &OpenAIConfig{
		Model:     model,
		MaxTokens: maxTokens,
		Timeout:   60 * time.Second,
	}

	// Validate the entire configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid OpenAI configuration: %w", err)
	}

	return config, nil
}

// OpenAI implements the Caller interface using OpenAI's chat completion API.
// Every call is admitted through the provider gate first, then executed
// through circuit breaker and retry logic for improved reliability.
type OpenAI struct {
	client          *openai.Client
	gate            *providerlimit.Facade
	circuitBreaker  *circuitbreaker.CircuitBreaker
	retryConfig     retry.Config
	config          CallerConfig
	metricsRecorder CallMetricsRecorder
}

// NewOpenAI creates a new OpenAI caller with the given API key.
// It automatically configures circuit breaker, retry logic, and metrics
// recording. The gate must not be nil.
func NewOpenAI(apiKey string, config CallerConfig, gate *providerlimit.Facade) *OpenAI {
	slog.Info("Initialized OpenAI caller with configuration",
		slog.String("model", config.GetModel()),
		slog.Int("max_tokens", config.GetMaxTokens()),
		slog.String("gate_mode", gate.Mode()))

	return &OpenAI{
		client:          openai.NewClient(apiKey),
		gate:            gate,
		circuitBreaker:  circuitbreaker.New(circuitbreaker.OpenAIAPIConfig()),
		retryConfig:     retry.ProviderCallConfig(),
		config:          config,
		metricsRecorder: NewPrometheusCallMetrics(),
	}
}

// Name implements the Caller interface.
func (o *OpenAI) Name() string {
	return ProviderOpenAI
}

// Call sends the prompt to OpenAI after admission through the gate.
// Repeated prompts are served from the result cache without consuming
// rate-limit budget. Admission rejections return before any network I/O.
func (o *OpenAI) Call(ctx context.Context, req Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	op := req.operation()

	ctx, callID := callid.Ensure(ctx)

	// Serve repeated prompts from the result cache
	if !req.NoCache {
		if cached, ok := o.gate.CacheGet(ProviderOpenAI, req.Prompt); ok {
			slog.DebugContext(ctx, "Result cache hit, skipping provider call",
				slog.String("call_id", callID),
				slog.String("provider", ProviderOpenAI))
			o.metricsRecorder.RecordCall(ProviderOpenAI, op, "cached")
			return &Response{Text: cached, Cached: true}, nil
		}
	}

	admissionStart := time.Now()
	grant, err := o.gate.Acquire(ctx, ProviderOpenAI)
	if err != nil {
		o.metricsRecorder.RecordCall(ProviderOpenAI, op, "rejected")
		return nil, &AdmissionError{Provider: ProviderOpenAI, Err: err}
	}
	defer grant.Release()
	admissionWait := time.Since(admissionStart)

	ctx, span := tracing.StartCall(ctx, ProviderOpenAI, op)
	tracing.AnnotateAdmission(span, o.gate.Mode(), admissionWait)

	// Set individual timeout covering all retry attempts
	ctx, cancel := context.WithTimeout(ctx, o.config.GetTimeout())
	defer cancel()

	var result *Response
	attempt := 0

	// Wrap with retry logic
	retryErr := retry.WithBackoff(ctx, o.retryConfig, func() error {
		attempt++
		if attempt > 1 {
			o.metricsRecorder.RecordRetry(ProviderOpenAI)
		}

		// Execute through circuit breaker
		cbResult, err := o.circuitBreaker.Execute(func() (interface{}, error) {
			return o.doCall(ctx, callID, req, op)
		})

		// Handle circuit breaker open state
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) {
				slog.Warn("openai api circuit breaker open, request rejected",
					slog.String("service", "openai-api"),
					slog.String("state", o.circuitBreaker.State().String()))
				return fmt.Errorf("openai api unavailable: circuit breaker open")
			}
			return err
		}

		result = cbResult.(*Response)
		return nil
	})

	tracing.EndCall(span, retryErr)

	if retryErr != nil {
		o.gate.RecordFailure(ProviderOpenAI, classifyFailure(retryErr))
		o.metricsRecorder.RecordCall(ProviderOpenAI, op, "error")
		return nil, fmt.Errorf("openai call failed after retries: %w", retryErr)
	}

	result.AdmissionWait = admissionWait
	o.gate.RecordSuccess(ProviderOpenAI, result.UpstreamDuration.Seconds())
	o.metricsRecorder.RecordCall(ProviderOpenAI, op, "success")
	o.metricsRecorder.RecordTokens(ProviderOpenAI, result.PromptTokens, result.CompletionTokens)
	if !req.NoCache {
		o.gate.CacheSet(ProviderOpenAI, req.Prompt, result.Text, 0)
	}

	return result, nil
}

// doCall performs the actual API call without retry or circuit breaker.
// It includes comprehensive structured logging and metrics recording for observability.
func (o *OpenAI) doCall(ctx context.Context, callID string, req Request, op string) (*Response, error) {
	tokenCap := o.config.GetMaxTokens()
	if req.MaxTokens > 0 {
		tokenCap = req.MaxTokens
	}

	// Log call start
	slog.InfoContext(ctx, "Starting provider call",
		slog.String("call_id", callID),
		slog.String("provider", ProviderOpenAI),
		slog.String("operation", op),
		slog.String("model", o.config.GetModel()),
		slog.Int("max_tokens", tokenCap))

	// Record start time for duration measurement
	start := time.Now()

	// Call OpenAI API
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     o.config.GetModel(),
		MaxTokens: tokenCap,
		Messages: []openai.ChatCompletionMessage{{
			Role:    "user",
			Content: req.Prompt,
		}},
	})

	duration := time.Since(start)

	if err != nil {
		slog.ErrorContext(ctx, "Provider call failed",
			slog.String("call_id", callID),
			slog.String("provider", ProviderOpenAI),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("openai api error: %w", err)
	}

	// Validate response structure (safety check to prevent panic on array access)
	if len(resp.Choices) == 0 {
		slog.ErrorContext(ctx, "OpenAI API returned empty response",
			slog.String("call_id", callID),
			slog.Duration("duration", duration))
		return nil, fmt.Errorf("openai api returned empty response")
	}

	result := &Response{
		Text:             resp.Choices[0].Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		UpstreamDuration: duration,
	}

	// Log call result
	slog.InfoContext(ctx, "Provider call completed",
		slog.String("call_id", callID),
		slog.String("provider", ProviderOpenAI),
		slog.Int("prompt_tokens", result.PromptTokens),
		slog.Int("completion_tokens", result.CompletionTokens),
		slog.Duration("duration", duration))

	// Record metrics
	o.metricsRecorder.RecordDuration(ProviderOpenAI, duration)

	return result, nil
}
