package tracing

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jaydeelew/callgate/internal/callid"
)

// StartCall begins a client span for an outbound provider call.
// The span is named "<provider>.<operation>" and carries the provider,
// operation, and call ID (when present in the context) as attributes.
//
// The returned context carries the span and must be passed to the
// provider SDK so downstream instrumentation can attach to it.
//
// Example usage:
//
//	ctx, span := tracing.StartCall(ctx, "openai", "chat_completion")
//	resp, err := client.CreateChatCompletion(ctx, req)
//	tracing.EndCall(span, err)
func StartCall(ctx context.Context, provider, operation string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, provider+"."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
	)

	span.SetAttributes(
		attribute.String("gate.provider", provider),
		attribute.String("gate.operation", operation),
	)
	if id := callid.FromContext(ctx); id != "" {
		span.SetAttributes(attribute.String("gate.call_id", id))
	}

	return ctx, span
}

// EndCall finalizes a provider call span, recording the error if any.
func EndCall(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AnnotateAdmission records how the call was admitted through the gate:
// which limiter mode admitted it and how long admission took.
func AnnotateAdmission(span trace.Span, mode string, wait time.Duration) {
	span.SetAttributes(
		attribute.String("gate.admission_mode", mode),
		attribute.Float64("gate.admission_wait_seconds", wait.Seconds()),
	)
}
