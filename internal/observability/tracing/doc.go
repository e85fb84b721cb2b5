// Package tracing provides OpenTelemetry tracing integration for outbound
// provider calls.
//
// Each gated call gets a client span carrying the provider name, the
// operation, and the call ID, so a slow or failed upstream request can be
// correlated with the admission decisions that preceded it.
//
// Span export is owned by the embedding application: this package only
// creates spans against the global tracer provider. Without a configured
// provider the spans are no-ops.
//
// Example usage:
//
//	import "github.com/jaydeelew/callgate/internal/observability/tracing"
//
//	func call(ctx context.Context) error {
//	    ctx, span := tracing.StartCall(ctx, "openai", "chat_completion")
//	    resp, err := client.CreateChatCompletion(ctx, req)
//	    tracing.EndCall(span, err)
//	    return err
//	}
package tracing
