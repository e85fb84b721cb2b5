// Package callid provides utilities for tagging outbound provider calls
// with unique IDs. It generates a unique ID for each call to enable call
// tracing across log entries.
package callid

import (
	"context"

	"github.com/google/uuid"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// CallIDKey is the context key for storing call IDs.
const CallIDKey contextKey = "call_id"

// New generates a new unique call ID (UUID v4).
func New() string {
	return uuid.New().String()
}

// FromContext retrieves the call ID from the context.
// Returns an empty string if no call ID is found.
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(CallIDKey).(string); ok {
		return id
	}
	return ""
}

// WithCallID adds a call ID to the context.
func WithCallID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CallIDKey, id)
}

// Ensure returns a context carrying a call ID, generating a new UUID v4
// if the context has none. The returned string is the effective call ID.
func Ensure(ctx context.Context) (context.Context, string) {
	if id := FromContext(ctx); id != "" {
		return ctx, id
	}
	id := New()
	return WithCallID(ctx, id), id
}
