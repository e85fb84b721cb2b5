package providerlimit

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/redis/go-redis/v9"
)

// ErrCircuitOpen is returned by Acquire when the provider's circuit breaker
// is rejecting calls. Callers should treat it as temporary unavailability of
// that provider, not a hard failure.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrStoreUnavailable wraps coordination store transport failures. It never
// reaches callers of Acquire (the coordinated path falls back to local
// limiting instead) but shows up in logs and in Ping results.
var ErrStoreUnavailable = errors.New("coordination store unavailable")

// IsCircuitOpen reports whether err indicates a provider rejected by its
// circuit breaker.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}

// circuitOpenError builds the error Acquire returns for an open breaker,
// carrying the provider name while staying matchable with errors.Is.
func circuitOpenError(provider string) error {
	return fmt.Errorf("provider %q: %w", provider, ErrCircuitOpen)
}

// isStoreError reports whether err is a transport-level failure talking to
// the coordination store. Ceiling rejections are not errors and context
// cancellation belongs to the caller, so neither lands here.
func isStoreError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var redisErr redis.Error
	if errors.As(err, &redisErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return errors.Is(err, ErrStoreUnavailable)
}
