// Package logging provides structured logging utilities with context propagation.
//
// This package wraps the standard library's log/slog package with helper functions
// for common logging patterns used throughout the application.
//
// Key features:
//   - JSON and text output formats
//   - Call ID propagation
//   - Context-aware logging
//   - Configurable log levels
//
// Example usage:
//
//	import "github.com/jaydeelew/callgate/internal/observability/logging"
//
//	func main() {
//	    logger := logging.NewLogger()
//	    logger.Info("gate started", slog.String("version", "1.0"))
//	}
//
//	func callProvider(ctx context.Context) {
//	    logger := logging.WithCallID(ctx, slog.Default())
//	    logger.Info("dispatching provider call")
//	}
package logging
