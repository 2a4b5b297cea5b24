// Package logging defines the Logger interface threaded through every ayb
// component and its zap-backed and no-op implementations.
package logging

import "context"

// Logger is the common interface every component depends on. It never
// exposes the backing implementation (zap, or none in tests) to callers.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	// With returns a derived logger that always includes the given
	// key/value pairs (an even-length list of alternating keys and values).
	With(args ...any) Logger

	// Sync flushes any buffered log entries. Safe to call on shutdown.
	Sync() error
}

type loggerContextKey struct{}

// ContextWithLogger returns a context carrying logger, retrievable with
// FromContext.
func ContextWithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, logger)
}

// FromContext extracts the Logger attached by ContextWithLogger, or the
// no-op Logger if none was attached.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(loggerContextKey{}).(Logger); ok {
		return l
	}

	return None()
}
