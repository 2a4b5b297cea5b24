package common

import (
	"context"

	"github.com/google/uuid"
	"github.com/marcua/ayb/common/logging"
)

type correlationIDKey struct{}

// ContextWithCorrelationID attaches a per-request correlation ID, generating
// one if id is empty.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.NewString()
	}

	return context.WithValue(ctx, correlationIDKey{}, id)
}

// CorrelationIDFromContext returns the correlation ID attached by
// ContextWithCorrelationID, or "" if none was attached.
func CorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey{}).(string); ok {
		return id
	}

	return ""
}

// LoggerFromContext returns the request-scoped logger, pre-tagged with the
// correlation ID if one is present.
func LoggerFromContext(ctx context.Context) logging.Logger {
	logger := logging.FromContext(ctx)
	if id := CorrelationIDFromContext(ctx); id != "" {
		logger = logger.With("correlation_id", id)
	}

	return logger
}
