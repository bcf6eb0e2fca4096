package tracing

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// SenderKey is the context key for the sender identity
	SenderKey ContextKey = "sender"
	// MessageIDKey is the context key for the inbound message ID
	MessageIDKey ContextKey = "message_id"
)

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithSender adds the sender identity to the context
func WithSender(ctx context.Context, sender string) context.Context {
	return context.WithValue(ctx, SenderKey, sender)
}

// WithMessageID adds the inbound message ID to the context
func WithMessageID(ctx context.Context, messageID string) context.Context {
	return context.WithValue(ctx, MessageIDKey, messageID)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// GetSender retrieves the sender identity from the context
func GetSender(ctx context.Context) string {
	if sender, ok := ctx.Value(SenderKey).(string); ok {
		return sender
	}
	return ""
}

// GetMessageID retrieves the inbound message ID from the context
func GetMessageID(ctx context.Context) string {
	if messageID, ok := ctx.Value(MessageIDKey).(string); ok {
		return messageID
	}
	return ""
}

// NewRequestContext creates a new context for an inbound message with a fresh trace ID
func NewRequestContext(ctx context.Context) context.Context {
	return WithTraceID(ctx, NewTraceID())
}

// LoggerFromContext creates a logger carrying the tracing fields present in ctx
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	if traceID := GetTraceID(ctx); traceID != "" {
		baseLogger = baseLogger.With().Str("trace_id", traceID).Logger()
	}
	if sender := GetSender(ctx); sender != "" {
		baseLogger = baseLogger.With().Str("sender", sender).Logger()
	}
	if messageID := GetMessageID(ctx); messageID != "" {
		baseLogger = baseLogger.With().Str("message_id", messageID).Logger()
	}
	return baseLogger
}
