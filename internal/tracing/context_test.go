package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTraceID(t *testing.T) {
	id1 := NewTraceID()
	id2 := NewTraceID()

	assert.NotEmpty(t, id1)
	assert.NotEmpty(t, id2)
	assert.NotEqual(t, id1, id2)
}

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()

	ctx = WithTraceID(ctx, "trace-123")
	ctx = WithSender(ctx, "whatsapp:+639171234567")
	ctx = WithMessageID(ctx, "SM123")

	assert.Equal(t, "trace-123", GetTraceID(ctx))
	assert.Equal(t, "whatsapp:+639171234567", GetSender(ctx))
	assert.Equal(t, "SM123", GetMessageID(ctx))
}

func TestGetFromEmptyContext(t *testing.T) {
	ctx := context.Background()

	assert.Empty(t, GetTraceID(ctx))
	assert.Empty(t, GetSender(ctx))
	assert.Empty(t, GetMessageID(ctx))
}

func TestNewRequestContext(t *testing.T) {
	ctx := NewRequestContext(context.Background())
	assert.NotEmpty(t, GetTraceID(ctx))
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-abc")
	ctx = WithSender(ctx, "whatsapp:+639998887777")

	logger := LoggerFromContext(ctx, base)
	logger.Info().Msg("hello")

	out := buf.String()
	require.NotEmpty(t, out)
	assert.Contains(t, out, "trace-abc")
	assert.Contains(t, out, "whatsapp:+639998887777")
}

func TestLoggerFromContext_NoFields(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	logger := LoggerFromContext(context.Background(), base)
	logger.Info().Msg("plain")

	assert.NotContains(t, buf.String(), "trace_id")
}
