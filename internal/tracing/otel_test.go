package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// installSpanRecorder swaps in a recording tracer provider for one test.
func installSpanRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	return recorder
}

func TestStartSpan_AttachesContextAttributes(t *testing.T) {
	recorder := installSpanRecorder(t)

	ctx := WithSender(context.Background(), "whatsapp:+639171234567")
	ctx = WithMessageID(ctx, "SM123")

	_, span := StartSpan(ctx, "stockbot.test", "test.op")
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)

	attrs := spans[0].Attributes()
	assert.Contains(t, attrs, attribute.String("sender", "whatsapp:+639171234567"))
	assert.Contains(t, attrs, attribute.String("message_id", "SM123"))
}

func TestStartSpan_AdoptsSpanTraceID(t *testing.T) {
	installSpanRecorder(t)

	ctx, span := StartSpan(context.Background(), "stockbot.test", "test.op")
	defer span.End()

	assert.Equal(t, span.SpanContext().TraceID().String(), GetTraceID(ctx))
}

func TestStartSpan_KeepsExistingTraceID(t *testing.T) {
	installSpanRecorder(t)

	ctx := WithTraceID(context.Background(), "trace-existing")
	ctx, span := StartSpan(ctx, "stockbot.test", "test.op")
	defer span.End()

	assert.Equal(t, "trace-existing", GetTraceID(ctx))
}

func TestStartSpan_NilContext(t *testing.T) {
	installSpanRecorder(t)

	ctx, span := StartSpan(nil, "stockbot.test", "test.op") //nolint:staticcheck
	defer span.End()

	assert.NotNil(t, ctx)
	assert.NotEmpty(t, GetTraceID(ctx))
}

func TestShutdownOpenTelemetry_NoProvider(t *testing.T) {
	assert.NoError(t, ShutdownOpenTelemetry(context.Background()))
}
