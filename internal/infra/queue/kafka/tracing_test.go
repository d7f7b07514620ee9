package kafka

import (
	"context"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestTraceContextCrossesHeaders(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	tracer := sdktrace.NewTracerProvider().Tracer("test")
	ctx, span := startProducerSpan(context.Background(), testTopic, tracer)
	defer span.End()

	out := &sarama.ProducerMessage{Topic: testTopic}
	injectTraceContext(ctx, out)
	assert.NotEmpty(t, out.Headers)

	in := &sarama.ConsumerMessage{Topic: testTopic}
	for i := range out.Headers {
		in.Headers = append(in.Headers, &out.Headers[i])
	}
	in.Headers = append(in.Headers, nil)

	got := trace.SpanContextFromContext(extractTraceContext(context.Background(), in))
	assert.True(t, got.IsRemote())
	assert.Equal(t, span.SpanContext().TraceID(), got.TraceID())
}
