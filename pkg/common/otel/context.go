package otel

import (
	"context"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const zeroTraceID = "00000000000000000000000000000000"

// GetTraceID returns the trace id of the span in ctx, or an all-zero id when
// ctx carries no valid span. Log records always get a trace_id this way.
func GetTraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return zeroTraceID
	}
	return sc.TraceID().String()
}

// FailSpan records err on span and marks it failed. It returns err so call
// sites can write `return otel.FailSpan(span, err)`.
func FailSpan(span trace.Span, err error) error {
	if err == nil {
		return nil
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
