package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the vocalflow tracer.
const tracerName = "github.com/MrWong99/vocalflow"

// Span attribute keys shared by detector spans and their events.
const (
	AttrDetector  = attribute.Key("vocalflow.detector")
	AttrSessionID = attribute.Key("vocalflow.session_id")
	AttrFrames    = attribute.Key("vocalflow.frames")
	AttrFrom      = attribute.Key("vocalflow.phase.from")
	AttrTo        = attribute.Key("vocalflow.phase.to")
)

// Tracer returns the vocalflow tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span and returns the updated context and span. The
// caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartDetectorRun starts the span that covers one run of a detector, from
// its first frame until the source ends or the run is stopped. Calibration
// and transitions are added to it as events.
func StartDetectorRun(ctx context.Context, detector, sessionID string) (context.Context, trace.Span) {
	return StartSpan(ctx, "detector.run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(AttrDetector.String(detector), AttrSessionID.String(sessionID)),
	)
}

// EndDetectorRun records the frame count and outcome of a run and ends span.
func EndDetectorRun(span trace.Span, frames uint64, err error) {
	span.SetAttributes(AttrFrames.Int64(int64(frames)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CorrelationID extracts the trace ID from the span context in ctx, or ""
// when there is none.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with trace_id and span_id taken from
// ctx. Without an active span it is the default logger unchanged.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
