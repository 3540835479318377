package observe

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	logx "github.com/procura-agent/server/pkg/logger"
)

const tracerName = "github.com/procura-agent/server"

// Tracer returns the tracer registered with the global TracerProvider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span. The caller must End it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// Logger returns the global zerolog logger enriched with trace_id and span_id
// when ctx carries a valid span.
func Logger(ctx context.Context) *zerolog.Logger {
	l := logx.Logger()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With().
			Str("trace_id", sc.TraceID().String()).
			Str("span_id", sc.SpanID().String()).
			Logger()
	}
	return &l
}
