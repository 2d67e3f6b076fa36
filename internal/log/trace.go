package log

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// WithTraceContext returns a logger carrying trace_id and span_id fields when
// ctx holds a valid sampled span. Log lines then correlate with exported
// traces.
func WithTraceContext(ctx context.Context) zerolog.Logger {
	logger := Base()
	span := trace.SpanContextFromContext(ctx)
	if !span.IsValid() {
		return logger
	}
	return logger.With().
		Str("trace_id", span.TraceID().String()).
		Str("span_id", span.SpanID().String()).
		Logger()
}
