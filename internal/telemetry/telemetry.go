// Package telemetry emits structured operational events. Events go to
// the structured log and, when a span is active, onto the current trace.
package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Tracker records named events and exceptions.
type Tracker struct {
	logger *slog.Logger
}

// NewTracker creates a tracker over the given logger. A nil logger uses
// the default.
func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{logger: logger}
}

// Event records a named operational event with properties.
func (t *Tracker) Event(ctx context.Context, name string, props map[string]interface{}) {
	attrs := make([]any, 0, len(props)*2)
	spanAttrs := make([]attribute.KeyValue, 0, len(props))
	for k, v := range props {
		attrs = append(attrs, k, v)
		spanAttrs = append(spanAttrs, attribute.String(k, toString(v)))
	}

	t.logger.InfoContext(ctx, name, attrs...)

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.AddEvent(name, trace.WithAttributes(spanAttrs...))
	}
}

// Exception records a handled error with its operation context.
func (t *Tracker) Exception(ctx context.Context, operation string, err error) {
	t.logger.ErrorContext(ctx, "operation failed",
		"operation", operation,
		"error", err,
	)

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.RecordError(err)
	}
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return slog.AnyValue(v).String()
}
