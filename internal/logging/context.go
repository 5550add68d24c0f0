package logging

import "context"

// Context keys for correlation IDs carried alongside a request.
type contextKey string

const (
	traceIDKey   contextKey = "trace_id"
	spanIDKey    contextKey = "span_id"
	requestIDKey contextKey = "request_id"
)

// TraceIDKey returns the context key for trace ID.
// Use this to add a trace ID to a context:
//
//	ctx := context.WithValue(ctx, logging.TraceIDKey(), "trace-123")
func TraceIDKey() interface{} {
	return traceIDKey
}

// SpanIDKey returns the context key for span ID.
// Use this to add a span ID to a context:
//
//	ctx := context.WithValue(ctx, logging.SpanIDKey(), "span-456")
func SpanIDKey() interface{} {
	return spanIDKey
}

// RequestIDKey returns the context key for an HTTP request ID.
// The API server attaches one to every request context so handler
// logs can be correlated with a single call.
func RequestIDKey() interface{} {
	return requestIDKey
}

// extractContextFields extracts correlation IDs from context if available.
// Returns nil if context is nil or if no IDs are found.
func extractContextFields(ctx context.Context) map[string]interface{} {
	if ctx == nil {
		return nil
	}

	fields := make(map[string]interface{})

	if traceID := ctx.Value(traceIDKey); traceID != nil {
		fields["trace_id"] = traceID
	}

	if spanID := ctx.Value(spanIDKey); spanID != nil {
		fields["span_id"] = spanID
	}

	if requestID := ctx.Value(requestIDKey); requestID != nil {
		fields["request_id"] = requestID
	}

	if len(fields) == 0 {
		return nil
	}

	return fields
}
