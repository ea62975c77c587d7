package eventing

import "context"

type contextKey string

const (
	contextKeyCorr    contextKey = "eventing.correlation_id"
	contextKeySource  contextKey = "eventing.source"
	contextKeyEventID contextKey = "eventing.event_id"
)

// WithCorrelationID sets the correlation id, usually the inbound message id.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, contextKeyCorr, correlationID)
}

// CorrelationID returns the correlation id carried by ctx.
func CorrelationID(ctx context.Context) string {
	if value, ok := ctx.Value(contextKeyCorr).(string); ok {
		return value
	}
	return ""
}

// WithSource names the transport that delivered the message.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, contextKeySource, source)
}

// WithEventID sets event id in context.
func WithEventID(ctx context.Context, eventID string) context.Context {
	return context.WithValue(ctx, contextKeyEventID, eventID)
}

// MetaFromContext builds metadata from context.
func MetaFromContext(ctx context.Context) Meta {
	meta := Meta{CorrelationID: CorrelationID(ctx)}
	if value, ok := ctx.Value(contextKeySource).(string); ok {
		meta.Source = value
	}
	if value, ok := ctx.Value(contextKeyEventID).(string); ok {
		meta.EventID = value
	}
	return meta
}
