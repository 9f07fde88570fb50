package correlation

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey int

const ctxKeyID ctxKey = iota

// HTTPHeader carries the correlation id across HTTP boundaries.
const HTTPHeader = "X-Correlation-Id"

// MessageHeader carries the correlation id on broker messages.
// Lowercase snake to match the other Kafka headers we emit.
const MessageHeader = "correlation_id"

// FromContext returns the correlation id for the current operation,
// or "" if none was established.
func FromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyID).(string)
	return v
}

// WithID roots ctx with an explicit correlation id. Empty ids are ignored
// so a missing inbound header never erases an already-established id.
func WithID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKeyID, id)
}

// Ensure adopts the id already on ctx, or generates a fresh one and
// returns the rooted context. Entry points (HTTP middleware, consumers)
// call this once per logical operation.
func Ensure(ctx context.Context) (context.Context, string) {
	if id := FromContext(ctx); id != "" {
		return ctx, id
	}
	id := NewID()
	return context.WithValue(ctx, ctxKeyID, id), id
}

func NewID() string {
	return uuid.NewString()
}
