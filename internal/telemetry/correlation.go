package telemetry

import (
	"context"

	"github.com/google/uuid"
)

type corrKey struct{}

// NewCorrelationID mints a 36-character opaque correlation id for one
// pipeline invocation, matching the indexer/agent convention of using
// google/uuid for request-scoped identifiers.
func NewCorrelationID() string {
	return uuid.NewString()
}

// WithCorrelation substitutes corrID for the dynamic extent of fn and
// restores whatever correlation id (if any) was present on ctx beforehand.
// Because Go contexts are immutable and passed explicitly, "restoring the
// prior id on exit" falls out naturally: fn only ever sees the child
// context, the caller's ctx is untouched.
func WithCorrelation(ctx context.Context, corrID string, fn func(ctx context.Context)) {
	fn(context.WithValue(ctx, corrKey{}, corrID))
}

// CorrelationID extracts the correlation id threaded onto ctx, or "" if none
// has been set. A logger built with no correlation id still emits valid
// lines; it simply carries an empty corr_id field.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(corrKey{}).(string)
	return id
}

// ContextWithCorrelation returns a child context carrying corrID. Prefer
// WithCorrelation for scoped substitution; this is for call sites (e.g. the
// Assembler's entrypoint) that need to hand the context onward rather than
// run a single closure.
func ContextWithCorrelation(ctx context.Context, corrID string) context.Context {
	return context.WithValue(ctx, corrKey{}, corrID)
}
