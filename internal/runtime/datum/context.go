package datum

import "context"

type contextKey struct{}

// NewContext returns a copy of ctx carrying d. In-process broadcasts that
// preserve message contexts hand the same instance to the receiver this way.
func NewContext(ctx context.Context, d Datum) context.Context {
	return context.WithValue(ctx, contextKey{}, d)
}

// FromContext extracts the datum stored by NewContext.
func FromContext(ctx context.Context) (Datum, bool) {
	if ctx == nil {
		return nil, false
	}
	d, ok := ctx.Value(contextKey{}).(Datum)
	return d, ok && d != nil
}
