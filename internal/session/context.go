package session

import "context"

type contextIDKey struct{}

// WithContextID binds a browser context id to ctx. Everything downstream,
// including the backend transport, resolves the session through it.
func WithContextID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextIDKey{}, id)
}

// ContextID returns the browser context id bound to ctx.
func ContextID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextIDKey{}).(string)
	return id, ok && id != ""
}
