package core

import "context"

type clientOrderIDKey struct{}

// WithClientOrderID attaches the client order id adapters should send
func WithClientOrderID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, clientOrderIDKey{}, id)
}

// ClientOrderID returns the id attached by WithClientOrderID
func ClientOrderID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(clientOrderIDKey{}).(string)
	return id, ok && id != ""
}
