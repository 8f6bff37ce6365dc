package proxycontext

import (
	"context"

	"github.com/denisvmedia/go-proxychain/proxy/internal/conn"
)

type proxyContextKey string

// Private context keys.
var clientConnKey proxyContextKey = "clientConn"

// WithClientConn adds the client connection record to the given context.
func WithClientConn(ctx context.Context, c *conn.ClientConn) context.Context {
	return context.WithValue(ctx, clientConnKey, c)
}

// GetClientConn retrieves the client connection record from the given context.
func GetClientConn(ctx context.Context) (*conn.ClientConn, bool) {
	c, ok := ctx.Value(clientConnKey).(*conn.ClientConn)
	return c, ok
}
