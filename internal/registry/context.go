package registry

import (
	"context"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey string

const (
	connectionKey contextKey = "connection"
)

// WithConnection adds the calling connection to the context
func WithConnection(ctx context.Context, conn Connection) context.Context {
	return context.WithValue(ctx, connectionKey, conn)
}

// ConnectionFromContext extracts the calling connection from the context
func ConnectionFromContext(ctx context.Context) (Connection, bool) {
	conn, ok := ctx.Value(connectionKey).(Connection)
	return conn, ok
}
