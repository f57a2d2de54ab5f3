package servicecontext

import (
	"context"

	"github.com/dgellow/mcp-relay/internal/idp"
)

type contextKey string

const (
	identityKey contextKey = "auth.identity"
	clientKey   contextKey = "auth.client"
)

// WithIdentity stores a copy of the authenticated identity for one
// protected request
func WithIdentity(ctx context.Context, identity idp.Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// GetIdentity retrieves the identity stored by WithIdentity
func GetIdentity(ctx context.Context) (idp.Identity, bool) {
	identity, ok := ctx.Value(identityKey).(idp.Identity)
	return identity, ok
}

// WithClientID records the downstream client the bearer token was issued to
func WithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientKey, clientID)
}

func GetClientID(ctx context.Context) (string, bool) {
	clientID, ok := ctx.Value(clientKey).(string)
	return clientID, ok && clientID != ""
}
