package httpapi

import (
	"context"

	"unmgate.org/internal/apikey"
)

type contextKey string

const (
	identityKey  contextKey = "identity"
	requestIDKey contextKey = "request_id"
)

// Identity is the authenticated caller attached to every request after
// the auth middleware has run. Role is the permission role the caller's
// credential level maps to, or the configured default when anonymous.
type Identity struct {
	Authenticated bool
	KeyID         string
	ClientID      string
	Level         apikey.Level
	Role          string
}

// ContextWithIdentity attaches id to ctx.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the caller identity, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// RequestIDFromContext returns the request identifier set by the
// RequestID middleware, or "".
func RequestIDFromContext(ctx context.Context) string {
	rid, _ := ctx.Value(requestIDKey).(string)
	return rid
}
