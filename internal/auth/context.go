package auth

import "context"

// identityContextKey is an unexported type so no other package can collide
// with this context key (grounded on toolhive's pkg/auth/context.go pattern).
type identityContextKey struct{}

// WithIdentity stores an Identity in ctx for downstream handlers/policy
// evaluation to retrieve.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext retrieves the Identity attached to ctx, if any.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(*Identity)
	return identity, ok
}
