package authn

import (
	"context"
	"time"
)

// AuthContext carries per-request facts into the orchestrator explicitly.
// Nothing here is read from ambient globals, so every component is testable
// without a simulated request environment.
type AuthContext struct {
	OriginAddress    string
	ClientDescriptor string
	// Transport is the primary authenticated-session transport value
	// (a signed token), when the request carried one.
	Transport string
	// SessionToken is the raw ledger token, used only as the degraded
	// fallback when Transport is absent.
	SessionToken string
	// Now optionally pins the request time; zero means the wall clock.
	Now time.Time
}

func (a AuthContext) at(fallback func() time.Time) time.Time {
	if !a.Now.IsZero() {
		return a.Now
	}
	return fallback()
}

type principalContextKey struct{}

// ContextWithPrincipal attaches the resolved principal to the context for
// downstream handlers.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, &p)
}

// PrincipalFromContext extracts the principal placed by the auth middleware.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || v == nil {
		return Principal{}, false
	}
	return *v, true
}
