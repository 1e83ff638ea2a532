package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/nikodwicahyo/helpdesk/internal/authn"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "

	// sessionTokenHeader carries the raw ledger token on the degraded path,
	// when the signed transport could not be issued or was lost.
	sessionTokenHeader = "X-Session-Token"

	// refreshedTransportHeader returns a freshly signed transport whenever the
	// degraded path resolved the caller, so the client re-establishes the
	// primary path on its next request.
	refreshedTransportHeader = "X-Refreshed-Token"
)

var publicPaths = []string{
	"/v1/auth/login",
	"/v1/info",
	"/metrics",
	"/healthz",
	"/readyz",
	"/",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		actx := authn.AuthContext{
			OriginAddress:    clientIP(r),
			ClientDescriptor: r.UserAgent(),
			SessionToken:     strings.TrimSpace(r.Header.Get(sessionTokenHeader)),
		}
		if token, err := extractBearerToken(r.Header.Get(authHeader)); err == nil {
			actx.Transport = token
		} else if actx.SessionToken == "" {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		principal, refreshed, ok := a.orch.CurrentPrincipal(r.Context(), actx)
		if !ok {
			writeError(w, r, http.StatusUnauthorized, "session is invalid or expired")
			return
		}
		if refreshed != "" {
			w.Header().Set(refreshedTransportHeader, refreshed)
		}

		ctx := authn.ContextWithPrincipal(r.Context(), principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireCapability resolves the principal and checks one capability. Writes
// the error response itself; callers just return on false.
func (a *API) requireCapability(w http.ResponseWriter, r *http.Request, capability string) (authn.Principal, bool) {
	principal, ok := authn.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return authn.Principal{}, false
	}
	if capability != "" && !a.orch.HasPermission(principal, capability) {
		writeError(w, r, http.StatusForbidden, "insufficient permissions")
		return authn.Principal{}, false
	}
	return principal, true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
