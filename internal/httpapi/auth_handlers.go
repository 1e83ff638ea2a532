package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nikodwicahyo/helpdesk/internal/authn"
	"github.com/nikodwicahyo/helpdesk/internal/session"
)

type loginRequest struct {
	NIP      string `json:"nip"`
	Password string `json:"password"`
}

type principalView struct {
	NIP          string   `json:"nip"`
	Role         string   `json:"role"`
	Name         string   `json:"name,omitempty"`
	Capabilities []string `json:"capabilities"`
}

type meResponse struct {
	principalView
	// ExpiresInSeconds counts down the absolute session budget; ExpiryWarning
	// flips on when the remaining time is inside the warning threshold.
	ExpiresInSeconds int  `json:"expires_in_seconds"`
	ExpiryWarning    bool `json:"expiry_warning"`
}

type loginResponse struct {
	Token        string        `json:"token"`
	SessionToken string        `json:"session_token"`
	ExpiresAt    time.Time     `json:"expires_at"`
	Principal    principalView `json:"principal"`
}

func viewPrincipal(p authn.Principal) principalView {
	return principalView{
		NIP:          p.Identity.NIP,
		Role:         string(p.Role),
		Name:         p.Identity.Name,
		Capabilities: p.Capabilities,
	}
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	actx := authn.AuthContext{
		OriginAddress:    clientIP(r),
		ClientDescriptor: r.UserAgent(),
	}
	res := a.orch.Login(r.Context(), actx, req.NIP, req.Password)
	if !res.Success {
		writeLoginFailure(w, r, res)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:        res.Transport,
		SessionToken: res.SessionToken,
		ExpiresAt:    res.ExpiresAt,
		Principal:    viewPrincipal(*res.Principal),
	})
}

// writeLoginFailure maps each outcome code to exactly one status and one
// stable message.
func writeLoginFailure(w http.ResponseWriter, r *http.Request, res authn.LoginResult) {
	payload := map[string]any{
		"code":  string(res.Code),
		"error": res.Code.Message(),
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}

	status := http.StatusInternalServerError
	switch res.Code {
	case authn.CodeRateLimited:
		status = http.StatusTooManyRequests
		if res.RetryAfter > 0 {
			secs := int(math.Ceil(res.RetryAfter.Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			payload["retry_after_seconds"] = secs
		}
	case authn.CodeInvalidCredentials:
		status = http.StatusUnauthorized
	case authn.CodeAccountInactive:
		status = http.StatusForbidden
	case authn.CodeMaxSessions:
		status = http.StatusConflict
		payload["active_sessions"] = res.ActiveSessions
	}
	writeJSON(w, status, payload)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := a.requireCapability(w, r, "")
	if !ok {
		return
	}
	a.orch.Logout(r.Context(), principal.SessionToken)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := a.requireCapability(w, r, "")
	if !ok {
		return
	}
	res := meResponse{principalView: viewPrincipal(principal)}
	if remaining, warn, err := a.orch.ExpiryWarning(r.Context(), principal.SessionToken); err == nil {
		res.ExpiresInSeconds = int(remaining.Seconds())
		res.ExpiryWarning = warn
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleSessions(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.requireCapability(w, r, "")
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		list, err := a.orch.ListActiveSessions(r.Context(), principal.Identity.NIP)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "session listing failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"sessions": list,
			"current":  principal.SessionToken,
		})
	default:
		methodNotAllowed(w, r, http.MethodGet)
	}
}

// handleSessionResource covers /v1/auth/sessions/{token} and
// /v1/auth/sessions/terminate-others.
func (a *API) handleSessionResource(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.requireCapability(w, r, "")
	if !ok {
		return
	}
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/auth/sessions/"), "/")
	if rest == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if rest == "terminate-others" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		n, err := a.orch.TerminateOthers(r.Context(), principal.Identity.NIP, principal.SessionToken)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "session termination failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"terminated": n})
		return
	}

	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if !a.ownsSession(r, principal, rest) {
		writeError(w, r, http.StatusNotFound, "session not found")
		return
	}
	if err := a.orch.TerminateSession(r.Context(), rest); err != nil && !errors.Is(err, session.ErrNotFound) {
		writeError(w, r, http.StatusInternalServerError, "session termination failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ownsSession confirms the target token belongs to the caller before allowing
// termination.
func (a *API) ownsSession(r *http.Request, principal authn.Principal, token string) bool {
	list, err := a.orch.ListActiveSessions(r.Context(), principal.Identity.NIP)
	if err != nil {
		return false
	}
	for _, s := range list {
		if s.Token == token {
			return true
		}
	}
	return false
}

// handleChannelAccess answers whether the caller may subscribe to a named
// notification channel: GET /v1/auth/channels/{channel}/access.
func (a *API) handleChannelAccess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := a.requireCapability(w, r, "")
	if !ok {
		return
	}
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/auth/channels/"), "/")
	channel, found := strings.CutSuffix(rest, "/access")
	if !found || channel == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"channel": channel,
		"allowed": authn.CanAccessChannel(principal, principal.Role, channel),
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
