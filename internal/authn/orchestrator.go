// Package authn composes identity resolution, login rate limiting and the
// session ledger into the login/logout workflow and the "current principal"
// query every other helpdesk module consumes.
package authn

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/nikodwicahyo/helpdesk/internal/audit"
	"github.com/nikodwicahyo/helpdesk/internal/identity"
	"github.com/nikodwicahyo/helpdesk/internal/obs"
	"github.com/nikodwicahyo/helpdesk/internal/ratelimit"
	"github.com/nikodwicahyo/helpdesk/internal/session"
)

// Resolver is the identity surface the orchestrator needs: lookups plus
// best-effort last-login bookkeeping. Both identity.Resolver and
// identity.CachedResolver satisfy it.
type Resolver interface {
	identity.Lookup
	TouchLastLogin(ctx context.Context, id identity.Identity, at time.Time) error
}

// Principal is the resolved caller every other module works with.
type Principal struct {
	Identity     identity.Identity
	Role         identity.RoleTag
	Capabilities []string
	SessionToken string
}

// HasCapability reports whether the principal's derived set includes the
// capability.
func (p Principal) HasCapability(capability string) bool {
	for _, c := range p.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// LoginResult is the outcome of one login attempt.
type LoginResult struct {
	Success   bool
	Code      Code
	Principal *Principal
	// Transport is the signed token the caller should present on subsequent
	// requests.
	Transport    string
	SessionToken string
	ExpiresAt    time.Time
	// ActiveSessions accompanies CodeMaxSessions so the caller can offer
	// explicit termination.
	ActiveSessions []session.Summary
	// RetryAfter accompanies CodeRateLimited.
	RetryAfter time.Duration
}

// sessionPayload is the opaque blob stored on every session: enough identity
// summary to reconstruct a principal without an identity-store round trip.
type sessionPayload struct {
	NIP          string   `json:"nip"`
	Role         string   `json:"role"`
	Name         string   `json:"name,omitempty"`
	Email        string   `json:"email,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// Orchestrator wires the gate, resolver, ledger and transport together.
type Orchestrator struct {
	resolver  Resolver
	gate      *ratelimit.Gate
	ledger    *session.Ledger
	transport *Transport
	now       func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.now = fn
		}
	}
}

func NewOrchestrator(resolver Resolver, gate *ratelimit.Gate, ledger *session.Ledger, transport *Transport, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		resolver:  resolver,
		gate:      gate,
		ledger:    ledger,
		transport: transport,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Login runs the attempt state machine in strict order: rate-limit gate,
// identity resolution, activity status, credential check, admission, session
// creation. Failure shapes for unknown identifier and wrong secret are
// identical by design.
func (o *Orchestrator) Login(ctx context.Context, actx AuthContext, nip, secret string) LoginResult {
	nip = strings.TrimSpace(nip)
	if nip == "" || secret == "" {
		return o.fail(CodeInvalidCredentials)
	}

	if o.gate.CheckLimited(ctx, nip, actx.OriginAddress) {
		res := o.fail(CodeRateLimited)
		res.RetryAfter = o.gate.RemainingLockout(ctx, nip, actx.OriginAddress)
		return res
	}

	id, err := o.resolver.Resolve(ctx, nip)
	if errors.Is(err, identity.ErrNotFound) {
		o.gate.RecordFailure(ctx, nip, actx.OriginAddress)
		return o.fail(CodeInvalidCredentials)
	}
	if err != nil {
		obs.Warn("identity lookup failed", map[string]any{"error": err.Error()})
		return o.fail(CodeSystemError)
	}

	if !id.Active() {
		return o.fail(CodeAccountInactive)
	}

	if err := VerifyCredential(id.PasswordHash, secret); err != nil {
		o.gate.RecordFailure(ctx, nip, actx.OriginAddress)
		return o.fail(CodeInvalidCredentials)
	}

	adm, err := o.ledger.CanAdmit(ctx, nip)
	if err != nil {
		obs.Warn("admission check failed", map[string]any{"error": err.Error()})
		return o.fail(CodeSystemError)
	}
	if !adm.Allowed {
		return o.maxSessions(ctx, nip)
	}

	caps := identity.CapabilitiesWith(id.Kind, id.ExtraCapabilities)
	payload, err := json.Marshal(sessionPayload{
		NIP:          id.NIP,
		Role:         string(id.Kind),
		Name:         id.Name,
		Email:        id.Email,
		Capabilities: caps,
	})
	if err != nil {
		return o.fail(CodeSystemError)
	}

	s, err := o.ledger.Create(ctx, id, actx.OriginAddress, actx.ClientDescriptor, payload)
	if errors.Is(err, session.ErrMaxSessions) {
		// CanAdmit passed but a concurrent login took the last slot.
		return o.maxSessions(ctx, nip)
	}
	if err != nil {
		obs.Warn("session creation failed", map[string]any{"error": err.Error()})
		return o.fail(CodeSystemError)
	}

	o.gate.ClearIdentifier(ctx, nip)
	if err := o.resolver.TouchLastLogin(ctx, id, actx.at(o.now)); err != nil {
		obs.Warn("last-login update failed", map[string]any{"nip": nip, "error": err.Error()})
	}

	p := Principal{Identity: id, Role: id.Kind, Capabilities: caps, SessionToken: s.Token}
	transport, err := o.transport.Mint(p, s.ExpiresAt)
	if err != nil {
		// A session without its transport is unusable; roll the admission
		// back before reporting the infrastructure failure.
		if terr := o.ledger.Terminate(ctx, s.Token); terr != nil {
			obs.Warn("session rollback failed", map[string]any{"error": terr.Error()})
		}
		obs.Warn("transport mint failed", map[string]any{"error": err.Error()})
		return o.fail(CodeSystemError)
	}

	obs.ObserveLogin("SUCCESS")
	_ = audit.LogEvent(ctx, "auth.login", UserActor{Identity: id}, map[string]any{
		"origin": actx.OriginAddress,
	})
	return LoginResult{
		Success:      true,
		Principal:    &p,
		Transport:    transport,
		SessionToken: s.Token,
		ExpiresAt:    s.ExpiresAt,
	}
}

// CurrentPrincipal resolves the caller for a request. The signed transport is
// the primary source; the ledger payload is the degraded fallback, and when
// it fires a fresh transport token is returned so the caller re-establishes
// the primary path immediately. Never returns an error.
func (o *Orchestrator) CurrentPrincipal(ctx context.Context, actx AuthContext) (Principal, string, bool) {
	if actx.Transport != "" {
		claims, err := o.transport.Parse(actx.Transport)
		if err != nil {
			return Principal{}, "", false
		}
		if !o.ledger.Validate(ctx, claims.SessionToken) {
			return Principal{}, "", false
		}
		if err := o.ledger.Touch(ctx, claims.SessionToken); err != nil {
			obs.Warn("session touch failed", map[string]any{"error": err.Error()})
		}
		return Principal{
			Identity: identity.Identity{
				NIP:    claims.NIP,
				Kind:   identity.RoleTag(claims.Role),
				Name:   claims.Name,
				Status: identity.StatusActive,
			},
			Role:         identity.RoleTag(claims.Role),
			Capabilities: claims.Capabilities,
			SessionToken: claims.SessionToken,
		}, "", true
	}

	if actx.SessionToken == "" {
		return Principal{}, "", false
	}
	if !o.ledger.Validate(ctx, actx.SessionToken) {
		return Principal{}, "", false
	}
	s, err := o.ledger.Find(ctx, actx.SessionToken)
	if err != nil {
		return Principal{}, "", false
	}

	p, ok := o.reconstruct(ctx, s)
	if !ok {
		return Principal{}, "", false
	}
	if err := o.ledger.Touch(ctx, s.Token); err != nil {
		obs.Warn("session touch failed", map[string]any{"error": err.Error()})
	}

	obs.ObserveFallbackResolution()
	refreshed, err := o.transport.Mint(p, s.ExpiresAt)
	if err != nil {
		obs.Warn("transport refresh failed", map[string]any{"error": err.Error()})
		refreshed = ""
	}
	return p, refreshed, true
}

// reconstruct rebuilds a principal from the session payload, falling back to
// a full identity resolution when the blob is unreadable.
func (o *Orchestrator) reconstruct(ctx context.Context, s session.Session) (Principal, bool) {
	var pl sessionPayload
	if err := json.Unmarshal(s.Payload, &pl); err == nil && pl.NIP != "" {
		return Principal{
			Identity: identity.Identity{
				NIP:    pl.NIP,
				Kind:   identity.RoleTag(pl.Role),
				Name:   pl.Name,
				Email:  pl.Email,
				Status: identity.StatusActive,
			},
			Role:         identity.RoleTag(pl.Role),
			Capabilities: pl.Capabilities,
			SessionToken: s.Token,
		}, true
	}

	id, err := o.resolver.Resolve(ctx, s.NIP)
	if err != nil {
		obs.Warn("principal reconstruction failed", map[string]any{"nip": s.NIP, "error": err.Error()})
		return Principal{}, false
	}
	return Principal{
		Identity:     id,
		Role:         id.Kind,
		Capabilities: identity.CapabilitiesWith(id.Kind, id.ExtraCapabilities),
		SessionToken: s.Token,
	}, true
}

// CurrentRole resolves just the caller's role tag.
func (o *Orchestrator) CurrentRole(ctx context.Context, actx AuthContext) (identity.RoleTag, bool) {
	p, _, ok := o.CurrentPrincipal(ctx, actx)
	if !ok {
		return "", false
	}
	return p.Role, true
}

// HasPermission reports whether a principal holds a capability.
func (o *Orchestrator) HasPermission(p Principal, capability string) bool {
	return p.HasCapability(capability)
}

// Logout terminates the session and clears rate-limit state for its owner.
// It always locally succeeds: bookkeeping failures are logged, never
// surfaced, and repeated calls are no-ops.
func (o *Orchestrator) Logout(ctx context.Context, token string) {
	if token == "" {
		return
	}
	s, err := o.ledger.Find(ctx, token)
	if err == nil {
		o.gate.ClearIdentifier(ctx, s.NIP)
	} else if !errors.Is(err, session.ErrNotFound) {
		obs.Warn("logout lookup failed", map[string]any{"error": err.Error()})
	}
	if err := o.ledger.Terminate(ctx, token); err != nil && !errors.Is(err, session.ErrNotFound) {
		obs.Warn("logout termination failed", map[string]any{"error": err.Error()})
	}
	if err == nil {
		actor := UserActor{Identity: identity.Identity{NIP: s.NIP, Kind: s.Role}}
		_ = audit.LogEvent(ctx, "auth.logout", actor, map[string]any{})
	}
}

// ListActiveSessions lists the identifier's live sessions.
func (o *Orchestrator) ListActiveSessions(ctx context.Context, nip string) ([]session.Summary, error) {
	return o.ledger.ListActive(ctx, nip)
}

// ExpiryWarning reports how long the session has left on its absolute budget
// and whether it is inside the pre-expiry warning threshold.
func (o *Orchestrator) ExpiryWarning(ctx context.Context, token string) (time.Duration, bool, error) {
	s, err := o.ledger.Find(ctx, token)
	if err != nil {
		return 0, false, err
	}
	remaining, warn := o.ledger.ExpiryWarning(s)
	return remaining, warn, nil
}

// TerminateSession revokes one session explicitly.
func (o *Orchestrator) TerminateSession(ctx context.Context, token string) error {
	return o.ledger.Terminate(ctx, token)
}

// TerminateOthers revokes every session of the identifier except keepToken.
func (o *Orchestrator) TerminateOthers(ctx context.Context, nip, keepToken string) (int, error) {
	return o.ledger.TerminateOthers(ctx, nip, keepToken)
}

func (o *Orchestrator) fail(code Code) LoginResult {
	obs.ObserveLogin(string(code))
	return LoginResult{Success: false, Code: code}
}

func (o *Orchestrator) maxSessions(ctx context.Context, nip string) LoginResult {
	res := o.fail(CodeMaxSessions)
	list, err := o.ledger.ListActive(ctx, nip)
	if err != nil {
		obs.Warn("session listing failed", map[string]any{"error": err.Error()})
		return res
	}
	res.ActiveSessions = list
	return res
}
