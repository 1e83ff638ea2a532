package authn

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"testing"
	"time"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"

	"github.com/nikodwicahyo/helpdesk/internal/identity"
	"github.com/nikodwicahyo/helpdesk/internal/ratelimit"
	"github.com/nikodwicahyo/helpdesk/internal/session"
)

type harness struct {
	orch   *Orchestrator
	stores map[identity.RoleTag]*identity.MemoryStore
	now    *time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	resolver := identity.NewResolver()
	stores := make(map[identity.RoleTag]*identity.MemoryStore)
	for _, kind := range identity.Precedence {
		s := identity.NewMemoryStore()
		if err := resolver.Register(kind, s); err != nil {
			t.Fatalf("Register: %v", err)
		}
		stores[kind] = s
	}

	gate := ratelimit.New(ratelimit.NewMemoryStore(),
		ratelimit.WithSalt("test"), ratelimit.WithClock(clock))
	ledger := session.New(session.NewMemoryStore(), session.WithClock(clock))
	transport, err := NewTransport("test-secret", WithTransportClock(clock))
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}

	h := &harness{
		orch:   NewOrchestrator(resolver, gate, ledger, transport, WithClock(clock)),
		stores: stores,
		now:    &now,
	}
	return h
}

func (h *harness) advance(d time.Duration) { *h.now = h.now.Add(d) }

func bcryptHash(t *testing.T, secret string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

func argon2Hash(t *testing.T, secret string) string {
	t.Helper()
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		t.Fatalf("salt: %v", err)
	}
	hash := argon2.IDKey([]byte(secret), salt, 2, 64*1024, 1, 32)
	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		64*1024, 2, 1,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash))
}

func (h *harness) putUser(t *testing.T, kind identity.RoleTag, nip, secret string) identity.Identity {
	t.Helper()
	id := identity.Identity{
		Key:          string(kind) + "-" + nip,
		NIP:          nip,
		Name:         "User " + nip,
		Status:       identity.StatusActive,
		PasswordHash: bcryptHash(t, secret),
	}
	h.stores[kind].Put(id)
	return id
}

func actx(origin string) AuthContext {
	return AuthContext{OriginAddress: origin, ClientDescriptor: "test-client"}
}

func TestLoginSuccess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.putUser(t, identity.RoleTechnician, "1001", "s3cret")

	res := h.orch.Login(ctx, actx("10.0.0.1"), "1001", "s3cret")
	if !res.Success {
		t.Fatalf("login failed: %s", res.Code)
	}
	if res.Principal == nil || res.Principal.Role != identity.RoleTechnician {
		t.Fatalf("unexpected principal: %+v", res.Principal)
	}
	if !res.Principal.HasCapability(identity.CapTicketUpdate) {
		t.Fatal("technician capability missing")
	}
	if res.Transport == "" || res.SessionToken == "" {
		t.Fatal("expected transport and session token")
	}
	if !res.ExpiresAt.Equal(h.now.Add(session.DefaultLifetime)) {
		t.Fatalf("unexpected expiry: %v", res.ExpiresAt)
	}
}

func TestLoginPrecedenceSharedNIP(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// "1001" exists in both the technician and the end-user store.
	h.putUser(t, identity.RoleTechnician, "1001", "s3cret")
	h.putUser(t, identity.RoleEndUser, "1001", "s3cret")

	res := h.orch.Login(ctx, actx("10.0.0.1"), "1001", "s3cret")
	if !res.Success {
		t.Fatalf("login failed: %s", res.Code)
	}
	role, ok := h.orch.CurrentRole(ctx, AuthContext{Transport: res.Transport})
	if !ok || role != identity.RoleTechnician {
		t.Fatalf("expected technician after login, got %s ok=%v", role, ok)
	}
}

func TestLoginFailureShapesMatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.putUser(t, identity.RoleEndUser, "5005", "right")

	unknown := h.orch.Login(ctx, actx("a"), "no-such-nip", "whatever")
	wrongPw := h.orch.Login(ctx, actx("a"), "5005", "wrong")
	if unknown.Code != CodeInvalidCredentials || wrongPw.Code != CodeInvalidCredentials {
		t.Fatalf("failure shapes differ: %s vs %s", unknown.Code, wrongPw.Code)
	}
	if unknown.Code.Message() != wrongPw.Code.Message() {
		t.Fatal("messages must be identical to avoid identity enumeration")
	}
}

func TestLoginInactiveAccount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.stores[identity.RoleEndUser].Put(identity.Identity{
		Key: "u-1", NIP: "6006", Status: identity.StatusInactive,
		PasswordHash: bcryptHash(t, "s3cret"),
	})

	res := h.orch.Login(ctx, actx("a"), "6006", "s3cret")
	if res.Code != CodeAccountInactive {
		t.Fatalf("expected ACCOUNT_INACTIVE, got %s", res.Code)
	}
}

func TestLoginArgon2Credential(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.stores[identity.RoleAdminPrimary].Put(identity.Identity{
		Key: "a-1", NIP: "1", Status: identity.StatusActive,
		PasswordHash: argon2Hash(t, "admin-pass"),
	})

	if res := h.orch.Login(ctx, actx("a"), "1", "admin-pass"); !res.Success {
		t.Fatalf("argon2 login failed: %s", res.Code)
	}
	if res := h.orch.Login(ctx, actx("a"), "1", "nope"); res.Code != CodeInvalidCredentials {
		t.Fatalf("expected INVALID_CREDENTIALS, got %s", res.Code)
	}
}

func TestLoginMaxSessions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.putUser(t, identity.RoleEndUser, "2002", "s3cret")

	for i := 0; i < 3; i++ {
		if res := h.orch.Login(ctx, actx("a"), "2002", "s3cret"); !res.Success {
			t.Fatalf("login %d failed: %s", i, res.Code)
		}
	}

	res := h.orch.Login(ctx, actx("a"), "2002", "s3cret")
	if res.Success || res.Code != CodeMaxSessions {
		t.Fatalf("expected MAX_SESSIONS_REACHED, got %+v", res)
	}
	if len(res.ActiveSessions) != 3 {
		t.Fatalf("expected 3 listed sessions, got %d", len(res.ActiveSessions))
	}
	// The deny evicted nothing.
	list, err := h.orch.ListActiveSessions(ctx, "2002")
	if err != nil || len(list) != 3 {
		t.Fatalf("expected exactly 3 active sessions, got %d err=%v", len(list), err)
	}
}

func TestLoginAfterExplicitTermination(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.putUser(t, identity.RoleEndUser, "2002", "s3cret")

	var keep LoginResult
	for i := 0; i < 3; i++ {
		keep = h.orch.Login(ctx, actx("a"), "2002", "s3cret")
	}
	if res := h.orch.Login(ctx, actx("a"), "2002", "s3cret"); res.Code != CodeMaxSessions {
		t.Fatalf("expected full cap, got %+v", res)
	}

	n, err := h.orch.TerminateOthers(ctx, "2002", keep.SessionToken)
	if err != nil || n != 2 {
		t.Fatalf("TerminateOthers: n=%d err=%v", n, err)
	}
	if res := h.orch.Login(ctx, actx("a"), "2002", "s3cret"); !res.Success {
		t.Fatalf("expected admission after termination, got %s", res.Code)
	}
}

func TestRateLimitPerOriginPair(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.putUser(t, identity.RoleEndUser, "3003", "s3cret")

	for i := 0; i < 5; i++ {
		if res := h.orch.Login(ctx, actx("addr-A"), "3003", "wrong"); res.Code != CodeInvalidCredentials {
			t.Fatalf("attempt %d: %s", i, res.Code)
		}
	}

	// 6th from A fails even with correct credentials.
	res := h.orch.Login(ctx, actx("addr-A"), "3003", "s3cret")
	if res.Code != CodeRateLimited {
		t.Fatalf("expected RATE_LIMITED from addr-A, got %s", res.Code)
	}
	if res.RetryAfter <= 0 {
		t.Fatalf("expected retry-after hint, got %v", res.RetryAfter)
	}

	// Same credentials from B succeed: limiting is per (identifier, origin).
	if res := h.orch.Login(ctx, actx("addr-B"), "3003", "s3cret"); !res.Success {
		t.Fatalf("expected success from addr-B, got %s", res.Code)
	}

	// The success cleared all origins; a new failure from A starts fresh.
	if res := h.orch.Login(ctx, actx("addr-A"), "3003", "wrong"); res.Code != CodeInvalidCredentials {
		t.Fatalf("expected fresh counter on addr-A, got %s", res.Code)
	}
	if res := h.orch.Login(ctx, actx("addr-A"), "3003", "s3cret"); !res.Success {
		t.Fatalf("expected success from addr-A after reset, got %s", res.Code)
	}
}

func TestCurrentPrincipalPrimaryTransport(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.putUser(t, identity.RoleTechnician, "1001", "s3cret")
	res := h.orch.Login(ctx, actx("a"), "1001", "s3cret")

	p, refreshed, ok := h.orch.CurrentPrincipal(ctx, AuthContext{Transport: res.Transport})
	if !ok {
		t.Fatal("expected principal from primary transport")
	}
	if refreshed != "" {
		t.Fatal("primary path must not re-mint the transport")
	}
	if p.Identity.NIP != "1001" || p.Role != identity.RoleTechnician {
		t.Fatalf("unexpected principal: %+v", p)
	}
	if !p.HasCapability(identity.CapTicketUpdate) {
		t.Fatal("capabilities missing from claims")
	}
}

func TestCurrentPrincipalFallbackReestablishesTransport(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.putUser(t, identity.RoleTechnician, "1001", "s3cret")
	res := h.orch.Login(ctx, actx("a"), "1001", "s3cret")

	// Degraded path: only the raw ledger token is available.
	p, refreshed, ok := h.orch.CurrentPrincipal(ctx, AuthContext{SessionToken: res.SessionToken})
	if !ok {
		t.Fatal("expected principal from ledger fallback")
	}
	if refreshed == "" {
		t.Fatal("fallback must re-establish the primary transport")
	}
	if p.Identity.NIP != "1001" {
		t.Fatalf("unexpected principal: %+v", p)
	}

	// The re-issued transport works on the primary path.
	if _, again, ok := h.orch.CurrentPrincipal(ctx, AuthContext{Transport: refreshed}); !ok || again != "" {
		t.Fatalf("re-issued transport rejected: ok=%v refreshed=%q", ok, again)
	}
}

func TestCurrentPrincipalAfterExpiry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.putUser(t, identity.RoleEndUser, "1", "s3cret")
	res := h.orch.Login(ctx, actx("a"), "1", "s3cret")

	h.advance(session.DefaultLifetime + time.Minute)
	if _, _, ok := h.orch.CurrentPrincipal(ctx, AuthContext{Transport: res.Transport}); ok {
		t.Fatal("expired session must not resolve")
	}
	// Lazy expiry flipped the record; the session list no longer shows it.
	list, _ := h.orch.ListActiveSessions(ctx, "1")
	if len(list) != 0 {
		t.Fatalf("expected no active sessions, got %d", len(list))
	}
}

func TestCurrentPrincipalTouchesActivity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.putUser(t, identity.RoleEndUser, "1", "s3cret")
	res := h.orch.Login(ctx, actx("a"), "1", "s3cret")

	h.advance(30 * time.Minute)
	if _, _, ok := h.orch.CurrentPrincipal(ctx, AuthContext{Transport: res.Transport}); !ok {
		t.Fatal("expected principal")
	}
	list, _ := h.orch.ListActiveSessions(ctx, "1")
	if len(list) != 1 {
		t.Fatalf("expected 1 session, got %d", len(list))
	}
	if !list[0].LastActivity.Equal(*h.now) {
		t.Fatalf("activity not touched: %v != %v", list[0].LastActivity, *h.now)
	}
	if !list[0].ExpiresAt.Equal(res.ExpiresAt) {
		t.Fatalf("touch moved absolute expiry: %v != %v", list[0].ExpiresAt, res.ExpiresAt)
	}
}

func TestLogoutIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.putUser(t, identity.RoleEndUser, "1", "s3cret")
	res := h.orch.Login(ctx, actx("a"), "1", "s3cret")

	h.orch.Logout(ctx, res.SessionToken)
	h.orch.Logout(ctx, res.SessionToken)
	h.orch.Logout(ctx, "never-existed")

	if _, _, ok := h.orch.CurrentPrincipal(ctx, AuthContext{Transport: res.Transport}); ok {
		t.Fatal("session should be terminated")
	}
	list, _ := h.orch.ListActiveSessions(ctx, "1")
	if len(list) != 0 {
		t.Fatalf("expected no active sessions, got %d", len(list))
	}
}

func TestLogoutClearsRateLimitState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.putUser(t, identity.RoleEndUser, "1", "s3cret")
	res := h.orch.Login(ctx, actx("a"), "1", "s3cret")

	for i := 0; i < 4; i++ {
		h.orch.Login(ctx, actx("a"), "1", "wrong")
	}
	h.orch.Logout(ctx, res.SessionToken)

	// Counter was cleared on logout: five fresh attempts remain.
	for i := 0; i < 4; i++ {
		h.orch.Login(ctx, actx("a"), "1", "wrong")
	}
	if res := h.orch.Login(ctx, actx("a"), "1", "s3cret"); !res.Success {
		t.Fatalf("expected success within fresh window, got %s", res.Code)
	}
}

func TestExpiryWarningThreshold(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.putUser(t, identity.RoleEndUser, "1", "s3cret")
	res := h.orch.Login(ctx, actx("a"), "1", "s3cret")

	remaining, warn, err := h.orch.ExpiryWarning(ctx, res.SessionToken)
	if err != nil {
		t.Fatalf("ExpiryWarning: %v", err)
	}
	if remaining != session.DefaultLifetime || warn {
		t.Fatalf("fresh session: remaining=%v warn=%v", remaining, warn)
	}

	h.advance(session.DefaultLifetime - 5*time.Minute)
	remaining, warn, err = h.orch.ExpiryWarning(ctx, res.SessionToken)
	if err != nil {
		t.Fatalf("ExpiryWarning: %v", err)
	}
	if remaining != 5*time.Minute || !warn {
		t.Fatalf("near expiry: remaining=%v warn=%v", remaining, warn)
	}
}

func TestHasPermission(t *testing.T) {
	h := newHarness(t)
	p := Principal{Role: identity.RoleEndUser, Capabilities: identity.Capabilities(identity.RoleEndUser)}
	if !h.orch.HasPermission(p, identity.CapTicketCreate) {
		t.Fatal("end user should create tickets")
	}
	if h.orch.HasPermission(p, identity.CapSettingsManage) {
		t.Fatal("end user must not manage settings")
	}
}
