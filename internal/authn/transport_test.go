package authn

import (
	"strings"
	"testing"
	"time"

	"github.com/nikodwicahyo/helpdesk/internal/identity"
)

func testPrincipal() Principal {
	return Principal{
		Identity: identity.Identity{
			NIP:  "1001",
			Kind: identity.RoleTechnician,
			Name: "Tech One",
		},
		Role:         identity.RoleTechnician,
		Capabilities: identity.Capabilities(identity.RoleTechnician),
		SessionToken: "ledger-token-1",
	}
}

func TestTransportRoundTrip(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	tr, err := NewTransport("test-secret", WithTransportClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}

	token, err := tr.Mint(testPrincipal(), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	claims, err := tr.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.NIP != "1001" || claims.Role != string(identity.RoleTechnician) {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.SessionToken != "ledger-token-1" {
		t.Fatalf("ledger token not carried: %q", claims.SessionToken)
	}
	if len(claims.Capabilities) == 0 {
		t.Fatal("capabilities not carried")
	}
}

func TestTransportRejectsTampering(t *testing.T) {
	now := time.Now()
	tr, _ := NewTransport("test-secret", WithTransportClock(func() time.Time { return now }))
	token, err := tr.Mint(testPrincipal(), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	// Flip a character in the payload segment.
	parts := strings.SplitN(token, ".", 3)
	body := []byte(parts[1])
	if body[0] == 'A' {
		body[0] = 'B'
	} else {
		body[0] = 'A'
	}
	tampered := parts[0] + "." + string(body) + "." + parts[2]
	if _, err := tr.Parse(tampered); err == nil {
		t.Fatal("tampered token accepted")
	}
}

func TestTransportRejectsWrongSecret(t *testing.T) {
	now := time.Now()
	a, _ := NewTransport("secret-a", WithTransportClock(func() time.Time { return now }))
	b, _ := NewTransport("secret-b", WithTransportClock(func() time.Time { return now }))

	token, err := a.Mint(testPrincipal(), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if _, err := b.Parse(token); err == nil {
		t.Fatal("token minted under a different secret accepted")
	}
}

func TestTransportRejectsExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	tr, _ := NewTransport("test-secret", WithTransportClock(func() time.Time { return now }))

	token, err := tr.Mint(testPrincipal(), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := tr.Parse(token); err == nil {
		t.Fatal("expired token accepted")
	}
}

func TestTransportRejectsEmptyAndGarbage(t *testing.T) {
	tr, _ := NewTransport("test-secret")
	for _, token := range []string{"", "   ", "not-a-token", "a.b.c"} {
		if _, err := tr.Parse(token); err == nil {
			t.Fatalf("accepted %q", token)
		}
	}
}

func TestNewTransportRequiresSecret(t *testing.T) {
	if _, err := NewTransport("   "); err == nil {
		t.Fatal("expected error for blank secret")
	}
}
