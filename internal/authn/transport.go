package authn

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const transportIssuer = "helpdesk"

// ErrInvalidTransport indicates the transport token failed validation.
var ErrInvalidTransport = errors.New("authn: invalid transport token")

// TransportClaims is the signed principal summary carried on every request.
// The ledger token rides along so server-side validity stays authoritative.
type TransportClaims struct {
	NIP          string   `json:"nip"`
	Role         string   `json:"role"`
	Name         string   `json:"name,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	SessionToken string   `json:"sid"`
	jwt.RegisteredClaims
}

// Transport signs and verifies the primary session transport (HS256).
type Transport struct {
	secret []byte
	now    func() time.Time
}

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithTransportClock overrides the time source (useful for tests).
func WithTransportClock(fn func() time.Time) TransportOption {
	return func(t *Transport) {
		if fn != nil {
			t.now = fn
		}
	}
}

func NewTransport(secret string, opts ...TransportOption) (*Transport, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("authn: transport secret is not configured")
	}
	t := &Transport{secret: []byte(secret), now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Mint signs a transport token bound to the principal's ledger session. The
// token expires with the session's absolute budget.
func (t *Transport) Mint(p Principal, expiresAt time.Time) (string, error) {
	now := t.now().UTC()
	claims := TransportClaims{
		NIP:          p.Identity.NIP,
		Role:         string(p.Role),
		Name:         p.Identity.Name,
		Capabilities: p.Capabilities,
		SessionToken: p.SessionToken,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    transportIssuer,
			Subject:   p.Identity.NIP,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Parse verifies the token signature and required claims.
func (t *Transport) Parse(token string) (*TransportClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidTransport
	}
	parsed, err := jwt.ParseWithClaims(token, &TransportClaims{}, func(tok *jwt.Token) (any, error) {
		if tok.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidTransport
		}
		return t.secret, nil
	}, jwt.WithIssuer(transportIssuer), jwt.WithTimeFunc(func() time.Time { return t.now() }))
	if err != nil {
		return nil, ErrInvalidTransport
	}
	claims, ok := parsed.Claims.(*TransportClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidTransport
	}
	if strings.TrimSpace(claims.NIP) == "" || strings.TrimSpace(claims.SessionToken) == "" {
		return nil, ErrInvalidTransport
	}
	return claims, nil
}
