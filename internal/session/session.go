// Package session tracks every authenticated login server-side: creation
// under a concurrent-session cap, activity touches, lazy and swept expiry,
// and flag-flip termination.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/nikodwicahyo/helpdesk/internal/identity"
)

var (
	ErrNotFound = errors.New("session: not found")
	// ErrMaxSessions is returned when admission would exceed the cap.
	// Admission is a hard deny; the ledger never evicts an older session.
	ErrMaxSessions = errors.New("session: concurrent session limit reached")
)

// Session is the durable record of one authenticated login.
//
// LastActivity and ExpiresAt are deliberately independent: touches update
// LastActivity only, while ExpiresAt is computed once at creation. "Is this
// session fresh" and "has it outlived its absolute budget" stay separately
// auditable.
type Session struct {
	Token            string
	NIP              string
	Role             identity.RoleTag
	OriginAddress    string
	ClientDescriptor string
	CreatedAt        time.Time
	LastActivity     time.Time
	ExpiresAt        time.Time
	Active           bool
	// Payload is an opaque serialized identity summary plus capability
	// snapshot, used to reconstruct a principal without an identity lookup.
	Payload []byte
}

// Live reports whether the session is active and within its absolute budget.
func (s Session) Live(now time.Time) bool {
	return s.Active && s.ExpiresAt.After(now)
}

// Summary is the caller-facing view of an active session.
type Summary struct {
	Token            string    `json:"token"`
	OriginAddress    string    `json:"origin_address"`
	ClientDescriptor string    `json:"client_descriptor"`
	CreatedAt        time.Time `json:"created_at"`
	LastActivity     time.Time `json:"last_activity"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// Summarize strips the payload and flags from a session.
func (s Session) Summarize() Summary {
	return Summary{
		Token:            s.Token,
		OriginAddress:    s.OriginAddress,
		ClientDescriptor: s.ClientDescriptor,
		CreatedAt:        s.CreatedAt,
		LastActivity:     s.LastActivity,
		ExpiresAt:        s.ExpiresAt,
	}
}

// Store persists session records. Termination is always a flag flip;
// PurgeTerminated is the only physical deletion.
type Store interface {
	// CreateIfUnderCap atomically checks the active-session count for the
	// session's NIP against max and inserts. A plain read-then-write is not
	// safe under concurrent logins; implementations must serialize the check
	// and the insert. Returns ErrMaxSessions on a full cap.
	CreateIfUnderCap(ctx context.Context, s *Session, max int, now time.Time) error
	Find(ctx context.Context, token string) (Session, error)
	CountActive(ctx context.Context, nip string, now time.Time) (int, error)
	ListActive(ctx context.Context, nip string, now time.Time) ([]Session, error)
	// Touch updates LastActivity only. It must never modify ExpiresAt.
	Touch(ctx context.Context, token string, at time.Time) error
	// MarkInactive flips the active flag off. Idempotent; the flag never
	// flips back.
	MarkInactive(ctx context.Context, token string) error
	MarkInactiveAllExcept(ctx context.Context, nip, keepToken string) (int, error)
	MarkInactiveAll(ctx context.Context, nip string) (int, error)
	// SweepExpired flips every session past its expiry to inactive.
	SweepExpired(ctx context.Context, now time.Time) (int, error)
	// PurgeTerminated physically deletes inactive sessions whose expiry
	// passed before the cutoff. Best-effort retention, never load-bearing.
	PurgeTerminated(ctx context.Context, cutoff time.Time) (int, error)
}
