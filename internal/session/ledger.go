package session

import (
	"context"
	"errors"
	"time"

	"github.com/nikodwicahyo/helpdesk/internal/identity"
	"github.com/nikodwicahyo/helpdesk/internal/obs"
)

const (
	DefaultMaxActive   = 3
	DefaultLifetime    = 120 * time.Minute
	DefaultIdleWarning = 10 * time.Minute
)

// Ledger provides session bookkeeping on top of a Store.
type Ledger struct {
	store       Store
	max         int
	lifetime    time.Duration
	idleWarning time.Duration
	now         func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithMaxActive overrides the concurrent-session cap.
func WithMaxActive(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.max = n
		}
	}
}

// WithLifetime overrides the absolute session budget.
func WithLifetime(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.lifetime = d
		}
	}
}

// WithIdleWarning overrides the pre-expiry warning threshold.
func WithIdleWarning(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.idleWarning = d
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(l *Ledger) {
		if fn != nil {
			l.now = fn
		}
	}
}

func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:       store,
		max:         DefaultMaxActive,
		lifetime:    DefaultLifetime,
		idleWarning: DefaultIdleWarning,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Max returns the configured concurrent-session cap.
func (l *Ledger) Max() int { return l.max }

// Admission is the result of a cap check.
type Admission struct {
	Allowed     bool
	ActiveCount int
	Max         int
}

// CountActive counts live sessions for the identifier.
func (l *Ledger) CountActive(ctx context.Context, nip string) (int, error) {
	return l.store.CountActive(ctx, nip, l.now())
}

// CanAdmit is the pure cap check. Create re-checks atomically, so CanAdmit is
// advisory: it exists to give callers the count and cap for error reporting.
func (l *Ledger) CanAdmit(ctx context.Context, nip string) (Admission, error) {
	count, err := l.store.CountActive(ctx, nip, l.now())
	if err != nil {
		return Admission{}, err
	}
	return Admission{Allowed: count < l.max, ActiveCount: count, Max: l.max}, nil
}

// Create admits and persists a new session. The admission check and the
// insert are a single atomic step in the store.
func (l *Ledger) Create(ctx context.Context, id identity.Identity, origin, client string, payload []byte) (Session, error) {
	token, err := newToken()
	if err != nil {
		return Session{}, err
	}
	now := l.now()
	s := Session{
		Token:            token,
		NIP:              id.NIP,
		Role:             id.Kind,
		OriginAddress:    origin,
		ClientDescriptor: client,
		CreatedAt:        now,
		LastActivity:     now,
		ExpiresAt:        now.Add(l.lifetime),
		Active:           true,
		Payload:          payload,
	}
	if err := l.store.CreateIfUnderCap(ctx, &s, l.max, now); err != nil {
		return Session{}, err
	}
	return s, nil
}

// Find returns the raw session record.
func (l *Ledger) Find(ctx context.Context, token string) (Session, error) {
	return l.store.Find(ctx, token)
}

// Touch updates the session's last-activity marker. The absolute expiry is
// never extended here.
func (l *Ledger) Touch(ctx context.Context, token string) error {
	return l.store.Touch(ctx, token, l.now())
}

// Validate reports whether the session is usable. A session found expired but
// still flagged active is flipped inactive here (lazy expiry); the mutation
// goes through the store's MarkInactive, not a hidden side door.
func (l *Ledger) Validate(ctx context.Context, token string) bool {
	s, err := l.store.Find(ctx, token)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			obs.Warn("session lookup failed", map[string]any{"error": err.Error()})
		}
		return false
	}
	if !s.Active {
		return false
	}
	now := l.now()
	if !s.ExpiresAt.After(now) {
		if err := l.store.MarkInactive(ctx, token); err != nil {
			obs.Warn("lazy expiry failed", map[string]any{"error": err.Error()})
		}
		return false
	}
	return true
}

// Terminate flips a session inactive. Repeated calls are no-ops.
func (l *Ledger) Terminate(ctx context.Context, token string) error {
	return l.store.MarkInactive(ctx, token)
}

// TerminateOthers flips every session of the identifier except keepToken.
func (l *Ledger) TerminateOthers(ctx context.Context, nip, keepToken string) (int, error) {
	return l.store.MarkInactiveAllExcept(ctx, nip, keepToken)
}

// TerminateAll flips every session of the identifier.
func (l *Ledger) TerminateAll(ctx context.Context, nip string) (int, error) {
	return l.store.MarkInactiveAll(ctx, nip)
}

// ListActive returns summaries of the identifier's live sessions.
func (l *Ledger) ListActive(ctx context.Context, nip string) ([]Summary, error) {
	sessions, err := l.store.ListActive(ctx, nip, l.now())
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Summarize())
	}
	return out, nil
}

// SweepExpired batch-flips sessions past their expiry. Idempotent; meant for
// a periodic background ticker.
func (l *Ledger) SweepExpired(ctx context.Context) (int, error) {
	n, err := l.store.SweepExpired(ctx, l.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		obs.ObserveSweep(n)
	}
	return n, nil
}

// PurgeTerminated physically deletes inactive sessions older than the
// retention period. Best-effort.
func (l *Ledger) PurgeTerminated(ctx context.Context, retention time.Duration) (int, error) {
	return l.store.PurgeTerminated(ctx, l.now().Add(-retention))
}

// ExpiryWarning reports time left on the absolute budget and whether the
// session is inside the warning threshold. Idle-timeout UX is computed by
// callers from LastActivity; the ledger never slides ExpiresAt for them.
func (l *Ledger) ExpiryWarning(s Session) (time.Duration, bool) {
	remaining := s.ExpiresAt.Sub(l.now())
	if remaining < 0 {
		remaining = 0
	}
	return remaining, remaining <= l.idleWarning
}
