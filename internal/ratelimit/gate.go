// Package ratelimit implements the fixed-window failed-login counter that
// protects credential checking. Counters are keyed by a salted hash of the
// (identifier, origin address) pair and decay as one unit with their window.
package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/nikodwicahyo/helpdesk/internal/obs"
)

const (
	DefaultThreshold = 5
	DefaultWindow    = 15 * time.Minute
)

// CounterStore persists failure counters. Implementations are ephemeral; a
// counter never outlives its window.
type CounterStore interface {
	// Increment bumps the counter for the pair, creating it with the given
	// expiry when absent or decayed. Returns the new count and the window
	// expiry in effect.
	Increment(ctx context.Context, idKey, pairKey string, now, expiresAt time.Time) (int, time.Time, error)
	// Get returns the live count and window expiry, or (0, zero) when the
	// pair has no live counter.
	Get(ctx context.Context, idKey, pairKey string, now time.Time) (int, time.Time, error)
	// Delete drops a single pair counter.
	Delete(ctx context.Context, idKey, pairKey string) error
	// DeleteIdentifier drops every counter recorded for the identifier,
	// regardless of origin address.
	DeleteIdentifier(ctx context.Context, idKey string) error
}

// Gate enforces the lockout policy on top of a CounterStore. Any store
// failure degrades to "not limited": a broken counter store must never block
// the login path.
type Gate struct {
	store     CounterStore
	threshold int
	window    time.Duration
	salt      string
	now       func() time.Time
}

// Option configures a Gate.
type Option func(*Gate)

// WithThreshold overrides the failure threshold.
func WithThreshold(n int) Option {
	return func(g *Gate) {
		if n > 0 {
			g.threshold = n
		}
	}
}

// WithWindow overrides the decay window.
func WithWindow(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.window = d
		}
	}
}

// WithSalt sets the hashing salt for counter keys.
func WithSalt(salt string) Option {
	return func(g *Gate) { g.salt = salt }
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(g *Gate) {
		if fn != nil {
			g.now = fn
		}
	}
}

func New(store CounterStore, opts ...Option) *Gate {
	g := &Gate{
		store:     store,
		threshold: DefaultThreshold,
		window:    DefaultWindow,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CheckLimited reports whether the pair has reached the failure threshold
// within the current window.
func (g *Gate) CheckLimited(ctx context.Context, nip, origin string) bool {
	count, _, err := g.store.Get(ctx, g.idKey(nip), g.pairKey(nip, origin), g.now())
	if err != nil {
		g.warn("rate limit read failed", err)
		return false
	}
	return count >= g.threshold
}

// RecordFailure bumps the pair counter. The window is anchored at the first
// failure; later failures inside the window do not extend it.
func (g *Gate) RecordFailure(ctx context.Context, nip, origin string) {
	now := g.now()
	count, _, err := g.store.Increment(ctx, g.idKey(nip), g.pairKey(nip, origin), now, now.Add(g.window))
	if err != nil {
		g.warn("rate limit write failed", err)
		return
	}
	if count == g.threshold {
		obs.ObserveLockout()
	}
}

// Clear drops the counter for one (identifier, origin) pair.
func (g *Gate) Clear(ctx context.Context, nip, origin string) {
	if err := g.store.Delete(ctx, g.idKey(nip), g.pairKey(nip, origin)); err != nil {
		g.warn("rate limit clear failed", err)
	}
}

// ClearIdentifier drops counters for the identifier across all origin
// addresses. Called after a successful login so the owner's own
// authentication fully resets their state.
func (g *Gate) ClearIdentifier(ctx context.Context, nip string) {
	if err := g.store.DeleteIdentifier(ctx, g.idKey(nip)); err != nil {
		g.warn("rate limit clear failed", err)
	}
}

// RemainingAttempts reports how many more failures the pair can absorb before
// lockout.
func (g *Gate) RemainingAttempts(ctx context.Context, nip, origin string) int {
	count, _, err := g.store.Get(ctx, g.idKey(nip), g.pairKey(nip, origin), g.now())
	if err != nil {
		g.warn("rate limit read failed", err)
		return g.threshold
	}
	remaining := g.threshold - count
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RemainingLockout reports how long a locked-out pair stays blocked. Zero when
// the pair is not locked out.
func (g *Gate) RemainingLockout(ctx context.Context, nip, origin string) time.Duration {
	now := g.now()
	count, expiresAt, err := g.store.Get(ctx, g.idKey(nip), g.pairKey(nip, origin), now)
	if err != nil {
		g.warn("rate limit read failed", err)
		return 0
	}
	if count < g.threshold {
		return 0
	}
	remaining := expiresAt.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (g *Gate) idKey(nip string) string {
	return hashKey(g.salt, "id", nip)
}

func (g *Gate) pairKey(nip, origin string) string {
	return hashKey(g.salt, nip, origin)
}

func (g *Gate) warn(msg string, err error) {
	obs.Warn(msg, map[string]any{"error": err.Error()})
}

func hashKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
