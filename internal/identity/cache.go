package identity

import (
	"context"
	"sync"
	"time"
)

const defaultCacheTTL = 10 * time.Minute

type cacheKey struct {
	method string
	value  string
}

type cacheEntry struct {
	id        Identity
	expiresAt time.Time
}

// CachedResolver memoizes successful lookups for a short TTL. Misses and
// errors are never cached. Invalidate is the hook user-management modules call
// after mutating an identity.
type CachedResolver struct {
	inner *Resolver
	ttl   time.Duration
	now   func() time.Time

	mu      sync.Mutex
	entries map[cacheKey]cacheEntry
}

// CacheOption configures a CachedResolver.
type CacheOption func(*CachedResolver)

// WithCacheTTL overrides the entry lifetime.
func WithCacheTTL(ttl time.Duration) CacheOption {
	return func(c *CachedResolver) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithCacheClock overrides the time source (useful for tests).
func WithCacheClock(fn func() time.Time) CacheOption {
	return func(c *CachedResolver) {
		if fn != nil {
			c.now = fn
		}
	}
}

func NewCachedResolver(inner *Resolver, opts ...CacheOption) *CachedResolver {
	c := &CachedResolver{
		inner:   inner,
		ttl:     defaultCacheTTL,
		now:     time.Now,
		entries: make(map[cacheKey]cacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *CachedResolver) Resolve(ctx context.Context, nip string) (Identity, error) {
	return c.lookup(ctx, cacheKey{method: "nip", value: nip}, func() (Identity, error) {
		return c.inner.Resolve(ctx, nip)
	})
}

func (c *CachedResolver) ResolveByKey(ctx context.Context, key string) (Identity, error) {
	return c.lookup(ctx, cacheKey{method: "key", value: key}, func() (Identity, error) {
		return c.inner.ResolveByKey(ctx, key)
	})
}

func (c *CachedResolver) ResolveByEmail(ctx context.Context, email string) (Identity, error) {
	return c.lookup(ctx, cacheKey{method: "email", value: email}, func() (Identity, error) {
		return c.inner.ResolveByEmail(ctx, email)
	})
}

// TouchLastLogin passes through to the underlying resolver; the marker is not
// part of any cached decision.
func (c *CachedResolver) TouchLastLogin(ctx context.Context, id Identity, at time.Time) error {
	return c.inner.TouchLastLogin(ctx, id, at)
}

// Invalidate drops every cached entry that resolved to the given NIP.
func (c *CachedResolver) Invalidate(nip string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if e.id.NIP == nip {
			delete(c.entries, k)
		}
	}
}

func (c *CachedResolver) lookup(_ context.Context, key cacheKey, load func() (Identity, error)) (Identity, error) {
	now := c.now()

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		if now.Before(e.expiresAt) {
			c.mu.Unlock()
			return e.id, nil
		}
		delete(c.entries, key)
	}
	c.mu.Unlock()

	id, err := load()
	if err != nil {
		return Identity{}, err
	}

	c.mu.Lock()
	c.entries[key] = cacheEntry{id: id, expiresAt: now.Add(c.ttl)}
	c.mu.Unlock()
	return id, nil
}
