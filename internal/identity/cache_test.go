package identity

import (
	"context"
	"testing"
	"time"
)

func TestCachedResolverServesFromCache(t *testing.T) {
	r, stores := newTestResolver(t)
	ctx := context.Background()
	stores[RoleTechnician].Put(Identity{Key: "t-1", NIP: "1001", Name: "before", Status: StatusActive})

	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	cached := NewCachedResolver(r, WithCacheClock(func() time.Time { return now }))

	first, err := cached.Resolve(ctx, "1001")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	// Mutate the backing store; the cache keeps serving the old record until
	// TTL or invalidation.
	stores[RoleTechnician].Put(Identity{Key: "t-1", NIP: "1001", Name: "after", Status: StatusActive})
	second, err := cached.Resolve(ctx, "1001")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if second.Name != first.Name {
		t.Fatalf("expected cached record, got %q", second.Name)
	}

	now = now.Add(defaultCacheTTL + time.Second)
	third, err := cached.Resolve(ctx, "1001")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if third.Name != "after" {
		t.Fatalf("expected refreshed record after TTL, got %q", third.Name)
	}
}

func TestCachedResolverInvalidate(t *testing.T) {
	r, stores := newTestResolver(t)
	ctx := context.Background()
	stores[RoleEndUser].Put(Identity{Key: "u-1", NIP: "55", Email: "a@example.com", Name: "v1", Status: StatusActive})

	cached := NewCachedResolver(r)
	if _, err := cached.Resolve(ctx, "55"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, err := cached.ResolveByEmail(ctx, "a@example.com"); err != nil {
		t.Fatalf("ResolveByEmail: %v", err)
	}

	stores[RoleEndUser].Put(Identity{Key: "u-1", NIP: "55", Email: "a@example.com", Name: "v2", Status: StatusActive})
	cached.Invalidate("55")

	got, err := cached.ResolveByEmail(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("ResolveByEmail: %v", err)
	}
	if got.Name != "v2" {
		t.Fatalf("invalidation did not drop email entry, got %q", got.Name)
	}
}

func TestCachedResolverDoesNotCacheMisses(t *testing.T) {
	r, stores := newTestResolver(t)
	ctx := context.Background()
	cached := NewCachedResolver(r)

	if _, err := cached.Resolve(ctx, "88"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	stores[RoleEndUser].Put(Identity{Key: "u-8", NIP: "88", Status: StatusActive})
	if _, err := cached.Resolve(ctx, "88"); err != nil {
		t.Fatalf("expected hit after insert, got %v", err)
	}
}
