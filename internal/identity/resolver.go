package identity

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Lookup is the read surface other packages depend on.
type Lookup interface {
	Resolve(ctx context.Context, nip string) (Identity, error)
	ResolveByKey(ctx context.Context, key string) (Identity, error)
	ResolveByEmail(ctx context.Context, email string) (Identity, error)
}

type registeredStore struct {
	kind  RoleTag
	store Store
}

// Resolver scans registered identity stores in registration order. Wiring
// registers the four stores following Precedence, which makes the scan order
// the documented tie-break for identifiers shared across stores. All lookup
// variants use the same order so a lookup method can never be used to spoof a
// different role for the same identifier.
type Resolver struct {
	stores []registeredStore
}

func NewResolver() *Resolver {
	return &Resolver{}
}

// Register appends a store adapter for a role kind. Duplicate kinds are
// rejected; new identity kinds are added here, never by editing the scan.
func (r *Resolver) Register(kind RoleTag, store Store) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownRole, kind)
	}
	if store == nil {
		return fmt.Errorf("identity: nil store for %q", kind)
	}
	for _, reg := range r.stores {
		if reg.kind == kind {
			return fmt.Errorf("identity: store for %q already registered", kind)
		}
	}
	r.stores = append(r.stores, registeredStore{kind: kind, store: store})
	return nil
}

// Resolve finds the highest-precedence identity with the given NIP.
func (r *Resolver) Resolve(ctx context.Context, nip string) (Identity, error) {
	return r.scan(ctx, func(s Store) (Identity, error) {
		return s.FindByNIP(ctx, nip)
	})
}

// ResolveByKey finds an identity by store-internal key, used for session
// reconstruction.
func (r *Resolver) ResolveByKey(ctx context.Context, key string) (Identity, error) {
	return r.scan(ctx, func(s Store) (Identity, error) {
		return s.FindByKey(ctx, key)
	})
}

// ResolveByEmail finds an identity by email address.
func (r *Resolver) ResolveByEmail(ctx context.Context, email string) (Identity, error) {
	return r.scan(ctx, func(s Store) (Identity, error) {
		return s.FindByEmail(ctx, email)
	})
}

// TouchLastLogin updates the last-login marker on the store that owns the
// identity. Best-effort; callers log and swallow the error.
func (r *Resolver) TouchLastLogin(ctx context.Context, id Identity, at time.Time) error {
	for _, reg := range r.stores {
		if reg.kind == id.Kind {
			return reg.store.TouchLastLogin(ctx, id.Key, at)
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownRole, id.Kind)
}

func (r *Resolver) scan(ctx context.Context, find func(Store) (Identity, error)) (Identity, error) {
	for _, reg := range r.stores {
		id, err := find(reg.store)
		if err == nil {
			id.Kind = reg.kind
			return id, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Identity{}, err
		}
	}
	return Identity{}, ErrNotFound
}
