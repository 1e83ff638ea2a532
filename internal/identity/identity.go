package identity

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound    = errors.New("identity: not found")
	ErrUnknownRole = errors.New("identity: unknown role tag")
)

// RoleTag classifies an identity by the store it came from.
type RoleTag string

const (
	RoleAdminPrimary   RoleTag = "admin_primary"
	RoleAdminSecondary RoleTag = "admin_secondary"
	RoleTechnician     RoleTag = "technician"
	RoleEndUser        RoleTag = "end_user"
)

// Precedence is the lookup order across identity stores. An identifier present
// in more than one store always resolves to the earliest entry here, so
// administrative identities shadow lower-privilege ones sharing the same NIP.
var Precedence = []RoleTag{
	RoleAdminPrimary,
	RoleAdminSecondary,
	RoleTechnician,
	RoleEndUser,
}

// Valid reports whether the tag belongs to the closed role set.
func (r RoleTag) Valid() bool {
	switch r {
	case RoleAdminPrimary, RoleAdminSecondary, RoleTechnician, RoleEndUser:
		return true
	}
	return false
}

const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Identity is a principal record read from one of the identity stores. The
// auth core only reads these; user-management modules own mutation.
type Identity struct {
	// Key is the store-internal primary key, unique within a store only.
	Key  string
	NIP  string
	Kind RoleTag

	Name   string
	Email  string
	Status string

	// PasswordHash holds either a bcrypt or an argon2id encoded hash.
	PasswordHash string

	// ExtraCapabilities are grants beyond the role's base capability set.
	ExtraCapabilities []string

	LastLoginAt time.Time
}

// Active reports whether the account may authenticate.
func (id Identity) Active() bool { return id.Status == StatusActive }

// Store is the per-kind adapter the resolver depends on. Each of the four
// identity collections registers one; the resolver never sees concrete store
// types.
type Store interface {
	FindByNIP(ctx context.Context, nip string) (Identity, error)
	FindByKey(ctx context.Context, key string) (Identity, error)
	FindByEmail(ctx context.Context, email string) (Identity, error)
	// TouchLastLogin is best-effort bookkeeping; callers swallow its errors.
	TouchLastLogin(ctx context.Context, key string, at time.Time) error
}
