package identity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Table names of the four identity collections. They predate the auth core
// and are owned by the user-management modules.
const (
	TableAdminPrimary   = "primary_admins"
	TableAdminSecondary = "secondary_admins"
	TableTechnician     = "technicians"
	TableEndUser        = "end_users"
)

// PGStore adapts one identity table to the Store interface. All four tables
// share the same column shape.
type PGStore struct {
	db    *sql.DB
	table string
}

func NewPGStore(db *sql.DB, table string) *PGStore {
	return &PGStore{db: db, table: table}
}

// RegisterPGStores wires the four table adapters into the resolver in
// precedence order.
func RegisterPGStores(r *Resolver, db *sql.DB) error {
	tables := map[RoleTag]string{
		RoleAdminPrimary:   TableAdminPrimary,
		RoleAdminSecondary: TableAdminSecondary,
		RoleTechnician:     TableTechnician,
		RoleEndUser:        TableEndUser,
	}
	for _, kind := range Precedence {
		if err := r.Register(kind, NewPGStore(db, tables[kind])); err != nil {
			return err
		}
	}
	return nil
}

const identityColumns = "id, nip, name, email, status, password_hash, extra_capabilities, last_login_at"

func (s *PGStore) FindByNIP(ctx context.Context, nip string) (Identity, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`select %s from %s where nip=$1`, identityColumns, s.table), nip)
	return scanIdentity(row)
}

func (s *PGStore) FindByKey(ctx context.Context, key string) (Identity, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`select %s from %s where id=$1`, identityColumns, s.table), key)
	return scanIdentity(row)
}

func (s *PGStore) FindByEmail(ctx context.Context, email string) (Identity, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`select %s from %s where lower(email)=lower($1)`, identityColumns, s.table), email)
	return scanIdentity(row)
}

func (s *PGStore) TouchLastLogin(ctx context.Context, key string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`update %s set last_login_at=$2 where id=$1`, s.table), key, at)
	return err
}

func scanIdentity(row *sql.Row) (Identity, error) {
	var (
		id        Identity
		email     sql.NullString
		caps      []byte
		lastLogin sql.NullTime
	)
	err := row.Scan(&id.Key, &id.NIP, &id.Name, &email, &id.Status, &id.PasswordHash, &caps, &lastLogin)
	if err == sql.ErrNoRows {
		return Identity{}, ErrNotFound
	}
	if err != nil {
		return Identity{}, err
	}
	if email.Valid {
		id.Email = email.String
	}
	if len(caps) > 0 {
		_ = json.Unmarshal(caps, &id.ExtraCapabilities)
	}
	if lastLogin.Valid {
		id.LastLoginAt = lastLogin.Time
	}
	return id, nil
}
