package session

import (
	"context"
	"database/sql"
	"time"

	"github.com/nikodwicahyo/helpdesk/internal/identity"
)

// PGStore implements Store on PostgreSQL. Admission takes a per-identity
// advisory lock inside its transaction so two concurrent logins cannot both
// observe a count under the cap.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const sessionColumns = "token, nip, role, origin_address, client_descriptor, created_at, last_activity, expires_at, active, payload"

func (s *PGStore) CreateIfUnderCap(ctx context.Context, sess *Session, max int, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Serialize admissions per NIP for the life of the transaction. Locking
	// the existing session rows is not enough: a concurrent insert is a
	// phantom those locks never cover, so two logins one below the cap could
	// both pass the ceiling check.
	if _, err := tx.ExecContext(ctx,
		`select pg_advisory_xact_lock(hashtext($1))`, sess.NIP); err != nil {
		return err
	}

	var count int
	if err := tx.QueryRowContext(ctx,
		`select count(*) from sessions where nip=$1 and active and expires_at > $2`,
		sess.NIP, now).Scan(&count); err != nil {
		return err
	}
	if count >= max {
		return ErrMaxSessions
	}

	if _, err := tx.ExecContext(ctx,
		`insert into sessions(token, nip, role, origin_address, client_descriptor, created_at, last_activity, expires_at, active, payload)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		sess.Token, sess.NIP, string(sess.Role), sess.OriginAddress, sess.ClientDescriptor,
		sess.CreatedAt, sess.LastActivity, sess.ExpiresAt, sess.Active, sess.Payload,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PGStore) Find(ctx context.Context, token string) (Session, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+sessionColumns+` from sessions where token=$1`, token)
	var (
		sess Session
		role string
	)
	err := row.Scan(&sess.Token, &sess.NIP, &role, &sess.OriginAddress, &sess.ClientDescriptor,
		&sess.CreatedAt, &sess.LastActivity, &sess.ExpiresAt, &sess.Active, &sess.Payload)
	if err == sql.ErrNoRows {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	sess.Role = identity.RoleTag(role)
	return sess, nil
}

func (s *PGStore) CountActive(ctx context.Context, nip string, now time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`select count(*) from sessions where nip=$1 and active and expires_at > $2`,
		nip, now).Scan(&count)
	return count, err
}

func (s *PGStore) ListActive(ctx context.Context, nip string, now time.Time) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+sessionColumns+` from sessions where nip=$1 and active and expires_at > $2 order by created_at`,
		nip, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			sess Session
			role string
		)
		if err := rows.Scan(&sess.Token, &sess.NIP, &role, &sess.OriginAddress, &sess.ClientDescriptor,
			&sess.CreatedAt, &sess.LastActivity, &sess.ExpiresAt, &sess.Active, &sess.Payload); err != nil {
			return nil, err
		}
		sess.Role = identity.RoleTag(role)
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *PGStore) Touch(ctx context.Context, token string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update sessions set last_activity=$2 where token=$1`, token, at)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PGStore) MarkInactive(ctx context.Context, token string) error {
	res, err := s.db.ExecContext(ctx,
		`update sessions set active=false where token=$1`, token)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PGStore) MarkInactiveAllExcept(ctx context.Context, nip, keepToken string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`update sessions set active=false where nip=$1 and token<>$2 and active`, nip, keepToken)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *PGStore) MarkInactiveAll(ctx context.Context, nip string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`update sessions set active=false where nip=$1 and active`, nip)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *PGStore) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`update sessions set active=false where active and expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *PGStore) PurgeTerminated(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from sessions where not active and expires_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
