package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"lms-platform/internal/rbac"

	"github.com/jackc/pgx/v5/pgtype"
)

// NOTE: This repository assumes the tables in migrations/0001_auth_core.sql:
// - users (email unique, token_version bigint not null default 0)
// - nodes

// PostgresStore implements Store over database/sql with the pgx driver.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const selectUser = `
SELECT id, tenant_id, email, username, first_name, last_name, coalesce(avatar, ''),
       password_hash, active_role, roles, rbac_overrides, token_version,
       coalesce(node_id, ''), node_ids, is_active, is_verified, is_disabled, last_login_at
FROM users
`

func (s *PostgresStore) FindUserByEmail(ctx context.Context, email string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, selectUser+`WHERE email = $1`, normalizeEmail(email)))
}

func (s *PostgresStore) FindUserByID(ctx context.Context, userID string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, selectUser+`WHERE id = $1`, userID))
}

func (s *PostgresStore) scanUser(row *sql.Row) (User, error) {
	var (
		u          User
		activeRole string
		roles      []string
		overrides  []byte
		lastLogin  sql.NullTime
	)
	// pgtype.Map caches scan plans and is not safe for concurrent use.
	types := pgtype.NewMap()
	if err := row.Scan(
		&u.ID,
		&u.TenantID,
		&u.Email,
		&u.Username,
		&u.FirstName,
		&u.LastName,
		&u.Avatar,
		&u.PasswordHash,
		&activeRole,
		types.SQLScanner(&roles),
		&overrides,
		&u.TokenVersion,
		&u.NodeID,
		types.SQLScanner(&u.NodeIDs),
		&u.Active,
		&u.Verified,
		&u.Disabled,
		&lastLogin,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}

	u.ActiveRole = rbac.Role(activeRole)
	for _, r := range roles {
		u.Roles = append(u.Roles, rbac.Role(r))
	}
	o, err := rbac.ParseOverrides(overrides)
	if err != nil {
		return User{}, fmt.Errorf("user %s: %w", u.ID, err)
	}
	u.Overrides = o
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	return u, nil
}

func (s *PostgresStore) UpdateLastLogin(ctx context.Context, tenantID, userID string, at time.Time) error {
	const q = `
UPDATE users SET last_login_at = $3
WHERE tenant_id = $1 AND id = $2
`
	res, err := s.db.ExecContext(ctx, q, tenantID, userID, at.UTC())
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func (s *PostgresStore) BumpTokenVersion(ctx context.Context, tenantID, userID string) (int64, error) {
	const q = `
UPDATE users SET token_version = token_version + 1
WHERE tenant_id = $1 AND id = $2
RETURNING token_version
`
	var v int64
	if err := s.db.QueryRowContext(ctx, q, tenantID, userID).Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return v, nil
}

func (s *PostgresStore) SessionState(ctx context.Context, userID string) (int64, bool, bool, error) {
	const q = `
SELECT token_version, is_active AND NOT is_disabled
FROM users
WHERE id = $1
`
	var (
		v      int64
		active bool
	)
	if err := s.db.QueryRowContext(ctx, q, userID).Scan(&v, &active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, false, nil
		}
		return 0, false, false, err
	}
	return v, active, true, nil
}

func (s *PostgresStore) FindNode(ctx context.Context, tenantID, nodeID string) (Node, error) {
	const q = `
SELECT id, tenant_id, name, is_active
FROM nodes
WHERE tenant_id = $1 AND id = $2
`
	var n Node
	if err := s.db.QueryRowContext(ctx, q, tenantID, nodeID).Scan(
		&n.ID,
		&n.TenantID,
		&n.Name,
		&n.Active,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Node{}, ErrNotFound
		}
		return Node{}, err
	}
	return n, nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
