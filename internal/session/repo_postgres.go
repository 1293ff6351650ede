package session

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"lms-platform/pkg/utils"
)

// NOTE: This repository assumes the refresh_tokens table from
// migrations/0001_auth_core.sql, with an index on family_id and (tenant_id, user_id).

// PostgresRefreshStore implements RefreshStore over database/sql.
type PostgresRefreshStore struct {
	db *sql.DB
}

func NewPostgresRefreshStore(db *sql.DB) *PostgresRefreshStore {
	return &PostgresRefreshStore{db: db}
}

const insertRefresh = `
INSERT INTO refresh_tokens
  (id, family_id, user_id, tenant_id, token_version, issued_at, expires_at, ip_address, user_agent)
VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''))
`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertRecord(ctx context.Context, db execer, r RefreshRecord) error {
	_, err := db.ExecContext(ctx, insertRefresh,
		r.ID,
		r.FamilyID,
		r.UserID,
		r.TenantID,
		r.TokenVersion,
		r.IssuedAt.UTC(),
		r.ExpiresAt.UTC(),
		r.IPAddress,
		r.UserAgent,
	)
	return err
}

func (s *PostgresRefreshStore) Create(ctx context.Context, r RefreshRecord) error {
	return insertRecord(ctx, s.db, r)
}

func (s *PostgresRefreshStore) Rotate(ctx context.Context, oldID string, next RefreshRecord, now time.Time) error {
	return utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		// Conditional update is the check-and-swap: only one transaction can
		// move rotated_at from NULL.
		const swap = `
UPDATE refresh_tokens
SET rotated_at = $2, replaced_by = $3
WHERE id = $1 AND rotated_at IS NULL AND revoked_at IS NULL AND expires_at > $2
`
		res, err := tx.ExecContext(ctx, swap, oldID, now.UTC(), next.ID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return classifyFailedSwap(ctx, tx, oldID, now)
		}
		return insertRecord(ctx, tx, next)
	})
}

func classifyFailedSwap(ctx context.Context, tx *sql.Tx, id string, now time.Time) error {
	const q = `
SELECT rotated_at IS NOT NULL, revoked_at IS NOT NULL, expires_at
FROM refresh_tokens
WHERE id = $1
`
	var (
		rotated, revoked bool
		expiresAt        time.Time
	)
	if err := tx.QueryRowContext(ctx, q, id).Scan(&rotated, &revoked, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrRefreshNotFound
		}
		return err
	}
	if rotated {
		return ErrRefreshReused
	}
	if revoked {
		return ErrRefreshRevoked
	}
	if !now.Before(expiresAt) {
		return ErrRefreshExpired
	}
	// Row changed between the swap and this read; treat as a lost race.
	return ErrRefreshReused
}

func (s *PostgresRefreshStore) Revoke(ctx context.Context, id string, now time.Time) error {
	const q = `
UPDATE refresh_tokens SET revoked_at = coalesce(revoked_at, $2)
WHERE id = $1
`
	res, err := s.db.ExecContext(ctx, q, id, now.UTC())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRefreshNotFound
	}
	return nil
}

func (s *PostgresRefreshStore) RevokeFamily(ctx context.Context, familyID string, now time.Time) error {
	const q = `
UPDATE refresh_tokens SET revoked_at = $2
WHERE family_id = $1 AND revoked_at IS NULL
`
	_, err := s.db.ExecContext(ctx, q, familyID, now.UTC())
	return err
}

func (s *PostgresRefreshStore) RevokeUser(ctx context.Context, tenantID, userID string, now time.Time) error {
	const q = `
UPDATE refresh_tokens SET revoked_at = $3
WHERE tenant_id = $1 AND user_id = $2 AND revoked_at IS NULL
`
	_, err := s.db.ExecContext(ctx, q, tenantID, userID, now.UTC())
	return err
}
