package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresRepo appends to auth_audit_log.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO auth_audit_log
  (id, tenant_id, event_type, severity, user_id, target_user_id, ip_address, user_agent, metadata, created_at)
VALUES ($1, NULLIF($2, ''), $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), $9, $10)
`
	meta := []byte("{}")
	if len(e.Metadata) > 0 {
		var err error
		if meta, err = json.Marshal(e.Metadata); err != nil {
			return fmt.Errorf("audit: encode metadata: %w", err)
		}
	}
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.TenantID,
		string(e.Type),
		string(e.Severity),
		e.UserID,
		e.TargetUserID,
		e.IPAddress,
		e.UserAgent,
		meta,
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

func (r *PostgresRepo) RecentLogins(ctx context.Context, lq LoginQuery) ([]Login, error) {
	q := `
SELECT l.id, l.tenant_id, l.event_type, l.severity, coalesce(l.user_id, ''), coalesce(l.ip_address, ''),
       coalesce(l.user_agent, ''), l.metadata, l.created_at,
       coalesce(u.email, ''), coalesce(u.first_name, ''), coalesce(u.last_name, '')
FROM auth_audit_log l
LEFT JOIN users u ON u.id = l.user_id
WHERE l.tenant_id = $1 AND l.event_type = 'LOGIN_SUCCESS'
`
	args := []any{lq.TenantID}
	if lq.UserID != "" {
		args = append(args, lq.UserID)
		q += fmt.Sprintf("AND l.user_id = $%d\n", len(args))
	}
	args = append(args, lq.Limit)
	q += fmt.Sprintf("ORDER BY l.created_at DESC\nLIMIT $%d\n", len(args))

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Login
	for rows.Next() {
		var (
			l    Login
			typ  string
			sev  string
			meta []byte
		)
		if err := rows.Scan(&l.ID, &l.TenantID, &typ, &sev, &l.UserID, &l.IPAddress, &l.UserAgent, &meta, &l.CreatedAt,
			&l.UserEmail, &l.FirstName, &l.LastName); err != nil {
			return nil, err
		}
		l.Type = EventType(typ)
		l.Severity = Severity(sev)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &l.Metadata); err != nil {
				return nil, fmt.Errorf("audit: decode metadata for %s: %w", l.ID, err)
			}
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
