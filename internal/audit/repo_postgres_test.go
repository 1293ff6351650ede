package audit

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresRepo_Append(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(`INSERT INTO auth_audit_log`).
		WithArgs("e1", "t1", "LOGIN_SUCCESS", "info", "u1", "", "1.2.3.4", "curl", []byte(`{"method":"password"}`), at).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO auth_audit_log`).
		WithArgs("e2", "", "LOGIN_FAIL", "warning", "", "", "1.2.3.4", "", []byte(`{}`), at).
		WillReturnResult(sqlmock.NewResult(1, 1))

	repo := NewPostgresRepo(db)
	require.NoError(t, repo.Append(context.Background(), Event{
		ID: "e1", TenantID: "t1", Type: EventLoginSuccess, Severity: SeverityInfo,
		UserID: "u1", IPAddress: "1.2.3.4", UserAgent: "curl",
		Metadata: map[string]any{"method": "password"}, CreatedAt: at,
	}))
	require.NoError(t, repo.Append(context.Background(), Event{
		ID: "e2", Type: EventLoginFail, Severity: SeverityWarning, IPAddress: "1.2.3.4", CreatedAt: at,
	}))
	require.NoError(t, mock.ExpectationsWereMet())
}

var loginColumns = []string{"id", "tenant_id", "event_type", "severity", "user_id", "ip_address", "user_agent", "metadata", "created_at", "email", "first_name", "last_name"}

func TestPostgresRepo_RecentLogins(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`LEFT JOIN users u ON u.id = l.user_id\s+WHERE l.tenant_id = \$1 AND l.event_type = 'LOGIN_SUCCESS'\s+ORDER BY l.created_at DESC\s+LIMIT \$2`).
		WithArgs("t1", 50).
		WillReturnRows(sqlmock.NewRows(loginColumns).
			AddRow("e1", "t1", "LOGIN_SUCCESS", "info", "u1", "1.2.3.4", "curl", []byte(`{"role":"ADMIN"}`), at, "ada@example.com", "Ada", "Lovelace"))

	got, err := NewPostgresRepo(db).RecentLogins(context.Background(), LoginQuery{TenantID: "t1", Limit: 50})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, EventLoginSuccess, got[0].Type)
	assert.Equal(t, "ADMIN", got[0].Metadata["role"])
	assert.Equal(t, "ada@example.com", got[0].UserEmail)
	assert.Equal(t, "Lovelace", got[0].LastName)
	assert.True(t, got[0].CreatedAt.Equal(at))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_RecentLoginsFiltersUserBeforeLimit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`WHERE l.tenant_id = \$1 AND l.event_type = 'LOGIN_SUCCESS'\s+AND l.user_id = \$2\s+ORDER BY l.created_at DESC\s+LIMIT \$3`).
		WithArgs("t1", "u-target", 100).
		WillReturnRows(sqlmock.NewRows(loginColumns))

	got, err := NewPostgresRepo(db).RecentLogins(context.Background(), LoginQuery{TenantID: "t1", UserID: "u-target", Limit: 100})
	require.NoError(t, err)
	assert.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}
