package audit

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock
}

func entryRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "uid", "event", "auditable_type", "auditable_id", "module", "action",
		"description", "severity", "user_id", "ip_address", "user_agent",
		"old_values", "new_values", "metadata", "tags", "occurred_at", "created_at",
	})
}

func addEntryRow(rows *sqlmock.Rows, id int64, event string, severity string, occurred time.Time) *sqlmock.Rows {
	return rows.AddRow(
		id, "00000000-0000-0000-0000-000000000001", event, "", nil, "roles", "create",
		"", severity, nil, "", "",
		nil, nil, []byte(`{"k":"v"}`), []byte(`{suspicious}`), occurred, occurred,
	)
}

func TestStore_CreateEntry(t *testing.T) {
	t.Run("assigns uid and defaults", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		store := NewStore(db)
		now := time.Now()

		mock.ExpectQuery("INSERT INTO audit_logs").
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(1), now))

		entry := &Entry{Event: "role_created", Module: "roles", Severity: "bogus"}
		require.NoError(t, store.CreateEntry(context.Background(), entry))

		assert.Equal(t, int64(1), entry.ID)
		assert.NotEmpty(t, entry.UID)
		assert.False(t, entry.OccurredAt.IsZero())
		assert.Equal(t, SeverityInfo, entry.Severity)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("requires event", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		store := NewStore(db)
		err := store.CreateEntry(context.Background(), &Entry{Module: "roles"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "requires an event")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_AppendMetadata(t *testing.T) {
	t.Run("merges patch", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		store := NewStore(db)

		mock.ExpectExec("UPDATE audit_logs SET metadata").
			WithArgs(int64(1), []byte(`{"reviewed":true}`)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := store.AppendMetadata(context.Background(), 1, map[string]interface{}{"reviewed": true})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing entry", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		store := NewStore(db)

		mock.ExpectExec("UPDATE audit_logs SET metadata").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.AppendMetadata(context.Background(), 99, map[string]interface{}{"k": "v"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty patch is a no-op", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		store := NewStore(db)
		require.NoError(t, store.AppendMetadata(context.Background(), 1, nil))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_Search(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	store := NewStore(db)
	now := time.Now()
	userID := int64(42)

	mock.ExpectQuery("SELECT (.+) FROM audit_logs WHERE 1=1 AND event (.+) AND severity (.+) AND user_id (.+) AND occurred_at >=").
		WithArgs("role_created", "warning", userID, sqlmock.AnyArg(), 10).
		WillReturnRows(addEntryRow(entryRows(), 1, "role_created", "warning", now))

	entries, err := store.Search(context.Background(), Filter{
		Event:    "role_created",
		Severity: SeverityWarning,
		UserID:   &userID,
		Since:    now.Add(-time.Hour),
		Limit:    10,
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "role_created", entries[0].Event)
	assert.Equal(t, SeverityWarning, entries[0].Severity)
	assert.Equal(t, []string{"suspicious"}, entries[0].Tags)
	assert.Equal(t, "v", entries[0].Metadata["k"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_NamedHelpersDelegateToSearch(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	store := NewStore(db)
	now := time.Now()

	mock.ExpectQuery("SELECT (.+) FROM audit_logs WHERE 1=1 AND severity").
		WithArgs("critical", 5).
		WillReturnRows(addEntryRow(entryRows(), 2, "role_deleted", "critical", now))

	entries, err := store.Critical(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, SeverityCritical, entries[0].Severity)

	mock.ExpectQuery("SELECT (.+) FROM audit_logs WHERE 1=1 AND module").
		WithArgs("roles", 5).
		WillReturnRows(entryRows())

	entries, err = store.ByModule(context.Background(), "roles", 5)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Get_NotFound(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	store := NewStore(db)

	mock.ExpectQuery("SELECT (.+) FROM audit_logs WHERE id").
		WithArgs(int64(99)).
		WillReturnError(sql.ErrNoRows)

	_, err := store.Get(context.Background(), 99)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}
