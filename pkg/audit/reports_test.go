package audit

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReports_SecurityOverview(t *testing.T) {
	t.Run("counts by kind", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		reports := NewReports(db, NewStore(db))

		mock.ExpectQuery("SELECT (.+) FROM audit_logs WHERE occurred_at >=").
			WithArgs(sqlmock.AnyArg(), EventLoginSuccess, EventLoginFailed).
			WillReturnRows(sqlmock.NewRows([]string{"total", "critical", "logins", "failed"}).
				AddRow(120, 3, 40, 7))

		overview, err := reports.SecurityOverview(context.Background(), 24)
		require.NoError(t, err)
		assert.Equal(t, int64(120), overview.TotalEvents)
		assert.Equal(t, int64(3), overview.CriticalEvents)
		assert.Equal(t, int64(40), overview.SuccessfulLogins)
		assert.Equal(t, int64(7), overview.FailedLogins)
		assert.Equal(t, 24, overview.WindowHours)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty window yields zeroes", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		reports := NewReports(db, NewStore(db))

		mock.ExpectQuery("SELECT (.+) FROM audit_logs WHERE occurred_at >=").
			WillReturnRows(sqlmock.NewRows([]string{"total", "critical", "logins", "failed"}).
				AddRow(0, 0, 0, 0))

		overview, err := reports.SecurityOverview(context.Background(), 0)
		require.NoError(t, err)
		assert.Zero(t, overview.TotalEvents)
		assert.Equal(t, 24, overview.WindowHours)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestReports_SecurityAlerts(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	reports := NewReports(db, NewStore(db))
	now := time.Now()

	mock.ExpectQuery("SELECT (.+) FROM audit_logs WHERE occurred_at >= (.+) severity = 'critical' OR 'suspicious'").
		WithArgs(sqlmock.AnyArg(), 50).
		WillReturnRows(addEntryRow(entryRows(), 1, "login_failed", "critical", now))

	alerts, err := reports.SecurityAlerts(context.Background(), now.Add(-24*time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, SeverityCritical, alerts[0].Severity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReports_TopActors(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	reports := NewReports(db, NewStore(db))
	now := time.Now()

	mock.ExpectQuery("SELECT user_id, COUNT(.+) FROM audit_logs").
		WithArgs(sqlmock.AnyArg(), 10).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "event_count", "last_seen"}).
			AddRow(int64(7), int64(31), now).
			AddRow(int64(9), int64(12), now.Add(-time.Hour)))

	actors, err := reports.TopActors(context.Background(), now.Add(-24*time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, actors, 2)
	assert.Equal(t, int64(7), actors[0].UserID)
	assert.Equal(t, int64(31), actors[0].EventCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRetention_Cleanup(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	retention := NewRetention(db, RetentionPolicy{RetentionDays: 30}, nil, nil)

	mock.ExpectExec("DELETE FROM audit_logs WHERE occurred_at <").
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 17))

	deleted, err := retention.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(17), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
