package rbac

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog_Ensure(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	catalog := NewCatalog(db)

	// Re-registering is a no-op at the SQL level.
	mock.ExpectExec("INSERT INTO permissions").
		WithArgs("users.view", true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO permissions").
		WithArgs("users.view", true).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, catalog.Ensure(context.Background(), "users.view", true))
	require.NoError(t, catalog.Ensure(context.Background(), "users.view", true))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalog_Scopeable(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	catalog := NewCatalog(db)

	t.Run("declared scopeable", func(t *testing.T) {
		mock.ExpectQuery("SELECT scopeable FROM permissions").
			WithArgs("users.edit").
			WillReturnRows(sqlmock.NewRows([]string{"scopeable"}).AddRow(true))

		scopeable, err := catalog.Scopeable(context.Background(), "users.edit")
		require.NoError(t, err)
		assert.True(t, scopeable)
	})

	t.Run("unknown permission is global-only", func(t *testing.T) {
		mock.ExpectQuery("SELECT scopeable FROM permissions").
			WithArgs("ghosts.walk").
			WillReturnError(sql.ErrNoRows)

		scopeable, err := catalog.Scopeable(context.Background(), "ghosts.walk")
		require.NoError(t, err)
		assert.False(t, scopeable)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalog_Validate(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	catalog := NewCatalog(db)

	mock.ExpectQuery("SELECT name FROM permissions WHERE name = ANY").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("users.view"))

	missing, err := catalog.Validate(context.Background(), []PermissionName{"users.view", "bogus.perm"})
	require.NoError(t, err)
	assert.Equal(t, []PermissionName{"bogus.perm"}, missing)

	// No names, no query.
	missing, err = catalog.Validate(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, missing)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalog_List(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	catalog := NewCatalog(db)
	now := time.Now()

	mock.ExpectQuery("SELECT name, scopeable, created_at FROM permissions").
		WillReturnRows(sqlmock.NewRows([]string{"name", "scopeable", "created_at"}).
			AddRow("audit.view", false, now).
			AddRow("users.edit", true, now))

	perms, err := catalog.List(context.Background())
	require.NoError(t, err)
	require.Len(t, perms, 2)
	assert.Equal(t, PermissionName("audit.view"), perms[0].Name)
	assert.True(t, perms[1].Scopeable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDefaultCatalog(t *testing.T) {
	perms := DefaultCatalog()
	byName := make(map[PermissionName]Permission, len(perms))
	for _, p := range perms {
		_, err := ParsePermissionName(string(p.Name))
		require.NoError(t, err, p.Name)
		byName[p.Name] = p
	}

	assert.True(t, byName["users.edit"].Scopeable)
	assert.False(t, byName["users.delete"].Scopeable)
	assert.False(t, byName["roles.manage"].Scopeable)
}
