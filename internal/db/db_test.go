package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func migrationsDir(t *testing.T) string {
	t.Helper()
	// migrations live at the repository root
	return filepath.Join("..", "..", "migrations")
}

func TestOpenAndMigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	database, err := Open(path)
	require.NoError(t, err)
	defer database.Close()

	require.NoError(t, database.MigrateUp(migrationsDir(t)))

	version, dirty, err := database.MigrateVersion(migrationsDir(t))
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(1), version)

	// bots table exists after migration
	var name string
	err = database.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='bots'`).Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "bots", name)

	// up is idempotent
	require.NoError(t, database.MigrateUp(migrationsDir(t)))
}

func TestMigrateDown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	database, err := Open(path)
	require.NoError(t, err)
	defer database.Close()

	require.NoError(t, database.MigrateUp(migrationsDir(t)))
	require.NoError(t, database.MigrateDown(migrationsDir(t)))

	var count int
	err = database.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='bots'`).Scan(&count)
	require.NoError(t, err)
	assert.Zero(t, count)
}
