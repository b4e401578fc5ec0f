package database

import (
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/garyjia/invoice-reconciler/migrations"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(Config{Path: filepath.Join(t.TempDir(), "data", "test.db")}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNew_RequiresPath(t *testing.T) {
	_, err := New(Config{}, zap.NewNop())
	assert.Error(t, err)
}

func TestLoadMigrations_SortsByVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"010_add_index.sql":   {Data: []byte("CREATE INDEX i ON t(a);")},
		"002_create_t.sql":    {Data: []byte("CREATE TABLE t (a TEXT);")},
		"README.md":           {Data: []byte("ignored")},
		"nested/003_more.sql": {Data: []byte("SELECT 1;")},
	}

	got, err := LoadMigrations(fsys)
	require.NoError(t, err)

	require.Len(t, got, 3)
	assert.Equal(t, 2, got[0].Version)
	assert.Equal(t, "create_t", got[0].Name)
	assert.Equal(t, 3, got[1].Version)
	assert.Equal(t, 10, got[2].Version)
	assert.Equal(t, "add_index", got[2].Name)
}

func TestLoadMigrations_Errors(t *testing.T) {
	t.Run("bad filename", func(t *testing.T) {
		_, err := LoadMigrations(fstest.MapFS{"create.sql": {Data: []byte("SELECT 1;")}})
		assert.ErrorContains(t, err, "invalid migration filename")
	})

	t.Run("duplicate version", func(t *testing.T) {
		_, err := LoadMigrations(fstest.MapFS{
			"001_a.sql": {Data: []byte("SELECT 1;")},
			"001_b.sql": {Data: []byte("SELECT 1;")},
		})
		assert.ErrorContains(t, err, "duplicate migration version 1")
	})
}

func TestMigrator_AppliesEmbeddedSchemaOnce(t *testing.T) {
	db := openTestDB(t)
	migrator := NewMigrator(db, zap.NewNop())

	require.NoError(t, migrator.RunMigrations(migrations.FS))
	require.NoError(t, migrator.RunMigrations(migrations.FS))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, 1, count)

	for _, table := range []string{"invoices", "invoice_lines"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		require.NoError(t, err, table)
	}
}

func TestMigrator_FailedMigrationIsNotRecorded(t *testing.T) {
	db := openTestDB(t)
	migrator := NewMigrator(db, zap.NewNop())

	err := migrator.RunMigrations(fstest.MapFS{
		"001_ok.sql":     {Data: []byte("CREATE TABLE ok (a TEXT);")},
		"002_broken.sql": {Data: []byte("CREATE TABLE broken (;")},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to apply migration 2")

	var versions []int
	rows, err := db.Query("SELECT version FROM schema_migrations ORDER BY version")
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var v int
		require.NoError(t, rows.Scan(&v))
		versions = append(versions, v)
	}
	assert.Equal(t, []int{1}, versions)
}

func TestWithTransaction_RollsBackOnError(t *testing.T) {
	db := openTestDB(t)
	_, err := db.Exec("CREATE TABLE t (a TEXT)")
	require.NoError(t, err)

	err = db.WithTransaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec("INSERT INTO t (a) VALUES ('x')"); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM t").Scan(&count))
	assert.Equal(t, 0, count)
}
