package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialect(t *testing.T) {
	cases := map[string]string{
		"postgres://user@localhost/corpus":     DialectPostgres,
		"postgresql://user@localhost/corpus":   DialectPostgres,
		"host=localhost user=corpus dbname=db": DialectPostgres,
		"/tmp/corpus/corpus_state.db":          DialectSQLite,
		"relative/state.db":                    DialectSQLite,
	}
	for dsn, want := range cases {
		assert.Equal(t, want, Dialect(dsn), dsn)
	}
}

func TestMigrationURL(t *testing.T) {
	assert.Equal(t, "sqlite3:///tmp/x.db", migrationURL("/tmp/x.db"))
	assert.Equal(t, "postgres://u@h/db", migrationURL("postgres://u@h/db"))
}

func TestMigrationManager_SQLite(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "state", "corpus_state.db")
	db, err := Open(dsn, Options{})
	require.NoError(t, err)
	defer Close(db)

	mm, err := NewMigrationManager(dsn, quietLogger())
	require.NoError(t, err)
	defer mm.Close()

	pending, err := mm.Pending()
	require.NoError(t, err)
	assert.True(t, pending)

	require.NoError(t, mm.Up())
	version, dirty, err := mm.Version()
	require.NoError(t, err)
	assert.False(t, dirty)
	latest, err := mm.Latest()
	require.NoError(t, err)
	assert.Equal(t, latest, version)

	pending, err = mm.Pending()
	require.NoError(t, err)
	assert.False(t, pending)

	// 重复执行无变化
	require.NoError(t, mm.Up())

	for _, table := range []string{"conversations", "interactions", "annotations", "key_value"} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}
	assert.True(t, db.Migrator().HasColumn("annotations", "interaction_id"))
}

func TestMigrationManager_Down(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "corpus_state.db")
	require.NoError(t, Migrate(dsn, quietLogger()))

	mm, err := NewMigrationManager(dsn, quietLogger())
	require.NoError(t, err)
	defer mm.Close()

	require.NoError(t, mm.Down())
	version, _, err := mm.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	require.NoError(t, mm.UpTo(2))
	version, _, err = mm.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
}

func TestOpen_EmptyDSN(t *testing.T) {
	_, err := Open("  ", Options{})
	assert.Error(t, err)
}
