package migrate

import (
	"database/sql"
	"embed"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

//go:embed testdata/*.sql
var testMigrationsFS embed.FS

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	return db
}

func TestMigratorEmptyVersion(t *testing.T) {
	db := openTestDB(t)

	m := New(db, "test_migrations")

	version, err := m.Version()
	require.NoError(t, err)
	require.Equal(t, 0, version)
}

func TestMigratorUp(t *testing.T) {
	db := openTestDB(t)

	m := New(db, "test_migrations")
	require.NoError(t, m.LoadFromFS(testMigrationsFS, "testdata"))
	require.Len(t, m.migrations, 2)

	require.NoError(t, m.Up())

	version, err := m.Version()
	require.NoError(t, err)
	require.Equal(t, 2, version)

	// Both migrations applied: table exists with the added column.
	_, err = db.Exec("INSERT INTO test_table (id, name, created_at) VALUES (1, 'a', 0)")
	require.NoError(t, err)
}

func TestMigratorUpIsIdempotent(t *testing.T) {
	db := openTestDB(t)

	m := New(db, "test_migrations")
	require.NoError(t, m.LoadFromFS(testMigrationsFS, "testdata"))

	require.NoError(t, m.Up())
	require.NoError(t, m.Up())

	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM test_migrations").Scan(&count)
	require.NoError(t, err)
	require.Equal(t, 2, count)
}
