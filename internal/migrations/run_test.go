package migrations

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func getTestDB(t *testing.T) (*sql.DB, func()) {
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)

	cleanup := func() {
		db.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}

	return db, cleanup
}

func getMigrationsPath(t *testing.T) string {
	projectRoot, err := filepath.Abs("../..")
	require.NoError(t, err)
	return filepath.Join(projectRoot, "migrations")
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	var exists bool
	err := db.QueryRow(`
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = 'public' AND table_name = $1
		)
	`, name).Scan(&exists)
	require.NoError(t, err)
	return exists
}

func TestRun(t *testing.T) {
	db, cleanup := getTestDB(t)
	defer cleanup()
	path := getMigrationsPath(t)

	_, ok, err := Version(db, path)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, Run(db, path))
	require.True(t, tableExists(t, db, "options"))
	require.True(t, tableExists(t, db, "locks"))

	require.NoError(t, Run(db, path), "second run is a no-op")
	v, ok, err := Version(db, path)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint(1), v)
}

func TestDown(t *testing.T) {
	db, cleanup := getTestDB(t)
	defer cleanup()
	path := getMigrationsPath(t)

	require.NoError(t, Run(db, path))
	require.NoError(t, Down(db, path))
	require.False(t, tableExists(t, db, "options"))
	require.False(t, tableExists(t, db, "locks"))

	_, ok, err := Version(db, path)
	require.NoError(t, err)
	require.False(t, ok)
}
