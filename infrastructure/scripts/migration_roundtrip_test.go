package scripts

import (
	"database/sql"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/taskdispatch/migrations"
)

// EnvMigrateTestDBURL must point at a scratch database. The round trip
// migrates all the way down, so it deliberately does not fall back to the
// DATABASE_URL other integration tests share.
const EnvMigrateTestDBURL = "TASKDISPATCH_MIGRATE_TEST_DB_URL"

// TestMigrationRoundTrip applies every migration, rolls them all back, and
// applies them again, proving the Down sections actually undo their Up
// counterparts.
func TestMigrationRoundTrip(t *testing.T) {
	dbURL := os.Getenv(EnvMigrateTestDBURL)
	if dbURL == "" {
		t.Skipf("set %s to a scratch database to run the migration round trip", EnvMigrateTestDBURL)
	}

	db, err := sql.Open("pgx", dbURL)
	require.NoError(t, err, "failed to open database connection")
	defer func() {
		if err := db.Close(); err != nil {
			t.Logf("warning: failed to close database connection: %v", err)
		}
	}()
	require.NoError(t, db.Ping(), "database ping failed")

	goose.SetBaseFS(migrations.FS)
	goose.SetTableName("schema_migrations")
	require.NoError(t, goose.SetDialect("postgres"))

	// Up from whatever state the scratch database is in.
	require.NoError(t, goose.Up(db, "."), "initial up failed")

	version, err := goose.GetDBVersion(db)
	require.NoError(t, err)
	require.Greater(t, version, int64(0), "expected at least one applied migration")
	requireTableExists(t, db, true)

	// All the way down removes the schema.
	require.NoError(t, goose.DownTo(db, ".", 0), "down to zero failed")

	version, err = goose.GetDBVersion(db)
	require.NoError(t, err)
	require.Equal(t, int64(0), version)
	requireTableExists(t, db, false)

	// Up again restores it, so a rollback in production is recoverable.
	require.NoError(t, goose.Up(db, "."), "re-up failed")
	requireTableExists(t, db, true)
}

func requireTableExists(t *testing.T, db *sql.DB, want bool) {
	t.Helper()

	var exists bool
	err := db.QueryRow(
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'tasks')`,
	).Scan(&exists)
	require.NoError(t, err)
	require.Equal(t, want, exists, "tasks table existence mismatch")
}
