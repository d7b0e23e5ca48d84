// Package testdb provides the postgres harness for integration tests. It
// connects to the database named by TASKDISPATCH_TEST_DB_URL (DATABASE_URL
// works as a fallback), applies the embedded migrations, and hands back a
// clean *sql.DB. Tests that call New skip automatically when neither
// variable is set, so the default `go test ./...` run needs no database.
package testdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/taskdispatch/internal/ciutil"
	"github.com/phrazzld/taskdispatch/migrations"
)

// connectTimeout bounds the initial ping so a wrong URL fails fast instead
// of hanging the whole test run.
const connectTimeout = 5 * time.Second

// New opens a connection to the integration test database, applies the
// embedded migrations, and truncates the tasks table so every test starts
// from a clean slate. The connection is closed via t.Cleanup.
// Skips the test when no database URL is configured.
func New(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := ciutil.TestDatabaseURL(nil)
	if dbURL == "" {
		t.Skipf("%s or %s not set, skipping postgres integration test",
			ciutil.EnvTestDatabaseURL, ciutil.EnvDatabaseURL)
	}

	db, err := sql.Open("pgx", dbURL)
	require.NoError(t, err, "failed to open database connection")

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	require.NoError(t, db.PingContext(ctx), "database ping failed")

	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("warning: failed to close database connection: %v", err)
		}
	})

	Migrate(t, db)
	Reset(t, db)

	return db
}

// Migrate applies the embedded migrations to db.
func Migrate(t *testing.T, db *sql.DB) {
	t.Helper()

	goose.SetLogger(&gooseTestLogger{t: t})
	goose.SetBaseFS(migrations.FS)
	goose.SetTableName("schema_migrations")
	require.NoError(t, goose.SetDialect("postgres"))
	require.NoError(t, goose.Up(db, "."), "failed to apply migrations")
}

// Reset empties the tasks table. New calls it on every connection; tests
// that share a connection across cases can call it between them.
func Reset(t *testing.T, db *sql.DB) {
	t.Helper()

	_, err := db.ExecContext(context.Background(), `TRUNCATE TABLE tasks`)
	require.NoError(t, err, "failed to truncate tasks table")
}

// WithTx runs fn inside a transaction that is rolled back afterwards, so a
// test can write freely without leaving rows behind for the next one.
func WithTx(t *testing.T, db *sql.DB, fn func(t *testing.T, tx *sql.Tx)) {
	t.Helper()

	tx, err := db.BeginTx(context.Background(), nil)
	require.NoError(t, err, "failed to begin transaction")

	defer func() {
		err := tx.Rollback()
		// sql.ErrTxDone means fn committed or rolled back itself.
		if err != nil && !errors.Is(err, sql.ErrTxDone) {
			t.Logf("warning: failed to roll back transaction: %v", err)
		}
	}()

	fn(t, tx)
}

// gooseTestLogger routes goose output through the test log so migration
// chatter shows up only for failed or verbose runs.
type gooseTestLogger struct {
	t *testing.T
}

func (l *gooseTestLogger) Printf(format string, v ...interface{}) {
	l.t.Log("goose: " + strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *gooseTestLogger) Fatalf(format string, v ...interface{}) {
	l.t.Fatal("goose: " + strings.TrimSpace(fmt.Sprintf(format, v...)))
}
