package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver

	"github.com/phrazzld/taskdispatch/internal/config"
	"github.com/phrazzld/taskdispatch/internal/platform/postgres"
	"github.com/phrazzld/taskdispatch/internal/platform/sqlite"
	"github.com/phrazzld/taskdispatch/internal/redact"
	"github.com/phrazzld/taskdispatch/internal/store"
)

// setupTaskStore builds the durable tier selected by database.driver. The
// returned closer owns the underlying connection and must be closed on
// shutdown. Postgres gets its schema from the embedded goose migrations;
// the sqlite store applies its own schema at open.
func setupTaskStore(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
) (store.TaskStore, io.Closer, error) {
	switch cfg.Database.Driver {
	case "sqlite":
		s, err := sqlite.NewSQLiteTaskStore(cfg.Database.URL, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		logger.Info("Durable tier initialized",
			"driver", "sqlite",
			"path", cfg.Database.URL)
		return s, s, nil

	default:
		db, err := setupAppDatabase(ctx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}

		if err := runMigrations(db, logger); err != nil {
			_ = db.Close()
			return nil, nil, err
		}

		logger.Info("Durable tier initialized", "driver", "postgres")
		return postgres.NewPostgresTaskStore(db, logger), db, nil
	}
}

// setupAppDatabase establishes a connection to the postgres database and
// configures connection pools. Returns the database connection if
// successful, or an error if the connection fails.
func setupAppDatabase(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	// Configure connection pool with reasonable defaults
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Test the connection
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database connection established",
		"url", redact.URL(cfg.Database.URL))
	return db, nil
}
