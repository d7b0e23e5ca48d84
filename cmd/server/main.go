// Package main implements the entry point for the task dispatch server
// which stores producer-submitted tasks in a durable store and routes
// them to consumers through a priority queue with scoped delivery.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"

	"github.com/phrazzld/taskdispatch/internal/config"
	"github.com/phrazzld/taskdispatch/internal/redact"
)

func main() {
	migrateCmd := flag.String("migrate", "",
		"run a migration command (up, down, status, version) and exit")
	flag.Parse()

	cfg, logger, err := initializeApp()
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	// Migration commands run against the configured database and exit
	// without starting the server.
	if *migrateCmd != "" {
		if err := handleMigrations(cfg, logger, *migrateCmd); err != nil {
			logger.Error("Migration failed",
				"command", *migrateCmd,
				"error", err)
			os.Exit(1)
		}
		return
	}

	ctx := context.Background()

	app, err := newApplication(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to build application", "error", err)
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}
}

// initializeApp loads configuration and sets up the logging system, the
// two things every execution path needs before anything else can start.
func initializeApp() (*config.Config, *slog.Logger, error) {
	cfg, err := loadAppConfig()
	if err != nil {
		return nil, nil, err
	}

	logger, err := setupAppLogger(cfg)
	if err != nil {
		return nil, nil, err
	}

	logger.Info("Server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"database_driver", cfg.Database.Driver,
		"database_url", redact.URL(cfg.Database.URL),
		"cache_enabled", cfg.Cache.Enabled)

	return cfg, logger, nil
}
