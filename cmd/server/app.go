package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/phrazzld/taskdispatch/internal/config"
	"github.com/phrazzld/taskdispatch/internal/deadletter"
	"github.com/phrazzld/taskdispatch/internal/events"
	"github.com/phrazzld/taskdispatch/internal/maintenance"
	"github.com/phrazzld/taskdispatch/internal/metrics"
	"github.com/phrazzld/taskdispatch/internal/platform/rediscache"
	"github.com/phrazzld/taskdispatch/internal/queue"
	"github.com/phrazzld/taskdispatch/internal/service"
	"github.com/phrazzld/taskdispatch/internal/store"
)

// eventBufferSize is the emit queue capacity of the event bus. Events
// beyond it are dropped rather than blocking queue operations.
const eventBufferSize = 256

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	// Configuration
	config *config.Config

	// Core services
	logger *slog.Logger

	// Durable tier (postgres or sqlite behind the store interface).
	// storeCloser owns the underlying connection.
	taskStore   store.TaskStore
	storeCloser io.Closer

	// Cache tier; nil when the cache is disabled
	redisClient *redis.Client

	// Queue machinery
	queue   *queue.DispatchQueue
	archive *deadletter.Archive
	emitter *events.AsyncEventEmitter
	janitor *maintenance.Janitor

	// Observability
	metrics   *metrics.Metrics
	collector *metrics.Collector

	// Service interfaces
	taskService     service.TaskService
	dispatchService service.DispatchService
}

// newApplication creates a new application instance with all dependencies
// initialized and background workers started. It accepts the configuration
// and logger that must be established before application initialization.
func newApplication(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
	}

	// Durable tier
	taskStore, storeCloser, err := setupTaskStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to set up durable store: %w", err)
	}
	app.taskStore = taskStore
	app.storeCloser = storeCloser

	// Cache tier. An unreachable cache degrades reads but must not block
	// startup; the health endpoint reports the degradation.
	var cache service.TaskCache
	if cfg.Cache.Enabled {
		app.redisClient = redis.NewClient(&redis.Options{Addr: cfg.Cache.Addr})

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := app.redisClient.Ping(pingCtx).Err(); err != nil {
			logger.Warn("Cache unreachable at startup, continuing degraded",
				"addr", cfg.Cache.Addr,
				"error", err)
		}
		cancel()

		cache = rediscache.NewTaskCache(app.redisClient, cfg.Cache.TTL(), logger)
		logger.Info("Cache tier initialized",
			"addr", cfg.Cache.Addr,
			"ttl", cfg.Cache.TTL())
	} else {
		logger.Info("Cache tier disabled, all reads go to the durable store")
	}

	// Dead-letter archive
	app.archive, err = deadletter.NewArchive(cfg.Maintenance.DeadLetterPath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open dead-letter archive: %w", err)
	}

	// Event bus and its subscribers
	app.emitter = events.NewAsyncEventEmitter(eventBufferSize, logger)
	app.emitter.RegisterHandler(events.NewLogHandler(logger))

	app.metrics = metrics.New()
	app.emitter.RegisterHandler(metrics.NewEventObserver(app.metrics))

	if app.redisClient != nil {
		app.emitter.RegisterHandler(events.NewRedisRelay(app.redisClient))
	}

	// Dispatch queue
	app.queue = queue.NewDispatchQueue(queue.Config{
		MaxQueueSize:   cfg.Queue.MaxSizePerScope,
		DefaultTTL:     cfg.Queue.DefaultTTL(),
		MaxRetries:     cfg.Queue.MaxRetries,
		BaseRetryDelay: cfg.Queue.BaseRetryDelay(),
	}, app.archive, app.emitter, logger)

	// Initialize task service
	app.taskService, err = service.NewTaskService(app.taskStore, cache, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create task service: %w", err)
	}

	// Initialize dispatch service
	app.dispatchService, err = service.NewDispatchService(
		app.queue,
		app.taskStore,
		cache,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatch service: %w", err)
	}

	// Background workers
	app.janitor, err = maintenance.NewJanitor(
		app.queue,
		cfg.Maintenance.PurgeInterval(),
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create janitor: %w", err)
	}
	app.janitor.Start()

	app.collector = metrics.NewCollector(app.metrics, app.queue, 0, logger)
	app.collector.Start()

	logger.Info("Application initialized successfully")
	return app, nil
}

// Run recovers pending tasks into the queue and then serves HTTP until a
// shutdown signal arrives. It returns an error if the server fails to
// start or encounters problems.
func (app *application) Run(ctx context.Context) error {
	// Re-enqueue tasks that were pending when the previous process
	// exited. Recovery is best-effort: on failure the tasks stay pending
	// in the durable store and can be enqueued again through the API.
	recovered, err := app.dispatchService.RecoverPending(ctx)
	if err != nil {
		app.logger.Error("Startup recovery incomplete",
			"recovered", recovered,
			"error", err)
	} else if recovered > 0 {
		app.logger.Info("Startup recovery complete", "recovered", recovered)
	}

	// Set up router using the application dependencies
	router := app.setupRouter()

	// Start the HTTP server
	if err := app.startHTTPServer(ctx, router); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// cleanup handles graceful shutdown of application resources, in reverse
// initialization order.
func (app *application) cleanup() {
	if app.janitor != nil {
		app.janitor.Stop()
	}

	if app.collector != nil {
		app.collector.Stop()
	}

	// Close drains whatever the bus still holds, so late queue events
	// reach the log and the metrics before shutdown.
	if app.emitter != nil {
		app.emitter.Close()
	}

	if app.archive != nil {
		if err := app.archive.Close(); err != nil {
			app.logger.Error("Error closing dead-letter archive", "error", err)
		}
	}

	if app.redisClient != nil {
		if err := app.redisClient.Close(); err != nil {
			app.logger.Error("Error closing redis client", "error", err)
		}
	}

	if app.storeCloser != nil {
		if err := app.storeCloser.Close(); err != nil {
			app.logger.Error("Error closing database connection", "error", err)
		}
	}

	app.logger.Info("Application shutdown completed")
}
