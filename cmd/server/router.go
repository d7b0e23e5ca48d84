package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/phrazzld/taskdispatch/internal/api"
	apimiddleware "github.com/phrazzld/taskdispatch/internal/api/middleware"
)

// setupRouter creates and configures the application router with all routes and middleware.
// It accepts the application dependencies to create handlers and register routes.
// Returns the configured router.
func (app *application) setupRouter() http.Handler {
	// Create a router
	r := chi.NewRouter()

	// Apply standard middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apimiddleware.TraceMiddleware)

	// Create API handlers using the application's services
	taskHandler := api.NewTaskHandler(app.taskService, app.logger)
	queueHandler := api.NewQueueHandler(app.dispatchService, app.logger)

	// Register routes
	r.Route("/api", func(r chi.Router) {
		// Producer and admin task surface
		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", taskHandler.CreateTask)
			r.Get("/", taskHandler.ListTasks)
			r.Get("/{id}", taskHandler.GetTask)
			r.Patch("/{id}", taskHandler.UpdateTask)
			r.Delete("/{id}", taskHandler.DeleteTask)
		})

		// Consumer dispatch surface
		r.Route("/queue", func(r chi.Router) {
			r.Post("/enqueue", queueHandler.Enqueue)
			r.Post("/dequeue", queueHandler.Dequeue)
			r.Post("/retry", queueHandler.Retry)
			r.Post("/complete", queueHandler.Complete)
			r.Get("/stats", queueHandler.Stats)
			r.Get("/deadletters", queueHandler.DeadLetters)
		})

		r.Get("/stats", taskHandler.GetStatistics)
	})

	// Health check and metrics endpoints
	r.Get("/health", taskHandler.GetHealth)
	r.Method(http.MethodGet, "/metrics", app.metrics.Handler())

	return r
}
