package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskdispatch/internal/api/shared"
	"github.com/phrazzld/taskdispatch/internal/platform/logger"
	"github.com/phrazzld/taskdispatch/internal/service"
)

// QueueHandler handles the producer and consumer endpoints of the
// dispatch queue.
type QueueHandler struct {
	dispatchService service.DispatchService
	logger          *slog.Logger
}

// NewQueueHandler creates a new QueueHandler
func NewQueueHandler(dispatchService service.DispatchService, logger *slog.Logger) *QueueHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for QueueHandler")
	}

	return &QueueHandler{
		dispatchService: dispatchService,
		logger:          logger.With(slog.String("component", "queue_handler")),
	}
}

// Enqueue handles POST /api/queue/enqueue requests
func (h *QueueHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	var req EnqueueRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.Validate.Struct(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	taskID, err := uuid.Parse(req.TaskID)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID format")
		return
	}

	ttl := time.Duration(req.TTLSeconds) * time.Second
	if err := h.dispatchService.EnqueueTask(r.Context(), taskID, ttl); err != nil {
		HandleAPIError(w, r, err, "Failed to enqueue task")
		return
	}

	log.Debug("task accepted for dispatch", slog.String("task_id", req.TaskID))
	shared.RespondWithJSON(w, r, http.StatusAccepted, EnqueueResponse{
		TaskID:   req.TaskID,
		Enqueued: true,
	})
}

// Dequeue handles POST /api/queue/dequeue requests. It long-polls the
// requested scope up to the timeout and responds 204 when nothing became
// dispatchable in time.
func (h *QueueHandler) Dequeue(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	var req DequeueRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.Validate.Struct(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	scope, err := req.Scope.toScope()
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	timeout := time.Duration(req.TimeoutSeconds) * time.Second
	task, err := h.dispatchService.DequeueTask(r.Context(), timeout, scope)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to dequeue task")
		return
	}

	// Scope stayed empty for the full timeout
	if task == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	log.Debug("task dispatched",
		slog.String("task_id", task.ID.String()),
		slog.String("scope", scope.String()))
	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(task))
}

// Retry handles POST /api/queue/retry requests
func (h *QueueHandler) Retry(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	var req RetryRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.Validate.Struct(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	taskID, err := uuid.Parse(req.TaskID)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID format")
		return
	}

	outcome, err := h.dispatchService.RetryTask(r.Context(), taskID, req.Reason)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to retry task")
		return
	}

	log.Debug("task retry recorded",
		slog.String("task_id", req.TaskID),
		slog.String("outcome", outcome.String()))
	shared.RespondWithJSON(w, r, http.StatusOK, RetryResponse{
		TaskID:  req.TaskID,
		Outcome: outcome.String(),
	})
}

// Complete handles POST /api/queue/complete requests
func (h *QueueHandler) Complete(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	var req CompleteRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.Validate.Struct(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	taskID, err := uuid.Parse(req.TaskID)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID format")
		return
	}

	task, err := h.dispatchService.CompleteTask(r.Context(), taskID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to complete task")
		return
	}

	log.Debug("task completed", slog.String("task_id", req.TaskID))
	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(task))
}

// Stats handles GET /api/queue/stats requests
func (h *QueueHandler) Stats(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, h.dispatchService.QueueStats())
}

// DeadLetters handles GET /api/queue/deadletters requests
func (h *QueueHandler) DeadLetters(w http.ResponseWriter, r *http.Request) {
	letters := h.dispatchService.DeadLetters()
	shared.RespondWithJSON(w, r, http.StatusOK, DeadLettersResponse{
		DeadLetters: letters,
		Count:       len(letters),
	})
}
