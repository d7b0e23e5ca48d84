package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/taskdispatch/internal/domain"
	"github.com/phrazzld/taskdispatch/internal/queue"
	"github.com/phrazzld/taskdispatch/internal/store"
)

// DispatchService layers the priority queue on top of the durable store.
// Queue entries hold task references only; this service resolves them and
// keeps the stored status in step with queue activity.
type DispatchService interface {
	// EnqueueTask resolves the task from the durable store and makes it
	// schedulable. Tasks in a terminal status cannot be enqueued.
	EnqueueTask(ctx context.Context, taskID uuid.UUID, ttl time.Duration) error

	// DequeueTask pops the next dispatchable entry in the scope, claims the
	// task by moving it to in_progress, and returns it. Entries whose task
	// reached a terminal status out of band are discarded and the scan
	// continues. An entry whose task was deleted surfaces as a not-found
	// error; consumers treat that as the accepted enqueue/delete race and
	// call dequeue again. Returns (nil, nil) when the scope stays empty for
	// the full timeout.
	DequeueTask(ctx context.Context, timeout time.Duration, scope queue.Scope) (*domain.Task, error)

	// RetryTask reports a processing failure for an in-flight task. Within
	// the retry budget the task is requeued with backoff and its status
	// returns to pending; past the budget it is dead-lettered and marked
	// failed.
	RetryTask(ctx context.Context, taskID uuid.UUID, reason string) (queue.RetryOutcome, error)

	// CompleteTask marks an in-flight task completed and discharges its
	// queue claim.
	CompleteTask(ctx context.Context, taskID uuid.UUID) (*domain.Task, error)

	// RecoverPending re-enqueues every stored pending task, oldest first.
	// Called once at startup; returns how many tasks were enqueued.
	RecoverPending(ctx context.Context) (int, error)

	// QueueStats snapshots queue depths and lifetime counters.
	QueueStats() queue.Stats

	// DeadLetters returns the in-memory dead-letter list, oldest first.
	DeadLetters() []queue.DeadLetter
}

// DispatchServiceError wraps errors from the dispatch service with context.
type DispatchServiceError struct {
	// Operation is the operation that failed (e.g., "enqueue_task")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for DispatchServiceError.
func (e *DispatchServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("dispatch service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("dispatch service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *DispatchServiceError) Unwrap() error {
	return e.Err
}

// NewDispatchServiceError creates a new DispatchServiceError.
func NewDispatchServiceError(operation, message string, err error) *DispatchServiceError {
	return &DispatchServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}

// dispatchServiceImpl implements the DispatchService interface
type dispatchServiceImpl struct {
	queue  *queue.DispatchQueue
	store  store.TaskStore
	cache  TaskCache
	logger *slog.Logger
}

// NewDispatchService creates a new DispatchService. The cache may be nil.
// It returns an error if the queue or store is nil.
func NewDispatchService(
	q *queue.DispatchQueue,
	taskStore store.TaskStore,
	cache TaskCache,
	logger *slog.Logger,
) (DispatchService, error) {
	if q == nil {
		return nil, NewDispatchServiceError("create_service", "queue cannot be nil", nil)
	}
	if taskStore == nil {
		return nil, NewDispatchServiceError("create_service", "store cannot be nil", nil)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &dispatchServiceImpl{
		queue:  q,
		store:  taskStore,
		cache:  cache,
		logger: logger.With("component", "dispatch_service"),
	}, nil
}

// EnqueueTask implements DispatchService.EnqueueTask
func (s *dispatchServiceImpl) EnqueueTask(
	ctx context.Context,
	taskID uuid.UUID,
	ttl time.Duration,
) error {
	// Resolve through the durable tier; the cached copy may hold a stale
	// status and the terminal-status check must see the truth.
	task, err := s.store.GetByID(ctx, taskID)
	if err != nil {
		if store.IsNotFoundError(err) {
			return NewDispatchServiceError("enqueue_task", "task not found", store.ErrTaskNotFound)
		}
		s.logger.Error("failed to resolve task for enqueue",
			"error", err,
			"task_id", taskID)
		return NewDispatchServiceError("enqueue_task", "failed to resolve task", err)
	}

	if err := s.queue.Enqueue(ctx, task, ttl); err != nil {
		return NewDispatchServiceError("enqueue_task", "failed to enqueue task", err)
	}

	s.logger.Debug("task enqueued for dispatch",
		"task_id", taskID,
		"priority", task.Priority)
	return nil
}

// DequeueTask implements DispatchService.DequeueTask
func (s *dispatchServiceImpl) DequeueTask(
	ctx context.Context,
	timeout time.Duration,
	scope queue.Scope,
) (*domain.Task, error) {
	deadline := time.Now().Add(timeout)

	for {
		remaining := time.Duration(0)
		if timeout > 0 {
			if remaining = time.Until(deadline); remaining < 0 {
				remaining = 0
			}
		}

		entry, err := s.queue.Dequeue(ctx, remaining, scope)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			return nil, nil
		}

		task, err := s.claim(ctx, entry.TaskID)
		if err == nil {
			s.logger.Debug("task dispatched",
				"task_id", entry.TaskID,
				"scope", scope.String(),
				"retry_count", entry.RetryCount)
			return task, nil
		}

		switch {
		case store.IsNotFoundError(err):
			// The task was deleted while its entry sat in the queue. Drop
			// the claim and surface the race to the caller.
			s.queue.Ack(entry.TaskID)
			cacheEvict(ctx, s.cache, s.logger, entry.TaskID)
			s.logger.Warn("dequeued entry references a deleted task",
				"task_id", entry.TaskID,
				"scope", scope.String())
			return nil, NewDispatchServiceError(
				"dequeue_task", "task no longer exists", store.ErrTaskNotFound)

		case errors.Is(err, domain.ErrInvalidTransition):
			// The task reached a terminal status out of band (completed or
			// cancelled while queued). Discard the entry and keep scanning.
			s.queue.Ack(entry.TaskID)
			s.logger.Warn("discarding queue entry for task in terminal status",
				"task_id", entry.TaskID,
				"scope", scope.String())
			continue

		default:
			// Durable tier failure. Hand the entry back to the queue with
			// backoff so the task is not lost, then report the failure.
			if _, retryErr := s.queue.MarkForRetry(ctx, entry.TaskID, "claim failed"); retryErr != nil {
				s.logger.Error("could not requeue entry after failed claim",
					"task_id", entry.TaskID,
					"error", retryErr)
			}
			s.logger.Error("failed to claim dequeued task",
				"task_id", entry.TaskID,
				"error", err)
			return nil, NewDispatchServiceError("dequeue_task", "failed to claim task", err)
		}
	}
}

// claim moves the task to in_progress and refreshes its cache entry.
func (s *dispatchServiceImpl) claim(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	inProgress := domain.TaskStatusInProgress
	task, err := s.store.Update(ctx, taskID, domain.TaskUpdate{Status: &inProgress})
	if err != nil {
		return nil, err
	}
	cacheSet(ctx, s.cache, s.logger, task)
	return task, nil
}

// RetryTask implements DispatchService.RetryTask
func (s *dispatchServiceImpl) RetryTask(
	ctx context.Context,
	taskID uuid.UUID,
	reason string,
) (queue.RetryOutcome, error) {
	outcome, err := s.queue.MarkForRetry(ctx, taskID, reason)
	if err != nil {
		if errors.Is(err, queue.ErrEntryNotFound) {
			return 0, NewDispatchServiceError("retry_task", "task is not in flight", err)
		}
		return 0, NewDispatchServiceError("retry_task", "failed to mark task for retry", err)
	}

	switch outcome {
	case queue.OutcomeRequeued:
		s.setStatus(ctx, taskID, domain.TaskStatusPending)
	case queue.OutcomeDeadLettered:
		s.markFailed(ctx, taskID)
	}

	return outcome, nil
}

// setStatus flips the stored status best-effort; queue state is already
// settled by the time this runs, so failures are logged rather than
// propagated.
func (s *dispatchServiceImpl) setStatus(
	ctx context.Context,
	taskID uuid.UUID,
	status domain.TaskStatus,
) {
	task, err := s.store.Update(ctx, taskID, domain.TaskUpdate{Status: &status})
	if err != nil {
		s.logger.Warn("could not update task status after queue transition",
			"task_id", taskID,
			"target_status", status,
			"error", err)
		return
	}
	cacheSet(ctx, s.cache, s.logger, task)
}

// markFailed moves a dead-lettered task to failed. A task that was never
// claimed is still pending, which cannot step to failed directly; it is
// walked through in_progress first.
func (s *dispatchServiceImpl) markFailed(ctx context.Context, taskID uuid.UUID) {
	failed := domain.TaskStatusFailed
	task, err := s.store.Update(ctx, taskID, domain.TaskUpdate{Status: &failed})
	if err != nil && errors.Is(err, domain.ErrInvalidTransition) {
		if current, getErr := s.store.GetByID(ctx, taskID); getErr == nil &&
			current.Status == domain.TaskStatusPending {
			inProgress := domain.TaskStatusInProgress
			if _, stepErr := s.store.Update(ctx, taskID, domain.TaskUpdate{Status: &inProgress}); stepErr == nil {
				task, err = s.store.Update(ctx, taskID, domain.TaskUpdate{Status: &failed})
			}
		}
	}
	if err != nil {
		s.logger.Warn("could not mark dead-lettered task as failed",
			"task_id", taskID,
			"error", err)
		return
	}
	cacheSet(ctx, s.cache, s.logger, task)
}

// CompleteTask implements DispatchService.CompleteTask
func (s *dispatchServiceImpl) CompleteTask(
	ctx context.Context,
	taskID uuid.UUID,
) (*domain.Task, error) {
	completed := domain.TaskStatusCompleted
	task, err := s.store.Update(ctx, taskID, domain.TaskUpdate{Status: &completed})
	if err != nil {
		switch {
		case store.IsNotFoundError(err):
			return nil, NewDispatchServiceError("complete_task", "task not found", store.ErrTaskNotFound)
		case errors.Is(err, domain.ErrInvalidTransition):
			return nil, NewDispatchServiceError(
				"complete_task", "task cannot be completed from its current status", err)
		default:
			s.logger.Error("failed to mark task completed",
				"error", err,
				"task_id", taskID)
			return nil, NewDispatchServiceError("complete_task", "failed to mark task completed", err)
		}
	}

	s.queue.Ack(taskID)
	cacheSet(ctx, s.cache, s.logger, task)

	s.logger.Info("task completed",
		"task_id", taskID)
	return task, nil
}

// RecoverPending implements DispatchService.RecoverPending
func (s *dispatchServiceImpl) RecoverPending(ctx context.Context) (int, error) {
	const pageSize = 500

	pending := domain.TaskStatusPending
	recovered := 0

	for offset := 0; ; offset += pageSize {
		tasks, err := s.store.List(ctx, store.TaskFilter{
			Status: &pending,
			Limit:  pageSize,
			Offset: offset,
		})
		if err != nil {
			return recovered, NewDispatchServiceError(
				"recover_pending", "failed to list pending tasks", err)
		}

		for _, task := range tasks {
			if err := s.queue.Enqueue(ctx, task, 0); err != nil {
				s.logger.Warn("skipping task during recovery",
					"task_id", task.ID,
					"error", err)
				continue
			}
			recovered++
		}

		if len(tasks) < pageSize {
			break
		}
	}

	if recovered > 0 {
		s.logger.Info("re-enqueued pending tasks after startup",
			"count", recovered)
	}
	return recovered, nil
}

// QueueStats implements DispatchService.QueueStats
func (s *dispatchServiceImpl) QueueStats() queue.Stats {
	return s.queue.Stats()
}

// DeadLetters implements DispatchService.DeadLetters
func (s *dispatchServiceImpl) DeadLetters() []queue.DeadLetter {
	return s.queue.DeadLetters()
}
