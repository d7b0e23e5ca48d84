package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/phrazzld/taskdispatch/internal/domain"
	"github.com/phrazzld/taskdispatch/internal/platform/logger"
	"github.com/phrazzld/taskdispatch/internal/platform/rediscache"
	"github.com/phrazzld/taskdispatch/internal/store"
)

// TaskServiceError is a custom error type for task service errors.
type TaskServiceError struct {
	Operation string
	Message   string
	Err       error
}

// Error implements the error interface for TaskServiceError.
func (e *TaskServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("task service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("task service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *TaskServiceError) Unwrap() error {
	return e.Err
}

// NewTaskServiceError creates a new TaskServiceError.
func NewTaskServiceError(operation, message string, err error) *TaskServiceError {
	return &TaskServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}

// TaskCache defines the cache-tier surface the services use. It is satisfied
// by *rediscache.TaskCache. A nil TaskCache disables the cache tier.
type TaskCache interface {
	// Get returns the cached task or rediscache.ErrCacheMiss.
	Get(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// Set writes the task snapshot, resetting its TTL.
	Set(ctx context.Context, task *domain.Task) error

	// Delete removes the cached entry.
	Delete(ctx context.Context, id uuid.UUID) error

	// Ping reports whether the cache is reachable.
	Ping(ctx context.Context) error
}

// CreateTaskParams carries the producer-supplied attributes for a new task.
// Priority defaults to medium when empty; everything else is validated by
// the domain layer.
type CreateTaskParams struct {
	Title       string
	Description string
	Priority    domain.TaskPriority
	ConsumerID  string
	ChannelID   string
	Metadata    map[string]string
}

// Health states reported by HealthCheck.
const (
	HealthStateHealthy   = "healthy"
	HealthStateDegraded  = "degraded"
	HealthStateUnhealthy = "unhealthy"
)

// HealthStatus reports the availability of the storage tiers. The state is
// unhealthy when the durable tier is down, degraded when only the cache is
// down, and healthy otherwise. A disabled cache never degrades the state.
type HealthStatus struct {
	State            string `json:"state"`
	DurableAvailable bool   `json:"durable_available"`
	CacheAvailable   bool   `json:"cache_available"`
	CacheEnabled     bool   `json:"cache_enabled"`
}

// TaskService provides task CRUD operations over the two storage tiers.
// The durable store is the authority; the cache accelerates reads and its
// failures never surface to callers.
type TaskService interface {
	// CreateTask validates the params and persists a new task with pending
	// status. The durable write must succeed; the cache is populated
	// best-effort afterwards.
	CreateTask(ctx context.Context, params CreateTaskParams) (*domain.Task, error)

	// GetTask retrieves a task, serving from the cache when possible and
	// falling through to the durable store on a miss or cache failure.
	GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// UpdateTask applies a partial update. Status changes are checked
	// against the task state machine.
	UpdateTask(ctx context.Context, id uuid.UUID, update domain.TaskUpdate) (*domain.Task, error)

	// DeleteTask removes the task permanently and evicts its cache entry.
	DeleteTask(ctx context.Context, id uuid.UUID) error

	// CancelTask moves the task to the terminal cancelled status and evicts
	// its cache entry. Tasks already in a terminal status cannot be
	// cancelled.
	CancelTask(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// ListTasks queries the durable store, ordered by creation time.
	ListTasks(ctx context.Context, filter store.TaskFilter) ([]*domain.Task, error)

	// Statistics returns aggregate task counts from the durable store.
	Statistics(ctx context.Context) (*store.TaskStatistics, error)

	// HealthCheck probes both tiers.
	HealthCheck(ctx context.Context) *HealthStatus
}

// taskServiceImpl implements the TaskService interface
type taskServiceImpl struct {
	store  store.TaskStore
	cache  TaskCache
	logger *slog.Logger
}

// NewTaskService creates a new TaskService. The cache may be nil to run
// without a cache tier. It returns an error if the store is nil.
func NewTaskService(
	taskStore store.TaskStore,
	cache TaskCache,
	logger *slog.Logger,
) (TaskService, error) {
	if taskStore == nil {
		return nil, NewTaskServiceError("create_service", "store cannot be nil", nil)
	}

	// Use provided logger or create default
	if logger == nil {
		logger = slog.Default()
	}

	return &taskServiceImpl{
		store:  taskStore,
		cache:  cache,
		logger: logger.With(slog.String("component", "task_service")),
	}, nil
}

// CreateTask implements TaskService.CreateTask
func (s *taskServiceImpl) CreateTask(
	ctx context.Context,
	params CreateTaskParams,
) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	priority := params.Priority
	if priority == "" {
		priority = domain.TaskPriorityMedium
	}

	task, err := domain.NewTask(
		params.Title,
		params.Description,
		priority,
		params.ConsumerID,
		params.ChannelID,
		params.Metadata,
	)
	if err != nil {
		return nil, NewTaskServiceError("create_task", "invalid task attributes", err)
	}

	if err := s.store.Create(ctx, task); err != nil {
		log.Error("failed to save task",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return nil, NewTaskServiceError("create_task", "failed to save task", err)
	}

	cacheSet(ctx, s.cache, log, task)

	log.Info("task created",
		slog.String("task_id", task.ID.String()),
		slog.String("priority", string(task.Priority)))
	return task, nil
}

// GetTask implements TaskService.GetTask
func (s *taskServiceImpl) GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if task := cacheGet(ctx, s.cache, log, id); task != nil {
		log.Debug("task served from cache", slog.String("task_id", id.String()))
		return task, nil
	}

	task, err := s.store.GetByID(ctx, id)
	if err != nil {
		if store.IsNotFoundError(err) {
			return nil, NewTaskServiceError("get_task", "task not found", store.ErrTaskNotFound)
		}
		log.Error("failed to retrieve task",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return nil, NewTaskServiceError("get_task", "failed to retrieve task", err)
	}

	cacheSet(ctx, s.cache, log, task)
	return task, nil
}

// UpdateTask implements TaskService.UpdateTask
func (s *taskServiceImpl) UpdateTask(
	ctx context.Context,
	id uuid.UUID,
	update domain.TaskUpdate,
) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	task, err := s.store.Update(ctx, id, update)
	if err != nil {
		switch {
		case store.IsNotFoundError(err):
			return nil, NewTaskServiceError("update_task", "task not found", store.ErrTaskNotFound)
		case errors.Is(err, domain.ErrInvalidTransition):
			return nil, NewTaskServiceError("update_task", "status transition not allowed", err)
		case errors.Is(err, domain.ErrValidation):
			return nil, NewTaskServiceError("update_task", "invalid update", err)
		default:
			log.Error("failed to update task",
				slog.String("error", err.Error()),
				slog.String("task_id", id.String()))
			return nil, NewTaskServiceError("update_task", "failed to update task", err)
		}
	}

	cacheSet(ctx, s.cache, log, task)

	log.Debug("task updated", slog.String("task_id", id.String()))
	return task, nil
}

// DeleteTask implements TaskService.DeleteTask
func (s *taskServiceImpl) DeleteTask(ctx context.Context, id uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := s.store.Delete(ctx, id); err != nil {
		if store.IsNotFoundError(err) {
			return NewTaskServiceError("delete_task", "task not found", store.ErrTaskNotFound)
		}
		log.Error("failed to delete task",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return NewTaskServiceError("delete_task", "failed to delete task", err)
	}

	cacheEvict(ctx, s.cache, log, id)

	log.Info("task deleted", slog.String("task_id", id.String()))
	return nil
}

// CancelTask implements TaskService.CancelTask
func (s *taskServiceImpl) CancelTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	cancelled := domain.TaskStatusCancelled
	task, err := s.store.Update(ctx, id, domain.TaskUpdate{Status: &cancelled})
	if err != nil {
		switch {
		case store.IsNotFoundError(err):
			return nil, NewTaskServiceError("cancel_task", "task not found", store.ErrTaskNotFound)
		case errors.Is(err, domain.ErrInvalidTransition):
			return nil, NewTaskServiceError(
				"cancel_task", "task is already in a terminal status", err)
		default:
			log.Error("failed to cancel task",
				slog.String("error", err.Error()),
				slog.String("task_id", id.String()))
			return nil, NewTaskServiceError("cancel_task", "failed to cancel task", err)
		}
	}

	cacheEvict(ctx, s.cache, log, id)

	log.Info("task cancelled", slog.String("task_id", id.String()))
	return task, nil
}

// ListTasks implements TaskService.ListTasks
func (s *taskServiceImpl) ListTasks(
	ctx context.Context,
	filter store.TaskFilter,
) ([]*domain.Task, error) {
	tasks, err := s.store.List(ctx, filter)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to list tasks",
			slog.String("error", err.Error()))
		return nil, NewTaskServiceError("list_tasks", "failed to list tasks", err)
	}
	return tasks, nil
}

// Statistics implements TaskService.Statistics
func (s *taskServiceImpl) Statistics(ctx context.Context) (*store.TaskStatistics, error) {
	stats, err := s.store.Statistics(ctx)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to compute task statistics",
			slog.String("error", err.Error()))
		return nil, NewTaskServiceError("statistics", "failed to compute statistics", err)
	}
	return stats, nil
}

// HealthCheck implements TaskService.HealthCheck
func (s *taskServiceImpl) HealthCheck(ctx context.Context) *HealthStatus {
	log := logger.FromContextOrDefault(ctx, s.logger)
	status := &HealthStatus{CacheEnabled: s.cache != nil}

	if err := s.store.HealthCheck(ctx); err != nil {
		log.Error("durable tier health check failed", slog.String("error", err.Error()))
	} else {
		status.DurableAvailable = true
	}

	if s.cache != nil {
		if err := s.cache.Ping(ctx); err != nil {
			log.Warn("cache health check failed", slog.String("error", err.Error()))
		} else {
			status.CacheAvailable = true
		}
	}

	switch {
	case !status.DurableAvailable:
		status.State = HealthStateUnhealthy
	case status.CacheEnabled && !status.CacheAvailable:
		status.State = HealthStateDegraded
	default:
		status.State = HealthStateHealthy
	}

	return status
}

// cacheGet reads through the cache tier. Misses and failures both return
// nil; failures are additionally logged.
func cacheGet(ctx context.Context, cache TaskCache, log *slog.Logger, id uuid.UUID) *domain.Task {
	if cache == nil {
		return nil
	}
	task, err := cache.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, rediscache.ErrCacheMiss) {
			log.Warn("cache read failed",
				slog.String("task_id", id.String()),
				slog.String("error", err.Error()))
		}
		return nil
	}
	return task
}

// cacheSet writes through to the cache tier best-effort.
func cacheSet(ctx context.Context, cache TaskCache, log *slog.Logger, task *domain.Task) {
	if cache == nil {
		return
	}
	if err := cache.Set(ctx, task); err != nil {
		log.Warn("cache write failed",
			slog.String("task_id", task.ID.String()),
			slog.String("error", err.Error()))
	}
}

// cacheEvict drops the cache entry best-effort.
func cacheEvict(ctx context.Context, cache TaskCache, log *slog.Logger, id uuid.UUID) {
	if cache == nil {
		return
	}
	if err := cache.Delete(ctx, id); err != nil {
		log.Warn("cache eviction failed",
			slog.String("task_id", id.String()),
			slog.String("error", err.Error()))
	}
}
