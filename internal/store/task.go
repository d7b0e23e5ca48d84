package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/phrazzld/taskdispatch/internal/domain"
)

// TaskStore defines the persistence operations for the durable task tier.
// Implementations are the authority for task content and status; the cache
// tier never serves filtered or aggregate reads.
type TaskStore interface {
	// Create saves a new task.
	// Returns ErrDuplicate if a task with the same ID already exists and
	// an ErrStorage-wrapped error if the write fails.
	Create(ctx context.Context, task *domain.Task) error

	// GetByID retrieves a task by its unique ID.
	// Returns ErrTaskNotFound if the task does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// Update applies a partial update to the task atomically: the current
	// record is read, the update merged (additive metadata, state-machine
	// checked status), and the result written back in one transaction.
	// Returns the updated task, ErrTaskNotFound if the ID is unknown, or
	// the domain validation/transition error for bad input.
	Update(ctx context.Context, id uuid.UUID, update domain.TaskUpdate) (*domain.Task, error)

	// Delete removes a task permanently.
	// Returns ErrTaskNotFound if the task does not exist.
	Delete(ctx context.Context, id uuid.UUID) error

	// List retrieves tasks matching the filter, ordered by creation time
	// ascending. Returns an empty slice when nothing matches.
	List(ctx context.Context, filter TaskFilter) ([]*domain.Task, error)

	// Statistics returns aggregate counts over all stored tasks.
	Statistics(ctx context.Context) (*TaskStatistics, error)

	// HealthCheck verifies that the durable tier is reachable.
	HealthCheck(ctx context.Context) error
}

// TaskFilter narrows List results. Nil pointer fields are ignored.
type TaskFilter struct {
	Status     *domain.TaskStatus
	ConsumerID *string
	ChannelID  *string
	Limit      int
	Offset     int
}

// TaskStatistics holds aggregate counts grouped by the dimensions the
// admin API reports on.
type TaskStatistics struct {
	Total      int                         `json:"total"`
	ByStatus   map[domain.TaskStatus]int   `json:"by_status"`
	ByPriority map[domain.TaskPriority]int `json:"by_priority"`
	ByConsumer map[string]int              `json:"by_consumer"`
	ByChannel  map[string]int              `json:"by_channel"`
}
