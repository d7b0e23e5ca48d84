package queue

import (
	"errors"
	"fmt"

	"github.com/phrazzld/taskdispatch/internal/store"
)

// ErrQueueFull is the sentinel for capacity rejections. Match with
// errors.Is; use errors.As with *QueueFullError for the scope details.
var ErrQueueFull = errors.New("queue full")

// ErrEntryNotFound indicates no in-flight entry exists for the task id.
// It wraps store.ErrNotFound so callers can treat all not-found
// conditions uniformly.
var ErrEntryNotFound = fmt.Errorf("%w: queue entry", store.ErrNotFound)

// QueueFullError reports which scope rejected an enqueue and at what
// capacity. The scope's entry count is unchanged by the rejection.
type QueueFullError struct {
	Scope    string
	Capacity int
}

// NewQueueFullError creates a QueueFullError for the given scope.
func NewQueueFullError(scope string, capacity int) *QueueFullError {
	return &QueueFullError{Scope: scope, Capacity: capacity}
}

// Error implements the error interface.
func (e *QueueFullError) Error() string {
	return fmt.Sprintf("queue full: scope %s at capacity %d", e.Scope, e.Capacity)
}

// Unwrap makes errors.Is(err, ErrQueueFull) succeed.
func (e *QueueFullError) Unwrap() error {
	return ErrQueueFull
}
