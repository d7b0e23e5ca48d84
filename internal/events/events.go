package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType identifies a queue lifecycle transition.
type EventType string

const (
	// EventEnqueued fires when a task enters a queue scope.
	EventEnqueued EventType = "enqueued"

	// EventDequeued fires when a consumer claims a task.
	EventDequeued EventType = "dequeued"

	// EventRetried fires when a task is scheduled for another attempt.
	EventRetried EventType = "retried"

	// EventDeadLettered fires when a task exhausts its retry budget.
	EventDeadLettered EventType = "dead_lettered"

	// EventExpired fires when a task's queue entry outlives its TTL.
	EventExpired EventType = "expired"
)

// TaskEvent describes one lifecycle transition of a queued task.
type TaskEvent struct {
	// Type indicates which transition occurred.
	Type EventType `json:"type"`

	// TaskID is the task the event refers to.
	TaskID uuid.UUID `json:"task_id"`

	// Scope is the queue scope the transition happened in.
	Scope string `json:"scope"`

	// Timestamp is when the transition occurred.
	Timestamp time.Time `json:"timestamp"`

	// Reason carries optional detail, such as why a task was dead-lettered.
	Reason string `json:"reason,omitempty"`
}

// NewTaskEvent creates a TaskEvent stamped with the current time.
func NewTaskEvent(eventType EventType, taskID uuid.UUID, scope string) *TaskEvent {
	return &TaskEvent{
		Type:      eventType,
		TaskID:    taskID,
		Scope:     scope,
		Timestamp: time.Now().UTC(),
	}
}

// WithReason attaches a human-readable detail and returns the event.
func (e *TaskEvent) WithReason(reason string) *TaskEvent {
	e.Reason = reason
	return e
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *TaskEvent) error
}

// EventEmitter defines an interface for components that can emit events.
// This allows the queue to publish events without direct knowledge of
// handlers.
type EventEmitter interface {
	// Emit hands the event off for delivery. It never blocks; delivery
	// happens asynchronously and failures are logged, not returned.
	Emit(event *TaskEvent)
}
