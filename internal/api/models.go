package api

import (
	"fmt"
	"time"

	"github.com/phrazzld/taskdispatch/internal/domain"
	"github.com/phrazzld/taskdispatch/internal/queue"
)

// Common request/response structures

// CreateTaskRequest defines the payload for the task creation endpoint.
// The length bounds mirror the domain limits so producers get field-level
// feedback; the domain layer remains the authority.
type CreateTaskRequest struct {
	Title       string            `json:"title"       validate:"required,max=200"`
	Description string            `json:"description" validate:"max=2000"`
	Priority    string            `json:"priority"    validate:"omitempty,oneof=low medium high critical"`
	ConsumerID  string            `json:"consumer_id" validate:"omitempty,max=100"`
	ChannelID   string            `json:"channel_id"`
	Metadata    map[string]string `json:"metadata"`
}

// UpdateTaskRequest defines the payload for the partial task update
// endpoint. Nil fields are left untouched; metadata entries merge into the
// existing map, with an empty value clearing that key.
type UpdateTaskRequest struct {
	Title       *string           `json:"title"       validate:"omitempty,min=1,max=200"`
	Description *string           `json:"description" validate:"omitempty,max=2000"`
	Status      *string           `json:"status"      validate:"omitempty,oneof=pending in_progress completed failed cancelled"`
	Priority    *string           `json:"priority"    validate:"omitempty,oneof=low medium high critical"`
	ConsumerID  *string           `json:"consumer_id" validate:"omitempty,max=100"`
	ChannelID   *string           `json:"channel_id"`
	Metadata    map[string]string `json:"metadata"`
}

// toTaskUpdate converts the request into a domain update. The oneof tags
// already constrain status and priority, so parsing here cannot fail after
// validation; the parse still runs to produce the typed values.
func (r *UpdateTaskRequest) toTaskUpdate() (domain.TaskUpdate, error) {
	update := domain.TaskUpdate{
		Title:       r.Title,
		Description: r.Description,
		ConsumerID:  r.ConsumerID,
		ChannelID:   r.ChannelID,
		Metadata:    r.Metadata,
	}

	if r.Status != nil {
		status, err := domain.ParseStatus(*r.Status)
		if err != nil {
			return domain.TaskUpdate{}, err
		}
		update.Status = &status
	}

	if r.Priority != nil {
		priority, err := domain.ParsePriority(*r.Priority)
		if err != nil {
			return domain.TaskUpdate{}, err
		}
		update.Priority = &priority
	}

	return update, nil
}

// EnqueueRequest defines the payload for making a stored task schedulable.
// A zero TTL applies the queue's configured default.
type EnqueueRequest struct {
	TaskID     string `json:"task_id"     validate:"required,uuid"`
	TTLSeconds int    `json:"ttl_seconds" validate:"omitempty,gte=0,lte=86400"`
}

// ScopeRequest names the dequeue scope. An empty kind means global.
type ScopeRequest struct {
	Kind string `json:"kind" validate:"omitempty,oneof=global consumer channel"`
	ID   string `json:"id"`
}

// toScope converts the request into a queue scope. Consumer and channel
// scopes require an ID.
func (r ScopeRequest) toScope() (queue.Scope, error) {
	switch r.Kind {
	case "", "global":
		return queue.GlobalScope(), nil
	case "consumer":
		if r.ID == "" {
			return queue.Scope{}, fmt.Errorf("%w: consumer scope requires an id", domain.ErrValidation)
		}
		return queue.ConsumerScope(r.ID), nil
	case "channel":
		if r.ID == "" {
			return queue.Scope{}, fmt.Errorf("%w: channel scope requires an id", domain.ErrValidation)
		}
		return queue.ChannelScope(r.ID), nil
	default:
		return queue.Scope{}, fmt.Errorf("%w: unknown scope kind %q", domain.ErrValidation, r.Kind)
	}
}

// DequeueRequest defines the payload for the consumer dequeue endpoint.
// The timeout bounds the long poll; zero returns immediately.
type DequeueRequest struct {
	TimeoutSeconds int          `json:"timeout_seconds" validate:"gte=0,lte=60"`
	Scope          ScopeRequest `json:"scope"`
}

// RetryRequest defines the payload for reporting a processing failure.
type RetryRequest struct {
	TaskID string `json:"task_id" validate:"required,uuid"`
	Reason string `json:"reason"  validate:"max=500"`
}

// CompleteRequest defines the payload for reporting successful processing.
type CompleteRequest struct {
	TaskID string `json:"task_id" validate:"required,uuid"`
}

// TaskResponse represents the response data for a task.
type TaskResponse struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Status      string            `json:"status"`
	Priority    string            `json:"priority"`
	ConsumerID  string            `json:"consumer_id,omitempty"`
	ChannelID   string            `json:"channel_id,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// taskToResponse converts a domain.Task to a TaskResponse
func taskToResponse(task *domain.Task) TaskResponse {
	return TaskResponse{
		ID:          task.ID.String(),
		Title:       task.Title,
		Description: task.Description,
		Status:      string(task.Status),
		Priority:    string(task.Priority),
		ConsumerID:  task.ConsumerID,
		ChannelID:   task.ChannelID,
		Metadata:    task.Metadata,
		CreatedAt:   task.CreatedAt,
		UpdatedAt:   task.UpdatedAt,
	}
}

// TaskListResponse wraps a page of tasks.
type TaskListResponse struct {
	Tasks []TaskResponse `json:"tasks"`
	Count int            `json:"count"`
}

// EnqueueResponse acknowledges that a task became schedulable.
type EnqueueResponse struct {
	TaskID   string `json:"task_id"`
	Enqueued bool   `json:"enqueued"`
}

// RetryResponse reports what the retry did with the task.
type RetryResponse struct {
	TaskID  string `json:"task_id"`
	Outcome string `json:"outcome"`
}

// DeadLettersResponse wraps the dead-letter snapshot.
type DeadLettersResponse struct {
	DeadLetters []queue.DeadLetter `json:"dead_letters"`
	Count       int                `json:"count"`
}
