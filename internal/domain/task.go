package domain

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// TaskPriority represents the urgency of a task, ordered
// critical > high > medium > low.
type TaskPriority string

// Possible task priority values
const (
	TaskPriorityLow      TaskPriority = "low"
	TaskPriorityMedium   TaskPriority = "medium"
	TaskPriorityHigh     TaskPriority = "high"
	TaskPriorityCritical TaskPriority = "critical"
)

// Field length limits enforced by Validate.
const (
	TitleMaxLen       = 200
	DescriptionMaxLen = 2000
	ConsumerIDMaxLen  = 100
)

// channelIDPattern matches the numeric snowflake-style identifiers used
// for channel grouping.
var channelIDPattern = regexp.MustCompile(`^\d{17,19}$`)

// Common validation errors for Task
var (
	ErrEmptyTaskID        = fmt.Errorf("%w: task ID cannot be empty", ErrValidation)
	ErrTitleRequired      = fmt.Errorf("%w: title is required", ErrValidation)
	ErrTitleTooLong       = fmt.Errorf("%w: title exceeds %d characters", ErrValidation, TitleMaxLen)
	ErrDescriptionTooLong = fmt.Errorf(
		"%w: description exceeds %d characters",
		ErrValidation,
		DescriptionMaxLen,
	)
	ErrConsumerIDTooLong = fmt.Errorf(
		"%w: consumer ID exceeds %d characters",
		ErrValidation,
		ConsumerIDMaxLen,
	)
	ErrInvalidChannelID    = fmt.Errorf("%w: channel ID must be 17-19 digits", ErrValidation)
	ErrInvalidTaskStatus   = fmt.Errorf("%w: invalid task status", ErrValidation)
	ErrInvalidTaskPriority = fmt.Errorf("%w: invalid task priority", ErrValidation)
)

// Task represents a unit of work recorded by the store and dispatched
// through the priority queue. The durable tier is the source of truth for
// its content and status; queue entries only hold references to it.
type Task struct {
	ID          uuid.UUID         `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Status      TaskStatus        `json:"status"`
	Priority    TaskPriority      `json:"priority"`
	ConsumerID  string            `json:"consumer_id,omitempty"`
	ChannelID   string            `json:"channel_id,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// NewTask creates a new Task with a generated ID, pending status, and
// creation/update timestamps set to the current UTC time.
// Returns an error if validation fails.
func NewTask(
	title string,
	description string,
	priority TaskPriority,
	consumerID string,
	channelID string,
	metadata map[string]string,
) (*Task, error) {
	now := time.Now().UTC()
	task := &Task{
		ID:          uuid.New(),
		Title:       title,
		Description: description,
		Status:      TaskStatusPending,
		Priority:    priority,
		ConsumerID:  consumerID,
		ChannelID:   channelID,
		Metadata:    cloneMetadata(metadata),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks if the Task has valid data.
// Returns an error wrapping ErrValidation if any field fails validation.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}

	if t.Title == "" {
		return ErrTitleRequired
	}

	if len(t.Title) > TitleMaxLen {
		return ErrTitleTooLong
	}

	if len(t.Description) > DescriptionMaxLen {
		return ErrDescriptionTooLong
	}

	if len(t.ConsumerID) > ConsumerIDMaxLen {
		return ErrConsumerIDTooLong
	}

	if t.ChannelID != "" && !channelIDPattern.MatchString(t.ChannelID) {
		return ErrInvalidChannelID
	}

	if !IsValidStatus(t.Status) {
		return ErrInvalidTaskStatus
	}

	if !IsValidPriority(t.Priority) {
		return ErrInvalidTaskPriority
	}

	return nil
}

// TaskUpdate describes a partial update to a task. Nil pointer fields are
// left untouched; Metadata entries merge additively into the existing map,
// with an empty value clearing that key.
type TaskUpdate struct {
	Title       *string
	Description *string
	Status      *TaskStatus
	Priority    *TaskPriority
	ConsumerID  *string
	ChannelID   *string
	Metadata    map[string]string
}

// Apply merges the update into the task and bumps UpdatedAt. Status changes
// are checked against the state machine first. If the resulting task fails
// validation, the task is restored to its previous state and the validation
// error is returned.
func (t *Task) Apply(update TaskUpdate) error {
	if update.Status != nil {
		if !IsValidStatus(*update.Status) {
			return ErrInvalidTaskStatus
		}
		if !t.Status.CanTransitionTo(*update.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, *update.Status)
		}
	}

	prev := t.Clone()

	if update.Title != nil {
		t.Title = *update.Title
	}
	if update.Description != nil {
		t.Description = *update.Description
	}
	if update.Status != nil {
		t.Status = *update.Status
	}
	if update.Priority != nil {
		t.Priority = *update.Priority
	}
	if update.ConsumerID != nil {
		t.ConsumerID = *update.ConsumerID
	}
	if update.ChannelID != nil {
		t.ChannelID = *update.ChannelID
	}
	if len(update.Metadata) > 0 {
		if t.Metadata == nil {
			t.Metadata = make(map[string]string, len(update.Metadata))
		}
		for k, v := range update.Metadata {
			if v == "" {
				delete(t.Metadata, k)
				continue
			}
			t.Metadata[k] = v
		}
	}
	t.UpdatedAt = time.Now().UTC()

	if err := t.Validate(); err != nil {
		*t = *prev
		return err
	}

	return nil
}

// Clone returns a deep copy of the task. The metadata map is copied so the
// clone can be mutated independently.
func (t *Task) Clone() *Task {
	c := *t
	c.Metadata = cloneMetadata(t.Metadata)
	return &c
}

// CanTransitionTo reports whether the state machine permits moving from s
// to next. Updating to the current status is always allowed (no-op).
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	if s == next {
		return true
	}

	switch s {
	case TaskStatusPending:
		return next == TaskStatusInProgress || next == TaskStatusCancelled
	case TaskStatusInProgress:
		return next == TaskStatusCompleted ||
			next == TaskStatusPending ||
			next == TaskStatusFailed ||
			next == TaskStatusCancelled
	default:
		// completed, failed, and cancelled are terminal.
		return false
	}
}

// IsTerminal reports whether the status permits no further transitions.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// IsValidStatus checks if the given status is a valid TaskStatus.
func IsValidStatus(status TaskStatus) bool {
	switch status {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted,
		TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// IsValidPriority checks if the given priority is a valid TaskPriority.
func IsValidPriority(priority TaskPriority) bool {
	switch priority {
	case TaskPriorityLow, TaskPriorityMedium, TaskPriorityHigh, TaskPriorityCritical:
		return true
	default:
		return false
	}
}

// ParseStatus converts a string into a TaskStatus.
// Returns ErrInvalidTaskStatus if the string is not a known status.
func ParseStatus(s string) (TaskStatus, error) {
	status := TaskStatus(s)
	if !IsValidStatus(status) {
		return "", ErrInvalidTaskStatus
	}
	return status, nil
}

// ParsePriority converts a string into a TaskPriority.
// Returns ErrInvalidTaskPriority if the string is not a known priority.
func ParsePriority(s string) (TaskPriority, error) {
	priority := TaskPriority(s)
	if !IsValidPriority(priority) {
		return "", ErrInvalidTaskPriority
	}
	return priority, nil
}

// Rank returns the numeric weight of the priority for ordering purposes.
// Higher values dispatch first.
func (p TaskPriority) Rank() int {
	switch p {
	case TaskPriorityCritical:
		return 3
	case TaskPriorityHigh:
		return 2
	case TaskPriorityMedium:
		return 1
	default:
		return 0
	}
}

// PrioritiesByRank lists all priorities in dispatch order, highest first.
func PrioritiesByRank() []TaskPriority {
	return []TaskPriority{
		TaskPriorityCritical,
		TaskPriorityHigh,
		TaskPriorityMedium,
		TaskPriorityLow,
	}
}

func cloneMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
