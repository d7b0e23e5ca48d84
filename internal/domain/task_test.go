package domain

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestNewTask(t *testing.T) {
	t.Parallel()

	task, err := NewTask(
		"Deploy service",
		"Roll out the new build",
		TaskPriorityHigh,
		"worker-1",
		"12345678901234567",
		map[string]string{"env": "prod"},
	)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if task.ID == uuid.Nil {
		t.Error("Expected non-nil UUID, got nil UUID")
	}

	if task.Status != TaskStatusPending {
		t.Errorf("Expected status %s, got %s", TaskStatusPending, task.Status)
	}

	if task.Priority != TaskPriorityHigh {
		t.Errorf("Expected priority %s, got %s", TaskPriorityHigh, task.Priority)
	}

	if task.CreatedAt.IsZero() || task.UpdatedAt.IsZero() {
		t.Error("Expected non-zero timestamps")
	}

	if task.UpdatedAt.Before(task.CreatedAt) {
		t.Error("Expected UpdatedAt >= CreatedAt")
	}

	// The metadata map must be copied, not aliased.
	original := map[string]string{"env": "prod"}
	task, err = NewTask("Title", "", TaskPriorityLow, "", "", original)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	original["env"] = "staging"
	if task.Metadata["env"] != "prod" {
		t.Error("Expected metadata to be copied at construction")
	}

	// Missing title
	_, err = NewTask("", "", TaskPriorityLow, "", "", nil)
	if !errors.Is(err, ErrTitleRequired) {
		t.Errorf("Expected ErrTitleRequired, got %v", err)
	}

	// Oversized title
	_, err = NewTask(strings.Repeat("a", TitleMaxLen+1), "", TaskPriorityLow, "", "", nil)
	if !errors.Is(err, ErrTitleTooLong) {
		t.Errorf("Expected ErrTitleTooLong, got %v", err)
	}

	// Oversized description
	_, err = NewTask("Title", strings.Repeat("a", DescriptionMaxLen+1), TaskPriorityLow, "", "", nil)
	if !errors.Is(err, ErrDescriptionTooLong) {
		t.Errorf("Expected ErrDescriptionTooLong, got %v", err)
	}

	// Oversized consumer ID
	_, err = NewTask("Title", "", TaskPriorityLow, strings.Repeat("c", ConsumerIDMaxLen+1), "", nil)
	if !errors.Is(err, ErrConsumerIDTooLong) {
		t.Errorf("Expected ErrConsumerIDTooLong, got %v", err)
	}

	// Malformed channel ID
	_, err = NewTask("Title", "", TaskPriorityLow, "", "not-a-channel", nil)
	if !errors.Is(err, ErrInvalidChannelID) {
		t.Errorf("Expected ErrInvalidChannelID, got %v", err)
	}

	// Channel ID outside the 17-19 digit range
	_, err = NewTask("Title", "", TaskPriorityLow, "", "1234567890123456", nil)
	if !errors.Is(err, ErrInvalidChannelID) {
		t.Errorf("Expected ErrInvalidChannelID for 16 digits, got %v", err)
	}
	_, err = NewTask("Title", "", TaskPriorityLow, "", "12345678901234567890", nil)
	if !errors.Is(err, ErrInvalidChannelID) {
		t.Errorf("Expected ErrInvalidChannelID for 20 digits, got %v", err)
	}

	// Unknown priority
	_, err = NewTask("Title", "", TaskPriority("urgent"), "", "", nil)
	if !errors.Is(err, ErrInvalidTaskPriority) {
		t.Errorf("Expected ErrInvalidTaskPriority, got %v", err)
	}
}

func TestTaskValidate(t *testing.T) {
	t.Parallel()

	valid := Task{
		ID:       uuid.New(),
		Title:    "Test task",
		Status:   TaskStatusPending,
		Priority: TaskPriorityMedium,
	}

	if err := valid.Validate(); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	invalid := valid
	invalid.ID = uuid.Nil
	if err := invalid.Validate(); !errors.Is(err, ErrEmptyTaskID) {
		t.Errorf("Expected ErrEmptyTaskID, got %v", err)
	}

	invalid = valid
	invalid.Status = "archived"
	if err := invalid.Validate(); !errors.Is(err, ErrInvalidTaskStatus) {
		t.Errorf("Expected ErrInvalidTaskStatus, got %v", err)
	}

	invalid = valid
	invalid.ChannelID = "12345678901234567"
	if err := invalid.Validate(); err != nil {
		t.Errorf("Expected valid 17-digit channel ID to pass, got %v", err)
	}

	// All validation errors must be recognizable as the validation family.
	for _, err := range []error{
		ErrEmptyTaskID, ErrTitleRequired, ErrTitleTooLong, ErrDescriptionTooLong,
		ErrConsumerIDTooLong, ErrInvalidChannelID, ErrInvalidTaskStatus, ErrInvalidTaskPriority,
	} {
		if !errors.Is(err, ErrValidation) {
			t.Errorf("Expected %v to wrap ErrValidation", err)
		}
	}
}

func TestStatusTransitions(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from    TaskStatus
		to      TaskStatus
		allowed bool
	}{
		{TaskStatusPending, TaskStatusInProgress, true},
		{TaskStatusPending, TaskStatusCancelled, true},
		{TaskStatusPending, TaskStatusCompleted, false},
		{TaskStatusPending, TaskStatusFailed, false},
		{TaskStatusInProgress, TaskStatusCompleted, true},
		{TaskStatusInProgress, TaskStatusPending, true},
		{TaskStatusInProgress, TaskStatusFailed, true},
		{TaskStatusInProgress, TaskStatusCancelled, true},
		{TaskStatusCompleted, TaskStatusPending, false},
		{TaskStatusCompleted, TaskStatusInProgress, false},
		{TaskStatusFailed, TaskStatusPending, false},
		{TaskStatusCancelled, TaskStatusInProgress, false},
		// Same-status updates are no-ops, always permitted.
		{TaskStatusPending, TaskStatusPending, true},
		{TaskStatusCompleted, TaskStatusCompleted, true},
	}

	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.allowed {
			t.Errorf("CanTransitionTo(%s -> %s) = %v, want %v", tc.from, tc.to, got, tc.allowed)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	t.Parallel()

	terminal := []TaskStatus{TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("Expected %s to be terminal", s)
		}
	}

	for _, s := range []TaskStatus{TaskStatusPending, TaskStatusInProgress} {
		if s.IsTerminal() {
			t.Errorf("Expected %s not to be terminal", s)
		}
	}
}

func TestTaskApply(t *testing.T) {
	t.Parallel()

	newTestTask := func(t *testing.T) *Task {
		t.Helper()
		task, err := NewTask("Original", "Desc", TaskPriorityLow, "", "", map[string]string{
			"region": "eu",
			"owner":  "ops",
		})
		if err != nil {
			t.Fatalf("NewTask failed: %v", err)
		}
		return task
	}

	t.Run("replaces scalar fields and bumps UpdatedAt", func(t *testing.T) {
		task := newTestTask(t)
		before := task.UpdatedAt

		title := "Renamed"
		priority := TaskPriorityCritical
		if err := task.Apply(TaskUpdate{Title: &title, Priority: &priority}); err != nil {
			t.Fatalf("Apply failed: %v", err)
		}

		if task.Title != "Renamed" || task.Priority != TaskPriorityCritical {
			t.Errorf("Expected scalar fields replaced, got %q %q", task.Title, task.Priority)
		}
		if task.Description != "Desc" {
			t.Error("Expected untouched fields preserved")
		}
		if task.UpdatedAt.Before(before) {
			t.Error("Expected UpdatedAt bumped")
		}
	})

	t.Run("merges metadata additively and clears empty values", func(t *testing.T) {
		task := newTestTask(t)

		err := task.Apply(TaskUpdate{Metadata: map[string]string{
			"region": "us",
			"tier":   "gold",
			"owner":  "",
		}})
		if err != nil {
			t.Fatalf("Apply failed: %v", err)
		}

		if task.Metadata["region"] != "us" {
			t.Errorf("Expected region replaced, got %q", task.Metadata["region"])
		}
		if task.Metadata["tier"] != "gold" {
			t.Errorf("Expected tier added, got %q", task.Metadata["tier"])
		}
		if _, ok := task.Metadata["owner"]; ok {
			t.Error("Expected owner cleared by empty value")
		}
	})

	t.Run("enforces the state machine", func(t *testing.T) {
		task := newTestTask(t)

		completed := TaskStatusCompleted
		err := task.Apply(TaskUpdate{Status: &completed})
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("Expected ErrInvalidTransition for pending -> completed, got %v", err)
		}
		if task.Status != TaskStatusPending {
			t.Errorf("Expected status unchanged after rejected transition, got %s", task.Status)
		}

		inProgress := TaskStatusInProgress
		if err := task.Apply(TaskUpdate{Status: &inProgress}); err != nil {
			t.Fatalf("Expected pending -> in_progress to succeed, got %v", err)
		}
		if err := task.Apply(TaskUpdate{Status: &completed}); err != nil {
			t.Fatalf("Expected in_progress -> completed to succeed, got %v", err)
		}
	})

	t.Run("restores previous state when the update is invalid", func(t *testing.T) {
		task := newTestTask(t)

		tooLong := strings.Repeat("x", TitleMaxLen+1)
		err := task.Apply(TaskUpdate{Title: &tooLong})
		if !errors.Is(err, ErrTitleTooLong) {
			t.Fatalf("Expected ErrTitleTooLong, got %v", err)
		}
		if task.Title != "Original" {
			t.Errorf("Expected title restored, got %q", task.Title)
		}
	})
}

func TestParseStatusAndPriority(t *testing.T) {
	t.Parallel()

	status, err := ParseStatus("in_progress")
	if err != nil || status != TaskStatusInProgress {
		t.Errorf("ParseStatus(in_progress) = %v, %v", status, err)
	}

	if _, err := ParseStatus("done"); !errors.Is(err, ErrInvalidTaskStatus) {
		t.Errorf("Expected ErrInvalidTaskStatus, got %v", err)
	}

	priority, err := ParsePriority("critical")
	if err != nil || priority != TaskPriorityCritical {
		t.Errorf("ParsePriority(critical) = %v, %v", priority, err)
	}

	if _, err := ParsePriority("urgent"); !errors.Is(err, ErrInvalidTaskPriority) {
		t.Errorf("Expected ErrInvalidTaskPriority, got %v", err)
	}
}

func TestPriorityRank(t *testing.T) {
	t.Parallel()

	ordered := PrioritiesByRank()
	if len(ordered) != 4 {
		t.Fatalf("Expected 4 priorities, got %d", len(ordered))
	}

	for i := 1; i < len(ordered); i++ {
		if ordered[i-1].Rank() <= ordered[i].Rank() {
			t.Errorf("Expected %s to outrank %s", ordered[i-1], ordered[i])
		}
	}

	if TaskPriorityCritical.Rank() <= TaskPriorityHigh.Rank() {
		t.Error("Expected critical to outrank high")
	}
}

func TestTaskClone(t *testing.T) {
	t.Parallel()

	task, err := NewTask("Title", "", TaskPriorityMedium, "", "", map[string]string{"k": "v"})
	if err != nil {
		t.Fatalf("NewTask failed: %v", err)
	}

	clone := task.Clone()
	clone.Metadata["k"] = "changed"
	clone.Title = "Other"

	if task.Metadata["k"] != "v" {
		t.Error("Expected clone metadata to be independent")
	}
	if task.Title != "Title" {
		t.Error("Expected clone fields to be independent")
	}
}
