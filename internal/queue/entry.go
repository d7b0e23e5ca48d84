package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/taskdispatch/internal/domain"
)

// ScopeKind discriminates the addressable queue views.
type ScopeKind int

const (
	// ScopeGlobal addresses entries not bound to any consumer.
	ScopeGlobal ScopeKind = iota
	// ScopeConsumer addresses one consumer's isolated entries.
	ScopeConsumer
	// ScopeChannel addresses the global entries tagged with one channel.
	ScopeChannel
)

// Scope identifies the subset of the queue an operation targets.
type Scope struct {
	Kind ScopeKind
	ID   string
}

// GlobalScope returns the scope holding consumer-unbound entries.
func GlobalScope() Scope {
	return Scope{Kind: ScopeGlobal}
}

// ConsumerScope returns the isolated scope of one consumer.
func ConsumerScope(id string) Scope {
	return Scope{Kind: ScopeConsumer, ID: id}
}

// ChannelScope returns the view over global entries tagged with the
// given channel id.
func ChannelScope(id string) Scope {
	return Scope{Kind: ScopeChannel, ID: id}
}

// String renders the scope for event payloads, map keys, and logs.
func (s Scope) String() string {
	switch s.Kind {
	case ScopeConsumer:
		return "consumer:" + s.ID
	case ScopeChannel:
		return "channel:" + s.ID
	default:
		return "global"
	}
}

// landingScopeFor returns the scope an entry physically lives in.
// Consumer-bound tasks are visible only through that consumer's view;
// everything else lands in the global scope, where channel views can
// filter it.
func landingScopeFor(task *domain.Task) Scope {
	if task.ConsumerID != "" {
		return ConsumerScope(task.ConsumerID)
	}
	return GlobalScope()
}

// Entry is the scheduling handle for one task. Priority and routing
// metadata are copied from the task at enqueue time and stay fixed for
// the entry's lifetime.
type Entry struct {
	TaskID     uuid.UUID
	Priority   domain.TaskPriority
	Scope      Scope
	ChannelID  string
	EnqueuedAt time.Time
	ExpiresAt  time.Time
	RetryCount int
	NotBefore  time.Time
}

// Expired reports whether the entry's TTL has elapsed at now.
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}

// Eligible reports whether the entry may be handed to a consumer at now.
func (e *Entry) Eligible(now time.Time) bool {
	return !e.NotBefore.After(now) && e.ExpiresAt.After(now)
}

// DeadLetter is the in-memory record of a task that exhausted its retry
// budget. The archive keeps the durable copy.
type DeadLetter struct {
	TaskID     uuid.UUID           `json:"task_id"`
	Priority   domain.TaskPriority `json:"priority"`
	Scope      string              `json:"scope"`
	Reason     string              `json:"reason"`
	RetryCount int                 `json:"retry_count"`
	FailedAt   time.Time           `json:"failed_at"`
}
