package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/taskdispatch/internal/deadletter"
	"github.com/phrazzld/taskdispatch/internal/domain"
	"github.com/phrazzld/taskdispatch/internal/events"
	"github.com/phrazzld/taskdispatch/internal/platform/logger"
)

// Default configuration values, applied for zero fields.
const (
	DefaultMaxQueueSize   = 1000
	DefaultTTL            = time.Hour
	DefaultMaxRetries     = 3
	DefaultBaseRetryDelay = 2 * time.Second
)

// maxDeadLetterHistory caps the in-memory dead-letter list. The bbolt
// archive keeps the full history.
const maxDeadLetterHistory = 1000

// Config holds the queue's operating parameters. Range validation happens
// at config load time; the queue applies defaults for zero values and
// otherwise trusts what it is given.
type Config struct {
	// MaxQueueSize limits live entries per scope, and per channel within
	// the global scope.
	MaxQueueSize int

	// DefaultTTL applies when Enqueue receives a non-positive ttl.
	DefaultTTL time.Duration

	// MaxRetries is the retry budget before dead-lettering.
	MaxRetries int

	// BaseRetryDelay is the backoff unit; the delay doubles per retry.
	BaseRetryDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = DefaultMaxQueueSize
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = DefaultTTL
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BaseRetryDelay <= 0 {
		c.BaseRetryDelay = DefaultBaseRetryDelay
	}
	return c
}

// DeadLetterSink receives the references of tasks that exhausted their
// retries. *deadletter.Archive satisfies it; a nil sink disables
// archiving.
type DeadLetterSink interface {
	Append(ctx context.Context, rec deadletter.Record) error
}

// RetryOutcome reports what MarkForRetry did with the task.
type RetryOutcome int

const (
	// OutcomeRequeued means the entry went back to its scope with a
	// backoff delay.
	OutcomeRequeued RetryOutcome = iota
	// OutcomeDeadLettered means the retry budget was exhausted and the
	// reference moved to the dead-letter list.
	OutcomeDeadLettered
)

// String renders the outcome for logs and API responses.
func (o RetryOutcome) String() string {
	switch o {
	case OutcomeDeadLettered:
		return "dead_lettered"
	default:
		return "requeued"
	}
}

// DispatchQueue schedules task references across priority bands and
// scopes. All operations are safe for concurrent use.
type DispatchQueue struct {
	cfg Config

	mu     sync.RWMutex
	scopes map[string]*scopeState

	// inflight holds entries handed to consumers and not yet acked,
	// retried, or superseded. Never locked together with a scope mutex.
	inflightMu sync.Mutex
	inflight   map[uuid.UUID]*Entry

	deadMu      sync.Mutex
	deadLetters []DeadLetter

	sink    DeadLetterSink
	emitter events.EventEmitter
	logger  *slog.Logger

	enqueued     atomic.Uint64
	dequeued     atomic.Uint64
	retried      atomic.Uint64
	deadLettered atomic.Uint64
	expired      atomic.Uint64
}

// NewDispatchQueue creates a queue. The sink and emitter may be nil, which
// disables archiving and events respectively. If logger is nil, the
// default logger is used.
func NewDispatchQueue(
	cfg Config,
	sink DeadLetterSink,
	emitter events.EventEmitter,
	logger *slog.Logger,
) *DispatchQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &DispatchQueue{
		cfg:      cfg.withDefaults(),
		scopes:   make(map[string]*scopeState),
		inflight: make(map[uuid.UUID]*Entry),
		sink:     sink,
		emitter:  emitter,
		logger:   logger.With(slog.String("component", "dispatch_queue")),
	}
}

// state returns the physical state for a landing scope, creating it on
// first use.
func (q *DispatchQueue) state(scope Scope) *scopeState {
	key := scope.String()

	q.mu.RLock()
	s, ok := q.scopes[key]
	q.mu.RUnlock()
	if ok {
		return s
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if s, ok := q.scopes[key]; ok {
		return s
	}
	s = newScopeState()
	q.scopes[key] = s
	return s
}

// view resolves an addressable scope to its backing state and scan
// filter. Channel views read the global state filtered by channel id.
func (q *DispatchQueue) view(scope Scope) (*scopeState, func(*Entry) bool) {
	if scope.Kind == ScopeChannel {
		id := scope.ID
		return q.state(GlobalScope()), func(e *Entry) bool { return e.ChannelID == id }
	}
	return q.state(scope), nil
}

// snapshotStates returns all physical scope states for iteration.
func (q *DispatchQueue) snapshotStates() []*scopeState {
	q.mu.RLock()
	defer q.mu.RUnlock()
	states := make([]*scopeState, 0, len(q.scopes))
	for _, s := range q.scopes {
		states = append(states, s)
	}
	return states
}

// Enqueue makes the task schedulable. The landing scope is derived from
// the task: consumer-bound tasks go to that consumer's isolated scope,
// everything else to the global scope. Re-enqueueing a task already live
// in its scope replaces the entry, refreshing priority and timestamps.
// Returns a QueueFullError when the scope, or the task's channel view, is
// at capacity.
func (q *DispatchQueue) Enqueue(ctx context.Context, task *domain.Task, ttl time.Duration) error {
	if task == nil {
		return fmt.Errorf("%w: task is nil", domain.ErrValidation)
	}
	if task.Status.IsTerminal() {
		return fmt.Errorf(
			"%w: cannot enqueue task in terminal status %q",
			domain.ErrValidation, task.Status,
		)
	}
	if ttl <= 0 {
		ttl = q.cfg.DefaultTTL
	}

	scope := landingScopeFor(task)
	now := time.Now().UTC()
	entry := &Entry{
		TaskID:     task.ID,
		Priority:   task.Priority,
		Scope:      scope,
		ChannelID:  task.ChannelID,
		EnqueuedAt: now,
		ExpiresAt:  now.Add(ttl),
	}

	state := q.state(scope)
	state.mu.Lock()
	if existing, ok := state.byTask[task.ID]; ok {
		// Replacement never changes the entry count, so capacity does
		// not apply.
		state.remove(existing)
	} else if full, fullScope := q.atCapacity(state, scope, task.ChannelID); full {
		state.mu.Unlock()
		return NewQueueFullError(fullScope, q.cfg.MaxQueueSize)
	}
	state.insert(entry)
	state.wake()
	state.mu.Unlock()

	// A fresh enqueue supersedes any outstanding in-flight claim.
	q.inflightMu.Lock()
	delete(q.inflight, task.ID)
	q.inflightMu.Unlock()

	q.enqueued.Add(1)
	q.emit(events.NewTaskEvent(events.EventEnqueued, task.ID, scope.String()))
	logger.FromContextOrDefault(ctx, q.logger).Debug("task enqueued",
		slog.String("task_id", task.ID.String()),
		slog.String("scope", scope.String()),
		slog.String("priority", string(task.Priority)))

	return nil
}

// atCapacity applies the per-scope budget to the entry's most specific
// grouping: the consumer scope for consumer-bound tasks, the channel view
// for channel-tagged global tasks, and the global scope otherwise.
// Callers must hold state.mu.
func (q *DispatchQueue) atCapacity(
	state *scopeState,
	scope Scope,
	channelID string,
) (bool, string) {
	limit := q.cfg.MaxQueueSize
	if scope.Kind == ScopeGlobal && channelID != "" {
		if state.channelCounts[channelID] >= limit {
			return true, ChannelScope(channelID).String()
		}
		return false, ""
	}
	if len(state.byTask) >= limit {
		return true, scope.String()
	}
	return false, ""
}

// Dequeue removes and returns the next dispatchable entry in the scope:
// highest priority band first, earliest EnqueuedAt within the band, among
// entries whose NotBefore has passed and whose TTL has not. With a zero
// timeout it performs a single non-blocking check. Otherwise it blocks
// until an entry arrives, the timeout elapses (nil, nil), or ctx is
// cancelled (nil, ctx.Err()); enqueues and retries in the scope wake it
// promptly.
func (q *DispatchQueue) Dequeue(
	ctx context.Context,
	timeout time.Duration,
	scope Scope,
) (*Entry, error) {
	state, filter := q.view(scope)
	deadline := time.Now().Add(timeout)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		state.mu.Lock()
		entry, expiredEntries, nextEligible := state.take(now, filter)
		waitCh := state.notify
		state.mu.Unlock()

		q.noteExpired(expiredEntries)

		if entry != nil {
			q.inflightMu.Lock()
			q.inflight[entry.TaskID] = entry
			q.inflightMu.Unlock()

			q.dequeued.Add(1)
			q.emit(events.NewTaskEvent(events.EventDequeued, entry.TaskID, scope.String()))
			q.logger.Debug("task dequeued",
				slog.String("task_id", entry.TaskID.String()),
				slog.String("scope", scope.String()))
			return entry, nil
		}

		if timeout <= 0 {
			return nil, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}

		// Bound the wait by the earliest NotBefore so a backed-off entry
		// is picked up the moment it becomes eligible.
		wait := remaining
		if !nextEligible.IsZero() {
			if until := nextEligible.Sub(now); until > 0 && until < wait {
				wait = until
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-waitCh:
			timer.Stop()
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}

// MarkForRetry handles a consumer's failure report for an in-flight task.
// Within the retry budget the entry returns to its original scope and
// priority with NotBefore pushed out exponentially; past the budget the
// reference moves to the dead-letter list and archive. Returns
// ErrEntryNotFound when the task is not in flight.
func (q *DispatchQueue) MarkForRetry(
	ctx context.Context,
	taskID uuid.UUID,
	reason string,
) (RetryOutcome, error) {
	q.inflightMu.Lock()
	entry, ok := q.inflight[taskID]
	if ok {
		delete(q.inflight, taskID)
	}
	q.inflightMu.Unlock()
	if !ok {
		return 0, ErrEntryNotFound
	}

	entry.RetryCount++
	now := time.Now().UTC()

	if entry.RetryCount <= q.cfg.MaxRetries {
		entry.NotBefore = now.Add(backoffDelay(q.cfg.BaseRetryDelay, entry.RetryCount))

		state := q.state(entry.Scope)
		state.mu.Lock()
		if _, exists := state.byTask[entry.TaskID]; exists {
			// A concurrent enqueue already produced a fresh entry for
			// this task; it wins.
			state.mu.Unlock()
			return OutcomeRequeued, nil
		}
		state.insert(entry)
		state.wake()
		state.mu.Unlock()

		q.retried.Add(1)
		q.emit(events.NewTaskEvent(events.EventRetried, taskID, entry.Scope.String()).
			WithReason(reason))
		q.logger.Debug("task scheduled for retry",
			slog.String("task_id", taskID.String()),
			slog.Int("retry_count", entry.RetryCount),
			slog.Time("not_before", entry.NotBefore))
		return OutcomeRequeued, nil
	}

	dead := DeadLetter{
		TaskID:     entry.TaskID,
		Priority:   entry.Priority,
		Scope:      entry.Scope.String(),
		Reason:     reason,
		RetryCount: entry.RetryCount,
		FailedAt:   now,
	}

	q.deadMu.Lock()
	q.deadLetters = append(q.deadLetters, dead)
	if len(q.deadLetters) > maxDeadLetterHistory {
		q.deadLetters = q.deadLetters[len(q.deadLetters)-maxDeadLetterHistory:]
	}
	q.deadMu.Unlock()

	if q.sink != nil {
		rec := deadletter.Record{
			TaskID:     dead.TaskID,
			Scope:      dead.Scope,
			Priority:   dead.Priority,
			Reason:     dead.Reason,
			RetryCount: dead.RetryCount,
			FailedAt:   dead.FailedAt,
		}
		if err := q.sink.Append(ctx, rec); err != nil {
			q.logger.Error("failed to archive dead-lettered task",
				slog.String("task_id", taskID.String()),
				slog.String("error", err.Error()))
		}
	}

	q.deadLettered.Add(1)
	q.emit(events.NewTaskEvent(events.EventDeadLettered, taskID, entry.Scope.String()).
		WithReason(reason))
	q.logger.Warn("task dead-lettered",
		slog.String("task_id", taskID.String()),
		slog.Int("retry_count", entry.RetryCount),
		slog.String("reason", reason))
	return OutcomeDeadLettered, nil
}

// Ack discharges a dequeued task, ending its retry lineage. Returns false
// when the task was not in flight.
func (q *DispatchQueue) Ack(taskID uuid.UUID) bool {
	q.inflightMu.Lock()
	defer q.inflightMu.Unlock()
	if _, ok := q.inflight[taskID]; !ok {
		return false
	}
	delete(q.inflight, taskID)
	return true
}

// PurgeExpired sweeps every scope, dropping entries whose TTL elapsed,
// and returns how many were removed. Each removal emits an expired event.
func (q *DispatchQueue) PurgeExpired() int {
	now := time.Now().UTC()
	total := 0
	for _, state := range q.snapshotStates() {
		state.mu.Lock()
		expiredEntries := state.purgeExpired(now)
		state.mu.Unlock()
		q.noteExpired(expiredEntries)
		total += len(expiredEntries)
	}
	if total > 0 {
		q.logger.Info("purged expired queue entries", slog.Int("count", total))
	}
	return total
}

// Depths returns the live entry count per scope view, including channel
// views derived from global entries.
func (q *DispatchQueue) Depths() map[string]int {
	depths := make(map[string]int)

	q.mu.RLock()
	keyed := make(map[string]*scopeState, len(q.scopes))
	for key, s := range q.scopes {
		keyed[key] = s
	}
	q.mu.RUnlock()

	for key, state := range keyed {
		state.mu.Lock()
		if n := len(state.byTask); n > 0 {
			depths[key] = n
		}
		if key == GlobalScope().String() {
			for channelID, n := range state.channelCounts {
				depths[ChannelScope(channelID).String()] = n
			}
		}
		state.mu.Unlock()
	}
	return depths
}

// ScopeStats describes one scope's live depth.
type ScopeStats struct {
	Depth      int                         `json:"depth"`
	ByPriority map[domain.TaskPriority]int `json:"by_priority,omitempty"`
}

// Stats is a point-in-time snapshot of queue state plus lifetime
// counters.
type Stats struct {
	TotalDepth   int                   `json:"total_depth"`
	InFlight     int                   `json:"in_flight"`
	DeadLetters  int                   `json:"dead_letters"`
	Scopes       map[string]ScopeStats `json:"scopes"`
	Enqueued     uint64                `json:"enqueued"`
	Dequeued     uint64                `json:"dequeued"`
	Retried      uint64                `json:"retried"`
	DeadLettered uint64                `json:"dead_lettered"`
	Expired      uint64                `json:"expired"`
}

// Stats snapshots the queue.
func (q *DispatchQueue) Stats() Stats {
	stats := Stats{
		Scopes:       make(map[string]ScopeStats),
		Enqueued:     q.enqueued.Load(),
		Dequeued:     q.dequeued.Load(),
		Retried:      q.retried.Load(),
		DeadLettered: q.deadLettered.Load(),
		Expired:      q.expired.Load(),
	}

	q.mu.RLock()
	keyed := make(map[string]*scopeState, len(q.scopes))
	for key, s := range q.scopes {
		keyed[key] = s
	}
	q.mu.RUnlock()

	for key, state := range keyed {
		state.mu.Lock()
		depth, byPriority := state.depth()
		state.mu.Unlock()
		if depth == 0 {
			continue
		}
		stats.Scopes[key] = ScopeStats{Depth: depth, ByPriority: byPriority}
		stats.TotalDepth += depth
	}

	q.inflightMu.Lock()
	stats.InFlight = len(q.inflight)
	q.inflightMu.Unlock()

	q.deadMu.Lock()
	stats.DeadLetters = len(q.deadLetters)
	q.deadMu.Unlock()

	return stats
}

// DeadLetters returns a copy of the in-memory dead-letter list, oldest
// first.
func (q *DispatchQueue) DeadLetters() []DeadLetter {
	q.deadMu.Lock()
	defer q.deadMu.Unlock()
	out := make([]DeadLetter, len(q.deadLetters))
	copy(out, q.deadLetters)
	return out
}

func (q *DispatchQueue) emit(event *events.TaskEvent) {
	if q.emitter != nil {
		q.emitter.Emit(event)
	}
}

func (q *DispatchQueue) noteExpired(entries []*Entry) {
	for _, e := range entries {
		q.expired.Add(1)
		q.emit(events.NewTaskEvent(events.EventExpired, e.TaskID, e.Scope.String()).
			WithReason("ttl elapsed"))
		q.logger.Debug("queue entry expired",
			slog.String("task_id", e.TaskID.String()),
			slog.String("scope", e.Scope.String()))
	}
}

// backoffDelay computes base × 2^retryCount.
func backoffDelay(base time.Duration, retryCount int) time.Duration {
	return base * time.Duration(1<<uint(retryCount))
}
