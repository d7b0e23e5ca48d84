package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/taskdispatch/internal/deadletter"
	"github.com/phrazzld/taskdispatch/internal/domain"
	"github.com/phrazzld/taskdispatch/internal/events"
	"github.com/phrazzld/taskdispatch/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingEmitter captures events synchronously so tests can assert on
// them without waiting.
type recordingEmitter struct {
	mu     sync.Mutex
	events []*events.TaskEvent
}

func (r *recordingEmitter) Emit(event *events.TaskEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingEmitter) ofType(t events.EventType) []*events.TaskEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*events.TaskEvent
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fakeSink struct {
	mu      sync.Mutex
	records []deadletter.Record
	err     error
}

func (f *fakeSink) Append(_ context.Context, rec deadletter.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeSink) all() []deadletter.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]deadletter.Record, len(f.records))
	copy(out, f.records)
	return out
}

func newTestQueue(cfg Config) (*DispatchQueue, *recordingEmitter, *fakeSink) {
	emitter := &recordingEmitter{}
	sink := &fakeSink{}
	q := NewDispatchQueue(cfg, sink, emitter, testLogger())
	return q, emitter, sink
}

func makeTask(t *testing.T, priority domain.TaskPriority, consumerID, channelID string) *domain.Task {
	t.Helper()
	task, err := domain.NewTask("queued work", "", priority, consumerID, channelID, nil)
	require.NoError(t, err)
	return task
}

func TestDispatchQueue_EnqueueDequeueRoundTrip(t *testing.T) {
	ctx := context.Background()
	q, emitter, _ := newTestQueue(Config{})

	task := makeTask(t, domain.TaskPriorityHigh, "", "")
	require.NoError(t, q.Enqueue(ctx, task, time.Hour))

	entry, err := q.Dequeue(ctx, 0, GlobalScope())
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, task.ID, entry.TaskID)
	assert.Equal(t, domain.TaskPriorityHigh, entry.Priority)
	assert.Equal(t, GlobalScope(), entry.Scope)
	assert.Zero(t, entry.RetryCount)
	assert.True(t, entry.ExpiresAt.After(entry.EnqueuedAt))

	// The scope is empty now.
	entry, err = q.Dequeue(ctx, 0, GlobalScope())
	require.NoError(t, err)
	assert.Nil(t, entry)

	assert.Len(t, emitter.ofType(events.EventEnqueued), 1)
	assert.Len(t, emitter.ofType(events.EventDequeued), 1)
}

func TestDispatchQueue_ReplaceNotDuplicate(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newTestQueue(Config{})

	task := makeTask(t, domain.TaskPriorityLow, "", "")
	require.NoError(t, q.Enqueue(ctx, task, time.Hour))
	require.NoError(t, q.Enqueue(ctx, task, time.Hour))

	task.Priority = domain.TaskPriorityCritical
	require.NoError(t, q.Enqueue(ctx, task, time.Hour))

	assert.Equal(t, map[string]int{"global": 1}, q.Depths())

	entry, err := q.Dequeue(ctx, 0, GlobalScope())
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, task.ID, entry.TaskID)
	// The replacement refreshed the priority.
	assert.Equal(t, domain.TaskPriorityCritical, entry.Priority)

	entry, err = q.Dequeue(ctx, 0, GlobalScope())
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestDispatchQueue_PriorityOrdering(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newTestQueue(Config{})

	low := makeTask(t, domain.TaskPriorityLow, "", "")
	critical1 := makeTask(t, domain.TaskPriorityCritical, "", "")
	medium := makeTask(t, domain.TaskPriorityMedium, "", "")
	critical2 := makeTask(t, domain.TaskPriorityCritical, "", "")

	for _, task := range []*domain.Task{low, critical1, medium, critical2} {
		require.NoError(t, q.Enqueue(ctx, task, time.Hour))
	}

	var order []uuid.UUID
	for i := 0; i < 4; i++ {
		entry, err := q.Dequeue(ctx, 0, GlobalScope())
		require.NoError(t, err)
		require.NotNil(t, entry)
		order = append(order, entry.TaskID)
	}

	assert.Equal(t, []uuid.UUID{critical1.ID, critical2.ID, medium.ID, low.ID}, order)
}

func TestDispatchQueue_FIFOWithinBand(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newTestQueue(Config{})

	first := makeTask(t, domain.TaskPriorityCritical, "", "")
	second := makeTask(t, domain.TaskPriorityCritical, "", "")
	require.NoError(t, q.Enqueue(ctx, first, time.Hour))
	require.NoError(t, q.Enqueue(ctx, second, time.Hour))

	entry, err := q.Dequeue(ctx, 0, GlobalScope())
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, first.ID, entry.TaskID)

	entry, err = q.Dequeue(ctx, 0, GlobalScope())
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, second.ID, entry.TaskID)
}

func TestDispatchQueue_ConsumerIsolation(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newTestQueue(Config{})

	bound := makeTask(t, domain.TaskPriorityCritical, "worker-1", "")
	free := makeTask(t, domain.TaskPriorityLow, "", "")
	require.NoError(t, q.Enqueue(ctx, bound, time.Hour))
	require.NoError(t, q.Enqueue(ctx, free, time.Hour))

	// The consumer-bound task is invisible to the global view, even
	// though its priority is higher.
	entry, err := q.Dequeue(ctx, 0, GlobalScope())
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, free.ID, entry.TaskID)

	// Another consumer's view sees nothing.
	entry, err = q.Dequeue(ctx, 0, ConsumerScope("worker-2"))
	require.NoError(t, err)
	assert.Nil(t, entry)

	entry, err = q.Dequeue(ctx, 0, ConsumerScope("worker-1"))
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, bound.ID, entry.TaskID)
	assert.Equal(t, ConsumerScope("worker-1"), entry.Scope)
}

func TestDispatchQueue_ChannelScenario(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newTestQueue(Config{})

	task := makeTask(t, domain.TaskPriorityHigh, "", "12345678901234567")
	task.Title = "Deploy"
	require.NoError(t, q.Enqueue(ctx, task, 3600*time.Second))

	// A different channel's view returns empty.
	entry, err := q.Dequeue(ctx, 0, ChannelScope("76543210987654321"))
	require.NoError(t, err)
	assert.Nil(t, entry)

	entry, err = q.Dequeue(ctx, 0, ChannelScope("12345678901234567"))
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, task.ID, entry.TaskID)
}

func TestDispatchQueue_ChannelTasksVisibleGlobally(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newTestQueue(Config{})

	task := makeTask(t, domain.TaskPriorityMedium, "", "12345678901234567")
	require.NoError(t, q.Enqueue(ctx, task, time.Hour))

	// Channel-tagged tasks live in the global scope; any global consumer
	// may pick them up.
	entry, err := q.Dequeue(ctx, 0, GlobalScope())
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, task.ID, entry.TaskID)
}

func TestDispatchQueue_BlockingDequeueWokenByEnqueue(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newTestQueue(Config{})

	type result struct {
		entry *Entry
		err   error
	}
	done := make(chan result, 1)
	go func() {
		entry, err := q.Dequeue(ctx, 3*time.Second, GlobalScope())
		done <- result{entry, err}
	}()

	time.Sleep(50 * time.Millisecond)
	task := makeTask(t, domain.TaskPriorityMedium, "", "")
	require.NoError(t, q.Enqueue(ctx, task, time.Hour))

	select {
	case res := <-done:
		require.NoError(t, res.err)
		require.NotNil(t, res.entry)
		assert.Equal(t, task.ID, res.entry.TaskID)
	case <-time.After(2 * time.Second):
		t.Fatal("dequeue was not woken by enqueue")
	}
}

func TestDispatchQueue_DequeueTimeout(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newTestQueue(Config{})

	start := time.Now()
	entry, err := q.Dequeue(ctx, 100*time.Millisecond, GlobalScope())
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Nil(t, entry)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
}

func TestDispatchQueue_DequeueZeroTimeoutNonBlocking(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newTestQueue(Config{})

	start := time.Now()
	entry, err := q.Dequeue(ctx, 0, GlobalScope())
	require.NoError(t, err)
	assert.Nil(t, entry)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDispatchQueue_DequeueCancellation(t *testing.T) {
	q, _, _ := newTestQueue(Config{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(ctx, 10*time.Second, GlobalScope())
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("dequeue was not cancelled promptly")
	}

	// Cancellation left no side effects.
	assert.Empty(t, q.Depths())
}

func TestDispatchQueue_RetryBackoffAndDeadLetter(t *testing.T) {
	ctx := context.Background()
	q, emitter, sink := newTestQueue(Config{
		MaxRetries:     3,
		BaseRetryDelay: 10 * time.Millisecond,
	})

	task := makeTask(t, domain.TaskPriorityHigh, "", "")
	require.NoError(t, q.Enqueue(ctx, task, time.Hour))

	entry, err := q.Dequeue(ctx, 0, GlobalScope())
	require.NoError(t, err)
	require.NotNil(t, entry)

	var lastNotBefore time.Time
	for i := 1; i <= 3; i++ {
		outcome, err := q.MarkForRetry(ctx, task.ID, "handler failed")
		require.NoError(t, err)
		assert.Equal(t, OutcomeRequeued, outcome)

		// The backed-off entry is delivered once NotBefore passes, with
		// no further enqueue needed.
		entry, err = q.Dequeue(ctx, 2*time.Second, GlobalScope())
		require.NoError(t, err)
		require.NotNil(t, entry, "retry %d should be redelivered", i)
		assert.Equal(t, task.ID, entry.TaskID)
		assert.Equal(t, i, entry.RetryCount)
		assert.True(t, entry.NotBefore.After(lastNotBefore),
			"NotBefore must strictly increase across retries")
		lastNotBefore = entry.NotBefore
	}

	// The fourth failure exhausts the budget.
	outcome, err := q.MarkForRetry(ctx, task.ID, "handler failed")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeadLettered, outcome)

	// The task is gone from every view.
	for _, scope := range []Scope{GlobalScope(), ConsumerScope("worker-1"), ChannelScope("12345678901234567")} {
		entry, err := q.Dequeue(ctx, 0, scope)
		require.NoError(t, err)
		assert.Nil(t, entry)
	}

	deadLetters := q.DeadLetters()
	require.Len(t, deadLetters, 1)
	assert.Equal(t, task.ID, deadLetters[0].TaskID)
	assert.Equal(t, 4, deadLetters[0].RetryCount)
	assert.Equal(t, "handler failed", deadLetters[0].Reason)

	archived := sink.all()
	require.Len(t, archived, 1)
	assert.Equal(t, task.ID, archived[0].TaskID)

	assert.Len(t, emitter.ofType(events.EventRetried), 3)
	assert.Len(t, emitter.ofType(events.EventDeadLettered), 1)
}

func TestDispatchQueue_MarkForRetryNotInFlight(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newTestQueue(Config{})

	_, err := q.MarkForRetry(ctx, uuid.New(), "never dequeued")
	assert.ErrorIs(t, err, ErrEntryNotFound)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDispatchQueue_AckEndsRetryLineage(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newTestQueue(Config{})

	task := makeTask(t, domain.TaskPriorityMedium, "", "")
	require.NoError(t, q.Enqueue(ctx, task, time.Hour))

	_, err := q.Dequeue(ctx, 0, GlobalScope())
	require.NoError(t, err)

	assert.True(t, q.Ack(task.ID))
	assert.False(t, q.Ack(task.ID))

	_, err = q.MarkForRetry(ctx, task.ID, "too late")
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestDispatchQueue_EnqueueSupersedesInFlight(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newTestQueue(Config{})

	task := makeTask(t, domain.TaskPriorityMedium, "", "")
	require.NoError(t, q.Enqueue(ctx, task, time.Hour))

	_, err := q.Dequeue(ctx, 0, GlobalScope())
	require.NoError(t, err)

	// Re-enqueueing while the task is in flight starts a fresh lineage.
	require.NoError(t, q.Enqueue(ctx, task, time.Hour))

	_, err = q.MarkForRetry(ctx, task.ID, "stale claim")
	assert.ErrorIs(t, err, ErrEntryNotFound)

	entry, err := q.Dequeue(ctx, 0, GlobalScope())
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Zero(t, entry.RetryCount)
}

func TestDispatchQueue_TTLExpiry(t *testing.T) {
	ctx := context.Background()

	t.Run("expired entry is dropped, never returned", func(t *testing.T) {
		q, emitter, _ := newTestQueue(Config{})

		task := makeTask(t, domain.TaskPriorityCritical, "", "")
		require.NoError(t, q.Enqueue(ctx, task, 30*time.Millisecond))

		time.Sleep(60 * time.Millisecond)

		entry, err := q.Dequeue(ctx, 0, GlobalScope())
		require.NoError(t, err)
		assert.Nil(t, entry)

		expired := emitter.ofType(events.EventExpired)
		require.Len(t, expired, 1)
		assert.Equal(t, task.ID, expired[0].TaskID)
		assert.Equal(t, "global", expired[0].Scope)
	})

	t.Run("dequeue skips past expired entries", func(t *testing.T) {
		q, emitter, _ := newTestQueue(Config{})

		stale := makeTask(t, domain.TaskPriorityMedium, "", "")
		fresh := makeTask(t, domain.TaskPriorityMedium, "", "")
		require.NoError(t, q.Enqueue(ctx, stale, 30*time.Millisecond))
		require.NoError(t, q.Enqueue(ctx, fresh, time.Hour))

		time.Sleep(60 * time.Millisecond)

		entry, err := q.Dequeue(ctx, 0, GlobalScope())
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.Equal(t, fresh.ID, entry.TaskID)
		assert.Len(t, emitter.ofType(events.EventExpired), 1)
	})
}

func TestDispatchQueue_PurgeExpired(t *testing.T) {
	ctx := context.Background()
	q, emitter, _ := newTestQueue(Config{})

	shortLived := []*domain.Task{
		makeTask(t, domain.TaskPriorityLow, "", ""),
		makeTask(t, domain.TaskPriorityHigh, "", ""),
		makeTask(t, domain.TaskPriorityMedium, "worker-1", ""),
	}
	for _, task := range shortLived {
		require.NoError(t, q.Enqueue(ctx, task, 30*time.Millisecond))
	}
	survivor := makeTask(t, domain.TaskPriorityLow, "worker-1", "")
	require.NoError(t, q.Enqueue(ctx, survivor, time.Hour))

	time.Sleep(60 * time.Millisecond)

	assert.Equal(t, 3, q.PurgeExpired())
	assert.Len(t, emitter.ofType(events.EventExpired), 3)
	assert.Equal(t, map[string]int{"consumer:worker-1": 1}, q.Depths())

	// A second sweep finds nothing.
	assert.Zero(t, q.PurgeExpired())
}

func TestDispatchQueue_Capacity(t *testing.T) {
	ctx := context.Background()

	t.Run("global scope", func(t *testing.T) {
		q, _, _ := newTestQueue(Config{MaxQueueSize: 2})

		first := makeTask(t, domain.TaskPriorityLow, "", "")
		second := makeTask(t, domain.TaskPriorityLow, "", "")
		require.NoError(t, q.Enqueue(ctx, first, time.Hour))
		require.NoError(t, q.Enqueue(ctx, second, time.Hour))

		err := q.Enqueue(ctx, makeTask(t, domain.TaskPriorityCritical, "", ""), time.Hour)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrQueueFull)

		var fullErr *QueueFullError
		require.ErrorAs(t, err, &fullErr)
		assert.Equal(t, "global", fullErr.Scope)
		assert.Equal(t, 2, fullErr.Capacity)

		// The rejection left the scope untouched.
		assert.Equal(t, map[string]int{"global": 2}, q.Depths())

		// Replacing a live entry is allowed at capacity.
		require.NoError(t, q.Enqueue(ctx, first, time.Hour))
	})

	t.Run("consumer scope", func(t *testing.T) {
		q, _, _ := newTestQueue(Config{MaxQueueSize: 2})

		require.NoError(t, q.Enqueue(ctx, makeTask(t, domain.TaskPriorityLow, "worker-1", ""), time.Hour))
		require.NoError(t, q.Enqueue(ctx, makeTask(t, domain.TaskPriorityLow, "worker-1", ""), time.Hour))

		err := q.Enqueue(ctx, makeTask(t, domain.TaskPriorityLow, "worker-1", ""), time.Hour)
		var fullErr *QueueFullError
		require.ErrorAs(t, err, &fullErr)
		assert.Equal(t, "consumer:worker-1", fullErr.Scope)

		// Other consumers are unaffected.
		require.NoError(t, q.Enqueue(ctx, makeTask(t, domain.TaskPriorityLow, "worker-2", ""), time.Hour))
	})

	t.Run("channel view", func(t *testing.T) {
		q, _, _ := newTestQueue(Config{MaxQueueSize: 2})
		channel := "12345678901234567"

		require.NoError(t, q.Enqueue(ctx, makeTask(t, domain.TaskPriorityLow, "", channel), time.Hour))
		require.NoError(t, q.Enqueue(ctx, makeTask(t, domain.TaskPriorityLow, "", channel), time.Hour))

		err := q.Enqueue(ctx, makeTask(t, domain.TaskPriorityLow, "", channel), time.Hour)
		var fullErr *QueueFullError
		require.ErrorAs(t, err, &fullErr)
		assert.Equal(t, "channel:"+channel, fullErr.Scope)

		// Untagged tasks and other channels budget separately.
		require.NoError(t, q.Enqueue(ctx, makeTask(t, domain.TaskPriorityLow, "", ""), time.Hour))
		require.NoError(t, q.Enqueue(ctx, makeTask(t, domain.TaskPriorityLow, "", "76543210987654321"), time.Hour))
	})
}

func TestDispatchQueue_EnqueueRejectsTerminalTasks(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newTestQueue(Config{})

	task := makeTask(t, domain.TaskPriorityMedium, "", "")
	task.Status = domain.TaskStatusCompleted

	err := q.Enqueue(ctx, task, time.Hour)
	assert.ErrorIs(t, err, domain.ErrValidation)

	err = q.Enqueue(ctx, nil, time.Hour)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestDispatchQueue_StatsAndDepths(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newTestQueue(Config{})

	channel := "12345678901234567"
	high := makeTask(t, domain.TaskPriorityHigh, "", channel)
	low := makeTask(t, domain.TaskPriorityLow, "", "")
	bound := makeTask(t, domain.TaskPriorityMedium, "worker-1", "")

	require.NoError(t, q.Enqueue(ctx, high, time.Hour))
	require.NoError(t, q.Enqueue(ctx, low, time.Hour))
	require.NoError(t, q.Enqueue(ctx, bound, time.Hour))

	depths := q.Depths()
	assert.Equal(t, 2, depths["global"])
	assert.Equal(t, 1, depths["channel:"+channel])
	assert.Equal(t, 1, depths["consumer:worker-1"])

	entry, err := q.Dequeue(ctx, 0, GlobalScope())
	require.NoError(t, err)
	require.NotNil(t, entry)

	stats := q.Stats()
	assert.Equal(t, 2, stats.TotalDepth)
	assert.Equal(t, 1, stats.InFlight)
	assert.Equal(t, uint64(3), stats.Enqueued)
	assert.Equal(t, uint64(1), stats.Dequeued)
	assert.Zero(t, stats.DeadLetters)
	assert.Equal(t, 1, stats.Scopes["global"].Depth)
	assert.Equal(t, 1, stats.Scopes["global"].ByPriority[domain.TaskPriorityLow])
	assert.Equal(t, 1, stats.Scopes["consumer:worker-1"].Depth)
}

func TestDispatchQueue_ArchiveFailureDoesNotBlockDeadLetter(t *testing.T) {
	ctx := context.Background()
	emitter := &recordingEmitter{}
	sink := &fakeSink{err: errors.New("disk full")}
	q := NewDispatchQueue(Config{MaxRetries: 0}, sink, emitter, testLogger())

	task := makeTask(t, domain.TaskPriorityLow, "", "")
	require.NoError(t, q.Enqueue(ctx, task, time.Hour))

	_, err := q.Dequeue(ctx, 0, GlobalScope())
	require.NoError(t, err)

	outcome, err := q.MarkForRetry(ctx, task.ID, "boom")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeadLettered, outcome)

	// The in-memory list still records the failure.
	assert.Len(t, q.DeadLetters(), 1)
	assert.Len(t, emitter.ofType(events.EventDeadLettered), 1)
}

func TestDispatchQueue_ConcurrentProducersAndConsumers(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newTestQueue(Config{MaxQueueSize: 1000})

	const producers = 4
	const perProducer = 25

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				task := makeTask(t, domain.TaskPriorityMedium, "", "")
				if err := q.Enqueue(ctx, task, time.Hour); err != nil {
					t.Errorf("enqueue failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	var mu sync.Mutex
	seen := make(map[uuid.UUID]int)

	const consumers = 4
	for c := 0; c < consumers; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				entry, err := q.Dequeue(ctx, 0, GlobalScope())
				if err != nil {
					t.Errorf("dequeue failed: %v", err)
					return
				}
				if entry == nil {
					return
				}
				mu.Lock()
				seen[entry.TaskID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, producers*perProducer)
	for id, count := range seen {
		assert.Equalf(t, 1, count, "task %s delivered %d times", id, count)
	}
	assert.Empty(t, q.Depths())
}
