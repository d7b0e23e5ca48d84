package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// defaultBuffer is the emit queue capacity used when the caller
	// passes a non-positive size.
	defaultBuffer = 256

	// deliverTimeout bounds how long one event may spend in handlers,
	// so a stuck handler cannot stall the dispatch loop forever.
	deliverTimeout = 5 * time.Second
)

// AsyncEventEmitter buffers events and dispatches them to registered
// handlers from a background goroutine. Emit never blocks: when the
// buffer is full the event is dropped and counted.
type AsyncEventEmitter struct {
	handlers []EventHandler
	mu       sync.RWMutex

	queue   chan *TaskEvent
	stop    chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
	dropped atomic.Uint64

	logger *slog.Logger
}

// NewAsyncEventEmitter creates an emitter with the given buffer size and
// starts its dispatch loop. Call Close to drain and stop it.
func NewAsyncEventEmitter(buffer int, logger *slog.Logger) *AsyncEventEmitter {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := &AsyncEventEmitter{
		handlers: make([]EventHandler, 0),
		queue:    make(chan *TaskEvent, buffer),
		stop:     make(chan struct{}),
		logger:   logger.With("component", "event_emitter"),
	}

	e.wg.Add(1)
	go e.dispatch()

	return e
}

// RegisterHandler adds a new event handler to receive events.
func (e *AsyncEventEmitter) RegisterHandler(handler EventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, handler)
	e.logger.Debug("registered new event handler", "handler_count", len(e.handlers))
}

// Emit queues the event for delivery. When the buffer is full the event
// is dropped with a warning; queue operations are never held up.
func (e *AsyncEventEmitter) Emit(event *TaskEvent) {
	select {
	case <-e.stop:
		return
	default:
	}

	select {
	case e.queue <- event:
	default:
		total := e.dropped.Add(1)
		e.logger.Warn("event buffer full, dropping event",
			"event_type", event.Type,
			"task_id", event.TaskID,
			"dropped_total", total)
	}
}

// Dropped returns how many events have been discarded because the buffer
// was full.
func (e *AsyncEventEmitter) Dropped() uint64 {
	return e.dropped.Load()
}

// Close stops the dispatch loop after delivering whatever is still
// buffered. Events emitted after Close are discarded.
func (e *AsyncEventEmitter) Close() {
	e.stopped.Do(func() {
		close(e.stop)
	})
	e.wg.Wait()
}

func (e *AsyncEventEmitter) dispatch() {
	defer e.wg.Done()

	for {
		select {
		case event := <-e.queue:
			e.deliver(event)
		case <-e.stop:
			for {
				select {
				case event := <-e.queue:
					e.deliver(event)
				default:
					return
				}
			}
		}
	}
}

// deliver sends the event to every handler. A failing handler does not
// stop delivery to the others.
func (e *AsyncEventEmitter) deliver(event *TaskEvent) {
	e.mu.RLock()
	handlers := make([]EventHandler, len(e.handlers))
	copy(handlers, e.handlers)
	e.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()

	for i, handler := range handlers {
		if err := handler.HandleEvent(ctx, event); err != nil {
			e.logger.Error("handler failed to process event",
				"error", err,
				"handler_index", i,
				"event_type", event.Type,
				"task_id", event.TaskID)
		}
	}
}

// LogHandler records every event to the structured log.
type LogHandler struct {
	logger *slog.Logger
}

// NewLogHandler creates a LogHandler writing through the given logger.
func NewLogHandler(logger *slog.Logger) *LogHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogHandler{logger: logger.With("component", "event_log")}
}

// HandleEvent implements EventHandler.
func (h *LogHandler) HandleEvent(_ context.Context, event *TaskEvent) error {
	h.logger.Info("queue event",
		"event_type", event.Type,
		"task_id", event.TaskID,
		"scope", event.Scope,
		"reason", event.Reason)
	return nil
}
