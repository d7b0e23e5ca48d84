package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// relayChannelPrefix is the pub/sub channel namespace. The event type is
// appended, so subscribers can follow one transition or pattern-match all
// of them with task_events:*.
const relayChannelPrefix = "task_events:"

// relayPayload is the wire envelope published to Redis.
type relayPayload struct {
	EventType string     `json:"event_type"`
	Timestamp time.Time  `json:"timestamp"`
	Data      *TaskEvent `json:"data"`
}

// RedisRelay forwards queue events to Redis pub/sub so processes outside
// this one can observe the task lifecycle.
type RedisRelay struct {
	rdb redis.UniversalClient
}

// NewRedisRelay creates a relay publishing through the given client.
func NewRedisRelay(rdb redis.UniversalClient) *RedisRelay {
	return &RedisRelay{rdb: rdb}
}

// RelayChannel returns the pub/sub channel name for an event type.
func RelayChannel(eventType EventType) string {
	return relayChannelPrefix + string(eventType)
}

// HandleEvent implements EventHandler by publishing the event.
func (r *RedisRelay) HandleEvent(ctx context.Context, event *TaskEvent) error {
	payload, err := json.Marshal(relayPayload{
		EventType: string(event.Type),
		Timestamp: event.Timestamp,
		Data:      event,
	})
	if err != nil {
		return fmt.Errorf("encoding event payload: %w", err)
	}

	if err := r.rdb.Publish(ctx, RelayChannel(event.Type), payload).Err(); err != nil {
		return fmt.Errorf("publishing event: %w", err)
	}

	return nil
}
