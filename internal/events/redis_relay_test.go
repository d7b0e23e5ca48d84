package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	mrd "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisRelay_PublishesEvent(t *testing.T) {
	ctx := context.Background()

	srv := mrd.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
	})

	sub := rdb.Subscribe(ctx, RelayChannel(EventEnqueued))
	t.Cleanup(func() {
		_ = sub.Close()
	})

	// Wait for the subscription to be confirmed before publishing.
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	relay := NewRedisRelay(rdb)
	event := NewTaskEvent(EventEnqueued, uuid.New(), "consumer:worker-3")

	require.NoError(t, relay.HandleEvent(ctx, event))

	select {
	case msg := <-sub.Channel():
		var payload struct {
			EventType string     `json:"event_type"`
			Timestamp time.Time  `json:"timestamp"`
			Data      *TaskEvent `json:"data"`
		}
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &payload))
		assert.Equal(t, "enqueued", payload.EventType)
		assert.Equal(t, event.TaskID, payload.Data.TaskID)
		assert.Equal(t, "consumer:worker-3", payload.Data.Scope)
		assert.WithinDuration(t, event.Timestamp, payload.Timestamp, time.Second)
	case <-time.After(2 * time.Second):
		t.Fatal("no message received on relay channel")
	}
}

func TestRedisRelay_ChannelPerEventType(t *testing.T) {
	assert.Equal(t, "task_events:enqueued", RelayChannel(EventEnqueued))
	assert.Equal(t, "task_events:dead_lettered", RelayChannel(EventDeadLettered))
	assert.Equal(t, "task_events:expired", RelayChannel(EventExpired))
}

func TestRedisRelay_PublishFailure(t *testing.T) {
	ctx := context.Background()

	srv := mrd.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})

	relay := NewRedisRelay(rdb)

	srv.Close()
	err := relay.HandleEvent(ctx, NewTaskEvent(EventDequeued, uuid.New(), "global"))
	assert.Error(t, err)
	_ = rdb.Close()
}
