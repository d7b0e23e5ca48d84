package rediscache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/phrazzld/taskdispatch/internal/domain"
)

// ErrCacheMiss indicates the requested task is not in the cache.
// Callers fall through to the durable store.
var ErrCacheMiss = errors.New("cache miss")

const keyPrefix = "task:"

// TaskCache stores task snapshots in Redis with a TTL.
type TaskCache struct {
	rdb    redis.UniversalClient
	codec  Codec
	ttl    time.Duration
	logger *slog.Logger
}

// NewTaskCache creates a TaskCache. Entries expire after ttl.
// If logger is nil, the default logger is used.
func NewTaskCache(rdb redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *TaskCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskCache{
		rdb:    rdb,
		codec:  &JSONCodec{},
		ttl:    ttl,
		logger: logger.With(slog.String("component", "task_cache")),
	}
}

func taskKey(id uuid.UUID) string {
	return keyPrefix + id.String()
}

// Get returns the cached task or ErrCacheMiss.
func (c *TaskCache) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	data, err := c.rdb.Get(ctx, taskKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("cache get: %w", err)
	}

	var task domain.Task
	if err := c.codec.Decode(data, &task); err != nil {
		// A corrupt entry behaves like a miss; the durable read will
		// repopulate it.
		c.logger.Warn("discarding undecodable cache entry",
			slog.String("task_id", id.String()),
			slog.String("error", err.Error()))
		_ = c.rdb.Del(ctx, taskKey(id)).Err()
		return nil, ErrCacheMiss
	}

	return &task, nil
}

// Set writes the task snapshot, resetting its TTL.
func (c *TaskCache) Set(ctx context.Context, task *domain.Task) error {
	data, err := c.codec.Encode(task)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}

	if err := c.rdb.Set(ctx, taskKey(task.ID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Delete removes the cached entry. Deleting a missing key is not an error.
func (c *TaskCache) Delete(ctx context.Context, id uuid.UUID) error {
	if err := c.rdb.Del(ctx, taskKey(id)).Err(); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

// Ping reports whether Redis is reachable.
func (c *TaskCache) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("cache ping: %w", err)
	}
	return nil
}
