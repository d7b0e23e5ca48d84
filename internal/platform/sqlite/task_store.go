package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/phrazzld/taskdispatch/internal/domain"
	"github.com/phrazzld/taskdispatch/internal/platform/logger"
	"github.com/phrazzld/taskdispatch/internal/store"
)

// schema is applied at open. The CHECK constraints mirror the postgres
// migration so both backends reject the same malformed rows.
const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL CHECK (length(title) BETWEEN 1 AND 200),
	description TEXT NOT NULL DEFAULT '' CHECK (length(description) <= 2000),
	status      TEXT NOT NULL DEFAULT 'pending'
		CHECK (status IN ('pending', 'in_progress', 'completed', 'failed', 'cancelled')),
	priority    TEXT NOT NULL DEFAULT 'medium'
		CHECK (priority IN ('low', 'medium', 'high', 'critical')),
	consumer_id TEXT CHECK (consumer_id IS NULL OR length(consumer_id) <= 100),
	channel_id  TEXT CHECK (channel_id IS NULL OR channel_id GLOB '[0-9]*'),
	metadata    TEXT NOT NULL DEFAULT '{}',
	created_at  TIMESTAMP NOT NULL,
	updated_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_priority ON tasks(priority);
CREATE INDEX IF NOT EXISTS idx_tasks_consumer_id ON tasks(consumer_id) WHERE consumer_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_tasks_channel_id ON tasks(channel_id) WHERE channel_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks(created_at);
CREATE INDEX IF NOT EXISTS idx_tasks_status_priority ON tasks(status, priority);
`

// SQLiteTaskStore implements the store.TaskStore interface using an
// embedded SQLite database as the storage backend.
type SQLiteTaskStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewSQLiteTaskStore opens (or creates) a SQLite database at dbPath, enables
// WAL mode, and applies the schema. Use ":memory:" for an ephemeral store.
// If logger is nil, the default logger is used.
func NewSQLiteTaskStore(dbPath string, logger *slog.Logger) (*SQLiteTaskStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	if dbPath == ":memory:" {
		// The in-memory database vanishes when its connection closes, so the
		// pool must not hand out a second one.
		db.SetMaxOpenConns(1)
	} else {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &SQLiteTaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "sqlite_task_store")),
	}, nil
}

// Ensure SQLiteTaskStore implements store.TaskStore interface
var _ store.TaskStore = (*SQLiteTaskStore)(nil)

// Close closes the underlying database connection.
func (s *SQLiteTaskStore) Close() error {
	return s.db.Close()
}

// Create implements store.TaskStore.Create
func (s *SQLiteTaskStore) Create(ctx context.Context, task *domain.Task) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := task.Validate(); err != nil {
		log.Warn("task validation failed during create",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return err
	}

	metadata, err := json.Marshal(task.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, title, description, status, priority,
			consumer_id, channel_id, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID.String(),
		task.Title,
		task.Description,
		string(task.Status),
		string(task.Priority),
		nullString(task.ConsumerID),
		nullString(task.ChannelID),
		string(metadata),
		task.CreatedAt.UTC(),
		task.UpdatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %v", store.ErrDuplicate, err)
		}
		log.Error("failed to create task",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return fmt.Errorf("%w: %v", store.ErrStorage, err)
	}

	log.Debug("task created", slog.String("task_id", task.ID.String()))
	return nil
}

// GetByID implements store.TaskStore.GetByID
func (s *SQLiteTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	row := s.db.QueryRowxContext(ctx, `
		SELECT id, title, description, status, priority,
			consumer_id, channel_id, metadata, created_at, updated_at
		FROM tasks WHERE id = ?`, id.String())

	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotFound
		}
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}

	return task, nil
}

// Update implements store.TaskStore.Update
// The read-merge-write runs in one transaction so concurrent updates to the
// same task serialize instead of clobbering each other.
func (s *SQLiteTaskStore) Update(
	ctx context.Context,
	id uuid.UUID,
	update domain.TaskUpdate,
) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %v", store.ErrStorage, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	row := tx.QueryRowxContext(ctx, `
		SELECT id, title, description, status, priority,
			consumer_id, channel_id, metadata, created_at, updated_at
		FROM tasks WHERE id = ?`, id.String())

	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotFound
		}
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}

	if err := task.Apply(update); err != nil {
		return nil, err
	}

	metadata, err := json.Marshal(task.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE tasks
		SET title = ?, description = ?, status = ?, priority = ?,
			consumer_id = ?, channel_id = ?, metadata = ?, updated_at = ?
		WHERE id = ?`,
		task.Title,
		task.Description,
		string(task.Status),
		string(task.Priority),
		nullString(task.ConsumerID),
		nullString(task.ChannelID),
		string(metadata),
		task.UpdatedAt.UTC(),
		task.ID.String(),
	)
	if err != nil {
		log.Error("failed to update task",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit: %v", store.ErrStorage, err)
	}

	return task, nil
}

// Delete implements store.TaskStore.Delete
func (s *SQLiteTaskStore) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrStorage, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %v", store.ErrStorage, err)
	}
	if affected == 0 {
		return store.ErrTaskNotFound
	}

	return nil
}

// List implements store.TaskStore.List
func (s *SQLiteTaskStore) List(
	ctx context.Context,
	filter store.TaskFilter,
) ([]*domain.Task, error) {
	var conditions []string
	var args []any

	if filter.Status != nil {
		conditions = append(conditions, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.ConsumerID != nil {
		conditions = append(conditions, "consumer_id = ?")
		args = append(args, *filter.ConsumerID)
	}
	if filter.ChannelID != nil {
		conditions = append(conditions, "channel_id = ?")
		args = append(args, *filter.ChannelID)
	}

	query := `SELECT id, title, description, status, priority,
		consumer_id, channel_id, metadata, created_at, updated_at FROM tasks`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	tasks := []*domain.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}

	return tasks, nil
}

// Statistics implements store.TaskStore.Statistics
func (s *SQLiteTaskStore) Statistics(ctx context.Context) (*store.TaskStatistics, error) {
	stats := &store.TaskStatistics{
		ByStatus:   make(map[domain.TaskStatus]int),
		ByPriority: make(map[domain.TaskPriority]int),
		ByConsumer: make(map[string]int),
		ByChannel:  make(map[string]int),
	}

	type grouped struct {
		query   string
		collect func(key string, count int)
	}

	groups := []grouped{
		{`SELECT status, COUNT(*) FROM tasks GROUP BY status`, func(key string, count int) {
			stats.ByStatus[domain.TaskStatus(key)] = count
			stats.Total += count
		}},
		{`SELECT priority, COUNT(*) FROM tasks GROUP BY priority`, func(key string, count int) {
			stats.ByPriority[domain.TaskPriority(key)] = count
		}},
		{`SELECT consumer_id, COUNT(*) FROM tasks WHERE consumer_id IS NOT NULL GROUP BY consumer_id`,
			func(key string, count int) {
				stats.ByConsumer[key] = count
			}},
		{`SELECT channel_id, COUNT(*) FROM tasks WHERE channel_id IS NOT NULL GROUP BY channel_id`,
			func(key string, count int) {
				stats.ByChannel[key] = count
			}},
	}

	for _, g := range groups {
		rows, err := s.db.QueryxContext(ctx, g.query)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
		}
		for rows.Next() {
			var key string
			var count int
			if err := rows.Scan(&key, &count); err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
			}
			g.collect(key, count)
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
		}
		_ = rows.Close()
	}

	return stats, nil
}

// HealthCheck implements store.TaskStore.HealthCheck
func (s *SQLiteTaskStore) HealthCheck(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowxContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	return nil
}

// rowScanner is satisfied by both *sqlx.Row and *sqlx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanTask reads one task record in column order.
func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		task       domain.Task
		idStr      string
		status     string
		priority   string
		consumerID sql.NullString
		channelID  sql.NullString
		metadata   string
		createdAt  time.Time
		updatedAt  time.Time
	)

	err := row.Scan(
		&idStr,
		&task.Title,
		&task.Description,
		&status,
		&priority,
		&consumerID,
		&channelID,
		&metadata,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parsing task id %q: %w", idStr, err)
	}

	task.ID = id
	task.Status = domain.TaskStatus(status)
	task.Priority = domain.TaskPriority(priority)
	task.ConsumerID = consumerID.String
	task.ChannelID = channelID.String
	task.CreatedAt = createdAt.UTC()
	task.UpdatedAt = updatedAt.UTC()

	if metadata != "" && metadata != "null" {
		if err := json.Unmarshal([]byte(metadata), &task.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling metadata: %w", err)
		}
	}

	return &task, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
