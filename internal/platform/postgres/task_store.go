package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/phrazzld/taskdispatch/internal/domain"
	"github.com/phrazzld/taskdispatch/internal/platform/logger"
	"github.com/phrazzld/taskdispatch/internal/store"
)

// taskColumns is the column list shared by every task query, in scan order.
const taskColumns = `id, title, description, status, priority, consumer_id, channel_id, metadata, created_at, updated_at`

// PostgresTaskStore implements the store.TaskStore interface
// using a PostgreSQL database as the storage backend.
type PostgresTaskStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresTaskStore creates a new PostgreSQL implementation of the TaskStore interface.
// It accepts a database connection or transaction that should be initialized and managed
// by the caller. If logger is nil, the default logger is used.
func NewPostgresTaskStore(db store.DBTX, logger *slog.Logger) *PostgresTaskStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresTaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "task_store")),
	}
}

// Ensure PostgresTaskStore implements store.TaskStore interface
var _ store.TaskStore = (*PostgresTaskStore)(nil)

// WithTx returns a copy of the store bound to the given transaction, so a
// caller can compose task writes with other statements atomically.
func (s *PostgresTaskStore) WithTx(tx *sql.Tx) *PostgresTaskStore {
	return &PostgresTaskStore{
		db:     tx,
		logger: s.logger,
	}
}

// Create implements store.TaskStore.Create
// It saves a new task to the database after validating it.
// Returns store.ErrDuplicate if the ID is already taken and a
// store.ErrStorage-wrapped error if the write fails.
func (s *PostgresTaskStore) Create(ctx context.Context, task *domain.Task) error {
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

	query := `
		INSERT INTO tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = s.db.ExecContext(
		ctx,
		query,
		task.ID,
		task.Title,
		task.Description,
		task.Status,
		task.Priority,
		nullString(task.ConsumerID),
		nullString(task.ChannelID),
		metadata,
		task.CreatedAt,
		task.UpdatedAt,
	)

	if err != nil {
		log.Error("failed to create task",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return MapError(err)
	}

	log.Debug("task created",
		slog.String("task_id", task.ID.String()),
		slog.String("priority", string(task.Priority)))
	return nil
}

// GetByID implements store.TaskStore.GetByID
// It retrieves a task by its unique ID.
// Returns store.ErrTaskNotFound if the task does not exist.
func (s *PostgresTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE id = $1
	`

	task, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if store.IsNotFoundError(MapError(err)) {
			log.Debug("task not found", slog.String("task_id", id.String()))
			return nil, store.ErrTaskNotFound
		}
		log.Error("failed to get task by ID",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return nil, MapError(err)
	}

	return task, nil
}

// Update implements store.TaskStore.Update
// It reads the current record, merges the partial update through the domain
// rules (additive metadata, state-machine checked status), and writes the
// result back, all inside a single transaction so concurrent updates cannot
// interleave between read and write.
func (s *PostgresTaskStore) Update(
	ctx context.Context,
	id uuid.UUID,
	update domain.TaskUpdate,
) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	var updated *domain.Task
	err := s.inTransaction(ctx, func(q store.DBTX) error {
		query := `
			SELECT ` + taskColumns + `
			FROM tasks
			WHERE id = $1
			FOR UPDATE
		`
		task, err := scanTask(q.QueryRowContext(ctx, query, id))
		if err != nil {
			return MapError(err)
		}

		if err := task.Apply(update); err != nil {
			return err
		}

		metadata, err := json.Marshal(task.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}

		result, err := q.ExecContext(ctx, `
			UPDATE tasks
			SET title = $1, description = $2, status = $3, priority = $4,
			    consumer_id = $5, channel_id = $6, metadata = $7, updated_at = $8
			WHERE id = $9
		`,
			task.Title,
			task.Description,
			task.Status,
			task.Priority,
			nullString(task.ConsumerID),
			nullString(task.ChannelID),
			metadata,
			task.UpdatedAt,
			task.ID,
		)
		if err != nil {
			return MapError(err)
		}
		if err := CheckRowsAffected(result); err != nil {
			return err
		}

		updated = task
		return nil
	})

	if err != nil {
		if !store.IsNotFoundError(err) && !store.IsStorageError(err) {
			log.Warn("task update rejected",
				slog.String("error", err.Error()),
				slog.String("task_id", id.String()))
		} else {
			log.Error("failed to update task",
				slog.String("error", err.Error()),
				slog.String("task_id", id.String()))
		}
		return nil, err
	}

	log.Debug("task updated",
		slog.String("task_id", id.String()),
		slog.String("status", string(updated.Status)))
	return updated, nil
}

// Delete implements store.TaskStore.Delete
// It removes a task permanently.
// Returns store.ErrTaskNotFound if the task does not exist.
func (s *PostgresTaskStore) Delete(ctx context.Context, id uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	result, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		log.Error("failed to delete task",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return MapError(err)
	}

	if err := CheckRowsAffected(result); err != nil {
		return err
	}

	log.Debug("task deleted", slog.String("task_id", id.String()))
	return nil
}

// List implements store.TaskStore.List
// It retrieves tasks matching the filter, ordered by creation time ascending.
// Returns an empty slice when nothing matches.
func (s *PostgresTaskStore) List(
	ctx context.Context,
	filter store.TaskFilter,
) ([]*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	var conditions []string
	var args []any

	if filter.Status != nil {
		args = append(args, *filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.ConsumerID != nil {
		args = append(args, *filter.ConsumerID)
		conditions = append(conditions, fmt.Sprintf("consumer_id = $%d", len(args)))
	}
	if filter.ChannelID != nil {
		args = append(args, *filter.ChannelID)
		conditions = append(conditions, fmt.Sprintf("channel_id = $%d", len(args)))
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at ASC"

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to query tasks", slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Error("failed to close rows", slog.String("error", err.Error()))
		}
	}()

	tasks := []*domain.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			log.Error("failed to scan task row", slog.String("error", err.Error()))
			return nil, MapError(err)
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}

	return tasks, nil
}

// Statistics implements store.TaskStore.Statistics
// It returns aggregate counts grouped by status, priority, consumer, and channel.
func (s *PostgresTaskStore) Statistics(ctx context.Context) (*store.TaskStatistics, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	stats := &store.TaskStatistics{
		ByStatus:   make(map[domain.TaskStatus]int),
		ByPriority: make(map[domain.TaskPriority]int),
		ByConsumer: make(map[string]int),
		ByChannel:  make(map[string]int),
	}

	err := s.countGrouped(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`,
		func(key string, count int) {
			stats.ByStatus[domain.TaskStatus(key)] = count
			stats.Total += count
		})
	if err == nil {
		err = s.countGrouped(ctx, `SELECT priority, COUNT(*) FROM tasks GROUP BY priority`,
			func(key string, count int) {
				stats.ByPriority[domain.TaskPriority(key)] = count
			})
	}
	if err == nil {
		err = s.countGrouped(ctx,
			`SELECT consumer_id, COUNT(*) FROM tasks WHERE consumer_id IS NOT NULL GROUP BY consumer_id`,
			func(key string, count int) {
				stats.ByConsumer[key] = count
			})
	}
	if err == nil {
		err = s.countGrouped(ctx,
			`SELECT channel_id, COUNT(*) FROM tasks WHERE channel_id IS NOT NULL GROUP BY channel_id`,
			func(key string, count int) {
				stats.ByChannel[key] = count
			})
	}

	if err != nil {
		log.Error("failed to compute task statistics", slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	return stats, nil
}

// HealthCheck implements store.TaskStore.HealthCheck
// It verifies the database connection is alive.
func (s *PostgresTaskStore) HealthCheck(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		return MapError(err)
	}
	return nil
}

// inTransaction runs fn inside a transaction when the store is bound to a
// *sql.DB. When the store is already transaction-bound (via WithTx), fn runs
// against that transaction directly.
func (s *PostgresTaskStore) inTransaction(
	ctx context.Context,
	fn func(q store.DBTX) error,
) error {
	if db, ok := s.db.(*sql.DB); ok {
		return store.RunInTransaction(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
			return fn(tx)
		})
	}
	return fn(s.db)
}

// countGrouped runs a two-column (key, count) aggregate query and feeds each
// row to the collect callback.
func (s *PostgresTaskStore) countGrouped(
	ctx context.Context,
	query string,
	collect func(key string, count int),
) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return err
		}
		collect(key, count)
	}
	return rows.Err()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanTask reads one task record in taskColumns order.
func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		task       domain.Task
		status     string
		priority   string
		consumerID sql.NullString
		channelID  sql.NullString
		metadata   []byte
	)

	err := row.Scan(
		&task.ID,
		&task.Title,
		&task.Description,
		&status,
		&priority,
		&consumerID,
		&channelID,
		&metadata,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Status = domain.TaskStatus(status)
	task.Priority = domain.TaskPriority(priority)
	task.ConsumerID = consumerID.String
	task.ChannelID = channelID.String

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &task.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &task, nil
}

// nullString converts an empty string to a SQL NULL so partial indexes on
// consumer_id and channel_id stay small.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
