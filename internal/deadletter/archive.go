package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/phrazzld/taskdispatch/internal/domain"
)

var deadLetterBucket = []byte("dead_letters")

// Record is one dead-lettered task reference. The task body stays in the
// durable store; the record holds what is needed to understand the failure
// without it.
type Record struct {
	TaskID     uuid.UUID           `json:"task_id"`
	Scope      string              `json:"scope"`
	Priority   domain.TaskPriority `json:"priority"`
	Reason     string              `json:"reason"`
	RetryCount int                 `json:"retry_count"`
	FailedAt   time.Time           `json:"failed_at"`
}

// Archive stores dead-letter records in a bbolt file.
type Archive struct {
	db     *bolt.DB
	logger *slog.Logger
}

// NewArchive opens (or creates) the archive file at path.
// If logger is nil, the default logger is used.
func NewArchive(path string, logger *slog.Logger) (*Archive, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening dead-letter archive: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(deadLetterBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating dead-letter bucket: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Archive{
		db:     db,
		logger: logger.With(slog.String("component", "dead_letter_archive")),
	}, nil
}

// recordKey orders records chronologically in the bucket. The task id
// suffix keeps keys unique when two failures land in the same nanosecond.
func recordKey(rec Record) []byte {
	return []byte(fmt.Sprintf("%020d:%s", rec.FailedAt.UnixNano(), rec.TaskID))
}

// Append writes one record.
func (a *Archive) Append(_ context.Context, rec Record) error {
	if rec.FailedAt.IsZero() {
		rec.FailedAt = time.Now().UTC()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding dead-letter record: %w", err)
	}

	err = a.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(deadLetterBucket).Put(recordKey(rec), data)
	})
	if err != nil {
		return fmt.Errorf("writing dead-letter record: %w", err)
	}

	a.logger.Info("task dead-lettered",
		slog.String("task_id", rec.TaskID.String()),
		slog.String("scope", rec.Scope),
		slog.Int("retry_count", rec.RetryCount))
	return nil
}

// List returns up to limit records, most recent failures first.
// A non-positive limit returns everything.
func (a *Archive) List(_ context.Context, limit int) ([]Record, error) {
	var records []Record

	err := a.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(deadLetterBucket).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				a.logger.Warn("skipping undecodable dead-letter record",
					slog.String("key", string(k)))
				continue
			}
			records = append(records, rec)
			if limit > 0 && len(records) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading dead-letter records: %w", err)
	}

	return records, nil
}

// Count returns the number of archived records.
func (a *Archive) Count(_ context.Context) (int, error) {
	var n int
	err := a.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(deadLetterBucket).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("counting dead-letter records: %w", err)
	}
	return n, nil
}

// Close closes the archive file.
func (a *Archive) Close() error {
	return a.db.Close()
}
