package retry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/infrastructure/database"
)

// Store persists dead-letter lists and per-command retry counters.
type Store interface {
	// Push appends rec to the tail of list key.
	Push(ctx context.Context, key string, rec Record) error

	// Pop removes and returns the head of list key, or ErrEmpty.
	Pop(ctx context.Context, key string) (*Record, error)

	// List returns up to limit items from the head of list key without removing them.
	List(ctx context.Context, key string, limit int) ([]Item, error)

	Len(ctx context.Context, key string) (int, error)

	// IncrRetry increments the counter of commandID and returns the new value.
	IncrRetry(ctx context.Context, commandID string) (int, error)

	// RetryCount returns the counter of commandID, 0 if never incremented.
	RetryCount(ctx context.Context, commandID string) (int, error)

	ClearRetry(ctx context.Context, commandID string) error
}

// SQLiteStore implements Store over the dead_letters and retry_counters tables.
type SQLiteStore struct {
	db  *database.DB
	now func() time.Time
}

// NewSQLiteStore creates a store on an open, migrated database.
func NewSQLiteStore(db *database.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

func (s *SQLiteStore) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

// Push appends rec to the tail of list key.
func (s *SQLiteStore) Push(ctx context.Context, key string, rec Record) error {
	if rec.Command.ID == "" {
		return fmt.Errorf("%w: command id is required", ErrInvalidRecord)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO dead_letters (list_key, payload, created_at) VALUES (?, ?, ?)",
		key, string(data), s.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("pushing to %s: %w", key, err)
	}
	return nil
}

// Pop removes and returns the head of list key. A head that cannot be
// decoded is removed and reported as ErrInvalidRecord.
func (s *SQLiteStore) Pop(ctx context.Context, key string) (*Record, error) {
	var id int64
	var payload string
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			"SELECT id, payload FROM dead_letters WHERE list_key = ? ORDER BY id LIMIT 1", key,
		).Scan(&id, &payload)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrEmpty
		}
		if err != nil {
			return fmt.Errorf("reading head of %s: %w", key, err)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM dead_letters WHERE id = ?", id); err != nil {
			return fmt.Errorf("removing head of %s: %w", key, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("%w: entry %d: %w", ErrInvalidRecord, id, err)
	}
	return &rec, nil
}

// List returns up to limit items from the head of list key.
func (s *SQLiteStore) List(ctx context.Context, key string, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, payload, created_at FROM dead_letters WHERE list_key = ? ORDER BY id LIMIT ?", key, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", key, err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		var payload, created string
		if err := rows.Scan(&it.ID, &payload, &created); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", key, err)
		}
		if err := json.Unmarshal([]byte(payload), &it.Record); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %w", ErrInvalidRecord, it.ID, err)
		}
		it.CreatedAt, _ = time.Parse(time.RFC3339Nano, created) //nolint:errcheck // Written by Push
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s: %w", key, err)
	}
	return items, nil
}

// Len returns the number of records on list key.
func (s *SQLiteStore) Len(ctx context.Context, key string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM dead_letters WHERE list_key = ?", key).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting %s: %w", key, err)
	}
	return n, nil
}

// IncrRetry increments the counter of commandID.
func (s *SQLiteStore) IncrRetry(ctx context.Context, commandID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO retry_counters (command_id, count, updated_at) VALUES (?, 1, ?)
		ON CONFLICT(command_id) DO UPDATE SET count = count + 1, updated_at = excluded.updated_at
		RETURNING count`,
		commandID, s.timestamp(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("incrementing retry count of %s: %w", commandID, err)
	}
	return n, nil
}

// RetryCount returns the counter of commandID.
func (s *SQLiteStore) RetryCount(ctx context.Context, commandID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT count FROM retry_counters WHERE command_id = ?", commandID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading retry count of %s: %w", commandID, err)
	}
	return n, nil
}

// ClearRetry deletes the counter of commandID.
func (s *SQLiteStore) ClearRetry(ctx context.Context, commandID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM retry_counters WHERE command_id = ?", commandID); err != nil {
		return fmt.Errorf("clearing retry count of %s: %w", commandID, err)
	}
	return nil
}
