package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/infrastructure/database"
)

// SQLiteLog stores streams, groups and pending lists in SQLite.
//
// Thread Safety:
//   - Safe for concurrent use. Each operation runs in its own transaction.
type SQLiteLog struct {
	db     *database.DB
	maxLen int
	idle   time.Duration
	now    func() time.Time
}

// SQLiteOption configures a SQLiteLog.
type SQLiteOption func(*SQLiteLog)

// WithMaxLen caps each stream at roughly n entries. Entries that are still
// pending, or not yet delivered to every group, are never trimmed.
func WithMaxLen(n int) SQLiteOption {
	return func(l *SQLiteLog) { l.maxLen = n }
}

// WithConsumerIdle expires consumers that have not read for d. Pending
// entries of an expired consumer are replayed to the next consumer of the
// group that reads from FromPending. Zero keeps consumers until
// DeleteConsumer.
func WithConsumerIdle(d time.Duration) SQLiteOption {
	return func(l *SQLiteLog) { l.idle = d }
}

// NewSQLiteLog returns a log over db. The event_log migration must be applied.
func NewSQLiteLog(db *database.DB, opts ...SQLiteOption) *SQLiteLog {
	l := &SQLiteLog{db: db, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// timeFormat is fixed width so stored timestamps compare as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func (l *SQLiteLog) timestamp() string {
	return l.now().UTC().Format(timeFormat)
}

// Append adds fields to stream and returns the new entry ID.
func (l *SQLiteLog) Append(ctx context.Context, stream string, fields map[string]string) (string, error) {
	if stream == "" {
		return "", ErrNoStream
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encoding entry: %w", err)
	}

	res, err := l.db.ExecContext(ctx,
		"INSERT INTO log_entries (stream, fields, created_at) VALUES (?, ?, ?)",
		stream, string(data), l.timestamp(),
	)
	if err != nil {
		return "", fmt.Errorf("appending to %s: %w", stream, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("reading entry id: %w", err)
	}

	if l.maxLen > 0 {
		if err := l.trim(ctx, stream, id); err != nil {
			return "", err
		}
	}
	return strconv.FormatInt(id, 10), nil
}

func (l *SQLiteLog) trim(ctx context.Context, stream string, newest int64) error {
	cutoff := newest - int64(l.maxLen)
	if cutoff <= 0 {
		return nil
	}
	_, err := l.db.ExecContext(ctx, `
		DELETE FROM log_entries
		WHERE stream = ?
		  AND id <= ?
		  AND id <= COALESCE((SELECT MIN(last_delivered) FROM log_groups WHERE stream = ?), ?)
		  AND id NOT IN (SELECT entry_id FROM log_pending WHERE stream = ?)`,
		stream, cutoff, stream, cutoff, stream,
	)
	if err != nil {
		return fmt.Errorf("trimming %s: %w", stream, err)
	}
	return nil
}

// CreateGroup creates group on stream unless it already exists.
func (l *SQLiteLog) CreateGroup(ctx context.Context, stream, group, start string) error {
	if stream == "" {
		return ErrNoStream
	}

	return l.db.InTx(ctx, func(tx *sql.Tx) error {
		var lastDelivered int64
		switch start {
		case StartLatest:
			err := tx.QueryRowContext(ctx,
				"SELECT COALESCE(MAX(id), 0) FROM log_entries WHERE stream = ?", stream,
			).Scan(&lastDelivered)
			if err != nil {
				return fmt.Errorf("reading stream head: %w", err)
			}
		case "", FromPending:
		default:
			id, err := parseID(start)
			if err != nil {
				return err
			}
			lastDelivered = id
		}

		_, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO log_groups (stream, name, last_delivered, created_at) VALUES (?, ?, ?, ?)",
			stream, group, lastDelivered, l.timestamp(),
		)
		if err != nil {
			return fmt.Errorf("creating group %s: %w", group, err)
		}
		return nil
	})
}

// ReadGroup returns up to args.Count entries for args.Consumer.
func (l *SQLiteLog) ReadGroup(ctx context.Context, args ReadGroupArgs) ([]Entry, error) {
	if args.Stream == "" {
		return nil, ErrNoStream
	}
	if args.Count <= 0 {
		args.Count = 1
	}

	var entries []Entry
	err := l.db.InTx(ctx, func(tx *sql.Tx) error {
		var lastDelivered int64
		err := tx.QueryRowContext(ctx,
			"SELECT last_delivered FROM log_groups WHERE stream = ? AND name = ?",
			args.Stream, args.Group,
		).Scan(&lastDelivered)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s/%s", ErrNoGroup, args.Stream, args.Group)
		}
		if err != nil {
			return fmt.Errorf("reading group: %w", err)
		}

		if l.idle > 0 {
			if err := l.expireConsumers(ctx, tx, args.Stream, args.Group); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO log_consumers (stream, grp, consumer, seen_at) VALUES (?, ?, ?, ?)",
			args.Stream, args.Group, args.Consumer, l.timestamp(),
		); err != nil {
			return fmt.Errorf("registering consumer: %w", err)
		}

		if args.From == FromNew {
			entries, err = l.readNew(ctx, tx, args, lastDelivered)
		} else {
			entries, err = l.readPending(ctx, tx, args)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// expireConsumers forgets consumers of group that have been silent longer
// than the idle window, leaving their pending entries to be claimed.
func (l *SQLiteLog) expireConsumers(ctx context.Context, tx *sql.Tx, stream, group string) error {
	cutoff := l.now().Add(-l.idle).UTC().Format(timeFormat)
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM log_consumers WHERE stream = ? AND grp = ? AND seen_at < ?",
		stream, group, cutoff,
	); err != nil {
		return fmt.Errorf("expiring idle consumers: %w", err)
	}
	return nil
}

func (l *SQLiteLog) readNew(ctx context.Context, tx *sql.Tx, args ReadGroupArgs, lastDelivered int64) ([]Entry, error) {
	rows, err := tx.QueryContext(ctx,
		"SELECT id, fields FROM log_entries WHERE stream = ? AND id > ? ORDER BY id LIMIT ?",
		args.Stream, lastDelivered, args.Count,
	)
	if err != nil {
		return nil, fmt.Errorf("reading new entries: %w", err)
	}
	ids, entries, err := scanEntries(rows)
	if err != nil || len(ids) == 0 {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE log_groups SET last_delivered = ? WHERE stream = ? AND name = ?",
		ids[len(ids)-1], args.Stream, args.Group,
	); err != nil {
		return nil, fmt.Errorf("advancing group cursor: %w", err)
	}

	if !args.NoAck {
		now := l.timestamp()
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO log_pending (stream, grp, entry_id, consumer, delivery_count, delivered_at) VALUES (?, ?, ?, ?, 1, ?)",
				args.Stream, args.Group, id, args.Consumer, now,
			); err != nil {
				return nil, fmt.Errorf("recording pending entry: %w", err)
			}
		}
	}
	return entries, nil
}

// readPending replays pending entries owned by this consumer or by
// consumers that were deleted or expired, claiming them for this consumer.
func (l *SQLiteLog) readPending(ctx context.Context, tx *sql.Tx, args ReadGroupArgs) ([]Entry, error) {
	after, err := parseID(args.From)
	if err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT e.id, e.fields
		FROM log_pending p
		JOIN log_entries e ON e.id = p.entry_id
		WHERE p.stream = ? AND p.grp = ? AND p.entry_id > ?
		  AND (p.consumer = ? OR p.consumer NOT IN (
		        SELECT consumer FROM log_consumers WHERE stream = ? AND grp = ?))
		ORDER BY p.entry_id
		LIMIT ?`,
		args.Stream, args.Group, after, args.Consumer, args.Stream, args.Group, args.Count,
	)
	if err != nil {
		return nil, fmt.Errorf("reading pending entries: %w", err)
	}
	ids, entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}

	now := l.timestamp()
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `
			UPDATE log_pending
			SET consumer = ?, delivery_count = delivery_count + 1, delivered_at = ?
			WHERE stream = ? AND grp = ? AND entry_id = ?`,
			args.Consumer, now, args.Stream, args.Group, id,
		); err != nil {
			return nil, fmt.Errorf("claiming pending entry: %w", err)
		}
	}
	return entries, nil
}

func scanEntries(rows *sql.Rows) ([]int64, []Entry, error) {
	defer rows.Close()

	var ids []int64
	var entries []Entry
	for rows.Next() {
		var id int64
		var raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, nil, fmt.Errorf("scanning entry: %w", err)
		}
		fields := make(map[string]string)
		if err := json.Unmarshal([]byte(raw), &fields); err != nil {
			// Surface the raw record; the reader decides what to do with it.
			fields = map[string]string{"raw": raw}
		}
		ids = append(ids, id)
		entries = append(entries, Entry{ID: strconv.FormatInt(id, 10), Fields: fields})
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterating entries: %w", err)
	}
	return ids, entries, nil
}

// Ack removes id from the group's pending list. It reports whether the
// entry was pending.
func (l *SQLiteLog) Ack(ctx context.Context, stream, group, id string) (bool, error) {
	entryID, err := parseID(id)
	if err != nil {
		return false, err
	}
	res, err := l.db.ExecContext(ctx,
		"DELETE FROM log_pending WHERE stream = ? AND grp = ? AND entry_id = ?",
		stream, group, entryID,
	)
	if err != nil {
		return false, fmt.Errorf("acking %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acking %s: %w", id, err)
	}
	return n == 1, nil
}

// DeleteConsumer forgets consumer. Its pending entries remain in the group.
func (l *SQLiteLog) DeleteConsumer(ctx context.Context, stream, group, consumer string) error {
	_, err := l.db.ExecContext(ctx,
		"DELETE FROM log_consumers WHERE stream = ? AND grp = ? AND consumer = ?",
		stream, group, consumer,
	)
	if err != nil {
		return fmt.Errorf("deleting consumer %s: %w", consumer, err)
	}
	return nil
}

// Pending returns the number of unacknowledged entries in group.
func (l *SQLiteLog) Pending(ctx context.Context, stream, group string) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM log_pending WHERE stream = ? AND grp = ?", stream, group,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting pending: %w", err)
	}
	return n, nil
}

// Len returns the number of entries retained in stream.
func (l *SQLiteLog) Len(ctx context.Context, stream string) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM log_entries WHERE stream = ?", stream).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting entries: %w", err)
	}
	return n, nil
}

// parseID accepts plain integers and "<n>-<seq>" style IDs.
func parseID(id string) (int64, error) {
	head, _, _ := strings.Cut(id, "-")
	n, err := strconv.ParseInt(head, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return n, nil
}
