package eventlog

import (
	"context"
	"errors"
)

// Cursor values for ReadGroupArgs.From and CreateGroup start.
const (
	// FromNew reads entries never delivered to the group.
	FromNew = ">"

	// FromPending replays the group's pending entries from the beginning.
	FromPending = "0"

	// StartLatest creates a group that only sees entries appended after it.
	StartLatest = "$"
)

var (
	ErrNoGroup   = errors.New("eventlog: no such consumer group")
	ErrInvalidID = errors.New("eventlog: invalid entry id")
	ErrNoStream  = errors.New("eventlog: stream name is required")
)

// Entry is one log record.
type Entry struct {
	ID     string
	Fields map[string]string
}

// ReadGroupArgs selects entries for a consumer of a group.
type ReadGroupArgs struct {
	Stream   string
	Group    string
	Consumer string

	// From is FromNew for new entries, or an entry ID (FromPending for
	// the start) to replay pending entries after it.
	From  string
	Count int

	// NoAck skips the pending list: entries count as acknowledged on read.
	NoAck bool
}

// Log is the durable log capability the event bridge depends on.
type Log interface {
	Append(ctx context.Context, stream string, fields map[string]string) (string, error)
	ReadGroup(ctx context.Context, args ReadGroupArgs) ([]Entry, error)
	Ack(ctx context.Context, stream, group, id string) (bool, error)

	// CreateGroup creates the group if it doesn't exist. start is
	// FromPending (deliver the whole stream) or StartLatest.
	CreateGroup(ctx context.Context, stream, group, start string) error

	DeleteConsumer(ctx context.Context, stream, group, consumer string) error
}
