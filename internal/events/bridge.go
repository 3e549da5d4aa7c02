package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-access/internal/eventlog"
)

// Logger is the logging interface used by the Bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Publisher accepts events. Implementations never return errors to the
// caller: command and lifecycle paths must not fail because of the log.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// DeliverFunc hands one event to a subscriber. A non-nil error ends the
// subscription and leaves the event unacknowledged.
type DeliverFunc func(ctx context.Context, ev Event) error

// Options configures a Bridge.
type Options struct {
	Stream       string
	DefaultGroup string
	BatchSize    int
	PollInterval time.Duration
	ErrorBackoff time.Duration
}

func (o *Options) applyDefaults() {
	if o.Stream == "" {
		o.Stream = "whitelist:events"
	}
	if o.DefaultGroup == "" {
		o.DefaultGroup = "stream-clients"
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 10
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 100 * time.Millisecond
	}
	if o.ErrorBackoff <= 0 {
		o.ErrorBackoff = 2 * time.Second
	}
}

// Bridge publishes events to a durable log and streams them to subscribers.
type Bridge struct {
	log    eventlog.Log
	opts   Options
	logger Logger
}

// NewBridge creates a bridge over log.
func NewBridge(log eventlog.Log, opts Options) *Bridge {
	opts.applyDefaults()
	return &Bridge{log: log, opts: opts, logger: noopLogger{}}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.logger = logger
}

// Stream returns the log stream events are published to.
func (b *Bridge) Stream() string {
	return b.opts.Stream
}

// Publish appends ev to the event stream. Append errors are logged.
func (b *Bridge) Publish(ctx context.Context, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	id, err := b.log.Append(ctx, b.opts.Stream, encode(ev))
	if err != nil {
		b.logger.Error("event append failed",
			"type", ev.Type,
			"device_id", ev.DeviceID,
			"error", err,
		)
		return
	}
	b.logger.Debug("event published", "type", ev.Type, "device_id", ev.DeviceID, "id", id)
}

// Subscribe streams the events of group to deliver until ctx is done.
//
// A new consumer identity is created for the call. Entries the group has
// delivered but not acknowledged are replayed first; then new entries are
// read in batches. Each entry is acknowledged right after deliver returns
// nil. Undecodable entries are acknowledged without delivery.
//
// Parameters:
//   - ctx: Subscription lifetime
//   - group: Consumer group; empty selects the configured default
//   - deliver: Called once per event, in log order
//
// Returns:
//   - error: nil when ctx ends the subscription, ErrBackend if the group
//     cannot be created, or the deliver error
func (b *Bridge) Subscribe(ctx context.Context, group string, deliver DeliverFunc) error {
	if group == "" {
		group = b.opts.DefaultGroup
	}
	consumer := "consumer-" + uuid.NewString()

	if err := b.log.CreateGroup(ctx, b.opts.Stream, group, eventlog.FromPending); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("%w: creating group %s: %w", ErrBackend, group, err)
	}
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := b.log.DeleteConsumer(cleanupCtx, b.opts.Stream, group, consumer); err != nil {
			b.logger.Warn("removing event consumer failed", "group", group, "consumer", consumer, "error", err)
		}
	}()

	b.logger.Info("event subscriber joined", "group", group, "consumer", consumer)
	defer b.logger.Info("event subscriber left", "group", group, "consumer", consumer)

	if err := b.replayPending(ctx, group, consumer, deliver); err != nil {
		return err
	}
	return b.follow(ctx, group, consumer, deliver)
}

// replayPending delivers the group's unacknowledged entries until none are left.
func (b *Bridge) replayPending(ctx context.Context, group, consumer string, deliver DeliverFunc) error {
	from := eventlog.FromPending
	for {
		if ctx.Err() != nil {
			return nil
		}
		entries, err := b.read(ctx, group, consumer, from)
		if err != nil {
			if !sleep(ctx, b.opts.ErrorBackoff) {
				return nil
			}
			continue
		}
		if len(entries) == 0 {
			return nil
		}
		for _, e := range entries {
			if err := b.handle(ctx, group, e, deliver); err != nil {
				return done(ctx, err)
			}
			from = e.ID
		}
	}
}

// follow delivers new entries until ctx is done.
func (b *Bridge) follow(ctx context.Context, group, consumer string, deliver DeliverFunc) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		entries, err := b.read(ctx, group, consumer, eventlog.FromNew)
		if err != nil {
			if !sleep(ctx, b.opts.ErrorBackoff) {
				return nil
			}
			continue
		}
		if len(entries) == 0 {
			if !sleep(ctx, b.opts.PollInterval) {
				return nil
			}
			continue
		}
		for _, e := range entries {
			if err := b.handle(ctx, group, e, deliver); err != nil {
				return done(ctx, err)
			}
		}
	}
}

func (b *Bridge) read(ctx context.Context, group, consumer, from string) ([]eventlog.Entry, error) {
	entries, err := b.log.ReadGroup(ctx, eventlog.ReadGroupArgs{
		Stream:   b.opts.Stream,
		Group:    group,
		Consumer: consumer,
		From:     from,
		Count:    b.opts.BatchSize,
	})
	if err != nil && ctx.Err() == nil {
		b.logger.Error("event read failed", "group", group, "from", from, "error", err)
	}
	return entries, err
}

func (b *Bridge) handle(ctx context.Context, group string, e eventlog.Entry, deliver DeliverFunc) error {
	ev, err := decode(e)
	if err != nil {
		// Acknowledged so one bad entry cannot stall the group.
		b.logger.Error("undecodable event acknowledged, data loss possible", "id", e.ID, "error", err)
		b.ack(ctx, group, e.ID)
		return nil
	}

	if err := deliver(ctx, ev); err != nil {
		return fmt.Errorf("delivering event %s: %w", e.ID, err)
	}
	b.ack(ctx, group, e.ID)
	return nil
}

func (b *Bridge) ack(ctx context.Context, group, id string) {
	ok, err := b.log.Ack(context.WithoutCancel(ctx), b.opts.Stream, group, id)
	if err != nil {
		b.logger.Warn("event ack failed, entry will be replayed", "id", id, "error", err)
		return
	}
	if !ok {
		b.logger.Debug("event already acknowledged", "id", id)
	}
}

// done maps a delivery error caused by the subscription ending to nil.
func done(ctx context.Context, err error) error {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return nil
	}
	return err
}

// sleep waits for d or until ctx is done. It returns false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
