package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	defaultSubjectPrefix = "accessd"
	defaultAckWait       = 30 * time.Second
	defaultFetchWait     = 500 * time.Millisecond
)

// JetStreamOptions configures a JetStreamLog.
type JetStreamOptions struct {
	// SubjectPrefix roots the subject of every stream ("accessd" → accessd.whitelist_events).
	SubjectPrefix string

	// AckWait is how long JetStream waits for an ack before redelivering.
	AckWait time.Duration

	// FetchWait bounds a single ReadGroup call with From ">".
	FetchWait time.Duration
}

// JetStreamLog implements Log over NATS JetStream.
//
// Each log stream maps to a JetStream stream, each group to a durable
// pull consumer with explicit acks. JetStream tracks pending messages
// itself and redelivers them after AckWait, so a replay read (From other
// than FromNew) returns nothing: unacknowledged entries come back through
// ordinary reads.
type JetStreamLog struct {
	js   jetstream.JetStream
	opts JetStreamOptions

	mu       sync.Mutex
	streams  map[string]bool
	inflight map[string]inflightMsg
}

type inflightMsg struct {
	msg      jetstream.Msg
	consumer string
}

// DialJetStream connects to NATS and opens a JetStream context.
// The caller owns the returned connection.
func DialJetStream(url, clientName string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url, nats.Name(clientName), nats.MaxReconnects(-1))
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("opening jetstream: %w", err)
	}
	return nc, js, nil
}

// NewJetStreamLog returns a Log backed by js.
func NewJetStreamLog(js jetstream.JetStream, opts JetStreamOptions) *JetStreamLog {
	if opts.SubjectPrefix == "" {
		opts.SubjectPrefix = defaultSubjectPrefix
	}
	if opts.AckWait <= 0 {
		opts.AckWait = defaultAckWait
	}
	if opts.FetchWait <= 0 {
		opts.FetchWait = defaultFetchWait
	}
	return &JetStreamLog{
		js:       js,
		opts:     opts,
		streams:  make(map[string]bool),
		inflight: make(map[string]inflightMsg),
	}
}

// streamName converts a log stream name into a valid JetStream name.
func streamName(stream string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ':', '/', '\\', ' ', '\t':
			return '_'
		}
		return r
	}, stream)
}

func (l *JetStreamLog) subject(stream string) string {
	return l.opts.SubjectPrefix + "." + streamName(stream)
}

func inflightKey(stream, group, id string) string {
	return stream + "\x00" + group + "\x00" + id
}

func (l *JetStreamLog) ensureStream(ctx context.Context, stream string) error {
	if stream == "" {
		return ErrNoStream
	}

	l.mu.Lock()
	ready := l.streams[stream]
	l.mu.Unlock()
	if ready {
		return nil
	}

	_, err := l.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName(stream),
		Subjects: []string{l.subject(stream)},
	})
	if err != nil {
		return fmt.Errorf("ensuring stream %s: %w", stream, err)
	}

	l.mu.Lock()
	l.streams[stream] = true
	l.mu.Unlock()
	return nil
}

// Append publishes fields and returns the stream sequence as the entry ID.
func (l *JetStreamLog) Append(ctx context.Context, stream string, fields map[string]string) (string, error) {
	if err := l.ensureStream(ctx, stream); err != nil {
		return "", err
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encoding entry: %w", err)
	}
	ack, err := l.js.Publish(ctx, l.subject(stream), data)
	if err != nil {
		return "", fmt.Errorf("publishing to %s: %w", stream, err)
	}
	return strconv.FormatUint(ack.Sequence, 10), nil
}

// CreateGroup creates or updates the durable consumer for group.
func (l *JetStreamLog) CreateGroup(ctx context.Context, stream, group, start string) error {
	if err := l.ensureStream(ctx, stream); err != nil {
		return err
	}

	deliver := jetstream.DeliverAllPolicy
	if start == StartLatest {
		deliver = jetstream.DeliverNewPolicy
	}

	_, err := l.js.CreateOrUpdateConsumer(ctx, streamName(stream), jetstream.ConsumerConfig{
		Durable:       streamName(group),
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       l.opts.AckWait,
		DeliverPolicy: deliver,
		FilterSubject: l.subject(stream),
	})
	if err != nil {
		return fmt.Errorf("creating consumer group %s: %w", group, err)
	}
	return nil
}

// ReadGroup fetches up to args.Count messages for the group.
func (l *JetStreamLog) ReadGroup(ctx context.Context, args ReadGroupArgs) ([]Entry, error) {
	if args.From != FromNew {
		return nil, nil
	}
	if args.Count <= 0 {
		args.Count = 1
	}

	consumer, err := l.js.Consumer(ctx, streamName(args.Stream), streamName(args.Group))
	if errors.Is(err, jetstream.ErrConsumerNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNoGroup, args.Stream, args.Group)
	}
	if err != nil {
		return nil, fmt.Errorf("looking up consumer: %w", err)
	}

	wait := l.opts.FetchWait
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
	}
	if wait <= 0 {
		return nil, ctx.Err()
	}

	batch, err := consumer.Fetch(args.Count, jetstream.FetchMaxWait(wait))
	if err != nil {
		return nil, fmt.Errorf("fetching from %s: %w", args.Stream, err)
	}

	var entries []Entry
	for msg := range batch.Messages() {
		md, err := msg.Metadata()
		if err != nil {
			_ = msg.Term() //nolint:errcheck // Message without metadata can never be acked
			continue
		}
		id := strconv.FormatUint(md.Sequence.Stream, 10)

		fields := make(map[string]string)
		if err := json.Unmarshal(msg.Data(), &fields); err != nil {
			fields = map[string]string{"raw": string(msg.Data())}
		}
		entries = append(entries, Entry{ID: id, Fields: fields})

		if args.NoAck {
			_ = msg.Ack() //nolint:errcheck // At-most-once read
			continue
		}
		l.mu.Lock()
		l.inflight[inflightKey(args.Stream, args.Group, id)] = inflightMsg{msg: msg, consumer: args.Consumer}
		l.mu.Unlock()
	}

	if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) && !errors.Is(err, context.DeadlineExceeded) {
		return entries, fmt.Errorf("fetching from %s: %w", args.Stream, err)
	}
	return entries, nil
}

// Ack acknowledges a message previously returned by ReadGroup.
func (l *JetStreamLog) Ack(ctx context.Context, stream, group, id string) (bool, error) {
	key := inflightKey(stream, group, id)

	l.mu.Lock()
	in, ok := l.inflight[key]
	delete(l.inflight, key)
	l.mu.Unlock()

	if !ok {
		return false, nil
	}
	if err := in.msg.DoubleAck(ctx); err != nil {
		return false, fmt.Errorf("acking %s: %w", id, err)
	}
	return true, nil
}

// DeleteConsumer naks the consumer's unacked messages so JetStream
// redelivers them to the group without waiting for AckWait.
func (l *JetStreamLog) DeleteConsumer(_ context.Context, stream, group, consumer string) error {
	prefix := stream + "\x00" + group + "\x00"

	l.mu.Lock()
	var orphaned []jetstream.Msg
	for key, in := range l.inflight {
		if in.consumer == consumer && strings.HasPrefix(key, prefix) {
			orphaned = append(orphaned, in.msg)
			delete(l.inflight, key)
		}
	}
	l.mu.Unlock()

	var errs []error
	for _, msg := range orphaned {
		if err := msg.Nak(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
