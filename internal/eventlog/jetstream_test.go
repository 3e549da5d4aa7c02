package eventlog

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

func runJetStreamServer(t *testing.T) *server.Server {
	t.Helper()

	srv, err := server.NewServer(&server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
	})
	if err != nil {
		t.Fatalf("server.NewServer() error = %v", err)
	}
	go srv.Start()
	t.Cleanup(srv.Shutdown)

	if !srv.ReadyForConnections(10 * time.Second) {
		t.Fatal("embedded NATS server not ready for connections")
	}
	deadline := time.Now().Add(5 * time.Second)
	for !srv.JetStreamEnabled() {
		if time.Now().After(deadline) {
			t.Fatal("embedded NATS server not ready for JetStream")
		}
		time.Sleep(50 * time.Millisecond)
	}
	return srv
}

func newJetStreamTestLog(t *testing.T) *JetStreamLog {
	t.Helper()
	srv := runJetStreamServer(t)

	nc, js, err := DialJetStream(srv.ClientURL(), "accessd-test")
	if err != nil {
		t.Fatalf("DialJetStream() error = %v", err)
	}
	t.Cleanup(nc.Close)

	l := NewJetStreamLog(js, JetStreamOptions{FetchWait: 200 * time.Millisecond})
	if err := l.CreateGroup(context.Background(), testStream, "g", FromPending); err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}
	return l
}

func jsAppend(t *testing.T, l *JetStreamLog, values ...string) []string {
	t.Helper()
	var ids []string
	for _, v := range values {
		id, err := l.Append(context.Background(), testStream, map[string]string{"n": v})
		if err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		ids = append(ids, id)
	}
	return ids
}

func jsRead(t *testing.T, l *JetStreamLog, args ReadGroupArgs) []Entry {
	t.Helper()
	args.Stream, args.Group = testStream, "g"
	if args.From == "" {
		args.From = FromNew
	}
	if args.Count == 0 {
		args.Count = 10
	}
	entries, err := l.ReadGroup(context.Background(), args)
	if err != nil {
		t.Fatalf("ReadGroup(%+v) error = %v", args, err)
	}
	return entries
}

func entryIDs(entries []Entry) []string {
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	slices.Sort(ids)
	return ids
}

func TestJetStreamLog_AppendReadAck(t *testing.T) {
	l := newJetStreamTestLog(t)
	ctx := context.Background()

	ids := jsAppend(t, l, "a", "b", "c")
	if !slices.Equal(ids, []string{"1", "2", "3"}) {
		t.Fatalf("Append() ids = %v, want stream sequences 1..3", ids)
	}

	got := jsRead(t, l, ReadGroupArgs{Consumer: "c1"})
	if len(got) != 3 {
		t.Fatalf("ReadGroup() = %d entries, want 3", len(got))
	}
	for i, e := range got {
		if e.ID != ids[i] || e.Fields["n"] != []string{"a", "b", "c"}[i] {
			t.Errorf("entry %d = %+v", i, e)
		}
	}

	tests := []struct {
		name string
		id   string
		want bool
	}{
		{"first ack", "1", true},
		{"double ack", "1", false},
		{"second entry", "2", true},
		{"never delivered", "99", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := l.Ack(ctx, testStream, "g", tt.id)
			if err != nil {
				t.Fatalf("Ack(%s) error = %v", tt.id, err)
			}
			if ok != tt.want {
				t.Errorf("Ack(%s) = %v, want %v", tt.id, ok, tt.want)
			}
		})
	}

	if more := jsRead(t, l, ReadGroupArgs{Consumer: "c1"}); len(more) != 0 {
		t.Errorf("second read returned %d entries before AckWait, want 0", len(more))
	}
}

func TestJetStreamLog_RedeliversAfterDeleteConsumer(t *testing.T) {
	l := newJetStreamTestLog(t)
	ctx := context.Background()
	ids := jsAppend(t, l, "a", "b")

	if got := jsRead(t, l, ReadGroupArgs{Consumer: "crashed"}); len(got) != 2 {
		t.Fatalf("crashed consumer read %d entries, want 2", len(got))
	}
	if err := l.DeleteConsumer(ctx, testStream, "g", "crashed"); err != nil {
		t.Fatalf("DeleteConsumer() error = %v", err)
	}

	got := jsRead(t, l, ReadGroupArgs{Consumer: "fresh"})
	if !slices.Equal(entryIDs(got), ids) {
		t.Fatalf("fresh consumer got %v, want redelivery of %v", entryIDs(got), ids)
	}
	for _, id := range ids {
		if ok, err := l.Ack(ctx, testStream, "g", id); err != nil || !ok {
			t.Errorf("Ack(%s) = %v, %v after redelivery", id, ok, err)
		}
	}
}

func TestJetStreamLog_NoAckRead(t *testing.T) {
	l := newJetStreamTestLog(t)
	ids := jsAppend(t, l, "a")

	got := jsRead(t, l, ReadGroupArgs{Consumer: "c1", NoAck: true})
	if len(got) != 1 || got[0].ID != ids[0] {
		t.Fatalf("ReadGroup(NoAck) = %+v", got)
	}
	if ok, _ := l.Ack(context.Background(), testStream, "g", ids[0]); ok {
		t.Error("Ack after a NoAck read succeeded")
	}
}

func TestJetStreamLog_Errors(t *testing.T) {
	l := newJetStreamTestLog(t)
	ctx := context.Background()

	t.Run("append without stream", func(t *testing.T) {
		if _, err := l.Append(ctx, "", map[string]string{"n": "a"}); !errors.Is(err, ErrNoStream) {
			t.Errorf("Append() error = %v, want ErrNoStream", err)
		}
	})

	t.Run("unknown group", func(t *testing.T) {
		_, err := l.ReadGroup(ctx, ReadGroupArgs{Stream: testStream, Group: "missing", Consumer: "c1", From: FromNew, Count: 1})
		if !errors.Is(err, ErrNoGroup) {
			t.Errorf("ReadGroup() error = %v, want ErrNoGroup", err)
		}
	})

	t.Run("pending replay is empty", func(t *testing.T) {
		jsAppend(t, l, "a")
		if got := jsRead(t, l, ReadGroupArgs{Consumer: "c1", From: FromPending}); len(got) != 0 {
			t.Errorf("replay read = %+v, want none", got)
		}
	})
}
