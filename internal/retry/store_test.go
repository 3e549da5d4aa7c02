package retry

import (
	"context"
	"errors"
	"testing"

	"github.com/nerrad567/gray-logic-access/internal/dispatch"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/database/dbtest"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	return NewSQLiteStore(dbtest.Open(t))
}

func rec(id string) Record {
	return Record{Command: dispatch.Command{ID: id, DeviceID: "D1", Kind: "sync_time"}, LastError: "boom"}
}

func TestSQLiteStore_PushPopFIFO(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, id := range []string{"a", "b", "c"} {
		if err := s.Push(ctx, "q", rec(id)); err != nil {
			t.Fatalf("Push(%s) error = %v", id, err)
		}
	}
	if err := s.Push(ctx, "other", rec("x")); err != nil {
		t.Fatalf("Push(other) error = %v", err)
	}

	if n, _ := s.Len(ctx, "q"); n != 3 {
		t.Errorf("Len(q) = %d, want 3", n)
	}
	items, err := s.List(ctx, "q", 2)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(items) != 2 || items[0].Record.Command.ID != "a" || items[0].CreatedAt.IsZero() {
		t.Errorf("List() = %+v", items)
	}

	for _, want := range []string{"a", "b", "c"} {
		got, err := s.Pop(ctx, "q")
		if err != nil {
			t.Fatalf("Pop() error = %v", err)
		}
		if got.Command.ID != want || got.LastError != "boom" {
			t.Errorf("Pop() = %+v, want %s", got, want)
		}
	}
	if _, err := s.Pop(ctx, "q"); !errors.Is(err, ErrEmpty) {
		t.Errorf("Pop() on empty list error = %v, want ErrEmpty", err)
	}
	if n, _ := s.Len(ctx, "other"); n != 1 {
		t.Errorf("Len(other) = %d, want 1", n)
	}
}

func TestSQLiteStore_PushRequiresCommandID(t *testing.T) {
	s := newTestStore(t)
	if err := s.Push(context.Background(), "q", Record{}); !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("Push() error = %v, want ErrInvalidRecord", err)
	}
}

func TestSQLiteStore_PopDropsUndecodableHead(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO dead_letters (list_key, payload, created_at) VALUES ('q', 'not json', '')"); err != nil {
		t.Fatalf("insert error = %v", err)
	}
	_ = s.Push(ctx, "q", rec("good"))

	if _, err := s.Pop(ctx, "q"); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("Pop() error = %v, want ErrInvalidRecord", err)
	}
	got, err := s.Pop(ctx, "q")
	if err != nil || got.Command.ID != "good" {
		t.Errorf("Pop() after poison = %+v, %v", got, err)
	}
}

func TestSQLiteStore_Counters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if n, err := s.RetryCount(ctx, "c1"); err != nil || n != 0 {
		t.Fatalf("RetryCount() = %d, %v; want 0", n, err)
	}
	for want := 1; want <= 3; want++ {
		n, err := s.IncrRetry(ctx, "c1")
		if err != nil {
			t.Fatalf("IncrRetry() error = %v", err)
		}
		if n != want {
			t.Errorf("IncrRetry() = %d, want %d", n, want)
		}
	}
	if n, _ := s.RetryCount(ctx, "c1"); n != 3 {
		t.Errorf("RetryCount() = %d, want 3", n)
	}

	if err := s.ClearRetry(ctx, "c1"); err != nil {
		t.Fatalf("ClearRetry() error = %v", err)
	}
	if n, _ := s.RetryCount(ctx, "c1"); n != 0 {
		t.Errorf("RetryCount() after clear = %d, want 0", n)
	}
}
