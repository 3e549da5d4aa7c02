package audit

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/infrastructure/database/dbtest"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	return NewSQLiteRepository(dbtest.Open(t).DB)
}

func seed(t *testing.T, r *SQLiteRepository, entries ...Entry) {
	t.Helper()
	for i := range entries {
		if err := r.Create(context.Background(), &entries[i]); err != nil {
			t.Fatalf("Create(%d) error = %v", i, err)
		}
	}
}

func TestCreate_FillsDefaults(t *testing.T) {
	r := newTestRepo(t)
	e := Entry{
		Action:    ActionCommand,
		DeviceID:  "door-1",
		TenantID:  "acme",
		Subject:   "ops",
		CommandID: "cmd-1",
		Status:    "succeeded",
		Details:   map[string]any{"kind": "open_door"},
	}
	if err := r.Create(context.Background(), &e); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !strings.HasPrefix(e.ID, "aud-") {
		t.Errorf("ID = %q, want aud- prefix", e.ID)
	}
	if e.Source != SourceAPI {
		t.Errorf("Source = %q, want %q", e.Source, SourceAPI)
	}
	if e.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}

	page, err := r.List(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if page.Total != 1 || len(page.Entries) != 1 {
		t.Fatalf("List() = %+v, want one entry", page)
	}
	got := page.Entries[0]
	if got.ID != e.ID || got.DeviceID != "door-1" || got.TenantID != "acme" || got.Subject != "ops" ||
		got.CommandID != "cmd-1" || got.Status != "succeeded" {
		t.Errorf("stored entry = %+v", got)
	}
	if got.Details["kind"] != "open_door" {
		t.Errorf("Details = %v", got.Details)
	}
	if !got.CreatedAt.Equal(e.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, e.CreatedAt)
	}
}

func TestCreate_RequiresAction(t *testing.T) {
	r := newTestRepo(t)
	err := r.Create(context.Background(), &Entry{DeviceID: "door-1"})
	if !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("Create() error = %v, want ErrInvalidEntry", err)
	}
}

func TestList_Filters(t *testing.T) {
	r := newTestRepo(t)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	seed(t, r,
		Entry{Action: ActionCommand, DeviceID: "door-1", TenantID: "acme", Subject: "ops", CreatedAt: base},
		Entry{Action: ActionCommand, DeviceID: "door-2", TenantID: "acme", Subject: "kiosk", CreatedAt: base.Add(time.Minute)},
		Entry{Action: ActionMappingSet, DeviceID: "door-2", TenantID: "globex", Subject: "ops", CreatedAt: base.Add(2 * time.Minute)},
		Entry{Action: ActionMappingRemove, DeviceID: "door-3", Subject: "ops", CreatedAt: base.Add(3 * time.Minute)},
	)

	tests := []struct {
		name    string
		filter  Filter
		wantIDs []string // device IDs, newest first
	}{
		{"all", Filter{}, []string{"door-3", "door-2", "door-2", "door-1"}},
		{"by action", Filter{Action: ActionCommand}, []string{"door-2", "door-1"}},
		{"by device", Filter{DeviceID: "door-2"}, []string{"door-2", "door-2"}},
		{"by tenant", Filter{TenantID: "acme"}, []string{"door-2", "door-1"}},
		{"by subject", Filter{Subject: "kiosk"}, []string{"door-2"}},
		{"since", Filter{Since: base.Add(90 * time.Second)}, []string{"door-3", "door-2"}},
		{"combined", Filter{Action: ActionCommand, Subject: "ops"}, []string{"door-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := r.List(context.Background(), tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if page.Total != len(tt.wantIDs) {
				t.Errorf("Total = %d, want %d", page.Total, len(tt.wantIDs))
			}
			var got []string
			for _, e := range page.Entries {
				got = append(got, e.DeviceID)
			}
			if strings.Join(got, ",") != strings.Join(tt.wantIDs, ",") {
				t.Errorf("devices = %v, want %v", got, tt.wantIDs)
			}
		})
	}
}

func TestList_Pagination(t *testing.T) {
	r := newTestRepo(t)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		seed(t, r, Entry{Action: ActionCommand, Status: string(rune('a' + i)), CreatedAt: base.Add(time.Duration(i) * time.Millisecond)})
	}

	page, err := r.List(context.Background(), Filter{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if page.Total != 5 || page.Limit != 2 || page.Offset != 1 {
		t.Errorf("page meta = total %d limit %d offset %d", page.Total, page.Limit, page.Offset)
	}
	if len(page.Entries) != 2 || page.Entries[0].Status != "d" || page.Entries[1].Status != "c" {
		t.Errorf("entries = %+v", page.Entries)
	}

	clamped, err := r.List(context.Background(), Filter{Limit: 1000, Offset: -3})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if clamped.Limit != maxLimit || clamped.Offset != 0 {
		t.Errorf("clamped limit/offset = %d/%d", clamped.Limit, clamped.Offset)
	}
}
