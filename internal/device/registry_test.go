package device

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeClock is a settable time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestRegistry() (*Registry, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	r := NewRegistry()
	r.now = clock.Now
	return r, clock
}

func TestRegistry_Register(t *testing.T) {
	r, _ := newTestRegistry()

	rec, created := r.Register(Registration{DeviceID: "door-1", NativeHandle: 3, IP: "10.0.0.5", Port: 8000})
	if !created {
		t.Error("Register() created = false for new device")
	}
	if !rec.IsConnected || rec.NativeHandle != 3 || rec.LastHeartbeat == nil {
		t.Errorf("Register() record = %+v", rec)
	}

	rec, created = r.Register(Registration{DeviceID: "door-1", NativeHandle: 9})
	if created {
		t.Error("Register() created = true for re-registration")
	}
	if rec.NativeHandle != 9 {
		t.Errorf("NativeHandle = %d, want 9 after re-registration", rec.NativeHandle)
	}
	if r.Count() != 1 {
		t.Errorf("Count() = %d, want 1", r.Count())
	}
}

func TestRegistry_ReturnsCopies(t *testing.T) {
	r, _ := newTestRegistry()
	r.Register(Registration{DeviceID: "door-1", NativeHandle: 1})

	got, err := r.Get("door-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	got.NativeHandle = 42
	*got.LastHeartbeat = time.Time{}

	again, _ := r.Get("door-1")
	if again.NativeHandle != 1 {
		t.Error("mutating a returned record changed the registry")
	}
	if again.LastHeartbeat.IsZero() {
		t.Error("mutating a returned heartbeat pointer changed the registry")
	}
}

func TestRegistry_HeartbeatAndDisconnect(t *testing.T) {
	r, clock := newTestRegistry()
	r.Register(Registration{DeviceID: "door-1"})

	clock.Advance(time.Minute)
	if err := r.Heartbeat("door-1"); err != nil {
		t.Fatalf("Heartbeat() error = %v", err)
	}
	rec, _ := r.Get("door-1")
	if !rec.LastHeartbeat.Equal(clock.Now()) {
		t.Errorf("LastHeartbeat = %v, want %v", rec.LastHeartbeat, clock.Now())
	}

	if err := r.Heartbeat("ghost"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Heartbeat(ghost) error = %v, want ErrDeviceNotFound", err)
	}

	removed, err := r.Disconnect("door-1")
	if err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if removed.IsConnected {
		t.Error("removed record still marked connected")
	}
	if r.IsConnected("door-1") {
		t.Error("IsConnected() = true after disconnect")
	}
	if _, err := r.Get("door-1"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Get() after disconnect error = %v", err)
	}
	if _, err := r.Disconnect("door-1"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("second Disconnect() error = %v", err)
	}
}

func TestRegistry_Sweep(t *testing.T) {
	r, clock := newTestRegistry()
	r.Register(Registration{DeviceID: "stale"})
	r.Register(Registration{DeviceID: "fresh"})

	clock.Advance(80 * time.Second)
	_ = r.Heartbeat("fresh")
	clock.Advance(20 * time.Second)

	expired := r.Sweep(90 * time.Second)
	if len(expired) != 1 || expired[0].DeviceID != "stale" {
		t.Fatalf("Sweep() = %+v, want only stale", expired)
	}
	if expired[0].IsConnected {
		t.Error("swept record still marked connected")
	}
	if !r.IsConnected("fresh") || r.IsConnected("stale") {
		t.Errorf("List() after sweep = %+v", r.List())
	}
}

func TestRegistry_RunSweeper(t *testing.T) {
	r, clock := newTestRegistry()
	r.Register(Registration{DeviceID: "door-1"})
	clock.Advance(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan Record, 1)
	done := make(chan struct{})
	go func() {
		r.RunSweeper(ctx, 5*time.Millisecond, time.Minute, func(rec Record) { got <- rec })
		close(done)
	}()

	select {
	case rec := <-got:
		if rec.DeviceID != "door-1" {
			t.Errorf("expired = %q", rec.DeviceID)
		}
	case <-time.After(time.Second):
		t.Fatal("sweeper did not report the stale device")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunSweeper did not return after cancel")
	}
}

func TestRegistry_List(t *testing.T) {
	r, _ := newTestRegistry()
	for _, id := range []string{"c", "a", "b"} {
		r.Register(Registration{DeviceID: id})
	}

	list := r.List()
	if len(list) != 3 || list[0].DeviceID != "a" || list[2].DeviceID != "c" {
		t.Errorf("List() = %+v, want sorted a,b,c", list)
	}
}

func TestRegistry_ConcurrentMutation(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			r.Register(Registration{DeviceID: "door-1", NativeHandle: 1})
		}()
		go func() {
			defer wg.Done()
			_ = r.Heartbeat("door-1")
		}()
		go func() {
			defer wg.Done()
			_, _ = r.Get("door-1")
			_ = r.List()
		}()
	}
	wg.Wait()

	if r.Count() != 1 {
		t.Errorf("Count() = %d, want 1", r.Count())
	}
}
