package tenant

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Limiter hands out slots from independent, lazily created semaphores keyed by name.
type Limiter struct {
	defaultLimit int
	overrides    map[string]int

	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	sem      *semaphore.Weighted
	limit    int
	inFlight atomic.Int64
	acquired atomic.Int64
	released atomic.Int64
}

// Usage is a point-in-time view of one key's semaphore.
type Usage struct {
	Key      string `json:"key"`
	Limit    int    `json:"limit"`
	InFlight int64  `json:"in_flight"`
	Acquired int64  `json:"acquired"`
	Released int64  `json:"released"`
}

// NewLimiter creates a limiter. Keys without an override get defaultLimit
// (minimum 1).
func NewLimiter(defaultLimit int, overrides map[string]int) *Limiter {
	if defaultLimit < 1 {
		defaultLimit = 1
	}
	o := make(map[string]int, len(overrides))
	for k, v := range overrides {
		if v >= 1 {
			o[k] = v
		}
	}
	return &Limiter{defaultLimit: defaultLimit, overrides: o, slots: make(map[string]*slot)}
}

// Limit returns the concurrency limit for key.
func (l *Limiter) Limit(key string) int {
	if v, ok := l.overrides[key]; ok {
		return v
	}
	return l.defaultLimit
}

func (l *Limiter) slotFor(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.slots[key]
	if !ok {
		limit := l.Limit(key)
		s = &slot{sem: semaphore.NewWeighted(int64(limit)), limit: limit}
		l.slots[key] = s
	}
	return s
}

// Acquire blocks until a slot for key is free or ctx is done.
//
// Returns:
//   - *Ticket: Held slot; call Release exactly once (extra calls are no-ops)
//   - error: Wraps ErrDeadlineExceeded or ErrCancelled
func (l *Limiter) Acquire(ctx context.Context, key string) (*Ticket, error) {
	s := l.slotFor(key)
	if err := s.sem.Acquire(ctx, 1); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrDeadlineExceeded, key)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrCancelled, key, err)
	}
	s.inFlight.Add(1)
	s.acquired.Add(1)
	return &Ticket{key: key, slot: s}, nil
}

// TryAcquire takes a slot for key only if one is free right now.
func (l *Limiter) TryAcquire(key string) (*Ticket, bool) {
	s := l.slotFor(key)
	if !s.sem.TryAcquire(1) {
		return nil, false
	}
	s.inFlight.Add(1)
	s.acquired.Add(1)
	return &Ticket{key: key, slot: s}, true
}

// Usage returns the usage of key. Keys never acquired report zero counts.
func (l *Limiter) Usage(key string) Usage {
	l.mu.Lock()
	s, ok := l.slots[key]
	l.mu.Unlock()
	if !ok {
		return Usage{Key: key, Limit: l.Limit(key)}
	}
	return s.usage(key)
}

// Snapshot returns the usage of every key seen so far, sorted by key.
func (l *Limiter) Snapshot() []Usage {
	l.mu.Lock()
	out := make([]Usage, 0, len(l.slots))
	for key, s := range l.slots {
		out = append(out, s.usage(key))
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (s *slot) usage(key string) Usage {
	return Usage{
		Key:      key,
		Limit:    s.limit,
		InFlight: s.inFlight.Load(),
		Acquired: s.acquired.Load(),
		Released: s.released.Load(),
	}
}

// Ticket is one held slot.
type Ticket struct {
	key      string
	slot     *slot
	released atomic.Bool
}

// Key returns the tenant (or other key) the ticket was issued for.
func (t *Ticket) Key() string {
	return t.key
}

// Release returns the slot. Only the first call has an effect.
func (t *Ticket) Release() {
	if t == nil || !t.released.CompareAndSwap(false, true) {
		return
	}
	t.slot.inFlight.Add(-1)
	t.slot.released.Add(1)
	t.slot.sem.Release(1)
}

// Released reports whether Release has been called.
func (t *Ticket) Released() bool {
	return t != nil && t.released.Load()
}
