package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/device"
	"github.com/nerrad567/gray-logic-access/internal/events"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-access/internal/isapi"
	"github.com/nerrad567/gray-logic-access/internal/tenant"
)

// fakeDriver answers every call with resp after an optional delay.
type fakeDriver struct {
	resp  isapi.Response
	delay time.Duration
	panic bool

	// ignoreCancel keeps the call running past cancellation.
	ignoreCancel bool

	calls      atomic.Int32
	active     atomic.Int32
	maxActive  atomic.Int32
	mu         sync.Mutex
	devices    []string
	handles    []int
	requests   []isapi.Request
	returnedAt chan struct{}
}

func (d *fakeDriver) Invoke(ctx context.Context, deviceID string, handle int, req isapi.Request) isapi.Response {
	d.calls.Add(1)
	n := d.active.Add(1)
	defer d.active.Add(-1)
	for {
		m := d.maxActive.Load()
		if n <= m || d.maxActive.CompareAndSwap(m, n) {
			break
		}
	}

	d.mu.Lock()
	d.devices = append(d.devices, deviceID)
	d.handles = append(d.handles, handle)
	d.requests = append(d.requests, req)
	d.mu.Unlock()

	if d.panic {
		panic("sdk crashed")
	}
	if d.delay > 0 {
		if d.ignoreCancel {
			time.Sleep(d.delay)
		} else {
			select {
			case <-time.After(d.delay):
			case <-ctx.Done():
				return isapi.Response{ErrCode: -1}
			}
		}
	}
	return d.resp
}

func (d *fakeDriver) URLs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.requests))
	for _, r := range d.requests {
		out = append(out, r.URL)
	}
	return out
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *fakePublisher) Publish(_ context.Context, ev events.Event) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

func (p *fakePublisher) Types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type outcome struct {
	deviceID, tenantID, kind, status string
	attempt                          int
}

type fakeRecorder struct {
	mu       sync.Mutex
	outcomes []outcome
	depths   []int
}

func (r *fakeRecorder) WriteCommandOutcome(deviceID, tenantID, kind, status string, attempt int, _ time.Duration) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, outcome{deviceID, tenantID, kind, status, attempt})
	r.mu.Unlock()
}

func (r *fakeRecorder) WriteQueueDepth(depth, _, _ int) {
	r.mu.Lock()
	r.depths = append(r.depths, depth)
	r.mu.Unlock()
}

func (r *fakeRecorder) Outcomes() []outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]outcome(nil), r.outcomes...)
}

type fakeSink struct {
	mu      sync.Mutex
	letters []Command
}

func (s *fakeSink) DeadLetter(_ context.Context, cmd Command, _ Result) {
	s.mu.Lock()
	s.letters = append(s.letters, cmd)
	s.mu.Unlock()
}

func (s *fakeSink) Commands() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Command(nil), s.letters...)
}

type harness struct {
	d         *Dispatcher
	registry  *device.Registry
	tenants   *tenant.Manager
	driver    *fakeDriver
	publisher *fakePublisher
	recorder  *fakeRecorder
	sink      *fakeSink
}

func newHarness(cfg config.DispatchConfig, driver *fakeDriver) *harness {
	if cfg.Workers == 0 {
		cfg.Workers = 2
	}
	if cfg.QueueCapacity == 0 {
		cfg.QueueCapacity = 16
	}
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = 2 * time.Second
	}
	h := &harness{
		registry:  device.NewRegistry(),
		tenants:   tenant.NewManager(tenant.Config{DefaultLimit: 1}),
		driver:    driver,
		publisher: &fakePublisher{},
		recorder:  &fakeRecorder{},
		sink:      &fakeSink{},
	}
	h.d = New(cfg, h.registry, h.tenants, driver)
	h.d.SetPublisher(h.publisher)
	h.d.SetRecorder(h.recorder)
	h.d.SetDeadLetterSink(h.sink)
	return h
}
