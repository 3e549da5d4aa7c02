package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-access/internal/device"
	"github.com/nerrad567/gray-logic-access/internal/events"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-access/internal/isapi"
	"github.com/nerrad567/gray-logic-access/internal/tenant"
)

// Queue-full policies.
const (
	FullPolicyBlock    = "block"
	FullPolicyFailFast = "fail_fast"
)

const (
	defaultQueueCapacity  = 1000
	defaultCommandTimeout = 15 * time.Second
	workersPerCPU         = 4
)

// Driver executes requests on devices. Implementations may block; the
// dispatcher never holds a lock across Invoke. deviceID addresses the
// device; handle is its native handle from registration.
type Driver interface {
	Invoke(ctx context.Context, deviceID string, handle int, req isapi.Request) isapi.Response
}

// DeviceLookup answers whether a device is reachable and how to address it.
type DeviceLookup interface {
	Get(deviceID string) (*device.Record, error)
}

// Admission hands out per-tenant tickets without blocking.
type Admission interface {
	Resolve(deviceID string) string
	TryAcquire(deviceID string) (*tenant.Ticket, bool)
}

// Recorder receives command telemetry.
type Recorder interface {
	WriteCommandOutcome(deviceID, tenantID, kind, status string, attempt int, latency time.Duration)
	WriteQueueDepth(depth, capacity, inFlight int)
}

// DeadLetterSink receives first-attempt failures of retryable commands.
type DeadLetterSink interface {
	DeadLetter(ctx context.Context, cmd Command, res Result)
}

// Logger is the logging interface used by the Dispatcher.
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

type job struct {
	cmd      Command
	req      isapi.Request
	tenantID string
	ctx      context.Context
	future   *Future
	queued   atomic.Bool
	stop     func() bool

	// holdsSlot is set while the job counts against queue capacity.
	holdsSlot atomic.Bool

	// Guarded by gate.mu.
	stage   stage
	ticket  *tenant.Ticket
	waitKey string
	expiry  *time.Timer
}

// Stats is a snapshot of the dispatcher.
type Stats struct {
	// QueueDepth counts accepted commands not yet executing, parked
	// ones included.
	QueueDepth     int    `json:"queue_depth"`
	Parked         int    `json:"parked"`
	QueueCapacity  int    `json:"queue_capacity"`
	Workers        int    `json:"workers"`
	InFlight       int64  `json:"in_flight"`
	Submitted      uint64 `json:"submitted"`
	Completed      uint64 `json:"completed"`
	FullPolicy     string `json:"full_policy"`
	PerDeviceLimit int    `json:"per_device_limit"`
}

// Dispatcher queues commands and executes them on a worker pool.
//
// Thread Safety:
//   - Submit, Stats and Close are safe for concurrent use.
//   - Setters must be called before Start.
type Dispatcher struct {
	cfg       config.DispatchConfig
	registry  DeviceLookup
	admission Admission
	driver    Driver
	gate      *gate

	publisher   events.Publisher
	recorder    Recorder
	deadLetters DeadLetterSink
	logger      Logger
	now         func() time.Time

	slots    chan struct{}
	queue    chan *job
	ready    chan *job
	quit     chan struct{}
	quitOnce sync.Once
	mu       sync.RWMutex
	closed   bool
	started  atomic.Bool
	wg       sync.WaitGroup

	inFlight  atomic.Int64
	submitted atomic.Uint64
	completed atomic.Uint64
}

// New creates a dispatcher. Workers are not running until Start.
//
// Parameters:
//   - cfg: Queue, pool and timeout settings; zero values take defaults
//   - registry: Device connection state
//   - admission: Per-tenant concurrency control
//   - driver: Executes requests on devices
func New(cfg config.DispatchConfig, registry DeviceLookup, admission Admission, driver Driver) *Dispatcher {
	if cfg.QueueCapacity < 1 {
		cfg.QueueCapacity = defaultQueueCapacity
	}
	if cfg.Workers < 1 {
		cfg.Workers = workersPerCPU * runtime.NumCPU()
	}
	if cfg.FullPolicy == "" {
		cfg.FullPolicy = FullPolicyBlock
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = defaultCommandTimeout
	}

	d := &Dispatcher{
		cfg:       cfg,
		registry:  registry,
		admission: admission,
		driver:    driver,
		logger:    noopLogger{},
		now:       time.Now,
		slots:     make(chan struct{}, cfg.QueueCapacity),
		queue:     make(chan *job, cfg.QueueCapacity),
		ready:     make(chan *job, cfg.QueueCapacity),
		quit:      make(chan struct{}),
	}
	d.gate = newGate(admission, max(cfg.PerDeviceLimit, 0), d.ready, d.expire)
	return d
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// SetPublisher sets where command.completed and whitelist.result events go.
func (d *Dispatcher) SetPublisher(p events.Publisher) {
	d.publisher = p
}

// SetRecorder sets the telemetry recorder.
func (d *Dispatcher) SetRecorder(r Recorder) {
	d.recorder = r
}

// SetDeadLetterSink sets the receiver of retryable first-attempt failures.
func (d *Dispatcher) SetDeadLetterSink(s DeadLetterSink) {
	d.deadLetters = s
}

// Start launches the worker pool. Calling it more than once has no effect.
func (d *Dispatcher) Start() {
	if !d.started.CompareAndSwap(false, true) {
		return
	}
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	d.logger.Info("dispatcher started",
		"workers", d.cfg.Workers,
		"queue_capacity", d.cfg.QueueCapacity,
		"full_policy", d.cfg.FullPolicy,
		"per_device_limit", d.cfg.PerDeviceLimit,
	)
}

// Submit enqueues cmd and returns the Future its result will be delivered on.
//
// The command ID is generated unless already set (retries keep theirs).
// The deadline is the configured command timeout from now, clipped to the
// deadline of ctx. Cancelling ctx before the command finishes resolves the
// Future as cancelled.
//
// Returns:
//   - *Future: Resolved exactly once
//   - error: ErrInvalidCommand, ErrQueueFull or ErrClosed; no Future is
//     returned with an error
func (d *Dispatcher) Submit(ctx context.Context, cmd Command) (*Future, error) {
	if cmd.DeviceID == "" {
		return nil, fmt.Errorf("%w: device_id is required", ErrInvalidCommand)
	}
	req, err := isapi.Build(cmd.Kind, cmd.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}

	now := d.now()
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	cmd.CreatedAt = now
	cmd.Deadline = now.Add(d.cfg.CommandTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(cmd.Deadline) {
		cmd.Deadline = dl
	}

	j := &job{
		cmd:      cmd,
		req:      req,
		tenantID: d.admission.Resolve(cmd.DeviceID),
		ctx:      ctx,
		future:   newFuture(cmd.ID),
	}
	j.stop = context.AfterFunc(ctx, func() {
		if j.queued.Load() {
			d.cancelWaiting(j)
		}
	})

	if err := d.enqueue(ctx, j); err != nil {
		j.stop()
		d.logger.Warn("command rejected", "command_id", cmd.ID, "device_id", cmd.DeviceID, "error", err)
		return nil, err
	}
	j.queued.Store(true)
	d.submitted.Add(1)

	d.logger.Debug("command queued", "command_id", cmd.ID, "device_id", cmd.DeviceID, "kind", cmd.Kind, "attempt", cmd.Attempt)
	return j.future, nil
}

// enqueue takes a queue slot for j, waiting per the full policy, then gives
// j its device lane position and queues it.
func (d *Dispatcher) enqueue(ctx context.Context, j *job) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrClosed
	}
	if err := d.reserve(ctx); err != nil {
		return err
	}
	j.holdsSlot.Store(true)
	d.gate.enter(j, d.queue)
	return nil
}

func (d *Dispatcher) reserve(ctx context.Context) error {
	select {
	case d.slots <- struct{}{}:
		return nil
	default:
	}

	if d.cfg.FullPolicy == FullPolicyFailFast {
		return fmt.Errorf("%w: capacity %d", ErrQueueFull, d.cfg.QueueCapacity)
	}

	timer := time.NewTimer(d.cfg.SubmitTimeout)
	defer timer.Stop()

	select {
	case d.slots <- struct{}{}:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: no space after %s", ErrQueueFull, d.cfg.SubmitTimeout)
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrQueueFull, ctx.Err())
	case <-d.quit:
		return ErrClosed
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case <-d.quit:
			return
		case j := <-d.ready:
			if !d.gate.running(j) {
				d.drop(j)
				continue
			}
			d.execute(j)
		case j := <-d.queue:
			d.process(j)
		}
	}
}

type driverOutcome struct {
	resp isapi.Response
	err  error
}

// process screens a command taken off the queue, then runs it or parks it
// until its device lane and tenant have room. A parked command never holds
// a worker.
func (d *Dispatcher) process(j *job) {
	if _, ok := d.check(j); !ok {
		d.drop(j)
		return
	}

	switch d.gate.admit(j) {
	case admitRun:
		d.execute(j)
	case admitParked:
		d.logger.Debug("command waiting for admission", "command_id", j.cmd.ID, "device_id", j.cmd.DeviceID, "tenant_id", j.tenantID)
	default:
		d.drop(j)
	}
}

// check resolves j if it can no longer run and returns the device record
// otherwise.
func (d *Dispatcher) check(j *job) (*device.Record, bool) {
	if j.future.Resolved() {
		return nil, false
	}
	if j.ctx.Err() != nil {
		d.finish(j, contextFailure(j.ctx, "before execution"), false)
		return nil, false
	}
	if d.now().After(j.cmd.Deadline) {
		d.finish(j, failure(StatusTimeout, "deadline passed before execution"), false)
		return nil, false
	}

	rec, err := d.registry.Get(j.cmd.DeviceID)
	if err != nil || !rec.IsConnected {
		d.finish(j, failure(StatusDeviceOffline, "device "+j.cmd.DeviceID+" is not connected"), false)
		return nil, false
	}
	return rec, true
}

// drop removes a job that will not run.
func (d *Dispatcher) drop(j *job) {
	d.freeSlot(j)
	d.gate.leave(j)
}

func (d *Dispatcher) freeSlot(j *job) {
	if j.holdsSlot.CompareAndSwap(true, false) {
		<-d.slots
	}
}

// execute runs a job that holds its lane position and tenant slot. Both
// are returned when the driver call ends, even if the result was already
// reported as a timeout.
func (d *Dispatcher) execute(j *job) {
	d.freeSlot(j)
	rec, ok := d.check(j)
	if !ok {
		d.gate.leave(j)
		return
	}

	d.inFlight.Add(1)
	defer d.inFlight.Add(-1)

	ctx, cancel := context.WithDeadline(j.ctx, j.cmd.Deadline)
	defer cancel()

	out := make(chan driverOutcome, 1)
	go func() {
		o := d.invoke(ctx, j.cmd.DeviceID, rec.NativeHandle, j.req)
		d.gate.leave(j)
		out <- o
	}()

	select {
	case o := <-out:
		if o.err != nil {
			d.finish(j, failure(StatusDriverError, o.err.Error()), true)
			return
		}
		res := fromResponse(o.resp)
		d.finish(j, res, !res.Success)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			d.finish(j, failure(StatusTimeout, "no response before deadline"), true)
			return
		}
		d.finish(j, failure(StatusCancelled, "caller cancelled during execution"), false)
	}
}

// cancelWaiting resolves a job whose caller went away before it started.
func (d *Dispatcher) cancelWaiting(j *job) {
	switch prev := d.gate.abandon(j); {
	case prev == stageRunning || prev == stageDone:
		return
	case prev.parked():
		d.freeSlot(j)
	}
	d.finish(j, contextFailure(j.ctx, "before execution"), false)
}

// expire resolves a parked job whose deadline passed.
func (d *Dispatcher) expire(j *job) {
	if !d.gate.expire(j) {
		return
	}
	d.freeSlot(j)
	d.finish(j, failure(StatusTimeout, "no admission slot before deadline"), false)
}

// invoke calls the driver, converting a panic into an error.
func (d *Dispatcher) invoke(ctx context.Context, deviceID string, handle int, req isapi.Request) (o driverOutcome) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("driver panic recovered", "url", req.URL, "panic", r)
			o = driverOutcome{resp: isapi.Response{ErrCode: -1}, err: fmt.Errorf("%w: %v", ErrDriverPanic, r)}
		}
	}()
	return driverOutcome{resp: d.driver.Invoke(ctx, deviceID, handle, req)}
}

// contextFailure maps a finished caller context to a result.
func contextFailure(ctx context.Context, phase string) Result {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return failure(StatusTimeout, "caller deadline passed "+phase)
	}
	return failure(StatusCancelled, "caller cancelled "+phase)
}

// finish resolves the job's future if no other path has. The outcome is
// reported before the caller is woken, so events and dead letters are in
// place once Wait returns.
func (d *Dispatcher) finish(j *job, res Result, deadLetter bool) {
	res.CommandID = j.cmd.ID
	res.Attempt = j.cmd.Attempt
	res.Duration = d.now().Sub(j.cmd.CreatedAt)

	if !j.future.claim() {
		d.logger.Debug("late command result dropped", "command_id", j.cmd.ID, "status", res.Status)
		return
	}
	defer j.future.complete(res)
	j.stop()
	d.completed.Add(1)

	if res.Success {
		d.logger.Info("command succeeded",
			"command_id", j.cmd.ID,
			"device_id", j.cmd.DeviceID,
			"kind", j.cmd.Kind,
			"attempt", j.cmd.Attempt,
			"duration", res.Duration,
		)
	} else {
		d.logger.Warn("command failed",
			"command_id", j.cmd.ID,
			"device_id", j.cmd.DeviceID,
			"kind", j.cmd.Kind,
			"attempt", j.cmd.Attempt,
			"status", res.Status,
			"code", res.Code,
		)
	}

	d.report(j, res, deadLetter)
}

type completedPayload struct {
	CommandID  string `json:"command_id"`
	Kind       string `json:"kind"`
	Status     Status `json:"status"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Attempt    int    `json:"attempt"`
	DurationMS int64  `json:"duration_ms"`
}

type whitelistPayload struct {
	CommandID string `json:"command_id"`
	Kind      string `json:"kind"`
	Success   bool   `json:"success"`
	Code      string `json:"code"`
	Body      string `json:"body,omitempty"`
}

func (d *Dispatcher) report(j *job, res Result, deadLetter bool) {
	ctx := context.WithoutCancel(j.ctx)
	cmd := j.cmd

	if d.publisher != nil {
		d.publish(ctx, events.CommandCompleted, j, completedPayload{
			CommandID:  cmd.ID,
			Kind:       string(cmd.Kind),
			Status:     res.Status,
			Code:       res.Code,
			Message:    res.Message,
			Attempt:    cmd.Attempt,
			DurationMS: res.Duration.Milliseconds(),
		})
		if cmd.Kind.IsWhitelist() {
			d.publish(ctx, events.WhitelistResult, j, whitelistPayload{
				CommandID: cmd.ID,
				Kind:      string(cmd.Kind),
				Success:   res.Success,
				Code:      res.Code,
				Body:      res.Raw,
			})
		}
	}

	if d.recorder != nil {
		d.recorder.WriteCommandOutcome(cmd.DeviceID, j.tenantID, string(cmd.Kind), string(res.Status), cmd.Attempt, res.Duration)
	}

	if deadLetter && cmd.Attempt == 0 && cmd.Kind.Retryable() && d.deadLetters != nil {
		d.deadLetters.DeadLetter(ctx, cmd, res)
	}
}

func (d *Dispatcher) publish(ctx context.Context, typ events.Type, j *job, payload any) {
	ev, err := events.New(typ, j.cmd.DeviceID, j.tenantID, payload)
	if err != nil {
		d.logger.Error("building event failed", "type", typ, "error", err)
		return
	}
	d.publisher.Publish(ctx, ev)
}

// Stats returns a snapshot of queue and worker state.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		QueueDepth:     len(d.slots),
		Parked:         d.gate.parkedCount(),
		QueueCapacity:  d.cfg.QueueCapacity,
		Workers:        d.cfg.Workers,
		InFlight:       d.inFlight.Load(),
		Submitted:      d.submitted.Load(),
		Completed:      d.completed.Load(),
		FullPolicy:     d.cfg.FullPolicy,
		PerDeviceLimit: d.cfg.PerDeviceLimit,
	}
}

// RunMetrics writes queue depth to the recorder every interval until ctx is done.
func (d *Dispatcher) RunMetrics(ctx context.Context, interval time.Duration) {
	if d.recorder == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := d.Stats()
			d.recorder.WriteQueueDepth(s.QueueDepth, s.QueueCapacity, int(s.InFlight))
		}
	}
}

// Close stops the workers and resolves every waiting command as cancelled.
// It waits for workers executing commands to return.
func (d *Dispatcher) Close() {
	d.quitOnce.Do(func() { close(d.quit) })

	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.wg.Wait()

	closed := failure(StatusCancelled, "dispatcher closed")
	for _, j := range d.gate.close() {
		d.freeSlot(j)
		d.finish(j, closed, false)
	}
	for {
		select {
		case j := <-d.queue:
			d.drop(j)
			d.finish(j, closed, false)
		case j := <-d.ready:
			d.drop(j)
			d.finish(j, closed, false)
		default:
			d.logger.Info("dispatcher stopped", "completed", d.completed.Load())
			return
		}
	}
}
