package retry

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/dispatch"
	"github.com/nerrad567/gray-logic-access/internal/events"
)

// Submitter accepts commands for execution.
type Submitter interface {
	Submit(ctx context.Context, cmd dispatch.Command) (*dispatch.Future, error)
}

// Recorder receives retry telemetry.
type Recorder interface {
	WriteRetryEvent(deviceID, action string, attempt int)
}

// Logger is the logging interface used by the Coordinator.
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

// Options configures a Coordinator.
type Options struct {
	MaxAttempts  int
	Interval     time.Duration
	PollInterval time.Duration
	QueueKey     string
	AbandonedKey string
}

func (o *Options) applyDefaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.Interval < 0 {
		o.Interval = 0
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.QueueKey == "" {
		o.QueueKey = "whitelist:failed"
	}
	if o.AbandonedKey == "" {
		o.AbandonedKey = "whitelist:abandoned"
	}
}

// Coordinator moves dead-lettered commands back through the dispatcher.
type Coordinator struct {
	store     Store
	submitter Submitter
	opts      Options
	publisher events.Publisher
	recorder  Recorder
	logger    Logger
	now       func() time.Time
}

// NewCoordinator creates a coordinator. The interval between retries is
// fixed, not exponential.
func NewCoordinator(store Store, submitter Submitter, opts Options) *Coordinator {
	opts.applyDefaults()
	return &Coordinator{
		store:     store,
		submitter: submitter,
		opts:      opts,
		logger:    noopLogger{},
		now:       time.Now,
	}
}

// SetLogger sets the logger for the coordinator.
func (c *Coordinator) SetLogger(logger Logger) {
	c.logger = logger
}

// SetPublisher sets where command.abandoned events go.
func (c *Coordinator) SetPublisher(p events.Publisher) {
	c.publisher = p
}

// SetRecorder sets the telemetry recorder.
func (c *Coordinator) SetRecorder(r Recorder) {
	c.recorder = r
}

// Options returns the effective options.
func (c *Coordinator) Options() Options {
	return c.opts
}

// DeadLetter parks a failed command on the dead-letter list.
// Store errors are logged; the command's failure was already reported to its caller.
func (c *Coordinator) DeadLetter(ctx context.Context, cmd dispatch.Command, res dispatch.Result) {
	rec := Record{
		Command:   cmd,
		Status:    res.Status,
		Code:      res.Code,
		LastError: res.Message,
		FailedAt:  c.now().UTC(),
	}
	if err := c.store.Push(ctx, c.opts.QueueKey, rec); err != nil {
		c.logger.Error("dead-lettering command failed", "command_id", cmd.ID, "error", err)
		return
	}
	c.logger.Info("command dead-lettered", "command_id", cmd.ID, "device_id", cmd.DeviceID, "status", res.Status)
	c.record(cmd.DeviceID, "dead_lettered", cmd.Attempt)
}

// Run processes the dead-letter list until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("retry coordinator started",
		"max_attempts", c.opts.MaxAttempts,
		"interval", c.opts.Interval,
		"queue", c.opts.QueueKey,
	)
	for {
		if ctx.Err() != nil {
			c.logger.Info("retry coordinator stopped")
			return nil
		}

		processed, err := c.ProcessNext(ctx)
		if err != nil && ctx.Err() == nil {
			c.logger.Error("retry cycle failed", "error", err)
		}
		if !processed || err != nil {
			if !sleep(ctx, c.opts.PollInterval) {
				c.logger.Info("retry coordinator stopped")
				return nil
			}
		}
	}
}

// ProcessNext pops one record and drives it through a retry or abandonment.
//
// Returns:
//   - bool: False if the list was empty
//   - error: Store failures; the record is pushed back where possible
func (c *Coordinator) ProcessNext(ctx context.Context) (bool, error) {
	rec, err := c.store.Pop(ctx, c.opts.QueueKey)
	if errors.Is(err, ErrEmpty) {
		return false, nil
	}
	if errors.Is(err, ErrInvalidRecord) {
		c.logger.Error("undecodable dead letter dropped", "error", err)
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return true, c.handle(ctx, rec)
}

func (c *Coordinator) handle(ctx context.Context, rec *Record) error {
	cmd := rec.Command

	count, err := c.store.RetryCount(ctx, cmd.ID)
	if err != nil {
		c.pushBack(ctx, rec)
		return err
	}
	if count >= c.opts.MaxAttempts {
		return c.abandon(ctx, rec, count)
	}

	if !sleep(ctx, c.opts.Interval) {
		c.pushBack(ctx, rec)
		return nil
	}

	cmd.Attempt = count + 1
	future, err := c.submitter.Submit(ctx, cmd)
	if err != nil {
		c.logger.Warn("retry submit rejected, requeued without counting", "command_id", cmd.ID, "error", err)
		c.pushBack(ctx, rec)
		return nil
	}

	n, err := c.store.IncrRetry(ctx, cmd.ID)
	if err != nil {
		c.logger.Error("counting retry failed", "command_id", cmd.ID, "error", err)
	}
	c.record(cmd.DeviceID, "retried", cmd.Attempt)
	c.logger.Info("command retried", "command_id", cmd.ID, "attempt", cmd.Attempt, "count", n)

	res, err := future.Wait(ctx)
	if err != nil {
		// Shutting down with the outcome unknown; the next run re-checks the counter.
		c.pushBack(ctx, rec)
		return nil
	}

	if res.Success {
		if err := c.store.ClearRetry(ctx, cmd.ID); err != nil {
			return err
		}
		c.record(cmd.DeviceID, "succeeded", cmd.Attempt)
		return nil
	}

	rec.Command.Attempt = cmd.Attempt
	rec.Status = res.Status
	rec.Code = res.Code
	rec.LastError = res.Message
	rec.FailedAt = c.now().UTC()
	c.pushBack(ctx, rec)
	return nil
}

type abandonedPayload struct {
	CommandID string          `json:"command_id"`
	Kind      string          `json:"kind"`
	Attempts  int             `json:"attempts"`
	Status    dispatch.Status `json:"status"`
	Code      string          `json:"code"`
	LastError string          `json:"last_error"`
}

func (c *Coordinator) abandon(ctx context.Context, rec *Record, count int) error {
	cmd := rec.Command
	rec.Status = dispatch.StatusAbandoned
	if err := c.store.Push(ctx, c.opts.AbandonedKey, *rec); err != nil {
		c.pushBack(ctx, rec)
		return err
	}
	if err := c.store.ClearRetry(ctx, cmd.ID); err != nil {
		c.logger.Error("clearing retry count failed", "command_id", cmd.ID, "error", err)
	}

	c.logger.Warn("command abandoned", "command_id", cmd.ID, "device_id", cmd.DeviceID, "attempts", count, "last_error", rec.LastError)
	c.record(cmd.DeviceID, "abandoned", count)

	if c.publisher != nil {
		ev, err := events.New(events.CommandAbandoned, cmd.DeviceID, "", abandonedPayload{
			CommandID: cmd.ID,
			Kind:      string(cmd.Kind),
			Attempts:  count,
			Status:    dispatch.StatusAbandoned,
			Code:      dispatch.StatusAbandoned.Code(),
			LastError: rec.LastError,
		})
		if err != nil {
			c.logger.Error("building abandoned event failed", "command_id", cmd.ID, "error", err)
			return nil
		}
		c.publisher.Publish(ctx, ev)
	}
	return nil
}

func (c *Coordinator) pushBack(ctx context.Context, rec *Record) {
	if err := c.store.Push(context.WithoutCancel(ctx), c.opts.QueueKey, *rec); err != nil {
		c.logger.Error("requeueing dead letter failed, record lost", "command_id", rec.Command.ID, "error", err)
	}
}

func (c *Coordinator) record(deviceID, action string, attempt int) {
	if c.recorder != nil {
		c.recorder.WriteRetryEvent(deviceID, action, attempt)
	}
}

// sleep waits for d or until ctx is done. It returns false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Stats counts the records on the dead-letter and abandoned lists.
type Stats struct {
	Queued    int `json:"queued"`
	Abandoned int `json:"abandoned"`
}

// Stats returns the current list lengths.
func (c *Coordinator) Stats(ctx context.Context) (Stats, error) {
	queued, err := c.store.Len(ctx, c.opts.QueueKey)
	if err != nil {
		return Stats{}, err
	}
	abandoned, err := c.store.Len(ctx, c.opts.AbandonedKey)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Queued: queued, Abandoned: abandoned}, nil
}
