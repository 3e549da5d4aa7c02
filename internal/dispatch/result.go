package dispatch

import (
	"context"
	"encoding/json"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/isapi"
)

// Status classifies how a command ended.
type Status string

const (
	StatusSucceeded     Status = "succeeded"
	StatusDeviceOffline Status = "device_offline"
	StatusTimeout       Status = "timeout"
	StatusDriverError   Status = "driver_error"
	StatusQueueFull     Status = "queue_full"
	StatusCancelled     Status = "cancelled"
	StatusAbandoned     Status = "abandoned"
)

// CodeOK is the result code of a successful command.
const CodeOK = "0"

// Code returns the result code reported for s. Driver errors report the
// vendor error code instead.
func (s Status) Code() string {
	switch s {
	case StatusSucceeded:
		return CodeOK
	case StatusDeviceOffline:
		return "DEVICE_OFFLINE"
	case StatusTimeout:
		return "TIMEOUT"
	case StatusDriverError:
		return "DRIVER_ERROR"
	case StatusQueueFull:
		return "QUEUE_FULL"
	case StatusCancelled:
		return "CANCELLED"
	case StatusAbandoned:
		return "ABANDONED"
	}
	return "UNKNOWN"
}

// Command is one operation on one device.
type Command struct {
	ID        string          `json:"id"`
	DeviceID  string          `json:"device_id"`
	Kind      isapi.Kind      `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	Deadline  time.Time       `json:"deadline"`

	// Attempt is 0 on first submission and counts retries after that.
	Attempt int `json:"attempt"`
}

// Result is the structured outcome handed back to callers.
type Result struct {
	Success   bool          `json:"success"`
	Code      string        `json:"code"`
	Message   string        `json:"message"`
	Status    Status        `json:"status"`
	CommandID string        `json:"command_id"`
	Attempt   int           `json:"attempt"`
	Raw       string        `json:"raw,omitempty"`
	Duration  time.Duration `json:"-"`
}

func failure(status Status, msg string) Result {
	return Result{Status: status, Code: status.Code(), Message: msg}
}

func fromResponse(resp isapi.Response) Result {
	if resp.OK {
		return Result{Success: true, Status: StatusSucceeded, Code: CodeOK, Message: "ok", Raw: resp.Body}
	}
	return Result{
		Status:  StatusDriverError,
		Code:    strconv.Itoa(resp.ErrCode),
		Message: "device returned error code " + strconv.Itoa(resp.ErrCode),
		Raw:     resp.Body,
	}
}

// Future is the single-assignment completion slot of a submitted command.
type Future struct {
	commandID string
	resolved  atomic.Bool
	done      chan struct{}
	result    Result
}

func newFuture(commandID string) *Future {
	return &Future{commandID: commandID, done: make(chan struct{})}
}

// claim reserves the single resolution. Only the caller that won the claim
// may call complete.
func (f *Future) claim() bool {
	return f.resolved.CompareAndSwap(false, true)
}

func (f *Future) complete(r Result) {
	f.result = r
	close(f.done)
}

// CommandID returns the ID of the command this future belongs to.
func (f *Future) CommandID() string {
	return f.commandID
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Resolved reports whether a result has been claimed. The result itself
// may not be readable until Done is closed.
func (f *Future) Resolved() bool {
	return f.resolved.Load()
}

// Result returns the result if Done is closed.
func (f *Future) Result() (Result, bool) {
	select {
	case <-f.done:
		return f.result, true
	default:
		return Result{}, false
	}
}

// Wait blocks until the result is available or ctx is done.
func (f *Future) Wait(ctx context.Context) (Result, error) {
	select {
	case <-f.done:
		return f.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
