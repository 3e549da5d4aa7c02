package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

const (
	measurementCommand = "command_outcome"
	measurementQueue   = "dispatch_queue"
	measurementTenant  = "tenant_inflight"
	measurementRetry   = "retry"
)

// WriteCommandOutcome records one resolved command.
//
// Parameters:
//   - deviceID, tenantID: Target and its tenant
//   - kind: Command kind (e.g. "open_door")
//   - status: Resolution status (e.g. "succeeded", "timeout")
//   - attempt: 0 for the first execution, n for the nth retry
//   - latency: Submit-to-resolution time
func (c *Client) WriteCommandOutcome(deviceID, tenantID, kind, status string, attempt int, latency time.Duration) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(commandPoint(deviceID, tenantID, kind, status, attempt, latency, time.Now()))
}

func commandPoint(deviceID, tenantID, kind, status string, attempt int, latency time.Duration, at time.Time) *write.Point {
	return write.NewPoint(measurementCommand,
		map[string]string{
			"device_id": deviceID,
			"tenant_id": tenantID,
			"kind":      kind,
			"status":    status,
		},
		map[string]interface{}{
			"latency_ms": float64(latency) / float64(time.Millisecond),
			"attempt":    attempt,
		},
		at,
	)
}

// WriteQueueDepth records the dispatcher's queue occupancy.
func (c *Client) WriteQueueDepth(depth, capacity, inFlight int) {
	if !c.IsConnected() {
		return
	}
	c.mu.RLock()
	site := c.site
	c.mu.RUnlock()

	c.writer.WritePoint(write.NewPoint(measurementQueue,
		map[string]string{"site": site},
		map[string]interface{}{
			"depth":     depth,
			"capacity":  capacity,
			"in_flight": inFlight,
		},
		time.Now(),
	))
}

// WriteTenantInFlight records how many tickets a tenant holds.
func (c *Client) WriteTenantInFlight(tenantID string, inFlight, limit int) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(write.NewPoint(measurementTenant,
		map[string]string{"tenant_id": tenantID},
		map[string]interface{}{
			"in_flight": inFlight,
			"limit":     limit,
		},
		time.Now(),
	))
}

// WriteRetryEvent records a retry pipeline action: "requeued", "retried",
// "succeeded" or "abandoned".
func (c *Client) WriteRetryEvent(deviceID, action string, attempt int) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(write.NewPoint(measurementRetry,
		map[string]string{
			"device_id": deviceID,
			"action":    action,
		},
		map[string]interface{}{"attempt": attempt},
		time.Now(),
	))
}
