package device

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry holds the connection state of every registered device.
//
// All public methods are thread-safe.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record
	logger  Logger
	now     func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		records: make(map[string]*Record),
		logger:  noopLogger{},
		now:     time.Now,
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Register creates or replaces the record for reg.DeviceID and marks it connected.
//
// A device re-registering (gateway reconnect, new SDK session) keeps a single
// record; its handle, address and timestamps are replaced.
//
// Returns:
//   - *Record: Copy of the stored record
//   - bool: True if no record existed before
func (r *Registry) Register(reg Registration) (*Record, bool) {
	now := r.now().UTC()

	r.mu.Lock()
	_, existed := r.records[reg.DeviceID]
	rec := &Record{
		DeviceID:      reg.DeviceID,
		NativeHandle:  reg.NativeHandle,
		IP:            reg.IP,
		Port:          reg.Port,
		Model:         reg.Model,
		Serial:        reg.Serial,
		Firmware:      reg.Firmware,
		IsConnected:   true,
		LastHeartbeat: &now,
		RegisteredAt:  now,
	}
	r.records[reg.DeviceID] = rec
	out := rec.Copy()
	r.mu.Unlock()

	if existed {
		r.logger.Info("device re-registered", "device_id", reg.DeviceID, "handle", reg.NativeHandle)
	} else {
		r.logger.Info("device registered", "device_id", reg.DeviceID, "handle", reg.NativeHandle, "ip", reg.IP)
	}
	return out, !existed
}

// Heartbeat records a sign of life from deviceID.
// Returns ErrDeviceNotFound if the device is not registered.
func (r *Registry) Heartbeat(deviceID string) error {
	now := r.now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[deviceID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}
	rec.LastHeartbeat = &now
	rec.IsConnected = true
	return nil
}

// Disconnect removes the record for deviceID.
//
// Returns:
//   - *Record: The removed record, marked disconnected
//   - error: ErrDeviceNotFound if the device is not registered
func (r *Registry) Disconnect(deviceID string) (*Record, error) {
	r.mu.Lock()
	rec, ok := r.records[deviceID]
	if ok {
		delete(r.records, deviceID)
	}
	r.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}
	out := rec.Copy()
	out.IsConnected = false

	r.logger.Info("device disconnected", "device_id", deviceID)
	return out, nil
}

// Get returns a copy of the record for deviceID.
func (r *Registry) Get(deviceID string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[deviceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}
	return rec.Copy(), nil
}

// IsConnected reports whether deviceID is registered and connected.
func (r *Registry) IsConnected(deviceID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[deviceID]
	return ok && rec.IsConnected
}

// List returns copies of all records sorted by device ID.
func (r *Registry) List() []Record {
	r.mu.RLock()
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec.Copy())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// Count returns the number of registered devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Sweep removes every record whose last sign of life is older than timeout.
// The removed records are returned marked disconnected.
func (r *Registry) Sweep(timeout time.Duration) []Record {
	cutoff := r.now().UTC().Add(-timeout)

	r.mu.Lock()
	var expired []Record
	for id, rec := range r.records {
		if rec.lastSeen().Before(cutoff) {
			c := rec.Copy()
			c.IsConnected = false
			expired = append(expired, *c)
			delete(r.records, id)
		}
	}
	r.mu.Unlock()

	for _, rec := range expired {
		r.logger.Warn("device heartbeat expired", "device_id", rec.DeviceID, "last_seen", rec.lastSeen())
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].DeviceID < expired[j].DeviceID })
	return expired
}

// RunSweeper calls Sweep every interval until ctx is cancelled.
// onExpired, if non-nil, is called once per removed record outside the lock.
func (r *Registry) RunSweeper(ctx context.Context, interval, timeout time.Duration, onExpired func(Record)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, rec := range r.Sweep(timeout) {
				if onExpired != nil {
					onExpired(rec)
				}
			}
		}
	}
}
