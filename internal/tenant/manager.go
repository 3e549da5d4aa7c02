package tenant

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Logger is the logging interface used by the Manager.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// SyntheticPrefix marks tenants synthesized for unmapped devices.
const SyntheticPrefix = "device:"

// Config holds the admission limits.
type Config struct {
	DefaultLimit int
	Limits       map[string]int
}

// Manager resolves devices to tenants and admits work per tenant.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Manager struct {
	limiter *Limiter
	repo    Repository
	logger  Logger

	mu       sync.RWMutex
	mappings map[string]string
}

// NewManager creates a manager with no device mappings.
func NewManager(cfg Config) *Manager {
	return &Manager{
		limiter:  NewLimiter(cfg.DefaultLimit, cfg.Limits),
		logger:   noopLogger{},
		mappings: make(map[string]string),
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// SetRepository enables persistence of mapping changes.
func (m *Manager) SetRepository(repo Repository) {
	m.repo = repo
}

// LoadMappings replaces the in-memory mappings with the repository's.
func (m *Manager) LoadMappings(ctx context.Context) error {
	if m.repo == nil {
		return nil
	}
	mappings, err := m.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading tenant mappings: %w", err)
	}

	m.mu.Lock()
	m.mappings = mappings
	m.mu.Unlock()

	m.logger.Info("tenant mappings loaded", "count", len(mappings))
	return nil
}

// Resolve returns the tenant for deviceID.
func (m *Manager) Resolve(deviceID string) string {
	m.mu.RLock()
	tenantID, ok := m.mappings[deviceID]
	m.mu.RUnlock()
	if ok {
		return tenantID
	}
	return SyntheticPrefix + deviceID
}

// Acquire blocks until deviceID's tenant has a free slot or ctx is done.
//
// Parameters:
//   - ctx: Bounds the wait; its deadline or cancellation ends it
//   - deviceID: Device the work targets
//
// Returns:
//   - *Ticket: Held slot for the resolved tenant
//   - error: Wraps ErrCancelled or ErrDeadlineExceeded
func (m *Manager) Acquire(ctx context.Context, deviceID string) (*Ticket, error) {
	return m.limiter.Acquire(ctx, m.Resolve(deviceID))
}

// TryAcquire takes a slot of deviceID's tenant only if one is free now.
// The ticket's Key is the tenant it counts against.
func (m *Manager) TryAcquire(deviceID string) (*Ticket, bool) {
	return m.limiter.TryAcquire(m.Resolve(deviceID))
}

// SetMapping assigns deviceID to tenantID, persisting it when a repository is set.
// Tickets already held keep counting against the previous tenant.
func (m *Manager) SetMapping(ctx context.Context, deviceID, tenantID string) error {
	if deviceID == "" || tenantID == "" {
		return ErrInvalidMapping
	}
	if m.repo != nil {
		if err := m.repo.Upsert(ctx, deviceID, tenantID); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.mappings[deviceID] = tenantID
	m.mu.Unlock()

	m.logger.Info("tenant mapping set", "device_id", deviceID, "tenant_id", tenantID)
	return nil
}

// RemoveMapping reverts deviceID to its synthesized tenant.
func (m *Manager) RemoveMapping(ctx context.Context, deviceID string) error {
	m.mu.RLock()
	_, ok := m.mappings[deviceID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrMappingNotFound, deviceID)
	}

	if m.repo != nil {
		if err := m.repo.Delete(ctx, deviceID); err != nil {
			return err
		}
	}

	m.mu.Lock()
	delete(m.mappings, deviceID)
	m.mu.Unlock()

	m.logger.Info("tenant mapping removed", "device_id", deviceID)
	return nil
}

// Mappings returns a copy of the explicit device→tenant mappings.
func (m *Manager) Mappings() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]string, len(m.mappings))
	for k, v := range m.mappings {
		out[k] = v
	}
	return out
}

// Limit returns the concurrency limit of tenantID.
func (m *Manager) Limit(tenantID string) int {
	return m.limiter.Limit(tenantID)
}

// Usage returns the slot usage of tenantID.
func (m *Manager) Usage(tenantID string) Usage {
	return m.limiter.Usage(tenantID)
}

// Stats returns slot usage for every tenant that has acquired a ticket.
func (m *Manager) Stats() []Usage {
	return m.limiter.Snapshot()
}

// Recorder receives per-tenant in-flight gauges.
type Recorder interface {
	WriteTenantInFlight(tenantID string, inFlight, limit int)
}

// RunMetrics reports Stats to rec every interval until ctx is cancelled.
func (m *Manager) RunMetrics(ctx context.Context, interval time.Duration, rec Recorder) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, u := range m.Stats() {
				rec.WriteTenantInFlight(u.Key, int(u.InFlight), u.Limit)
			}
		}
	}
}
