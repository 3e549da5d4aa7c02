// Package tenant implements per-tenant admission control.
//
// Every device resolves to a tenant: an explicit mapping when one exists,
// otherwise the synthesized tenant "device:<id>" so unmapped devices are
// isolated from each other. Each tenant owns a counting semaphore; a
// Ticket is one slot of it. Tenants never share slots, so one tenant's
// exhaustion cannot block another.
//
// Usage:
//
//	mgr := tenant.NewManager(tenant.Config{DefaultLimit: 4, Limits: map[string]int{"acme": 16}})
//	ticket, err := mgr.Acquire(ctx, "door-7")
//	if err != nil {
//	    return err // wraps ErrCancelled or ErrDeadlineExceeded
//	}
//	defer ticket.Release()
package tenant
