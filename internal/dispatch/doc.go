// Package dispatch implements the command dispatcher: a bounded FIFO queue
// in front of a fixed worker pool that executes commands on devices.
//
// # Lifecycle of a command
//
//	Submit ──▶ queue ──▶ worker ──▶ deadline check
//	                                    │
//	                                    ▼
//	                              registry check ──▶ device lane ──▶ tenant ticket
//	                                                                      │
//	                                                                      ▼
//	                                                          isapi request ──▶ Driver.Invoke
//	                                                                      │
//	                                                                      ▼
//	                                                       Future resolved exactly once
//
// The caller holds a Future. It is resolved by exactly one of: the worker
// (success, driver error, offline, timeout), the caller's context being
// cancelled, or Close. Any later resolution attempt is dropped, which makes
// a driver response arriving after a timeout harmless.
//
// # Concurrency limits
//
// A command holds a device lane position (when per-device limits are
// enabled) and a tenant ticket for as long as the driver call runs. Both are
// released when the driver returns, even if the Future was already resolved
// by a timeout.
//
// A command that cannot start yet is parked rather than holding a worker, so
// a saturated tenant or device never delays commands for others. Lane
// positions follow submission order, which makes a device with a lane limit
// of one execute its commands strictly first in, first out. Tenant slots go
// to parked commands in the order they started waiting. A parked command
// still ends at its deadline, on caller cancellation, or on Close.
package dispatch
