// Package device provides the Device Registry for accessd.
//
// The registry is the source of truth for "is this device reachable now".
// Records are created by the gateway's registration callback, refreshed by
// heartbeats and destroyed on explicit disconnect or when the heartbeat
// sweep finds them stale.
//
// # Architecture
//
//	┌──────────────────────┐   register / heartbeat / offline   ┌──────────────────┐
//	│  Gateway listener    │ ─────────────────────────────────▶ │     Registry     │
//	│  (internal/gateway)  │                                    │  map[id]*Record  │
//	└──────────────────────┘                                    │  sync.RWMutex    │
//	                                                            └────────┬─────────┘
//	┌──────────────────────┐        Get / IsConnected                    │
//	│  Dispatcher workers  │ ◀───────────────────────────────────────────┘
//	└──────────────────────┘
//
// # Thread Safety
//
// Every mutation happens under the registry lock, so a heartbeat racing a
// sweep or a re-registration never observes a half-updated record. Records
// handed out are copies; mutating them does not affect the registry.
//
// # Usage
//
//	reg := device.NewRegistry()
//	rec, created := reg.Register(device.Registration{DeviceID: "door-7", NativeHandle: 3})
//	if reg.IsConnected("door-7") {
//	    // dispatch to rec.NativeHandle
//	}
package device
