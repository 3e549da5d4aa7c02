// Package gateway connects the device gateway's MQTT callbacks to accessd.
//
// The gateway owns the vendor SDK session with each access-control device.
// It reports device lifecycle on three topics:
//
//	accessd/device/{id}/register   Registration JSON
//	accessd/device/{id}/heartbeat  empty or any payload
//	accessd/device/{id}/offline    empty or any payload
//
// Listener applies each callback to the device registry and publishes the
// matching event. Mirror republishes domain events under accessd/events/{type}
// for consumers that cannot read the durable log.
package gateway
