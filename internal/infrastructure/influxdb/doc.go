// Package influxdb records accessd command telemetry in InfluxDB.
//
// It wraps influxdb-client-go v2 with a non-blocking, batched write API.
// Measurements:
//
//	command_outcome  tags: device_id, tenant_id, kind, status   fields: latency_ms, attempt
//	dispatch_queue   tags: site                                 fields: depth, capacity, in_flight
//	tenant_inflight  tags: tenant_id                            fields: in_flight, limit
//	retry            tags: device_id, action                    fields: attempt
//
// Usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//
//	client.WriteCommandOutcome("door-7", "acme", "open_door", "succeeded", 0, 180*time.Millisecond)
package influxdb
