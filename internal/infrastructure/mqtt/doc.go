// Package mqtt connects accessd to the MQTT broker that fronts the device gateway.
//
// The gateway process owns the vendor SDK sessions. accessd talks to it over MQTT:
//
//	accessd  ──request──▶  broker  ──▶  gateway  ──SDK──▶  door controllers
//	accessd  ◀─response──  broker  ◀──  gateway
//	accessd  ◀─register/heartbeat/offline── gateway
//
// This package manages:
//   - Connection with auto-reconnect and subscription restoration
//   - Last Will and Testament on the system status topic
//   - Publish/subscribe with input validation and handler panic recovery
//   - Topic builders for the request/response and device lifecycle hierarchy
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := mqtt.NewTopics(cfg.MQTT.TopicPrefix)
//	err = client.Subscribe(topics.AllDeviceHeartbeats(), 1, func(topic string, payload []byte) error {
//	    deviceID, _ := topics.DeviceIDFromLifecycle(topic)
//	    return registry.Heartbeat(deviceID)
//	})
package mqtt
