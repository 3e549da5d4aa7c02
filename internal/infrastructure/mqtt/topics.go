package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix roots every accessd topic when none is configured.
const DefaultTopicPrefix = "accessd"

// Lifecycle actions published by the gateway under {prefix}/device/{id}/{action}.
const (
	LifecycleRegister  = "register"
	LifecycleHeartbeat = "heartbeat"
	LifecycleOffline   = "offline"
)

// Topics builds accessd topic names under a common prefix.
//
//	topics := mqtt.NewTopics("accessd")
//	topics.DeviceRequest("door-7", "req-1") // accessd/request/door-7/req-1
type Topics struct {
	Prefix string
}

// NewTopics returns a builder rooted at prefix, or DefaultTopicPrefix if empty.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix}
}

func (t Topics) root() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// DeviceRequest is where accessd sends an ISAPI request for the gateway to execute.
//
// Example: accessd/request/door-7/5f0c...
func (t Topics) DeviceRequest(deviceID, requestID string) string {
	return fmt.Sprintf("%s/request/%s/%s", t.root(), deviceID, requestID)
}

// DeviceResponse is where the gateway answers a request.
//
// Example: accessd/response/5f0c...
func (t Topics) DeviceResponse(requestID string) string {
	return fmt.Sprintf("%s/response/%s", t.root(), requestID)
}

// AllResponses matches every response topic.
func (t Topics) AllResponses() string {
	return t.root() + "/response/+"
}

// DeviceLifecycle is where the gateway reports a device event.
//
// Example: accessd/device/door-7/heartbeat
func (t Topics) DeviceLifecycle(deviceID, action string) string {
	return fmt.Sprintf("%s/device/%s/%s", t.root(), deviceID, action)
}

func (t Topics) AllDeviceRegistrations() string { return t.DeviceLifecycle("+", LifecycleRegister) }
func (t Topics) AllDeviceHeartbeats() string    { return t.DeviceLifecycle("+", LifecycleHeartbeat) }
func (t Topics) AllDeviceOffline() string       { return t.DeviceLifecycle("+", LifecycleOffline) }

// DeviceIDFromLifecycle extracts the device ID and action from a lifecycle topic.
// ok is false if topic is not {prefix}/device/{id}/{action}.
func (t Topics) DeviceIDFromLifecycle(topic string) (deviceID, action string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.root()+"/device/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// RequestIDFromResponse extracts the request ID from a response topic.
func (t Topics) RequestIDFromResponse(topic string) (string, bool) {
	id, found := strings.CutPrefix(topic, t.root()+"/response/")
	if !found || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// SystemStatus carries accessd's retained online/offline status (and LWT).
func (t Topics) SystemStatus() string {
	return t.root() + "/system/status"
}

// Event is where a domain event is mirrored for lightweight MQTT consumers.
//
// Example: accessd/events/command.completed
func (t Topics) Event(eventType string) string {
	return fmt.Sprintf("%s/events/%s", t.root(), eventType)
}
