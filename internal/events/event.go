package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/eventlog"
)

// Type identifies what happened.
type Type string

// Event types.
const (
	DeviceRegistered Type = "device.registered"
	DeviceHeartbeat  Type = "device.heartbeat"
	DeviceOffline    Type = "device.offline"
	CommandCompleted Type = "command.completed"
	WhitelistResult  Type = "whitelist.result"
	CommandAbandoned Type = "command.abandoned"
)

// Event is one domain occurrence as seen by streaming clients.
type Event struct {
	// ID is the log entry ID. Set on read, empty before publishing.
	ID        string          `json:"id,omitempty"`
	Type      Type            `json:"type"`
	DeviceID  string          `json:"device_id"`
	TenantID  string          `json:"tenant_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// New builds an event with payload marshalled to JSON and the current time.
func New(typ Type, deviceID, tenantID string, payload any) (Event, error) {
	ev := Event{
		Type:      typ,
		DeviceID:  deviceID,
		TenantID:  tenantID,
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("marshalling %s payload: %w", typ, err)
		}
		ev.Payload = raw
	}
	return ev, nil
}

// Log entry field names.
const (
	fieldType      = "type"
	fieldDeviceID  = "device_id"
	fieldTenantID  = "tenant_id"
	fieldPayload   = "payload"
	fieldTimestamp = "timestamp"
)

func encode(ev Event) map[string]string {
	fields := map[string]string{
		fieldType:      string(ev.Type),
		fieldDeviceID:  ev.DeviceID,
		fieldTimestamp: ev.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if ev.TenantID != "" {
		fields[fieldTenantID] = ev.TenantID
	}
	if len(ev.Payload) > 0 {
		fields[fieldPayload] = string(ev.Payload)
	}
	return fields
}

func decode(e eventlog.Entry) (Event, error) {
	typ := e.Fields[fieldType]
	if typ == "" {
		return Event{}, fmt.Errorf("%w: %s: missing type", ErrUndecodable, e.ID)
	}
	ts, err := time.Parse(time.RFC3339Nano, e.Fields[fieldTimestamp])
	if err != nil {
		return Event{}, fmt.Errorf("%w: %s: timestamp: %w", ErrUndecodable, e.ID, err)
	}

	ev := Event{
		ID:        e.ID,
		Type:      Type(typ),
		DeviceID:  e.Fields[fieldDeviceID],
		TenantID:  e.Fields[fieldTenantID],
		Timestamp: ts,
	}
	if p, ok := e.Fields[fieldPayload]; ok {
		if !json.Valid([]byte(p)) {
			return Event{}, fmt.Errorf("%w: %s: payload is not JSON", ErrUndecodable, e.ID)
		}
		ev.Payload = json.RawMessage(p)
	}
	return ev, nil
}
