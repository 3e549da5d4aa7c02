package device

import "time"

// Record is the connection state of one registered device.
type Record struct {
	DeviceID      string     `json:"device_id"`
	NativeHandle  int        `json:"native_handle"`
	IP            string     `json:"ip,omitempty"`
	Port          int        `json:"port,omitempty"`
	Model         string     `json:"model,omitempty"`
	Serial        string     `json:"serial,omitempty"`
	Firmware      string     `json:"firmware,omitempty"`
	IsConnected   bool       `json:"is_connected"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
	RegisteredAt  time.Time  `json:"registered_at"`
}

// Copy returns a copy of r that shares no memory with it.
func (r *Record) Copy() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.LastHeartbeat != nil {
		hb := *r.LastHeartbeat
		c.LastHeartbeat = &hb
	}
	return &c
}

// lastSeen is the most recent sign of life from the device.
func (r *Record) lastSeen() time.Time {
	if r.LastHeartbeat != nil {
		return *r.LastHeartbeat
	}
	return r.RegisteredAt
}

// Registration is the payload of a gateway registration callback.
type Registration struct {
	DeviceID     string `json:"device_id"`
	NativeHandle int    `json:"native_handle"`
	IP           string `json:"ip,omitempty"`
	Port         int    `json:"port,omitempty"`
	Model        string `json:"model,omitempty"`
	Serial       string `json:"serial,omitempty"`
	Firmware     string `json:"firmware,omitempty"`
}
