package gateway

import (
	"context"
	"encoding/json"

	"github.com/nerrad567/gray-logic-access/internal/events"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/mqtt"
)

// MQTTPublisher is satisfied by *mqtt.Client.
type MQTTPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Mirror republishes events to MQTT. Failures are logged and dropped; the
// durable log remains the source of truth.
type Mirror struct {
	client MQTTPublisher
	topics mqtt.Topics
	qos    byte
	logger Logger
}

// NewMirror creates an MQTT event mirror.
func NewMirror(client MQTTPublisher, topics mqtt.Topics, qos byte) *Mirror {
	return &Mirror{client: client, topics: topics, qos: qos, logger: noopLogger{}}
}

// SetLogger sets the logger for the mirror.
func (m *Mirror) SetLogger(logger Logger) {
	m.logger = logger
}

// Publish implements events.Publisher.
func (m *Mirror) Publish(_ context.Context, ev events.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		m.logger.Warn("encoding mirrored event", "type", ev.Type, "error", err)
		return
	}
	if err := m.client.Publish(m.topics.Event(string(ev.Type)), payload, m.qos, false); err != nil {
		m.logger.Debug("mirroring event to mqtt", "type", ev.Type, "device_id", ev.DeviceID, "error", err)
	}
}
