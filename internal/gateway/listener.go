package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/device"
	"github.com/nerrad567/gray-logic-access/internal/events"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/mqtt"
)

// Offline reasons carried in device.offline payloads.
const (
	ReasonGateway          = "gateway"
	ReasonHeartbeatTimeout = "heartbeat_timeout"
)

// publishTimeout bounds event publication from a broker callback.
const publishTimeout = 5 * time.Second

// Subscriber is the MQTT surface the listener needs. *mqtt.Client satisfies it.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// TenantResolver maps a device to the tenant stamped on its events.
type TenantResolver interface {
	Resolve(deviceID string) string
}

// Logger is the logging interface used by the listener.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

type registeredPayload struct {
	NativeHandle int    `json:"native_handle"`
	IP           string `json:"ip,omitempty"`
	Model        string `json:"model,omitempty"`
	Reregistered bool   `json:"reregistered"`
}

type offlinePayload struct {
	Reason string `json:"reason"`
}

// Listener handles device lifecycle callbacks.
type Listener struct {
	sub       Subscriber
	topics    mqtt.Topics
	qos       byte
	registry  *device.Registry
	publisher events.Publisher
	tenants   TenantResolver
	logger    Logger
}

// NewListener creates a listener. publisher and tenants may be nil.
func NewListener(sub Subscriber, topics mqtt.Topics, qos byte, registry *device.Registry,
	publisher events.Publisher, tenants TenantResolver) *Listener {
	return &Listener{
		sub:       sub,
		topics:    topics,
		qos:       qos,
		registry:  registry,
		publisher: publisher,
		tenants:   tenants,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the listener.
func (l *Listener) SetLogger(logger Logger) {
	l.logger = logger
}

func (l *Listener) filters() []string {
	return []string{
		l.topics.AllDeviceRegistrations(),
		l.topics.AllDeviceHeartbeats(),
		l.topics.AllDeviceOffline(),
	}
}

// Start subscribes to the lifecycle topics.
func (l *Listener) Start() error {
	for _, topic := range l.filters() {
		if err := l.sub.Subscribe(topic, l.qos, l.HandleMessage); err != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
		l.logger.Info("subscribed to device lifecycle", "topic", topic)
	}
	return nil
}

// Stop unsubscribes from the lifecycle topics.
func (l *Listener) Stop() error {
	var errs []error
	for _, topic := range l.filters() {
		if err := l.sub.Unsubscribe(topic); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HandleMessage routes one lifecycle message by its action.
func (l *Listener) HandleMessage(topic string, payload []byte) error {
	deviceID, action, ok := l.topics.DeviceIDFromLifecycle(topic)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnexpectedTopic, topic)
	}

	switch action {
	case mqtt.LifecycleRegister:
		return l.handleRegister(deviceID, payload)
	case mqtt.LifecycleHeartbeat:
		return l.handleHeartbeat(deviceID)
	case mqtt.LifecycleOffline:
		return l.handleOffline(deviceID)
	default:
		return fmt.Errorf("%w: unknown action %q", ErrUnexpectedTopic, action)
	}
}

func (l *Listener) handleRegister(deviceID string, payload []byte) error {
	var reg device.Registration
	if err := json.Unmarshal(payload, &reg); err != nil {
		return fmt.Errorf("%w: %w", ErrBadPayload, err)
	}
	if reg.DeviceID == "" {
		reg.DeviceID = deviceID
	}
	if reg.DeviceID != deviceID {
		return fmt.Errorf("%w: device_id %q does not match topic %q", ErrBadPayload, reg.DeviceID, deviceID)
	}
	if err := device.ValidateRegistration(reg); err != nil {
		return err
	}

	rec, created := l.registry.Register(reg)
	l.publish(events.DeviceRegistered, deviceID, registeredPayload{
		NativeHandle: rec.NativeHandle,
		IP:           rec.IP,
		Model:        rec.Model,
		Reregistered: !created,
	})
	return nil
}

func (l *Listener) handleHeartbeat(deviceID string) error {
	if err := l.registry.Heartbeat(deviceID); err != nil {
		l.logger.Debug("heartbeat from unregistered device", "device_id", deviceID)
		return err
	}
	l.publish(events.DeviceHeartbeat, deviceID, nil)
	return nil
}

func (l *Listener) handleOffline(deviceID string) error {
	if _, err := l.registry.Disconnect(deviceID); err != nil {
		return err
	}
	l.publish(events.DeviceOffline, deviceID, offlinePayload{Reason: ReasonGateway})
	return nil
}

// OnExpired publishes device.offline for a record dropped by the heartbeat
// sweeper. Pass it to device.Registry.RunSweeper.
func (l *Listener) OnExpired(rec device.Record) {
	l.logger.Debug("publishing heartbeat expiry", "device_id", rec.DeviceID)
	l.publish(events.DeviceOffline, rec.DeviceID, offlinePayload{Reason: ReasonHeartbeatTimeout})
}

func (l *Listener) publish(typ events.Type, deviceID string, payload any) {
	if l.publisher == nil {
		return
	}
	tenantID := ""
	if l.tenants != nil {
		tenantID = l.tenants.Resolve(deviceID)
	}
	ev, err := events.New(typ, deviceID, tenantID, payload)
	if err != nil {
		l.logger.Warn("building lifecycle event", "type", typ, "device_id", deviceID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	l.publisher.Publish(ctx, ev)
}
