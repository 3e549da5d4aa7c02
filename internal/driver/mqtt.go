package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-access/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-access/internal/isapi"
)

// Broker is the MQTT surface the driver needs. *mqtt.Client satisfies it.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Logger is the logging interface used by the driver.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// MQTTDriver correlates requests and gateway responses by request ID.
//
// Thread Safety:
//   - Invoke is safe for concurrent use.
type MQTTDriver struct {
	broker Broker
	topics mqtt.Topics
	qos    byte
	logger Logger

	mu      sync.Mutex
	started bool
	pending map[string]chan isapi.Response
}

// NewMQTTDriver creates a driver. Call Start before the first Invoke.
func NewMQTTDriver(broker Broker, topics mqtt.Topics, qos byte) *MQTTDriver {
	return &MQTTDriver{
		broker:  broker,
		topics:  topics,
		qos:     qos,
		logger:  noopLogger{},
		pending: make(map[string]chan isapi.Response),
	}
}

// SetLogger sets the logger for the driver.
func (d *MQTTDriver) SetLogger(logger Logger) {
	d.logger = logger
}

// Start subscribes to gateway responses.
func (d *MQTTDriver) Start() error {
	if err := d.broker.Subscribe(d.topics.AllResponses(), d.qos, d.handleResponse); err != nil {
		return fmt.Errorf("subscribing to responses: %w", err)
	}
	d.mu.Lock()
	d.started = true
	d.mu.Unlock()
	return nil
}

// Stop unsubscribes and fails every outstanding request.
func (d *MQTTDriver) Stop() error {
	d.mu.Lock()
	d.started = false
	for id, ch := range d.pending {
		ch <- isapi.Response{ErrCode: ErrCodeDriver, Body: "driver stopped"}
		delete(d.pending, id)
	}
	d.mu.Unlock()

	return d.broker.Unsubscribe(d.topics.AllResponses())
}

// Invoke sends req to deviceID and waits for the gateway's answer.
//
// Parameters:
//   - ctx: Bounds the wait; its deadline is forwarded to the gateway
//   - deviceID: Device the request is addressed to; selects the topic
//   - handle: Native handle from the device's registration, passed through
//     for the gateway's SDK call
//   - req: ISAPI request to execute
//
// Returns:
//   - isapi.Response: The gateway's answer, or ErrCode -1 if the request
//     could not be sent or no answer arrived in time
func (d *MQTTDriver) Invoke(ctx context.Context, deviceID string, handle int, req isapi.Request) isapi.Response {
	if deviceID == "" {
		return failed(ErrNoDevice)
	}

	requestID := uuid.NewString()
	ch := make(chan isapi.Response, 1)

	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return failed(ErrNotStarted)
	}
	d.pending[requestID] = ch
	d.mu.Unlock()
	defer d.forget(requestID)

	msg := requestMessage{
		RequestID: requestID,
		DeviceID:  deviceID,
		Handle:    handle,
		URL:       req.URL,
		Method:    req.Method,
		Body:      req.Body,
	}
	if dl, ok := ctx.Deadline(); ok {
		msg.Deadline = dl.UTC()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return failed(fmt.Errorf("encoding request: %w", err))
	}

	if err := d.broker.Publish(d.topics.DeviceRequest(deviceID, requestID), payload, d.qos, false); err != nil {
		return failed(err)
	}

	select {
	case resp := <-ch:
		return resp
	case <-ctx.Done():
		d.logger.Warn("gateway response not received", "device_id", deviceID, "request_id", requestID, "url", req.URL)
		return failed(ctx.Err())
	}
}

func (d *MQTTDriver) forget(requestID string) {
	d.mu.Lock()
	delete(d.pending, requestID)
	d.mu.Unlock()
}

// handleResponse routes a gateway answer to the waiting Invoke.
func (d *MQTTDriver) handleResponse(topic string, payload []byte) error {
	requestID, ok := d.topics.RequestIDFromResponse(topic)
	if !ok {
		return fmt.Errorf("unexpected response topic %q", topic)
	}

	var msg responseMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decoding response %s: %w", requestID, err)
	}

	d.mu.Lock()
	ch, ok := d.pending[requestID]
	delete(d.pending, requestID)
	d.mu.Unlock()

	if !ok {
		d.logger.Debug("late or unknown gateway response dropped", "request_id", requestID)
		return nil
	}
	ch <- isapi.Response{OK: msg.OK, Body: msg.Body, ErrCode: msg.ErrCode}
	return nil
}

// Pending returns the number of requests awaiting an answer.
func (d *MQTTDriver) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func failed(err error) isapi.Response {
	return isapi.Response{ErrCode: ErrCodeDriver, Body: err.Error()}
}
