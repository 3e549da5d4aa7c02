package driver

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-access/internal/isapi"
)

type published struct {
	topic   string
	payload []byte
}

// fakeBroker records publishes and lets tests inject inbound messages.
type fakeBroker struct {
	mu         sync.Mutex
	handlers   map[string]mqtt.MessageHandler
	published  chan published
	publishErr error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{handlers: make(map[string]mqtt.MessageHandler), published: make(chan published, 16)}
}

func (b *fakeBroker) Publish(topic string, payload []byte, _ byte, _ bool) error {
	if b.publishErr != nil {
		return b.publishErr
	}
	b.published <- published{topic, payload}
	return nil
}

func (b *fakeBroker) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	b.handlers[topic] = handler
	b.mu.Unlock()
	return nil
}

func (b *fakeBroker) Unsubscribe(topic string) error {
	b.mu.Lock()
	delete(b.handlers, topic)
	b.mu.Unlock()
	return nil
}

func (b *fakeBroker) deliver(t *testing.T, filter, topic string, payload []byte) error {
	t.Helper()
	b.mu.Lock()
	h, ok := b.handlers[filter]
	b.mu.Unlock()
	if !ok {
		t.Fatalf("no subscription for %s", filter)
	}
	return h(topic, payload)
}

func newTestDriver(t *testing.T) (*MQTTDriver, *fakeBroker, mqtt.Topics) {
	t.Helper()
	broker := newFakeBroker()
	topics := mqtt.NewTopics("accessd")
	d := NewMQTTDriver(broker, topics, 1)
	if err := d.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return d, broker, topics
}

func TestMQTTDriver_RoundTrip(t *testing.T) {
	d, broker, topics := newTestDriver(t)

	// Gateway: answer the first request it sees.
	go func() {
		p := <-broker.published
		var req requestMessage
		if err := json.Unmarshal(p.payload, &req); err != nil {
			t.Errorf("request payload: %v", err)
			return
		}
		if p.topic != topics.DeviceRequest("door-1", req.RequestID) {
			t.Errorf("request topic = %q", p.topic)
		}
		if req.Handle != 3 || req.URL != "/ISAPI/System/reboot" || req.Deadline.IsZero() {
			t.Errorf("request = %+v", req)
		}
		resp, _ := json.Marshal(responseMessage{RequestID: req.RequestID, OK: true, Body: "done"})
		if err := broker.deliver(t, topics.AllResponses(), topics.DeviceResponse(req.RequestID), resp); err != nil {
			t.Errorf("handleResponse() error = %v", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp := d.Invoke(ctx, "door-1", 3, isapi.Request{URL: "/ISAPI/System/reboot", Method: "PUT"})

	if !resp.OK || resp.Body != "done" {
		t.Errorf("Invoke() = %+v", resp)
	}
	if d.Pending() != 0 {
		t.Errorf("Pending() = %d after answer", d.Pending())
	}
}

func TestMQTTDriver_SharedHandleAddressesDevice(t *testing.T) {
	d, broker, topics := newTestDriver(t)

	// Both doors logged in without distinct handles; only the device ID
	// picks the topic.
	for _, id := range []string{"door-a", "door-b", "door-b", "door-a"} {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		d.Invoke(ctx, id, 0, isapi.Request{URL: "/ISAPI/AccessControl/RemoteControl/door/1", Method: "PUT"})
		cancel()

		p := <-broker.published
		var req requestMessage
		if err := json.Unmarshal(p.payload, &req); err != nil {
			t.Fatalf("request payload: %v", err)
		}
		if req.DeviceID != id || p.topic != topics.DeviceRequest(id, req.RequestID) {
			t.Errorf("request for %s sent to %s (device_id %q)", id, p.topic, req.DeviceID)
		}
	}
}

func TestMQTTDriver_Timeout(t *testing.T) {
	d, _, _ := newTestDriver(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	resp := d.Invoke(ctx, "door-1", 3, isapi.Request{URL: "/x", Method: "GET"})

	if resp.OK || resp.ErrCode != ErrCodeDriver {
		t.Errorf("Invoke() = %+v, want err code -1", resp)
	}
	if d.Pending() != 0 {
		t.Errorf("Pending() = %d after timeout", d.Pending())
	}
}

func TestMQTTDriver_LateResponseDropped(t *testing.T) {
	d, broker, topics := newTestDriver(t)
	resp, _ := json.Marshal(responseMessage{RequestID: "gone", OK: true})
	if err := broker.deliver(t, topics.AllResponses(), topics.DeviceResponse("gone"), resp); err != nil {
		t.Errorf("late response error = %v, want nil", err)
	}
	if err := broker.deliver(t, topics.AllResponses(), topics.DeviceResponse("x"), []byte("{")); err == nil {
		t.Error("malformed response accepted")
	}
	if d.Pending() != 0 {
		t.Errorf("Pending() = %d", d.Pending())
	}
}

func TestMQTTDriver_Failures(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(d *MQTTDriver, b *fakeBroker)
		deviceID string
		wantBody string
	}{
		{
			name:     "missing device id",
			setup:    func(*MQTTDriver, *fakeBroker) {},
			wantBody: "device id is required",
		},
		{
			name:     "publish error",
			setup:    func(_ *MQTTDriver, b *fakeBroker) { b.publishErr = errors.New("broker down") },
			deviceID: "door-1",
			wantBody: "broker down",
		},
		{
			name:     "stopped",
			setup:    func(d *MQTTDriver, _ *fakeBroker) { _ = d.Stop() },
			deviceID: "door-1",
			wantBody: "not active",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, broker, _ := newTestDriver(t)
			tt.setup(d, broker)

			resp := d.Invoke(context.Background(), tt.deviceID, 3, isapi.Request{URL: "/x"})
			if resp.OK || resp.ErrCode != ErrCodeDriver || !strings.Contains(resp.Body, tt.wantBody) {
				t.Errorf("Invoke() = %+v, want failure mentioning %q", resp, tt.wantBody)
			}
		})
	}
}

func TestMQTTDriver_StopFailsOutstanding(t *testing.T) {
	d, broker, _ := newTestDriver(t)

	done := make(chan isapi.Response, 1)
	go func() { done <- d.Invoke(context.Background(), "door-1", 3, isapi.Request{URL: "/x"}) }()
	<-broker.published

	if err := d.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	select {
	case resp := <-done:
		if resp.ErrCode != ErrCodeDriver {
			t.Errorf("Invoke() = %+v after Stop", resp)
		}
	case <-time.After(time.Second):
		t.Fatal("Invoke did not return after Stop")
	}
}
