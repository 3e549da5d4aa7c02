package mqtt

import "testing"

func TestTopicBuilders(t *testing.T) {
	topics := NewTopics("/site-a/")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"request", topics.DeviceRequest("door-7", "req-1"), "site-a/request/door-7/req-1"},
		{"response", topics.DeviceResponse("req-1"), "site-a/response/req-1"},
		{"all responses", topics.AllResponses(), "site-a/response/+"},
		{"lifecycle", topics.DeviceLifecycle("door-7", LifecycleRegister), "site-a/device/door-7/register"},
		{"all registrations", topics.AllDeviceRegistrations(), "site-a/device/+/register"},
		{"all heartbeats", topics.AllDeviceHeartbeats(), "site-a/device/+/heartbeat"},
		{"all offline", topics.AllDeviceOffline(), "site-a/device/+/offline"},
		{"status", topics.SystemStatus(), "site-a/system/status"},
		{"event", topics.Event("command.completed"), "site-a/events/command.completed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestNewTopics_DefaultPrefix(t *testing.T) {
	if got := NewTopics("").SystemStatus(); got != "accessd/system/status" {
		t.Errorf("SystemStatus() = %q", got)
	}
	if got := (Topics{}).DeviceResponse("x"); got != "accessd/response/x" {
		t.Errorf("zero Topics DeviceResponse() = %q", got)
	}
}

func TestDeviceIDFromLifecycle(t *testing.T) {
	topics := NewTopics("accessd")

	tests := []struct {
		topic      string
		wantID     string
		wantAction string
		wantOK     bool
	}{
		{"accessd/device/door-7/heartbeat", "door-7", "heartbeat", true},
		{"accessd/device/door-7/register", "door-7", "register", true},
		{"accessd/device//heartbeat", "", "", false},
		{"accessd/device/door-7", "", "", false},
		{"accessd/device/door-7/heartbeat/extra", "", "", false},
		{"other/device/door-7/heartbeat", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			id, action, ok := topics.DeviceIDFromLifecycle(tt.topic)
			if ok != tt.wantOK || id != tt.wantID || action != tt.wantAction {
				t.Errorf("got (%q, %q, %v), want (%q, %q, %v)", id, action, ok, tt.wantID, tt.wantAction, tt.wantOK)
			}
		})
	}
}

func TestRequestIDFromResponse(t *testing.T) {
	topics := NewTopics("accessd")

	if id, ok := topics.RequestIDFromResponse("accessd/response/req-9"); !ok || id != "req-9" {
		t.Errorf("got (%q, %v)", id, ok)
	}
	for _, bad := range []string{"accessd/response/", "accessd/response/a/b", "accessd/request/x/y"} {
		if _, ok := topics.RequestIDFromResponse(bad); ok {
			t.Errorf("RequestIDFromResponse(%q) should fail", bad)
		}
	}
}
