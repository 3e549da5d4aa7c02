package device

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateRegistration(t *testing.T) {
	tests := []struct {
		name    string
		reg     Registration
		wantErr bool
	}{
		{"valid", Registration{DeviceID: "door-1", NativeHandle: 0, IP: "192.168.1.20", Port: 8000}, false},
		{"valid serial style id", Registration{DeviceID: "DS-K1T671M.2024:A1"}, false},
		{"empty id", Registration{}, true},
		{"id too long", Registration{DeviceID: strings.Repeat("a", 65)}, true},
		{"id with slash", Registration{DeviceID: "door/1"}, true},
		{"id with wildcard", Registration{DeviceID: "door+"}, true},
		{"negative handle", Registration{DeviceID: "d", NativeHandle: -1}, true},
		{"bad ip", Registration{DeviceID: "d", IP: "not-an-ip"}, true},
		{"bad port", Registration{DeviceID: "d", Port: 70000}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRegistration(tt.reg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateRegistration() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidRegistration) {
				t.Errorf("error %v does not wrap ErrInvalidRegistration", err)
			}
		})
	}
}
