package device

import (
	"fmt"
	"net"
	"regexp"
)

const maxDeviceIDLength = 64

var deviceIDRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]*$`)

// ValidateDeviceID checks that id is usable as a registry key and MQTT topic level.
func ValidateDeviceID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: device_id is required", ErrInvalidRegistration)
	}
	if len(id) > maxDeviceIDLength {
		return fmt.Errorf("%w: device_id exceeds %d characters", ErrInvalidRegistration, maxDeviceIDLength)
	}
	if !deviceIDRegex.MatchString(id) {
		return fmt.Errorf("%w: device_id %q contains invalid characters", ErrInvalidRegistration, id)
	}
	return nil
}

// ValidateRegistration checks a registration callback before it reaches the registry.
func ValidateRegistration(reg Registration) error {
	if err := ValidateDeviceID(reg.DeviceID); err != nil {
		return err
	}
	if reg.NativeHandle < 0 {
		return fmt.Errorf("%w: native_handle must not be negative", ErrInvalidRegistration)
	}
	if reg.IP != "" && net.ParseIP(reg.IP) == nil {
		return fmt.Errorf("%w: ip %q is not an IP address", ErrInvalidRegistration, reg.IP)
	}
	if reg.Port < 0 || reg.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidRegistration, reg.Port)
	}
	return nil
}
