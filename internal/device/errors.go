package device

import "errors"

// Domain errors for the device package.
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when no record exists for a device ID.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrInvalidRegistration is returned when a registration callback fails validation.
	ErrInvalidRegistration = errors.New("device: invalid registration")
)
