package driver

import "errors"

var (
	ErrNoDevice   = errors.New("driver: device id is required")
	ErrNotStarted = errors.New("driver: response subscription not active")
)

// ErrCodeDriver is the error code reported when the request never reached
// the device or no answer arrived.
const ErrCodeDriver = -1
