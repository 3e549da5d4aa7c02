package tenant

import "errors"

var (
	// ErrCancelled is returned when the caller's context is cancelled while waiting for a slot.
	ErrCancelled = errors.New("tenant: acquire cancelled")

	// ErrDeadlineExceeded is returned when the caller's deadline passes while waiting for a slot.
	ErrDeadlineExceeded = errors.New("tenant: acquire deadline exceeded")

	ErrMappingNotFound = errors.New("tenant: mapping not found")
	ErrInvalidMapping  = errors.New("tenant: device id and tenant id are required")
)
