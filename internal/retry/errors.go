package retry

import "errors"

var (
	// ErrEmpty is returned by Pop when the list has no records.
	ErrEmpty = errors.New("retry: list is empty")

	ErrInvalidRecord = errors.New("retry: invalid record")
)
