package audit

import "errors"

// ErrInvalidEntry is returned when an entry is missing required fields.
var ErrInvalidEntry = errors.New("invalid audit entry")
