package retry

import (
	"time"

	"github.com/nerrad567/gray-logic-access/internal/dispatch"
)

// Record is a failed command waiting on a dead-letter list.
type Record struct {
	Command   dispatch.Command `json:"command"`
	Status    dispatch.Status  `json:"status"`
	Code      string           `json:"code,omitempty"`
	LastError string           `json:"last_error"`
	FailedAt  time.Time        `json:"failed_at"`
}

// Item is a stored record with its list position.
type Item struct {
	ID        int64     `json:"id"`
	Record    Record    `json:"record"`
	CreatedAt time.Time `json:"created_at"`
}
