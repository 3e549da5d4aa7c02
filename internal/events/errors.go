package events

import "errors"

var (
	// ErrUndecodable marks a log entry that is not a valid event.
	ErrUndecodable = errors.New("events: undecodable entry")

	// ErrBackend is returned when the log cannot host a subscription.
	ErrBackend = errors.New("events: log backend failure")
)
