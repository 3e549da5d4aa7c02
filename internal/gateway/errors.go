package gateway

import "errors"

var (
	ErrUnexpectedTopic = errors.New("gateway: unexpected lifecycle topic")
	ErrBadPayload      = errors.New("gateway: malformed registration payload")
)
