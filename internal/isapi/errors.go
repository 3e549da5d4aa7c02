package isapi

import "errors"

var (
	ErrUnknownKind    = errors.New("isapi: unknown command kind")
	ErrInvalidPayload = errors.New("isapi: invalid payload")
)
