package action

import "errors"

var (
	ErrNotFound     = errors.New("action not found")
	ErrInvalidKind  = errors.New("invalid action kind")
	ErrEmptyPayload = errors.New("action payload is empty")
	ErrKindMismatch = errors.New("action kind does not match payload")
	ErrNotFailed    = errors.New("action is not in failed state")
	ErrInFlight     = errors.New("action is in flight")
)
