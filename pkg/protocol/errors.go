package protocol

import "errors"

// Error taxonomy for the subsystem. Validation and auth failures are terminal
// for the triggering call only; persistence errors are retried at the service
// layer before they surface; partial broadcast failures are logged and healed
// by the client's next hydration.
var (
	ErrAuthFailure = errors.New("authentication failed")
	ErrValidation  = errors.New("validation failed")
	ErrPersistence = errors.New("persistence failed")
	ErrRateLimited = errors.New("rate limited")
	ErrNotFound    = errors.New("not found")
	ErrForbidden   = errors.New("forbidden")
)
