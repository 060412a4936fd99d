package model

import "errors"

// Every core failure wraps exactly one of these, so callers can map a
// result to behavior with errors.Is regardless of the message detail.
var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidState       = errors.New("invalid state")
	ErrInvariantViolation = errors.New("invariant violation")
	ErrTransferFailed     = errors.New("transfer failed")
)
