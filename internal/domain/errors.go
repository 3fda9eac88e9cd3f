package domain

import "errors"

var (
	// ErrValidation marks malformed or missing input. No state changes.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks an operation on an identifier the store does not hold.
	ErrNotFound = errors.New("not found")

	// ErrUnauthenticated is returned when no caller identity could be established.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden is returned when the caller lacks the required capability.
	ErrForbidden = errors.New("forbidden")

	// ErrUpstream wraps failures and timeouts from lookup providers.
	ErrUpstream = errors.New("upstream lookup failed")
)
