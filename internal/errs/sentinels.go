// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service/realtime layers.
var (
	// ErrValidation indicates malformed input (empty body, missing field).
	ErrValidation = errors.New("validation")

	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates the caller is not allowed to act on the resource
	// (not a room member, not the author of a message, not a group admin).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUnauthenticated indicates missing or invalid credentials.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrPresenceUnavailable indicates the target user has no live connection.
	ErrPresenceUnavailable = errors.New("presence unavailable")

	// ErrCallInFlight indicates a participant already has a non-terminal call session.
	ErrCallInFlight = errors.New("call in flight")

	// ErrInvalidTransition indicates a call signal that does not fit the session state.
	ErrInvalidTransition = errors.New("invalid call transition")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., username taken).
	ErrAlreadyExists = errors.New("already exists")
)

// Code returns a stable, client-facing code for err.
// Anything that is not a known sentinel is reported as "internal".
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrPresenceUnavailable):
		return "unavailable"
	case errors.Is(err, ErrCallInFlight), errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrAlreadyExists):
		return "conflict"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	default:
		return "internal"
	}
}
