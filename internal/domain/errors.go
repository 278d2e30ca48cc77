package domain

import "errors"

var (
	// ErrValidation marks malformed or out-of-range input.
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks an unknown attribution, booking, or professional.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition marks an action that does not match the current
	// attribution state. Recoverable; the coordinator converts it into a
	// user-facing result instead of propagating it.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrRaceLost marks an accept that arrived after another professional
	// already won the attribution. Handled identically to ErrInvalidTransition
	// from the caller's perspective.
	ErrRaceLost = errors.New("race lost")

	// ErrDataUnavailable marks an unreachable store or required dependency.
	// Fatal; propagated to the caller.
	ErrDataUnavailable = errors.New("data unavailable")
)
