package session

import "errors"

// Lifecycle errors. Store failures are wrapped and surfaced as-is; these
// sentinels identify the expected, caller-actionable outcomes.
var (
	// ErrActiveSessionExists is returned by Create when the enumerator
	// already has an open session. Callers should close or resume the
	// existing session rather than retry blindly.
	ErrActiveSessionExists = errors.New("active session exists")

	// ErrNotFound is returned when no session with the given ID exists.
	ErrNotFound = errors.New("session not found")

	// ErrSessionClosed is returned when an operation requires an open
	// session but the session is already closed.
	ErrSessionClosed = errors.New("session already closed")

	// ErrInvalidReason is returned by Close for an unknown close reason.
	ErrInvalidReason = errors.New("invalid close reason")
)
