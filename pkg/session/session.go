// Package session implements the field-data-collection session lifecycle:
// opening, activity tracking, timeout evaluation, and closure. It defines the
// Store interface for session persistence and the Manager that enforces the
// one-open-session-per-enumerator invariant.
package session

import (
	"context"
	"time"
)

// Session status values. Closed is terminal.
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// Close reasons. Completed and manual have identical mechanical effect and
// record caller intent only.
const (
	ReasonManual    = "manual"
	ReasonTimeout   = "timeout"
	ReasonCompleted = "completed"
)

// ValidReason reports whether reason is an accepted close reason.
func ValidReason(reason string) bool {
	return reason == ReasonManual || reason == ReasonTimeout || reason == ReasonCompleted
}

// Session represents one enumerator's data-collection session.
type Session struct {
	// ID is the unique session identifier, assigned at creation.
	ID string `json:"id"`

	// EnumeratorID identifies the owning enumerator. At most one open
	// session may exist per enumerator at any instant.
	EnumeratorID string `json:"enumerator_id"`

	// RespondentID is the pseudonym of the bound respondent, or empty if
	// the session is not respondent-bound.
	RespondentID string `json:"respondent_id,omitempty"`

	// Status is StatusOpen or StatusClosed.
	Status string `json:"status"`

	// StartTime is when the session was opened.
	StartTime time.Time `json:"start_time"`

	// LastActivityAt is the most recent activity report. Never earlier
	// than StartTime.
	LastActivityAt time.Time `json:"last_activity_at"`

	// EndTime is set exactly once, when the session closes.
	EndTime *time.Time `json:"end_time,omitempty"`

	// CloseReason is set together with EndTime.
	CloseReason string `json:"close_reason,omitempty"`
}

// Filter selects sessions for List.
type Filter struct {
	EnumeratorID string
	Status       string
	Limit        int
	Offset       int
}

// Store defines persistence for sessions. Implementations must enforce the
// single-open-session constraint at the storage layer: Create returns
// ErrActiveSessionExists when an open session for the same enumerator already
// exists, even under concurrent callers.
type Store interface {
	// Create persists a new open session.
	Create(ctx context.Context, s *Session) error

	// Get retrieves a session by ID. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (*Session, error)

	// GetOpenByEnumerator returns the enumerator's open session, or
	// ErrNotFound if none exists.
	GetOpenByEnumerator(ctx context.Context, enumeratorID string) (*Session, error)

	// List returns sessions matching the filter, newest first.
	List(ctx context.Context, filter Filter) ([]*Session, error)

	// RecordActivity sets LastActivityAt on an open session and returns
	// the updated session. Returns ErrNotFound if the ID is unknown and
	// ErrSessionClosed if the session is already closed.
	RecordActivity(ctx context.Context, id string, at time.Time) (*Session, error)

	// Close transitions an open session to closed with the given end time
	// and reason, and returns the updated session. Returns ErrNotFound or
	// ErrSessionClosed analogous to RecordActivity. The transition is a
	// single conditional write; a session never closes twice.
	Close(ctx context.Context, id string, at time.Time, reason string) (*Session, error)

	// ListOpenInactiveSince returns open sessions whose LastActivityAt is
	// at or before cutoff.
	ListOpenInactiveSince(ctx context.Context, cutoff time.Time) ([]*Session, error)
}
