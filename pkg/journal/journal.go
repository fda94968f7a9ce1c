// Package journal provides the append-only session lifecycle event log.
// Every create, activity report, and closure is recorded as an Event so the
// session history can be reconstructed after the fact.
package journal

import (
	"context"
	"log/slog"
	"time"
)

// Actions recorded in the journal.
const (
	ActionCreated  = "created"
	ActionActivity = "activity"
	ActionClosed   = "closed"
)

// Event is one recorded lifecycle transition.
type Event struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	EnumeratorID string    `json:"enumerator_id"`
	RespondentID string    `json:"respondent_id,omitempty"`
	Action       string    `json:"action"`
	Reason       string    `json:"reason,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// QueryFilter defines criteria for querying journal events.
type QueryFilter struct {
	SessionID    string
	EnumeratorID string
	Action       string
	StartTime    *time.Time
	EndTime      *time.Time
	Limit        int
	Offset       int
}

// Logger defines the interface for journal persistence.
type Logger interface {
	// Log appends an event. Events are never updated or deleted except by
	// retention cleanup.
	Log(ctx context.Context, event Event) error

	// Query retrieves events matching the filter, newest first.
	Query(ctx context.Context, filter QueryFilter) ([]Event, error)

	// Count returns the number of events matching the filter.
	Count(ctx context.Context, filter QueryFilter) (int, error)

	// Close releases resources.
	Close() error
}

// Config configures journaling.
type Config struct {
	Enabled       bool
	RetentionDays int
}

// Nop is a Logger that discards everything. Used when journaling is disabled.
type Nop struct{}

// Log discards the event.
func (Nop) Log(context.Context, Event) error { return nil }

// Query returns no events.
func (Nop) Query(context.Context, QueryFilter) ([]Event, error) { return nil, nil }

// Count returns zero.
func (Nop) Count(context.Context, QueryFilter) (int, error) { return 0, nil }

// Close is a no-op.
func (Nop) Close() error { return nil }

// Slog is a Logger that writes events to slog and retains nothing. It backs
// the memory storage mode, where durable history is not available anyway.
type Slog struct{}

// Log writes the event as a structured log line.
func (Slog) Log(_ context.Context, event Event) error {
	slog.Info("journal",
		"session_id", event.SessionID,
		"enumerator_id", event.EnumeratorID,
		"action", event.Action,
		"reason", event.Reason,
		"occurred_at", event.OccurredAt,
	)
	return nil
}

// Query returns no events; Slog retains nothing.
func (Slog) Query(context.Context, QueryFilter) ([]Event, error) { return nil, nil }

// Count returns zero.
func (Slog) Count(context.Context, QueryFilter) (int, error) { return 0, nil }

// Close is a no-op.
func (Slog) Close() error { return nil }

// Verify interface compliance.
var (
	_ Logger = Nop{}
	_ Logger = Slog{}
)
