package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/txn2/fieldwork/pkg/clock"
	"github.com/txn2/fieldwork/pkg/journal"
)

// RespondentDirectory is the slice of the respondent store the Manager needs:
// maintaining the denormalized last-session timestamp when a respondent-bound
// session closes.
type RespondentDirectory interface {
	UpdateLastSession(ctx context.Context, pseudonym string, at time.Time) error
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Store       Store
	Policy      TimeoutPolicy
	Clock       clock.Clock
	Journal     journal.Logger
	Respondents RespondentDirectory
}

// Manager orchestrates the session lifecycle. The single-open-session
// invariant is enforced by the Store, not by in-process state, so multiple
// Manager instances over the same store remain correct.
type Manager struct {
	store       Store
	policy      TimeoutPolicy
	clk         clock.Clock
	journal     journal.Logger
	respondents RespondentDirectory
}

// NewManager creates a Manager. Journal and Respondents may be nil; Clock
// defaults to the real clock and Policy to the default thresholds.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Policy.Timeout == 0 {
		cfg.Policy = DefaultTimeoutPolicy()
	}
	if cfg.Journal == nil {
		cfg.Journal = journal.Nop{}
	}
	return &Manager{
		store:       cfg.Store,
		policy:      cfg.Policy,
		clk:         cfg.Clock,
		journal:     cfg.Journal,
		respondents: cfg.Respondents,
	}
}

// Policy returns the manager's timeout policy.
func (m *Manager) Policy() TimeoutPolicy {
	return m.policy
}

// Create opens a new session for the enumerator, optionally bound to a
// respondent. Returns ErrActiveSessionExists when the enumerator already has
// an open session; the caller must close or resume it first.
func (m *Manager) Create(ctx context.Context, enumeratorID, respondentID string) (*Session, error) {
	now := m.clk.Now()
	s := &Session{
		ID:             uuid.NewString(),
		EnumeratorID:   enumeratorID,
		RespondentID:   respondentID,
		Status:         StatusOpen,
		StartTime:      now,
		LastActivityAt: now,
	}

	if err := m.store.Create(ctx, s); err != nil {
		if errors.Is(err, ErrActiveSessionExists) {
			return nil, ErrActiveSessionExists
		}
		return nil, fmt.Errorf("creating session: %w", err)
	}

	m.record(ctx, s, journal.ActionCreated, "")
	return s, nil
}

// Resume returns the enumerator's current open session, or ErrNotFound when
// none exists.
func (m *Manager) Resume(ctx context.Context, enumeratorID string) (*Session, error) {
	s, err := m.store.GetOpenByEnumerator(ctx, enumeratorID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("resuming session: %w", err)
	}
	return s, nil
}

// RecordActivity refreshes the session's activity timestamp, resetting its
// timeout window. Returns ErrNotFound for an unknown ID and ErrSessionClosed
// for a closed session.
func (m *Manager) RecordActivity(ctx context.Context, id string) (*Session, error) {
	s, err := m.store.RecordActivity(ctx, id, m.clk.Now())
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrSessionClosed) {
			return nil, err
		}
		return nil, fmt.Errorf("recording activity: %w", err)
	}

	m.record(ctx, s, journal.ActionActivity, "")
	return s, nil
}

// Close transitions an open session to closed with the given reason. Closing
// an already-closed session fails with ErrSessionClosed; closed is terminal.
// When the session is respondent-bound, the respondent's last-session
// timestamp is refreshed as a side effect.
func (m *Manager) Close(ctx context.Context, id, reason string) (*Session, error) {
	if !ValidReason(reason) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidReason, reason)
	}

	now := m.clk.Now()
	s, err := m.store.Close(ctx, id, now, reason)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrSessionClosed) {
			return nil, err
		}
		return nil, fmt.Errorf("closing session: %w", err)
	}

	if s.RespondentID != "" && m.respondents != nil {
		if err := m.respondents.UpdateLastSession(ctx, s.RespondentID, now); err != nil {
			slog.Warn("session: last-session update failed",
				"session_id", s.ID, "respondent_id", s.RespondentID, "error", err)
		}
	}

	m.record(ctx, s, journal.ActionClosed, reason)
	return s, nil
}

// Evaluate computes the session's timeout state. Pure read; never mutates.
func (m *Manager) Evaluate(ctx context.Context, id string) (*Session, TimeoutState, error) {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, TimeoutState{}, ErrNotFound
		}
		return nil, TimeoutState{}, fmt.Errorf("evaluating session: %w", err)
	}
	return s, m.policy.State(s, m.clk.Now()), nil
}

// SweepExpired force-closes every open session whose inactivity budget is
// exhausted and returns the sessions it closed. This is the authoritative
// expiry path; client countdowns are advisory. A session that loses a race
// with a concurrent close is skipped, not an error.
func (m *Manager) SweepExpired(ctx context.Context) ([]*Session, error) {
	now := m.clk.Now()
	cutoff := now.Add(-m.policy.Timeout)

	expired, err := m.store.ListOpenInactiveSince(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("listing expired sessions: %w", err)
	}

	closed := make([]*Session, 0, len(expired))
	for _, s := range expired {
		c, err := m.Close(ctx, s.ID, ReasonTimeout)
		if err != nil {
			if errors.Is(err, ErrSessionClosed) || errors.Is(err, ErrNotFound) {
				continue
			}
			return closed, fmt.Errorf("sweeping session %s: %w", s.ID, err)
		}
		closed = append(closed, c)
	}

	if len(closed) > 0 {
		slog.Info("session: sweep closed expired sessions", "count", len(closed))
	}
	return closed, nil
}

// Get retrieves a session by ID.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting session: %w", err)
	}
	return s, nil
}

// List returns sessions matching the filter.
func (m *Manager) List(ctx context.Context, filter Filter) ([]*Session, error) {
	sessions, err := m.store.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	return sessions, nil
}

func (m *Manager) record(ctx context.Context, s *Session, action, reason string) {
	event := journal.Event{
		ID:           uuid.NewString(),
		SessionID:    s.ID,
		EnumeratorID: s.EnumeratorID,
		RespondentID: s.RespondentID,
		Action:       action,
		Reason:       reason,
		OccurredAt:   m.clk.Now(),
	}
	if err := m.journal.Log(ctx, event); err != nil {
		slog.Warn("session: journal write failed", "session_id", s.ID, "action", action, "error", err)
	}
}
