package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store using a mutex-guarded in-memory map. The
// single-open-session check and insert happen under one lock acquisition, so
// the store gives the same conflict guarantees as the PostgreSQL partial
// unique index. Intended for tests and single-process deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
	}
}

// Create persists a new open session. Returns ErrActiveSessionExists when the
// enumerator already has an open session.
func (s *MemoryStore) Create(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.sessions {
		if existing.EnumeratorID == sess.EnumeratorID && existing.Status == StatusOpen {
			return ErrActiveSessionExists
		}
	}

	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

// Get retrieves a session by ID.
func (s *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

// GetOpenByEnumerator returns the enumerator's open session.
func (s *MemoryStore) GetOpenByEnumerator(_ context.Context, enumeratorID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sess := range s.sessions {
		if sess.EnumeratorID == enumeratorID && sess.Status == StatusOpen {
			cp := *sess
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// List returns sessions matching the filter, newest start time first.
func (s *MemoryStore) List(_ context.Context, filter Filter) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if filter.EnumeratorID != "" && sess.EnumeratorID != filter.EnumeratorID {
			continue
		}
		if filter.Status != "" && sess.Status != filter.Status {
			continue
		}
		cp := *sess
		matched = append(matched, &cp)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].StartTime.After(matched[j].StartTime)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []*Session{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// RecordActivity sets LastActivityAt on an open session.
func (s *MemoryStore) RecordActivity(_ context.Context, id string, at time.Time) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if sess.Status != StatusOpen {
		return nil, ErrSessionClosed
	}

	// LastActivityAt is monotonically non-decreasing.
	if at.After(sess.LastActivityAt) {
		sess.LastActivityAt = at
	}
	cp := *sess
	return &cp, nil
}

// Close transitions an open session to closed.
func (s *MemoryStore) Close(_ context.Context, id string, at time.Time, reason string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if sess.Status != StatusOpen {
		return nil, ErrSessionClosed
	}

	end := at
	sess.Status = StatusClosed
	sess.EndTime = &end
	sess.CloseReason = reason
	cp := *sess
	return &cp, nil
}

// ListOpenInactiveSince returns open sessions with no activity since cutoff.
func (s *MemoryStore) ListOpenInactiveSince(_ context.Context, cutoff time.Time) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*Session
	for _, sess := range s.sessions {
		if sess.Status == StatusOpen && !sess.LastActivityAt.After(cutoff) {
			cp := *sess
			matched = append(matched, &cp)
		}
	}
	return matched, nil
}

// Verify interface compliance.
var _ Store = (*MemoryStore)(nil)
