package respondent

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store with a mutex-guarded map. The uniqueness check
// and insert happen under one lock acquisition, matching the guarantees of
// the PostgreSQL unique constraint. Intended for tests and single-process
// deployments.
type MemoryStore struct {
	mu          sync.RWMutex
	respondents map[string]*Respondent
	maxSeq      int
}

// NewMemoryStore creates an empty in-memory respondent store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		respondents: make(map[string]*Respondent),
	}
}

// Create persists a new respondent. Returns ErrPseudonymTaken if the
// pseudonym is already claimed.
func (s *MemoryStore) Create(_ context.Context, r *Respondent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.respondents[r.Pseudonym]; exists {
		return ErrPseudonymTaken
	}

	cp := *r
	s.respondents[r.Pseudonym] = &cp
	if r.Seq > s.maxSeq {
		s.maxSeq = r.Seq
	}
	return nil
}

// Get retrieves a respondent by pseudonym.
func (s *MemoryStore) Get(_ context.Context, pseudonym string) (*Respondent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.respondents[pseudonym]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// MaxSeq returns the highest issued sequence number, or 0 if none.
func (s *MemoryStore) MaxSeq(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxSeq, nil
}

// UpdateLastSession refreshes the denormalized last-session timestamp.
func (s *MemoryStore) UpdateLastSession(_ context.Context, pseudonym string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.respondents[pseudonym]
	if !ok {
		return ErrNotFound
	}
	t := at
	r.LastSessionAt = &t
	return nil
}

// Verify interface compliance.
var _ Store = (*MemoryStore)(nil)
