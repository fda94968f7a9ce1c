// Package postgres provides PostgreSQL storage for respondents. Pseudonym
// uniqueness is enforced by unique constraints on both the pseudonym and its
// sequence number, so concurrent allocators can never both win the same code.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/txn2/fieldwork/pkg/respondent"
)

// uniqueViolation is the PostgreSQL error code for unique constraint violations.
const uniqueViolation = "23505"

// Store implements respondent.Store using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL respondent store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create persists a new respondent keyed by pseudonym. A unique violation is
// reported as respondent.ErrPseudonymTaken so the allocator can retry with
// the next sequence number.
func (s *Store) Create(ctx context.Context, r *respondent.Respondent) error {
	query := `
		INSERT INTO respondents
		(pseudonym, seq, age_range, sex, admin_area, consent_given, consent_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		r.Pseudonym,
		r.Seq,
		r.AgeRange,
		r.Sex,
		r.AdminArea,
		r.ConsentGiven,
		r.ConsentAt,
		r.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return respondent.ErrPseudonymTaken
		}
		return fmt.Errorf("inserting respondent: %w", err)
	}
	return nil
}

// Get retrieves a respondent by pseudonym.
func (s *Store) Get(ctx context.Context, pseudonym string) (*respondent.Respondent, error) {
	query := `
		SELECT pseudonym, seq, age_range, sex, admin_area, consent_given, consent_at, last_session_at, created_at
		FROM respondents
		WHERE pseudonym = $1
	`
	var r respondent.Respondent
	var lastSession sql.NullTime

	err := s.db.QueryRowContext(ctx, query, pseudonym).Scan(
		&r.Pseudonym,
		&r.Seq,
		&r.AgeRange,
		&r.Sex,
		&r.AdminArea,
		&r.ConsentGiven,
		&r.ConsentAt,
		&lastSession,
		&r.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, respondent.ErrNotFound
		}
		return nil, fmt.Errorf("getting respondent: %w", err)
	}

	if lastSession.Valid {
		t := lastSession.Time
		r.LastSessionAt = &t
	}
	return &r, nil
}

// MaxSeq returns the highest issued sequence number, or 0 if none.
func (s *Store) MaxSeq(ctx context.Context) (int, error) {
	var maxSeq int
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM respondents`).Scan(&maxSeq)
	if err != nil {
		return 0, fmt.Errorf("reading max sequence: %w", err)
	}
	return maxSeq, nil
}

// UpdateLastSession refreshes the denormalized last-session timestamp.
func (s *Store) UpdateLastSession(ctx context.Context, pseudonym string, at time.Time) error {
	query := `UPDATE respondents SET last_session_at = $2 WHERE pseudonym = $1`
	res, err := s.db.ExecContext(ctx, query, pseudonym, at)
	if err != nil {
		return fmt.Errorf("updating last session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if affected == 0 {
		return respondent.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// Verify interface compliance.
var _ respondent.Store = (*Store)(nil)
