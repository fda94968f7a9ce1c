// Package respondent manages respondent intake records and the sequential
// pseudonym space that substitutes for respondent identity. Pseudonyms are
// strictly sequential, zero-padded, and collision-free under concurrent
// allocation; uniqueness is enforced by the store, not in-process state.
package respondent

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// MaxSequence is the last assignable pseudonym sequence number.
const MaxSequence = 99999

// pseudonymPattern matches well-formed pseudonyms.
var pseudonymPattern = regexp.MustCompile(`^R-\d{5}$`)

// Allocation and intake errors.
var (
	// ErrPseudonymTaken is returned when a concurrent allocation claimed
	// the same sequence number first. Callers should retry.
	ErrPseudonymTaken = errors.New("pseudonym already taken")

	// ErrCapacityExhausted is returned once the sequence would exceed
	// MaxSequence.
	ErrCapacityExhausted = errors.New("pseudonym capacity exhausted")

	// ErrConsentRequired is returned when an intake record arrives without
	// recorded consent. The record is rejected, never persisted.
	ErrConsentRequired = errors.New("consent required")

	// ErrNotFound is returned when no respondent with the pseudonym exists.
	ErrNotFound = errors.New("respondent not found")
)

// Respondent is a pseudonym-bearing intake record. Attributes are immutable
// once consent is recorded; only LastSessionAt changes afterwards, maintained
// by the session manager on closure.
type Respondent struct {
	// Pseudonym is the unique R-NNNNN identifier, assigned at creation.
	Pseudonym string `json:"pseudonym"`

	// Seq is the numeric sequence behind the pseudonym.
	Seq int `json:"-"`

	AgeRange  string `json:"age_range,omitempty"`
	Sex       string `json:"sex,omitempty"`
	AdminArea string `json:"admin_area,omitempty"`

	// ConsentGiven must be true for the record to be persisted.
	ConsentGiven bool `json:"consent_given"`

	// ConsentAt is when consent was recorded.
	ConsentAt time.Time `json:"consent_at"`

	// LastSessionAt is the denormalized timestamp of the most recent
	// session closure bound to this respondent.
	LastSessionAt *time.Time `json:"last_session_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// FormatPseudonym renders a sequence number as a pseudonym.
func FormatPseudonym(seq int) string {
	return fmt.Sprintf("R-%05d", seq)
}

// ValidPseudonym reports whether p is a well-formed pseudonym.
func ValidPseudonym(p string) bool {
	return pseudonymPattern.MatchString(p)
}

// Store defines persistence for respondents. Create must enforce pseudonym
// uniqueness at the storage layer and return ErrPseudonymTaken on collision.
type Store interface {
	// Create persists a new respondent record keyed by its pseudonym.
	Create(ctx context.Context, r *Respondent) error

	// Get retrieves a respondent by pseudonym. Returns ErrNotFound if absent.
	Get(ctx context.Context, pseudonym string) (*Respondent, error)

	// MaxSeq returns the highest issued sequence number, or 0 if none.
	MaxSeq(ctx context.Context) (int, error)

	// UpdateLastSession refreshes the denormalized last-session timestamp.
	UpdateLastSession(ctx context.Context, pseudonym string, at time.Time) error
}
