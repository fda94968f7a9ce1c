package respondent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/txn2/fieldwork/pkg/clock"
)

// maxAllocAttempts bounds the internal retry loop on lost allocation races.
// After this many lost races the conflict surfaces to the caller, who may
// re-invoke Allocate.
const maxAllocAttempts = 3

// Intake holds the attributes for a new respondent record.
type Intake struct {
	AgeRange     string `json:"age_range"`
	Sex          string `json:"sex"`
	AdminArea    string `json:"admin_area"`
	ConsentGiven bool   `json:"consent_given"`
}

// Allocator hands out the next pseudonym and persists the respondent record
// in one step. Sequence numbers are read from the store's current maximum,
// so the counter survives restarts and stays correct across server
// instances; uniqueness is settled by the store's constraint, not by this
// process.
type Allocator struct {
	store Store
	clk   clock.Clock
}

// NewAllocator creates an Allocator. Clock defaults to the real clock.
func NewAllocator(store Store, clk clock.Clock) *Allocator {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Allocator{store: store, clk: clk}
}

// Allocate assigns the next sequential pseudonym and persists the respondent
// record. Intake without consent is rejected with ErrConsentRequired before
// any sequence number is consumed. A lost race is retried a bounded number of
// times, then surfaced as ErrPseudonymTaken. Gaps left by failed creations
// are tolerated; duplicates are impossible.
func (a *Allocator) Allocate(ctx context.Context, intake Intake) (*Respondent, error) {
	if !intake.ConsentGiven {
		return nil, ErrConsentRequired
	}

	for attempt := 1; attempt <= maxAllocAttempts; attempt++ {
		maxSeq, err := a.store.MaxSeq(ctx)
		if err != nil {
			return nil, fmt.Errorf("reading max sequence: %w", err)
		}

		next := maxSeq + 1
		if next > MaxSequence {
			return nil, ErrCapacityExhausted
		}

		now := a.clk.Now()
		r := &Respondent{
			Pseudonym:    FormatPseudonym(next),
			Seq:          next,
			AgeRange:     intake.AgeRange,
			Sex:          intake.Sex,
			AdminArea:    intake.AdminArea,
			ConsentGiven: true,
			ConsentAt:    now,
			CreatedAt:    now,
		}

		err = a.store.Create(ctx, r)
		if err == nil {
			return r, nil
		}
		if errors.Is(err, ErrPseudonymTaken) {
			slog.Debug("respondent: allocation race lost",
				"pseudonym", r.Pseudonym, "attempt", attempt)
			continue
		}
		return nil, fmt.Errorf("creating respondent: %w", err)
	}

	return nil, ErrPseudonymTaken
}
