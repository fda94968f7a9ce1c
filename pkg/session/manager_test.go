package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/fieldwork/pkg/clock"
	"github.com/txn2/fieldwork/pkg/journal"
)

// recordingJournal captures events for assertions.
type recordingJournal struct {
	mu     sync.Mutex
	events []journal.Event
}

func (j *recordingJournal) Log(_ context.Context, e journal.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, e)
	return nil
}

func (j *recordingJournal) Query(context.Context, journal.QueryFilter) ([]journal.Event, error) {
	return nil, nil
}
func (j *recordingJournal) Count(context.Context, journal.QueryFilter) (int, error) { return 0, nil }
func (j *recordingJournal) Close() error                                            { return nil }

func (j *recordingJournal) actions() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.events))
	for i, e := range j.events {
		out[i] = e.Action
	}
	return out
}

// fakeDirectory records last-session updates.
type fakeDirectory struct {
	mu      sync.Mutex
	updates map[string]time.Time
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{updates: make(map[string]time.Time)}
}

func (d *fakeDirectory) UpdateLastSession(_ context.Context, pseudonym string, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updates[pseudonym] = at
	return nil
}

func newTestManager(t *testing.T) (*Manager, *clock.Fake, *recordingJournal, *fakeDirectory) {
	t.Helper()
	clk := clock.NewFake(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	jrnl := &recordingJournal{}
	dir := newFakeDirectory()
	m := NewManager(ManagerConfig{
		Store:       NewMemoryStore(),
		Policy:      testPolicy(),
		Clock:       clk,
		Journal:     jrnl,
		Respondents: dir,
	})
	return m, clk, jrnl, dir
}

func TestCreate_OpensSessionWithFullBudget(t *testing.T) {
	m, clk, jrnl, _ := newTestManager(t)
	ctx := context.Background()

	s, err := m.Create(ctx, "enum-1", "")
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, StatusOpen, s.Status)
	assert.Equal(t, clk.Now(), s.StartTime)
	assert.Equal(t, clk.Now(), s.LastActivityAt)
	assert.Nil(t, s.EndTime)

	_, state, err := m.Evaluate(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, m.Policy().Timeout, state.Remaining)

	assert.Equal(t, []string{journal.ActionCreated}, jrnl.actions())
}

func TestCreate_SecondOpenSessionConflicts(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, "enum-1", "")
	require.NoError(t, err)

	_, err = m.Create(ctx, "enum-1", "")
	assert.ErrorIs(t, err, ErrActiveSessionExists)
}

func TestCreate_IndependentEnumerators(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, "enum-1", "")
	require.NoError(t, err)
	_, err = m.Create(ctx, "enum-2", "")
	assert.NoError(t, err)
}

func TestCreate_ConcurrentSameEnumerator(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()

	const attempts = 20
	var wg sync.WaitGroup
	errs := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.Create(ctx, "enum-race", "")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrActiveSessionExists)
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one concurrent create may win")
}

func TestCreate_AfterCloseSucceeds(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()

	s, err := m.Create(ctx, "enum-1", "")
	require.NoError(t, err)
	_, err = m.Close(ctx, s.ID, ReasonCompleted)
	require.NoError(t, err)

	_, err = m.Create(ctx, "enum-1", "")
	assert.NoError(t, err)
}

func TestRecordActivity_ResetsTimeoutWindow(t *testing.T) {
	m, clk, _, _ := newTestManager(t)
	ctx := context.Background()

	s, err := m.Create(ctx, "enum-1", "")
	require.NoError(t, err)

	clk.Advance(9 * time.Minute)
	updated, err := m.RecordActivity(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, clk.Now(), updated.LastActivityAt)

	_, state, err := m.Evaluate(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, m.Policy().Timeout, state.Remaining)
}

func TestRecordActivity_UnknownSession(t *testing.T) {
	m, _, _, _ := newTestManager(t)

	_, err := m.RecordActivity(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordActivity_ClosedSession(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()

	s, err := m.Create(ctx, "enum-1", "")
	require.NoError(t, err)
	_, err = m.Close(ctx, s.ID, ReasonManual)
	require.NoError(t, err)

	_, err = m.RecordActivity(ctx, s.ID)
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestClose_SetsTerminalFields(t *testing.T) {
	m, clk, jrnl, _ := newTestManager(t)
	ctx := context.Background()

	s, err := m.Create(ctx, "enum-1", "")
	require.NoError(t, err)

	clk.Advance(5 * time.Minute)
	closed, err := m.Close(ctx, s.ID, ReasonManual)
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, closed.Status)
	require.NotNil(t, closed.EndTime)
	assert.Equal(t, clk.Now(), *closed.EndTime)
	assert.Equal(t, ReasonManual, closed.CloseReason)

	assert.Equal(t, []string{journal.ActionCreated, journal.ActionClosed}, jrnl.actions())
}

func TestClose_AlreadyClosedIsInvalidState(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()

	s, err := m.Create(ctx, "enum-1", "")
	require.NoError(t, err)
	_, err = m.Close(ctx, s.ID, ReasonManual)
	require.NoError(t, err)

	_, err = m.Close(ctx, s.ID, ReasonManual)
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestClose_UnknownSession(t *testing.T) {
	m, _, _, _ := newTestManager(t)

	_, err := m.Close(context.Background(), "missing", ReasonManual)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClose_RejectsUnknownReason(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()

	s, err := m.Create(ctx, "enum-1", "")
	require.NoError(t, err)

	_, err = m.Close(ctx, s.ID, "abandoned")
	assert.ErrorIs(t, err, ErrInvalidReason)
}

func TestClose_UpdatesRespondentLastSession(t *testing.T) {
	m, clk, _, dir := newTestManager(t)
	ctx := context.Background()

	s, err := m.Create(ctx, "enum-1", "R-00042")
	require.NoError(t, err)

	clk.Advance(time.Minute)
	_, err = m.Close(ctx, s.ID, ReasonCompleted)
	require.NoError(t, err)

	assert.Equal(t, clk.Now(), dir.updates["R-00042"])
}

func TestClose_UnboundSessionSkipsDirectory(t *testing.T) {
	m, _, _, dir := newTestManager(t)
	ctx := context.Background()

	s, err := m.Create(ctx, "enum-1", "")
	require.NoError(t, err)
	_, err = m.Close(ctx, s.ID, ReasonManual)
	require.NoError(t, err)

	assert.Empty(t, dir.updates)
}

func TestEvaluate_NeverMutates(t *testing.T) {
	m, clk, _, _ := newTestManager(t)
	ctx := context.Background()

	s, err := m.Create(ctx, "enum-1", "")
	require.NoError(t, err)

	clk.Advance(3 * time.Minute)
	_, _, err = m.Evaluate(ctx, s.ID)
	require.NoError(t, err)

	got, err := m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.LastActivityAt, got.LastActivityAt)
	assert.Equal(t, StatusOpen, got.Status)
}

func TestSweepExpired_ClosesOnlyExpired(t *testing.T) {
	m, clk, _, _ := newTestManager(t)
	ctx := context.Background()

	stale, err := m.Create(ctx, "enum-1", "")
	require.NoError(t, err)

	clk.Advance(6 * time.Minute)
	fresh, err := m.Create(ctx, "enum-2", "")
	require.NoError(t, err)

	// enum-1 is now 10m inactive, enum-2 only 4m.
	clk.Advance(4 * time.Minute)

	closed, err := m.SweepExpired(ctx)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, stale.ID, closed[0].ID)
	assert.Equal(t, ReasonTimeout, closed[0].CloseReason)

	got, err := m.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, got.Status)
}

func TestSweepExpired_EmptyWhenNothingExpired(t *testing.T) {
	m, clk, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, "enum-1", "")
	require.NoError(t, err)
	clk.Advance(time.Minute)

	closed, err := m.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Empty(t, closed)
}

// Scenario A from the lifecycle design: activity just before the limit keeps
// the session alive for a full further window; silence past the limit lets
// the sweep close it with the timeout reason.
func TestScenario_ActivityThenSilence(t *testing.T) {
	m, clk, _, _ := newTestManager(t)
	ctx := context.Background()
	timeout := m.Policy().Timeout

	s, err := m.Create(ctx, "enum-1", "")
	require.NoError(t, err)

	clk.Advance(timeout - time.Second)
	_, err = m.RecordActivity(ctx, s.ID)
	require.NoError(t, err)

	_, state, err := m.Evaluate(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, timeout, state.Remaining)

	closed, err := m.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Empty(t, closed)

	clk.Advance(timeout)
	closed, err = m.SweepExpired(ctx)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, s.ID, closed[0].ID)
	assert.Equal(t, ReasonTimeout, closed[0].CloseReason)
}

func TestResume_ReturnsOpenSession(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()

	s, err := m.Create(ctx, "enum-1", "")
	require.NoError(t, err)

	got, err := m.Resume(ctx, "enum-1")
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
}

func TestResume_NoOpenSession(t *testing.T) {
	m, _, _, _ := newTestManager(t)

	_, err := m.Resume(context.Background(), "enum-1")
	assert.ErrorIs(t, err, ErrNotFound)
}
