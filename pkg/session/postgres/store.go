// Package postgres provides PostgreSQL storage for sessions. The
// single-open-session-per-enumerator invariant is enforced by a partial
// unique index on (enumerator_id) WHERE status = 'open', and all lifecycle
// transitions are single conditional writes, so the guarantees hold across
// concurrent callers and multiple server instances.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/txn2/fieldwork/pkg/session"
)

// uniqueViolation is the PostgreSQL error code for unique constraint violations.
const uniqueViolation = "23505"

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// sessionColumns lists columns returned by session SELECT queries.
var sessionColumns = []string{
	"id", "enumerator_id", "respondent_id", "status",
	"start_time", "last_activity_at", "end_time", "close_reason",
}

// Store implements session.Store using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL session store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create persists a new open session. A unique-violation on the partial index
// is reported as session.ErrActiveSessionExists: the existence check and the
// insert are one atomic step at the database.
func (s *Store) Create(ctx context.Context, sess *session.Session) error {
	query := `
		INSERT INTO sessions
		(id, enumerator_id, respondent_id, status, start_time, last_activity_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query,
		sess.ID,
		sess.EnumeratorID,
		nullString(sess.RespondentID),
		sess.Status,
		sess.StartTime,
		sess.LastActivityAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return session.ErrActiveSessionExists
		}
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// Get retrieves a session by ID.
func (s *Store) Get(ctx context.Context, id string) (*session.Session, error) {
	query := `
		SELECT id, enumerator_id, respondent_id, status, start_time, last_activity_at, end_time, close_reason
		FROM sessions
		WHERE id = $1
	`
	sess, err := scanSession(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, session.ErrNotFound
		}
		return nil, fmt.Errorf("getting session: %w", err)
	}
	return sess, nil
}

// GetOpenByEnumerator returns the enumerator's open session.
func (s *Store) GetOpenByEnumerator(ctx context.Context, enumeratorID string) (*session.Session, error) {
	query := `
		SELECT id, enumerator_id, respondent_id, status, start_time, last_activity_at, end_time, close_reason
		FROM sessions
		WHERE enumerator_id = $1 AND status = 'open'
	`
	sess, err := scanSession(s.db.QueryRowContext(ctx, query, enumeratorID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, session.ErrNotFound
		}
		return nil, fmt.Errorf("getting open session: %w", err)
	}
	return sess, nil
}

// List returns sessions matching the filter, newest first.
func (s *Store) List(ctx context.Context, filter session.Filter) ([]*session.Session, error) {
	qb := psq.Select(sessionColumns...).From("sessions")
	if filter.EnumeratorID != "" {
		qb = qb.Where(sq.Eq{"enumerator_id": filter.EnumeratorID})
	}
	if filter.Status != "" {
		qb = qb.Where(sq.Eq{"status": filter.Status})
	}
	qb = qb.OrderBy("start_time DESC")
	if filter.Limit > 0 {
		qb = qb.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		qb = qb.Offset(uint64(filter.Offset))
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building session query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}
	return sessions, nil
}

// RecordActivity sets LastActivityAt on an open session. The GREATEST keeps
// the timestamp monotonically non-decreasing under out-of-order reports.
func (s *Store) RecordActivity(ctx context.Context, id string, at time.Time) (*session.Session, error) {
	query := `
		UPDATE sessions
		SET last_activity_at = GREATEST(last_activity_at, $2)
		WHERE id = $1 AND status = 'open'
		RETURNING id, enumerator_id, respondent_id, status, start_time, last_activity_at, end_time, close_reason
	`
	sess, err := scanSession(s.db.QueryRowContext(ctx, query, id, at))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.classifyMiss(ctx, id)
		}
		return nil, fmt.Errorf("recording activity: %w", err)
	}
	return sess, nil
}

// Close transitions an open session to closed. The WHERE status = 'open'
// guard makes the transition a single conditional write; a session that is
// already closed is never rewritten.
func (s *Store) Close(ctx context.Context, id string, at time.Time, reason string) (*session.Session, error) {
	query := `
		UPDATE sessions
		SET status = 'closed', end_time = $2, close_reason = $3
		WHERE id = $1 AND status = 'open'
		RETURNING id, enumerator_id, respondent_id, status, start_time, last_activity_at, end_time, close_reason
	`
	sess, err := scanSession(s.db.QueryRowContext(ctx, query, id, at, reason))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.classifyMiss(ctx, id)
		}
		return nil, fmt.Errorf("closing session: %w", err)
	}
	return sess, nil
}

// ListOpenInactiveSince returns open sessions with no activity since cutoff.
func (s *Store) ListOpenInactiveSince(ctx context.Context, cutoff time.Time) ([]*session.Session, error) {
	query := `
		SELECT id, enumerator_id, respondent_id, status, start_time, last_activity_at, end_time, close_reason
		FROM sessions
		WHERE status = 'open' AND last_activity_at <= $1
	`
	rows, err := s.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("listing inactive sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}
	return sessions, nil
}

// classifyMiss distinguishes a missing session from a closed one after a
// conditional update matched no rows.
func (s *Store) classifyMiss(ctx context.Context, id string) error {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM sessions WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return session.ErrNotFound
		}
		return fmt.Errorf("checking session status: %w", err)
	}
	if status == session.StatusClosed {
		return session.ErrSessionClosed
	}
	return session.ErrNotFound
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*session.Session, error) {
	var sess session.Session
	var respondentID sql.NullString
	var endTime sql.NullTime
	var closeReason sql.NullString

	err := row.Scan(
		&sess.ID,
		&sess.EnumeratorID,
		&respondentID,
		&sess.Status,
		&sess.StartTime,
		&sess.LastActivityAt,
		&endTime,
		&closeReason,
	)
	if err != nil {
		return nil, err
	}

	if respondentID.Valid {
		sess.RespondentID = respondentID.String
	}
	if endTime.Valid {
		t := endTime.Time
		sess.EndTime = &t
	}
	if closeReason.Valid {
		sess.CloseReason = closeReason.String
	}
	return &sess, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// Verify interface compliance.
var _ session.Store = (*Store)(nil)
