package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/txn2/fieldwork/pkg/journal"
	"github.com/txn2/fieldwork/pkg/respondent"
	"github.com/txn2/fieldwork/pkg/session"
)

// defaultListLimit caps unbounded list requests.
const defaultListLimit = 50

// createSessionRequest is the body of POST /api/v1/sessions.
type createSessionRequest struct {
	// EnumeratorID may only differ from the caller for admins.
	EnumeratorID string `json:"enumerator_id,omitempty"`

	// RespondentID optionally binds the session to a respondent pseudonym.
	RespondentID string `json:"respondent_id,omitempty"`
}

// createSession opens a session. An existing open session for the enumerator
// is a conflict, never silently replaced; the caller should close or resume
// it instead.
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	p := principal(r)

	// An empty body opens an unbound session for the caller.
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	enumeratorID := req.EnumeratorID
	if enumeratorID == "" {
		enumeratorID = p.ID
	}
	if enumeratorID != p.ID && !p.IsAdmin() {
		writeError(w, http.StatusForbidden, "forbidden", "cannot open a session for another enumerator")
		return
	}

	if req.RespondentID != "" && !respondent.ValidPseudonym(req.RespondentID) {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed respondent pseudonym")
		return
	}

	sess, err := s.platform.Manager().Create(r.Context(), enumeratorID, req.RespondentID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	slog.Info("session opened", "session_id", sess.ID, "enumerator_id", enumeratorID)
	writeJSON(w, http.StatusCreated, sess)
}

// currentSession returns the caller's open session, if any.
func (s *Server) currentSession(w http.ResponseWriter, r *http.Request) {
	p := principal(r)

	sess, err := s.platform.Manager().Resume(r.Context(), p.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// recordActivity refreshes the session's activity timestamp, resetting its
// timeout window.
func (s *Server) recordActivity(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	id := r.PathValue("id")

	if _, err := s.ownedSession(r.Context(), p, id); err != nil {
		writeDomainError(w, err)
		return
	}

	sess, err := s.platform.Manager().RecordActivity(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// closeSessionRequest is the body of POST /api/v1/sessions/{id}/close.
type closeSessionRequest struct {
	Reason string `json:"reason"`
}

// closeSession transitions a session to closed. Closing a closed session is
// rejected, not silently accepted.
func (s *Server) closeSession(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	id := r.PathValue("id")

	if _, err := s.ownedSession(r.Context(), p, id); err != nil {
		writeDomainError(w, err)
		return
	}

	// An empty body means a manual close.
	var req closeSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if req.Reason == "" {
		req.Reason = session.ReasonManual
	}
	// Timeout closure is reserved for the server-side sweep.
	if req.Reason == session.ReasonTimeout && !p.IsAdmin() {
		writeError(w, http.StatusBadRequest, "invalid_reason", "timeout closures are decided server-side")
		return
	}

	sess, err := s.platform.Manager().Close(r.Context(), id, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	slog.Info("session closed", "session_id", sess.ID, "reason", req.Reason)
	writeJSON(w, http.StatusOK, sess)
}

// evaluateSession reports the session's timeout state. Pure read; the
// authoritative closure happens in the sweep, the client countdown is
// advisory.
func (s *Server) evaluateSession(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	id := r.PathValue("id")

	if _, err := s.ownedSession(r.Context(), p, id); err != nil {
		writeDomainError(w, err)
		return
	}

	sess, state, err := s.platform.Manager().Evaluate(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Session *session.Session     `json:"session"`
		State   session.TimeoutState `json:"timeout"`
	}{Session: sess, State: state})
}

// listSessions returns sessions matching the query filter. Admin only.
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	if !p.IsAdmin() {
		writeError(w, http.StatusForbidden, "forbidden", "admin role required")
		return
	}

	q := r.URL.Query()
	filter := session.Filter{
		EnumeratorID: q.Get("enumerator_id"),
		Status:       q.Get("status"),
		Limit:        queryInt(q.Get("limit"), defaultListLimit),
		Offset:       queryInt(q.Get("offset"), 0),
	}
	if filter.Status != "" && filter.Status != session.StatusOpen && filter.Status != session.StatusClosed {
		writeError(w, http.StatusBadRequest, "bad_request", "status must be open or closed")
		return
	}

	sessions, err := s.platform.Manager().List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if sessions == nil {
		sessions = []*session.Session{}
	}
	writeJSON(w, http.StatusOK, struct {
		Sessions []*session.Session `json:"sessions"`
	}{Sessions: sessions})
}

// sessionEvents returns the journal entries for a session.
func (s *Server) sessionEvents(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	id := r.PathValue("id")

	if _, err := s.ownedSession(r.Context(), p, id); err != nil {
		writeDomainError(w, err)
		return
	}

	events, err := s.eventsOf(r.Context(), id, queryInt(r.URL.Query().Get("limit"), defaultListLimit))
	if err != nil {
		slog.Error("journal query failed", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}
	if events == nil {
		events = []journal.Event{}
	}
	writeJSON(w, http.StatusOK, struct {
		Events []journal.Event `json:"events"`
	}{Events: events})
}

// createRespondent allocates the next pseudonym and persists the intake
// record. Consent must be recorded or nothing is persisted.
func (s *Server) createRespondent(w http.ResponseWriter, r *http.Request) {
	var intake respondent.Intake
	if err := json.NewDecoder(r.Body).Decode(&intake); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	rec, err := s.platform.Allocator().Allocate(r.Context(), intake)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	slog.Info("respondent created", "pseudonym", rec.Pseudonym)
	writeJSON(w, http.StatusCreated, rec)
}

// getRespondent returns one intake record by pseudonym.
func (s *Server) getRespondent(w http.ResponseWriter, r *http.Request) {
	pseudonym := r.PathValue("pseudonym")
	if !respondent.ValidPseudonym(pseudonym) {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed pseudonym")
		return
	}

	rec, err := s.platform.Respondents().Get(r.Context(), pseudonym)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// queryInt parses a query parameter with a fallback.
func queryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
