// Package server exposes the session lifecycle and respondent intake
// operations over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/txn2/fieldwork/pkg/auth"
	"github.com/txn2/fieldwork/pkg/health"
	"github.com/txn2/fieldwork/pkg/journal"
	"github.com/txn2/fieldwork/pkg/platform"
	"github.com/txn2/fieldwork/pkg/respondent"
	"github.com/txn2/fieldwork/pkg/session"
)

// Version is set at build time.
var Version = "dev"

// Server is the HTTP front of the service.
type Server struct {
	mux      *http.ServeMux
	platform *platform.Platform
	checker  *health.Checker
}

// New creates the HTTP server for an assembled platform.
func New(p *platform.Platform) *Server {
	var probe health.Probe
	if db := p.DB(); db != nil {
		probe = db.PingContext
	}

	s := &Server{
		mux:      http.NewServeMux(),
		platform: p,
		checker:  health.NewChecker(probe),
	}
	s.registerRoutes()
	return s
}

// Checker returns the readiness checker so main can flip it on startup.
func (s *Server) Checker() *health.Checker { return s.checker }

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// registerRoutes registers health endpoints and the authenticated API.
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", s.checker.LivenessHandler())
	s.mux.HandleFunc("GET /readyz", s.checker.ReadinessHandler())

	api := http.NewServeMux()
	api.HandleFunc("POST /api/v1/sessions", s.createSession)
	api.HandleFunc("GET /api/v1/sessions", s.listSessions)
	api.HandleFunc("GET /api/v1/sessions/current", s.currentSession)
	api.HandleFunc("POST /api/v1/sessions/{id}/activity", s.recordActivity)
	api.HandleFunc("POST /api/v1/sessions/{id}/close", s.closeSession)
	api.HandleFunc("GET /api/v1/sessions/{id}/timeout", s.evaluateSession)
	api.HandleFunc("GET /api/v1/sessions/{id}/events", s.sessionEvents)
	api.HandleFunc("POST /api/v1/respondents", s.createRespondent)
	api.HandleFunc("GET /api/v1/respondents/{pseudonym}", s.getRespondent)

	s.mux.Handle("/api/v1/", auth.Middleware(s.authenticators()...)(api))
}

// authenticators builds the configured identity oracle chain.
func (s *Server) authenticators() []auth.Authenticator {
	cfg := s.platform.Config()
	var chain []auth.Authenticator
	if cfg.Auth.JWTSecret != "" {
		chain = append(chain, auth.NewJWTAuthenticator(auth.JWTConfig{
			Secret: cfg.Auth.JWTSecret,
			Issuer: cfg.Auth.JWTIssuer,
		}))
	}
	if len(cfg.Auth.APIKeys) > 0 {
		chain = append(chain, auth.NewAPIKeyAuthenticator(auth.APIKeyConfig{
			Keys: cfg.Auth.APIKeys,
		}))
	}
	return chain
}

// principal pulls the authenticated principal from the request context. The
// auth middleware guarantees it is present on API routes.
func principal(r *http.Request) *auth.Principal {
	return auth.PrincipalFrom(r.Context())
}

// ownedSession loads a session and verifies the caller may act on it.
func (s *Server) ownedSession(ctx context.Context, p *auth.Principal, id string) (*session.Session, error) {
	sess, err := s.platform.Manager().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.IsAdmin() && sess.EnumeratorID != p.ID {
		return nil, errForbidden
	}
	return sess, nil
}

// errForbidden marks an ownership violation for writeDomainError.
var errForbidden = errors.New("forbidden")

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorResponse is the JSON error body. Code lets callers distinguish
// expected outcomes (conflict, capacity) from caller bugs without string
// matching.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

// writeDomainError maps lifecycle and allocation errors onto HTTP statuses.
// Store failures surface as 500; they are never reinterpreted.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrActiveSessionExists):
		writeError(w, http.StatusConflict, "active_session_exists", "active session exists")
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "session not found")
	case errors.Is(err, session.ErrSessionClosed):
		writeError(w, http.StatusConflict, "invalid_state", "session already closed")
	case errors.Is(err, session.ErrInvalidReason):
		writeError(w, http.StatusBadRequest, "invalid_reason", err.Error())
	case errors.Is(err, respondent.ErrConsentRequired):
		writeError(w, http.StatusUnprocessableEntity, "consent_required", "consent required")
	case errors.Is(err, respondent.ErrCapacityExhausted):
		writeError(w, http.StatusConflict, "capacity_exhausted", "pseudonym capacity exhausted")
	case errors.Is(err, respondent.ErrPseudonymTaken):
		writeError(w, http.StatusConflict, "allocation_conflict", "pseudonym allocation conflict, retry")
	case errors.Is(err, respondent.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "respondent not found")
	case errors.Is(err, errForbidden):
		writeError(w, http.StatusForbidden, "forbidden", "not your session")
	default:
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}

// eventsOf is a narrow view over the journal for the events endpoint.
func (s *Server) eventsOf(ctx context.Context, sessionID string, limit int) ([]journal.Event, error) {
	return s.platform.Journal().Query(ctx, journal.QueryFilter{
		SessionID: sessionID,
		Limit:     limit,
	})
}
