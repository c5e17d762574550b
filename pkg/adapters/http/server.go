// Package http exposes the conversation engine over a small JSON API.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aretw0/chatflow/pkg/domain"
)

// Engine is the conversation surface the transport needs.
type Engine interface {
	HandleTurn(ctx context.Context, userID, tenantID, text string) (*domain.TurnResult, error)
	Session(ctx context.Context, sessionID string) (*domain.Session, error)
	Sessions(ctx context.Context, userID, tenantID string) ([]*domain.Session, error)
	EndSession(ctx context.Context, sessionID string, reason domain.EndReason) error
}

// Server binds the engine to HTTP routes.
type Server struct {
	engine Engine
	logger *slog.Logger
}

// TurnRequest is the POST /v1/turns body.
type TurnRequest struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Text     string `json:"text"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// NewHandler wires the engine into a chi router. A nil registry skips
// the /metrics endpoint.
func NewHandler(engine Engine, logger *slog.Logger, registry *prometheus.Registry) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{engine: engine, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/turns", s.handleTurn)
		r.Get("/sessions/{sessionID}", s.getSession)
		r.Delete("/sessions/{sessionID}", s.endSession)
		r.Get("/users/{userID}/sessions", s.listSessions)
	})

	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleTurn runs one conversational turn. The engine's recovery layer
// guarantees a result, so a non-nil error here is a request problem,
// not a flow fault.
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var body TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.UserID == "" || body.TenantID == "" {
		s.writeError(w, http.StatusBadRequest, "user_id and tenant_id are required")
		return
	}

	result, err := s.engine.HandleTurn(r.Context(), body.UserID, body.TenantID, body.Text)
	if err != nil {
		s.logger.Error("turn failed past recovery", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	session, err := s.engine.Session(r.Context(), sessionID)
	if err != nil {
		s.writeSessionError(w, sessionID, err)
		return
	}
	s.writeJSON(w, http.StatusOK, session)
}

func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := s.engine.EndSession(r.Context(), sessionID, domain.EndReasonManual); err != nil {
		s.writeSessionError(w, sessionID, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		s.writeError(w, http.StatusBadRequest, "tenant_id query parameter is required")
		return
	}

	sessions, err := s.engine.Sessions(r.Context(), userID, tenantID)
	if err != nil {
		s.logger.Error("session list failed", "user_id", userID, "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if sessions == nil {
		sessions = []*domain.Session{}
	}
	s.writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) writeSessionError(w http.ResponseWriter, sessionID string, err error) {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		s.writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, domain.ErrSessionExpired):
		s.writeError(w, http.StatusGone, "session expired")
	default:
		s.logger.Error("session lookup failed", "session_id", sessionID, "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, ErrorResponse{Error: msg})
}
