// Package api provides the REST surface consumed by the front end.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/speccheck/speccheck/internal/checker"
	"github.com/speccheck/speccheck/internal/models"
	"github.com/speccheck/speccheck/internal/store"
)

// Error codes rendered in the error envelope.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeNotFound       = "NOT_FOUND"
	CodeNotReady       = "NOT_READY"
	CodeConflict       = "CONFLICT"
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeInternalError  = "INTERNAL_ERROR"
)

// Server provides the REST API handlers.
type Server struct {
	checker *checker.Orchestrator
	apiKey  string // empty disables auth
}

// NewServer creates a new API server. An empty apiKey leaves all endpoints
// open; otherwise every route except health requires a bearer token.
func NewServer(c *checker.Orchestrator, apiKey string) *Server {
	return &Server{checker: c, apiKey: apiKey}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", s.health)

	mux.HandleFunc("POST /api/v1/checks", s.submitCheck)
	mux.HandleFunc("GET /api/v1/checks", s.listChecks)
	mux.HandleFunc("GET /api/v1/checks/{id}", s.getCheck)
	mux.HandleFunc("GET /api/v1/checks/{id}/report", s.getReport)
	mux.HandleFunc("POST /api/v1/checks/{id}/cancel", s.cancelCheck)
	mux.HandleFunc("DELETE /api/v1/checks/{id}", s.deleteCheck)

	return corsMiddleware(s.authMiddleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authMiddleware enforces the bearer API key on everything except health.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" || r.URL.Path == "/api/v1/health" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.apiKey {
			writeError(w, http.StatusUnauthorized, CodeUnauthorized, "missing or invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": msg},
	})
}

// writeCheckerError maps orchestrator sentinel errors onto the envelope.
func writeCheckerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, checker.ErrNotFound), errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, checker.ErrNotReady):
		writeError(w, http.StatusConflict, CodeNotReady, err.Error())
	case errors.Is(err, checker.ErrConflict):
		writeError(w, http.StatusConflict, CodeConflict, err.Error())
	case errors.Is(err, checker.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, CodeInternalError, err.Error())
	}
}

// --- Health ---

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	backend, pending, running := s.checker.Health(r.Context())
	status := "ok"
	if backend.Status != "connected" {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         status,
		"backend":        backend,
		"pending_checks": pending,
		"running_checks": running,
	})
}

// --- Checks ---

func (s *Server) submitCheck(w http.ResponseWriter, r *http.Request) {
	var req models.CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid JSON")
		return
	}
	c, err := s.checker.Submit(req)
	if err != nil {
		writeCheckerError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, c)
}

func (s *Server) listChecks(w http.ResponseWriter, r *http.Request) {
	filter := store.ListFilter{
		State:      models.CheckState(r.URL.Query().Get("status")),
		Repository: r.URL.Query().Get("repository"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, CodeInvalidRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, CodeInvalidRequest, "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}

	checks, err := s.checker.List(r.Context(), filter)
	if err != nil {
		writeCheckerError(w, err)
		return
	}
	if checks == nil {
		checks = []models.Check{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"checks": checks,
		"count":  len(checks),
	})
}

// checkResponse widens the status snapshot with the issue summary once the
// check has produced issues.
type checkResponse struct {
	models.Check
	Summary *models.Summary `json:"summary,omitempty"`
}

func (s *Server) getCheck(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	c, err := s.checker.GetStatus(r.Context(), id)
	if err != nil {
		writeCheckerError(w, err)
		return
	}
	resp := checkResponse{Check: c}
	if c.State == models.CheckStateCompleted {
		summary := c.Summarize()
		summary.SpecsChecked = len(c.Request.SpecFiles)
		resp.Summary = &summary
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rep, err := s.checker.GetReport(r.Context(), id)
	if err != nil {
		writeCheckerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"check_id": id,
		"report":   rep,
	})
}

func (s *Server) cancelCheck(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.checker.Cancel(id); err != nil {
		writeCheckerError(w, err)
		return
	}
	c, err := s.checker.GetStatus(r.Context(), id)
	if err != nil {
		writeCheckerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) deleteCheck(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.checker.Delete(r.Context(), id); err != nil {
		writeCheckerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
