package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/archeval/arbiter/internal/models"
	"github.com/archeval/arbiter/internal/session"
)

// Response helpers

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := apiResponse{
		Success: false,
		Error: &apiError{
			Code:    code,
			Message: message,
		},
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

// respondSessionError maps manager errors onto HTTP statuses.
func respondSessionError(w http.ResponseWriter, err error, action string) {
	var verr *models.ValidationError
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		respondError(w, http.StatusNotFound, "not_found", "session not found")
	case errors.Is(err, session.ErrSessionExpired):
		respondError(w, http.StatusGone, "session_expired", "session has expired")
	case errors.Is(err, session.ErrRunInFlight):
		respondError(w, http.StatusConflict, "run_in_flight", "a test run is already in flight for this session")
	case errors.Is(err, session.ErrNoCandidates):
		respondError(w, http.StatusUnprocessableEntity, "no_candidates", "bundle has no candidates to run")
	case errors.As(err, &verr):
		respondError(w, http.StatusBadRequest, "validation_error", verr.Error())
	default:
		slog.Error("failed to "+action, "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to "+action)
	}
}

// Health handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "not_ready", "service not ready")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}

// Session handlers

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req models.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if req.Problem == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "problem is required")
		return
	}

	createdBy := ""
	if client := ClientFromContext(r.Context()); client != nil {
		createdBy = client.Name
	}

	sess, err := s.sessions.Create(r.Context(), req.Problem, time.Duration(req.TTL)*time.Second, createdBy)
	if err != nil {
		respondSessionError(w, err, "create session")
		return
	}

	respondJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "session id is required")
		return
	}

	sess, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		respondSessionError(w, err, "get session")
		return
	}

	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "session id is required")
		return
	}

	if err := s.sessions.Delete(r.Context(), id); err != nil {
		respondSessionError(w, err, "delete session")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "session deleted",
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	filters := models.ListFilters{
		Status: models.SessionStatus(r.URL.Query().Get("status")),
		Limit:  50, // default
		Offset: 0,
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			filters.Limit = limit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil && offset >= 0 {
			filters.Offset = offset
		}
	}

	sessions, err := s.sessions.List(r.Context(), filters)
	if err != nil {
		slog.Error("failed to list sessions", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to list sessions")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "session id is required")
		return
	}

	var req models.RegenerateRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
			return
		}
	}

	sess, err := s.sessions.Regenerate(r.Context(), id, req.Problem)
	if err != nil {
		respondSessionError(w, err, "regenerate session")
		return
	}

	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "session id is required")
		return
	}

	sess, err := s.sessions.StartRun(r.Context(), id)
	if err != nil {
		respondSessionError(w, err, "start run")
		return
	}

	respondJSON(w, http.StatusAccepted, sess)
}

func (s *Server) handleGetScores(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "session id is required")
		return
	}

	sess, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		respondSessionError(w, err, "get scores")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"scores":         sess.Scores,
		"bundle_version": sess.BundleVersion,
		"total":          len(sess.Scores),
	})
}

func (s *Server) handleGetSelection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "session id is required")
		return
	}

	selection, err := s.sessions.Selection(r.Context(), id)
	if err != nil {
		respondSessionError(w, err, "get selection")
		return
	}

	respondJSON(w, http.StatusOK, selection)
}

// Problem catalog handlers

func (s *Server) handleListProblems(w http.ResponseWriter, r *http.Request) {
	problems := s.problemLoader.List()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"problems": problems,
		"total":    len(problems),
	})
}

func (s *Server) handleGetProblem(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "problem name is required")
		return
	}

	problem := s.problemLoader.Get(name)
	if problem == nil {
		respondError(w, http.StatusNotFound, "not_found", "problem template not found")
		return
	}

	respondJSON(w, http.StatusOK, problem)
}
