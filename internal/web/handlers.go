package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/haasonsaas/rlmd/internal/orchestrator"
	"github.com/haasonsaas/rlmd/internal/storage"
)

// runRequest is the body of both pipeline endpoints.
type runRequest struct {
	SessionID string         `json:"session_id"`
	Query     string         `json:"query"`
	Options   map[string]any `json:"options"`
}

// errorBody mirrors the {"detail": "..."} error shape.
type errorBody struct {
	Detail string `json:"detail"`
}

func (s *Server) handleAssemble(w http.ResponseWriter, r *http.Request) {
	request, ok := s.decodeRunRequest(w, r)
	if !ok {
		return
	}

	result, err := s.orch.Assemble(r.Context(), request.SessionID, request.Query, request.Options)
	if err != nil {
		s.writeRunError(w, r, request.SessionID, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	request, ok := s.decodeRunRequest(w, r)
	if !ok {
		return
	}

	result, err := s.orch.Run(r.Context(), request.SessionID, request.Query, request.Options)
	if err != nil {
		s.writeRunError(w, r, request.SessionID, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) decodeRunRequest(w http.ResponseWriter, r *http.Request) (*runRequest, bool) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed")
		return nil, false
	}

	var request runRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_json: "+err.Error())
		return nil, false
	}
	if request.SessionID == "" {
		s.writeError(w, http.StatusBadRequest, "session_id_required")
		return nil, false
	}
	return &request, true
}

// writeRunError maps pipeline errors onto status codes: blank queries are
// 400, unknown sessions are 404, everything else is a 500.
func (s *Server) writeRunError(w http.ResponseWriter, r *http.Request, sessionID string, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrEmptyQuery):
		s.writeError(w, http.StatusBadRequest, "empty_query_not_allowed")
	case errors.Is(err, storage.ErrSessionNotFound):
		s.writeError(w, http.StatusNotFound, "session_not_found: "+sessionID)
	default:
		s.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal_error")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error(context.Background(), "response encode failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, detail string) {
	s.writeJSON(w, status, errorBody{Detail: detail})
}
