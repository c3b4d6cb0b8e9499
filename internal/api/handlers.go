package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, errorResponse{Error: msg})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
	})
}

type statusResponse struct {
	Status           string     `json:"status,omitempty"`
	Since            *time.Time `json:"since,omitempty"`
	Seen             bool       `json:"seen"`
	WatchdogDeadline time.Time  `json:"watchdog_deadline"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	token, since, seen := s.source.Current()
	resp := statusResponse{
		Seen:             seen,
		WatchdogDeadline: s.source.Deadline(),
	}
	if seen {
		resp.Status = string(token)
		resp.Since = &since
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCycles(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	cycles, err := s.cycles.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to read cycles", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read cycles")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"cycles": cycles})
}

func (s *Server) handleFleet(w http.ResponseWriter, r *http.Request) {
	members, err := s.fleet.ListMembers(r.Context())
	if err != nil {
		s.logger.Error("failed to read fleet", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read fleet")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"members": members,
		"count":   len(members),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var since int64
	if raw := r.URL.Query().Get("since"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "since must be a non-negative integer")
			return
		}
		since = n
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"events": s.hub.SnapshotSince(since)})
}
