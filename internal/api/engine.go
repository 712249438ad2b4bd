package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

// EngineStatus describes the resolved engine executable.
type EngineStatus struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Path      string `json:"path"`
	Error     string `json:"error,omitempty"`
}

// handleEngineStatus checks the configured engine, or the auto-detected one
// when no override is saved.
func (s *Server) handleEngineStatus(w http.ResponseWriter, r *http.Request) {
	if err := s.config.ReloadEngineSettings(); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.checkEngine(r.Context(), s.config.EnginePath()))
}

// TestEngineRequest names a candidate engine executable to check.
type TestEngineRequest struct {
	Path string `json:"path"`
}

// handleTestEngine checks a candidate path before it is saved. The route
// only accepts JSON bodies.
func (s *Server) handleTestEngine(w http.ResponseWriter, r *http.Request) {
	var req TestEngineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid request body")
		return
	}
	writeJSON(w, http.StatusOK, s.checkEngine(r.Context(), strings.TrimSpace(req.Path)))
}

func (s *Server) checkEngine(ctx context.Context, override string) EngineStatus {
	path := s.locator.Resolve(override)
	status := EngineStatus{Path: path}
	version, err := s.engine.Version(ctx, path)
	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.Available = true
	status.Version = version
	return status
}

// SetEnginePathRequest represents a request to change the engine override.
type SetEnginePathRequest struct {
	Path string `json:"path"`
}

// handleSetEnginePath saves the engine override to the .env file.
func (s *Server) handleSetEnginePath(w http.ResponseWriter, r *http.Request) {
	var req SetEnginePathRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid request body")
		return
	}
	if err := s.config.SaveEnginePath(req.Path); err != nil {
		writeBadRequest(w, "Failed to save engine path: "+err.Error())
		return
	}
	writeSuccess(w, "Engine path saved")
}
