package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"prp-generator/internal/engine"
	"prp-generator/internal/generation"
	"prp-generator/internal/store"
)

// streamProgress is a progress line of the generation stream.
type streamProgress struct {
	Type string `json:"type"`
	generation.Event
}

// streamResult is the final line of a successful generation stream.
type streamResult struct {
	Type string    `json:"type"`
	PRP  store.PRP `json:"prp"`
}

// handleGenerate runs one generation and streams its progress as NDJSON.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generation.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.TemplateID) == "" {
		writeBadRequest(w, "template_id is required")
		return
	}
	if strings.TrimSpace(req.FeatureRequest) == "" {
		writeBadRequest(w, "feature_request is required")
		return
	}
	if _, err := s.store.GetTemplate(req.TemplateID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeNotFound(w, "Template not found")
			return
		}
		writeBadRequest(w, err.Error())
		return
	}
	if _, ok := w.(http.Flusher); !ok {
		writeBadRequest(w, "Streaming not supported")
		return
	}

	// Claim the slot before any stream bytes are written.
	res, err := s.generation.Reserve()
	if err != nil {
		if generation.IsGenerationActive(err) {
			writeConflict(w, err.Error())
			return
		}
		writeBadRequest(w, err.Error())
		return
	}
	defer res.Release()

	// Set up streaming response
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set(RunIDHeader, res.RunID)
	w.WriteHeader(http.StatusOK)

	prp, err := res.Generate(r.Context(), req, func(ev generation.Event) {
		writeStreamLine(w, streamProgress{Type: "progress", Event: ev})
	})
	if err != nil {
		writeStreamError(w, err.Error(), engine.IsStopped(err))
		return
	}
	writeStreamLine(w, streamResult{Type: "result", PRP: prp})
}

// handleCancelGeneration stops the active generation, if any.
func (s *Server) handleCancelGeneration(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{
		"success":   true,
		"cancelled": s.generation.Cancel(),
	})
}

// handleGetTelemetry returns the shared telemetry snapshot.
func (s *Server) handleGetTelemetry(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.telemetry.Snapshot()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]bool{"available": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"available": true,
		"port":      s.telemetry.Port(),
		"telemetry": snap,
	})
}
