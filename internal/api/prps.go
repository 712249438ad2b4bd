package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleListPRPs(w http.ResponseWriter, r *http.Request) {
	prps, err := s.store.ListPRPs()
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, prps)
}

func (s *Server) handleGetPRP(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetPRP(chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err, "PRP not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// UpdatePRPRequest represents a request to revise a PRP.
type UpdatePRPRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (s *Server) handleUpdatePRP(w http.ResponseWriter, r *http.Request) {
	var req UpdatePRPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid request body")
		return
	}
	p, err := s.store.UpdatePRP(chi.URLParam(r, "id"), req.Title, req.Content)
	if err != nil {
		writeStoreError(w, err, "PRP not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeletePRP(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeletePRP(chi.URLParam(r, "id")); err != nil {
		writeStoreError(w, err, "PRP not found")
		return
	}
	writeSuccess(w, "PRP deleted")
}

func (s *Server) handleListPRPVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := s.store.ListPRPVersions(chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err, "PRP not found")
		return
	}
	writeJSON(w, http.StatusOK, versions)
}
