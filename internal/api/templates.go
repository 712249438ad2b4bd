package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"prp-generator/internal/store"
)

// writeStoreError maps repository errors to HTTP responses.
func writeStoreError(w http.ResponseWriter, err error, notFound string) {
	if errors.Is(err, store.ErrNotFound) {
		writeNotFound(w, notFound)
		return
	}
	writeBadRequest(w, err.Error())
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	prpOnly, _ := strconv.ParseBool(r.URL.Query().Get("prp_only"))
	templates, err := s.store.ListTemplates(prpOnly)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, templates)
}

func (s *Server) handleSearchTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.store.SearchTemplates(r.URL.Query().Get("q"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, templates)
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.GetTemplate(chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err, "Template not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req store.NewTemplate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid request body")
		return
	}
	t, err := s.store.CreateTemplate(req)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var patch store.TemplatePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeBadRequest(w, "Invalid request body")
		return
	}
	t, err := s.store.UpdateTemplate(chi.URLParam(r, "id"), patch)
	if err != nil {
		writeStoreError(w, err, "Template not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteTemplate(chi.URLParam(r, "id")); err != nil {
		writeStoreError(w, err, "Template not found")
		return
	}
	writeSuccess(w, "Template deleted")
}
