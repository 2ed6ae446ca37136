package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/rflorenc/dify-migration-workbench/internal/models"
	"github.com/rflorenc/dify-migration-workbench/internal/store"
)

func (s *Server) historyAvailable(w http.ResponseWriter) bool {
	if s.History == nil {
		writeError(w, http.StatusServiceUnavailable, "run history is disabled")
		return false
	}
	return true
}

// ListRuns returns recorded runs, newest first. ?limit= caps the count.
func (s *Server) ListRuns(w http.ResponseWriter, r *http.Request) {
	if !s.historyAvailable(w) {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := s.History.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []store.RunSummary{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) GetRun(w http.ResponseWriter, r *http.Request) {
	if !s.historyAvailable(w) {
		return
	}
	report, err := s.History.GetRun(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GetResourceHistory returns every recorded outcome of one dataset or app.
func (s *Server) GetResourceHistory(w http.ResponseWriter, r *http.Request) {
	if !s.historyAvailable(w) {
		return
	}
	kind, ok := models.ParseKind(chi.URLParam(r, "kind"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown kind")
		return
	}
	outcomes, err := s.History.ResourceHistory(r.Context(), kind, chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if outcomes == nil {
		outcomes = []models.TransferOutcome{}
	}
	writeJSON(w, http.StatusOK, outcomes)
}
