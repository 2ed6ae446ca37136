package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rflorenc/dify-migration-workbench/internal/migration"
	"github.com/rflorenc/dify-migration-workbench/internal/models"
	"github.com/rflorenc/dify-migration-workbench/internal/telemetry"
)

// ListInventory lists one kind on every source and on the target.
func (s *Server) ListInventory(w http.ResponseWriter, r *http.Request) {
	kind, ok := models.ParseKind(chi.URLParam(r, "kind"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown kind")
		return
	}
	o, err := s.Config.MigrationOptions()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	deps := migration.LaneDeps{
		Fetch:   s.Config.FetchOptions(),
		Log:     telemetry.Component(s.Log, "inventory"),
		Metrics: s.Metrics,
		Tracer:  s.Tracer,
	}
	listings, err := migration.List(r.Context(), o, kind, deps)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, listings)
}
