package api

import (
	"context"
	"net/http"

	"github.com/rflorenc/dify-migration-workbench/internal/migration"
	"github.com/rflorenc/dify-migration-workbench/internal/models"
)

type exportRequest struct {
	runRequest
	Dir    string `json:"dir"`
	Format string `json:"format" validate:"omitempty,oneof=json yaml"`
}

type restoreRequest struct {
	runRequest
	Dir string `json:"dir" validate:"required"`
}

// RunExport starts a backup of every source into a directory.
func (s *Server) RunExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	o, err := s.options(req.runRequest)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	eo := migration.ExportOptions{Dir: req.Dir, Format: req.Format}
	if eo.Dir == "" {
		eo.Dir = s.Config.ExportDir
	}

	job := s.startJob("export", func(ctx context.Context, _ *models.Job, deps migration.LaneDeps) (*models.MigrationReport, error) {
		return migration.Export(ctx, o, eo, deps)
	})
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":     job.ID,
		"output_dir": eo.Dir,
	})
}

// RunRestore starts an import of a backup directory into the target.
func (s *Server) RunRestore(w http.ResponseWriter, r *http.Request) {
	var req restoreRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	o, err := s.options(req.runRequest)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job := s.startJob("restore", func(ctx context.Context, _ *models.Job, deps migration.LaneDeps) (*models.MigrationReport, error) {
		return migration.Restore(ctx, o, req.Dir, deps)
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}
