package api

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/rflorenc/dify-migration-workbench/internal/migration"
	"github.com/rflorenc/dify-migration-workbench/internal/models"
)

// PreviewStore provides thread-safe storage for dry-run results, keyed by job.
type PreviewStore struct {
	mu       sync.RWMutex
	previews map[string]*migration.MigrationPreview
}

func NewPreviewStore() *PreviewStore {
	return &PreviewStore{previews: make(map[string]*migration.MigrationPreview)}
}

func (ps *PreviewStore) Store(jobID string, p *migration.MigrationPreview) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.previews[jobID] = p
}

func (ps *PreviewStore) Get(jobID string) *migration.MigrationPreview {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.previews[jobID]
}

// Prune drops the previews of jobs the job store no longer holds.
func (ps *PreviewStore) Prune(jobs *models.JobStore) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for id := range ps.previews {
		if jobs.Get(id) == nil {
			delete(ps.previews, id)
		}
	}
}

// runRequest overrides the configured migration switches for one job.
type runRequest struct {
	Kinds          []string `json:"kinds"`
	Parallel       *bool    `json:"parallel"`
	Mode           string   `json:"mode" validate:"omitempty,oneof=streaming buffered batch"`
	SkipExisting   *bool    `json:"skip_existing"`
	IncludeSecrets *bool    `json:"include_secrets"`
	Exclude        []string `json:"exclude"`
}

// options builds the run options from the configuration and the request.
func (s *Server) options(req runRequest) (migration.Options, error) {
	cfg := *s.Config
	if req.Mode != "" {
		cfg.Migration.Mode = req.Mode
	}
	o, err := cfg.MigrationOptions()
	if err != nil {
		return o, err
	}
	for _, v := range req.Kinds {
		k, ok := models.ParseKind(v)
		if !ok {
			return o, fmt.Errorf("unknown kind %q", v)
		}
		o.Kinds = append(o.Kinds, k)
	}
	if req.Parallel != nil {
		o.Parallel = *req.Parallel
	}
	if req.SkipExisting != nil {
		o.Lane.SkipExisting = *req.SkipExisting
	}
	if req.IncludeSecrets != nil {
		o.IncludeSecrets = *req.IncludeSecrets
	}
	o.Lane.Exclude = append(slices.Clone(o.Lane.Exclude), req.Exclude...)
	return o, nil
}

// decodeOptions reads a runRequest body and turns it into run options,
// writing the error response itself when it fails.
func (s *Server) decodeOptions(w http.ResponseWriter, r *http.Request) (migration.Options, bool) {
	var req runRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return migration.Options{}, false
	}
	o, err := s.options(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return o, false
	}
	return o, true
}

// MigrationPreviewHandler starts an async dry run (inventory + resolution).
func (s *Server) MigrationPreviewHandler(w http.ResponseWriter, r *http.Request) {
	o, ok := s.decodeOptions(w, r)
	if !ok {
		return
	}
	job := s.startJob("preview", func(ctx context.Context, job *models.Job, deps migration.LaneDeps) (*models.MigrationReport, error) {
		preview, err := migration.Preview(ctx, o, deps)
		if err != nil {
			return nil, err
		}
		s.Previews.Prune(s.Jobs)
		s.Previews.Store(job.ID, preview)
		return nil, nil
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

// GetMigrationPreview returns the result of a completed preview job.
func (s *Server) GetMigrationPreview(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")

	job := s.Jobs.Get(jobID)
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	switch job.State() {
	case models.JobRunning:
		writeJSON(w, http.StatusConflict, map[string]string{
			"status":  models.JobRunning,
			"message": "preview is still in progress",
		})
		return
	case models.JobFailed:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status": models.JobFailed,
			"error":  job.Error,
		})
		return
	}

	preview := s.Previews.Get(jobID)
	if preview == nil {
		writeError(w, http.StatusNotFound, "preview data not found")
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// MigrationRunHandler starts a migration job.
func (s *Server) MigrationRunHandler(w http.ResponseWriter, r *http.Request) {
	o, ok := s.decodeOptions(w, r)
	if !ok {
		return
	}
	job := s.startJob("migrate", func(ctx context.Context, _ *models.Job, deps migration.LaneDeps) (*models.MigrationReport, error) {
		return migration.Run(ctx, o, deps)
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}
