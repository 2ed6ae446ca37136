package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rflorenc/dify-migration-workbench/internal/migration"
	"github.com/rflorenc/dify-migration-workbench/internal/models"
	"github.com/rflorenc/dify-migration-workbench/internal/telemetry"
)

// runFunc is the body of an async job.
type runFunc func(ctx context.Context, job *models.Job, deps migration.LaneDeps) (*models.MigrationReport, error)

// startJob runs fn in the background. The job's log receives every line the
// run logs; finished reports are recorded in the history when available.
func (s *Server) startJob(jobType string, fn runFunc) *models.Job {
	job := s.Jobs.Create(jobType)
	ctx, cancel := context.WithCancel(context.Background())
	job.SetCancel(cancel)

	log := telemetry.JobLogger(job, s.Config.Logging.Level).With().Str("job_id", job.ID).Logger()
	deps := migration.LaneDeps{
		Fetch:    s.Config.FetchOptions(),
		Log:      log,
		Metrics:  s.Metrics,
		Tracer:   s.Tracer,
		Progress: migration.ProgressFunc(job.SetProgress),
	}
	s.Log.Info().Str("job_id", job.ID).Str("type", jobType).Msg("job started")

	go func() {
		defer cancel()
		report, err := fn(ctx, job, deps)
		if report != nil && s.History != nil {
			if herr := s.History.SaveReport(context.WithoutCancel(ctx), jobType, report); herr != nil {
				log.Warn().Err(herr).Msg("failed to record run")
			}
		}
		switch {
		case err != nil:
			job.AppendLog("ERROR: " + err.Error())
			job.Fail(err.Error(), report)
		case ctx.Err() != nil:
			job.MarkCancelled(report)
		default:
			job.Complete(report)
		}
		s.Log.Info().Str("job_id", job.ID).Str("status", job.State()).Msg("job finished")
	}()
	return job
}

func (s *Server) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.Jobs.List()
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job := s.Jobs.Get(id)
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// GetJobReport returns the migration report of a finished job.
func (s *Server) GetJobReport(w http.ResponseWriter, r *http.Request) {
	job := s.Jobs.Get(chi.URLParam(r, "id"))
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if !job.Done() {
		writeJSON(w, http.StatusConflict, map[string]string{
			"status":  models.JobRunning,
			"message": "job is still in progress",
		})
		return
	}
	report := job.GetReport()
	if report == nil {
		writeError(w, http.StatusNotFound, "job produced no report")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// CancelJob cancels a running job. Resources already in flight finish first.
func (s *Server) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job := s.Jobs.Get(id)
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.Done() {
		writeError(w, http.StatusConflict, "job is not running")
		return
	}
	job.Cancel()
	job.AppendLog("CANCELLED: stop requested, finishing the current resource")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}
