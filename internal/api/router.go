package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/rflorenc/dify-migration-workbench/internal/config"
	"github.com/rflorenc/dify-migration-workbench/internal/models"
	"github.com/rflorenc/dify-migration-workbench/internal/store"
	"github.com/rflorenc/dify-migration-workbench/internal/telemetry"
)

// Server holds shared state for all API handlers.
type Server struct {
	Config   *config.Config
	Jobs     *models.JobStore
	Previews *PreviewStore
	History  *store.Store // nil disables run history
	Metrics  *telemetry.Metrics
	Tracer   *telemetry.Tracer
	Log      zerolog.Logger
}

// NewRouter builds the chi router with all API routes.
func NewRouter(s *Server) http.Handler {
	if s.Previews == nil {
		s.Previews = NewPreviewStore()
	}
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.Log))
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", s.Metrics.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Endpoints
		r.Get("/endpoints", s.ListEndpoints)
		r.Post("/endpoints/{label}/test", s.TestEndpoint)

		// Resource browsing
		r.Get("/inventory/{kind}", s.ListInventory)
		r.Get("/exclusions", s.GetExclusions)

		// Migration
		r.Post("/migrate/preview", s.MigrationPreviewHandler)
		r.Get("/migrate/preview/{jobId}", s.GetMigrationPreview)
		r.Post("/migrate/run", s.MigrationRunHandler)

		// Operations (async)
		r.Post("/export", s.RunExport)
		r.Post("/restore", s.RunRestore)

		// Jobs
		r.Get("/jobs", s.ListJobs)
		r.Get("/jobs/{id}", s.GetJob)
		r.Get("/jobs/{id}/report", s.GetJobReport)
		r.Post("/jobs/{id}/cancel", s.CancelJob)

		// History
		r.Get("/runs", s.ListRuns)
		r.Get("/runs/{id}", s.GetRun)
		r.Get("/history/{kind}/{name}", s.GetResourceHistory)
	})

	// WebSocket (outside /api to avoid JSON content-type assumptions)
	r.Get("/ws/jobs/{id}/logs", s.StreamJobLogs)

	return r
}

// requestLogger logs one line per request through zerolog.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("request")
		})
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
