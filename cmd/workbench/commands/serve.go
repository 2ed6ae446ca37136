package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/rflorenc/dify-migration-workbench/internal/api"
	"github.com/rflorenc/dify-migration-workbench/internal/models"
	"github.com/rflorenc/dify-migration-workbench/internal/platform"
	"github.com/rflorenc/dify-migration-workbench/internal/store"
)

func newServeCommand(g *globalFlags, version string) *cobra.Command {
	var (
		listen    string
		checkAuth bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API for migration jobs",
		Long: `Serve starts the HTTP API. Migrations, dry runs, exports and restores run as
background jobs whose logs stream over WebSocket. Finished runs are recorded in
the history database. Prometheus metrics are served on /metrics.`,
		Example: `  workbench serve --listen :8080
  workbench serve --check-auth`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.setup(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			if listen != "" {
				a.cfg.Server.Listen = listen
			}
			ctx := cmd.Context()

			server := &api.Server{
				Config:   a.cfg,
				Jobs:     models.NewJobStore(models.DefaultJobLimit),
				Previews: api.NewPreviewStore(),
				Metrics:  a.metrics,
				Tracer:   a.tracer,
				Log:      a.log,
			}
			if !a.noHist {
				st, err := store.Open(ctx, a.cfg.Server.DBPath)
				if err != nil {
					return err
				}
				defer st.Close()
				server.History = st
			}

			if checkAuth {
				o, err := a.cfg.MigrationOptions()
				if err != nil {
					return err
				}
				for _, ep := range append(o.Sources, o.Target) {
					h := platform.CheckEndpoint(ctx, ep, o.Client)
					ev := a.log.Info()
					if !h.OK() {
						ev = a.log.Warn()
					}
					ev.Str("endpoint", h.Label).Str("knowledge", h.Knowledge).Str("console", h.Console).
						Str("knowledge_error", h.KnowledgeError).Str("console_error", h.ConsoleError).
						Msg("endpoint check")
				}
			}

			srv := &http.Server{
				Addr:              a.cfg.Server.Listen,
				Handler:           api.NewRouter(server),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()
			a.log.Info().Str("version", version).Str("listen", srv.Addr).Msg("Dify Migration Workbench starting")

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server failed: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			a.log.Info().Msg("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			for _, job := range server.Jobs.List() {
				job.Cancel()
			}
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address (default server.listen from config)")
	cmd.Flags().BoolVar(&checkAuth, "check-auth", false, "check every endpoint's credentials at startup")
	return cmd
}
