package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rflorenc/dify-migration-workbench/internal/config"
	"github.com/rflorenc/dify-migration-workbench/internal/migration"
	"github.com/rflorenc/dify-migration-workbench/internal/models"
	"github.com/rflorenc/dify-migration-workbench/internal/store"
	"github.com/rflorenc/dify-migration-workbench/internal/telemetry"
)

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath string
	envFile    string
	logLevel   string
	logFormat  string
	noHistory  bool
}

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	return newRootCommand(version, commit, buildDate).ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	g := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:   "workbench",
		Short: "Dify Migration Workbench - move knowledge bases and apps between Dify instances",
		Long: `Dify Migration Workbench copies datasets (with their documents and segments)
and workflow apps (as DSL) from one or more source Dify instances into a target.

Lanes:
  - knowledge-base: datasets, documents, segments over the /v1 API
  - workflow: app DSL export and import over the console API`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "config file path (YAML or JSON)")
	rootCmd.PersistentFlags().StringVar(&g.envFile, "env-file", "", "dotenv file (default .env when present)")
	rootCmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "log format: console or json")
	rootCmd.PersistentFlags().BoolVar(&g.noHistory, "no-history", false, "do not record runs in the history database")

	rootCmd.AddCommand(newMigrateCommand(g))
	rootCmd.AddCommand(newListCommand(g))
	rootCmd.AddCommand(newExportCommand(g))
	rootCmd.AddCommand(newRestoreCommand(g))
	rootCmd.AddCommand(newServeCommand(g, version))
	rootCmd.AddCommand(newHistoryCommand(g))
	rootCmd.AddCommand(newValidateCommand(g))

	return rootCmd
}

// app is the runtime assembled from configuration for one command.
type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
	out     io.Writer
	noHist  bool
	closer  io.Closer
}

func (g *globalFlags) setup(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(config.LoadOptions{File: g.configPath, EnvFile: g.envFile})
	if err != nil {
		return nil, err
	}
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Logging.Format = g.logFormat
	}

	logger, closer, err := telemetry.NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to open log output: %w", err)
	}
	tracer, err := telemetry.NewTracer(cfg.Tracing, "dify-migration-workbench", cmd.Root().Version)
	if err != nil {
		closer.Close()
		return nil, err
	}
	return &app{
		cfg:     cfg,
		log:     logger,
		metrics: telemetry.NewMetrics(cfg.Metrics),
		tracer:  tracer,
		out:     cmd.OutOrStdout(),
		noHist:  g.noHistory,
		closer:  closer,
	}, nil
}

func (a *app) deps() migration.LaneDeps {
	return migration.LaneDeps{
		Fetch:    a.cfg.FetchOptions(),
		Log:      a.log,
		Metrics:  a.metrics,
		Tracer:   a.tracer,
		Progress: migration.ProgressFunc(a.progress),
	}
}

func (a *app) progress(resource string, done, total int) {
	a.log.Info().Str("resource", resource).Msgf("  progress %d/%d", done, total)
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.tracer.Shutdown(ctx); err != nil {
		a.log.Warn().Err(err).Msg("failed to flush traces")
	}
	a.closer.Close()
}

// record saves a finished run in the history database. Failures are logged,
// never returned: the run itself already happened.
func (a *app) record(ctx context.Context, runType string, report *models.MigrationReport) {
	if a.noHist || report == nil || a.cfg.Server.DBPath == "" {
		return
	}
	st, err := store.Open(ctx, a.cfg.Server.DBPath)
	if err != nil {
		a.log.Warn().Err(err).Msg("history database unavailable, run not recorded")
		return
	}
	defer st.Close()
	if err := st.SaveReport(context.WithoutCancel(ctx), runType, report); err != nil {
		a.log.Warn().Err(err).Msg("failed to record run")
	}
}

// parseKinds turns --kinds values into lane kinds.
func parseKinds(values []string) ([]models.Kind, error) {
	var kinds []models.Kind
	for _, v := range values {
		k, ok := models.ParseKind(v)
		if !ok {
			return nil, fmt.Errorf("unknown kind %q (want knowledge-base or workflow)", v)
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}
