package migration

import (
	"context"

	"github.com/rflorenc/dify-migration-workbench/internal/models"
)

// ExportOptions configure a backup run.
type ExportOptions struct {
	Dir    string
	Format string // json or yaml
}

// Export writes every dataset and app of every source into a backup
// directory. No target is contacted.
func Export(ctx context.Context, o Options, eo ExportOptions, deps LaneDeps) (*models.MigrationReport, error) {
	writer, err := NewBackupWriter(eo.Dir, eo.Format)
	if err != nil {
		return nil, err
	}
	deps.Log.Info().Msgf("Exporting to %s (%s)", writer.Dir, writer.Format)

	sup := newSupervisor(deps)
	kbDriver, kbSources := o.knowledgeDriver(o.knowledgeOrigins(), nil, deps)
	sup.Lanes[models.KindKnowledgeBase] = NewExportLane[models.DatasetSnapshot](
		models.KindKnowledgeBase, kbSources, kbDriver, writer.WriteDataset, o.Lane.Exclude, deps)

	origins, missing := o.appOrigins()
	for _, label := range missing {
		deps.Log.Warn().Str("source", label).Msg("source has no console credentials, its apps are not exported")
	}
	if len(origins) == 0 {
		sup.Unavailable[models.KindWorkflow] = "no source has console credentials"
	} else {
		appDeps := o.appDeps(deps)
		wfDriver, wfSources := o.workflowDriver(origins, nil, appDeps)
		sup.Lanes[models.KindWorkflow] = NewExportLane[models.AppSnapshot](
			models.KindWorkflow, wfSources, wfDriver, writer.WriteApp, o.Lane.Exclude, appDeps)
	}
	return sup.Run(ctx, o.Kinds, o.Parallel)
}
