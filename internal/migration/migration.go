package migration

import (
	"context"
	"fmt"

	"github.com/rflorenc/dify-migration-workbench/internal/models"
	"github.com/rflorenc/dify-migration-workbench/internal/platform"
	"github.com/rflorenc/dify-migration-workbench/internal/telemetry"
)

// DefaultAppPageSize is the page size used when listing apps.
const DefaultAppPageSize = 30

// BackupLabel is the source label of a restored backup directory.
const BackupLabel = "backup"

// Options configure a run against live endpoints.
type Options struct {
	Sources          []models.Endpoint
	Target           models.Endpoint
	Kinds            []models.Kind // empty means every lane
	Parallel         bool
	Lane             LaneOptions
	IncludeSecrets   bool
	DedupOnReuse     bool
	SegmentBatchSize int
	AppPageSize      int
	Client           platform.ClientOptions
}

// SourceLabel returns the label identifying the i-th source endpoint.
func SourceLabel(i int, ep models.Endpoint) string {
	if ep.Label != "" {
		return ep.Label
	}
	return fmt.Sprintf("source-%d", i+1)
}

type knowledgeOrigin struct {
	label  string
	reader KnowledgeReader
}

type appOrigin struct {
	label  string
	reader AppReader
}

func (o Options) knowledgeOrigins() []knowledgeOrigin {
	origins := make([]knowledgeOrigin, 0, len(o.Sources))
	for i, ep := range o.Sources {
		origins = append(origins, knowledgeOrigin{SourceLabel(i, ep), platform.NewKnowledgeAPI(ep, o.Client)})
	}
	return origins
}

// appOrigins returns the sources that can log into the console, and the
// labels of those that cannot.
func (o Options) appOrigins() ([]appOrigin, []string) {
	var (
		origins []appOrigin
		missing []string
	)
	for i, ep := range o.Sources {
		if !ep.HasConsoleCredentials() {
			missing = append(missing, SourceLabel(i, ep))
			continue
		}
		origins = append(origins, appOrigin{SourceLabel(i, ep), platform.NewConsoleAPI(ep, o.Client)})
	}
	return origins, missing
}

// appDeps switches the fetch options to the app listing page size.
func (o Options) appDeps(deps LaneDeps) LaneDeps {
	size := o.AppPageSize
	if size <= 0 {
		size = DefaultAppPageSize
	}
	deps.Fetch.PageSize = size
	return deps
}

func (o Options) knowledgeDriver(origins []knowledgeOrigin, target KnowledgeWriter, deps LaneDeps) (*KnowledgeDriver, []Source) {
	sources := make([]Source, 0, len(origins))
	readers := make(map[string]KnowledgeReader, len(origins))
	for _, og := range origins {
		sources = append(sources, Source{Label: og.label, List: og.reader.DatasetsPage})
		readers[og.label] = og.reader
	}
	return &KnowledgeDriver{
		Readers:          readers,
		Target:           target,
		Fetch:            deps.Fetch,
		SegmentBatchSize: o.SegmentBatchSize,
		DedupOnReuse:     o.DedupOnReuse,
		Progress:         deps.Progress,
		Log:              telemetry.Component(deps.Log, "kb-driver"),
	}, sources
}

func (o Options) workflowDriver(origins []appOrigin, target AppWriter, deps LaneDeps) (*WorkflowDriver, []Source) {
	sources := make([]Source, 0, len(origins))
	readers := make(map[string]AppReader, len(origins))
	for _, og := range origins {
		sources = append(sources, Source{Label: og.label, List: og.reader.AppsPage})
		readers[og.label] = og.reader
	}
	return &WorkflowDriver{
		Readers:        readers,
		Target:         target,
		IncludeSecrets: o.IncludeSecrets,
		Progress:       deps.Progress,
		Log:            telemetry.Component(deps.Log, "workflow-driver"),
	}, sources
}

func (o Options) knowledgeLane(origins []knowledgeOrigin, target KnowledgeWriter, deps LaneDeps) LaneRunner {
	driver, sources := o.knowledgeDriver(origins, target, deps)
	return NewLane[models.DatasetSnapshot](models.KindKnowledgeBase, sources, target.DatasetsPage, driver, o.Lane, deps)
}

func (o Options) workflowLane(origins []appOrigin, target AppWriter, deps LaneDeps) LaneRunner {
	deps = o.appDeps(deps)
	driver, sources := o.workflowDriver(origins, target, deps)
	return NewLane[models.AppSnapshot](models.KindWorkflow, sources, target.AppsPage, driver, o.Lane, deps)
}

func newSupervisor(deps LaneDeps) *Supervisor {
	return &Supervisor{
		Lanes:       map[models.Kind]LaneRunner{},
		Unavailable: map[models.Kind]string{},
		Log:         deps.Log,
		Metrics:     deps.Metrics,
		Tracer:      deps.Tracer,
	}
}

// targetConsole returns the target's console client, or the reason the
// workflow lane cannot run.
func (o Options) targetConsole() (*platform.ConsoleAPI, string) {
	if !o.Target.HasConsoleCredentials() {
		return nil, "target has no console credentials"
	}
	return platform.NewConsoleAPI(o.Target, o.Client), ""
}

// Supervisor builds the supervisor for a live migration. The workflow lane
// only runs for sources and a target with console credentials.
func (o Options) Supervisor(deps LaneDeps) *Supervisor {
	sup := newSupervisor(deps)
	sup.Lanes[models.KindKnowledgeBase] = o.knowledgeLane(o.knowledgeOrigins(), platform.NewKnowledgeAPI(o.Target, o.Client), deps)

	console, reason := o.targetConsole()
	if console == nil {
		sup.Unavailable[models.KindWorkflow] = reason
		return sup
	}
	origins, missing := o.appOrigins()
	for _, label := range missing {
		deps.Log.Warn().Str("source", label).Msg("source has no console credentials, its apps are not migrated")
	}
	if len(origins) == 0 {
		sup.Unavailable[models.KindWorkflow] = "no source has console credentials"
		return sup
	}
	sup.Lanes[models.KindWorkflow] = o.workflowLane(origins, console, deps)
	return sup
}

// Run migrates every requested lane from the sources into the target.
func Run(ctx context.Context, o Options, deps LaneDeps) (*models.MigrationReport, error) {
	deps.Log.Info().Msgf("Target: %s", o.Target)
	for i, ep := range o.Sources {
		deps.Log.Info().Msgf("Source %d: %s", i+1, ep)
	}
	return o.Supervisor(deps).Run(ctx, o.Kinds, o.Parallel)
}

// Restore imports a backup directory into the target through the same lanes.
// o.Sources is ignored.
func Restore(ctx context.Context, o Options, dir string, deps LaneDeps) (*models.MigrationReport, error) {
	origin, err := OpenFileOrigin(dir)
	if err != nil {
		return nil, err
	}
	datasets, apps := origin.Counts()
	deps.Log.Info().Msgf("Restoring %d datasets and %d apps from %s", datasets, apps, dir)

	sup := newSupervisor(deps)
	sup.Lanes[models.KindKnowledgeBase] = o.knowledgeLane(
		[]knowledgeOrigin{{BackupLabel, origin}}, platform.NewKnowledgeAPI(o.Target, o.Client), deps)
	if console, reason := o.targetConsole(); console != nil {
		sup.Lanes[models.KindWorkflow] = o.workflowLane([]appOrigin{{BackupLabel, origin}}, console, deps)
	} else {
		sup.Unavailable[models.KindWorkflow] = reason
	}
	return sup.Run(ctx, o.Kinds, o.Parallel)
}
