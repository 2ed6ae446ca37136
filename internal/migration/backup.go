package migration

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/rflorenc/dify-migration-workbench/internal/models"
	"github.com/rflorenc/dify-migration-workbench/internal/pagination"
	"github.com/rflorenc/dify-migration-workbench/internal/telemetry"
)

// Backup file formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

const (
	datasetPrefix = "dataset_"
	appPrefix     = "app_"
)

// BackupWriter stores snapshots as one file per top-level resource.
type BackupWriter struct {
	Dir    string
	Format string // json (default) or yaml
}

// NewBackupWriter creates the backup directory.
func NewBackupWriter(dir, format string) (*BackupWriter, error) {
	switch format {
	case "":
		format = FormatJSON
	case FormatJSON, FormatYAML:
	default:
		return nil, fmt.Errorf("unsupported backup format %q", format)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating backup dir: %w", err)
	}
	return &BackupWriter{Dir: dir, Format: format}, nil
}

// WriteDataset stores a dataset snapshot and returns the file path.
// Ids are only unique within their origin, so the origin is part of the
// file name.
func (w *BackupWriter) WriteDataset(snap models.DatasetSnapshot) (string, error) {
	return w.write(backupFileName(datasetPrefix, snap.Dataset), snap)
}

// WriteApp stores an app snapshot and returns the file path.
func (w *BackupWriter) WriteApp(snap models.AppSnapshot) (string, error) {
	return w.write(backupFileName(appPrefix, snap.App), snap)
}

var unsafeFileChars = strings.NewReplacer("/", "-", "\\", "-", ":", "-", " ", "-")

func backupFileName(prefix string, r models.TopLevelResource) string {
	return prefix + unsafeFileChars.Replace(r.Origin) + "_" + unsafeFileChars.Replace(r.ID)
}

// backupKey is the id a FileOrigin gives a resource: unique across the
// origins a backup directory may mix.
func backupKey(r models.TopLevelResource) string {
	return r.Origin + "/" + r.ID
}

func (w *BackupWriter) write(base string, v interface{}) (string, error) {
	var (
		data []byte
		err  error
	)
	if w.Format == FormatYAML {
		data, err = yaml.Marshal(v)
	} else {
		data, err = json.MarshalIndent(v, "", "  ")
	}
	if err != nil {
		return "", fmt.Errorf("encoding %s: %w", base, err)
	}

	path := filepath.Join(w.Dir, base+"."+w.Format)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}

// FileOrigin serves a backup directory through the same paginated reader
// interfaces as a live source. Top-level ids are "<origin>/<id>" of the
// source the backup was taken from.
type FileOrigin struct {
	datasets []models.DatasetSnapshot
	apps     []models.AppSnapshot
	byID     map[string]int
	appByID  map[string]int
}

// OpenFileOrigin loads every dataset_* and app_* file of dir, in file name order.
func OpenFileOrigin(dir string) (*FileOrigin, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading backup dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	fo := &FileOrigin{byID: map[string]int{}, appByID: map[string]int{}}
	for _, name := range names {
		ext := filepath.Ext(name)
		if ext != ".json" && ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, name)
		switch {
		case strings.HasPrefix(name, datasetPrefix):
			var snap models.DatasetSnapshot
			if err := decodeFile(path, ext, &snap); err != nil {
				return nil, err
			}
			key := backupKey(snap.Dataset)
			if _, dup := fo.byID[key]; dup {
				return nil, fmt.Errorf("backup holds dataset %s twice (%s)", key, name)
			}
			fo.byID[key] = len(fo.datasets)
			fo.datasets = append(fo.datasets, snap)
		case strings.HasPrefix(name, appPrefix):
			var snap models.AppSnapshot
			if err := decodeFile(path, ext, &snap); err != nil {
				return nil, err
			}
			key := backupKey(snap.App)
			if _, dup := fo.appByID[key]; dup {
				return nil, fmt.Errorf("backup holds app %s twice (%s)", key, name)
			}
			fo.appByID[key] = len(fo.apps)
			fo.apps = append(fo.apps, snap)
		}
	}
	return fo, nil
}

func decodeFile(path, ext string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if ext == ".json" {
		err = json.Unmarshal(data, v)
	} else {
		err = yaml.Unmarshal(data, v)
	}
	if err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

// Counts returns the number of datasets and apps loaded.
func (f *FileOrigin) Counts() (datasets, apps int) {
	return len(f.datasets), len(f.apps)
}

// DatasetsPage implements KnowledgeReader.
func (f *FileOrigin) DatasetsPage(_ context.Context, cursor string, size int) (pagination.Page[models.TopLevelResource], error) {
	all := make([]models.TopLevelResource, len(f.datasets))
	for i, s := range f.datasets {
		all[i] = s.Dataset
		all[i].ID = backupKey(s.Dataset)
	}
	return pageOf(all, cursor, size)
}

// DocumentsPage implements KnowledgeReader.
func (f *FileOrigin) DocumentsPage(_ context.Context, datasetID, cursor string, size int) (pagination.Page[models.Document], error) {
	snap, err := f.dataset(datasetID)
	if err != nil {
		return pagination.Page[models.Document]{}, err
	}
	docs := make([]models.Document, len(snap.Documents))
	for i, d := range snap.Documents {
		docs[i] = d.Document
	}
	return pageOf(docs, cursor, size)
}

// SegmentsPage implements KnowledgeReader. A document whose segments could
// not be read at backup time fails the same way again.
func (f *FileOrigin) SegmentsPage(_ context.Context, datasetID, documentID, cursor string, size int) (pagination.Page[models.Segment], error) {
	snap, err := f.dataset(datasetID)
	if err != nil {
		return pagination.Page[models.Segment]{}, err
	}
	for _, d := range snap.Documents {
		if d.Document.ID != documentID {
			continue
		}
		if d.FetchError != "" {
			return pagination.Page[models.Segment]{}, fmt.Errorf("backup: %s", d.FetchError)
		}
		return pageOf(d.Segments, cursor, size)
	}
	return pagination.Page[models.Segment]{}, fmt.Errorf("backup has no document %s in dataset %s", documentID, datasetID)
}

// AppsPage implements AppReader.
func (f *FileOrigin) AppsPage(_ context.Context, cursor string, size int) (pagination.Page[models.TopLevelResource], error) {
	all := make([]models.TopLevelResource, len(f.apps))
	for i, s := range f.apps {
		all[i] = s.App
		all[i].ID = backupKey(s.App)
		if all[i].Mode == "" {
			all[i].Mode = s.Mode
		}
	}
	return pageOf(all, cursor, size)
}

// ExportDSL implements AppReader. Secrets were handled when the backup was taken.
func (f *FileOrigin) ExportDSL(_ context.Context, appID string, _ bool) ([]byte, error) {
	i, ok := f.appByID[appID]
	if !ok {
		return nil, fmt.Errorf("backup has no app %s", appID)
	}
	return []byte(f.apps[i].DSL), nil
}

func (f *FileOrigin) dataset(id string) (*models.DatasetSnapshot, error) {
	i, ok := f.byID[id]
	if !ok {
		return nil, fmt.Errorf("backup has no dataset %s", id)
	}
	return &f.datasets[i], nil
}

// pageOf serves a slice with the same 1-based page numbering as the live API.
func pageOf[T any](items []T, cursor string, size int) (pagination.Page[T], error) {
	page := 1
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 1 {
			return pagination.Page[T]{}, fmt.Errorf("invalid page cursor %q", cursor)
		}
		page = n
	}
	if size <= 0 {
		size = pagination.DefaultPageSize
	}
	start := (page - 1) * size
	if start >= len(items) {
		return pagination.Page[T]{Items: []T{}}, nil
	}
	end := min(start+size, len(items))
	return pagination.Page[T]{Items: items[start:end], HasMore: end < len(items)}, nil
}

// ExportLane archives every resource of one kind from every source without
// touching a target. It reuses the driver's export half.
type ExportLane[P any] struct {
	kind      models.Kind
	sources   []Source
	export    func(context.Context, models.TopLevelResource) (P, error)
	save      func(P) (string, error)
	exclude   []string
	inventory *Inventory
	log       zerolog.Logger
	metrics   *telemetry.Metrics
	tracer    *telemetry.Tracer
}

// NewExportLane wires an export lane.
func NewExportLane[P any](kind models.Kind, sources []Source, driver Driver[P], save func(P) (string, error), exclude []string, deps LaneDeps) *ExportLane[P] {
	log := telemetry.Component(deps.Log, string(kind)+"-export")
	return &ExportLane[P]{
		kind:      kind,
		sources:   sources,
		export:    driver.Export,
		save:      save,
		exclude:   exclude,
		inventory: &Inventory{Fetch: deps.Fetch, Log: log, Metrics: deps.Metrics},
		log:       log,
		metrics:   deps.Metrics,
		tracer:    deps.Tracer,
	}
}

// Kind returns the lane's resource kind.
func (e *ExportLane[P]) Kind() models.Kind { return e.kind }

// Run writes one backup file per resource. Failures are recorded per resource.
func (e *ExportLane[P]) Run(ctx context.Context) (models.LaneReport, error) {
	started := time.Now()
	report := models.LaneReport{Kind: e.kind, Status: models.LaneCompleted, State: string(StateTransferring), StartedAt: &started, Outcomes: []models.TransferOutcome{}}
	ctx, span := e.tracer.Start(ctx, "export."+string(e.kind), telemetry.AttrKind.String(string(e.kind)))
	defer span.End()
	done := e.metrics.LaneStarted(string(e.kind))
	defer func() { done(string(report.Status)) }()

	e.log.Info().Msgf("=== Exporting %s ===", e.kind)
	candidates, srcErrs := e.inventory.Sources(ctx, e.sources, e.kind)
	report.SourceErrors = srcErrs
	skip := map[string]bool{}
	for _, n := range e.exclude {
		skip[n] = true
	}

	for _, c := range candidates {
		if ctx.Err() != nil {
			report.Cancelled = true
			break
		}
		if skip[c.Name] {
			e.log.Info().Msgf("  EXCLUDED: %s (user exclusion)", c.Name)
			continue
		}
		t0 := time.Now()
		out := models.NewOutcome(c)
		out.Attempted = 1
		p, err := e.export(context.WithoutCancel(ctx), c)
		if err == nil {
			out.TargetID, err = e.save(p)
		}
		if err != nil {
			e.log.Error().Err(err).Msgf("  FAIL: %s", c.Name)
			out.ChildFailed(c.Name, err)
		} else {
			out.Succeeded = 1
			e.log.Info().Msgf("  EXPORTED: %s -> %s", c.Name, out.TargetID)
		}
		out.Settle(false)
		e.metrics.RecordOutcome(string(e.kind), string(out.Status), out.Succeeded, out.Failed, 0, time.Since(t0))
		report.Outcomes = append(report.Outcomes, out)
	}

	finished := time.Now()
	report.FinishedAt = &finished
	report.State = string(StateDone)
	return report, nil
}
