package migration

import (
	"context"

	"github.com/rflorenc/dify-migration-workbench/internal/models"
	"github.com/rflorenc/dify-migration-workbench/internal/pagination"
	"github.com/rflorenc/dify-migration-workbench/internal/platform"
)

// KnowledgeReader reads datasets page by page from a source.
// *platform.KnowledgeAPI and *FileOrigin implement it.
type KnowledgeReader interface {
	DatasetsPage(ctx context.Context, cursor string, pageSize int) (pagination.Page[models.TopLevelResource], error)
	DocumentsPage(ctx context.Context, datasetID, cursor string, pageSize int) (pagination.Page[models.Document], error)
	SegmentsPage(ctx context.Context, datasetID, documentID, cursor string, pageSize int) (pagination.Page[models.Segment], error)
}

// KnowledgeWriter is the target side of the knowledge-base lane.
type KnowledgeWriter interface {
	DatasetsPage(ctx context.Context, cursor string, pageSize int) (pagination.Page[models.TopLevelResource], error)
	DocumentsPage(ctx context.Context, datasetID, cursor string, pageSize int) (pagination.Page[models.Document], error)
	CreateDataset(ctx context.Context, name, description string) (string, error)
	CreateDocument(ctx context.Context, datasetID, name string, seed models.Segment) (string, error)
	AddSegments(ctx context.Context, datasetID, documentID string, segments []models.Segment) error
}

// AppReader reads apps and their DSL from a source.
type AppReader interface {
	AppsPage(ctx context.Context, cursor string, pageSize int) (pagination.Page[models.TopLevelResource], error)
	ExportDSL(ctx context.Context, appID string, includeSecrets bool) ([]byte, error)
}

// AppWriter is the target side of the workflow lane.
type AppWriter interface {
	AppsPage(ctx context.Context, cursor string, pageSize int) (pagination.Page[models.TopLevelResource], error)
	ImportDSL(ctx context.Context, req models.ImportRequest) (*platform.ImportResult, error)
}

// ProgressSink receives child progress of one top-level resource.
type ProgressSink interface {
	Progress(resource string, done, total int)
}

// ProgressFunc adapts a function to a ProgressSink.
type ProgressFunc func(resource string, done, total int)

func (f ProgressFunc) Progress(resource string, done, total int) { f(resource, done, total) }

type noProgress struct{}

func (noProgress) Progress(string, int, int) {}

func progressOrNop(p ProgressSink) ProgressSink {
	if p == nil {
		return noProgress{}
	}
	return p
}
