package migration

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/rflorenc/dify-migration-workbench/internal/models"
	"github.com/rflorenc/dify-migration-workbench/internal/pagination"
	"github.com/rflorenc/dify-migration-workbench/internal/platform"
)

// Driver moves one top-level resource. Export only reads from the origin,
// Import only writes to the target and receives Create or Reuse decisions.
type Driver[P any] interface {
	Export(ctx context.Context, candidate models.TopLevelResource) (P, error)
	Import(ctx context.Context, payload P, d Decision) models.TransferOutcome
}

// DefaultSegmentBatchSize is the number of segments sent per AddSegments call.
const DefaultSegmentBatchSize = 50

// KnowledgeDriver transfers datasets with their documents and segments.
type KnowledgeDriver struct {
	Readers          map[string]KnowledgeReader // by source label
	Target           KnowledgeWriter
	Fetch            pagination.Options
	SegmentBatchSize int
	DedupOnReuse     bool
	Progress         ProgressSink
	Log              zerolog.Logger
}

func (k *KnowledgeDriver) fetchOptions() pagination.Options {
	opts := k.Fetch
	if opts.Retryable == nil {
		opts.Retryable = platform.IsRetryable
	}
	return opts
}

// Export reads every document of the dataset and each document's segments in
// source order. A segment listing failure is kept on its document.
func (k *KnowledgeDriver) Export(ctx context.Context, c models.TopLevelResource) (models.DatasetSnapshot, error) {
	snap := models.DatasetSnapshot{Dataset: c}
	reader, ok := k.Readers[c.Origin]
	if !ok {
		return snap, fmt.Errorf("no knowledge reader for source %q", c.Origin)
	}

	docs, err := pagination.New[models.Document](func(ctx context.Context, cursor string, size int) (pagination.Page[models.Document], error) {
		return reader.DocumentsPage(ctx, c.ID, cursor, size)
	}, k.fetchOptions()).All(ctx)
	if err != nil {
		return snap, fmt.Errorf("listing documents of %s: %w", c.Name, err)
	}

	for _, doc := range docs {
		ds := models.DocumentSnapshot{Document: doc}
		segs, err := pagination.New[models.Segment](func(ctx context.Context, cursor string, size int) (pagination.Page[models.Segment], error) {
			return reader.SegmentsPage(ctx, c.ID, doc.ID, cursor, size)
		}, k.fetchOptions()).All(ctx)
		if err != nil {
			k.Log.Warn().Err(err).Str("document", doc.Name).Msg("  FAIL: reading segments")
			ds.FetchError = err.Error()
		} else {
			ds.Segments = segs
		}
		snap.Documents = append(snap.Documents, ds)
	}
	k.Log.Debug().Str("dataset", c.Name).Int("documents", len(docs)).Msg("exported dataset")
	return snap, nil
}

// Import creates or reuses the target dataset and then recreates every
// document. A failed document does not stop the others, except for an
// authentication failure which ends the import.
func (k *KnowledgeDriver) Import(ctx context.Context, snap models.DatasetSnapshot, d Decision) models.TransferOutcome {
	out := models.NewOutcome(snap.Dataset)
	name := snap.Dataset.Name
	progress := progressOrNop(k.Progress)

	created := false
	datasetID := d.TargetID
	switch d.Action {
	case ActionCreate:
		id, err := k.Target.CreateDataset(ctx, name, snap.Dataset.Description)
		if errors.Is(err, platform.ErrConflict) {
			k.Log.Info().Msgf("  SKIP (exists): %s", name)
			out.Status = models.StatusSkippedExisting
			return out
		}
		if err != nil {
			k.Log.Error().Err(err).Msgf("  FAIL: %s", name)
			out.Fail(fmt.Errorf("creating dataset: %w", err))
			markFatal(&out, err)
			return out
		}
		datasetID, created = id, true
		k.Log.Info().Msgf("  CREATED: %s (ID %s)", name, id)
	case ActionReuse:
		k.Log.Info().Msgf("  REUSE: %s (ID %s)", name, datasetID)
		if !k.DedupOnReuse {
			k.Log.Warn().Msgf("  documents of %s are sent again and may be duplicated at the target", name)
		}
	default:
		out.Fail(fmt.Errorf("unexpected action %q", d.Action))
		return out
	}
	out.TargetID = datasetID

	existing := map[string]bool{}
	if d.Action == ActionReuse && k.DedupOnReuse {
		docs, err := pagination.New[models.Document](func(ctx context.Context, cursor string, size int) (pagination.Page[models.Document], error) {
			return k.Target.DocumentsPage(ctx, datasetID, cursor, size)
		}, k.fetchOptions()).All(ctx)
		if err != nil {
			out.Fail(fmt.Errorf("listing target documents: %w", err))
			markFatal(&out, err)
			return out
		}
		for _, doc := range docs {
			existing[doc.Name] = true
		}
	}

	total := len(snap.Documents)
	for i, doc := range snap.Documents {
		docName := doc.Document.Name
		switch {
		case existing[docName]:
			out.Skipped++
			k.Log.Debug().Msgf("    SKIP (exists): %s", docName)
		case len(doc.Segments) == 0 && doc.FetchError == "":
			out.Skipped++
			k.Log.Warn().Msgf("    SKIP (no content): %s", docName)
		default:
			out.Attempted++
			if err := k.importDocument(ctx, datasetID, doc); err != nil {
				k.Log.Error().Err(err).Msgf("    FAIL: %s", docName)
				out.ChildFailed(docName, err)
				if markFatal(&out, err) {
					out.Settle(created)
					return out
				}
			} else {
				out.Succeeded++
				k.Log.Debug().Msgf("    CREATED: %s (%d segments)", docName, len(doc.Segments))
			}
		}
		progress.Progress(name, i+1, total)
	}

	out.Settle(created)
	return out
}

// markFatal records err as fatal to the run when the target rejected our
// credentials, and reports whether it did.
func markFatal(out *models.TransferOutcome, err error) bool {
	if !errors.Is(err, platform.ErrAuth) {
		return false
	}
	if out.Fatal == nil {
		out.Fatal = err
	}
	return true
}

// importDocument creates the document seeded with its first segment, then
// appends the remaining segments in batches, in order.
func (k *KnowledgeDriver) importDocument(ctx context.Context, datasetID string, doc models.DocumentSnapshot) error {
	if doc.FetchError != "" {
		return fmt.Errorf("reading segments: %s", doc.FetchError)
	}
	docID, err := k.Target.CreateDocument(ctx, datasetID, doc.Document.Name, doc.Segments[0])
	if err != nil {
		return fmt.Errorf("creating document: %w", err)
	}

	batch := k.SegmentBatchSize
	if batch <= 0 {
		batch = DefaultSegmentBatchSize
	}
	rest := doc.Segments[1:]
	for start := 0; start < len(rest); start += batch {
		end := min(start+batch, len(rest))
		if err := k.Target.AddSegments(ctx, datasetID, docID, rest[start:end]); err != nil {
			return fmt.Errorf("adding segments %d-%d: %w", start+2, end+1, err)
		}
	}
	return nil
}
