package migration

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/rflorenc/dify-migration-workbench/internal/models"
	"github.com/rflorenc/dify-migration-workbench/internal/pagination"
	"github.com/rflorenc/dify-migration-workbench/internal/platform"
	"github.com/rflorenc/dify-migration-workbench/internal/telemetry"
)

// Source is one configured origin of top-level resources.
type Source struct {
	Label string
	List  pagination.ListFunc[models.TopLevelResource]
}

// Inventory lists top-level resources from sources and the target.
type Inventory struct {
	Fetch   pagination.Options
	Log     zerolog.Logger
	Metrics *telemetry.Metrics
}

func (inv *Inventory) fetcher(kind models.Kind, list pagination.ListFunc[models.TopLevelResource]) *pagination.Fetcher[models.TopLevelResource] {
	opts := inv.Fetch
	if opts.Retryable == nil {
		opts.Retryable = platform.IsRetryable
	}
	onRetry := opts.OnRetry
	opts.OnRetry = func(err error, attempt int) {
		inv.Metrics.RecordPageRetry(string(kind))
		inv.Log.Warn().Err(err).Int("attempt", attempt).Msg("retrying page")
		if onRetry != nil {
			onRetry(err, attempt)
		}
	}
	return pagination.New[models.TopLevelResource](list, opts)
}

// Sources lists every source in order. A failing source contributes nothing
// and is reported as a SourceError; the others are unaffected.
func (inv *Inventory) Sources(ctx context.Context, sources []Source, kind models.Kind) ([]models.TopLevelResource, []models.SourceError) {
	var (
		all     []models.TopLevelResource
		srcErrs []models.SourceError
	)
	for _, src := range sources {
		items, err := inv.fetcher(kind, src.List).All(ctx)
		if err != nil {
			inv.Log.Error().Err(err).Str("source", src.Label).Msgf("  FAIL: listing %s", kind)
			inv.Metrics.RecordSourceError(string(kind), src.Label)
			srcErrs = append(srcErrs, models.SourceError{
				Source: src.Label,
				Error:  err.Error(),
				Auth:   errors.Is(err, platform.ErrAuth),
			})
			continue
		}
		for i := range items {
			items[i].Kind = kind
			items[i].Origin = src.Label
		}
		inv.Log.Info().Str("source", src.Label).Msgf("Found %d %s resources", len(items), kind)
		all = append(all, items...)
	}
	return all, srcErrs
}

// Target lists the target's resources of one kind. Errors propagate.
func (inv *Inventory) Target(ctx context.Context, list pagination.ListFunc[models.TopLevelResource], kind models.Kind) ([]models.TopLevelResource, error) {
	items, err := inv.fetcher(kind, list).All(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing target %s: %w", kind, err)
	}
	for i := range items {
		items[i].Kind = kind
		items[i].Origin = TargetLabel
	}
	return items, nil
}

// TargetLabel is the origin recorded on target resources.
const TargetLabel = "target"
