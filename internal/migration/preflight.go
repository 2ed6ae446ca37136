package migration

import (
	"context"
	"fmt"

	"github.com/rflorenc/dify-migration-workbench/internal/models"
	"github.com/rflorenc/dify-migration-workbench/internal/pagination"
	"github.com/rflorenc/dify-migration-workbench/internal/platform"
)

// PreviewItem is the planned action for one candidate.
type PreviewItem struct {
	Resource string `json:"resource"`
	Origin   string `json:"origin"`
	SourceID string `json:"source_id"`
	Action   Action `json:"action"`
	TargetID string `json:"target_id,omitempty"`
}

// LanePreview is the plan of one lane.
type LanePreview struct {
	Kind         models.Kind          `json:"kind"`
	Items        []PreviewItem        `json:"items"`
	SourceErrors []models.SourceError `json:"source_errors,omitempty"`
	Error        string               `json:"error,omitempty"`
}

// MigrationPreview is the result of a dry run.
type MigrationPreview struct {
	Lanes    []LanePreview `json:"lanes"`
	Warnings []string      `json:"warnings,omitempty"`
}

// Counts returns the number of items per action across lanes.
func (p *MigrationPreview) Counts() map[Action]int {
	counts := map[Action]int{}
	for _, l := range p.Lanes {
		for _, it := range l.Items {
			counts[it.Action]++
		}
	}
	return counts
}

// listers returns the source and target listings of one kind, or the
// reason the kind cannot be listed.
func (o Options) listers(kind models.Kind) ([]Source, pagination.ListFunc[models.TopLevelResource], string) {
	switch kind {
	case models.KindKnowledgeBase:
		var sources []Source
		for _, og := range o.knowledgeOrigins() {
			sources = append(sources, Source{Label: og.label, List: og.reader.DatasetsPage})
		}
		return sources, platform.NewKnowledgeAPI(o.Target, o.Client).DatasetsPage, ""
	case models.KindWorkflow:
		console, reason := o.targetConsole()
		if console == nil {
			return nil, nil, reason
		}
		origins, _ := o.appOrigins()
		if len(origins) == 0 {
			return nil, nil, "no source has console credentials"
		}
		var sources []Source
		for _, og := range origins {
			sources = append(sources, Source{Label: og.label, List: og.reader.AppsPage})
		}
		return sources, console.AppsPage, ""
	}
	return nil, nil, fmt.Sprintf("unknown kind %q", kind)
}

func (o Options) requestedKinds() []models.Kind {
	if len(o.Kinds) == 0 {
		return models.Kinds
	}
	return o.Kinds
}

// Preview inventories sources and target and reports what a migration would
// do, without exporting or writing anything.
func Preview(ctx context.Context, o Options, deps LaneDeps) (*MigrationPreview, error) {
	preview := &MigrationPreview{}
	for _, kind := range o.requestedKinds() {
		lp := LanePreview{Kind: kind, Items: []PreviewItem{}}
		sources, target, reason := o.listers(kind)
		if reason != "" {
			preview.Warnings = append(preview.Warnings, fmt.Sprintf("%s lane will not run: %s", kind, reason))
			continue
		}
		kindDeps := deps
		if kind == models.KindWorkflow {
			kindDeps = o.appDeps(deps)
		}
		inv := &Inventory{Fetch: kindDeps.Fetch, Log: deps.Log, Metrics: deps.Metrics}

		deps.Log.Info().Msgf("Checking %s on target...", kind)
		candidates, srcErrs := inv.Sources(ctx, sources, kind)
		lp.SourceErrors = srcErrs
		existing, err := inv.Target(ctx, target, kind)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lp.Error = err.Error()
			preview.Lanes = append(preview.Lanes, lp)
			continue
		}

		lp.Items = planItems(candidates, existing, kind, o.Lane)
		preview.Lanes = append(preview.Lanes, lp)
	}

	if !o.IncludeSecrets && laneRuns(preview, models.KindWorkflow) {
		preview.Warnings = append(preview.Warnings,
			"Secret environment variables are stripped from app DSL. Set them manually on the target after migration.")
	}
	if counts := preview.Counts(); counts[ActionMissing] > 0 {
		preview.Warnings = append(preview.Warnings,
			fmt.Sprintf("%d resources do not exist on the target and auto-create is disabled; they will fail.", counts[ActionMissing]))
	}

	counts := preview.Counts()
	deps.Log.Info().Msgf("Preview complete: %d to create, %d to reuse, %d to skip",
		counts[ActionCreate], counts[ActionReuse], counts[ActionSkip])
	return preview, nil
}

// planItems resolves candidates the way a lane would, including names that
// an earlier candidate of the same run would create.
func planItems(candidates, existing []models.TopLevelResource, kind models.Kind, opts LaneOptions) []PreviewItem {
	excluded := map[string]bool{}
	for _, n := range opts.Exclude {
		excluded[n] = true
	}
	resolver := NewResolver(existing, kind, opts.SkipExisting, opts.AutoCreate)
	items := make([]PreviewItem, 0, len(candidates))
	for _, c := range candidates {
		if excluded[c.Name] {
			continue
		}
		d := resolver.Resolve(c)
		items = append(items, PreviewItem{
			Resource: c.Name,
			Origin:   c.Origin,
			SourceID: c.ID,
			Action:   d.Action,
			TargetID: d.TargetID,
		})
		if d.Action == ActionCreate {
			resolver.Record(c.Name, "(new)")
		}
	}
	return items
}

func laneRuns(p *MigrationPreview, kind models.Kind) bool {
	for _, l := range p.Lanes {
		if l.Kind == kind && l.Error == "" && len(l.Items) > 0 {
			return true
		}
	}
	return false
}

// OriginListing is the inventory of one source or of the target.
type OriginListing struct {
	Origin    string                    `json:"origin"`
	Kind      models.Kind               `json:"kind"`
	Resources []models.TopLevelResource `json:"resources"`
	Error     string                    `json:"error,omitempty"`
}

// List returns the inventory of every source followed by the target's.
func List(ctx context.Context, o Options, kind models.Kind, deps LaneDeps) ([]OriginListing, error) {
	sources, target, reason := o.listers(kind)
	if reason != "" {
		return nil, fmt.Errorf("cannot list %s: %s", kind, reason)
	}
	if kind == models.KindWorkflow {
		deps = o.appDeps(deps)
	}
	inv := &Inventory{Fetch: deps.Fetch, Log: deps.Log, Metrics: deps.Metrics}

	var listings []OriginListing
	for _, src := range sources {
		l := OriginListing{Origin: src.Label, Kind: kind, Resources: []models.TopLevelResource{}}
		items, errs := inv.Sources(ctx, []Source{src}, kind)
		if len(errs) > 0 {
			l.Error = errs[0].Error
		} else if items != nil {
			l.Resources = items
		}
		listings = append(listings, l)
	}
	tl := OriginListing{Origin: TargetLabel, Kind: kind, Resources: []models.TopLevelResource{}}
	items, err := inv.Target(ctx, target, kind)
	if err != nil {
		tl.Error = err.Error()
	} else if items != nil {
		tl.Resources = items
	}
	listings = append(listings, tl)
	return listings, ctx.Err()
}
