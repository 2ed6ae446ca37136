package migration

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/rflorenc/dify-migration-workbench/internal/models"
	"github.com/rflorenc/dify-migration-workbench/internal/platform"
)

// WorkflowDriver transfers apps as DSL documents.
type WorkflowDriver struct {
	Readers        map[string]AppReader // by source label
	Target         AppWriter
	IncludeSecrets bool
	Progress       ProgressSink
	Log            zerolog.Logger
}

// Export downloads the app's DSL and, unless secrets are included, strips
// secret environment variables from it.
func (w *WorkflowDriver) Export(ctx context.Context, c models.TopLevelResource) (models.AppSnapshot, error) {
	snap := models.AppSnapshot{App: c, Mode: c.Mode}
	reader, ok := w.Readers[c.Origin]
	if !ok {
		return snap, fmt.Errorf("no app reader for source %q", c.Origin)
	}
	content, err := reader.ExportDSL(ctx, c.ID, w.IncludeSecrets)
	if err != nil {
		return snap, fmt.Errorf("exporting DSL of %s: %w", c.Name, err)
	}
	if !w.IncludeSecrets {
		stripped, n, err := StripSecrets(content)
		if err != nil {
			return snap, err
		}
		if n > 0 {
			w.Log.Info().Msgf("  Stripped %d secret variables from %s", n, c.Name)
		}
		content, snap.SecretsStripped = stripped, n
	}
	snap.DSL = string(content)

	// The header is informational; a DSL without one is still transferred.
	version, _, mode, err := ReadDSLHeader(content)
	if err != nil {
		w.Log.Debug().Err(err).Str("app", c.Name).Msg("unreadable DSL header")
		return snap, nil
	}
	snap.DSLVersion = version
	if snap.Mode == "" {
		snap.Mode = mode
	}
	return snap, nil
}

// Import sends the DSL to the target. Reuse overwrites the matched app.
func (w *WorkflowDriver) Import(ctx context.Context, snap models.AppSnapshot, d Decision) models.TransferOutcome {
	out := models.NewOutcome(snap.App)
	name := snap.App.Name

	req := models.ImportRequest{
		Content:     []byte(snap.DSL),
		Name:        name,
		Description: snap.App.Description,
	}
	switch d.Action {
	case ActionCreate:
	case ActionReuse:
		req.AppID = d.TargetID
	default:
		out.Fail(fmt.Errorf("unexpected action %q", d.Action))
		return out
	}

	out.Attempted = 1
	res, err := w.Target.ImportDSL(ctx, req)
	if err != nil {
		w.Log.Error().Err(err).Msgf("  FAIL: %s", name)
		out.ChildFailed(name, fmt.Errorf("importing DSL: %w", err))
		markFatal(&out, err)
		out.Settle(d.Action == ActionCreate)
		progressOrNop(w.Progress).Progress(name, 1, 1)
		return out
	}
	out.Succeeded = 1
	out.TargetID = res.AppID
	if res.NewerDSL() {
		w.Log.Warn().Msgf("  WARN: %s uses DSL %s, target supports %s", name, res.ImportedDSLVersion, res.CurrentDSLVersion)
	}
	if res.Status == platform.ImportCompletedWithWarnings {
		w.Log.Warn().Msgf("  WARN: %s imported with warnings", name)
	}
	if d.Action == ActionCreate {
		w.Log.Info().Msgf("  CREATED: %s (ID %s)", name, res.AppID)
	} else {
		w.Log.Info().Msgf("  UPDATED: %s (ID %s)", name, res.AppID)
	}
	out.Settle(d.Action == ActionCreate)
	progressOrNop(w.Progress).Progress(name, 1, 1)
	return out
}
