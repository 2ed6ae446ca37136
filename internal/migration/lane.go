package migration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rflorenc/dify-migration-workbench/internal/models"
	"github.com/rflorenc/dify-migration-workbench/internal/pagination"
	"github.com/rflorenc/dify-migration-workbench/internal/platform"
	"github.com/rflorenc/dify-migration-workbench/internal/telemetry"
)

// LaneState is the progress of a lane.
type LaneState string

const (
	StatePending      LaneState = "pending"
	StateInventorying LaneState = "inventorying"
	StateResolving    LaneState = "resolving"
	StateTransferring LaneState = "transferring"
	StateDone         LaneState = "done"
	StateFailed       LaneState = "failed"
)

// TransferMode selects how exports and imports interleave within a lane.
type TransferMode string

const (
	// ModeStreaming exports then imports one resource at a time.
	ModeStreaming TransferMode = "streaming"
	// ModeBuffered exports every resource first, then imports them all.
	ModeBuffered TransferMode = "buffered"
)

// ParseTransferMode accepts "streaming", "buffered" and the alias "batch".
func ParseTransferMode(s string) (TransferMode, error) {
	switch s {
	case "", string(ModeStreaming):
		return ModeStreaming, nil
	case string(ModeBuffered), "batch":
		return ModeBuffered, nil
	}
	return "", fmt.Errorf("unknown transfer mode %q", s)
}

// LaneOptions are the per-lane migration switches.
type LaneOptions struct {
	SkipExisting bool
	AutoCreate   bool
	Mode         TransferMode
	Exclude      []string // top-level names never migrated
}

// LaneRunner is what the supervisor schedules.
type LaneRunner interface {
	Kind() models.Kind
	Run(ctx context.Context) (models.LaneReport, error)
}

// Lane migrates all resources of one kind, sequentially, from every source
// into the target.
type Lane[P any] struct {
	kind      models.Kind
	sources   []Source
	target    pagination.ListFunc[models.TopLevelResource]
	driver    Driver[P]
	inventory *Inventory
	opts      LaneOptions
	log       zerolog.Logger
	metrics   *telemetry.Metrics
	tracer    *telemetry.Tracer

	mu    sync.Mutex
	state LaneState
}

// LaneDeps are the shared collaborators of a lane.
type LaneDeps struct {
	Fetch    pagination.Options
	Log      zerolog.Logger
	Metrics  *telemetry.Metrics
	Tracer   *telemetry.Tracer
	Progress ProgressSink // optional
}

// NewLane wires a lane.
func NewLane[P any](kind models.Kind, sources []Source, target pagination.ListFunc[models.TopLevelResource], driver Driver[P], opts LaneOptions, deps LaneDeps) *Lane[P] {
	log := telemetry.Component(deps.Log, string(kind)+"-lane")
	if opts.Mode == "" {
		opts.Mode = ModeStreaming
	}
	return &Lane[P]{
		kind:      kind,
		sources:   sources,
		target:    target,
		driver:    driver,
		inventory: &Inventory{Fetch: deps.Fetch, Log: log, Metrics: deps.Metrics},
		opts:      opts,
		log:       log,
		metrics:   deps.Metrics,
		tracer:    deps.Tracer,
		state:     StatePending,
	}
}

// Kind returns the lane's resource kind.
func (l *Lane[P]) Kind() models.Kind { return l.kind }

// State returns the current state.
func (l *Lane[P]) State() LaneState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Lane[P]) setState(s LaneState) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
	l.log.Debug().Str("state", string(s)).Msg("lane state")
}

// Run executes the lane. The returned error is non-nil only for a target
// authentication failure, which is fatal to the whole run; every other
// failure is recorded in the report.
func (l *Lane[P]) Run(ctx context.Context) (report models.LaneReport, err error) {
	started := time.Now()
	report = models.LaneReport{Kind: l.kind, StartedAt: &started, Outcomes: []models.TransferOutcome{}}
	ctx, span := l.tracer.Start(ctx, "lane."+string(l.kind), telemetry.AttrKind.String(string(l.kind)))
	defer span.End()
	done := l.metrics.LaneStarted(string(l.kind))
	defer func() {
		finished := time.Now()
		report.FinishedAt = &finished
		report.State = string(l.State())
		if report.Status == "" {
			report.Status = models.LaneCompleted
		}
		done(string(report.Status))
		telemetry.RecordError(span, err)
	}()

	l.log.Info().Msgf("=== Migrating %s ===", l.kind)

	l.setState(StateInventorying)
	candidates, srcErrs := l.inventory.Sources(ctx, l.sources, l.kind)
	report.SourceErrors = srcErrs
	target, terr := l.inventory.Target(ctx, l.target, l.kind)
	if ctx.Err() != nil {
		report.Cancelled = true
		l.setState(StateDone)
		l.log.Warn().Msg("Migration cancelled by user")
		return report, nil
	}
	if terr != nil {
		l.setState(StateFailed)
		report.Status = models.LaneFailed
		report.Error = terr.Error()
		l.log.Error().Err(terr).Msg("target inventory failed")
		if errors.Is(terr, platform.ErrAuth) {
			return report, fmt.Errorf("%w: %v", ErrTargetAuth, terr)
		}
		return report, nil
	}
	candidates = l.exclude(candidates)

	l.setState(StateResolving)
	resolver := NewResolver(target, l.kind, l.opts.SkipExisting, l.opts.AutoCreate)
	l.log.Info().Msgf("%d candidates, %d already on target", len(candidates), len(target))

	l.setState(StateTransferring)
	var fatal error
	if l.opts.Mode == ModeBuffered {
		report.Outcomes, report.Cancelled, fatal = l.runBuffered(ctx, candidates, resolver)
	} else {
		report.Outcomes, report.Cancelled, fatal = l.runStreaming(ctx, candidates, resolver)
	}
	if report.Cancelled {
		l.log.Warn().Msg("Migration cancelled by user")
	}
	if fatal != nil {
		l.setState(StateFailed)
		report.Status = models.LaneFailed
		report.Error = fatal.Error()
		return report, fmt.Errorf("%w: %v", ErrTargetAuth, fatal)
	}

	l.setState(StateDone)
	l.logSummary(report.Outcomes)
	return report, nil
}

func (l *Lane[P]) exclude(candidates []models.TopLevelResource) []models.TopLevelResource {
	if len(l.opts.Exclude) == 0 {
		return candidates
	}
	skip := make(map[string]bool, len(l.opts.Exclude))
	for _, n := range l.opts.Exclude {
		skip[n] = true
	}
	kept := candidates[:0:0]
	for _, c := range candidates {
		if skip[c.Name] {
			l.log.Info().Msgf("  EXCLUDED: %s (user exclusion)", c.Name)
			continue
		}
		kept = append(kept, c)
	}
	return kept
}

// runStreaming exports and imports each candidate before moving on.
func (l *Lane[P]) runStreaming(ctx context.Context, candidates []models.TopLevelResource, resolver *Resolver) ([]models.TransferOutcome, bool, error) {
	outcomes := make([]models.TransferOutcome, 0, len(candidates))
	for _, c := range candidates {
		if ctx.Err() != nil {
			return outcomes, true, nil
		}
		d := resolver.Resolve(c)
		out, fatal := l.transfer(ctx, c, d, nil)
		l.record(resolver, c, d, out)
		outcomes = append(outcomes, out)
		if fatal != nil {
			return outcomes, false, fatal
		}
	}
	return outcomes, false, nil
}

// runBuffered exports every candidate that needs a transfer, then imports
// them in inventory order. Decisions are taken again at import time so a
// name created earlier in the run is reused.
func (l *Lane[P]) runBuffered(ctx context.Context, candidates []models.TopLevelResource, resolver *Resolver) ([]models.TransferOutcome, bool, error) {
	type exported struct {
		payload P
		out     *models.TransferOutcome // set when export already settled the outcome
	}
	buffer := make([]exported, 0, len(candidates))

	l.log.Info().Msg("--- Export phase ---")
	for _, c := range candidates {
		if ctx.Err() != nil {
			return settled(buffer, func(e exported) *models.TransferOutcome { return e.out }), true, nil
		}
		d := resolver.Resolve(c)
		if d.Action == ActionSkip || d.Action == ActionMissing {
			out := l.withoutTransfer(c, d)
			buffer = append(buffer, exported{out: &out})
			continue
		}
		payload, err := l.export(context.WithoutCancel(ctx), c)
		if err != nil {
			out := models.NewOutcome(c)
			out.Fail(err)
			buffer = append(buffer, exported{out: &out})
			continue
		}
		buffer = append(buffer, exported{payload: payload})
	}

	l.log.Info().Msg("--- Import phase ---")
	outcomes := make([]models.TransferOutcome, 0, len(candidates))
	for i, c := range candidates {
		if buffer[i].out != nil {
			outcomes = append(outcomes, *buffer[i].out)
			l.metrics.RecordOutcome(string(l.kind), string(buffer[i].out.Status), 0, 0, 0, 0)
			continue
		}
		if ctx.Err() != nil {
			return outcomes, true, nil
		}
		d := resolver.Resolve(c)
		payload := buffer[i].payload
		out, fatal := l.transfer(ctx, c, d, &payload)
		l.record(resolver, c, d, out)
		outcomes = append(outcomes, out)
		if fatal != nil {
			return outcomes, false, fatal
		}
	}
	return outcomes, false, nil
}

// settled collects the outcomes already decided during an interrupted export phase.
func settled[E any](buffer []E, get func(E) *models.TransferOutcome) []models.TransferOutcome {
	var outs []models.TransferOutcome
	for _, e := range buffer {
		if o := get(e); o != nil {
			outs = append(outs, *o)
		}
	}
	return outs
}

// transfer moves one candidate. In-flight work runs detached from
// cancellation so a started resource is never left half-written by a cancel.
// The second result is non-nil when the target rejected our credentials.
func (l *Lane[P]) transfer(ctx context.Context, c models.TopLevelResource, d Decision, payload *P) (models.TransferOutcome, error) {
	if d.Action == ActionSkip || d.Action == ActionMissing {
		out := l.withoutTransfer(c, d)
		l.metrics.RecordOutcome(string(l.kind), string(out.Status), 0, 0, 0, 0)
		return out, nil
	}

	started := time.Now()
	detached := context.WithoutCancel(ctx)
	detached, span := l.tracer.Start(detached, "transfer",
		telemetry.AttrResource.String(c.Name),
		telemetry.AttrOrigin.String(c.Origin),
		telemetry.AttrKind.String(string(l.kind)),
	)
	defer span.End()

	l.log.Info().Str("origin", c.Origin).Msgf("%s (%s)", c.Name, d.Action)

	var p P
	if payload != nil {
		p = *payload
	} else {
		var err error
		if p, err = l.export(detached, c); err != nil {
			out := models.NewOutcome(c)
			out.Fail(err)
			telemetry.RecordError(span, err)
			l.metrics.RecordOutcome(string(l.kind), string(out.Status), 0, 0, 0, time.Since(started))
			return out, nil
		}
	}

	out := l.driver.Import(detached, p, d)
	span.SetAttributes(telemetry.AttrStatus.String(string(out.Status)))
	telemetry.RecordError(span, out.Err)
	l.metrics.RecordOutcome(string(l.kind), string(out.Status), out.Succeeded, out.Failed, out.Skipped, time.Since(started))
	if out.Fatal != nil {
		return out, out.Fatal
	}
	return out, nil
}

func (l *Lane[P]) export(ctx context.Context, c models.TopLevelResource) (P, error) {
	p, err := l.driver.Export(ctx, c)
	if err != nil {
		l.log.Error().Err(err).Msgf("  FAIL: %s: export", c.Name)
		return p, fmt.Errorf("export: %w", err)
	}
	return p, nil
}

// withoutTransfer settles skip and missing decisions, which need no export.
func (l *Lane[P]) withoutTransfer(c models.TopLevelResource, d Decision) models.TransferOutcome {
	out := models.NewOutcome(c)
	switch d.Action {
	case ActionSkip:
		out.Status = models.StatusSkippedExisting
		out.TargetID = d.TargetID
		l.log.Info().Msgf("  SKIP (exists): %s", c.Name)
	case ActionMissing:
		out.Fail(fmt.Errorf("target has no %s named %q and auto-create is disabled: %w", l.kind, c.Name, platform.ErrNotFound))
		l.log.Warn().Msgf("  FAIL: %s: not on target, auto-create disabled", c.Name)
	}
	return out
}

// record lets later candidates with the same name reuse a resource created now.
func (l *Lane[P]) record(resolver *Resolver, c models.TopLevelResource, d Decision, out models.TransferOutcome) {
	if d.Action == ActionCreate && out.TargetID != "" {
		resolver.Record(c.Name, out.TargetID)
	}
}

func (l *Lane[P]) logSummary(outcomes []models.TransferOutcome) {
	counts := map[models.OutcomeStatus]int{}
	for _, o := range outcomes {
		counts[o.Status]++
	}
	l.log.Info().Msgf("%s lane done: %d created, %d succeeded, %d partially failed, %d failed, %d skipped",
		l.kind,
		counts[models.StatusCreated],
		counts[models.StatusSucceeded],
		counts[models.StatusPartiallyFailed],
		counts[models.StatusFailed],
		counts[models.StatusSkippedExisting],
	)
}
