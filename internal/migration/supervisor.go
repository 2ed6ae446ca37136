package migration

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rflorenc/dify-migration-workbench/internal/models"
	"github.com/rflorenc/dify-migration-workbench/internal/telemetry"
)

// ErrTargetAuth is returned when the target rejects our credentials. It is
// the only error that aborts a whole run.
var ErrTargetAuth = errors.New("target authentication failed")

// laneOrder is the order lanes appear in reports and run sequentially.
var laneOrder = []models.Kind{models.KindKnowledgeBase, models.KindWorkflow}

// Strategy schedules lane runs.
type Strategy interface {
	Run(ctx context.Context, lanes []LaneRunner, run func(context.Context, LaneRunner) error) error
}

// Sequential runs lanes one after the other and stops at the first fatal error.
type Sequential struct{}

func (Sequential) Run(ctx context.Context, lanes []LaneRunner, run func(context.Context, LaneRunner) error) error {
	for _, l := range lanes {
		if err := run(ctx, l); err != nil {
			return err
		}
	}
	return nil
}

// Parallel runs every lane in its own goroutine. A fatal error in one lane
// cancels the others.
type Parallel struct{}

func (Parallel) Run(ctx context.Context, lanes []LaneRunner, run func(context.Context, LaneRunner) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, l := range lanes {
		g.Go(func() error { return run(gctx, l) })
	}
	return g.Wait()
}

// Supervisor runs the requested lanes and aggregates their reports.
type Supervisor struct {
	Lanes map[models.Kind]LaneRunner
	// Unavailable explains why a lane has no runner, e.g. missing console credentials.
	Unavailable map[models.Kind]string
	Log         zerolog.Logger
	Metrics     *telemetry.Metrics
	Tracer      *telemetry.Tracer
}

// Run executes the requested lanes; an empty request means every lane.
// The report is always returned, including when the error is ErrTargetAuth.
func (s *Supervisor) Run(ctx context.Context, requested []models.Kind, parallel bool) (*models.MigrationReport, error) {
	report := &models.MigrationReport{RunID: uuid.New().String(), StartedAt: time.Now()}
	ctx, span := s.Tracer.Start(ctx, "migration.run", telemetry.AttrRunID.String(report.RunID))
	defer span.End()

	want := map[models.Kind]bool{}
	for _, k := range requested {
		want[k] = true
	}

	var runnable []LaneRunner
	slot := map[models.Kind]int{}
	for _, k := range laneOrder {
		slot[k] = len(report.Lanes)
		lr := models.LaneReport{Kind: k, Status: models.LaneNotRun, State: string(StatePending), Outcomes: []models.TransferOutcome{}}
		runner := s.Lanes[k]
		switch {
		case len(want) > 0 && !want[k]:
			lr.Reason = "not requested"
		case runner == nil:
			lr.Reason = s.Unavailable[k]
			if lr.Reason == "" {
				lr.Reason = "not configured"
			}
			s.Log.Warn().Msgf("%s lane not run: %s", k, lr.Reason)
		default:
			runnable = append(runnable, runner)
		}
		report.Lanes = append(report.Lanes, lr)
	}

	var strategy Strategy = Sequential{}
	if parallel {
		strategy = Parallel{}
	}
	s.Log.Info().Str("run_id", report.RunID).Int("lanes", len(runnable)).Bool("parallel", parallel).Msg("Starting migration")

	var mu sync.Mutex
	err := strategy.Run(ctx, runnable, func(ctx context.Context, runner LaneRunner) error {
		lr, err := s.runLane(ctx, runner)
		mu.Lock()
		report.Lanes[slot[runner.Kind()]] = lr
		mu.Unlock()
		return err
	})

	report.FinishedAt = time.Now()
	result := "completed"
	if err != nil {
		report.Fatal = err.Error()
		result = "fatal"
		telemetry.RecordError(span, err)
		s.Log.Error().Err(err).Msg("Migration aborted")
	} else if ctx.Err() != nil {
		result = "cancelled"
	}
	s.Metrics.RecordRun(result)
	s.Log.Info().Str("run_id", report.RunID).Str("result", result).Msg("Migration finished")
	return report, err
}

// runLane runs a lane, turning a panic into a failed lane report.
func (s *Supervisor) runLane(ctx context.Context, runner LaneRunner) (lr models.LaneReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.Log.Error().Str("stack", string(debug.Stack())).Msgf("%s lane panicked: %v", runner.Kind(), r)
			now := time.Now()
			lr = models.LaneReport{
				Kind:       runner.Kind(),
				Status:     models.LaneFailed,
				State:      string(StateFailed),
				Outcomes:   lr.Outcomes,
				Error:      fmt.Sprintf("panic: %v", r),
				FinishedAt: &now,
			}
			if lr.Outcomes == nil {
				lr.Outcomes = []models.TransferOutcome{}
			}
			err = nil
		}
	}()
	return runner.Run(ctx)
}
