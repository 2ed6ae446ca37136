// Package store keeps the history of migration runs in SQLite.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/rflorenc/dify-migration-workbench/internal/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrRunNotFound is returned by GetRun for an unknown id.
var ErrRunNotFound = errors.New("run not found")

// RunSummary is one row of the run history.
type RunSummary struct {
	ID         string                            `json:"id"`
	Type       string                            `json:"type"`
	Result     string                            `json:"result"`
	Fatal      string                            `json:"fatal,omitempty"`
	StartedAt  time.Time                         `json:"started_at"`
	FinishedAt time.Time                         `json:"finished_at"`
	Totals     map[models.OutcomeStatus]int      `json:"totals"`
	Lanes      map[models.Kind]models.LaneStatus `json:"lanes"`
}

// Store persists migration reports.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Result derives the stored result of a run from its report.
func Result(report *models.MigrationReport) string {
	if report.Fatal != "" {
		return "fatal"
	}
	for _, l := range report.Lanes {
		if l.Cancelled {
			return "cancelled"
		}
	}
	for _, l := range report.Lanes {
		if l.Status == models.LaneFailed {
			return "failed"
		}
	}
	return "completed"
}

// SaveReport stores a finished run with its per-resource outcomes.
func (s *Store) SaveReport(ctx context.Context, runType string, report *models.MigrationReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, type, result, fatal, started_at, finished_at, report) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		report.RunID, runType, Result(report), report.Fatal, report.StartedAt.UTC(), report.FinishedAt.UTC(), string(data))
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO outcomes (run_id, seq, kind, resource, origin, source_id, target_id, status, attempted, succeeded, failed, first_error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare outcome insert: %w", err)
	}
	defer stmt.Close()

	for i, o := range report.Outcomes() {
		if _, err := stmt.ExecContext(ctx, report.RunID, i, string(o.Kind), o.Resource, o.Origin, o.SourceID,
			o.TargetID, string(o.Status), o.Attempted, o.Succeeded, o.Failed, o.FirstError); err != nil {
			return fmt.Errorf("failed to insert outcome %s: %w", o.Resource, err)
		}
	}
	return tx.Commit()
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, result, fatal, started_at, finished_at, report FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var (
			r    RunSummary
			data string
		)
		if err := rows.Scan(&r.ID, &r.Type, &r.Result, &r.Fatal, &r.StartedAt, &r.FinishedAt, &data); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		var report models.MigrationReport
		if err := json.Unmarshal([]byte(data), &report); err != nil {
			return nil, fmt.Errorf("decoding run %s: %w", r.ID, err)
		}
		r.Totals = report.Totals()
		r.Lanes = make(map[models.Kind]models.LaneStatus, len(report.Lanes))
		for _, l := range report.Lanes {
			r.Lanes[l.Kind] = l.Status
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns the full report of one run.
func (s *Store) GetRun(ctx context.Context, id string) (*models.MigrationReport, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT report FROM runs WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	var report models.MigrationReport
	if err := json.Unmarshal([]byte(data), &report); err != nil {
		return nil, fmt.Errorf("decoding run %s: %w", id, err)
	}
	return &report, nil
}

// ResourceHistory returns the outcomes recorded for one resource name, newest run first.
func (s *Store) ResourceHistory(ctx context.Context, kind models.Kind, resource string) ([]models.TransferOutcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.kind, o.resource, o.origin, o.source_id, o.target_id, o.status, o.attempted, o.succeeded, o.failed, o.first_error
		FROM outcomes o JOIN runs r ON r.id = o.run_id
		WHERE o.kind = ? AND o.resource = ?
		ORDER BY r.started_at DESC, o.seq`, string(kind), resource)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	var outs []models.TransferOutcome
	for rows.Next() {
		var (
			o         models.TransferOutcome
			k, status string
		)
		if err := rows.Scan(&k, &o.Resource, &o.Origin, &o.SourceID, &o.TargetID, &status,
			&o.Attempted, &o.Succeeded, &o.Failed, &o.FirstError); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		o.Kind, o.Status = models.Kind(k), models.OutcomeStatus(status)
		outs = append(outs, o)
	}
	return outs, rows.Err()
}
