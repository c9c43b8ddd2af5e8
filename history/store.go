package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chenyanchen/apporch"
)

// Status is the outcome of a recorded run.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Run is one recorded action run.
type Run struct {
	ID          string
	Deployment  string
	Action      apporch.Action
	Environment string
	Status      Status
	// Phase and Resource name the failing step of a failed run.
	Phase      apporch.Phase
	Resource   string
	Error      string
	Steps      int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Store implements [apporch.Recorder] backed by SQLite.
type Store struct {
	DB *sql.DB
}

var _ apporch.Recorder = (*Store)(nil)

// Record stores report as a new run.
func (s *Store) Record(ctx context.Context, report apporch.Report) error {
	run := fromReport(report)
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO runs (id, deployment, action, environment, status, phase, resource, error, steps, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Deployment, string(run.Action), run.Environment, string(run.Status),
		string(run.Phase), run.Resource, run.Error, run.Steps,
		run.StartedAt.UTC().Format(time.RFC3339Nano), run.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// List returns recorded runs, newest first. An empty deployment lists every
// deployment; a limit of zero or less lists all runs.
func (s *Store) List(ctx context.Context, deployment string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, deployment, action, environment, status, phase, resource, error, steps, started_at, finished_at
		 FROM runs WHERE ? = '' OR deployment = ?
		 ORDER BY seq DESC LIMIT ?`,
		deployment, deployment, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func fromReport(report apporch.Report) Run {
	run := Run{
		ID:          uuid.NewString(),
		Deployment:  report.Deployment,
		Action:      report.Action,
		Environment: report.Environment,
		Status:      StatusSucceeded,
		Steps:       len(report.Steps),
		StartedAt:   report.StartedAt,
		FinishedAt:  report.FinishedAt,
	}
	if report.Err == nil {
		return run
	}
	run.Status = StatusFailed
	run.Error = report.Err.Error()
	var phaseErr apporch.PhaseError
	if errors.As(report.Err, &phaseErr) {
		run.Phase = phaseErr.Phase
		run.Resource = phaseErr.Resource
	}
	return run
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var run Run
	var action, status, phase, startedAt, finishedAt string
	if err := s.Scan(&run.ID, &run.Deployment, &action, &run.Environment, &status,
		&phase, &run.Resource, &run.Error, &run.Steps, &startedAt, &finishedAt); err != nil {
		return run, fmt.Errorf("scan run: %w", err)
	}
	run.Action = apporch.Action(action)
	run.Status = Status(status)
	run.Phase = apporch.Phase(phase)

	var err error
	if run.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return run, fmt.Errorf("parse started_at: %w", err)
	}
	if run.FinishedAt, err = time.Parse(time.RFC3339Nano, finishedAt); err != nil {
		return run, fmt.Errorf("parse finished_at: %w", err)
	}
	return run, nil
}
