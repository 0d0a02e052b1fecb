package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ralphloop/ralph/internal/types"
)

const runColumns = `id, workspace, agent, agent_command, prompt_path, plan_path,
	marker, max_iterations, state, reason, iterations, total_cost_usd,
	total_diff_lines, started_at, ended_at`

// CreateRun inserts a new run row
func (s *Store) CreateRun(ctx context.Context, run *types.Run) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Workspace, run.Agent, run.AgentCommand, run.PromptPath,
		run.PlanPath, run.Marker, run.MaxIterations, run.State, run.Reason,
		run.Iterations, run.TotalCostUSD, run.TotalDiff, run.StartedAt,
		nullTime(run.EndedAt))
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// UpdateRun rewrites a run's mutable columns
func (s *Store) UpdateRun(ctx context.Context, run *types.Run) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET state = ?, reason = ?, iterations = ?,
			total_cost_usd = ?, total_diff_lines = ?, ended_at = ?
		WHERE id = ?`,
		run.State, run.Reason, run.Iterations, run.TotalCostUSD,
		run.TotalDiff, nullTime(run.EndedAt), run.ID)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("run not found: %s", run.ID)
	}
	return nil
}

// GetRun fetches one run by ID
func (s *Store) GetRun(ctx context.Context, id string) (*types.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// LatestRun returns the most recently started run, or nil when the store
// is empty
func (s *Store) LatestRun(ctx context.Context) (*types.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id DESC LIMIT 1`)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}
	return run, nil
}

// ListRuns returns up to limit runs, newest first
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*types.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*types.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Prune removes finished runs older than cutoff, always keeping the
// newest keep finished runs. Iterations and events cascade.
func (s *Store) Prune(ctx context.Context, keep int, cutoff time.Time) (int, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM runs
		WHERE state != ? AND started_at < ?
		  AND id NOT IN (
			SELECT id FROM runs WHERE state != ?
			ORDER BY started_at DESC, id DESC LIMIT ?
		  )`,
		types.StateRunning, cutoff, types.StateRunning, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*types.Run, error) {
	var run types.Run
	var ended sql.NullTime
	err := row.Scan(&run.ID, &run.Workspace, &run.Agent, &run.AgentCommand,
		&run.PromptPath, &run.PlanPath, &run.Marker, &run.MaxIterations,
		&run.State, &run.Reason, &run.Iterations, &run.TotalCostUSD,
		&run.TotalDiff, &run.StartedAt, &ended)
	if err != nil {
		return nil, err
	}
	if ended.Valid {
		t := ended.Time
		run.EndedAt = &t
	}
	return &run, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
