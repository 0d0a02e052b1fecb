package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ralphloop/ralph/internal/types"
)

const iterationColumns = `run_id, seq, started_at, ended_at, attempts,
	exit_code, failure, marker_seen, boxes_total, boxes_checked, diff_lines,
	cost_usd, gates_ran, gates_failed`

// AddIteration inserts an iteration row
func (s *Store) AddIteration(ctx context.Context, it *types.Iteration) error {
	if err := it.Validate(); err != nil {
		return fmt.Errorf("invalid iteration: %w", err)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO iterations (`+iterationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.RunID, it.Seq, it.StartedAt, nullTime(it.EndedAt), it.Attempts,
		it.ExitCode, it.Failure, it.MarkerSeen, it.BoxesTotal,
		it.BoxesChecked, it.DiffLines, it.CostUSD, it.GatesRan, it.GatesFailed)
	if err != nil {
		return fmt.Errorf("failed to add iteration: %w", err)
	}
	return nil
}

// UpdateIteration rewrites an iteration's mutable columns
func (s *Store) UpdateIteration(ctx context.Context, it *types.Iteration) error {
	if err := it.Validate(); err != nil {
		return fmt.Errorf("invalid iteration: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE iterations SET ended_at = ?, attempts = ?, exit_code = ?,
			failure = ?, marker_seen = ?, boxes_total = ?, boxes_checked = ?,
			diff_lines = ?, cost_usd = ?, gates_ran = ?, gates_failed = ?
		WHERE run_id = ? AND seq = ?`,
		nullTime(it.EndedAt), it.Attempts, it.ExitCode, it.Failure,
		it.MarkerSeen, it.BoxesTotal, it.BoxesChecked, it.DiffLines,
		it.CostUSD, it.GatesRan, it.GatesFailed, it.RunID, it.Seq)
	if err != nil {
		return fmt.Errorf("failed to update iteration: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("iteration not found: %s #%d", it.RunID, it.Seq)
	}
	return nil
}

// ListIterations returns a run's iterations in sequence order
func (s *Store) ListIterations(ctx context.Context, runID string) ([]*types.Iteration, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+iterationColumns+` FROM iterations WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list iterations: %w", err)
	}
	defer rows.Close()

	var its []*types.Iteration
	for rows.Next() {
		var it types.Iteration
		var ended sql.NullTime
		err := rows.Scan(&it.RunID, &it.Seq, &it.StartedAt, &ended,
			&it.Attempts, &it.ExitCode, &it.Failure, &it.MarkerSeen,
			&it.BoxesTotal, &it.BoxesChecked, &it.DiffLines, &it.CostUSD,
			&it.GatesRan, &it.GatesFailed)
		if err != nil {
			return nil, fmt.Errorf("failed to scan iteration: %w", err)
		}
		if ended.Valid {
			t := ended.Time
			it.EndedAt = &t
		}
		its = append(its, &it)
	}
	return its, rows.Err()
}
