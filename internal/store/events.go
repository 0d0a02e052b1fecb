package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ralphloop/ralph/internal/events"
)

// StoredEvent is an event plus its store sequence number, the cursor
// tail uses to follow the stream
type StoredEvent struct {
	Seq int64
	events.Event
}

// AddEvents appends a batch of events in one transaction
func (s *Store) AddEvents(ctx context.Context, evs []*events.Event) error {
	if len(evs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (id, run_id, iteration, type, severity, timestamp, message, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, ev := range evs {
		var data any
		if len(ev.Data) > 0 {
			blob, err := json.Marshal(ev.Data)
			if err != nil {
				return fmt.Errorf("failed to marshal event data: %w", err)
			}
			data = string(blob)
		}
		if _, err := stmt.ExecContext(ctx, ev.ID, ev.RunID, ev.Iteration,
			ev.Type, ev.Severity, ev.Timestamp, ev.Message, data); err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit events: %w", err)
	}
	return nil
}

// EventsAfter returns up to limit events with store sequence greater than
// after, oldest first. after = 0 starts from the beginning.
func (s *Store) EventsAfter(ctx context.Context, after int64, limit int) ([]*StoredEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, run_id, iteration, type, severity, timestamp, message, data
		FROM events WHERE seq > ? ORDER BY seq LIMIT ?`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// RecentEvents returns the newest limit events, oldest first
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]*StoredEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, run_id, iteration, type, severity, timestamp, message, data
		FROM (
			SELECT * FROM events ORDER BY seq DESC LIMIT ?
		) ORDER BY seq`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// RunEvents returns all events for one run, oldest first
func (s *Store) RunEvents(ctx context.Context, runID string) ([]*StoredEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, run_id, iteration, type, severity, timestamp, message, data
		FROM events WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*StoredEvent, error) {
	var out []*StoredEvent
	for rows.Next() {
		var ev StoredEvent
		var data sql.NullString
		err := rows.Scan(&ev.Seq, &ev.ID, &ev.RunID, &ev.Iteration, &ev.Type,
			&ev.Severity, &ev.Timestamp, &ev.Message, &data)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if data.Valid && data.String != "" {
			if err := json.Unmarshal([]byte(data.String), &ev.Data); err != nil {
				return nil, fmt.Errorf("failed to parse event data: %w", err)
			}
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}
