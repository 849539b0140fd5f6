// Copyright 2025 Nomen Protocol
//
// Event Log Repository - the append-only audit log

package database

import (
	"context"
	"database/sql"
	"fmt"
)

// EventLogRepository handles the append-only event_log table.
type EventLogRepository struct {
	db DBTX
}

// NewEventLogRepository creates a new event log repository.
func NewEventLogRepository(client *Client) *EventLogRepository {
	return &EventLogRepository{db: client.DB()}
}

// Save appends an entry to the event log.
func (r *EventLogRepository) Save(ctx context.Context, evtType, data string) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO event_log (created_at, type, data) VALUES (unixepoch(), ?, ?);",
		evtType, data,
	)
	if err != nil {
		return fmt.Errorf("failed to save event log entry: %w", err)
	}
	return nil
}

// LastIndexTime returns the timestamp of the most recent completed index
// pass. Returns ErrNotFound before the first pass.
func (r *EventLogRepository) LastIndexTime(ctx context.Context) (int64, error) {
	var createdAt int64
	err := r.db.QueryRowContext(ctx,
		"SELECT created_at FROM event_log WHERE type = 'index' ORDER BY created_at DESC LIMIT 1;",
	).Scan(&createdAt)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read last index time: %w", err)
	}
	return createdAt, nil
}
