// Copyright 2025 Nomen Protocol
//
// Name Events Repository - record events collected from relays

package database

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
)

// NameEventsRepository handles the name_events table.
type NameEventsRepository struct {
	db DBTX
}

// NewNameEventsRepository creates a new name events repository.
func NewNameEventsRepository(client *Client) *NameEventsRepository {
	return &NameEventsRepository{db: client.DB()}
}

// WithTx returns a repository bound to an open transaction.
func (r *NameEventsRepository) WithTx(tx *sql.Tx) *NameEventsRepository {
	return &NameEventsRepository{db: tx}
}

// Upsert stores a record event keyed by (name, pubkey). On conflict the
// event with the larger created_at wins; a stale event is a no-op. Reports
// whether the row changed.
func (r *NameEventsRepository) Upsert(ctx context.Context, event *NameEvent) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO name_events (name, fingerprint, nsid, pubkey, created_at, event_id, records, raw_event, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, unixepoch())
		ON CONFLICT (name, pubkey) DO UPDATE SET
			nsid = excluded.nsid,
			created_at = excluded.created_at,
			event_id = excluded.event_id,
			records = excluded.records,
			raw_event = excluded.raw_event,
			indexed_at = excluded.indexed_at
		WHERE excluded.created_at > name_events.created_at;`,
		event.Name, hex.EncodeToString(event.Fingerprint[:]), event.Nsid.String(), event.PubKey,
		event.CreatedAt, event.EventID, event.Records, event.RawEvent,
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert name event: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected > 0, nil
}

// LastRecordsTime returns the created_at watermark of the newest stored
// record event, or 0 when none exist.
func (r *NameEventsRepository) LastRecordsTime(ctx context.Context) (int64, error) {
	var t int64
	err := r.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(created_at), 0) FROM name_events;").Scan(&t)
	if err != nil {
		return 0, fmt.Errorf("failed to read last records time: %w", err)
	}
	return t, nil
}
