// Copyright 2025 Nomen Protocol
//
// Relay Index Repository - the outbox of names awaiting republication

package database

import (
	"context"
	"database/sql"
	"fmt"
)

// RelayIndexRepository handles the relay_index_queue outbox.
type RelayIndexRepository struct {
	db DBTX
}

// NewRelayIndexRepository creates a new relay index repository.
func NewRelayIndexRepository(client *Client) *RelayIndexRepository {
	return &RelayIndexRepository{db: client.DB()}
}

// WithTx returns a repository bound to an open transaction.
func (r *RelayIndexRepository) WithTx(tx *sql.Tx) *RelayIndexRepository {
	return &RelayIndexRepository{db: tx}
}

// Queue marks a name for republication. Idempotent.
func (r *RelayIndexRepository) Queue(ctx context.Context, name string) error {
	if _, err := r.db.ExecContext(ctx, "INSERT OR IGNORE INTO relay_index_queue (name) VALUES (?);", name); err != nil {
		return fmt.Errorf("failed to queue name for relay index: %w", err)
	}
	return nil
}

// FetchQueued returns the queued names joined with their current owner and
// records.
func (r *RelayIndexRepository) FetchQueued(ctx context.Context) ([]PublishableName, error) {
	return r.fetch(ctx, `
		SELECT vnr.name, vnr.pubkey, COALESCE(vnr.records, '{}') AS records
		FROM valid_names_records_vw vnr
		JOIN relay_index_queue riq ON vnr.name = riq.name;`)
}

// FetchAll returns the full valid-names-with-records projection, used for
// a full rebroadcast.
func (r *RelayIndexRepository) FetchAll(ctx context.Context) ([]PublishableName, error) {
	return r.fetch(ctx, `
		SELECT vnr.name, vnr.pubkey, COALESCE(vnr.records, '{}') AS records
		FROM valid_names_records_vw vnr
		WHERE vnr.name IS NOT NULL;`)
}

func (r *RelayIndexRepository) fetch(ctx context.Context, query string) ([]PublishableName, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch relay index names: %w", err)
	}
	defer rows.Close()

	var names []PublishableName
	for rows.Next() {
		var n PublishableName
		if err := rows.Scan(&n.Name, &n.PubKey, &n.Records); err != nil {
			return nil, fmt.Errorf("failed to scan relay index row: %w", err)
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate relay index rows: %w", err)
	}
	return names, nil
}

// Delete removes a name from the outbox after a confirmed send.
func (r *RelayIndexRepository) Delete(ctx context.Context, name string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM relay_index_queue WHERE name = ?;", name); err != nil {
		return fmt.Errorf("failed to delete relay index row: %w", err)
	}
	return nil
}
