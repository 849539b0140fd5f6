// Copyright 2025 Nomen Protocol
//
// Stats Repository - counters for the health endpoint and metrics

package database

import (
	"context"
	"fmt"
)

// StatsRepository exposes aggregate counters over the index.
type StatsRepository struct {
	db DBTX
}

// NewStatsRepository creates a new stats repository.
func NewStatsRepository(client *Client) *StatsRepository {
	return &StatsRepository{db: client.DB()}
}

// KnownNames returns the number of valid names.
func (r *StatsRepository) KnownNames(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, "SELECT count(*) FROM valid_names_vw;").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count known names: %w", err)
	}
	return count, nil
}

// IndexHeight returns the current watermark height, 0 when unscanned.
func (r *StatsRepository) IndexHeight(ctx context.Context) (int64, error) {
	var height int64
	if err := r.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(blockheight), 0) FROM index_height;").Scan(&height); err != nil {
		return 0, fmt.Errorf("failed to read index height: %w", err)
	}
	return height, nil
}

// NostrEvents returns the number of stored record events.
func (r *StatsRepository) NostrEvents(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, "SELECT count(*) FROM name_events;").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}
