// Copyright 2025 Nomen Protocol
//
// Names Repository - the reconciled projections consumers read
//
// These queries are the reconciler: ownership is decided entirely by the
// first-seen rule baked into the ranked view, records by the join against
// name_events on the valid claim's nsid.

package database

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/nomenproto/nomen-indexer/pkg/core"
)

// NamesRepository exposes the derived valid-names projections.
type NamesRepository struct {
	db DBTX
}

// NewNamesRepository creates a new names repository.
func NewNamesRepository(client *Client) *NamesRepository {
	return &NamesRepository{db: client.DB()}
}

// WithTx returns a repository bound to an open transaction.
func (r *NamesRepository) WithTx(tx *sql.Tx) *NamesRepository {
	return &NamesRepository{db: tx}
}

// ValidOwner returns the hex pubkey of the valid claim for a name, decided
// by the first-seen anchor rule over the name's fingerprint. Returns
// ErrNotFound when no claim carries an owner.
func (r *NamesRepository) ValidOwner(ctx context.Context, name string) (string, error) {
	fingerprint := core.Fingerprint(name)

	var pubkey sql.NullString
	err := r.db.QueryRowContext(ctx,
		"SELECT pubkey FROM valid_names_vw WHERE fingerprint = ? LIMIT 1;",
		hex.EncodeToString(fingerprint[:]),
	).Scan(&pubkey)
	if err == sql.ErrNoRows || (err == nil && !pubkey.Valid) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query valid owner: %w", err)
	}
	return pubkey.String, nil
}

// Available reports whether no anchor exists for the name's fingerprint.
func (r *NamesRepository) Available(ctx context.Context, name string) (bool, error) {
	fingerprint := core.Fingerprint(name)

	var count int64
	err := r.db.QueryRowContext(ctx,
		"SELECT count(*) FROM blockchain_index WHERE fingerprint = ?;",
		hex.EncodeToString(fingerprint[:]),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to query name availability: %w", err)
	}
	return count == 0, nil
}

// Details returns the reconciled projection for a name or nsid.
func (r *NamesRepository) Details(ctx context.Context, query string) (*NameDetails, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT name, pubkey, nsid, fingerprint, protocol, blockhash, txid, blocktime, blockheight, txheight, vout, records
		FROM valid_names_records_vw
		WHERE nsid = ? OR name = ?;`,
		query, query,
	)

	var (
		d      NameDetails
		name   sql.NullString
		pubkey sql.NullString
	)
	err := row.Scan(&name, &pubkey, &d.Nsid, &d.Fingerprint, &d.Protocol,
		&d.Blockhash, &d.Txid, &d.Blocktime, &d.Blockheight, &d.Txheight, &d.Vout, &d.Records)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query name details: %w", err)
	}

	d.Name = name.String
	d.PubKey = pubkey.String
	return &d, nil
}

// Records returns the current record map for a name, resolved through the
// valid claim. The boolean reports whether the valid claim's nsid has a
// record event; events from other claimants of the name do not count.
func (r *NamesRepository) Records(ctx context.Context, name string) (map[string]string, bool, error) {
	fingerprint := core.Fingerprint(name)

	var content string
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(ne.records, '{}')
		FROM valid_names_vw vn
		JOIN name_events ne ON vn.nsid = ne.nsid
		WHERE vn.fingerprint = ? LIMIT 1;`,
		hex.EncodeToString(fingerprint[:]),
	).Scan(&content)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to query name records: %w", err)
	}

	records := make(map[string]string)
	if err := json.Unmarshal([]byte(content), &records); err != nil {
		return nil, false, fmt.Errorf("failed to decode records: %w", err)
	}
	return records, true, nil
}

// NameAndKey is a (name, pubkey) listing row.
type NameAndKey struct {
	Name   string
	PubKey string
}

// NameListing is an (nsid, name) listing row.
type NameListing struct {
	Nsid string
	Name string
}

// TopLevelNames lists valid names, optionally filtered by substring.
func (r *NamesRepository) TopLevelNames(ctx context.Context, query string) ([]NameListing, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if query != "" {
		rows, err = r.db.QueryContext(ctx,
			"SELECT nsid, name FROM valid_names_vw WHERE name IS NOT NULL AND instr(name, ?) ORDER BY name;",
			query,
		)
	} else {
		rows, err = r.db.QueryContext(ctx,
			"SELECT nsid, name FROM valid_names_vw WHERE name IS NOT NULL ORDER BY name;",
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list names: %w", err)
	}
	defer rows.Close()

	var names []NameListing
	for rows.Next() {
		var n NameListing
		if err := rows.Scan(&n.Nsid, &n.Name); err != nil {
			return nil, fmt.Errorf("failed to scan name row: %w", err)
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate name rows: %w", err)
	}
	return names, nil
}

// AllNames lists every valid name with its owner key.
func (r *NamesRepository) AllNames(ctx context.Context) ([]NameAndKey, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT name, pubkey FROM valid_names_vw WHERE name IS NOT NULL;",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list all names: %w", err)
	}
	defer rows.Close()

	var names []NameAndKey
	for rows.Next() {
		var n NameAndKey
		if err := rows.Scan(&n.Name, &n.PubKey); err != nil {
			return nil, fmt.Errorf("failed to scan name row: %w", err)
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate name rows: %w", err)
	}
	return names, nil
}
