// Copyright 2025 Nomen Protocol
//
// Index Repository - chain anchors, transfer cache, raw archive, and the
// scan watermark

package database

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/nomenproto/nomen-indexer/pkg/core"
)

// IndexRepository handles the tables written during a chain scan pass.
type IndexRepository struct {
	db DBTX
}

// NewIndexRepository creates a new index repository.
func NewIndexRepository(client *Client) *IndexRepository {
	return &IndexRepository{db: client.DB()}
}

// WithTx returns a repository bound to an open transaction.
func (r *IndexRepository) WithTx(tx *sql.Tx) *IndexRepository {
	return &IndexRepository{db: tx}
}

// ============================================================================
// RAW ARCHIVE
// ============================================================================

// InsertRaw archives an observed NOM output with its original payload bytes.
func (r *IndexRepository) InsertRaw(ctx context.Context, raw *RawBlockchain) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO raw_blockchain (blockhash, txid, blocktime, blockheight, txheight, vout, data, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, unixepoch());`,
		raw.Blockhash, raw.Txid, raw.Blocktime, raw.Blockheight, raw.Txheight, raw.Vout,
		hex.EncodeToString(raw.Data),
	)
	if err != nil {
		return fmt.Errorf("failed to insert raw blockchain row: %w", err)
	}
	return nil
}

// ============================================================================
// CHAIN ANCHORS
// ============================================================================

// InsertIndex inserts a chain-anchor row.
func (r *IndexRepository) InsertIndex(ctx context.Context, index *BlockchainIndex) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO blockchain_index (protocol, fingerprint, nsid, name, pubkey, blockhash, txid, blocktime, blockheight, txheight, vout, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, unixepoch());`,
		index.Protocol, index.FingerprintHex(), index.Nsid.String(), index.Name, index.PubKey,
		index.Blockhash, index.Txid, index.Blocktime, index.Blockheight, index.Txheight, index.Vout,
	)
	if err != nil {
		return fmt.Errorf("failed to insert blockchain index row: %w", err)
	}
	return nil
}

// InsertTransferCache inserts a pending transfer row.
func (r *IndexRepository) InsertTransferCache(ctx context.Context, index *BlockchainIndex) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO transfer_cache (protocol, fingerprint, nsid, name, pubkey, blockhash, txid, blocktime, blockheight, txheight, vout, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, unixepoch());`,
		index.Protocol, index.FingerprintHex(), index.Nsid.String(), index.Name, index.PubKey,
		index.Blockhash, index.Txid, index.Blocktime, index.Blockheight, index.Txheight, index.Vout,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transfer cache row: %w", err)
	}
	return nil
}

// UpgradeV0ToV1 rewrites an existing v0 anchor in place when a CreateV1
// matches it on both fingerprint and computed nsid, preserving its ordering
// priority. Returns Upgraded when a row was rewritten.
func (r *IndexRepository) UpgradeV0ToV1(ctx context.Context, name string, pubkey core.XOnlyPublicKey) (UpgradeStatus, error) {
	fingerprint := core.Fingerprint(name)
	nsid := core.NewNsid(name, pubkey)

	result, err := r.db.ExecContext(ctx, `
		UPDATE blockchain_index SET name = ?, pubkey = ?, protocol = 1
		WHERE fingerprint = ? AND nsid = ? AND protocol = 0;`,
		name, pubkey.String(), hex.EncodeToString(fingerprint[:]), nsid.String(),
	)
	if err != nil {
		return NotUpgraded, fmt.Errorf("failed to upgrade v0 claim: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return NotUpgraded, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected > 0 {
		return Upgraded, nil
	}
	return NotUpgraded, nil
}

// ============================================================================
// TRANSFER RECONCILIATION
// ============================================================================

// TransferCandidate returns the cached transfer at (txid, vout), if any.
func (r *IndexRepository) TransferCandidate(ctx context.Context, txid string, vout int64) (*BlockchainIndex, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, protocol, fingerprint, nsid, name, pubkey, blockhash, txid, blocktime, blockheight, txheight, vout
		FROM transfer_cache WHERE txid = ? AND vout = ?;`,
		txid, vout,
	)

	var (
		index          BlockchainIndex
		fingerprintHex string
		nsidHex        string
	)
	err := row.Scan(&index.ID, &index.Protocol, &fingerprintHex, &nsidHex, &index.Name, &index.PubKey,
		&index.Blockhash, &index.Txid, &index.Blocktime, &index.Blockheight, &index.Txheight, &index.Vout)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query transfer cache: %w", err)
	}

	fp, err := hex.DecodeString(fingerprintHex)
	if err != nil || len(fp) != core.FingerprintLen {
		return nil, fmt.Errorf("corrupt fingerprint in transfer cache: %q", fingerprintHex)
	}
	copy(index.Fingerprint[:], fp)

	nsid, err := core.ParseNsid(nsidHex)
	if err != nil {
		return nil, fmt.Errorf("corrupt nsid in transfer cache: %w", err)
	}
	index.Nsid = nsid

	return &index, nil
}

// UpdateIndexForTransfer rewrites the anchor for (name, oldOwner) to the
// new owner's key and nsid.
func (r *IndexRepository) UpdateIndexForTransfer(ctx context.Context, nsid core.Nsid, newOwner, oldOwner core.XOnlyPublicKey, name string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE blockchain_index SET nsid = ?, pubkey = ? WHERE name = ? AND pubkey = ?;",
		nsid.String(), newOwner.String(), name, oldOwner.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update index for transfer: %w", err)
	}
	return nil
}

// DeleteTransferCache removes a consumed transfer cache row.
func (r *IndexRepository) DeleteTransferCache(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM transfer_cache WHERE id = ?;", id); err != nil {
		return fmt.Errorf("failed to delete transfer cache row: %w", err)
	}
	return nil
}

// ============================================================================
// WATERMARK
// ============================================================================

// NextIndexHeight returns the next block height to scan.
func (r *IndexRepository) NextIndexHeight(ctx context.Context) (int64, error) {
	var height int64
	err := r.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(blockheight), 0) + 1 FROM index_height;").Scan(&height)
	if err != nil {
		return 0, fmt.Errorf("failed to read next index height: %w", err)
	}
	return height, nil
}

// InsertIndexHeight advances the watermark for a block.
func (r *IndexRepository) InsertIndexHeight(ctx context.Context, height int64, blockhash string) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO index_height (blockheight, blockhash) VALUES (?, ?) ON CONFLICT DO NOTHING;",
		height, blockhash,
	)
	if err != nil {
		return fmt.Errorf("failed to insert index height: %w", err)
	}
	return nil
}

// IndexTip returns the highest watermark row. Returns ErrNotFound when
// nothing has been indexed yet.
func (r *IndexRepository) IndexTip(ctx context.Context) (int64, string, error) {
	var (
		height    int64
		blockhash string
	)
	err := r.db.QueryRowContext(ctx,
		"SELECT blockheight, blockhash FROM index_height ORDER BY blockheight DESC LIMIT 1;",
	).Scan(&height, &blockhash)
	if err == sql.ErrNoRows {
		return 0, "", ErrNotFound
	}
	if err != nil {
		return 0, "", fmt.Errorf("failed to read index tip: %w", err)
	}
	return height, blockhash, nil
}

// ============================================================================
// REWIND / RESCAN
// ============================================================================

// Rewind deletes every row at or above the stale height from the raw
// archive, the anchor table, and the watermark, in a single transaction
// when the repository is bound to one.
func (r *IndexRepository) Rewind(ctx context.Context, staleHeight int64) error {
	for _, query := range []string{
		"DELETE FROM raw_blockchain WHERE blockheight >= ?;",
		"DELETE FROM blockchain_index WHERE blockheight >= ?;",
		"DELETE FROM index_height WHERE blockheight >= ?;",
	} {
		if _, err := r.db.ExecContext(ctx, query, staleHeight); err != nil {
			return fmt.Errorf("failed to rewind index: %w", err)
		}
	}
	return nil
}

// Rescan truncates the watermark and raw archive from a height so the next
// pass rereads those blocks without discarding reconciled anchors.
func (r *IndexRepository) Rescan(ctx context.Context, height int64) error {
	for _, query := range []string{
		"DELETE FROM index_height WHERE blockheight >= ?;",
		"DELETE FROM raw_blockchain WHERE blockheight >= ?;",
	} {
		if _, err := r.db.ExecContext(ctx, query, height); err != nil {
			return fmt.Errorf("failed to rescan index: %w", err)
		}
	}
	return nil
}
