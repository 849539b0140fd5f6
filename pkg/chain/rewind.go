// Copyright 2025 Nomen Protocol
//
// Reorganization recovery - detects a stale watermark and truncates the
// index back to the last block on the active chain

package chain

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/nomenproto/nomen-indexer/pkg/database"
)

// rewindInvalidChain walks backwards from the indexed tip while the node
// reports negative confirmations, then deletes every indexed row at or
// above the lowest stale height in one transaction.
func (s *Scanner) rewindInvalidChain(ctx context.Context) error {
	index := database.NewIndexRepository(s.client)

	_, tipHash, err := index.IndexTip(ctx)
	if errors.Is(err, database.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	hash, err := chainhash.NewHashFromStr(tipHash)
	if err != nil {
		return fmt.Errorf("failed to parse indexed tip hash: %w", err)
	}

	var (
		staleHeight int64
		stale       bool
	)
	for {
		info, err := s.rpc.GetBlockVerbose(hash)
		if err != nil {
			return fmt.Errorf("failed to fetch block info: %w", err)
		}
		if info.Confirmations >= 0 {
			break
		}

		s.logger.Printf("Stale block %s detected at height %d", info.Hash, info.Height)
		staleHeight = info.Height
		stale = true

		if info.PreviousHash == "" {
			break
		}
		hash, err = chainhash.NewHashFromStr(info.PreviousHash)
		if err != nil {
			return fmt.Errorf("failed to parse previous block hash: %w", err)
		}
	}

	if !stale {
		return nil
	}

	s.logger.Printf("Reindexing beginning at height %d", staleHeight)
	return s.client.WithTx(ctx, func(tx *sql.Tx) error {
		return index.WithTx(tx).Rewind(ctx, staleHeight)
	})
}
