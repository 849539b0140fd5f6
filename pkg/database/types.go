// Copyright 2025 Nomen Protocol
//
// Row types shared by the repositories

package database

import (
	"context"
	"database/sql"
	"encoding/hex"

	"github.com/nomenproto/nomen-indexer/pkg/core"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx so repository methods can
// run standalone or inside an enclosing transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// RawBlockchain is a row of the archival raw_blockchain table.
type RawBlockchain struct {
	Blockhash   string
	Txid        string
	Blocktime   int64
	Blockheight int64
	Txheight    int64
	Vout        int64
	Data        []byte
}

// BlockchainIndex is a chain-anchor row of blockchain_index (and the same
// shape used for transfer_cache rows).
type BlockchainIndex struct {
	ID          int64
	Protocol    int64
	Fingerprint [core.FingerprintLen]byte
	Nsid        core.Nsid
	Name        sql.NullString
	PubKey      sql.NullString // hex x-only key
	Blockhash   string
	Txid        string
	Blocktime   int64
	Blockheight int64
	Txheight    int64
	Vout        int64
}

// FingerprintHex returns the row's fingerprint as lowercase hex.
func (b *BlockchainIndex) FingerprintHex() string {
	return hex.EncodeToString(b.Fingerprint[:])
}

// NameEvent is a record event row keyed by (name, pubkey).
type NameEvent struct {
	Name        string
	Fingerprint [core.FingerprintLen]byte
	Nsid        core.Nsid
	PubKey      string // hex x-only key
	CreatedAt   int64
	EventID     string
	Records     string // raw JSON object
	RawEvent    string
}

// PublishableName is a valid name joined with its current records, ready
// for relay publication.
type PublishableName struct {
	Name    string
	PubKey  string
	Records string // raw JSON object
}

// NameDetails is the full reconciled projection for one name.
type NameDetails struct {
	Name        string
	PubKey      string
	Nsid        string
	Fingerprint string
	Protocol    int64
	Blockhash   string
	Txid        string
	Blocktime   int64
	Blockheight int64
	Txheight    int64
	Vout        int64
	Records     string
}

// UpgradeStatus reports whether a CreateV1 matched an existing v0 claim.
type UpgradeStatus int

const (
	NotUpgraded UpgradeStatus = iota
	Upgraded
)
