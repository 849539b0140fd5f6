// Copyright 2025 Nomen Protocol
//
// Bitcoin Core RPC seam for the chain scanner

package chain

import (
	"fmt"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"

	"github.com/nomenproto/nomen-indexer/pkg/config"
)

// BitcoinRPC is the subset of the Bitcoin Core RPC surface the scanner
// uses. *rpcclient.Client satisfies it; tests substitute a fake.
type BitcoinRPC interface {
	GetBlockHash(height int64) (*chainhash.Hash, error)
	GetBlockHeaderVerbose(hash *chainhash.Hash) (*btcjson.GetBlockHeaderVerboseResult, error)
	GetBlock(hash *chainhash.Hash) (*wire.MsgBlock, error)
	GetBlockVerbose(hash *chainhash.Hash) (*btcjson.GetBlockVerboseResult, error)
}

// NewRPCClient connects to the configured Bitcoin Core node.
func NewRPCClient(cfg *config.Config) (*rpcclient.Client, error) {
	conn := &rpcclient.ConnConfig{
		Host:         cfg.RPCHostPort(),
		HTTPPostMode: true,
		DisableTLS:   true,
	}
	if cfg.RPC.Cookie != "" {
		conn.CookiePath = cfg.RPC.Cookie
	} else {
		conn.User = cfg.RPC.User
		conn.Pass = cfg.RPC.Password
	}

	client, err := rpcclient.New(conn, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create bitcoin rpc client: %w", err)
	}
	return client, nil
}
