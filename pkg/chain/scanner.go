// Copyright 2025 Nomen Protocol
//
// Chain Scanner - walks Bitcoin blocks forward from the watermark,
// extracting NOM OP_RETURN outputs
//
// The walker runs on its own goroutine because the RPC client blocks; it
// feeds decoded messages through a channel of capacity 1 to the committer,
// which persists each message and advances the watermark in the same
// transaction. The channel is FIFO, so anchors commit in
// (blockheight, txheight, vout) order.

package chain

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"

	"github.com/nomenproto/nomen-indexer/pkg/config"
	"github.com/nomenproto/nomen-indexer/pkg/core"
	"github.com/nomenproto/nomen-indexer/pkg/database"
)

// MessageKind discriminates the scanner's channel messages.
type MessageKind int

const (
	// MessageNull only advances the watermark past its block.
	MessageNull MessageKind = iota
	MessageIndex
	MessageTransfer
	MessageSignature
)

// ScanMessage is one decoded output plus the coordinates of its block.
type ScanMessage struct {
	Blockheight int64
	Blockhash   string
	Kind        MessageKind

	// Index carries the anchor (MessageIndex) or transfer (MessageTransfer)
	// row. Nil for MessageNull and MessageSignature.
	Index *database.BlockchainIndex

	// Signature fields, set for MessageSignature.
	Signature [core.SignatureLen]byte
	Txid      string
	Vout      int64

	// Raw is the original payload for the archive; nil for MessageNull.
	Raw *database.RawBlockchain
}

// Scanner drives one blockchain scan pass per invocation.
type Scanner struct {
	rpc    BitcoinRPC
	client *database.Client
	cfg    *config.Config
	logger *log.Logger
}

// ScannerOption is a functional option for configuring the scanner.
type ScannerOption func(*Scanner)

// WithLogger sets a custom logger for the scanner.
func WithLogger(logger *log.Logger) ScannerOption {
	return func(s *Scanner) {
		s.logger = logger
	}
}

// NewScanner creates a scanner over the given RPC client and store.
func NewScanner(rpc BitcoinRPC, client *database.Client, cfg *config.Config, opts ...ScannerOption) *Scanner {
	s := &Scanner{
		rpc:    rpc,
		client: client,
		cfg:    cfg,
		logger: log.New(log.Writer(), "[Scanner] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan runs one pass: reorg check, then walk blocks from the watermark,
// committing every message and advancing the watermark as it goes. A block
// below the confirmation threshold ends the pass cleanly.
func (s *Scanner) Scan(ctx context.Context) error {
	if err := s.rewindInvalidChain(ctx); err != nil {
		return fmt.Errorf("failed reorg check: %w", err)
	}

	index := database.NewIndexRepository(s.client)
	next, err := index.NextIndexHeight(ctx)
	if err != nil {
		return err
	}
	if floor := s.cfg.StartingBlockHeight(); next < floor {
		next = floor
	}

	s.logger.Printf("Scanning new blocks for indexable NOM outputs at height %d", next)

	walkCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Capacity 1: the walker stalls until the committer drains.
	messages := make(chan *ScanMessage, 1)
	walkErr := make(chan error, 1)
	go func() {
		walkErr <- s.walk(walkCtx, next, messages)
		close(messages)
	}()

	var commitErr error
	for msg := range messages {
		if commitErr != nil {
			continue // drain without committing past the failure
		}
		if err := s.commit(ctx, msg); err != nil {
			commitErr = err
			cancel()
		}
	}

	if commitErr != nil {
		return fmt.Errorf("failed to commit scan message: %w", commitErr)
	}
	if err := <-walkErr; err != nil {
		return fmt.Errorf("block walk failed: %w", err)
	}

	s.logger.Printf("Blockchain index complete.")
	return nil
}

// walk iterates blocks from height, sending one message per output. Runs on
// its own goroutine; returns nil on a clean stop (cancellation, tip reached,
// or confirmations below threshold).
func (s *Scanner) walk(ctx context.Context, height int64, out chan<- *ScanMessage) error {
	hash, err := s.rpc.GetBlockHash(height)
	if err != nil {
		// The next height does not exist yet; nothing to scan.
		s.logger.Printf("No block at height %d yet", height)
		return nil
	}

	header, err := s.rpc.GetBlockHeaderVerbose(hash)
	if err != nil {
		return fmt.Errorf("failed to fetch block header: %w", err)
	}

	minConfirmations := int64(s.cfg.Server.Confirmations)

	for {
		if ctx.Err() != nil {
			s.logger.Printf("Stopping index operation.")
			return nil
		}

		if header.Confirmations < minConfirmations {
			s.logger.Printf("Minimum confirmations not met at block height %d.", header.Height)
			return nil
		}

		if header.Height%10 == 0 {
			s.logger.Printf("Index block height %d", header.Height)
		}

		block, err := s.rpc.GetBlock(hash)
		if err != nil {
			return fmt.Errorf("failed to fetch block: %w", err)
		}

		for txheight, tx := range block.Transactions {
			txid := tx.TxHash().String()
			for vout, output := range tx.TxOut {
				msg := s.classify(output.PkScript, header, hash.String(), txid, int64(txheight), int64(vout))
				select {
				case out <- msg:
				case <-ctx.Done():
					s.logger.Printf("Stopping index operation.")
					return nil
				}
			}
		}

		if header.NextHash == "" {
			return nil
		}
		next, err := chainhash.NewHashFromStr(header.NextHash)
		if err != nil {
			return fmt.Errorf("failed to parse next block hash: %w", err)
		}
		hash = next
		header, err = s.rpc.GetBlockHeaderVerbose(hash)
		if err != nil {
			return fmt.Errorf("failed to fetch block header: %w", err)
		}
	}
}

// classify decodes one output into a channel message. Anything that is not
// a well-formed NOM payload becomes a watermark-advance message.
func (s *Scanner) classify(pkScript []byte, header *btcjson.GetBlockHeaderVerboseResult, blockhash, txid string, txheight, vout int64) *ScanMessage {
	nullMsg := &ScanMessage{
		Blockheight: int64(header.Height),
		Blockhash:   blockhash,
		Kind:        MessageNull,
	}

	if txscript.GetScriptClass(pkScript) != txscript.NullDataTy {
		return nullMsg
	}
	pushed, err := txscript.PushedData(pkScript)
	if err != nil || len(pushed) == 0 {
		return nullMsg
	}
	data := pushed[0]
	if !bytes.HasPrefix(data, core.Magic) {
		return nullMsg
	}

	payload, err := core.ParsePayload(data)
	if err != nil {
		s.logger.Printf("Undecodable NOM output in tx %s vout %d: %v", txid, vout, err)
		return nullMsg
	}

	raw := &database.RawBlockchain{
		Blockhash:   blockhash,
		Txid:        txid,
		Blocktime:   header.Time,
		Blockheight: int64(header.Height),
		Txheight:    txheight,
		Vout:        vout,
		Data:        data,
	}

	row := func(protocol int64, fingerprint [core.FingerprintLen]byte, nsid core.Nsid, name, pubkey sql.NullString) *database.BlockchainIndex {
		return &database.BlockchainIndex{
			Protocol:    protocol,
			Fingerprint: fingerprint,
			Nsid:        nsid,
			Name:        name,
			PubKey:      pubkey,
			Blockhash:   blockhash,
			Txid:        txid,
			Blocktime:   header.Time,
			Blockheight: int64(header.Height),
			Txheight:    txheight,
			Vout:        vout,
		}
	}

	switch p := payload.(type) {
	case core.CreateV0:
		return &ScanMessage{
			Blockheight: int64(header.Height),
			Blockhash:   blockhash,
			Kind:        MessageIndex,
			Index:       row(0, p.Fingerprint, p.Nsid, sql.NullString{}, sql.NullString{}),
			Raw:         raw,
		}
	case core.CreateV1:
		return &ScanMessage{
			Blockheight: int64(header.Height),
			Blockhash:   blockhash,
			Kind:        MessageIndex,
			Index: row(1, p.Fingerprint(), p.Nsid(),
				sql.NullString{String: p.Name, Valid: true},
				sql.NullString{String: p.PubKey.String(), Valid: true}),
			Raw: raw,
		}
	case core.TransferV1:
		s.logger.Printf("Caching transfer for %s", p.Name)
		return &ScanMessage{
			Blockheight: int64(header.Height),
			Blockhash:   blockhash,
			Kind:        MessageTransfer,
			Index: row(1, p.Fingerprint(), p.Nsid(),
				sql.NullString{String: p.Name, Valid: true},
				sql.NullString{String: p.PubKey.String(), Valid: true}),
			Raw: raw,
		}
	case core.SignatureV1:
		return &ScanMessage{
			Blockheight: int64(header.Height),
			Blockhash:   blockhash,
			Kind:        MessageSignature,
			Signature:   p.Signature,
			Txid:        txid,
			Vout:        vout,
			Raw:         raw,
		}
	default:
		return nullMsg
	}
}

// commit persists one message and advances the watermark in a single
// transaction, so a watermark advance implies the message is durable.
func (s *Scanner) commit(ctx context.Context, msg *ScanMessage) error {
	return s.client.WithTx(ctx, func(tx *sql.Tx) error {
		index := database.NewIndexRepository(s.client).WithTx(tx)
		names := database.NewNamesRepository(s.client).WithTx(tx)
		queue := database.NewRelayIndexRepository(s.client).WithTx(tx)

		if msg.Raw != nil {
			if err := index.InsertRaw(ctx, msg.Raw); err != nil {
				return err
			}
		}

		switch msg.Kind {
		case MessageIndex:
			if err := s.indexOutput(ctx, index, queue, msg.Index); err != nil {
				return err
			}
		case MessageTransfer:
			if err := index.InsertTransferCache(ctx, msg.Index); err != nil {
				return err
			}
		case MessageSignature:
			if err := s.resolveTransfer(ctx, index, names, queue, msg); err != nil {
				return err
			}
		case MessageNull:
		}

		return index.InsertIndexHeight(ctx, msg.Blockheight, msg.Blockhash)
	})
}

// indexOutput stores an anchor, upgrading a matching v0 claim in place when
// a v1 create arrives for it.
func (s *Scanner) indexOutput(ctx context.Context, index *database.IndexRepository, queue *database.RelayIndexRepository, row *database.BlockchainIndex) error {
	s.logger.Printf("NOM output found: %s, name: %q, protocol: %d", row.Nsid, row.Name.String, row.Protocol)

	if row.Protocol == 1 && row.Name.Valid && row.PubKey.Valid {
		pubkey, err := core.ParsePubKey(row.PubKey.String)
		if err != nil {
			return fmt.Errorf("failed to parse anchor pubkey: %w", err)
		}
		status, err := index.UpgradeV0ToV1(ctx, row.Name.String, pubkey)
		if err != nil {
			return err
		}
		if status == database.Upgraded {
			s.logger.Printf("Name %q upgraded from v0 to v1.", row.Name.String)
			return queue.Queue(ctx, row.Name.String)
		}
	}

	return index.InsertIndex(ctx, row)
}

// resolveTransfer promotes a cached transfer when its authorizing signature
// appears in the same transaction at the next output index.
func (s *Scanner) resolveTransfer(ctx context.Context, index *database.IndexRepository, names *database.NamesRepository, queue *database.RelayIndexRepository, msg *ScanMessage) error {
	if msg.Vout == 0 {
		return nil
	}

	cached, err := index.TransferCandidate(ctx, msg.Txid, msg.Vout-1)
	if errors.Is(err, database.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !cached.Name.Valid || !cached.PubKey.Valid {
		return nil
	}
	name := cached.Name.String

	ownerHex, err := names.ValidOwner(ctx, name)
	if errors.Is(err, database.ErrNotFound) {
		// No claim carries an owner yet; the cache entry stays pending.
		return nil
	}
	if err != nil {
		return err
	}

	oldOwner, err := core.ParsePubKey(ownerHex)
	if err != nil {
		return fmt.Errorf("failed to parse current owner key: %w", err)
	}
	newOwner, err := core.ParsePubKey(cached.PubKey.String)
	if err != nil {
		return fmt.Errorf("failed to parse transfer pubkey: %w", err)
	}

	if !core.VerifyTransferSignature(msg.Signature, oldOwner, name) {
		s.logger.Printf("Transfer signature for %q does not verify under current owner; leaving cached", name)
		return nil
	}

	nsid := core.NewNsid(name, newOwner)
	if err := index.UpdateIndexForTransfer(ctx, nsid, newOwner, oldOwner, name); err != nil {
		return err
	}
	if err := index.DeleteTransferCache(ctx, cached.ID); err != nil {
		return err
	}
	s.logger.Printf("Name %q transferred to %s", name, newOwner)
	return queue.Queue(ctx, name)
}
