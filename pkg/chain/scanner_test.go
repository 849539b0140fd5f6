// Copyright 2025 Nomen Protocol
//
// Unit tests for the chain scanner, committer, and reorg rewind, using a
// scripted fake of the Bitcoin RPC surface

package chain

import (
	"context"
	"fmt"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/nomenproto/nomen-indexer/pkg/config"
	"github.com/nomenproto/nomen-indexer/pkg/core"
	"github.com/nomenproto/nomen-indexer/pkg/database"
)

// ============================================================================
// FAKE RPC
// ============================================================================

type fakeBlock struct {
	hash    chainhash.Hash
	header  btcjson.GetBlockHeaderVerboseResult
	verbose btcjson.GetBlockVerboseResult
	block   *wire.MsgBlock
}

type fakeRPC struct {
	byHeight map[int64]*fakeBlock
	byHash   map[chainhash.Hash]*fakeBlock
}

func newFakeRPC() *fakeRPC {
	return &fakeRPC{
		byHeight: make(map[int64]*fakeBlock),
		byHash:   make(map[chainhash.Hash]*fakeBlock),
	}
}

func (f *fakeRPC) GetBlockHash(height int64) (*chainhash.Hash, error) {
	b, ok := f.byHeight[height]
	if !ok {
		return nil, fmt.Errorf("block not found at height %d", height)
	}
	h := b.hash
	return &h, nil
}

func (f *fakeRPC) GetBlockHeaderVerbose(hash *chainhash.Hash) (*btcjson.GetBlockHeaderVerboseResult, error) {
	b, ok := f.byHash[*hash]
	if !ok {
		return nil, fmt.Errorf("header not found for %s", hash)
	}
	header := b.header
	return &header, nil
}

func (f *fakeRPC) GetBlock(hash *chainhash.Hash) (*wire.MsgBlock, error) {
	b, ok := f.byHash[*hash]
	if !ok {
		return nil, fmt.Errorf("block not found for %s", hash)
	}
	return b.block, nil
}

func (f *fakeRPC) GetBlockVerbose(hash *chainhash.Hash) (*btcjson.GetBlockVerboseResult, error) {
	b, ok := f.byHash[*hash]
	if !ok {
		return nil, fmt.Errorf("block info not found for %s", hash)
	}
	verbose := b.verbose
	return &verbose, nil
}

// addBlock registers a block on the active chain, wiring prev/next links
// and recomputing confirmations against the current tip.
func (f *fakeRPC) addBlock(height int64, txs ...*wire.MsgTx) *fakeBlock {
	hash := chainhash.HashH([]byte(fmt.Sprintf("active-block-%d", height)))

	b := &fakeBlock{
		hash: hash,
		header: btcjson.GetBlockHeaderVerboseResult{
			Hash:   hash.String(),
			Height: int32(height),
			Time:   1700000000 + height,
		},
		verbose: btcjson.GetBlockVerboseResult{
			Hash:   hash.String(),
			Height: height,
		},
		block: &wire.MsgBlock{Transactions: txs},
	}

	if prev, ok := f.byHeight[height-1]; ok {
		prev.header.NextHash = hash.String()
		prev.verbose.NextHash = hash.String()
		b.header.PreviousHash = prev.hash.String()
		b.verbose.PreviousHash = prev.hash.String()
	}

	f.byHeight[height] = b
	f.byHash[hash] = b

	var tip int64
	for h := range f.byHeight {
		if h > tip {
			tip = h
		}
	}
	for h, blk := range f.byHeight {
		blk.header.Confirmations = tip - h + 1
		blk.verbose.Confirmations = tip - h + 1
	}
	return b
}

// addStaleBlock registers a block reachable only by hash, as a reorged-out
// ancestor is.
func (f *fakeRPC) addStaleBlock(height int64, confirmations int64, prevHash string) *fakeBlock {
	hash := chainhash.HashH([]byte(fmt.Sprintf("stale-block-%d", height)))
	b := &fakeBlock{
		hash: hash,
		verbose: btcjson.GetBlockVerboseResult{
			Hash:          hash.String(),
			Height:        height,
			Confirmations: confirmations,
			PreviousHash:  prevHash,
		},
	}
	f.byHash[hash] = b
	return b
}

// ============================================================================
// TEST HELPERS
// ============================================================================

func testConfig() *config.Config {
	return &config.Config{
		RPC:    config.RPCConfig{Network: "regtest", Port: 18443},
		Server: config.ServerConfig{Confirmations: 3},
	}
}

func newScannerTest(t *testing.T) (*database.Client, *fakeRPC, *Scanner) {
	t.Helper()
	client, err := database.NewClient(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	if err := client.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	rpc := newFakeRPC()
	return client, rpc, NewScanner(rpc, client, testConfig())
}

func opReturnTx(t *testing.T, lockTime uint32, payloads ...[]byte) *wire.MsgTx {
	t.Helper()
	tx := &wire.MsgTx{Version: 2, LockTime: lockTime}
	for _, payload := range payloads {
		script, err := txscript.NewScriptBuilder().
			AddOp(txscript.OP_RETURN).
			AddData(payload).
			Script()
		if err != nil {
			t.Fatalf("failed to build op_return script: %v", err)
		}
		tx.TxOut = append(tx.TxOut, &wire.TxOut{PkScript: script})
	}
	return tx
}

func plainTx(lockTime uint32) *wire.MsgTx {
	return &wire.MsgTx{
		Version:  2,
		LockTime: lockTime,
		TxOut:    []*wire.TxOut{{Value: 5000, PkScript: []byte{txscript.OP_DUP, txscript.OP_HASH160}}},
	}
}

func newOwnerKey(t *testing.T) (*btcec.PrivateKey, core.XOnlyPublicKey) {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	pk, err := core.ParsePubKeySlice(schnorr.SerializePubKey(priv.PubKey()))
	if err != nil {
		t.Fatalf("failed to parse generated pubkey: %v", err)
	}
	return priv, pk
}

// seedWatermark records a healthy scanned block so the next pass starts
// just above it.
func seedWatermark(t *testing.T, client *database.Client, rpc *fakeRPC, height int64) {
	t.Helper()
	b := rpc.addBlock(height)
	repo := database.NewIndexRepository(client)
	if err := repo.InsertIndexHeight(context.Background(), height, b.hash.String()); err != nil {
		t.Fatalf("failed to seed watermark: %v", err)
	}
}

func countRows(t *testing.T, client *database.Client, table string) int64 {
	t.Helper()
	var count int64
	query := fmt.Sprintf("SELECT count(*) FROM %s;", table)
	if err := client.DB().QueryRowContext(context.Background(), query).Scan(&count); err != nil {
		t.Fatalf("failed to count %s: %v", table, err)
	}
	return count
}

// ============================================================================
// SCAN
// ============================================================================

func TestScanIndexesAnchors(t *testing.T) {
	client, rpc, scanner := newScannerTest(t)
	ctx := context.Background()
	seedWatermark(t, client, rpc, 99)

	_, alice := newOwnerKey(t)
	_, bob := newOwnerKey(t)

	rpc.addBlock(100,
		opReturnTx(t, 1, core.NewCreateBuilder(alice, "first-name").V1OpReturn()),
		plainTx(2),
	)
	rpc.addBlock(101, opReturnTx(t, 3, core.NewCreateBuilder(bob, "second-name").V1OpReturn()))
	rpc.addBlock(102, plainTx(4))
	rpc.addBlock(103, plainTx(5))
	rpc.addBlock(104, plainTx(6))

	if err := scanner.Scan(ctx); err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	if got := countRows(t, client, "blockchain_index"); got != 2 {
		t.Errorf("expected 2 anchors, got %d", got)
	}
	if got := countRows(t, client, "raw_blockchain"); got != 2 {
		t.Errorf("expected 2 raw archive rows, got %d", got)
	}

	names := database.NewNamesRepository(client)
	owner, err := names.ValidOwner(ctx, "first-name")
	if err != nil {
		t.Fatalf("failed to resolve owner: %v", err)
	}
	if owner != alice.String() {
		t.Errorf("unexpected owner for first-name: %s", owner)
	}

	// The watermark covers every block with enough confirmations, including
	// ones with no NOM outputs.
	repo := database.NewIndexRepository(client)
	next, err := repo.NextIndexHeight(ctx)
	if err != nil {
		t.Fatalf("failed to read next height: %v", err)
	}
	if next != 103 {
		t.Errorf("expected next height 103 (102 confirmed, 103+ too shallow), got %d", next)
	}
}

func TestScanStopsBelowMinConfirmations(t *testing.T) {
	client, rpc, scanner := newScannerTest(t)
	ctx := context.Background()
	seedWatermark(t, client, rpc, 99)

	_, alice := newOwnerKey(t)
	rpc.addBlock(100, opReturnTx(t, 1, core.NewCreateBuilder(alice, "shallow-name").V1OpReturn()))
	// Tip stays at 100: only 1 confirmation, below the threshold of 3.

	if err := scanner.Scan(ctx); err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	if got := countRows(t, client, "blockchain_index"); got != 0 {
		t.Errorf("unconfirmed block was indexed: %d anchors", got)
	}
	repo := database.NewIndexRepository(client)
	next, err := repo.NextIndexHeight(ctx)
	if err != nil {
		t.Fatalf("failed to read next height: %v", err)
	}
	if next != 100 {
		t.Errorf("watermark moved past an unconfirmed block: next=%d", next)
	}
}

func TestScanUpgradesV0Claim(t *testing.T) {
	client, rpc, scanner := newScannerTest(t)
	ctx := context.Background()
	seedWatermark(t, client, rpc, 99)

	_, alice := newOwnerKey(t)
	builder := core.NewCreateBuilder(alice, "hello-world")

	rpc.addBlock(100, opReturnTx(t, 1, builder.V0OpReturn()))
	rpc.addBlock(101, opReturnTx(t, 2, builder.V1OpReturn()))
	rpc.addBlock(102, plainTx(3))
	rpc.addBlock(103, plainTx(4))
	rpc.addBlock(104, plainTx(5))

	if err := scanner.Scan(ctx); err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	// The v1 create must rewrite the v0 row, not add a second anchor.
	if got := countRows(t, client, "blockchain_index"); got != 1 {
		t.Fatalf("expected 1 anchor after upgrade, got %d", got)
	}

	var (
		protocol    int64
		name        string
		blockheight int64
	)
	err := client.DB().QueryRowContext(ctx,
		"SELECT protocol, name, blockheight FROM blockchain_index;").Scan(&protocol, &name, &blockheight)
	if err != nil {
		t.Fatalf("failed to read anchor: %v", err)
	}
	if protocol != 1 || name != "hello-world" {
		t.Errorf("upgrade incomplete: protocol=%d name=%s", protocol, name)
	}
	if blockheight != 100 {
		t.Errorf("upgrade lost ordering priority: blockheight=%d", blockheight)
	}
}

func TestScanMalformedPayloadAdvancesWatermark(t *testing.T) {
	client, rpc, scanner := newScannerTest(t)
	ctx := context.Background()
	seedWatermark(t, client, rpc, 99)

	rpc.addBlock(100, opReturnTx(t, 1, []byte("NOM\x00\x10garbage")))
	rpc.addBlock(101, plainTx(2))
	rpc.addBlock(102, plainTx(3))
	rpc.addBlock(103, plainTx(4))

	if err := scanner.Scan(ctx); err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	if got := countRows(t, client, "blockchain_index"); got != 0 {
		t.Errorf("malformed payload produced anchors: %d", got)
	}
	repo := database.NewIndexRepository(client)
	next, err := repo.NextIndexHeight(ctx)
	if err != nil {
		t.Fatalf("failed to read next height: %v", err)
	}
	if next <= 100 {
		t.Errorf("watermark did not advance past the malformed output: next=%d", next)
	}
}

// ============================================================================
// TRANSFERS
// ============================================================================

func TestScanPromotesSignedTransfer(t *testing.T) {
	client, rpc, scanner := newScannerTest(t)
	ctx := context.Background()
	seedWatermark(t, client, rpc, 99)

	oldPriv, oldOwner := newOwnerKey(t)
	_, newOwner := newOwnerKey(t)

	digest := core.TransferSignatureDigest(oldOwner, "hello-world")
	sig, err := schnorr.Sign(oldPriv, digest[:])
	if err != nil {
		t.Fatalf("failed to sign transfer: %v", err)
	}
	var rawSig [core.SignatureLen]byte
	copy(rawSig[:], sig.Serialize())

	transfer := core.TransferBuilder{NewPubKey: newOwner, Name: "hello-world"}

	rpc.addBlock(100, opReturnTx(t, 1, core.NewCreateBuilder(oldOwner, "hello-world").V1OpReturn()))
	rpc.addBlock(101, opReturnTx(t, 2,
		transfer.TransferOpReturn(),
		transfer.SignatureOpReturn(rawSig),
	))
	rpc.addBlock(102, plainTx(3))
	rpc.addBlock(103, plainTx(4))
	rpc.addBlock(104, plainTx(5))

	if err := scanner.Scan(ctx); err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	names := database.NewNamesRepository(client)
	owner, err := names.ValidOwner(ctx, "hello-world")
	if err != nil {
		t.Fatalf("failed to resolve owner: %v", err)
	}
	if owner != newOwner.String() {
		t.Errorf("expected ownership to transfer, owner is %s", owner)
	}

	if got := countRows(t, client, "transfer_cache"); got != 0 {
		t.Errorf("consumed transfer still cached: %d rows", got)
	}

	queued, err := database.NewRelayIndexRepository(client).FetchQueued(ctx)
	if err != nil {
		t.Fatalf("failed to fetch outbox: %v", err)
	}
	if len(queued) != 1 || queued[0].Name != "hello-world" {
		t.Errorf("transferred name not queued for republication: %v", queued)
	}
}

func TestScanRetainsUnsignedTransfer(t *testing.T) {
	client, rpc, scanner := newScannerTest(t)
	ctx := context.Background()
	seedWatermark(t, client, rpc, 99)

	_, oldOwner := newOwnerKey(t)
	wrongPriv, _ := newOwnerKey(t)
	_, newOwner := newOwnerKey(t)

	// Signature from a key that is not the current owner must not promote.
	digest := core.TransferSignatureDigest(oldOwner, "hello-world")
	sig, err := schnorr.Sign(wrongPriv, digest[:])
	if err != nil {
		t.Fatalf("failed to sign transfer: %v", err)
	}
	var rawSig [core.SignatureLen]byte
	copy(rawSig[:], sig.Serialize())

	transfer := core.TransferBuilder{NewPubKey: newOwner, Name: "hello-world"}

	rpc.addBlock(100, opReturnTx(t, 1, core.NewCreateBuilder(oldOwner, "hello-world").V1OpReturn()))
	rpc.addBlock(101, opReturnTx(t, 2,
		transfer.TransferOpReturn(),
		transfer.SignatureOpReturn(rawSig),
	))
	rpc.addBlock(102, plainTx(3))
	rpc.addBlock(103, plainTx(4))
	rpc.addBlock(104, plainTx(5))

	if err := scanner.Scan(ctx); err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	names := database.NewNamesRepository(client)
	owner, err := names.ValidOwner(ctx, "hello-world")
	if err != nil {
		t.Fatalf("failed to resolve owner: %v", err)
	}
	if owner != oldOwner.String() {
		t.Errorf("ownership moved on an invalid signature: %s", owner)
	}
	if got := countRows(t, client, "transfer_cache"); got != 1 {
		t.Errorf("pending transfer should stay cached, got %d rows", got)
	}
}

// ============================================================================
// REORG
// ============================================================================

func TestRewindOnStaleChain(t *testing.T) {
	client, rpc, scanner := newScannerTest(t)
	ctx := context.Background()
	repo := database.NewIndexRepository(client)

	_, alice := newOwnerKey(t)

	// A healthy ancestor at 498, then two stale blocks the index followed.
	healthy := rpc.addBlock(498)
	stale499 := rpc.addStaleBlock(499, -1, healthy.hash.String())
	stale500 := rpc.addStaleBlock(500, -1, stale499.hash.String())

	if err := repo.InsertIndexHeight(ctx, 498, healthy.hash.String()); err != nil {
		t.Fatalf("failed to seed watermark: %v", err)
	}
	for height, hash := range map[int64]string{499: stale499.hash.String(), 500: stale500.hash.String()} {
		if err := repo.InsertIndexHeight(ctx, height, hash); err != nil {
			t.Fatalf("failed to seed watermark: %v", err)
		}
		anchor := &database.BlockchainIndex{
			Protocol:    1,
			Fingerprint: core.Fingerprint(fmt.Sprintf("name-%d", height)),
			Nsid:        core.NewNsid(fmt.Sprintf("name-%d", height), alice),
			Blockhash:   hash,
			Txid:        "tx",
			Blockheight: height,
		}
		if err := repo.InsertIndex(ctx, anchor); err != nil {
			t.Fatalf("failed to seed anchor: %v", err)
		}
		if err := repo.InsertRaw(ctx, &database.RawBlockchain{
			Blockhash: hash, Txid: "tx", Blockheight: height, Data: []byte{0x01},
		}); err != nil {
			t.Fatalf("failed to seed raw row: %v", err)
		}
	}

	if err := scanner.Scan(ctx); err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	for _, table := range []string{"blockchain_index", "raw_blockchain", "index_height"} {
		var remaining int64
		query := fmt.Sprintf("SELECT count(*) FROM %s WHERE blockheight >= 499;", table)
		if err := client.DB().QueryRowContext(ctx, query).Scan(&remaining); err != nil {
			t.Fatalf("failed to count %s: %v", table, err)
		}
		if remaining != 0 {
			t.Errorf("%s retains %d rows above the stale height", table, remaining)
		}
	}

	tip, _, err := repo.IndexTip(ctx)
	if err != nil {
		t.Fatalf("failed to read tip: %v", err)
	}
	if tip != 498 {
		t.Errorf("expected tip 498 after rewind, got %d", tip)
	}
}
