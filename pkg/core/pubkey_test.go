// Copyright 2025 Nomen Protocol
//
// Unit tests for transfer signature verification

package core

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

func TestVerifyTransferSignature(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	owner, err := ParsePubKeySlice(schnorr.SerializePubKey(priv.PubKey()))
	if err != nil {
		t.Fatalf("failed to parse generated pubkey: %v", err)
	}

	digest := TransferSignatureDigest(owner, "hello-world")
	sig, err := schnorr.Sign(priv, digest[:])
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}

	var raw [SignatureLen]byte
	copy(raw[:], sig.Serialize())

	if !VerifyTransferSignature(raw, owner, "hello-world") {
		t.Error("expected signature to verify")
	}
	if VerifyTransferSignature(raw, owner, "other-name") {
		t.Error("signature verified for the wrong name")
	}

	other, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	wrongOwner, err := ParsePubKeySlice(schnorr.SerializePubKey(other.PubKey()))
	if err != nil {
		t.Fatalf("failed to parse generated pubkey: %v", err)
	}
	if VerifyTransferSignature(raw, wrongOwner, "hello-world") {
		t.Error("signature verified under the wrong key")
	}
}

func TestTransferSignatureDigestDeterministic(t *testing.T) {
	pk := mustPubKey(t, goldenPubKey)
	a := TransferSignatureDigest(pk, "hello-world")
	b := TransferSignatureDigest(pk, "hello-world")
	if a != b {
		t.Error("digest is not deterministic")
	}
	if a == TransferSignatureDigest(pk, "hello-worle") {
		t.Error("digest does not depend on the name")
	}
}
