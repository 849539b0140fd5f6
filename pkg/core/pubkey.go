// Copyright 2025 Nomen Protocol
//
// X-only public keys and transfer signature verification

package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// PubKeyLen is the length of an x-only public key in bytes.
const PubKeyLen = 32

// SignatureLen is the length of a Schnorr signature in bytes.
const SignatureLen = 64

// XOnlyPublicKey is a 32-byte x-only secp256k1 public key.
type XOnlyPublicKey [PubKeyLen]byte

// ParsePubKeySlice validates and copies a 32-byte x-only public key.
func ParsePubKeySlice(b []byte) (XOnlyPublicKey, error) {
	var pk XOnlyPublicKey
	if len(b) != PubKeyLen {
		return pk, fmt.Errorf("invalid pubkey length %d", len(b))
	}
	if _, err := schnorr.ParsePubKey(b); err != nil {
		return pk, fmt.Errorf("failed to parse pubkey: %w", err)
	}
	copy(pk[:], b)
	return pk, nil
}

// ParsePubKey decodes a 64-character hex x-only public key.
func ParsePubKey(s string) (XOnlyPublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return XOnlyPublicKey{}, fmt.Errorf("failed to decode pubkey: %w", err)
	}
	return ParsePubKeySlice(b)
}

// String returns the key as lowercase hex.
func (pk XOnlyPublicKey) String() string {
	return hex.EncodeToString(pk[:])
}

// SchnorrKey returns the parsed curve point for signature verification.
func (pk XOnlyPublicKey) SchnorrKey() (*btcec.PublicKey, error) {
	key, err := schnorr.ParsePubKey(pk[:])
	if err != nil {
		return nil, fmt.Errorf("failed to parse pubkey: %w", err)
	}
	return key, nil
}

// TransferSignatureDigest returns the digest an outgoing owner signs to
// authorize a transfer: sha256 over hex(owner_pubkey) followed by the name.
func TransferSignatureDigest(prevOwner XOnlyPublicKey, name string) [32]byte {
	msg := prevOwner.String() + name
	return sha256.Sum256([]byte(msg))
}

// VerifyTransferSignature checks a SignatureV1 payload against the outgoing
// owner's key for the given name.
func VerifyTransferSignature(sig [SignatureLen]byte, prevOwner XOnlyPublicKey, name string) bool {
	key, err := prevOwner.SchnorrKey()
	if err != nil {
		return false
	}
	parsed, err := schnorr.ParseSignature(sig[:])
	if err != nil {
		return false
	}
	digest := TransferSignatureDigest(prevOwner, name)
	return parsed.Verify(digest[:], key)
}
