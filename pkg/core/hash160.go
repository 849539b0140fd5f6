// Copyright 2025 Nomen Protocol
//
// HASH160 primitive - ripemd160(sha256(x)) used for all name hashing

package core

import (
	"crypto/sha256"
	"hash"

	"golang.org/x/crypto/ripemd160"
)

// FingerprintLen is the length of a name fingerprint in bytes.
const FingerprintLen = 5

// Hash160 is a streaming ripemd160-over-sha256 hasher.
type Hash160 struct {
	inner hash.Hash
}

// NewHash160 creates a new HASH160 hasher.
func NewHash160() *Hash160 {
	return &Hash160{inner: sha256.New()}
}

// Update feeds data into the hasher.
func (h *Hash160) Update(data []byte) {
	h.inner.Write(data)
}

// ChainUpdate feeds data into the hasher and returns it for chaining.
func (h *Hash160) ChainUpdate(data []byte) *Hash160 {
	h.Update(data)
	return h
}

// Finalize returns the 20-byte ripemd160(sha256(input)) digest.
func (h *Hash160) Finalize() [20]byte {
	sum := h.inner.Sum(nil)
	outer := ripemd160.New()
	outer.Write(sum)

	var digest [20]byte
	copy(digest[:], outer.Sum(nil))
	return digest
}

// Fingerprint returns the first five bytes of the digest.
func (h *Hash160) Fingerprint() [FingerprintLen]byte {
	digest := h.Finalize()

	var fp [FingerprintLen]byte
	copy(fp[:], digest[:FingerprintLen])
	return fp
}

// Hash160Digest computes the HASH160 of a single byte slice.
func Hash160Digest(data []byte) [20]byte {
	return NewHash160().ChainUpdate(data).Finalize()
}

// Hash160Slices computes the HASH160 of the concatenation of several slices.
func Hash160Slices(data ...[]byte) [20]byte {
	h := NewHash160()
	for _, d := range data {
		h.Update(d)
	}
	return h.Finalize()
}

// Fingerprint computes the 5-byte fingerprint of a name.
func Fingerprint(name string) [FingerprintLen]byte {
	return NewHash160().ChainUpdate([]byte(name)).Fingerprint()
}
