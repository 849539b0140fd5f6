// Copyright 2025 Nomen Protocol
//
// NSID - the 20-byte name identifier derived from (name, pubkey)

package core

import (
	"encoding/hex"
	"fmt"
)

// NsidLen is the length of an NSID in bytes.
const NsidLen = 20

// Nsid is the HASH160 of name bytes followed by x-only pubkey bytes.
type Nsid [NsidLen]byte

// NsidFromSlice copies a 20-byte slice into an Nsid.
func NsidFromSlice(b []byte) (Nsid, error) {
	var n Nsid
	if len(b) != NsidLen {
		return n, fmt.Errorf("invalid nsid length %d", len(b))
	}
	copy(n[:], b)
	return n, nil
}

// ParseNsid decodes a 40-character hex NSID.
func ParseNsid(s string) (Nsid, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Nsid{}, fmt.Errorf("failed to decode nsid: %w", err)
	}
	return NsidFromSlice(b)
}

// String returns the NSID as lowercase hex.
func (n Nsid) String() string {
	return hex.EncodeToString(n[:])
}

// NewNsid derives the NSID for a name owned by pubkey.
func NewNsid(name string, pubkey XOnlyPublicKey) Nsid {
	h := NewHash160()
	h.Update([]byte(name))
	h.Update(pubkey[:])
	return Nsid(h.Finalize())
}
