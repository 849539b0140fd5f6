// Copyright 2025 Nomen Protocol
//
// OP_RETURN payload codec - the on-chain wire format
//
// Every payload is the 3-byte magic "NOM", a protocol version byte, a kind
// byte, and a variant-specific body.

package core

import (
	"bytes"
	"errors"
	"fmt"
)

// Magic is the payload prefix carried in every Nomen OP_RETURN.
var Magic = []byte("NOM")

// Protocol versions and kinds as they appear on the wire.
const (
	ProtocolV0 byte = 0x00
	ProtocolV1 byte = 0x01

	KindCreate    byte = 0x00
	KindTransfer  byte = 0x01
	KindSignature byte = 0x02
)

// ErrNotNomen marks data that does not begin with the NOM magic.
var ErrNotNomen = errors.New("not a nomen payload")

// ErrMalformedPayload marks data that begins with NOM but does not decode.
var ErrMalformedPayload = errors.New("malformed nomen payload")

// Payload is one of the decoded OP_RETURN variants.
type Payload interface {
	// Serialize returns the full wire bytes including magic, version and kind.
	Serialize() []byte
}

// CreateV0 is the legacy claim payload carrying only hashes.
type CreateV0 struct {
	Fingerprint [FingerprintLen]byte
	Nsid        Nsid
}

// Serialize returns the wire encoding NOM 0x00 0x00 fingerprint nsid.
func (c CreateV0) Serialize() []byte {
	out := make([]byte, 0, 5+FingerprintLen+NsidLen)
	out = append(out, Magic...)
	out = append(out, ProtocolV0, KindCreate)
	out = append(out, c.Fingerprint[:]...)
	out = append(out, c.Nsid[:]...)
	return out
}

// CreateV1 is a claim payload carrying the owner key and the plain name.
type CreateV1 struct {
	PubKey XOnlyPublicKey
	Name   string
}

// Serialize returns the wire encoding NOM 0x01 0x00 pubkey name.
func (c CreateV1) Serialize() []byte {
	out := make([]byte, 0, 5+PubKeyLen+len(c.Name))
	out = append(out, Magic...)
	out = append(out, ProtocolV1, KindCreate)
	out = append(out, c.PubKey[:]...)
	out = append(out, []byte(c.Name)...)
	return out
}

// Fingerprint returns the fingerprint of the embedded name.
func (c CreateV1) Fingerprint() [FingerprintLen]byte {
	return Fingerprint(c.Name)
}

// Nsid returns the NSID derived from the embedded name and key.
func (c CreateV1) Nsid() Nsid {
	return NewNsid(c.Name, c.PubKey)
}

// TransferV1 announces a new owner key for a name.
type TransferV1 struct {
	PubKey XOnlyPublicKey // new owner
	Name   string
}

// Serialize returns the wire encoding NOM 0x01 0x01 pubkey name.
func (t TransferV1) Serialize() []byte {
	out := make([]byte, 0, 5+PubKeyLen+len(t.Name))
	out = append(out, Magic...)
	out = append(out, ProtocolV1, KindTransfer)
	out = append(out, t.PubKey[:]...)
	out = append(out, []byte(t.Name)...)
	return out
}

// Fingerprint returns the fingerprint of the embedded name.
func (t TransferV1) Fingerprint() [FingerprintLen]byte {
	return Fingerprint(t.Name)
}

// Nsid returns the NSID derived from the embedded name and the new owner.
func (t TransferV1) Nsid() Nsid {
	return NewNsid(t.Name, t.PubKey)
}

// SignatureV1 carries the outgoing owner's authorization for a transfer.
type SignatureV1 struct {
	Signature [SignatureLen]byte
}

// Serialize returns the wire encoding NOM 0x01 0x02 signature.
func (s SignatureV1) Serialize() []byte {
	out := make([]byte, 0, 5+SignatureLen)
	out = append(out, Magic...)
	out = append(out, ProtocolV1, KindSignature)
	out = append(out, s.Signature[:]...)
	return out
}

// ParsePayload classifies and decodes raw OP_RETURN push data. It returns
// ErrNotNomen for data without the NOM magic and wraps ErrMalformedPayload
// for data that carries the magic but does not decode.
func ParsePayload(data []byte) (Payload, error) {
	if !bytes.HasPrefix(data, Magic) {
		return nil, ErrNotNomen
	}
	if len(data) < 5 {
		return nil, fmt.Errorf("%w: truncated header", ErrMalformedPayload)
	}

	version, kind := data[3], data[4]
	body := data[5:]

	switch {
	case version == ProtocolV0 && kind == KindCreate:
		return parseCreateV0(body)
	case version == ProtocolV1 && kind == KindCreate:
		pk, name, err := parseKeyAndName(body)
		if err != nil {
			return nil, err
		}
		return CreateV1{PubKey: pk, Name: name}, nil
	case version == ProtocolV1 && kind == KindTransfer:
		pk, name, err := parseKeyAndName(body)
		if err != nil {
			return nil, err
		}
		return TransferV1{PubKey: pk, Name: name}, nil
	case version == ProtocolV1 && kind == KindSignature:
		return parseSignatureV1(body)
	default:
		return nil, fmt.Errorf("%w: unknown version/kind %#02x/%#02x", ErrMalformedPayload, version, kind)
	}
}

func parseCreateV0(body []byte) (Payload, error) {
	if len(body) != FingerprintLen+NsidLen {
		return nil, fmt.Errorf("%w: create v0 body length %d", ErrMalformedPayload, len(body))
	}

	var c CreateV0
	copy(c.Fingerprint[:], body[:FingerprintLen])
	copy(c.Nsid[:], body[FingerprintLen:])
	return c, nil
}

func parseKeyAndName(body []byte) (XOnlyPublicKey, string, error) {
	if len(body) <= PubKeyLen {
		return XOnlyPublicKey{}, "", fmt.Errorf("%w: missing name", ErrMalformedPayload)
	}
	pk, err := ParsePubKeySlice(body[:PubKeyLen])
	if err != nil {
		return XOnlyPublicKey{}, "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	name, err := ParseName(string(body[PubKeyLen:]))
	if err != nil {
		return XOnlyPublicKey{}, "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return pk, name.String(), nil
}

func parseSignatureV1(body []byte) (Payload, error) {
	if len(body) != SignatureLen {
		return nil, fmt.Errorf("%w: signature body length %d", ErrMalformedPayload, len(body))
	}

	var s SignatureV1
	copy(s.Signature[:], body)
	return s, nil
}
