// Copyright 2025 Nomen Protocol
//
// Builders for the OP_RETURN payloads a claim or transfer needs

package core

// CreateBuilder assembles claim payloads for a (pubkey, name) pair.
type CreateBuilder struct {
	PubKey XOnlyPublicKey
	Name   string
}

// NewCreateBuilder creates a builder for the given owner and name.
func NewCreateBuilder(pubkey XOnlyPublicKey, name string) CreateBuilder {
	return CreateBuilder{PubKey: pubkey, Name: name}
}

// V0OpReturn returns the legacy hash-only claim payload.
func (b CreateBuilder) V0OpReturn() []byte {
	return CreateV0{
		Fingerprint: Fingerprint(b.Name),
		Nsid:        NewNsid(b.Name, b.PubKey),
	}.Serialize()
}

// V1OpReturn returns the claim payload carrying the key and plain name.
func (b CreateBuilder) V1OpReturn() []byte {
	return CreateV1{PubKey: b.PubKey, Name: b.Name}.Serialize()
}

// TransferBuilder assembles the payload pair for an ownership transfer.
type TransferBuilder struct {
	NewPubKey XOnlyPublicKey
	Name      string
}

// TransferOpReturn returns the payload announcing the new owner.
func (b TransferBuilder) TransferOpReturn() []byte {
	return TransferV1{PubKey: b.NewPubKey, Name: b.Name}.Serialize()
}

// SignatureOpReturn wraps a provided signature from the outgoing owner.
func (b TransferBuilder) SignatureOpReturn(sig [SignatureLen]byte) []byte {
	return SignatureV1{Signature: sig}.Serialize()
}
