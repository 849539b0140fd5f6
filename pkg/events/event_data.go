// Copyright 2025 Nomen Protocol
//
// EventData - a record event unpacked from the wire and bound to its
// claimed identity
//
// The nsid check below is the only thing binding off-chain records to the
// on-chain (name, pubkey) identity; the join against anchors happens later
// in the store's views.

package events

import (
	"encoding/json"
	"fmt"

	"github.com/nbd-wtf/go-nostr"

	"github.com/nomenproto/nomen-indexer/pkg/core"
	"github.com/nomenproto/nomen-indexer/pkg/database"
)

// Nostr event kinds used by the protocol. Both are parameterized-replaceable.
const (
	// KindNameRecord carries a name's records, signed by the owner.
	KindNameRecord = 38300
	// KindRelayIndex carries the indexer's republished projection.
	KindRelayIndex = 38301
)

// EventData is a record event decomposed for validation and storage.
type EventData struct {
	EventID        string
	Fingerprint    [core.FingerprintLen]byte
	Nsid           core.Nsid // from the d tag
	CalculatedNsid core.Nsid // recomputed from (name, pubkey)
	PubKey         core.XOnlyPublicKey
	Name           core.Name
	CreatedAt      int64
	RawContent     string
	Records        map[string]string
	RawEvent       string
}

// NewEventData unpacks a kind-38300 event. The d tag is the presumed nsid,
// the nom tag the name, and the content an optional record map.
func NewEventData(event *nostr.Event) (*EventData, error) {
	dTag := event.Tags.GetFirst([]string{"d"})
	if dTag == nil {
		return nil, fmt.Errorf("event %s has no d tag", event.ID)
	}
	nsid, err := core.ParseNsid(dTag.Value())
	if err != nil {
		return nil, fmt.Errorf("event %s d tag: %w", event.ID, err)
	}

	nomTag := event.Tags.GetFirst([]string{"nom"})
	if nomTag == nil {
		return nil, fmt.Errorf("event %s has no nom tag", event.ID)
	}
	name, err := core.ParseName(nomTag.Value())
	if err != nil {
		return nil, fmt.Errorf("event %s nom tag: %w", event.ID, err)
	}

	pubkey, err := core.ParsePubKey(event.PubKey)
	if err != nil {
		return nil, fmt.Errorf("event %s pubkey: %w", event.ID, err)
	}

	// Absent or non-object content means an empty record set.
	var records map[string]string
	if err := json.Unmarshal([]byte(event.Content), &records); err != nil {
		records = nil
	}

	raw, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to re-serialize event %s: %w", event.ID, err)
	}

	return &EventData{
		EventID:        event.ID,
		Fingerprint:    core.Fingerprint(name.String()),
		Nsid:           nsid,
		CalculatedNsid: core.NewNsid(name.String(), pubkey),
		PubKey:         pubkey,
		Name:           name,
		CreatedAt:      int64(event.CreatedAt),
		RawContent:     event.Content,
		Records:        records,
		RawEvent:       string(raw),
	}, nil
}

// Validate requires the d-tag nsid to match the one recomputed from the
// name and signing key.
func (d *EventData) Validate() error {
	if d.Nsid != d.CalculatedNsid {
		return fmt.Errorf("event %s nsid %s does not match calculated %s", d.EventID, d.Nsid, d.CalculatedNsid)
	}
	return nil
}

// NameEvent converts the validated event into its storage row. The stored
// nsid is the calculated one, and unusable content is stored as an empty
// record map so the views always hold a JSON object.
func (d *EventData) NameEvent() *database.NameEvent {
	records := d.RawContent
	if d.Records == nil {
		records = "{}"
	}
	return &database.NameEvent{
		Name:        d.Name.String(),
		Fingerprint: d.Fingerprint,
		Nsid:        d.CalculatedNsid,
		PubKey:      d.PubKey.String(),
		CreatedAt:   d.CreatedAt,
		EventID:     d.EventID,
		Records:     records,
		RawEvent:    d.RawEvent,
	}
}
