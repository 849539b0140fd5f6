// Copyright 2025 Nomen Protocol
//
// Publisher - rebroadcasts authoritative record sets as kind-38301 events
// under the indexer's key, consuming the outbox

package events

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"

	"github.com/nomenproto/nomen-indexer/pkg/config"
	"github.com/nomenproto/nomen-indexer/pkg/database"
	"github.com/nomenproto/nomen-indexer/pkg/relay"
)

// EventSink is the write side of a relay connection.
type EventSink interface {
	Publish(ctx context.Context, event nostr.Event) error
}

// SinkDialer opens a relay connection for one publish pass. The returned
// func closes it.
type SinkDialer func(ctx context.Context) (EventSink, func(), error)

// Publisher drains the relay index outbox.
type Publisher struct {
	client *database.Client
	cfg    *config.Config
	dial   SinkDialer
	logger *log.Logger
}

// PublisherOption is a functional option for configuring the publisher.
type PublisherOption func(*Publisher)

// WithPublisherLogger sets a custom logger for the publisher.
func WithPublisherLogger(logger *log.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithSinkDialer overrides how the publisher reaches relays.
func WithSinkDialer(dial SinkDialer) PublisherOption {
	return func(p *Publisher) {
		p.dial = dial
	}
}

// NewPublisher creates a publisher over the configured relay set.
func NewPublisher(client *database.Client, cfg *config.Config, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		client: client,
		cfg:    cfg,
		logger: log.New(log.Writer(), "[Publisher] ", log.LstdFlags),
	}
	p.dial = func(ctx context.Context) (EventSink, func(), error) {
		conn, err := relay.Dial(ctx, cfg.Nostr.Relays)
		if err != nil {
			return nil, nil, err
		}
		return conn, conn.Close, nil
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// indexContent is the published projection for one name.
type indexContent struct {
	Name    string          `json:"name"`
	PubKey  string          `json:"pubkey"`
	Records json.RawMessage `json:"records"`
}

// Pass publishes either the queued names (the normal tick) or the full
// valid-names projection (an explicit rebroadcast). Queue rows are removed
// only on a confirmed send; failures stay queued for the next tick.
func (p *Publisher) Pass(ctx context.Context, useQueue bool) error {
	if !p.cfg.PublishEnabled() {
		return nil
	}

	secret, err := decodeSecret(p.cfg.Nostr.Secret)
	if err != nil {
		return fmt.Errorf("failed to decode publisher secret: %w", err)
	}

	queue := database.NewRelayIndexRepository(p.client)

	var names []database.PublishableName
	if useQueue {
		names, err = queue.FetchQueued(ctx)
	} else {
		names, err = queue.FetchAll(ctx)
	}
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return nil
	}

	p.logger.Printf("Publishing relay index for %d names.", len(names))

	sink, closeSink, err := p.dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to reach relays: %w", err)
	}
	defer closeSink()

	for _, name := range names {
		event, err := buildIndexEvent(secret, name)
		if err != nil {
			p.logger.Printf("Unable to build index event for %s: %v", name.Name, err)
			continue
		}

		if err := sink.Publish(ctx, event); err != nil {
			p.logger.Printf("Unable to broadcast event %s during relay index publish: %v", event.ID, err)
			continue
		}

		p.logger.Printf("Broadcast event id %s", event.ID)
		if err := queue.Delete(ctx, name.Name); err != nil {
			return err
		}
	}

	p.logger.Printf("Publishing relay index complete.")
	return nil
}

// buildIndexEvent wraps one name's projection in a signed
// parameterized-replaceable event with the name as its d tag.
func buildIndexEvent(secret string, name database.PublishableName) (nostr.Event, error) {
	content, err := json.Marshal(indexContent{
		Name:    name.Name,
		PubKey:  name.PubKey,
		Records: json.RawMessage(name.Records),
	})
	if err != nil {
		return nostr.Event{}, fmt.Errorf("failed to encode content: %w", err)
	}

	event := nostr.Event{
		CreatedAt: nostr.Now(),
		Kind:      KindRelayIndex,
		Tags:      nostr.Tags{{"d", name.Name}},
		Content:   string(content),
	}
	if err := event.Sign(secret); err != nil {
		return nostr.Event{}, fmt.Errorf("failed to sign event: %w", err)
	}
	return event, nil
}

// decodeSecret accepts the indexer secret as bech32 nsec or raw hex.
func decodeSecret(secret string) (string, error) {
	if strings.HasPrefix(secret, "nsec") {
		prefix, value, err := nip19.Decode(secret)
		if err != nil {
			return "", fmt.Errorf("failed to decode nsec: %w", err)
		}
		if prefix != "nsec" {
			return "", fmt.Errorf("unexpected bech32 prefix %q", prefix)
		}
		return value.(string), nil
	}

	raw, err := hex.DecodeString(secret)
	if err != nil || len(raw) != 32 {
		return "", fmt.Errorf("secret is neither nsec nor 32-byte hex")
	}
	return secret, nil
}
