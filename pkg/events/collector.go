// Copyright 2025 Nomen Protocol
//
// Event Collector - pulls record events from the relays and reconciles
// them into the name_events table

package events

import (
	"context"
	"log"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/nomenproto/nomen-indexer/pkg/config"
	"github.com/nomenproto/nomen-indexer/pkg/database"
	"github.com/nomenproto/nomen-indexer/pkg/relay"
)

// EventSource is the read side of a relay connection.
type EventSource interface {
	FetchSince(ctx context.Context, kind int, since int64, timeout time.Duration) ([]*nostr.Event, error)
}

// SourceDialer opens an ephemeral relay connection for one pass. The
// returned func closes it.
type SourceDialer func(ctx context.Context) (EventSource, func(), error)

// Collector runs one record-event indexing pass per invocation.
type Collector struct {
	client *database.Client
	dial   SourceDialer
	logger *log.Logger
}

// CollectorOption is a functional option for configuring the collector.
type CollectorOption func(*Collector)

// WithCollectorLogger sets a custom logger for the collector.
func WithCollectorLogger(logger *log.Logger) CollectorOption {
	return func(c *Collector) {
		c.logger = logger
	}
}

// WithSourceDialer overrides how the collector reaches relays.
func WithSourceDialer(dial SourceDialer) CollectorOption {
	return func(c *Collector) {
		c.dial = dial
	}
}

// NewCollector creates a collector over the configured relay set.
func NewCollector(client *database.Client, cfg *config.Config, opts ...CollectorOption) *Collector {
	c := &Collector{
		client: client,
		logger: log.New(log.Writer(), "[Events] ", log.LstdFlags),
	}
	c.dial = func(ctx context.Context) (EventSource, func(), error) {
		conn, err := relay.Dial(ctx, cfg.Nostr.Relays)
		if err != nil {
			return nil, nil, err
		}
		return conn, conn.Close, nil
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Pass fetches record events newer than the stored watermark, validates
// each against its claimed identity, and upserts the survivors. Returns
// how many events were stored or refreshed.
func (c *Collector) Pass(ctx context.Context) (int, error) {
	c.logger.Printf("Beginning indexing record events.")

	eventsRepo := database.NewNameEventsRepository(c.client)
	queue := database.NewRelayIndexRepository(c.client)

	since, err := eventsRepo.LastRecordsTime(ctx)
	if err != nil {
		return 0, err
	}

	source, closeSource, err := c.dial(ctx)
	if err != nil {
		// Unreachable relays mean zero events, not a failed pass.
		c.logger.Printf("Unable to reach relays: %v", err)
		return 0, nil
	}
	defer closeSource()

	received, err := source.FetchSince(ctx, KindNameRecord, since, relay.DefaultQueryTimeout)
	if err != nil {
		c.logger.Printf("Relay query failed: %v", err)
		return 0, nil
	}

	indexed := 0
	for _, event := range received {
		data, err := NewEventData(event)
		if err != nil {
			c.logger.Printf("Invalid event: %v", err)
			continue
		}
		if err := data.Validate(); err != nil {
			c.logger.Printf("Rejecting event: %v", err)
			continue
		}

		changed, err := eventsRepo.Upsert(ctx, data.NameEvent())
		if err != nil {
			return indexed, err
		}
		if changed {
			indexed++
			if err := queue.Queue(ctx, data.Name.String()); err != nil {
				return indexed, err
			}
		}
	}

	c.logger.Printf("Records events indexing complete (%d stored).", indexed)
	return indexed, nil
}
