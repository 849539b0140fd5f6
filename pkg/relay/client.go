// Copyright 2025 Nomen Protocol
//
// Nostr relay client - thin wrapper over the configured relay set
//
// Every fetch is bounded by a deadline that closes its subscriptions when it
// fires; a relay's subscription also ends early once that relay signals the
// end of its stored events.

package relay

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// DefaultQueryTimeout bounds a subscription fetch across the relay set.
const DefaultQueryTimeout = 10 * time.Second

// Client fans queries and publishes out to every configured relay.
type Client struct {
	urls   []string
	relays []*nostr.Relay
	logger *log.Logger
}

// ClientOption is a functional option for configuring the client.
type ClientOption func(*Client)

// WithLogger sets a custom logger for the client.
func WithLogger(logger *log.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// Dial connects to the configured relays. Unreachable relays are logged
// and skipped; at least one connection is required.
func Dial(ctx context.Context, urls []string, opts ...ClientOption) (*Client, error) {
	client := &Client{
		urls:   urls,
		logger: log.New(log.Writer(), "[Relay] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(client)
	}

	for _, url := range urls {
		relay, err := nostr.RelayConnect(ctx, url)
		if err != nil {
			client.logger.Printf("Unable to connect to relay %s: %v", url, err)
			continue
		}
		client.relays = append(client.relays, relay)
	}
	if len(client.relays) == 0 {
		return nil, fmt.Errorf("failed to connect to any of %d relays", len(urls))
	}
	return client, nil
}

// Close disconnects from every relay.
func (c *Client) Close() {
	for _, relay := range c.relays {
		relay.Close()
	}
}

// FetchSince collects events of one kind with created_at >= since from all
// relays, deduplicated by event id, within the timeout.
func (c *Client) FetchSince(ctx context.Context, kind int, since int64, timeout time.Duration) ([]*nostr.Event, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ts := nostr.Timestamp(since)
	filter := nostr.Filter{
		Kinds: []int{kind},
		Since: &ts,
	}

	collected := make(chan *nostr.Event)
	done := make(chan struct{})
	active := 0

	for _, relay := range c.relays {
		sub, err := relay.Subscribe(fetchCtx, nostr.Filters{filter})
		if err != nil {
			c.logger.Printf("Subscription to %s failed: %v", relay.URL, err)
			continue
		}
		active++

		go func(sub *nostr.Subscription) {
			defer func() { done <- struct{}{} }()
			for {
				select {
				case ev, ok := <-sub.Events:
					if !ok {
						return
					}
					select {
					case collected <- ev:
					case <-fetchCtx.Done():
						return
					}
				case <-sub.EndOfStoredEvents:
					return
				case <-fetchCtx.Done():
					return
				}
			}
		}(sub)
	}

	seen := make(map[string]bool)
	var events []*nostr.Event
	for active > 0 {
		select {
		case ev := <-collected:
			if !seen[ev.ID] {
				seen[ev.ID] = true
				events = append(events, ev)
			}
		case <-done:
			active--
		}
	}
	return events, nil
}

// Publish sends an event to every relay; it succeeds if at least one relay
// accepts it.
func (c *Client) Publish(ctx context.Context, event nostr.Event) error {
	var lastErr error
	accepted := 0
	for _, relay := range c.relays {
		if err := relay.Publish(ctx, event); err != nil {
			c.logger.Printf("Publish to %s failed: %v", relay.URL, err)
			lastErr = err
			continue
		}
		accepted++
	}
	if accepted == 0 {
		return fmt.Errorf("no relay accepted event %s: %w", event.ID, lastErr)
	}
	return nil
}
