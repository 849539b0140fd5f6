// Copyright 2025 Nomen Protocol
//
// Indexer - schedules the scan / collect / publish pipeline
//
// Each tick runs the stages sequentially with per-stage error isolation:
// a failing stage is logged and the tick continues, leaving retry to the
// next tick. Shutdown is cooperative through Stop or context cancellation.

package indexer

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/nomenproto/nomen-indexer/pkg/config"
	"github.com/nomenproto/nomen-indexer/pkg/database"
)

// ScanStage is one blockchain scan pass.
type ScanStage interface {
	Scan(ctx context.Context) error
}

// CollectStage is one record-event collection pass.
type CollectStage interface {
	Pass(ctx context.Context) (int, error)
}

// PublishStage is one relay publication pass over the outbox.
type PublishStage interface {
	Pass(ctx context.Context, useQueue bool) error
}

// Indexer drives the pipeline on a periodic tick.
type Indexer struct {
	cfg       *config.Config
	client    *database.Client
	scanner   ScanStage
	collector CollectStage
	publisher PublishStage
	metrics   *Metrics
	logger    *log.Logger

	stopChan chan struct{}
	doneChan chan struct{}
	running  bool
}

// IndexerOption is a functional option for configuring the indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a custom logger for the indexer.
func WithLogger(logger *log.Logger) IndexerOption {
	return func(ix *Indexer) {
		ix.logger = logger
	}
}

// WithMetrics sets a shared metric set.
func WithMetrics(metrics *Metrics) IndexerOption {
	return func(ix *Indexer) {
		ix.metrics = metrics
	}
}

// New creates an indexer over the given stages.
func New(cfg *config.Config, client *database.Client, scanner ScanStage, collector CollectStage, publisher PublishStage, opts ...IndexerOption) *Indexer {
	ix := &Indexer{
		cfg:       cfg,
		client:    client,
		scanner:   scanner,
		collector: collector,
		publisher: publisher,
		metrics:   NewMetrics(),
		logger:    log.New(log.Writer(), "[Indexer] ", log.LstdFlags),
		stopChan:  make(chan struct{}),
		doneChan:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Metrics returns the indexer's metric set.
func (ix *Indexer) Metrics() *Metrics {
	return ix.metrics
}

// Start launches the tick loop. An immediate pass runs before the first
// delay.
func (ix *Indexer) Start(ctx context.Context) error {
	if ix.running {
		return fmt.Errorf("indexer already running")
	}
	ix.running = true

	go ix.run(ctx)
	return nil
}

// Stop requests shutdown and waits for the in-flight pass to finish.
func (ix *Indexer) Stop() {
	if !ix.running {
		return
	}
	ix.running = false
	close(ix.stopChan)
	<-ix.doneChan
}

func (ix *Indexer) run(ctx context.Context) {
	defer close(ix.doneChan)

	ticker := time.NewTicker(ix.cfg.IndexerDelay())
	defer ticker.Stop()

	for {
		ix.RunPass(ctx)

		select {
		case <-ctx.Done():
			ix.logger.Printf("Indexer loop stopped: %v", ctx.Err())
			return
		case <-ix.stopChan:
			ix.logger.Printf("Indexer loop stopped.")
			return
		case <-ticker.C:
		}
	}
}

// RunPass executes one full tick: reorg check + chain scan, event
// collection, outbox publication, and the pass marker.
func (ix *Indexer) RunPass(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	passID := uuid.New()

	if err := ix.scanner.Scan(ctx); err != nil {
		ix.logger.Printf("Indexing error: %v", err)
		ix.metrics.StageErrors.WithLabelValues("scan").Inc()
	}

	if indexed, err := ix.collector.Pass(ctx); err != nil {
		ix.logger.Printf("Event collection error: %v", err)
		ix.metrics.StageErrors.WithLabelValues("collect").Inc()
	} else {
		ix.metrics.EventsIndexed.Add(float64(indexed))
	}

	if err := ix.publisher.Pass(ctx, true); err != nil {
		ix.logger.Printf("Relay publish error: %v", err)
		ix.metrics.StageErrors.WithLabelValues("publish").Inc()
	}

	eventLog := database.NewEventLogRepository(ix.client)
	if err := eventLog.Save(ctx, "index", fmt.Sprintf(`{"pass_id":%q}`, passID)); err != nil {
		ix.logger.Printf("Event log error: %v", err)
		ix.metrics.StageErrors.WithLabelValues("event_log").Inc()
	}

	ix.metrics.IndexPasses.Inc()
	ix.metrics.LastIndexTime.SetToCurrentTime()
	ix.updateGauges(ctx)
}

// updateGauges refreshes the index-level gauges from the store.
func (ix *Indexer) updateGauges(ctx context.Context) {
	stats := database.NewStatsRepository(ix.client)

	if height, err := stats.IndexHeight(ctx); err == nil {
		ix.metrics.IndexHeight.Set(float64(height))
	}
	if names, err := stats.KnownNames(ctx); err == nil {
		ix.metrics.KnownNames.Set(float64(names))
	}
}
