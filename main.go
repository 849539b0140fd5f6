// Copyright 2025 Nomen Protocol
//
// Nomen indexer entrypoint
//
// Wires the store, chain scanner, event collector, publisher and scheduler
// together, serves health and metrics, and shuts down cooperatively on
// SIGINT/SIGTERM.

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nomenproto/nomen-indexer/pkg/chain"
	"github.com/nomenproto/nomen-indexer/pkg/config"
	"github.com/nomenproto/nomen-indexer/pkg/database"
	"github.com/nomenproto/nomen-indexer/pkg/events"
	"github.com/nomenproto/nomen-indexer/pkg/indexer"
)

// version is set at build time.
var version = "dev"

func main() {
	var (
		configPath  = flag.String("config", "nomen.toml", "path to the TOML config file")
		initConfig  = flag.Bool("init", false, "print an example config file and exit")
		rescan      = flag.Int64("rescan", -1, "truncate the watermark from this height and exit")
		rebroadcast = flag.Bool("rebroadcast", false, "publish the full relay index once and exit")
		once        = flag.Bool("once", false, "run a single index pass and exit")
		showVersion = flag.Bool("version", false, "print the version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("nomen-indexer %s\n", version)
		return
	}
	if *initConfig {
		fmt.Print(config.Example())
		return
	}

	if err := run(*configPath, *rescan, *rebroadcast, *once); err != nil {
		log.Fatalf("[Main] Fatal: %v", err)
	}
}

func run(configPath string, rescan int64, rebroadcast, once bool) error {
	logger := log.New(log.Writer(), "[Main] ", log.LstdFlags)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	client, err := database.NewClient(cfg.Data)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := client.Migrate(ctx); err != nil {
		return err
	}
	logger.Printf("Database ready at %s", cfg.Data)

	if rescan >= 0 {
		logger.Printf("Re-scanning blockchain from blockheight %d.", rescan)
		return database.NewIndexRepository(client).Rescan(ctx, rescan)
	}

	collector := events.NewCollector(client, cfg)
	publisher := events.NewPublisher(client, cfg)

	if rebroadcast {
		logger.Printf("Publishing full relay index.")
		return publisher.Pass(ctx, false)
	}

	rpc, err := chain.NewRPCClient(cfg)
	if err != nil {
		return err
	}
	defer rpc.Shutdown()

	scanner := chain.NewScanner(rpc, client, cfg)
	ix := indexer.New(cfg, client, scanner, collector, publisher)

	if once {
		ix.RunPass(ctx)
		return nil
	}

	srv := serveOps(cfg, client, ix, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if !cfg.IndexerEnabled() {
		logger.Printf("Indexer disabled by configuration; serving ops endpoints only.")
		<-ctx.Done()
		return nil
	}

	if err := ix.Start(ctx); err != nil {
		return err
	}
	logger.Printf("Indexer started (delay %s, network %s)", cfg.IndexerDelay(), cfg.RPC.Network)

	<-ctx.Done()
	logger.Printf("Shutdown requested.")
	ix.Stop()
	logger.Printf("Shutdown complete.")
	return nil
}

// healthStatus is the /health response body.
type healthStatus struct {
	Status      string `json:"status"`
	Database    string `json:"database"`
	IndexHeight int64  `json:"index_height"`
	KnownNames  int64  `json:"known_names"`
	LastIndexAt int64  `json:"last_index_at,omitempty"`
	Version     string `json:"version"`
}

// serveOps starts the health and metrics HTTP listener.
func serveOps(cfg *config.Config, client *database.Client, ix *indexer.Indexer, logger *log.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", ix.Metrics().Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		stats := database.NewStatsRepository(client)
		eventLog := database.NewEventLogRepository(client)

		status := healthStatus{Status: "ok", Database: "connected", Version: version}
		if err := client.Ping(r.Context()); err != nil {
			status.Status = "error"
			status.Database = "disconnected"
		}
		status.IndexHeight, _ = stats.IndexHeight(r.Context())
		status.KnownNames, _ = stats.KnownNames(r.Context())
		if last, err := eventLog.LastIndexTime(r.Context()); err == nil {
			status.LastIndexAt = last
		}

		w.Header().Set("Content-Type", "application/json")
		if status.Status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(status)
	})

	srv := &http.Server{Addr: cfg.Server.MetricsBind, Handler: mux}
	go func() {
		logger.Printf("Ops endpoints listening on %s", cfg.Server.MetricsBind)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("Ops server error: %v", err)
		}
	}()
	return srv
}
