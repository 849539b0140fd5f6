// Copyright 2025 Nomen Protocol
//
// Unit tests for config loading

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nomen.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
[rpc]
port = 8332
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Data != "nomen.db" {
		t.Errorf("unexpected data path: %s", cfg.Data)
	}
	if cfg.RPC.Host != "127.0.0.1" {
		t.Errorf("unexpected rpc host: %s", cfg.RPC.Host)
	}
	if cfg.Server.Confirmations != 3 {
		t.Errorf("unexpected confirmations: %d", cfg.Server.Confirmations)
	}
	if cfg.IndexerDelay() != 30*time.Second {
		t.Errorf("unexpected indexer delay: %s", cfg.IndexerDelay())
	}
	if !cfg.IndexerEnabled() {
		t.Error("indexer should default to enabled")
	}
	if cfg.PublishEnabled() {
		t.Error("publisher should default to disabled")
	}
	if len(cfg.Nostr.Relays) == 0 {
		t.Error("expected default relays")
	}
}

func TestStartingBlockHeight(t *testing.T) {
	cases := map[string]int64{
		"mainnet": 790500,
		"signet":  143500,
		"regtest": 0,
		"testnet": 0,
	}
	for network, want := range cases {
		cfg := &Config{RPC: RPCConfig{Network: network}}
		if got := cfg.StartingBlockHeight(); got != want {
			t.Errorf("%s: expected %d, got %d", network, want, got)
		}
	}
}

func TestLoadValidation(t *testing.T) {
	if _, err := Load(writeConfig(t, "")); err == nil {
		t.Error("expected error for missing rpc.port")
	}

	if _, err := Load(writeConfig(t, `
[rpc]
port = 8332
network = "moonnet"
`)); err == nil {
		t.Error("expected error for unknown network")
	}

	if _, err := Load(writeConfig(t, `
[rpc]
port = 8332

[nostr]
publish = true
`)); err == nil {
		t.Error("expected error for publish without secret")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("NOMEN_RPC_HOST", "10.0.0.7")
	t.Setenv("NOMEN_RPC_PORT", "18443")
	t.Setenv("NOMEN_RPC_NETWORK", "regtest")

	cfg, err := Load(writeConfig(t, `
[rpc]
port = 8332
host = "localhost"
`))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.RPCHostPort() != "10.0.0.7:18443" {
		t.Errorf("env override not applied: %s", cfg.RPCHostPort())
	}
	if cfg.StartingBlockHeight() != 0 {
		t.Errorf("regtest should start at 0, got %d", cfg.StartingBlockHeight())
	}
}
