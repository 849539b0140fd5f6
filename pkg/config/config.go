// Copyright 2025 Nomen Protocol
//
// Configuration for the Nomen indexer
// Loaded once at startup from a TOML file with environment overrides;
// immutable afterwards and shared read-only by every subsystem.

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Per-network block heights below which no Nomen claim exists.
const (
	mainnetStartHeight = 790500
	signetStartHeight  = 143500
)

// defaultRelays is used when no relays are configured.
var defaultRelays = []string{
	"wss://relay.damus.io",
	"wss://relay.snort.social",
	"wss://nos.lol",
	"wss://nostr.orangepill.dev",
}

// Config holds all configuration for the indexer.
type Config struct {
	// Data is the path of the local index database file.
	Data string `toml:"data"`

	Nostr  NostrConfig  `toml:"nostr"`
	Server ServerConfig `toml:"server"`
	RPC    RPCConfig    `toml:"rpc"`
}

// RPCConfig describes the Bitcoin Core RPC endpoint.
type RPCConfig struct {
	Cookie   string `toml:"cookie"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Network  string `toml:"network"` // mainnet, testnet, signet, regtest
}

// NostrConfig describes the relay set and publishing identity.
type NostrConfig struct {
	Relays    []string `toml:"relays"`
	Secret    string   `toml:"secret"` // hex or nsec; the publisher runs only with this set and publish = true
	Publish   bool     `toml:"publish"`
	WellKnown bool     `toml:"well_known"`
}

// ServerConfig describes the indexer runtime options.
type ServerConfig struct {
	Bind          string `toml:"bind"`
	MetricsBind   string `toml:"metrics_bind"`
	Confirmations int    `toml:"confirmations"`
	Indexer       *bool  `toml:"indexer"`
	IndexerDelay  int    `toml:"indexer_delay"` // seconds
}

// Load reads the TOML config file, applies environment overrides and
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays NOMEN_* environment variables on the file values.
func (c *Config) applyEnv() {
	c.Data = getEnv("NOMEN_DATA", c.Data)
	c.RPC.Cookie = getEnv("NOMEN_RPC_COOKIE", c.RPC.Cookie)
	c.RPC.User = getEnv("NOMEN_RPC_USER", c.RPC.User)
	c.RPC.Password = getEnv("NOMEN_RPC_PASSWORD", c.RPC.Password)
	c.RPC.Host = getEnv("NOMEN_RPC_HOST", c.RPC.Host)
	c.RPC.Port = getEnvInt("NOMEN_RPC_PORT", c.RPC.Port)
	c.RPC.Network = getEnv("NOMEN_RPC_NETWORK", c.RPC.Network)
	c.Nostr.Secret = getEnv("NOMEN_NOSTR_SECRET", c.Nostr.Secret)
	if relays := getEnv("NOMEN_NOSTR_RELAYS", ""); relays != "" {
		c.Nostr.Relays = strings.Split(relays, ",")
	}
}

func (c *Config) applyDefaults() {
	if c.Data == "" {
		c.Data = "nomen.db"
	}
	if c.RPC.Host == "" {
		c.RPC.Host = "127.0.0.1"
	}
	if c.RPC.Network == "" {
		c.RPC.Network = "mainnet"
	}
	if len(c.Nostr.Relays) == 0 {
		c.Nostr.Relays = defaultRelays
	}
	if c.Server.Confirmations == 0 {
		c.Server.Confirmations = 3
	}
	if c.Server.IndexerDelay == 0 {
		c.Server.IndexerDelay = 30
	}
	if c.Server.MetricsBind == "" {
		c.Server.MetricsBind = "127.0.0.1:9340"
	}
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.RPC.Port == 0 {
		return fmt.Errorf("rpc.port is required")
	}
	switch c.RPC.Network {
	case "mainnet", "testnet", "signet", "regtest":
	default:
		return fmt.Errorf("unknown rpc.network %q", c.RPC.Network)
	}
	if c.Nostr.Publish && c.Nostr.Secret == "" {
		return fmt.Errorf("nostr.publish requires nostr.secret")
	}
	return nil
}

// StartingBlockHeight returns the per-network genesis floor: the lowest
// block the scanner will ever look at.
func (c *Config) StartingBlockHeight() int64 {
	switch c.RPC.Network {
	case "mainnet":
		return mainnetStartHeight
	case "signet":
		return signetStartHeight
	default:
		return 0
	}
}

// RPCHostPort returns the host:port of the Bitcoin RPC endpoint.
func (c *Config) RPCHostPort() string {
	return fmt.Sprintf("%s:%d", c.RPC.Host, c.RPC.Port)
}

// IndexerEnabled reports whether the background indexer should run.
func (c *Config) IndexerEnabled() bool {
	if c.Server.Indexer == nil {
		return true
	}
	return *c.Server.Indexer
}

// IndexerDelay returns the pause between index passes.
func (c *Config) IndexerDelay() time.Duration {
	return time.Duration(c.Server.IndexerDelay) * time.Second
}

// PublishEnabled reports whether the relay-index publisher should run.
func (c *Config) PublishEnabled() bool {
	return c.Nostr.Publish && c.Nostr.Secret != ""
}

// Example returns a commented example configuration file.
func Example() string {
	return `# Nomen indexer configuration

# Path of the local index database. Deleting this file forces a full
# reindex from the network's starting height.
data = "nomen.db"

[rpc]
# cookie = "/path/to/.cookie"
user = "rpc username"
password = "rpc password"
host = "localhost"
port = 8332
network = "mainnet"

[nostr]
relays = ["wss://relay.damus.io"]
# secret = "nsec..."
publish = false
well_known = false

[server]
bind = "0.0.0.0:8080"
metrics_bind = "127.0.0.1:9340"
confirmations = 3
indexer = true
indexer_delay = 30
`
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}
