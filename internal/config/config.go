// Perimetra - Movement Anomaly Detection and Forensic Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/perimetra

// Package config defines Perimetra's runtime configuration and loads it
// from layered sources with a clear precedence: environment variables
// override the optional YAML config file, which overrides built-in
// defaults.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for the Perimetra server.
type Config struct {
	Logging    LoggingConfig    `koanf:"logging"`
	Server     ServerConfig     `koanf:"server"`
	Database   DatabaseConfig   `koanf:"database"`
	Keys       KeysConfig       `koanf:"keys"`
	Scorer     ScorerConfig     `koanf:"scorer"`
	Anchor     AnchorConfig     `koanf:"anchor"`
	Blob       BlobConfig       `koanf:"blob"`
	Feed       FeedConfig       `koanf:"feed"`
	Dispatcher DispatcherConfig `koanf:"dispatcher"`
}

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	Level string `koanf:"level" validate:"oneof=trace debug info warn warning error fatal disabled"`

	// Format is json or console.
	Format string `koanf:"format" validate:"oneof=json console"`

	// Caller includes caller file and line in log events.
	Caller bool `koanf:"caller"`
}

// ServerConfig controls the HTTP API listener.
type ServerConfig struct {
	Host    string        `koanf:"host" validate:"required"`
	Port    int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout time.Duration `koanf:"timeout" validate:"min=1s"`

	// RateLimitReqs requests per RateLimitWindow per client IP.
	// RateLimitReqs <= 0 disables rate limiting.
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// DatabaseConfig controls the DuckDB movement log.
type DatabaseConfig struct {
	// Path to the database file. ":memory:" keeps the log in memory.
	Path string `koanf:"path" validate:"required"`
}

// KeysConfig controls the alert encryption master key.
type KeysConfig struct {
	// MasterKeyPath holds the hex-encoded master key. The file is
	// created with a fresh random key on first start.
	MasterKeyPath string `koanf:"master_key_path" validate:"required"`
}

// ScorerConfig points at the pretrained anomaly model artifact.
type ScorerConfig struct {
	ArtifactPath string `koanf:"artifact_path" validate:"required"`
}

// AnchorConfig controls integrity anchoring against the external ledger.
type AnchorConfig struct {
	Enabled          bool          `koanf:"enabled"`
	LedgerURL        string        `koanf:"ledger_url" validate:"required_if=Enabled true,omitempty,url"`
	Timeout          time.Duration `koanf:"timeout"`
	FailureThreshold uint32        `koanf:"failure_threshold"`
	OpenTimeout      time.Duration `koanf:"open_timeout"`
}

// BlobConfig controls the optional content-addressable token store.
type BlobConfig struct {
	Enabled bool          `koanf:"enabled"`
	URL     string        `koanf:"url" validate:"required_if=Enabled true,omitempty,url"`
	Timeout time.Duration `koanf:"timeout"`
}

// FeedConfig controls packet sources besides the HTTP API.
type FeedConfig struct {
	CSV  CSVFeedConfig  `koanf:"csv"`
	NATS NATSFeedConfig `koanf:"nats"`
}

// CSVFeedConfig replays a precomputed feature file in a loop.
type CSVFeedConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path" validate:"required_if=Enabled true"`

	// Interval is the pacing delay between replayed rows.
	Interval time.Duration `koanf:"interval"`

	// Zone labels all replayed packets.
	Zone string `koanf:"zone"`

	// Loop restarts the file after the last row.
	Loop bool `koanf:"loop"`
}

// NATSFeedConfig subscribes to live packets on a NATS subject.
type NATSFeedConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url" validate:"required_if=Enabled true"`
	Subject string `koanf:"subject" validate:"required_if=Enabled true"`

	// QueueGroup load-balances across server instances when set.
	QueueGroup string `koanf:"queue_group"`
}

// DispatcherConfig tunes the per-trajectory worker pool.
type DispatcherConfig struct {
	QueueSize int `koanf:"queue_size" validate:"min=1"`
}

// defaultConfig returns the built-in defaults, applied before the
// config file and environment variables.
func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8490,
			Timeout:         30 * time.Second,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Database: DatabaseConfig{
			Path: "/data/perimetra.duckdb",
		},
		Keys: KeysConfig{
			MasterKeyPath: "/data/keys/master.key",
		},
		Scorer: ScorerConfig{
			ArtifactPath: "/data/models/movement.json",
		},
		Anchor: AnchorConfig{
			Enabled:          false,
			LedgerURL:        "",
			Timeout:          10 * time.Second,
			FailureThreshold: 5,
			OpenTimeout:      30 * time.Second,
		},
		Blob: BlobConfig{
			Enabled: false,
			URL:     "",
			Timeout: 15 * time.Second,
		},
		Feed: FeedConfig{
			CSV: CSVFeedConfig{
				Enabled:  false,
				Path:     "",
				Interval: 2 * time.Second,
				Zone:     "Zone_A",
				Loop:     true,
			},
			NATS: NATSFeedConfig{
				Enabled:    false,
				URL:        "nats://127.0.0.1:4222",
				Subject:    "perimetra.packets",
				QueueGroup: "",
			},
		},
		Dispatcher: DispatcherConfig{
			QueueSize: 256,
		},
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Blob.Enabled && !c.Anchor.Enabled {
		return fmt.Errorf("invalid configuration: blob store requires anchoring to be enabled")
	}
	return nil
}
