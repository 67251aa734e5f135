// Perimetra - Movement Anomaly Detection and Forensic Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/perimetra

// Command server runs the Perimetra movement-anomaly server: packet
// feeds, the scoring pipeline, the durable movement log, and the HTTP
// API, all under one supervision tree.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/perimetra/internal/anchor"
	"github.com/tomtom215/perimetra/internal/api"
	"github.com/tomtom215/perimetra/internal/codec"
	"github.com/tomtom215/perimetra/internal/config"
	"github.com/tomtom215/perimetra/internal/feed"
	"github.com/tomtom215/perimetra/internal/logging"
	"github.com/tomtom215/perimetra/internal/pipeline"
	"github.com/tomtom215/perimetra/internal/recorder"
	"github.com/tomtom215/perimetra/internal/scoring"
	"github.com/tomtom215/perimetra/internal/supervisor"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "perimetra: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("db_path", cfg.Database.Path).
		Bool("anchoring", cfg.Anchor.Enabled).
		Bool("csv_feed", cfg.Feed.CSV.Enabled).
		Bool("nats_feed", cfg.Feed.NATS.Enabled).
		Msg("starting perimetra")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	masterKey, err := codec.LoadOrCreateKey(cfg.Keys.MasterKeyPath)
	if err != nil {
		return fmt.Errorf("master key: %w", err)
	}
	cdc, err := codec.New(masterKey)
	if err != nil {
		return fmt.Errorf("alert codec: %w", err)
	}

	scorer, err := scoring.LoadArtifact(cfg.Scorer.ArtifactPath)
	if err != nil {
		return fmt.Errorf("scorer artifact: %w", err)
	}
	logging.Info().
		Str("artifact", cfg.Scorer.ArtifactPath).
		Str("score_convention", scorer.Artifact().ScoreConvention).
		Msg("scorer artifact loaded")
	classifier := scoring.NewClassifier(scorer)

	store, err := recorder.Open(ctx, cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("movement log: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("failed to close movement log")
		}
	}()

	var anchorer pipeline.Anchorer
	var ledgerState func() string
	if cfg.Anchor.Enabled {
		ledger := anchor.NewHTTPLedger(anchor.HTTPLedgerConfig{
			URL:              cfg.Anchor.LedgerURL,
			Timeout:          cfg.Anchor.Timeout,
			FailureThreshold: cfg.Anchor.FailureThreshold,
			OpenTimeout:      cfg.Anchor.OpenTimeout,
		})
		ledgerState = ledger.State

		var blobs anchor.BlobStore
		if cfg.Blob.Enabled {
			blobs = anchor.NewHTTPBlobStore(anchor.HTTPBlobStoreConfig{
				URL:     cfg.Blob.URL,
				Timeout: cfg.Blob.Timeout,
			})
		}
		anchorer = anchor.NewClient(ledger, blobs)
	}

	processor := pipeline.NewProcessor(classifier, cdc, anchorer, store)
	dispatcher := pipeline.NewDispatcher(processor, pipeline.DispatcherConfig{
		QueueSize: cfg.Dispatcher.QueueSize,
	})

	handler := api.NewHandler(dispatcher, store, cdc, ledgerState)
	router := api.NewRouter(handler, api.RouterConfig{
		RateLimitReqs:   cfg.Server.RateLimitReqs,
		RateLimitWindow: cfg.Server.RateLimitWindow,
	})
	httpServer := api.NewServer(api.ServerConfig{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		Timeout: cfg.Server.Timeout,
	}, router)

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddPipelineService(dispatcher)
	tree.AddAPIService(httpServer)

	if cfg.Feed.CSV.Enabled {
		tree.AddFeedService(feed.NewCSVFeeder(feed.CSVConfig{
			Path:     cfg.Feed.CSV.Path,
			Interval: cfg.Feed.CSV.Interval,
			Zone:     cfg.Feed.CSV.Zone,
			Loop:     cfg.Feed.CSV.Loop,
		}, dispatcher))
	}
	if cfg.Feed.NATS.Enabled {
		tree.AddFeedService(feed.NewNATSFeeder(feed.NATSConfig{
			URL:        cfg.Feed.NATS.URL,
			Subject:    cfg.Feed.NATS.Subject,
			QueueGroup: cfg.Feed.NATS.QueueGroup,
		}, dispatcher))
	}

	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor: %w", err)
	}
	logging.Info().Msg("perimetra stopped")
	return nil
}
