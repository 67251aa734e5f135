// Perimetra - Movement Anomaly Detection and Forensic Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/perimetra

package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	"github.com/tomtom215/perimetra/internal/logging"
	"github.com/tomtom215/perimetra/internal/metrics"
	"github.com/tomtom215/perimetra/internal/pipeline"
)

// NATSConfig controls the live packet subscription.
type NATSConfig struct {
	URL     string
	Subject string

	// QueueGroup load-balances a subject across instances when set.
	QueueGroup string
}

// NATSFeeder subscribes to movement packets published as JSON on a
// NATS subject and forwards them to the pipeline.
type NATSFeeder struct {
	cfg       NATSConfig
	submitter Submitter
}

// NewNATSFeeder creates a NATS subscription feeder.
func NewNATSFeeder(cfg NATSConfig, submitter Submitter) *NATSFeeder {
	return &NATSFeeder{cfg: cfg, submitter: submitter}
}

// Serve connects, subscribes, and pumps messages until ctx is
// cancelled. Connection failures return an error so the supervisor
// restarts the feed with backoff.
func (f *NATSFeeder) Serve(ctx context.Context) error {
	log := logging.Logger().With().Str("feed", "nats").Str("subject", f.cfg.Subject).Logger()

	conn, err := nats.Connect(f.cfg.URL,
		nats.Name("perimetra-feed"),
		nats.Timeout(10*time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", f.cfg.URL, err)
	}
	defer conn.Close()

	msgs := make(chan *nats.Msg, 64)
	var sub *nats.Subscription
	if f.cfg.QueueGroup != "" {
		sub, err = conn.ChanQueueSubscribe(f.cfg.Subject, f.cfg.QueueGroup, msgs)
	} else {
		sub, err = conn.ChanSubscribe(f.cfg.Subject, msgs)
	}
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", f.cfg.Subject, err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	log.Info().Str("url", conn.ConnectedUrl()).Msg("nats feed subscribed")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-msgs:
			f.handle(ctx, msg.Data)
		}
	}
}

// handle decodes and submits one message. Malformed messages are
// logged and dropped; a poisonous publisher must not kill the feed.
func (f *NATSFeeder) handle(ctx context.Context, data []byte) {
	var pkt pipeline.Packet
	if err := json.Unmarshal(data, &pkt); err != nil {
		logging.Warn().Err(err).Msg("dropping malformed nats packet")
		return
	}

	if err := f.submitter.Submit(ctx, pkt); err != nil {
		logging.Warn().Err(err).Str("zone", pkt.Zone).Msg("failed to submit nats packet")
		return
	}
	metrics.FeedPackets.WithLabelValues("nats").Inc()
}

// String identifies the feeder in supervisor logs.
func (f *NATSFeeder) String() string {
	return "nats-feeder"
}
