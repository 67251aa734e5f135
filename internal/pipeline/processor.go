// Perimetra - Movement Anomaly Detection and Forensic Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/perimetra

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/perimetra/internal/anchor"
	"github.com/tomtom215/perimetra/internal/codec"
	"github.com/tomtom215/perimetra/internal/geo"
	"github.com/tomtom215/perimetra/internal/logging"
	"github.com/tomtom215/perimetra/internal/metrics"
	"github.com/tomtom215/perimetra/internal/recorder"
	"github.com/tomtom215/perimetra/internal/scoring"
)

// Anchorer submits an encrypted token for integrity anchoring.
type Anchorer interface {
	Anchor(ctx context.Context, token []byte) (*anchor.Receipt, error)
}

// Recorder appends one row to the durable movement timeline.
type Recorder interface {
	Record(ctx context.Context, entry *recorder.LogEntry) (int64, error)
}

// Outcome describes where a packet's state machine terminated.
type Outcome struct {
	State   State
	LogID   int64
	Verdict scoring.Verdict

	// TokenHex and Receipt are set only when the packet was anomalous.
	// Receipt stays nil when anchoring was unavailable.
	TokenHex string
	Receipt  *anchor.Receipt
}

// Processor runs one packet through featurize, score, alert, anchor and
// record. It holds no per-trajectory state; the caller owns the
// geo.State and must serialize calls per trajectory.
type Processor struct {
	extractor  *geo.Extractor
	classifier *scoring.Classifier
	codec      *codec.Codec
	anchorer   Anchorer // nil when anchoring is disabled
	store      Recorder
}

// NewProcessor wires the pipeline stages. anchorer may be nil.
func NewProcessor(classifier *scoring.Classifier, cdc *codec.Codec, anchorer Anchorer, store Recorder) *Processor {
	return &Processor{
		extractor:  geo.NewExtractor(),
		classifier: classifier,
		codec:      cdc,
		anchorer:   anchorer,
		store:      store,
	}
}

// Process drives one packet through the state machine. A non-nil error
// means the packet could not be durably recorded; every other failure
// mode degrades inside and the packet still terminates in RECORDED or
// DROPPED.
func (p *Processor) Process(ctx context.Context, state *geo.State, pkt Packet) (*Outcome, error) {
	start := time.Now()
	log := logging.Ctx(ctx)

	fv, err := p.featurize(state, pkt)
	if err != nil {
		log.Warn().
			Str("packet_id", pkt.ID).
			Str("zone", pkt.Zone).
			Err(err).
			Msg("packet rejected by feature extraction")

		id, recErr := p.record(ctx, pkt, geo.FeatureVector{}, scoring.Verdict{}, "", nil, recorder.StatusRejected)
		if recErr != nil {
			metrics.ObservePacket("failed", pkt.Zone, time.Since(start))
			return nil, recErr
		}
		metrics.ObservePacket("rejected", pkt.Zone, time.Since(start))
		return &Outcome{State: StateDropped, LogID: id}, nil
	}

	verdict := p.classifier.Evaluate(fv)

	var tokenHex string
	var receipt *anchor.Receipt
	if verdict.IsAnomalous {
		metrics.AnomaliesDetected.WithLabelValues(pkt.Zone).Inc()

		tokenHex, receipt, err = p.alert(ctx, pkt, fv, verdict)
		if err != nil {
			metrics.ObservePacket("failed", pkt.Zone, time.Since(start))
			return nil, err
		}
	}

	id, err := p.record(ctx, pkt, fv, verdict, tokenHex, receipt, recorder.StatusRecorded)
	if err != nil {
		metrics.ObservePacket("failed", pkt.Zone, time.Since(start))
		return nil, err
	}

	metrics.ObservePacket("recorded", pkt.Zone, time.Since(start))

	outcome := &Outcome{
		State:    StateRecorded,
		LogID:    id,
		Verdict:  verdict,
		TokenHex: tokenHex,
		Receipt:  receipt,
	}
	if verdict.IsAnomalous {
		log.Info().
			Str("packet_id", pkt.ID).
			Str("zone", pkt.Zone).
			Int64("log_id", id).
			Float64("risk_score", verdict.RiskScore).
			Bool("anchored", receipt != nil).
			Msg("anomalous movement recorded")
	} else {
		log.Debug().
			Str("packet_id", pkt.ID).
			Str("zone", pkt.Zone).
			Int64("log_id", id).
			Msg("clean movement recorded")
	}
	return outcome, nil
}

// featurize returns the packet's feature vector, extracting it from the
// raw sample unless the feed supplied it precomputed.
func (p *Processor) featurize(state *geo.State, pkt Packet) (geo.FeatureVector, error) {
	if pkt.Features != nil {
		return *pkt.Features, nil
	}
	return p.extractor.Next(state, pkt.Sample())
}

// alert encrypts the alert record and attempts to anchor the token.
// Anchor unavailability is tolerated; any other anchoring error or an
// encryption failure is fatal for the packet.
func (p *Processor) alert(ctx context.Context, pkt Packet, fv geo.FeatureVector, verdict scoring.Verdict) (string, *anchor.Receipt, error) {
	token, err := p.codec.Encode(codec.AlertRecord{
		Timestamp: pkt.sourceTimestamp(),
		Zone:      pkt.Zone,
		Latitude:  pkt.Latitude,
		Longitude: pkt.Longitude,
		SpeedKmph: fv.SpeedKmph,
		RiskScore: verdict.RiskScore,
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode alert token: %w", err)
	}

	if p.anchorer == nil {
		return codec.TokenHex(token), nil, nil
	}

	anchorStart := time.Now()
	receipt, err := p.anchorer.Anchor(ctx, token)
	metrics.AnchorDuration.Observe(time.Since(anchorStart).Seconds())
	if err != nil {
		if !errors.Is(err, anchor.ErrAnchorUnavailable) {
			return "", nil, err
		}
		metrics.AnchorSubmissions.WithLabelValues("unavailable").Inc()
		logger := logging.Ctx(ctx)
		logger.Warn().
			Str("packet_id", pkt.ID).
			Str("zone", pkt.Zone).
			Err(err).
			Msg("anchor unavailable, recording alert without receipt")
		return codec.TokenHex(token), nil, nil
	}

	metrics.AnchorSubmissions.WithLabelValues("anchored").Inc()
	return codec.TokenHex(token), receipt, nil
}

// record appends the durable row for this packet.
func (p *Processor) record(ctx context.Context, pkt Packet, fv geo.FeatureVector, verdict scoring.Verdict, tokenHex string, receipt *anchor.Receipt, status recorder.Status) (int64, error) {
	entry := &recorder.LogEntry{
		Timestamp:           pkt.Timestamp,
		Zone:                pkt.Zone,
		Latitude:            pkt.Latitude,
		Longitude:           pkt.Longitude,
		SpeedKmph:           fv.SpeedKmph,
		TurnAngleDegrees:    fv.TurnAngleDegrees,
		AngularVelocity:     fv.AngularVelocity,
		ZeroIntervalFloored: fv.ZeroIntervalFloored,
		Anomalous:           verdict.IsAnomalous,
		RiskScore:           verdict.RiskScore,
		AlertTokenHex:       tokenHex,
		Status:              status,
	}
	if receipt != nil {
		entry.BlobID = receipt.BlobID
		entry.AnchorID = receipt.AnchorID
	}

	id, err := p.store.Record(ctx, entry)
	if err != nil {
		metrics.RecorderErrors.Inc()
		return 0, fmt.Errorf("failed to record packet %s: %w", pkt.ID, err)
	}
	metrics.RecorderInserts.Inc()
	return id, nil
}
