// Perimetra - Movement Anomaly Detection and Forensic Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/perimetra

// Package pipeline orchestrates the movement-anomaly flow for each
// incoming packet: featurize, score, package and anchor alerts, record.
//
// Per-packet state machine:
//
//	RECEIVED -> FEATURIZED -> SCORED -> (ALERTED | CLEAN) -> RECORDED
//	RECEIVED -> DROPPED (invalid sample; audited as a rejected row)
//
// Packets belonging to one trajectory are processed strictly
// sequentially by that trajectory's worker; distinct trajectories run
// concurrently. Anchoring is best-effort enrichment: a dead ledger
// never stops a packet from reaching RECORDED.
package pipeline

import (
	"time"

	"github.com/tomtom215/perimetra/internal/geo"
)

// Packet is one movement observation entering the pipeline.
type Packet struct {
	// ID correlates log lines for one packet across the pipeline.
	ID string `json:"id,omitempty"`

	Timestamp time.Time `json:"timestamp"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`

	// Zone labels the monitored area; one zone is one trajectory.
	Zone string `json:"zone"`

	// SourceTimestamp preserves the feed's original timestamp
	// representation for alert records. Falls back to RFC 3339 when the
	// feed did not carry a string form.
	SourceTimestamp string `json:"source_timestamp,omitempty"`

	// Features carries upstream-precomputed kinematics. When set, the
	// orchestrator skips feature extraction and scores these directly;
	// the trajectory's extractor state is not advanced.
	Features *geo.FeatureVector `json:"features,omitempty"`
}

// Sample converts the packet to a raw trajectory sample.
func (p *Packet) Sample() geo.Sample {
	return geo.Sample{
		Timestamp: p.Timestamp,
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
		Zone:      p.Zone,
	}
}

// sourceTimestamp returns the feed's timestamp representation.
func (p *Packet) sourceTimestamp() string {
	if p.SourceTimestamp != "" {
		return p.SourceTimestamp
	}
	return p.Timestamp.UTC().Format(time.RFC3339)
}

// State names a stage of the per-packet state machine.
type State string

const (
	StateReceived   State = "RECEIVED"
	StateFeaturized State = "FEATURIZED"
	StateScored     State = "SCORED"
	StateAlerted    State = "ALERTED"
	StateClean      State = "CLEAN"
	StateRecorded   State = "RECORDED"
	StateDropped    State = "DROPPED"
)
