// Perimetra - Movement Anomaly Detection and Forensic Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/perimetra

// Package feed brings movement packets into the pipeline from sources
// other than the HTTP API: a CSV replay of precomputed feature files
// and a live NATS subscription. Each feed is a suture.Service and is
// restarted by the supervisor on failure.
package feed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/perimetra/internal/geo"
	"github.com/tomtom215/perimetra/internal/logging"
	"github.com/tomtom215/perimetra/internal/metrics"
	"github.com/tomtom215/perimetra/internal/pipeline"
)

// Submitter accepts packets for processing.
type Submitter interface {
	Submit(ctx context.Context, pkt pipeline.Packet) error
}

// csvTimeLayouts are the accepted timestamp forms in feature files.
var csvTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

// csvColumns is the required header of a feature file. Rows carry the
// precomputed kinematics alongside the raw observation.
var csvColumns = []string{
	"timestamp", "latitude", "longitude",
	"speed_kmph", "turn_angle", "ang_vel", "hour_sin", "hour_cos",
	"entry_zone",
}

// CSVConfig controls the replay feeder.
type CSVConfig struct {
	Path     string
	Interval time.Duration

	// Zone overrides the file's entry_zone column when set.
	Zone string

	// Loop restarts from the top after the last row.
	Loop bool
}

// CSVFeeder replays a precomputed feature file at a configurable pace.
// Rows carry their features, so the pipeline scores them directly
// without re-deriving kinematics.
type CSVFeeder struct {
	cfg       CSVConfig
	submitter Submitter
}

// NewCSVFeeder creates a replay feeder.
func NewCSVFeeder(cfg CSVConfig, submitter Submitter) *CSVFeeder {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	return &CSVFeeder{cfg: cfg, submitter: submitter}
}

// Serve replays the file until ctx is cancelled. Without Loop it stops
// for good after one pass.
func (f *CSVFeeder) Serve(ctx context.Context) error {
	log := logging.Logger().With().Str("feed", "csv").Str("path", f.cfg.Path).Logger()

	for {
		replayed, err := f.replayOnce(ctx)
		if err != nil {
			return err
		}
		log.Info().Int("packets", replayed).Msg("feature file replay pass finished")

		if !f.cfg.Loop {
			return suture.ErrDoNotRestart
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.cfg.Interval):
		}
	}
}

// replayOnce streams one pass over the file.
func (f *CSVFeeder) replayOnce(ctx context.Context) (int, error) {
	file, err := os.Open(f.cfg.Path)
	if err != nil {
		return 0, fmt.Errorf("failed to open feature file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("failed to read feature file header: %w", err)
	}
	columns, err := columnIndex(header)
	if err != nil {
		return 0, err
	}

	replayed := 0
	for {
		select {
		case <-ctx.Done():
			return replayed, ctx.Err()
		default:
		}

		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return replayed, nil
		}
		if err != nil {
			return replayed, fmt.Errorf("failed to read feature row: %w", err)
		}

		pkt, err := f.parseRow(columns, row)
		if err != nil {
			logging.Warn().Err(err).Msg("skipping unparseable feature row")
			continue
		}

		if err := f.submitter.Submit(ctx, pkt); err != nil {
			return replayed, fmt.Errorf("failed to submit replayed packet: %w", err)
		}
		metrics.FeedPackets.WithLabelValues("csv").Inc()
		replayed++

		select {
		case <-ctx.Done():
			return replayed, ctx.Err()
		case <-time.After(f.cfg.Interval):
		}
	}
}

// String identifies the feeder in supervisor logs.
func (f *CSVFeeder) String() string {
	return "csv-feeder"
}

// columnIndex maps required column names to their positions.
func columnIndex(header []string) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[name] = i
	}
	for _, name := range csvColumns {
		if _, ok := index[name]; !ok {
			return nil, fmt.Errorf("feature file missing column %q", name)
		}
	}
	return index, nil
}

// parseRow converts one CSV row into a packet with precomputed
// features.
func (f *CSVFeeder) parseRow(columns map[string]int, row []string) (pipeline.Packet, error) {
	field := func(name string) string { return row[columns[name]] }

	ts, err := parseTimestamp(field("timestamp"))
	if err != nil {
		return pipeline.Packet{}, err
	}

	values := make(map[string]float64, 7)
	for _, name := range []string{"latitude", "longitude", "speed_kmph", "turn_angle", "ang_vel", "hour_sin", "hour_cos"} {
		v, err := strconv.ParseFloat(field(name), 64)
		if err != nil {
			return pipeline.Packet{}, fmt.Errorf("invalid %s value %q: %w", name, field(name), err)
		}
		values[name] = v
	}

	zone := f.cfg.Zone
	if zone == "" {
		zone = field("entry_zone")
	}

	return pipeline.Packet{
		Timestamp:       ts,
		Latitude:        values["latitude"],
		Longitude:       values["longitude"],
		Zone:            zone,
		SourceTimestamp: field("timestamp"),
		Features: &geo.FeatureVector{
			SpeedKmph:        values["speed_kmph"],
			TurnAngleDegrees: values["turn_angle"],
			AngularVelocity:  values["ang_vel"],
			HourSin:          values["hour_sin"],
			HourCos:          values["hour_cos"],
		},
	}, nil
}

// parseTimestamp tries the accepted timestamp layouts in order.
func parseTimestamp(value string) (time.Time, error) {
	for _, layout := range csvTimeLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}
