// Perimetra - Movement Anomaly Detection and Forensic Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/perimetra

package feed

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/perimetra/internal/pipeline"
)

type captureSubmitter struct {
	mu      sync.Mutex
	packets []pipeline.Packet
}

func (c *captureSubmitter) Submit(_ context.Context, pkt pipeline.Packet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.packets = append(c.packets, pkt)
	return nil
}

func (c *captureSubmitter) all() []pipeline.Packet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]pipeline.Packet(nil), c.packets...)
}

const featureFile = `timestamp,latitude,longitude,speed_kmph,turn_angle,ang_vel,hour_sin,hour_cos,entry_zone
2026-03-14 06:00:00,12.934000,77.512000,0.0,0.0,0.0,1.0,0.0,Zone_A
2026-03-14 06:00:10,12.934139,77.512000,5.56,0.0,0.0,1.0,0.0,Zone_A
2026-03-14 06:00:20,12.944139,77.512000,400.2,12.5,1.25,1.0,0.0,Zone_B
`

func writeFeatureFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "features.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestCSVFeederReplaysRows(t *testing.T) {
	sink := &captureSubmitter{}
	feeder := NewCSVFeeder(CSVConfig{
		Path:     writeFeatureFile(t, featureFile),
		Interval: time.Millisecond,
	}, sink)

	err := feeder.Serve(context.Background())
	assert.ErrorIs(t, err, suture.ErrDoNotRestart, "single pass stops for good")

	packets := sink.all()
	require.Len(t, packets, 3)

	first := packets[0]
	assert.Equal(t, time.Date(2026, 3, 14, 6, 0, 0, 0, time.UTC), first.Timestamp)
	assert.Equal(t, "2026-03-14 06:00:00", first.SourceTimestamp)
	assert.Equal(t, "Zone_A", first.Zone)
	require.NotNil(t, first.Features)
	assert.Equal(t, 0.0, first.Features.SpeedKmph)

	third := packets[2]
	assert.Equal(t, "Zone_B", third.Zone)
	assert.Equal(t, 400.2, third.Features.SpeedKmph)
	assert.Equal(t, 12.5, third.Features.TurnAngleDegrees)
}

func TestCSVFeederZoneOverride(t *testing.T) {
	sink := &captureSubmitter{}
	feeder := NewCSVFeeder(CSVConfig{
		Path:     writeFeatureFile(t, featureFile),
		Interval: time.Millisecond,
		Zone:     "Perimeter_1",
	}, sink)

	err := feeder.Serve(context.Background())
	require.ErrorIs(t, err, suture.ErrDoNotRestart)

	for _, pkt := range sink.all() {
		assert.Equal(t, "Perimeter_1", pkt.Zone)
	}
}

func TestCSVFeederSkipsUnparseableRows(t *testing.T) {
	content := `timestamp,latitude,longitude,speed_kmph,turn_angle,ang_vel,hour_sin,hour_cos,entry_zone
2026-03-14 06:00:00,12.934,77.512,0.0,0.0,0.0,1.0,0.0,Zone_A
not-a-timestamp,12.934,77.512,0.0,0.0,0.0,1.0,0.0,Zone_A
2026-03-14 06:00:20,12.934,bogus,0.0,0.0,0.0,1.0,0.0,Zone_A
2026-03-14 06:00:30,12.934,77.512,1.0,0.0,0.0,1.0,0.0,Zone_A
`
	sink := &captureSubmitter{}
	feeder := NewCSVFeeder(CSVConfig{
		Path:     writeFeatureFile(t, content),
		Interval: time.Millisecond,
	}, sink)

	err := feeder.Serve(context.Background())
	require.ErrorIs(t, err, suture.ErrDoNotRestart)
	assert.Len(t, sink.all(), 2)
}

func TestCSVFeederRejectsMissingColumns(t *testing.T) {
	content := "timestamp,latitude\n2026-03-14 06:00:00,12.934\n"
	feeder := NewCSVFeeder(CSVConfig{
		Path:     writeFeatureFile(t, content),
		Interval: time.Millisecond,
	}, &captureSubmitter{})

	err := feeder.Serve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing column")
}

func TestCSVFeederMissingFile(t *testing.T) {
	feeder := NewCSVFeeder(CSVConfig{Path: "/nonexistent/features.csv"}, &captureSubmitter{})
	assert.Error(t, feeder.Serve(context.Background()))
}

func TestCSVFeederLoopStopsOnCancel(t *testing.T) {
	sink := &captureSubmitter{}
	feeder := NewCSVFeeder(CSVConfig{
		Path:     writeFeatureFile(t, featureFile),
		Interval: time.Millisecond,
		Loop:     true,
	}, sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- feeder.Serve(ctx) }()

	require.Eventually(t, func() bool {
		return len(sink.all()) >= 4
	}, 5*time.Second, time.Millisecond, "loop replays past the end of the file")

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("feeder did not stop on cancel")
	}
}

func TestParseTimestampLayouts(t *testing.T) {
	for _, value := range []string{
		"2026-03-14T06:00:00Z",
		"2026-03-14T06:00:00.5Z",
		"2026-03-14 06:00:00",
		"2026-03-14 06:00:00.123456",
	} {
		_, err := parseTimestamp(value)
		assert.NoError(t, err, value)
	}

	_, err := parseTimestamp("14/03/2026")
	assert.Error(t, err)
}
