// Perimetra - Movement Anomaly Detection and Forensic Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/perimetra

package geo

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 3, 14, 6, 0, 0, 0, time.UTC)

func sampleAt(lat, lon float64, offset time.Duration) Sample {
	return Sample{
		Timestamp: baseTime.Add(offset),
		Latitude:  lat,
		Longitude: lon,
		Zone:      "Zone_A",
	}
}

func TestFirstSampleBaseline(t *testing.T) {
	e := NewExtractor()
	var state State

	fv, err := e.Next(&state, sampleAt(12.9340, 77.5120, 0))
	require.NoError(t, err)

	assert.Zero(t, fv.DistanceMeters)
	assert.Equal(t, ElapsedFloorSeconds, fv.ElapsedSeconds)
	assert.Zero(t, fv.BearingDegrees)
	assert.Zero(t, fv.SpeedKmph)
	assert.Zero(t, fv.TurnAngleDegrees)
	assert.Zero(t, fv.AngularVelocity)
	assert.False(t, fv.ZeroIntervalFloored)
}

func TestConsecutiveSamplesScenario(t *testing.T) {
	// Two samples one second and roughly fifteen meters apart.
	e := NewExtractor()
	var state State

	_, err := e.Next(&state, sampleAt(12.9340, 77.5120, 0))
	require.NoError(t, err)

	fv, err := e.Next(&state, sampleAt(12.9341, 77.5121, time.Second))
	require.NoError(t, err)

	assert.InDelta(t, 15.5, fv.DistanceMeters, 0.6)
	assert.Equal(t, 1.0, fv.ElapsedSeconds)
	assert.Greater(t, fv.SpeedKmph, 0.0)
	// Second sample has no prior leg bearing to diff against.
	assert.Zero(t, fv.TurnAngleDegrees)
}

func TestIdenticalCoordinatesZeroDistance(t *testing.T) {
	e := NewExtractor()
	var state State

	_, err := e.Next(&state, sampleAt(40.7128, -74.0060, 0))
	require.NoError(t, err)

	fv, err := e.Next(&state, sampleAt(40.7128, -74.0060, 5*time.Second))
	require.NoError(t, err)

	assert.Zero(t, fv.DistanceMeters)
	assert.Zero(t, fv.SpeedKmph)
}

func TestZeroIntervalFloored(t *testing.T) {
	e := NewExtractor()
	var state State

	_, err := e.Next(&state, sampleAt(12.9340, 77.5120, 0))
	require.NoError(t, err)

	fv, err := e.Next(&state, sampleAt(12.9341, 77.5121, 0))
	require.NoError(t, err)

	assert.Equal(t, ElapsedFloorSeconds, fv.ElapsedSeconds)
	assert.True(t, fv.ZeroIntervalFloored)
	assert.False(t, math.IsInf(fv.SpeedKmph, 1))
	assert.False(t, math.IsInf(fv.AngularVelocity, 1))
}

func TestOutOfOrderSampleRejected(t *testing.T) {
	e := NewExtractor()
	var state State

	_, err := e.Next(&state, sampleAt(12.9340, 77.5120, time.Minute))
	require.NoError(t, err)

	_, err = e.Next(&state, sampleAt(12.9341, 77.5121, 0))
	require.ErrorIs(t, err, ErrInvalidSample)

	// State is untouched; the trajectory continues with the next valid sample.
	fv, err := e.Next(&state, sampleAt(12.9341, 77.5121, 2*time.Minute))
	require.NoError(t, err)
	assert.Greater(t, fv.DistanceMeters, 0.0)
}

func TestInvalidSamples(t *testing.T) {
	tests := []struct {
		name   string
		sample Sample
	}{
		{"zero timestamp", Sample{Latitude: 1, Longitude: 1}},
		{"nan latitude", sampleWith(math.NaN(), 77.5)},
		{"inf longitude", sampleWith(12.9, math.Inf(1))},
		{"latitude out of range", sampleWith(91, 77.5)},
		{"longitude out of range", sampleWith(12.9, -181)},
	}

	e := NewExtractor()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var state State
			_, err := e.Next(&state, tt.sample)
			assert.ErrorIs(t, err, ErrInvalidSample)
		})
	}
}

func sampleWith(lat, lon float64) Sample {
	return Sample{Timestamp: baseTime, Latitude: lat, Longitude: lon, Zone: "Zone_A"}
}

func TestBearingRange(t *testing.T) {
	points := []struct{ lat1, lon1, lat2, lon2 float64 }{
		{0, 0, 1, 0},    // due north
		{0, 0, 0, 1},    // due east
		{1, 0, 0, 0},    // due south
		{0, 1, 0, 0},    // due west
		{51.5, -0.12, 40.71, -74.0},
		{-33.86, 151.2, 35.68, 139.69},
	}

	for _, p := range points {
		b := BearingDegrees(p.lat1, p.lon1, p.lat2, p.lon2)
		assert.GreaterOrEqual(t, b, 0.0)
		assert.Less(t, b, 360.0)
	}

	assert.InDelta(t, 0, BearingDegrees(0, 0, 1, 0), 1e-9)
	assert.InDelta(t, 90, BearingDegrees(0, 0, 0, 1), 1e-9)
	assert.InDelta(t, 180, BearingDegrees(1, 0, 0, 0), 1e-9)
	assert.InDelta(t, 270, BearingDegrees(0, 1, 0, 0), 1e-9)
}

func TestTurnAngle(t *testing.T) {
	tests := []struct {
		name       string
		prev, curr float64
		want       float64
	}{
		{"no turn", 90, 90, 0},
		{"right angle", 0, 90, 90},
		{"reverse", 0, 180, 180},
		{"wraparound", 350, 10, 20},
		{"wraparound reverse", 10, 350, 20},
		{"shortest arc", 359, 1, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TurnAngleDegrees(tt.prev, tt.curr)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 180.0)
		})
	}
}

func TestHourEncoding(t *testing.T) {
	e := NewExtractor()

	var state State
	fv, err := e.Next(&state, Sample{
		Timestamp: time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC),
		Latitude:  12.9, Longitude: 77.5, Zone: "Zone_A",
	})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, fv.HourSin, 1e-9)
	assert.InDelta(t, 0.0, fv.HourCos, 1e-9)

	state = State{}
	fv, err = e.Next(&state, Sample{
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Latitude:  12.9, Longitude: 77.5, Zone: "Zone_A",
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, fv.HourSin, 1e-9)
	assert.InDelta(t, 1.0, fv.HourCos, 1e-9)
}

func TestSeries(t *testing.T) {
	e := NewExtractor()
	samples := []Sample{
		sampleAt(12.9340, 77.5120, 0),
		sampleAt(12.9341, 77.5121, 1*time.Second),
		sampleAt(12.9342, 77.5120, 2*time.Second),
		sampleAt(12.9343, 77.5121, 3*time.Second),
	}

	vectors, err := e.Series(samples)
	require.NoError(t, err)
	require.Len(t, vectors, len(samples))

	// Third sample onward has a real previous bearing, so turning
	// between legs shows up.
	assert.Greater(t, vectors[2].TurnAngleDegrees, 0.0)
	for _, fv := range vectors {
		assert.GreaterOrEqual(t, fv.BearingDegrees, 0.0)
		assert.Less(t, fv.BearingDegrees, 360.0)
		assert.GreaterOrEqual(t, fv.TurnAngleDegrees, 0.0)
		assert.LessOrEqual(t, fv.TurnAngleDegrees, 180.0)
	}
}

func TestSeriesFailsOnInvalid(t *testing.T) {
	e := NewExtractor()
	_, err := e.Series([]Sample{
		sampleAt(12.9340, 77.5120, 0),
		{Timestamp: baseTime.Add(time.Second), Latitude: math.NaN(), Longitude: 77.5},
	})
	assert.ErrorIs(t, err, ErrInvalidSample)
}
