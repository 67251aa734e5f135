// Perimetra - Movement Anomaly Detection and Forensic Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/perimetra

// Package geo derives per-sample kinematic features from raw trajectory
// samples: great-circle distance, elapsed time, forward-azimuth bearing,
// speed, turn angle, angular velocity, and a cyclic time-of-day encoding.
//
// Extraction is streaming: each call consumes one sample plus the
// trajectory's running State, so trajectories of unbounded length are
// processed in constant memory. Per-trajectory calls must be sequential;
// distinct trajectories may run concurrently with their own State.
package geo

import (
	"fmt"
	"math"
)

const (
	// EarthRadiusMeters is the mean Earth radius used by the haversine
	// distance calculation.
	EarthRadiusMeters = 6371000.0

	// ElapsedFloorSeconds is substituted for the elapsed interval when
	// two consecutive samples carry identical timestamps. This is a
	// deliberate policy floor to keep speed and angular velocity finite,
	// not a measurement fix; vectors produced under it carry the
	// ZeroIntervalFloored flag.
	ElapsedFloorSeconds = 1.0
)

// State carries the per-trajectory memory the extractor needs between
// samples: the previous sample and, once two real positions have been
// seen, the previous leg's bearing.
type State struct {
	hasPrev     bool
	prev        Sample
	hasBearing  bool
	prevBearing float64
}

// Extractor turns ordered trajectory samples into feature vectors.
type Extractor struct{}

// NewExtractor creates a feature extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Next featurizes one sample against the trajectory state and advances
// the state. The first sample of a trajectory yields the defined zero
// baseline: distance 0, elapsed 1.0, bearing 0, turn 0.
//
// On error the state is left unchanged so the caller can continue the
// trajectory with the next valid sample.
func (e *Extractor) Next(state *State, s Sample) (FeatureVector, error) {
	if err := s.Validate(); err != nil {
		return FeatureVector{}, err
	}

	hourSin, hourCos := hourOfDayEncoding(s)

	if !state.hasPrev {
		state.hasPrev = true
		state.prev = s
		return FeatureVector{
			DistanceMeters: 0,
			ElapsedSeconds: ElapsedFloorSeconds,
			BearingDegrees: 0,
			HourSin:        hourSin,
			HourCos:        hourCos,
		}, nil
	}

	if s.Timestamp.Before(state.prev.Timestamp) {
		return FeatureVector{}, fmt.Errorf("%w: timestamp %s precedes previous sample %s",
			ErrInvalidSample, s.Timestamp.UTC(), state.prev.Timestamp.UTC())
	}

	distance := HaversineMeters(state.prev.Latitude, state.prev.Longitude, s.Latitude, s.Longitude)
	brng := BearingDegrees(state.prev.Latitude, state.prev.Longitude, s.Latitude, s.Longitude)

	elapsed := s.Timestamp.Sub(state.prev.Timestamp).Seconds()
	floored := false
	if elapsed == 0 {
		elapsed = ElapsedFloorSeconds
		floored = true
	}

	var turn float64
	if state.hasBearing {
		turn = TurnAngleDegrees(state.prevBearing, brng)
	}

	fv := FeatureVector{
		DistanceMeters:      distance,
		ElapsedSeconds:      elapsed,
		BearingDegrees:      brng,
		SpeedKmph:           (distance / 1000) / (elapsed / 3600),
		TurnAngleDegrees:    turn,
		AngularVelocity:     turn / elapsed,
		HourSin:             hourSin,
		HourCos:             hourCos,
		ZeroIntervalFloored: floored,
	}

	state.prev = s
	state.prevBearing = brng
	state.hasBearing = true

	return fv, nil
}

// Series featurizes an ordered slice of samples belonging to one
// trajectory. It fails on the first invalid sample.
func (e *Extractor) Series(samples []Sample) ([]FeatureVector, error) {
	var state State
	vectors := make([]FeatureVector, 0, len(samples))
	for i, s := range samples {
		fv, err := e.Next(&state, s)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		vectors = append(vectors, fv)
	}
	return vectors, nil
}

// HaversineMeters calculates the great-circle distance between two
// points in meters.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)

	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(a))
}

// BearingDegrees calculates the forward azimuth from the first point to
// the second, normalized into [0, 360).
func BearingDegrees(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	y := math.Sin(dLambda) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLambda)

	brng := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(brng+360, 360)
}

// TurnAngleDegrees returns the absolute shortest angular difference
// between two bearings, in [0, 180].
func TurnAngleDegrees(prevBearing, bearing float64) float64 {
	diff := math.Mod(bearing-prevBearing+180, 360)
	if diff < 0 {
		diff += 360
	}
	return math.Abs(diff - 180)
}

// hourOfDayEncoding maps the sample's UTC time of day (hour plus
// fractional minutes) onto the unit circle, so 23:59 and 00:00 encode
// as neighbors.
func hourOfDayEncoding(s Sample) (hourSin, hourCos float64) {
	t := s.Timestamp.UTC()
	hour := float64(t.Hour()) + float64(t.Minute())/60.0
	hourSin = math.Sin(2 * math.Pi * hour / 24)
	hourCos = math.Cos(2 * math.Pi * hour / 24)
	return hourSin, hourCos
}
