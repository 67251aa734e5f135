// Perimetra - Movement Anomaly Detection and Forensic Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/perimetra

package geo

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidSample indicates a trajectory sample that cannot be
// featurized: missing or out-of-range coordinates, a zero timestamp,
// or a timestamp older than its predecessor. Invalid samples are
// dropped from the pipeline, never silently coerced.
var ErrInvalidSample = errors.New("invalid trajectory sample")

// Sample is one raw positional observation within a trajectory.
// Samples are immutable once received and ordered by timestamp within
// their trajectory.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`

	// Zone labels the monitored area the sample belongs to. One zone
	// is one trajectory for sequencing purposes.
	Zone string `json:"zone"`
}

// Validate checks that the sample can be featurized.
func (s Sample) Validate() error {
	if s.Timestamp.IsZero() {
		return fmt.Errorf("%w: zero timestamp", ErrInvalidSample)
	}
	if math.IsNaN(s.Latitude) || math.IsNaN(s.Longitude) ||
		math.IsInf(s.Latitude, 0) || math.IsInf(s.Longitude, 0) {
		return fmt.Errorf("%w: non-finite coordinates", ErrInvalidSample)
	}
	if s.Latitude < -90 || s.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidSample, s.Latitude)
	}
	if s.Longitude < -180 || s.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidSample, s.Longitude)
	}
	return nil
}

// FeatureVector holds the kinematic features derived for one sample.
// Derived values are immutable; one vector exists per sample, with the
// first sample of a trajectory receiving the defined zero baseline.
type FeatureVector struct {
	DistanceMeters   float64 `json:"distance_m"`
	ElapsedSeconds   float64 `json:"elapsed_s"`
	BearingDegrees   float64 `json:"bearing_deg"`
	SpeedKmph        float64 `json:"speed_kmph"`
	TurnAngleDegrees float64 `json:"turn_angle_deg"`
	AngularVelocity  float64 `json:"angular_velocity"`
	HourSin          float64 `json:"hour_sin"`
	HourCos          float64 `json:"hour_cos"`

	// ZeroIntervalFloored is set when two samples shared a timestamp and
	// ElapsedSeconds was substituted with the documented floor. The
	// vector is still scored, but the flag is persisted so the masking
	// can be audited later.
	ZeroIntervalFloored bool `json:"zero_interval_floored,omitempty"`
}
