// Perimetra - Movement Anomaly Detection and Forensic Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/perimetra

// Package scoring adapts derived movement features to a pretrained
// anomaly scorer and maps the scorer's output onto a binary verdict
// plus a continuous risk score.
//
// The feature ordering is a binding contract with the scorer's trained
// feature space. It is represented here as a named, versioned schema so
// that a retrained scorer and the feature extractor cannot silently
// skew apart: scorer artifacts declare the schema they were trained
// against and loading fails on a mismatch.
package scoring

import "github.com/tomtom215/perimetra/internal/geo"

// SchemaVersion identifies the feature schema this build emits.
const SchemaVersion = "movement-features/v1"

// FeatureCount is the width of the scorer input vector.
const FeatureCount = 5

// FeatureNames lists the schema's features in scoring order. Reordering
// corrupts results against any scorer trained on this schema.
var FeatureNames = [FeatureCount]string{
	"speed_kmph",
	"turn_angle_deg",
	"angular_velocity",
	"hour_sin",
	"hour_cos",
}

// Features selects the scorer input vector from a derived feature
// vector, in schema order.
func Features(fv geo.FeatureVector) [FeatureCount]float64 {
	return [FeatureCount]float64{
		fv.SpeedKmph,
		fv.TurnAngleDegrees,
		fv.AngularVelocity,
		fv.HourSin,
		fv.HourCos,
	}
}
