// Perimetra - Movement Anomaly Detection and Forensic Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/perimetra

package scoring

import "github.com/tomtom215/perimetra/internal/geo"

// AnomalySentinel is the label value scorers emit for an outlier.
const AnomalySentinel = -1

// Scorer is the contract a pretrained anomaly model must expose. The
// implementation is external to the pipeline; training is out of scope.
type Scorer interface {
	// Normalize applies the scorer's trained normalization to a raw
	// feature vector.
	Normalize(features [FeatureCount]float64) [FeatureCount]float64

	// Decide evaluates a normalized feature vector. label is
	// AnomalySentinel for an outlier; rawScore follows the scorer's own
	// sign and magnitude convention, documented alongside the persisted
	// model artifact.
	Decide(features [FeatureCount]float64) (label int, rawScore float64)
}

// Verdict is the classification result for one feature vector.
type Verdict struct {
	IsAnomalous bool    `json:"is_anomalous"`
	RiskScore   float64 `json:"risk_score"`
}

// Classifier adapts feature vectors to a Scorer. It is a pure function
// of (vector, loaded scorer state) with no side effects.
type Classifier struct {
	scorer Scorer
}

// NewClassifier creates a classifier backed by the given scorer.
func NewClassifier(scorer Scorer) *Classifier {
	return &Classifier{scorer: scorer}
}

// Evaluate scores one feature vector. The scorer's raw decision output
// is passed through unchanged as RiskScore.
func (c *Classifier) Evaluate(fv geo.FeatureVector) Verdict {
	normalized := c.scorer.Normalize(Features(fv))
	label, raw := c.scorer.Decide(normalized)
	return Verdict{
		IsAnomalous: label == AnomalySentinel,
		RiskScore:   raw,
	}
}
