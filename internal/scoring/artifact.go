// Perimetra - Movement Anomaly Detection and Forensic Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/perimetra

package scoring

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/goccy/go-json"
)

var (
	// ErrInvalidArtifact indicates a scorer artifact that cannot be used:
	// unreadable, malformed, or with inconsistent parameter widths.
	ErrInvalidArtifact = errors.New("invalid scorer artifact")

	// ErrSchemaMismatch indicates the artifact was trained against a
	// different feature schema than this build emits.
	ErrSchemaMismatch = errors.New("scorer artifact feature schema mismatch")
)

// Artifact is the persisted form of a fitted scorer: the per-feature
// normalization parameters and the decision threshold, exported by the
// offline training tooling as JSON.
type Artifact struct {
	// SchemaVersion names the feature schema the scorer was trained
	// against. Must equal scoring.SchemaVersion.
	SchemaVersion string `json:"schema_version"`

	// FeatureNames records the trained feature order. Must match
	// scoring.FeatureNames exactly.
	FeatureNames []string `json:"feature_names"`

	// Means and Scales are the standardization parameters, one per
	// feature in schema order.
	Means  []float64 `json:"means"`
	Scales []float64 `json:"scales"`

	// DecisionThreshold is the largest standardized deviation considered
	// normal. Vectors whose most extreme standardized feature exceeds it
	// score negative.
	DecisionThreshold float64 `json:"decision_threshold"`

	// ScoreConvention documents the raw score's sign and magnitude for
	// operators; it is informational and never interpreted here.
	ScoreConvention string `json:"score_convention,omitempty"`
}

// Validate checks the artifact against this build's feature schema.
func (a *Artifact) Validate() error {
	if a.SchemaVersion != SchemaVersion {
		return fmt.Errorf("%w: artifact %q, build %q", ErrSchemaMismatch, a.SchemaVersion, SchemaVersion)
	}
	if len(a.FeatureNames) != FeatureCount {
		return fmt.Errorf("%w: %d feature names, want %d", ErrInvalidArtifact, len(a.FeatureNames), FeatureCount)
	}
	for i, name := range a.FeatureNames {
		if name != FeatureNames[i] {
			return fmt.Errorf("%w: feature %d is %q, want %q", ErrSchemaMismatch, i, name, FeatureNames[i])
		}
	}
	if len(a.Means) != FeatureCount || len(a.Scales) != FeatureCount {
		return fmt.Errorf("%w: means/scales width %d/%d, want %d",
			ErrInvalidArtifact, len(a.Means), len(a.Scales), FeatureCount)
	}
	if a.DecisionThreshold <= 0 {
		return fmt.Errorf("%w: decision threshold must be positive", ErrInvalidArtifact)
	}
	return nil
}

// ArtifactScorer implements Scorer from a persisted artifact. Scores
// follow the "more negative = more anomalous" convention: the raw score
// is the margin between the decision threshold and the vector's most
// extreme standardized feature.
type ArtifactScorer struct {
	artifact Artifact
}

// LoadArtifact reads and validates a scorer artifact from disk.
func LoadArtifact(path string) (*ArtifactScorer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArtifact, err)
	}
	return ParseArtifact(data)
}

// ParseArtifact builds a scorer from raw artifact JSON.
func ParseArtifact(data []byte) (*ArtifactScorer, error) {
	var artifact Artifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArtifact, err)
	}
	if err := artifact.Validate(); err != nil {
		return nil, err
	}
	return &ArtifactScorer{artifact: artifact}, nil
}

// Artifact returns a copy of the loaded artifact, for exposing the
// score convention to operators.
func (s *ArtifactScorer) Artifact() Artifact {
	return s.artifact
}

// Normalize standardizes the vector with the trained means and scales.
// A zero scale degenerates to pass-through for that feature.
func (s *ArtifactScorer) Normalize(features [FeatureCount]float64) [FeatureCount]float64 {
	var out [FeatureCount]float64
	for i, v := range features {
		scale := s.artifact.Scales[i]
		if scale == 0 {
			scale = 1
		}
		out[i] = (v - s.artifact.Means[i]) / scale
	}
	return out
}

// Decide labels a normalized vector. The raw score is
// DecisionThreshold minus the largest absolute standardized feature, so
// inliers score positive and outliers negative.
func (s *ArtifactScorer) Decide(features [FeatureCount]float64) (int, float64) {
	var extreme float64
	for _, v := range features {
		if abs := math.Abs(v); abs > extreme {
			extreme = abs
		}
	}
	raw := s.artifact.DecisionThreshold - extreme
	if raw < 0 {
		return AnomalySentinel, raw
	}
	return 1, raw
}
