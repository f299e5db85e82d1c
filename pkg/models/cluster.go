// Package models contains domain models for incident-cluster.
package models

import (
	"errors"
	"fmt"
)

// NoiseLabel is the cluster label assigned to points that belong to no cluster.
const NoiseLabel = -1

// DefaultSource is the provenance label used when an item does not carry one.
const DefaultSource = "unknown"

// ErrInvalidParams is returned when clustering parameters are out of range.
var ErrInvalidParams = errors.New("invalid cluster parameters")

// EmbeddingItem is a single input vector tagged with its provenance.
// ID is the correlation key for output and is not required to be unique.
type EmbeddingItem struct {
	ID     string
	Vector []float64
	Source string
}

// ClusterParams controls density clustering and the source diversity check.
type ClusterParams struct {
	Eps                float64 `yaml:"eps" json:"eps"`                                   // Neighbourhood radius (Euclidean)
	MinSamples         int     `yaml:"min_samples" json:"min_samples"`                   // Neighbourhood size for a core point, self included
	DiversityEnabled   bool    `yaml:"require_multi_source" json:"require_multi_source"` // Reject single-source clusters
	MinDistinctSources int     `yaml:"min_distinct_sources" json:"min_distinct_sources"`
	MaxSourceDominance float64 `yaml:"max_source_dominance" json:"max_source_dominance"` // Largest source share allowed, in (0,1]
}

// DefaultClusterParams returns the parameters used when neither configuration
// nor the request overrides them.
func DefaultClusterParams() ClusterParams {
	return ClusterParams{
		Eps:                0.7,
		MinSamples:         3,
		DiversityEnabled:   true,
		MinDistinctSources: 2,
		MaxSourceDominance: 0.5,
	}
}

// Validate reports whether the parameters are usable by the clustering pipeline.
func (p ClusterParams) Validate() error {
	if !(p.Eps > 0) {
		return fmt.Errorf("%w: eps must be > 0, got %v", ErrInvalidParams, p.Eps)
	}
	if p.MinSamples < 1 {
		return fmt.Errorf("%w: min_samples must be >= 1, got %d", ErrInvalidParams, p.MinSamples)
	}
	if p.MinDistinctSources < 1 {
		return fmt.Errorf("%w: min_distinct_sources must be >= 1, got %d", ErrInvalidParams, p.MinDistinctSources)
	}
	if !(p.MaxSourceDominance > 0 && p.MaxSourceDominance <= 1) {
		return fmt.Errorf("%w: max_source_dominance must be in (0,1], got %v", ErrInvalidParams, p.MaxSourceDominance)
	}
	return nil
}

// ResultRecord is the per-item clustering outcome.
// EventClusterID == NoiseLabel implies ClusterSize == 0.
type ResultRecord struct {
	ID             string `json:"id"`
	EventClusterID int    `json:"event_cluster_id"`
	ClusterSize    int    `json:"cluster_size"`
}

// IsNoise reports whether the record was not assigned to any accepted cluster.
func (r ResultRecord) IsNoise() bool {
	return r.EventClusterID == NoiseLabel
}
