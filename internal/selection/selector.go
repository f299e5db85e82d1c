// Package selection ranks incidents by a weighted linear priority and keeps the top N.
package selection

import (
	"math"
	"sort"

	"github.com/thebtf/incident-cluster/pkg/models"
)

// Weights configures the priority formula.
type Weights struct {
	Topic     float64 // Multiplier for topic importance
	Engine    float64 // Multiplier for correlation engine strength
	Source    float64 // Multiplier per independent source, up to SourceCap
	Story     float64 // Multiplier per story size unit, up to StoryCap
	SourceCap int
	StoryCap  int
}

// DefaultWeights returns the production weights.
// Topic importance matters most; more sources and bigger stories help but saturate.
func DefaultWeights() Weights {
	return Weights{
		Topic:     0.4,
		Engine:    0.3,
		Source:    0.05,
		Story:     0.05,
		SourceCap: 5,
		StoryCap:  5,
	}
}

// Selector computes priorities and applies the max-count constraint.
type Selector struct {
	weights         Weights
	defaultMaxItems int
}

// NewSelector creates a new selector.
// If weights is nil, uses the default weights.
func NewSelector(weights *Weights, defaultMaxItems int) *Selector {
	w := DefaultWeights()
	if weights != nil {
		w = *weights
	}
	return &Selector{weights: w, defaultMaxItems: defaultMaxItems}
}

// Priority computes the priority of an item:
//
//	Priority = topic×Topic + engine×Engine + min(sources, SourceCap)×Source + min(story, StoryCap)×Story
//
// rounded to four decimal places.
func (s *Selector) Priority(item models.SelectItem) float64 {
	p := item.TopicWeight*s.weights.Topic +
		item.EngineWeight*s.weights.Engine +
		float64(min(item.SourceCount, s.weights.SourceCap))*s.weights.Source +
		float64(min(item.StorySize, s.weights.StoryCap))*s.weights.Story
	return math.Round(p*1e4) / 1e4
}

// Select returns up to maxItems items ordered by priority, highest first.
// Ties keep input order. maxItems <= 0 uses the configured default.
func (s *Selector) Select(items []models.SelectItem, maxItems int) []models.ScoredItem {
	if maxItems <= 0 {
		maxItems = s.defaultMaxItems
	}

	scored := make([]models.ScoredItem, len(items))
	for i, item := range items {
		scored[i] = models.ScoredItem{
			IncidentID: item.IncidentID,
			Priority:   s.Priority(item),
			Features: models.SelectFeatures{
				TopicWeight:  item.TopicWeight,
				EngineWeight: item.EngineWeight,
				SourceCount:  item.SourceCount,
				StorySize:    item.StorySize,
			},
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Priority > scored[j].Priority
	})

	if len(scored) > maxItems {
		scored = scored[:maxItems]
	}
	return scored
}
