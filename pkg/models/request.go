package models

import (
	"bytes"

	json "github.com/goccy/go-json"
)

// Embedding is a JSON vector that tolerates malformed input.
// Anything other than an array of numbers decodes as Malformed with no values,
// so one bad item never fails decoding of the whole batch.
type Embedding struct {
	Values    []float64
	Malformed bool
}

var jsonNull = []byte("null")

// UnmarshalJSON implements json.Unmarshaler.
func (e *Embedding) UnmarshalJSON(data []byte) error {
	e.Values = nil
	e.Malformed = false

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		e.Malformed = true
		return nil
	}

	values := make([]float64, 0, len(raw))
	for _, elem := range raw {
		if bytes.Equal(bytes.TrimSpace(elem), jsonNull) {
			e.Malformed = true
			return nil
		}
		var v float64
		if err := json.Unmarshal(elem, &v); err != nil {
			e.Malformed = true
			return nil
		}
		values = append(values, v)
	}
	e.Values = values
	return nil
}

// MarshalJSON implements json.Marshaler.
func (e Embedding) MarshalJSON() ([]byte, error) {
	if e.Values == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(e.Values)
}

// ClusterItem is one item of a /cluster request body.
type ClusterItem struct {
	ID        string    `json:"id"`
	Embedding Embedding `json:"embedding"`
	Source    *string   `json:"source,omitempty"`
}

// ClusterRequest is the /cluster request body. Nil fields fall back to configured defaults.
type ClusterRequest struct {
	Items              []ClusterItem `json:"items"`
	Eps                *float64      `json:"eps,omitempty"`
	MinSamples         *int          `json:"min_samples,omitempty"`
	RequireMultiSource *bool         `json:"require_multi_source,omitempty"`
	MinDistinctSources *int          `json:"min_distinct_sources,omitempty"`
	MaxSourceDominance *float64      `json:"max_source_dominance,omitempty"`
}

// ClusterResponse is the /cluster response body.
type ClusterResponse struct {
	Version string         `json:"version"`
	Results []ResultRecord `json:"results"`
}

// Params overlays the request overrides onto defaults and validates the result.
func (r *ClusterRequest) Params(defaults ClusterParams) (ClusterParams, error) {
	p := defaults
	if r.Eps != nil {
		p.Eps = *r.Eps
	}
	if r.MinSamples != nil {
		p.MinSamples = *r.MinSamples
	}
	if r.RequireMultiSource != nil {
		p.DiversityEnabled = *r.RequireMultiSource
	}
	if r.MinDistinctSources != nil {
		p.MinDistinctSources = *r.MinDistinctSources
	}
	if r.MaxSourceDominance != nil {
		p.MaxSourceDominance = *r.MaxSourceDominance
	}
	if err := p.Validate(); err != nil {
		return ClusterParams{}, err
	}
	return p, nil
}

// EmbeddingItems converts the wire items into domain items.
// Malformed embeddings become empty vectors and are rejected by validation downstream.
func (r *ClusterRequest) EmbeddingItems() []EmbeddingItem {
	items := make([]EmbeddingItem, len(r.Items))
	for i, it := range r.Items {
		source := DefaultSource
		if it.Source != nil {
			source = *it.Source
		}
		var vector []float64
		if !it.Embedding.Malformed {
			vector = it.Embedding.Values
		}
		items[i] = EmbeddingItem{ID: it.ID, Vector: vector, Source: source}
	}
	return items
}
