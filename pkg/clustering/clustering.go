// Package clustering groups embedding vectors into density-based clusters and
// keeps only the clusters corroborated by more than one independent source.
//
// The pipeline is Validate → DBSCAN → FilterDiversity → Assemble. Every stage
// works on positions in the original input, so ids are only attached at the end
// and repeated ids can never be confused with one another.
package clustering

import (
	"github.com/thebtf/incident-cluster/pkg/models"
)

// Stats summarises one pipeline run.
type Stats struct {
	Items    int // Items received
	Valid    int // Items that entered the clusterer
	Invalid  int // Items rejected by validation
	Clusters int // Clusters found by DBSCAN
	Accepted int // Clusters that passed the diversity check
	Rejected int // Clusters demoted to noise
	Noise    int // Items reported as noise, invalid items included
}

// Result is the outcome of Run.
type Result struct {
	Records    []models.ResultRecord
	Rejections []Rejection
	Verdicts   []ClusterVerdict
	Stats      Stats
}

// Run executes the full pipeline. The returned records have the same length
// and order as items. An error is returned only for invalid params.
func Run(items []models.EmbeddingItem, params models.ClusterParams) (*Result, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	res := &Result{Records: []models.ResultRecord{}}
	res.Stats.Items = len(items)
	if len(items) == 0 {
		return res, nil
	}

	points, rejected := Validate(items)
	res.Rejections = rejected
	res.Stats.Valid = len(points)
	res.Stats.Invalid = len(rejected)

	if len(points) == 0 {
		res.Records = Assemble(items, nil, nil)
		res.Stats.Noise = len(items)
		return res, nil
	}

	vectors := make([][]float64, len(points))
	sources := make([]string, len(points))
	for k, p := range points {
		vectors[k] = p.Vector
		sources[k] = items[p.Index].Source
	}

	labels := DBSCAN(vectors, params.Eps, params.MinSamples)
	labels, verdicts := FilterDiversity(labels, sources, params)
	res.Verdicts = verdicts
	res.Records = Assemble(items, points, labels)

	res.Stats.Clusters = len(verdicts)
	for _, v := range verdicts {
		if v.Accepted {
			res.Stats.Accepted++
		} else {
			res.Stats.Rejected++
		}
	}
	for _, r := range res.Records {
		if r.IsNoise() {
			res.Stats.Noise++
		}
	}

	return res, nil
}
