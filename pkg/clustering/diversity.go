package clustering

import (
	"strings"

	"github.com/thebtf/incident-cluster/pkg/models"
)

// Rejection reasons reported for clusters failing the diversity check.
const (
	ReasonTooFewSources  = "too few distinct sources"
	ReasonDominantSource = "dominant source"
)

// Cluster is a candidate group produced by DBSCAN.
// Members are working-set positions in ascending order; Sources lists the
// distinct normalized source tokens in order of first appearance.
type Cluster struct {
	Label   int
	Members []int
	Sources []string
	Counts  map[string]int
}

// DistinctSources returns the number of distinct non-empty normalized sources.
func (c *Cluster) DistinctSources() int {
	return len(c.Sources)
}

// Dominance returns the share of members attributable to the most frequent source.
// Members with an empty source count towards the total but never towards a share.
func (c *Cluster) Dominance() float64 {
	if len(c.Members) == 0 {
		return 0
	}
	top := 0
	for _, src := range c.Sources {
		if n := c.Counts[src]; n > top {
			top = n
		}
	}
	return float64(top) / float64(len(c.Members))
}

// ClusterVerdict is the diversity decision for one cluster.
type ClusterVerdict struct {
	Cluster  *Cluster
	Accepted bool
	Reason   string
}

// NormalizeSource trims surrounding whitespace and lowercases a source label.
func NormalizeSource(source string) string {
	return strings.ToLower(strings.TrimSpace(source))
}

// GroupClusters collects the non-noise labels into clusters ordered by label discovery.
// sources[k] is the raw source of working-set position k.
func GroupClusters(labels []int, sources []string) []*Cluster {
	var ordered []*Cluster
	byLabel := make(map[int]*Cluster)

	for k, label := range labels {
		if label == models.NoiseLabel {
			continue
		}
		c, ok := byLabel[label]
		if !ok {
			c = &Cluster{Label: label, Counts: make(map[string]int)}
			byLabel[label] = c
			ordered = append(ordered, c)
		}
		c.Members = append(c.Members, k)

		src := NormalizeSource(sources[k])
		if src == "" {
			continue
		}
		if _, seen := c.Counts[src]; !seen {
			c.Sources = append(c.Sources, src)
		}
		c.Counts[src]++
	}

	return ordered
}

// Judge applies the distinct-source and dominance rules to a single cluster.
func Judge(c *Cluster, params models.ClusterParams) ClusterVerdict {
	if !params.DiversityEnabled {
		return ClusterVerdict{Cluster: c, Accepted: true}
	}
	if c.DistinctSources() < params.MinDistinctSources {
		return ClusterVerdict{Cluster: c, Reason: ReasonTooFewSources}
	}
	if c.Dominance() > params.MaxSourceDominance {
		return ClusterVerdict{Cluster: c, Reason: ReasonDominantSource}
	}
	return ClusterVerdict{Cluster: c, Accepted: true}
}

// FilterDiversity relabels members of clusters lacking cross-source corroboration as noise.
// Accepted clusters keep their original labels. The input labels are not modified.
func FilterDiversity(labels []int, sources []string, params models.ClusterParams) ([]int, []ClusterVerdict) {
	filtered := make([]int, len(labels))
	copy(filtered, labels)

	clusters := GroupClusters(labels, sources)
	verdicts := make([]ClusterVerdict, 0, len(clusters))
	for _, c := range clusters {
		v := Judge(c, params)
		if !v.Accepted {
			for _, k := range c.Members {
				filtered[k] = models.NoiseLabel
			}
		}
		verdicts = append(verdicts, v)
	}

	return filtered, verdicts
}
