package clustering

import "github.com/thebtf/incident-cluster/pkg/models"

// Assemble maps working-set labels back onto the original items.
// labels[k] belongs to points[k]. Items absent from the working set, and items
// labeled noise, are reported as noise with size 0.
func Assemble(items []models.EmbeddingItem, points []Point, labels []int) []models.ResultRecord {
	sizes := make(map[int]int)
	for _, label := range labels {
		if label != models.NoiseLabel {
			sizes[label]++
		}
	}

	records := make([]models.ResultRecord, len(items))
	for i, item := range items {
		records[i] = models.ResultRecord{ID: item.ID, EventClusterID: models.NoiseLabel}
	}
	for k, p := range points {
		label := labels[k]
		if label == models.NoiseLabel {
			continue
		}
		records[p.Index].EventClusterID = label
		records[p.Index].ClusterSize = sizes[label]
	}

	return records
}
