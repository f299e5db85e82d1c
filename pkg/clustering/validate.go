package clustering

import (
	"math"

	"github.com/thebtf/incident-cluster/pkg/models"
)

// Rejection reasons reported by Validate.
const (
	ReasonEmpty     = "empty embedding"
	ReasonNonFinite = "non-finite component"
	ReasonDimension = "dimension mismatch"
)

// Point is a validated vector together with its position in the original input.
type Point struct {
	Index  int
	Vector []float64
}

// Rejection records an input item excluded from clustering.
type Rejection struct {
	Index  int
	Reason string
}

// Validate builds the working set from the raw items, preserving input order.
// The reference dimension is taken from the first non-empty, finite vector;
// vectors of any other dimension are rejected.
func Validate(items []models.EmbeddingItem) ([]Point, []Rejection) {
	points := make([]Point, 0, len(items))
	var rejected []Rejection
	dim := 0

	for i, item := range items {
		if len(item.Vector) == 0 {
			rejected = append(rejected, Rejection{Index: i, Reason: ReasonEmpty})
			continue
		}
		if !allFinite(item.Vector) {
			rejected = append(rejected, Rejection{Index: i, Reason: ReasonNonFinite})
			continue
		}
		if dim == 0 {
			dim = len(item.Vector)
		} else if len(item.Vector) != dim {
			rejected = append(rejected, Rejection{Index: i, Reason: ReasonDimension})
			continue
		}
		points = append(points, Point{Index: i, Vector: item.Vector})
	}

	return points, rejected
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
