package clustering

import (
	"math"
	"runtime"

	"github.com/thebtf/incident-cluster/pkg/models"
	"golang.org/x/sync/errgroup"
)

const (
	// parallelThreshold is the working-set size above which core detection runs in parallel.
	parallelThreshold = 256

	// rowBlock is the number of rows handled by one goroutine during core detection.
	rowBlock = 64

	unassigned = -2
)

// DBSCAN assigns each vector a cluster label or models.NoiseLabel.
//
// A point is core when at least minSamples vectors (itself included) lie within
// Euclidean distance eps. Clusters grow breadth-first from core points; a border
// point joins the first cluster that reaches it. Labels are numbered from 0 in
// order of discovery while scanning vectors in slice order, so the output is a
// pure function of the input.
func DBSCAN(vectors [][]float64, eps float64, minSamples int) []int {
	n := len(vectors)
	labels := make([]int, n)
	if n == 0 {
		return labels
	}
	for i := range labels {
		labels[i] = unassigned
	}

	eps2 := eps * eps
	core := coreFlags(vectors, eps2, minSamples)

	next := 0
	queue := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if labels[i] != unassigned || !core[i] {
			continue
		}

		label := next
		next++
		labels[i] = label
		queue = append(queue[:0], i)

		for len(queue) > 0 {
			p := queue[0]
			queue = queue[1:]

			// Only core points are ever queued.
			for _, q := range rangeQuery(vectors, p, eps2) {
				if labels[q] != unassigned {
					continue
				}
				labels[q] = label
				if core[q] {
					queue = append(queue, q)
				}
			}
		}
	}

	for i, l := range labels {
		if l == unassigned {
			labels[i] = models.NoiseLabel
		}
	}
	return labels
}

// coreFlags marks core points. Small sets are scanned sequentially; larger sets
// are split into row blocks evaluated concurrently, each block writing only its own rows.
func coreFlags(vectors [][]float64, eps2 float64, minSamples int) []bool {
	n := len(vectors)
	core := make([]bool, n)

	markRow := func(i int) {
		count := 0
		for j := range vectors {
			if squaredDistance(vectors[i], vectors[j]) <= eps2 {
				count++
				if count >= minSamples {
					core[i] = true
					return
				}
			}
		}
	}

	if n <= parallelThreshold {
		for i := 0; i < n; i++ {
			markRow(i)
		}
		return core
	}

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for start := 0; start < n; start += rowBlock {
		end := min(start+rowBlock, n)
		g.Go(func() error {
			for i := start; i < end; i++ {
				markRow(i)
			}
			return nil
		})
	}
	_ = g.Wait()

	return core
}

// rangeQuery returns, in ascending order, the indices of all vectors within
// sqrt(eps2) of vectors[idx], including idx itself.
func rangeQuery(vectors [][]float64, idx int, eps2 float64) []int {
	var result []int
	q := vectors[idx]
	for i, v := range vectors {
		if squaredDistance(q, v) <= eps2 {
			result = append(result, i)
		}
	}
	return result
}

// squaredDistance returns the squared Euclidean distance between a and b,
// or +Inf when their dimensions differ.
func squaredDistance(a, b []float64) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
