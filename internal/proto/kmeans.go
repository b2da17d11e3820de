package proto

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// KMeans clusters the columns of data (dims × N) into k centroids (dims × k)
// and returns them with the final assignment of every column. Centroids start
// at k distinct random columns (with repeats when N < k); a cluster that loses
// all its members is reseeded at a random column.
func KMeans(data mat.Matrix, k, iters int, rng *rand.Rand) (*mat.Dense, []int) {
	dims, n := data.Dims()
	centers := mat.NewDense(dims, k, nil)

	if n >= k {
		for c, j := range rng.Perm(n)[:k] {
			centers.SetCol(c, mat.Col(nil, j, data))
		}
	} else {
		for c := 0; c < k; c++ {
			j := c
			if c >= n {
				j = rng.IntN(n)
			}
			centers.SetCol(c, mat.Col(nil, j, data))
		}
	}

	assign := make([]int, n)
	assignAll(data, centers, assign)

	counts := make([]int, k)
	for it := 0; it < iters; it++ {
		sums := mat.NewDense(dims, k, nil)
		for c := range counts {
			counts[c] = 0
		}
		for j, c := range assign {
			counts[c]++
			for i := 0; i < dims; i++ {
				sums.Set(i, c, sums.At(i, c)+data.At(i, j))
			}
		}
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				centers.SetCol(c, mat.Col(nil, rng.IntN(n), data))
				continue
			}
			for i := 0; i < dims; i++ {
				centers.Set(i, c, sums.At(i, c)/float64(counts[c]))
			}
		}

		if !assignAll(data, centers, assign) {
			break
		}
	}
	return centers, assign
}

// assignAll moves every column to its nearest centroid and reports whether
// any assignment changed
func assignAll(data mat.Matrix, centers *mat.Dense, assign []int) bool {
	dims, n := data.Dims()
	_, k := centers.Dims()
	changed := false
	for j := 0; j < n; j++ {
		best, bestDist := 0, math.Inf(1)
		for c := 0; c < k; c++ {
			var dist float64
			for i := 0; i < dims; i++ {
				diff := data.At(i, j) - centers.At(i, c)
				dist += diff * diff
			}
			if dist < bestDist {
				best, bestDist = c, dist
			}
		}
		if assign[j] != best {
			assign[j] = best
			changed = true
		}
	}
	return changed
}
