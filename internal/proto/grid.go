package proto

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Centers returns m equally spaced centers over [lo, hi], widened on each side
// by extrapolate bin widths. A single center sits in the middle of the range.
func Centers(lo, hi float64, m int, extrapolate float64) []float64 {
	if m == 1 {
		return []float64{(lo + hi) / 2}
	}
	width := (hi - lo) / float64(m-1)
	lo -= extrapolate * width
	hi += extrapolate * width

	out := make([]float64, m)
	floats.Span(out, lo, hi)
	return out
}

func nearest(centers []float64, v float64) int {
	best, bestDist := 0, math.Inf(1)
	for i, c := range centers {
		if d := math.Abs(v - c); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// grid bins the dependent space into m centers per dimension. Each bin yields
// Multimodal prototypes targeting the bin center; their positions are the mean
// of the bin's samples (k-means split when Multimodal > 1), or the sample whose
// target is nearest the center when the bin is empty.
func grid(X, XX mat.Matrix, m int, opts Options, rng *rand.Rand) (*mat.Dense, *mat.Dense, error) {
	d, n := X.Dims()
	dd, _ := XX.Dims()
	modes := max(opts.Multimodal, 1)

	axes := make([][]float64, dd)
	row := make([]float64, n)
	for k := 0; k < dd; k++ {
		mat.Row(row, k, XX)
		axes[k] = Centers(floats.Min(row), floats.Max(row), m, opts.Extrapolate)
	}

	bins := 1
	for k := 0; k < dd; k++ {
		bins *= m
	}

	// bin index is mixed radix over the dependent dimensions, first dimension fastest
	members := make([][]int, bins)
	for j := 0; j < n; j++ {
		b, stride := 0, 1
		for k := 0; k < dd; k++ {
			b += nearest(axes[k], XX.At(k, j)) * stride
			stride *= m
		}
		members[b] = append(members[b], j)
	}

	P := mat.NewDense(d, bins*modes, nil)
	PP := mat.NewDense(dd, bins*modes, nil)
	center := make([]float64, dd)
	for b := 0; b < bins; b++ {
		rem := b
		for k := 0; k < dd; k++ {
			center[k] = axes[k][rem%m]
			rem /= m
		}

		var pos *mat.Dense
		switch idx := members[b]; {
		case len(idx) == 0:
			pos = replicate(column(X, closestTarget(XX, center)), modes)
		case modes == 1:
			pos = mean(X, idx)
		default:
			sub := mat.NewDense(d, len(idx), nil)
			for c, j := range idx {
				sub.SetCol(c, mat.Col(nil, j, X))
			}
			pos, _ = KMeans(sub, modes, opts.KMeansIters, rng)
		}

		for q := 0; q < modes; q++ {
			col := b*modes + q
			P.SetCol(col, mat.Col(nil, q, pos))
			PP.SetCol(col, center)
		}
	}
	return P, PP, nil
}

func mean(X mat.Matrix, idx []int) *mat.Dense {
	d, _ := X.Dims()
	out := mat.NewDense(d, 1, nil)
	for i := 0; i < d; i++ {
		var sum float64
		for _, j := range idx {
			sum += X.At(i, j)
		}
		out.Set(i, 0, sum/float64(len(idx)))
	}
	return out
}

func column(X mat.Matrix, j int) []float64 {
	return mat.Col(nil, j, X)
}

func replicate(col []float64, k int) *mat.Dense {
	out := mat.NewDense(len(col), k, nil)
	for q := 0; q < k; q++ {
		out.SetCol(q, col)
	}
	return out
}

// closestTarget returns the sample whose target vector is nearest c
func closestTarget(XX mat.Matrix, c []float64) int {
	dd, n := XX.Dims()
	best, bestDist := 0, math.Inf(1)
	for j := 0; j < n; j++ {
		var dist float64
		for k := 0; k < dd; k++ {
			diff := XX.At(k, j) - c[k]
			dist += diff * diff
		}
		if dist < bestDist {
			best, bestDist = j, dist
		}
	}
	return best
}
