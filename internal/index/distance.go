package index

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/sawpanic/protoreg/internal/config"
)

// geometry keeps the per-evaluation distance state the gradients need
type geometry struct {
	xt, pt *mat.Dense // samples (Nx × Dr) and prototypes (Np × Dr), one row per point
	dist   *mat.Dense // Nx × Np, clamped
	sim    *mat.Dense // cosine similarities, cosine metric only
	xnorm  []float64
	pnorm  []float64
	// clamped marks entries replaced by the clamp value; they carry no position gradient
	clamped []bool
}

// Distances returns the clamped Nx × Np distance matrix between the columns of rX
// and the columns of rP.
func Distances(rP, rX mat.Matrix, metric config.Metric) (*mat.Dense, error) {
	g, err := newGeometry(rP, rX, metric)
	if err != nil {
		return nil, err
	}
	return g.dist, nil
}

func newGeometry(rP, rX mat.Matrix, metric config.Metric) (*geometry, error) {
	g := &geometry{
		xt: mat.DenseCopyOf(rX.T()),
		pt: mat.DenseCopyOf(rP.T()),
	}

	switch metric {
	case config.MetricEuclidean:
		g.euclidean()
	case config.MetricCosine:
		g.cosine()
	default:
		return nil, fmt.Errorf("%w: %s", ErrMetricNotImplemented, metric)
	}

	if err := g.clamp(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *geometry) euclidean() {
	nx, dr := g.xt.Dims()
	np, _ := g.pt.Dims()
	g.dist = mat.NewDense(nx, np, nil)

	for n := 0; n < nx; n++ {
		x := g.xt.RawRowView(n)
		row := g.dist.RawRowView(n)
		for p := 0; p < np; p++ {
			proto := g.pt.RawRowView(p)
			var d float64
			for j := 0; j < dr; j++ {
				diff := x[j] - proto[j]
				d += diff * diff
			}
			row[p] = d
		}
	}
}

func (g *geometry) cosine() {
	nx, _ := g.xt.Dims()
	np, _ := g.pt.Dims()

	g.xnorm = normalizeRows(g.xt)
	g.pnorm = normalizeRows(g.pt)

	g.sim = mat.NewDense(nx, np, nil)
	g.sim.Mul(g.xt, g.pt.T())

	g.dist = mat.NewDense(nx, np, nil)
	g.dist.Apply(func(_, _ int, v float64) float64 { return 1 - v }, g.sim)
}

// normalizeRows scales every row to unit norm in place and returns the original
// norms. Zero rows stay zero.
func normalizeRows(m *mat.Dense) []float64 {
	rows, _ := m.Dims()
	norms := make([]float64, rows)
	for i := 0; i < rows; i++ {
		row := m.RawRowView(i)
		var ss float64
		for _, v := range row {
			ss += v * v
		}
		norms[i] = math.Sqrt(ss)
		if norms[i] == 0 {
			continue
		}
		for j := range row {
			row[j] /= norms[i]
		}
	}
	return norms
}

// clamp replaces non-positive distances by a tenth of the smallest positive one
func (g *geometry) clamp() error {
	raw := g.dist.RawMatrix()
	data := raw.Data

	minPos := math.Inf(1)
	nonPositive := 0
	for _, v := range data {
		if v > 0 {
			if v < minPos {
				minPos = v
			}
		} else {
			nonPositive++
		}
	}

	if math.IsInf(minPos, 1) {
		return ErrDegenerateDistances
	}

	g.clamped = make([]bool, len(data))
	if nonPositive == 0 {
		return nil
	}

	floor := 0.1 * minPos
	for i, v := range data {
		if v <= 0 {
			data[i] = floor
			g.clamped[i] = true
		}
	}
	return nil
}

// Weights returns the normalized inverse-distance weights (rows sum to one)
func Weights(dist mat.Matrix) *mat.Dense {
	wn, _, _ := inverseWeights(dist)
	return wn
}

// inverseWeights returns the normalized weights, the raw weights 1/dist and their row sums
func inverseWeights(dist mat.Matrix) (wn, w *mat.Dense, sums []float64) {
	nx, np := dist.Dims()
	w = mat.NewDense(nx, np, nil)
	w.Apply(func(_, _ int, v float64) float64 { return 1 / v }, dist)

	wn = mat.NewDense(nx, np, nil)
	sums = make([]float64, nx)
	for n := 0; n < nx; n++ {
		row := w.RawRowView(n)
		var s float64
		for _, v := range row {
			s += v
		}
		sums[n] = s
		out := wn.RawRowView(n)
		for p, v := range row {
			out[p] = v / s
		}
	}
	return wn, w, sums
}
