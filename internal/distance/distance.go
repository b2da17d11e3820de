// Package distance computes unclamped pairwise distances between point sets for
// evaluation and nearest-neighbour lookups. Training uses the index package.
package distance

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/sawpanic/protoreg/internal/config"
)

// ErrMissingTangents is returned when a tangent kind lacks its tangent bases
var ErrMissingTangents = errors.New("tangent distance needs a tangent basis per point")

// Kind selects the distance function
type Kind int

const (
	Euclidean  Kind = iota // squared euclidean
	Cosine                 // 1 - cosine similarity
	Hamming                // number of coordinates whose signs differ
	RefTangent             // one-sided tangent distance, tangents on the reference points
	ObsTangent             // one-sided tangent distance, tangents on the observations
	AvgTangent             // mean of the two one-sided distances
)

var kindNames = []string{"euclidean", "cosine", "hamming", "rtangent", "otangent", "atangent"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// Type implements pflag.Value
func (k *Kind) Type() string { return "kind" }

// Set parses a kind name
func (k *Kind) Set(s string) error {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range kindNames {
		if name == s {
			*k = Kind(i)
			return nil
		}
	}
	return fmt.Errorf("invalid distance kind %q (valid: %s)", s, strings.Join(kindNames, "|"))
}

// KindOf maps a configured metric to its distance kind
func KindOf(m config.Metric) Kind {
	switch m {
	case config.MetricCosine:
		return Cosine
	case config.MetricRefTangent:
		return RefTangent
	case config.MetricObsTangent:
		return ObsTangent
	case config.MetricAvgTangent:
		return AvgTangent
	default:
		return Euclidean
	}
}

// Tangents holds one D × k tangent basis per point. Ref belongs to the columns of
// the reference set, Obs to the columns of the observations.
type Tangents struct {
	Ref []mat.Matrix
	Obs []mat.Matrix
}

// Options configures Pairwise
type Options struct {
	Kind     Kind
	Tangents Tangents
}

// Pairwise returns the Na × Nb matrix of distances from every column of obs
// (D × Na) to every column of ref (D × Nb)
func Pairwise(obs, ref mat.Matrix, opts Options) (*mat.Dense, error) {
	d, na := obs.Dims()
	dr, nb := ref.Dims()
	if d != dr {
		return nil, fmt.Errorf("observations are %d-dimensional, references %d-dimensional", d, dr)
	}

	a := mat.DenseCopyOf(obs.T())
	b := mat.DenseCopyOf(ref.T())
	out := mat.NewDense(na, nb, nil)

	switch opts.Kind {
	case Euclidean:
		fill(out, a, b, sqEuclidean)
	case Cosine:
		fill(out, a, b, cosine)
	case Hamming:
		fill(out, a, b, hamming)
	case RefTangent, ObsTangent, AvgTangent:
		return tangent(out, a, b, opts)
	default:
		return nil, fmt.Errorf("unknown distance kind %s", opts.Kind)
	}
	return out, nil
}

func fill(out, a, b *mat.Dense, f func(x, y []float64) float64) {
	na, nb := out.Dims()
	for i := 0; i < na; i++ {
		x := a.RawRowView(i)
		row := out.RawRowView(i)
		for j := 0; j < nb; j++ {
			row[j] = f(x, b.RawRowView(j))
		}
	}
}

func sqEuclidean(x, y []float64) float64 {
	d := floats.Distance(x, y, 2)
	return d * d
}

func cosine(x, y []float64) float64 {
	nx, ny := floats.Norm(x, 2), floats.Norm(y, 2)
	if nx == 0 || ny == 0 {
		return 1
	}
	return 1 - floats.Dot(x, y)/(nx*ny)
}

func hamming(x, y []float64) float64 {
	var n float64
	for i := range x {
		if (x[i] > 0) != (y[i] > 0) {
			n++
		}
	}
	return n
}

// Nearest returns, for every row of dist, the column holding its smallest entry
func Nearest(dist mat.Matrix) []int {
	rows, cols := dist.Dims()
	out := make([]int, rows)
	for i := 0; i < rows; i++ {
		best := math.Inf(1)
		for j := 0; j < cols; j++ {
			if v := dist.At(i, j); v < best {
				best, out[i] = v, j
			}
		}
	}
	return out
}
