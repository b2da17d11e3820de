// Package proto builds the initial prototypes and the default projection.
package proto

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/sawpanic/protoreg/internal/config"
)

var (
	// ErrTooManyTargets is returned by the grid initializer for more than two
	// dependent dimensions
	ErrTooManyTargets = errors.New("grid initialization supports at most two dependent dimensions")
	// ErrNoSamples is returned when there is nothing to initialize from
	ErrNoSamples = errors.New("no samples to initialize prototypes from")
)

// Options configures Initialize
type Options struct {
	Method      config.InitMethod
	Extrapolate float64 // fraction of a bin width added on each side of the target range
	Multimodal  int     // prototypes per grid bin
	KMeansIters int
}

// OptionsFrom extracts the initializer options from the configuration
func OptionsFrom(cfg config.InitConfig) Options {
	return Options{
		Method:      cfg.Method,
		Extrapolate: cfg.Extrapolate,
		Multimodal:  cfg.Multimodal,
		KMeansIters: cfg.KMeansIters,
	}
}

// Count returns the number of prototypes Initialize produces for dd dependent
// dimensions
func (o Options) Count(m, dd int) int {
	if o.Method == config.InitKMeans {
		return m
	}
	n := 1
	for k := 0; k < dd; k++ {
		n *= m
	}
	return n * max(o.Multimodal, 1)
}

// Initialize places prototypes P0 (D × Np) with targets PP0 (DD × Np) from the
// samples X (D × N) and XX (DD × N). m is the number of grid centers per
// dependent dimension, or the number of clusters for the k-means method.
// rng drives k-means seeding and the fallback for empty clusters.
func Initialize(X, XX mat.Matrix, m int, opts Options, rng *rand.Rand) (P0, PP0 *mat.Dense, err error) {
	_, n := X.Dims()
	dd, nn := XX.Dims()
	switch {
	case n == 0:
		return nil, nil, ErrNoSamples
	case n != nn:
		return nil, nil, fmt.Errorf("inputs have %d samples but targets %d", n, nn)
	case m < 1:
		return nil, nil, fmt.Errorf("need at least one prototype, got %d", m)
	case rng == nil:
		return nil, nil, fmt.Errorf("prototype initialization needs a random source")
	}

	switch opts.Method {
	case config.InitGrid:
		if dd > 2 {
			return nil, nil, fmt.Errorf("%w: got %d", ErrTooManyTargets, dd)
		}
		return grid(X, XX, m, opts, rng)
	case config.InitKMeans:
		return joint(X, XX, m, opts, rng)
	default:
		return nil, nil, fmt.Errorf("unknown initialization method %s", opts.Method)
	}
}

// joint clusters the stacked (X, XX) space and splits the centroids back
func joint(X, XX mat.Matrix, m int, opts Options, rng *rand.Rand) (*mat.Dense, *mat.Dense, error) {
	d, n := X.Dims()
	dd, _ := XX.Dims()

	stacked := mat.NewDense(d+dd, n, nil)
	stacked.Slice(0, d, 0, n).(*mat.Dense).Copy(X)
	stacked.Slice(d, d+dd, 0, n).(*mat.Dense).Copy(XX)

	centers, _ := KMeans(stacked, m, opts.KMeansIters, rng)
	P := mat.DenseCopyOf(centers.Slice(0, d, 0, m))
	PP := mat.DenseCopyOf(centers.Slice(d, d+dd, 0, m))
	return P, PP, nil
}
