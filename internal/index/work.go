// Package index implements the soft nearest-prototype regression index: pairwise
// distances between projected samples and prototypes, inverse-distance weighted
// predictions, the tanh-saturated training objective and its analytic gradients.
package index

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/sawpanic/protoreg/internal/config"
)

var (
	// ErrDegenerateDistances is returned when every sample-prototype distance is zero
	ErrDegenerateDistances = errors.New("degenerate distances: every sample coincides with every prototype")
	// ErrMetricNotImplemented is returned for metrics without a gradient implementation
	ErrMetricNotImplemented = errors.New("metric not implemented in the gradient path")
	// ErrShape is returned when operand dimensions disagree
	ErrShape = errors.New("index operand shape mismatch")
)

// Work holds the per-call invariants of an index evaluation. It is derived data:
// rebuild it (or call Fit) whenever Nx, Np or DD change. Work is not safe for
// concurrent use; every concurrent evaluation owns its own copy.
type Work struct {
	Nx, Np, DD int

	Slope     float64
	Metric    config.Metric
	PPMode    config.PPMode
	ErrorStat config.ErrorStat

	// TargetScale is the per-dimension std that was divided out of the targets,
	// used to report E in the original target units.
	TargetScale []float64
	errScale    []float64
}

// Options carries the configuration a Work is built from
type Options struct {
	Slope       float64
	Metric      config.Metric
	PPMode      config.PPMode
	ErrorStat   config.ErrorStat
	TargetScale []float64 // nil means unit scale
}

// NewWork builds the working set for nx samples, np prototypes and dd dependent dimensions
func NewWork(nx, np, dd int, opts Options) (*Work, error) {
	if opts.Metric != config.MetricEuclidean && opts.Metric != config.MetricCosine {
		return nil, fmt.Errorf("%w: %s", ErrMetricNotImplemented, opts.Metric)
	}
	if opts.TargetScale != nil && len(opts.TargetScale) != dd {
		return nil, fmt.Errorf("%w: target scale has %d entries, want %d", ErrShape, len(opts.TargetScale), dd)
	}

	w := &Work{
		Slope:     opts.Slope,
		Metric:    opts.Metric,
		PPMode:    opts.PPMode,
		ErrorStat: opts.ErrorStat,
	}
	if opts.TargetScale != nil {
		w.TargetScale = append([]float64(nil), opts.TargetScale...)
	}
	w.Fit(nx, np, dd)
	return w, nil
}

// Fit recomputes the derived vectors for new sizes
func (w *Work) Fit(nx, np, dd int) {
	w.Nx, w.Np, w.DD = nx, np, dd

	if len(w.TargetScale) != dd {
		w.TargetScale = make([]float64, dd)
		for k := range w.TargetScale {
			w.TargetScale[k] = 1
		}
	}

	w.errScale = make([]float64, dd)
	for k, sd := range w.TargetScale {
		if w.ErrorStat == config.ErrorMAD {
			w.errScale[k] = sd
		} else {
			w.errScale[k] = sd * sd
		}
	}
}

// Clone returns an independent copy
func (w *Work) Clone() *Work {
	c := *w
	c.TargetScale = append([]float64(nil), w.TargetScale...)
	c.errScale = append([]float64(nil), w.errScale...)
	return &c
}

func (w *Work) check(rP, PP, rX, XX mat.Matrix) error {
	drP, np := rP.Dims()
	drX, nx := rX.Dims()
	ddP, npPP := PP.Dims()
	ddX, nxXX := XX.Dims()

	switch {
	case drP != drX:
		return fmt.Errorf("%w: prototypes have %d projected dims, samples %d", ErrShape, drP, drX)
	case np != npPP:
		return fmt.Errorf("%w: %d prototypes but %d prototype targets", ErrShape, np, npPP)
	case nx != nxXX:
		return fmt.Errorf("%w: %d samples but %d targets", ErrShape, nx, nxXX)
	case ddP != ddX || ddP != w.DD:
		return fmt.Errorf("%w: dependent dims %d/%d, working set %d", ErrShape, ddP, ddX, w.DD)
	case np != w.Np:
		return fmt.Errorf("%w: %d prototypes, working set %d", ErrShape, np, w.Np)
	}
	return nil
}
