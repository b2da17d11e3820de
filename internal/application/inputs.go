package application

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/sawpanic/protoreg/internal/config"
)

// ErrDimensionMismatch wraps every inconsistency between the supplied matrices
var ErrDimensionMismatch = errors.New("input dimension mismatch")

// Inputs are the raw matrices of one training run. Samples are columns.
type Inputs struct {
	X  *mat.Dense // D × N training inputs
	XX *mat.Dense // DD × N training targets

	// optional development set, used for reporting and best-so-far selection
	Y  *mat.Dense // D × Ny
	YY *mat.Dense // DD × Ny

	// optional initial model in the raw input space
	B0  *mat.Dense // D × Dr
	P0  *mat.Dense // D × Np
	PP0 *mat.Dense // DD × Np
}

// Dr returns the projected dimensionality the run starts from
func (in Inputs) Dr(cfg config.Config) int {
	if in.B0 != nil {
		_, dr := in.B0.Dims()
		return dr
	}
	return cfg.Dims
}

// checkInputs reports every shape or value problem at once, before any state exists
func checkInputs(in Inputs, cfg config.Config) error {
	if in.X == nil || in.XX == nil {
		return fmt.Errorf("%w: training inputs and targets are required", ErrDimensionMismatch)
	}

	var errs []error
	add := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	d, n := in.X.Dims()
	dd, nn := in.XX.Dims()
	if n != nn {
		add("X has %d samples, XX has %d", n, nn)
	}
	if n < 2 {
		add("need at least two training samples, got %d", n)
	}
	if !allFinite(in.X) || !allFinite(in.XX) {
		add("training data contains NaN or Inf")
	}

	if (in.Y == nil) != (in.YY == nil) {
		add("development set needs both Y and YY")
	} else if in.Y != nil {
		yd, ny := in.Y.Dims()
		ydd, nyy := in.YY.Dims()
		if yd != d {
			add("Y has %d rows, X has %d", yd, d)
		}
		if ydd != dd {
			add("YY has %d rows, XX has %d", ydd, dd)
		}
		if ny != nyy {
			add("Y has %d samples, YY has %d", ny, nyy)
		}
		if !allFinite(in.Y) || !allFinite(in.YY) {
			add("development data contains NaN or Inf")
		}
	}

	if in.B0 != nil {
		bd, dr := in.B0.Dims()
		if bd != d {
			add("B0 has %d rows, X has %d", bd, d)
		}
		if dr > d {
			add("B0 projects to %d dims, more than the %d input dims", dr, d)
		}
	} else if cfg.Dims > d {
		add("dims %d exceeds the %d input dims", cfg.Dims, d)
	}

	if (in.P0 == nil) != (in.PP0 == nil) {
		add("initial prototypes need both P0 and PP0")
	} else if in.P0 != nil {
		pd, np := in.P0.Dims()
		ppd, npp := in.PP0.Dims()
		if pd != d {
			add("P0 has %d rows, X has %d", pd, d)
		}
		if ppd != dd {
			add("PP0 has %d rows, XX has %d", ppd, dd)
		}
		if np != npp {
			add("P0 has %d prototypes, PP0 has %d", np, npp)
		}
	}

	if in.P0 == nil && cfg.Init.Method == config.InitGrid && dd > 2 {
		add("grid initialization supports at most two dependent dims, got %d", dd)
	}
	if cfg.CrossValidation.Folds > n {
		add("cannot split %d samples into %d folds", n, cfg.CrossValidation.Folds)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrDimensionMismatch, errors.Join(errs...))
}

func allFinite(m mat.Matrix) bool {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if v := m.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}
