package optim

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/sawpanic/protoreg/internal/config"
)

// ErrShape is returned when the problem and the initial parameters disagree
var ErrShape = errors.New("training operand shape mismatch")

// Params is the training iterate: projection B (D × Dr), prototypes P (D × Np)
// and prototype targets PP (DD × Np).
type Params struct {
	B  *mat.Dense
	P  *mat.Dense
	PP *mat.Dense
}

// Clone returns a deep copy
func (p Params) Clone() Params {
	return Params{
		B:  mat.DenseCopyOf(p.B),
		P:  mat.DenseCopyOf(p.P),
		PP: mat.DenseCopyOf(p.PP),
	}
}

// Dr returns the projected dimensionality
func (p Params) Dr() int {
	_, dr := p.B.Dims()
	return dr
}

// Np returns the number of prototypes
func (p Params) Np() int {
	_, np := p.P.Dims()
	return np
}

// Project returns Bᵗ·M
func (p Params) Project(M mat.Matrix) *mat.Dense {
	_, dr := p.B.Dims()
	_, n := M.Dims()
	out := mat.NewDense(dr, n, nil)
	out.Mul(p.B.T(), M)
	return out
}

// Problem is a standardized training set with an optional development set used
// only for reporting and best-so-far selection.
type Problem struct {
	X, XX *mat.Dense // D × Nx, DD × Nx
	Y, YY *mat.Dense // optional, D × Ny, DD × Ny

	// TargetScale is the per-dimension std divided out of the targets (nil = 1)
	TargetScale []float64
}

// HasDevelopment reports whether a development set is attached
func (pr Problem) HasDevelopment() bool { return pr.Y != nil && pr.YY != nil }

func (pr Problem) check(init Params) error {
	if pr.X == nil || pr.XX == nil || init.B == nil || init.P == nil || init.PP == nil {
		return fmt.Errorf("%w: missing matrix", ErrShape)
	}
	d, nx := pr.X.Dims()
	dd, nxx := pr.XX.Dims()
	bd, dr := init.B.Dims()
	pd, np := init.P.Dims()
	ppd, npp := init.PP.Dims()

	switch {
	case nx != nxx:
		return fmt.Errorf("%w: X has %d samples, XX has %d", ErrShape, nx, nxx)
	case bd != d:
		return fmt.Errorf("%w: B has %d rows, X has %d", ErrShape, bd, d)
	case dr > d:
		return fmt.Errorf("%w: projection to %d dims exceeds input dimensionality %d", ErrShape, dr, d)
	case pd != d:
		return fmt.Errorf("%w: P has %d rows, X has %d", ErrShape, pd, d)
	case ppd != dd:
		return fmt.Errorf("%w: PP has %d rows, XX has %d", ErrShape, ppd, dd)
	case np != npp:
		return fmt.Errorf("%w: P has %d prototypes, PP has %d", ErrShape, np, npp)
	case pr.TargetScale != nil && len(pr.TargetScale) != dd:
		return fmt.Errorf("%w: %d target scales for %d dependent dims", ErrShape, len(pr.TargetScale), dd)
	}

	if (pr.Y == nil) != (pr.YY == nil) {
		return fmt.Errorf("%w: development set needs both Y and YY", ErrShape)
	}
	if pr.HasDevelopment() {
		yd, ny := pr.Y.Dims()
		ydd, nyy := pr.YY.Dims()
		if yd != d || ydd != dd || ny != nyy {
			return fmt.Errorf("%w: development set is %d×%d / %d×%d, want %d×N / %d×N", ErrShape, yd, ny, ydd, nyy, d, dd)
		}
	}
	return nil
}

// Best is the best-so-far record. J and E are the selection statistics: measured
// on the development set when one is attached, on the training set otherwise.
type Best struct {
	Iteration    int     `json:"iteration"`
	J            float64 `json:"j"`
	E            float64 `json:"e"`
	Improvements int     `json:"improvements"`
	Checks       int     `json:"checks"`

	Params Params `json:"-"`
}

// better reports whether (j, e) strictly improves on the record under the
// primary criterion, the other statistic breaking ties
func (b *Best) better(j, e float64, crit config.Criterion) bool {
	if !finite(j) || !finite(e) {
		return false
	}
	if crit == config.CriterionError {
		return e < b.E || (e == b.E && j < b.J)
	}
	return j < b.J || (j == b.J && e < b.E)
}

// offer records a check and snapshots params when they improve on the record.
// Non-finite statistics are counted but never recorded.
func (b *Best) offer(iter int, j, e float64, crit config.Criterion, params Params) bool {
	b.Checks++
	if !finite(j) || !finite(e) {
		return false
	}
	if !b.Empty() {
		if !b.better(j, e, crit) {
			return false
		}
		b.Improvements++
	}
	b.Iteration, b.J, b.E = iter, j, e
	b.Params = params.Clone()
	return true
}

// Empty reports whether no check has been recorded yet
func (b Best) Empty() bool { return b.Params.B == nil }

// ImprovementFraction is the share of checks after the first that improved the record
func (b Best) ImprovementFraction() float64 {
	if b.Checks <= 1 {
		return 0
	}
	return float64(b.Improvements) / float64(b.Checks-1)
}

// Criterion returns the selection statistic named by crit
func (b Best) Criterion(crit config.Criterion) float64 {
	if crit == config.CriterionError {
		return b.E
	}
	return b.J
}
