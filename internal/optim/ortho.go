package optim

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/sawpanic/protoreg/internal/config"
)

// ErrRankDeficient is returned when the projection columns no longer span Dr
// dimensions, or hold non-finite values
var ErrRankDeficient = errors.New("projection is rank deficient")

// rankTol is the smallest |R_jj| relative to the largest one that still counts
// as an independent column
const rankTol = 1e-12

// Orthonormalize returns a D × Dr matrix with orthonormal columns spanning the
// columns of B. Column signs follow B so a nearly orthonormal input barely moves.
func Orthonormalize(B mat.Matrix) (*mat.Dense, error) {
	d, dr := B.Dims()
	if dr > d {
		return nil, fmt.Errorf("%w: cannot orthonormalize %d columns in %d dims", ErrShape, dr, d)
	}

	var qr mat.QR
	qr.Factorize(B)

	var q, r mat.Dense
	qr.QTo(&q)
	qr.RTo(&r)

	var maxDiag float64
	for j := 0; j < dr; j++ {
		v := math.Abs(r.At(j, j))
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: non-finite column %d", ErrRankDeficient, j)
		}
		maxDiag = math.Max(maxDiag, v)
	}
	for j := 0; j < dr; j++ {
		if math.Abs(r.At(j, j)) <= rankTol*maxDiag || maxDiag == 0 {
			return nil, fmt.Errorf("%w: column %d depends on the others", ErrRankDeficient, j)
		}
	}

	out := mat.DenseCopyOf(q.Slice(0, d, 0, dr))
	for j := 0; j < dr; j++ {
		if r.At(j, j) < 0 {
			for i := 0; i < d; i++ {
				out.Set(i, j, -out.At(i, j))
			}
		}
	}
	return out, nil
}

// Orthogonalize returns orthogonal columns of equal norm spanning B, keeping the
// Frobenius norm of B
func Orthogonalize(B mat.Matrix) (*mat.Dense, error) {
	_, dr := B.Dims()
	norm := mat.Norm(B, 2)

	out, err := Orthonormalize(B)
	if err != nil {
		return nil, err
	}
	out.Scale(norm/math.Sqrt(float64(dr)), out)
	return out, nil
}

// Constrain applies the configured orthogonality constraint to B
func Constrain(B *mat.Dense, mode config.OrthoMode) (*mat.Dense, error) {
	switch mode {
	case config.OrthoNormal:
		return Orthonormalize(B)
	case config.OrthoGonal:
		return Orthogonalize(B)
	default:
		return B, nil
	}
}
