package distance

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// basis is an orthonormal tangent basis, one row per direction
type basis struct {
	q *mat.Dense // k × D
}

func newBasis(t mat.Matrix, d int) (basis, error) {
	rows, k := t.Dims()
	if rows != d {
		return basis{}, fmt.Errorf("tangent basis has %d rows, points are %d-dimensional", rows, d)
	}
	if k == 0 {
		return basis{}, nil
	}
	if k > d {
		return basis{}, fmt.Errorf("%d tangents span at most %d dimensions", k, d)
	}

	var qr mat.QR
	qr.Factorize(t)
	var q mat.Dense
	qr.QTo(&q)
	return basis{q: mat.DenseCopyOf(q.Slice(0, d, 0, k).T())}, nil
}

// residual returns |r|² - |Qᵗr|², the squared distance left after moving the
// tangent-carrying point optimally along its tangent plane
func (b basis) residual(r []float64) float64 {
	sq := floats.Dot(r, r)
	if b.q == nil {
		return sq
	}
	k, _ := b.q.Dims()
	for i := 0; i < k; i++ {
		c := floats.Dot(b.q.RawRowView(i), r)
		sq -= c * c
	}
	if sq < 0 {
		return 0
	}
	return sq
}

func bases(ts []mat.Matrix, n, d int, side string) ([]basis, error) {
	if len(ts) != n {
		return nil, fmt.Errorf("%w: %d %s bases for %d points", ErrMissingTangents, len(ts), side, n)
	}
	out := make([]basis, n)
	for i, t := range ts {
		b, err := newBasis(t, d)
		if err != nil {
			return nil, fmt.Errorf("%s basis %d: %w", side, i, err)
		}
		out[i] = b
	}
	return out, nil
}

func tangent(out, a, b *mat.Dense, opts Options) (*mat.Dense, error) {
	na, d := a.Dims()
	nb, _ := b.Dims()

	var ref, obs []basis
	var err error
	if opts.Kind != ObsTangent {
		if ref, err = bases(opts.Tangents.Ref, nb, d, "reference"); err != nil {
			return nil, err
		}
	}
	if opts.Kind != RefTangent {
		if obs, err = bases(opts.Tangents.Obs, na, d, "observation"); err != nil {
			return nil, err
		}
	}

	r := make([]float64, d)
	for i := 0; i < na; i++ {
		x := a.RawRowView(i)
		row := out.RawRowView(i)
		for j := 0; j < nb; j++ {
			floats.SubTo(r, x, b.RawRowView(j))
			switch opts.Kind {
			case RefTangent:
				row[j] = ref[j].residual(r)
			case ObsTangent:
				row[j] = obs[i].residual(r)
			default:
				row[j] = (ref[j].residual(r) + obs[i].residual(r)) / 2
			}
		}
	}
	return out, nil
}
