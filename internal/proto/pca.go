package proto

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// PCA returns the leading dr principal directions of X (D × N) as the columns of
// a D × dr matrix. Each direction is signed so its largest component is positive.
func PCA(X mat.Matrix, dr int) (*mat.Dense, error) {
	d, n := X.Dims()
	if dr < 1 || dr > d {
		return nil, fmt.Errorf("cannot take %d principal directions of %d-dimensional data", dr, d)
	}
	if n < 2 {
		return nil, fmt.Errorf("need at least two samples for PCA, got %d", n)
	}

	// samples as rows, centered
	centered := mat.DenseCopyOf(X.T())
	for i := 0; i < d; i++ {
		var mean float64
		for j := 0; j < n; j++ {
			mean += centered.At(j, i)
		}
		mean /= float64(n)
		for j := 0; j < n; j++ {
			centered.Set(j, i, centered.At(j, i)-mean)
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(centered, mat.SVDThin); !ok {
		return nil, fmt.Errorf("singular value decomposition failed")
	}
	var v mat.Dense
	svd.VTo(&v)

	_, avail := v.Dims()
	if dr > avail {
		return nil, fmt.Errorf("only %d principal directions from %d samples, want %d", avail, n, dr)
	}

	out := mat.DenseCopyOf(v.Slice(0, d, 0, dr))
	for c := 0; c < dr; c++ {
		big := 0.0
		for i := 0; i < d; i++ {
			if x := out.At(i, c); math.Abs(x) > math.Abs(big) {
				big = x
			}
		}
		if big < 0 {
			for i := 0; i < d; i++ {
				out.Set(i, c, -out.At(i, c))
			}
		}
	}
	return out, nil
}
