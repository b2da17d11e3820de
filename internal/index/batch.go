package index

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// EvaluateBatch evaluates the index on a mini-batch: rX (Dr × b) and XX (DD × b)
// hold the sampled columns, see Columns. Unlike Evaluate it always returns E, J
// and the gradients, averaged over the batch.
func (w *Work) EvaluateBatch(rP, PP, rX, XX mat.Matrix) (Result, error) {
	if _, b := rX.Dims(); b == 0 {
		return Result{}, fmt.Errorf("%w: empty mini-batch", ErrShape)
	}
	if err := w.check(rP, PP, rX, XX); err != nil {
		return Result{}, err
	}
	return w.evaluate(rP, PP, rX, XX, true)
}

// Columns gathers the listed columns of m (repeats allowed) into a new matrix
func Columns(m mat.Matrix, idx []int) (*mat.Dense, error) {
	rows, cols := m.Dims()
	out := mat.NewDense(rows, len(idx), nil)
	for j, c := range idx {
		if c < 0 || c >= cols {
			return nil, fmt.Errorf("%w: column %d out of range [0,%d)", ErrShape, c, cols)
		}
		for i := 0; i < rows; i++ {
			out.Set(i, j, m.At(i, c))
		}
	}
	return out, nil
}
