package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/sawpanic/protoreg/internal/config"
	"github.com/sawpanic/protoreg/internal/distance"
	"github.com/sawpanic/protoreg/internal/index"
)

// Predict returns the soft nearest-prototype prediction (DD × N) for the raw
// samples X (D × N)
func (m *Model) Predict(X mat.Matrix) (*mat.Dense, error) {
	B, P, PP, err := m.Matrices()
	if err != nil {
		return nil, err
	}
	rX, rP, err := project(B, P, X)
	if err != nil {
		return nil, err
	}
	metric, err := m.MetricValue()
	if err != nil {
		return nil, err
	}
	return index.Predict(rP, PP, rX, metric)
}

// EvalOptions configures Evaluate
type EvalOptions struct {
	ErrorStat config.ErrorStat
	// Nearest predicts with the target of the single nearest prototype under
	// Kind instead of the soft weighted average
	Nearest  bool
	Kind     distance.Kind
	Tangents distance.Tangents // projected-space bases for the tangent kinds
}

// Report holds evaluation errors in target units
type Report struct {
	Samples int       `json:"samples"`
	Error   float64   `json:"error"` // RMSE or MAD over all dependent dims, per ErrorStat
	RMSE    []float64 `json:"rmse"`  // per dependent dim
	MAD     []float64 `json:"mad"`
}

// Evaluate compares predictions for X (D × N) against XX (DD × N)
func (m *Model) Evaluate(X, XX mat.Matrix, opts EvalOptions) (*Report, error) {
	B, P, PP, err := m.Matrices()
	if err != nil {
		return nil, err
	}
	dd, n := XX.Dims()
	if ppd, _ := PP.Dims(); ppd != dd {
		return nil, fmt.Errorf("model predicts %d dependent dims, data has %d", ppd, dd)
	}
	if _, nx := X.Dims(); nx != n {
		return nil, fmt.Errorf("X has %d samples, XX has %d", nx, n)
	}

	var pred *mat.Dense
	if opts.Nearest {
		rX, rP, err := project(B, P, X)
		if err != nil {
			return nil, err
		}
		dist, err := distance.Pairwise(rX, rP, distance.Options{Kind: opts.Kind, Tangents: opts.Tangents})
		if err != nil {
			return nil, err
		}
		pred = mat.NewDense(dd, n, nil)
		for j, p := range distance.Nearest(dist) {
			pred.SetCol(j, mat.Col(nil, p, PP))
		}
	} else if pred, err = m.Predict(X); err != nil {
		return nil, err
	}

	rep := &Report{Samples: n, RMSE: make([]float64, dd), MAD: make([]float64, dd)}
	var sq, abs float64
	for k := 0; k < dd; k++ {
		var ks, ka float64
		for j := 0; j < n; j++ {
			r := pred.At(k, j) - XX.At(k, j)
			ks += r * r
			ka += math.Abs(r)
		}
		rep.RMSE[k] = math.Sqrt(ks / float64(n))
		rep.MAD[k] = ka / float64(n)
		sq += ks
		abs += ka
	}
	if opts.ErrorStat == config.ErrorMAD {
		rep.Error = abs / float64(n*dd)
	} else {
		rep.Error = math.Sqrt(sq / float64(n*dd))
	}
	return rep, nil
}

func project(B, P *mat.Dense, X mat.Matrix) (rX, rP *mat.Dense, err error) {
	bd, _ := B.Dims()
	if d, _ := X.Dims(); d != bd {
		return nil, nil, fmt.Errorf("model expects %d input dims, data has %d", bd, d)
	}
	rX = &mat.Dense{}
	rX.Mul(B.T(), X)
	rP = &mat.Dense{}
	rP.Mul(B.T(), P)
	return rX, rP, nil
}
