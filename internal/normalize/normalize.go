// Package normalize standardizes inputs and targets before training and maps the
// learned parameters back to the original scales afterwards.
package normalize

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/sawpanic/protoreg/internal/config"
)

// ErrNoVariance is returned when every input dimension is constant
var ErrNoVariance = errors.New("every input dimension has zero variance")

// Stats records the transformation applied to one dataset
type Stats struct {
	Mode config.NormMode `json:"mode"`
	Dr   int             `json:"dr"`
	D    int             `json:"d"`

	Keep    []int     `json:"keep"`    // retained input dimensions
	Dropped []int     `json:"dropped"` // zero-variance input dimensions
	Fill    []float64 `json:"fill"`    // constant value of each dropped dimension, kept for reference
	XMean   []float64 `json:"x_mean"`  // per retained dimension
	XStd    []float64 `json:"x_std"`   // per retained dimension, before the Dr factor
	XScale  []float64 `json:"x_scale"` // divisor applied to retained dimensions

	YMean  []float64 `json:"y_mean"`
	YScale []float64 `json:"y_scale"` // divisor applied to targets
}

// Fit computes the statistics of X (D × N) and XX (DD × N). dr is the projected
// dimensionality that multiplies the input scale.
func Fit(X, XX mat.Matrix, dr int, mode config.NormMode, errStat config.ErrorStat) (*Stats, error) {
	d, n := X.Dims()
	dd, nn := XX.Dims()
	if n != nn {
		return nil, fmt.Errorf("inputs have %d samples but targets %d", n, nn)
	}
	if dr < 1 {
		return nil, fmt.Errorf("projected dimensionality must be positive, got %d", dr)
	}

	s := &Stats{Mode: mode, Dr: dr, D: d}

	col := make([]float64, n)
	for i := 0; i < d; i++ {
		mat.Row(col, i, X)
		mean, std := stat.PopMeanStdDev(col, nil)
		if mode != config.NormNone && std == 0 {
			s.Dropped = append(s.Dropped, i)
			s.Fill = append(s.Fill, mean)
			continue
		}
		s.Keep = append(s.Keep, i)
		s.XMean = append(s.XMean, mean)
		s.XStd = append(s.XStd, std)
	}
	if len(s.Keep) == 0 {
		return nil, ErrNoVariance
	}

	switch mode {
	case config.NormNone:
		for i := range s.XMean {
			s.XMean[i] = 0
			s.XStd[i] = 1
		}
	case config.NormLinear:
		maxStd := floats.Max(s.XStd)
		for i := range s.XStd {
			s.XStd[i] = maxStd
		}
	}
	s.setDr(dr)

	s.YMean = make([]float64, dd)
	s.YScale = make([]float64, dd)
	row := make([]float64, n)
	for k := 0; k < dd; k++ {
		s.YScale[k] = 1
		if mode == config.NormNone {
			continue
		}
		mat.Row(row, k, XX)
		mean, std := stat.PopMeanStdDev(row, nil)
		s.YMean[k] = mean
		if errStat == config.ErrorRMSE && std > 0 {
			s.YScale[k] = std
		}
	}

	return s, nil
}

func (s *Stats) setDr(dr int) {
	s.Dr = dr
	s.XScale = make([]float64, len(s.XStd))
	factor := float64(dr)
	if s.Mode == config.NormNone {
		factor = 1
	}
	for i, std := range s.XStd {
		s.XScale[i] = factor * std
	}
}

// WithDr returns a copy of the statistics for a different projected dimensionality
func (s *Stats) WithDr(dr int) *Stats {
	c := *s
	c.setDr(dr)
	return &c
}

// Inputs standardizes X (D × N) and drops the zero-variance dimensions
func (s *Stats) Inputs(X mat.Matrix) *mat.Dense {
	_, n := X.Dims()
	out := mat.NewDense(len(s.Keep), n, nil)
	for r, i := range s.Keep {
		dst := out.RawRowView(r)
		for j := 0; j < n; j++ {
			dst[j] = (X.At(i, j) - s.XMean[r]) / s.XScale[r]
		}
	}
	return out
}

// Targets standardizes XX (DD × N)
func (s *Stats) Targets(XX mat.Matrix) *mat.Dense {
	dd, n := XX.Dims()
	out := mat.NewDense(dd, n, nil)
	for k := 0; k < dd; k++ {
		dst := out.RawRowView(k)
		for j := 0; j < n; j++ {
			dst[j] = (XX.At(k, j) - s.YMean[k]) / s.YScale[k]
		}
	}
	return out
}

// Projection rescales B0 (D × Dr) into the standardized input space
func (s *Stats) Projection(B mat.Matrix) *mat.Dense {
	_, dr := B.Dims()
	out := mat.NewDense(len(s.Keep), dr, nil)
	for r, i := range s.Keep {
		dst := out.RawRowView(r)
		for j := 0; j < dr; j++ {
			dst[j] = B.At(i, j) * s.XScale[r]
		}
	}
	return out
}

// RestoreProjection maps a standardized projection back to D × Dr; dropped
// dimensions come back as zero rows.
func (s *Stats) RestoreProjection(Bn mat.Matrix) *mat.Dense {
	_, dr := Bn.Dims()
	out := mat.NewDense(s.D, dr, nil)
	for r, i := range s.Keep {
		dst := out.RawRowView(i)
		for j := 0; j < dr; j++ {
			dst[j] = Bn.At(r, j) / s.XScale[r]
		}
	}
	return out
}

// RestoreInputs maps standardized points (e.g. prototypes) back to D × N.
// Dropped dimensions come back as zero rows; their constant value stays in Fill.
func (s *Stats) RestoreInputs(Pn mat.Matrix) *mat.Dense {
	_, n := Pn.Dims()
	out := mat.NewDense(s.D, n, nil)
	for r, i := range s.Keep {
		dst := out.RawRowView(i)
		for j := 0; j < n; j++ {
			dst[j] = Pn.At(r, j)*s.XScale[r] + s.XMean[r]
		}
	}
	return out
}

// RestoreTargets maps standardized targets back to the original scale
func (s *Stats) RestoreTargets(PPn mat.Matrix) *mat.Dense {
	dd, n := PPn.Dims()
	out := mat.NewDense(dd, n, nil)
	for k := 0; k < dd; k++ {
		dst := out.RawRowView(k)
		for j := 0; j < n; j++ {
			dst[j] = PPn.At(k, j)*s.YScale[k] + s.YMean[k]
		}
	}
	return out
}
