package index

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/sawpanic/protoreg/internal/config"
)

// Result holds the statistics and, when requested, the gradients of one evaluation
type Result struct {
	E float64 // error statistic in original target units
	J float64 // tanh-saturated training objective, in [0,1)

	FX  *mat.Dense // dJ/drX, Dr × Nx
	FP  *mat.Dense // dJ/drP, Dr × Np
	FPP *mat.Dense // dJ/dPP, DD × Np; rows are identical in tied mode
}

// HasGradients reports whether the gradients were computed
func (r Result) HasGradients() bool { return r.FX != nil }

// Evaluate computes E and J for projected prototypes rP (Dr × Np) with targets PP
// (DD × Np) against projected samples rX (Dr × Nx) with targets XX (DD × Nx). The
// gradients are computed only when grad is true.
func (w *Work) Evaluate(rP, PP, rX, XX mat.Matrix, grad bool) (Result, error) {
	if err := w.check(rP, PP, rX, XX); err != nil {
		return Result{}, err
	}
	return w.evaluate(rP, PP, rX, XX, grad)
}

// Predict returns the soft nearest-prototype prediction (DD × Nx) for rX
func Predict(rP, PP, rX mat.Matrix, metric config.Metric) (*mat.Dense, error) {
	g, err := newGeometry(rP, rX, metric)
	if err != nil {
		return nil, err
	}
	wn, _, _ := inverseWeights(g.dist)

	dd, _ := PP.Dims()
	nx, _ := g.dist.Dims()
	pred := mat.NewDense(dd, nx, nil)
	pred.Mul(PP, wn.T())
	return pred, nil
}

func (w *Work) evaluate(rP, PP, rX, XX mat.Matrix, grad bool) (Result, error) {
	g, err := newGeometry(rP, rX, w.Metric)
	if err != nil {
		return Result{}, err
	}
	nx, np := g.dist.Dims()
	dd := w.DD

	wn, raw, sums := inverseWeights(g.dist)

	// yhat: Nx × DD, residual = yhat - XXᵗ
	yhat := mat.NewDense(nx, dd, nil)
	yhat.Mul(wn, PP.T())
	resid := mat.NewDense(nx, dd, nil)
	resid.Sub(yhat, XX.T())

	sat := make([]float64, nx)
	var res Result
	var errSum float64
	for n := 0; n < nx; n++ {
		row := resid.RawRowView(n)
		var sq float64
		for k, r := range row {
			sq += r * r
			if w.ErrorStat == config.ErrorMAD {
				errSum += math.Abs(r) * w.errScale[k]
			} else {
				errSum += r * r * w.errScale[k]
			}
		}
		sat[n] = math.Tanh(w.Slope * sq)
		res.J += sat[n]
	}
	res.J /= float64(nx)
	res.E = errSum / float64(nx*dd)
	if w.ErrorStat == config.ErrorRMSE {
		res.E = math.Sqrt(res.E)
	}

	if !grad {
		return res, nil
	}

	// dJ/dyhat, Nx × DD
	dy := mat.NewDense(nx, dd, nil)
	for n := 0; n < nx; n++ {
		f := 2 * w.Slope * (1 - sat[n]*sat[n]) / float64(nx)
		in := resid.RawRowView(n)
		out := dy.RawRowView(n)
		for k, r := range in {
			out[k] = f * r
		}
	}

	res.FPP = w.targetGradient(dy, wn)

	// dJ/dw_np = dy_n·(PP_p - yhat_n)/S_n, then dJ/ddist_np = -dJ/dw_np · w_np²
	dyPP := mat.NewDense(nx, np, nil)
	dyPP.Mul(dy, PP)
	coef := mat.NewDense(nx, np, nil)
	for n := 0; n < nx; n++ {
		var dyY float64
		dyRow := dy.RawRowView(n)
		yRow := yhat.RawRowView(n)
		for k := range dyRow {
			dyY += dyRow[k] * yRow[k]
		}
		in := dyPP.RawRowView(n)
		wr := raw.RawRowView(n)
		out := coef.RawRowView(n)
		for p := range out {
			if g.clamped[n*np+p] {
				continue
			}
			out[p] = -(in[p] - dyY) / sums[n] * wr[p] * wr[p]
		}
	}

	switch w.Metric {
	case config.MetricEuclidean:
		res.FX, res.FP = euclideanGradients(g, coef)
	case config.MetricCosine:
		res.FX, res.FP = cosineGradients(g, coef)
	}
	return res, nil
}

// targetGradient returns dJ/dPP (DD × Np); tied targets share the summed gradient
func (w *Work) targetGradient(dy, wn *mat.Dense) *mat.Dense {
	_, np := wn.Dims()
	fpp := mat.NewDense(w.DD, np, nil)
	fpp.Mul(dy.T(), wn)

	if w.PPMode != config.PPTied || w.DD == 1 {
		return fpp
	}

	total := make([]float64, np)
	for k := 0; k < w.DD; k++ {
		for p, v := range fpp.RawRowView(k) {
			total[p] += v
		}
	}
	for k := 0; k < w.DD; k++ {
		copy(fpp.RawRowView(k), total)
	}
	return fpp
}

// euclideanGradients maps dJ/ddist onto the projected points for d = ‖x−p‖²
func euclideanGradients(g *geometry, coef *mat.Dense) (fx, fp *mat.Dense) {
	nx, dr := g.xt.Dims()
	np, _ := g.pt.Dims()

	// fXt = 2(diag(rowsum C)·xt − C·pt)
	cp := mat.NewDense(nx, dr, nil)
	cp.Mul(coef, g.pt)
	fxt := mat.NewDense(nx, dr, nil)
	for n := 0; n < nx; n++ {
		rs := floats.Sum(coef.RawRowView(n))
		x := g.xt.RawRowView(n)
		c := cp.RawRowView(n)
		out := fxt.RawRowView(n)
		for j := range out {
			out[j] = 2 * (rs*x[j] - c[j])
		}
	}

	// fPt = 2(diag(colsum C)·pt − Cᵗ·xt)
	cs := make([]float64, np)
	for n := 0; n < nx; n++ {
		for p, v := range coef.RawRowView(n) {
			cs[p] += v
		}
	}
	cx := mat.NewDense(np, dr, nil)
	cx.Mul(coef.T(), g.xt)
	fpt := mat.NewDense(np, dr, nil)
	for p := 0; p < np; p++ {
		proto := g.pt.RawRowView(p)
		c := cx.RawRowView(p)
		out := fpt.RawRowView(p)
		for j := range out {
			out[j] = 2 * (cs[p]*proto[j] - c[j])
		}
	}

	return mat.DenseCopyOf(fxt.T()), mat.DenseCopyOf(fpt.T())
}

// cosineGradients maps dJ/ddist onto the projected points for d = 1 − x̂·p̂.
// xt and pt hold the unit vectors at this point.
func cosineGradients(g *geometry, coef *mat.Dense) (fx, fp *mat.Dense) {
	nx, dr := g.xt.Dims()
	np, _ := g.pt.Dims()

	// cc = C ⊙ cos
	cc := mat.NewDense(nx, np, nil)
	cc.MulElem(coef, g.sim)

	cp := mat.NewDense(nx, dr, nil)
	cp.Mul(coef, g.pt)
	fxt := mat.NewDense(nx, dr, nil)
	for n := 0; n < nx; n++ {
		if g.xnorm[n] == 0 {
			continue
		}
		s := floats.Sum(cc.RawRowView(n))
		x := g.xt.RawRowView(n)
		c := cp.RawRowView(n)
		out := fxt.RawRowView(n)
		for j := range out {
			out[j] = -(c[j] - s*x[j]) / g.xnorm[n]
		}
	}

	colCC := make([]float64, np)
	for n := 0; n < nx; n++ {
		for p, v := range cc.RawRowView(n) {
			colCC[p] += v
		}
	}
	cx := mat.NewDense(np, dr, nil)
	cx.Mul(coef.T(), g.xt)
	fpt := mat.NewDense(np, dr, nil)
	for p := 0; p < np; p++ {
		if g.pnorm[p] == 0 {
			continue
		}
		proto := g.pt.RawRowView(p)
		c := cx.RawRowView(p)
		out := fpt.RawRowView(p)
		for j := range out {
			out[j] = -(c[j] - colCC[p]*proto[j]) / g.pnorm[p]
		}
	}

	return mat.DenseCopyOf(fxt.T()), mat.DenseCopyOf(fpt.T())
}
