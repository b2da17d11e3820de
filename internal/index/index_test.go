package index

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/sawpanic/protoreg/internal/config"
)

func randomDense(rng *rand.Rand, r, c int) *mat.Dense {
	m := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			m.Set(i, j, rng.NormFloat64())
		}
	}
	return m
}

type fixture struct {
	rP, PP, rX, XX *mat.Dense
}

func newFixture(seed uint64, dr, np, nx, dd int) fixture {
	rng := rand.New(rand.NewPCG(seed, seed))
	return fixture{
		rP: randomDense(rng, dr, np),
		PP: randomDense(rng, dd, np),
		rX: randomDense(rng, dr, nx),
		XX: randomDense(rng, dd, nx),
	}
}

func newTestWork(t *testing.T, f fixture, metric config.Metric, pp config.PPMode) *Work {
	t.Helper()
	_, np := f.rP.Dims()
	dd, nx := f.XX.Dims()
	w, err := NewWork(nx, np, dd, Options{Slope: 0.5, Metric: metric, PPMode: pp})
	require.NoError(t, err)
	return w
}

func TestDistances_ClampKeepsEntriesPositive(t *testing.T) {
	f := newFixture(7, 3, 5, 20, 1)
	// make sample 0 coincide with prototype 2
	for j := 0; j < 3; j++ {
		f.rX.Set(j, 0, f.rP.At(j, 2))
	}

	dist, err := Distances(f.rP, f.rX, config.MetricEuclidean)
	require.NoError(t, err)

	nx, np := dist.Dims()
	for n := 0; n < nx; n++ {
		for p := 0; p < np; p++ {
			assert.Greater(t, dist.At(n, p), 0.0)
		}
	}

	w := Weights(dist)
	for n := 0; n < nx; n++ {
		for p := 0; p < np; p++ {
			v := w.At(n, p)
			assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
			assert.GreaterOrEqual(t, v, 0.0)
		}
	}
}

func TestDistances_CoincidentPrototype(t *testing.T) {
	// two prototypes, the only sample sits exactly on prototype 1
	rP := mat.NewDense(2, 2, []float64{
		0, 3,
		0, 4,
	})
	rX := mat.NewDense(2, 1, []float64{0, 0})

	dist, err := Distances(rP, rX, config.MetricEuclidean)
	require.NoError(t, err)

	trueMin := 25.0
	assert.InDelta(t, 0.1*trueMin, dist.At(0, 0), 1e-12)
	assert.Less(t, dist.At(0, 0), trueMin)
	assert.Equal(t, trueMin, dist.At(0, 1))

	PP := mat.NewDense(1, 2, []float64{1, 5})
	XX := mat.NewDense(1, 1, []float64{1})
	w, err := NewWork(1, 2, 1, Options{Slope: 1, Metric: config.MetricEuclidean})
	require.NoError(t, err)

	res, err := w.Evaluate(rP, PP, rX, XX, true)
	require.NoError(t, err)
	for _, v := range []float64{res.E, res.J} {
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
	}
	for _, m := range []*mat.Dense{res.FX, res.FP, res.FPP} {
		for _, v := range m.RawMatrix().Data {
			assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
		}
	}
}

func TestDistances_AllZeroIsDegenerate(t *testing.T) {
	rP := mat.NewDense(2, 2, nil)
	rX := mat.NewDense(2, 3, nil)

	_, err := Distances(rP, rX, config.MetricEuclidean)
	assert.ErrorIs(t, err, ErrDegenerateDistances)
}

func TestWeights_ConvexCombination(t *testing.T) {
	for _, metric := range []config.Metric{config.MetricEuclidean, config.MetricCosine} {
		f := newFixture(11, 4, 6, 30, 2)
		dist, err := Distances(f.rP, f.rX, metric)
		require.NoError(t, err)

		w := Weights(dist)
		nx, _ := w.Dims()
		for n := 0; n < nx; n++ {
			row := w.RawRowView(n)
			assert.InDelta(t, 1.0, floats.Sum(row), 1e-12, "metric %s row %d", metric, n)
			assert.GreaterOrEqual(t, floats.Min(row), 0.0)
		}

		pred, err := Predict(f.rP, f.PP, f.rX, metric)
		require.NoError(t, err)
		for k := 0; k < 2; k++ {
			lo, hi := floats.Min(f.PP.RawRowView(k)), floats.Max(f.PP.RawRowView(k))
			for _, v := range pred.RawRowView(k) {
				assert.GreaterOrEqual(t, v, lo-1e-12)
				assert.LessOrEqual(t, v, hi+1e-12)
			}
		}
	}
}

func TestEvaluate_ErrorZeroOnlyWhenExact(t *testing.T) {
	f := newFixture(3, 2, 4, 10, 1)
	w := newTestWork(t, f, config.MetricEuclidean, config.PPIndependent)

	// all prototype targets equal: every prediction is that value
	for p := 0; p < 4; p++ {
		f.PP.Set(0, p, 2.5)
	}
	for n := 0; n < 10; n++ {
		f.XX.Set(0, n, 2.5)
	}
	res, err := w.Evaluate(f.rP, f.PP, f.rX, f.XX, false)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, res.E, 1e-12)
	assert.InDelta(t, 0.0, res.J, 1e-12)
	assert.False(t, res.HasGradients())

	f.XX.Set(0, 4, 3.5)
	res, err = w.Evaluate(f.rP, f.PP, f.rX, f.XX, false)
	require.NoError(t, err)
	assert.Greater(t, res.E, 0.0)
	// one sample off by 1: RMSE = sqrt(1/10)
	assert.InDelta(t, math.Sqrt(0.1), res.E, 1e-12)
}

func TestEvaluate_ErrorUsesTargetScale(t *testing.T) {
	f := newFixture(5, 2, 3, 8, 1)
	for n := 0; n < 8; n++ {
		f.XX.Set(0, n, 0)
	}
	for p := 0; p < 3; p++ {
		f.PP.Set(0, p, 1)
	}

	rmse, err := NewWork(8, 3, 1, Options{Slope: 1, TargetScale: []float64{2}})
	require.NoError(t, err)
	res, err := rmse.Evaluate(f.rP, f.PP, f.rX, f.XX, false)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, res.E, 1e-12)

	mad, err := NewWork(8, 3, 1, Options{Slope: 1, ErrorStat: config.ErrorMAD, TargetScale: []float64{3}})
	require.NoError(t, err)
	res, err = mad.Evaluate(f.rP, f.PP, f.rX, f.XX, false)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, res.E, 1e-12)
}

func TestEvaluate_ObjectiveBoundedAndMonotoneInSlope(t *testing.T) {
	f := newFixture(9, 3, 5, 40, 2)
	prev := -1.0
	for _, slope := range []float64{0.01, 0.1, 1, 10, 100} {
		w, err := NewWork(40, 5, 2, Options{Slope: slope})
		require.NoError(t, err)
		res, err := w.Evaluate(f.rP, f.PP, f.rX, f.XX, false)
		require.NoError(t, err)

		assert.GreaterOrEqual(t, res.J, 0.0)
		assert.Less(t, res.J, 1.0)
		assert.GreaterOrEqual(t, res.J, prev, "slope %g", slope)
		assert.GreaterOrEqual(t, res.E, 0.0)
		prev = res.J
	}
}

func TestEvaluate_TangentMetricFails(t *testing.T) {
	for _, metric := range []config.Metric{config.MetricRefTangent, config.MetricObsTangent, config.MetricAvgTangent} {
		_, err := NewWork(4, 2, 1, Options{Slope: 1, Metric: metric})
		assert.ErrorIs(t, err, ErrMetricNotImplemented)

		_, err = Distances(mat.NewDense(2, 2, []float64{1, 2, 3, 4}), mat.NewDense(2, 1, []float64{1, 1}), metric)
		assert.ErrorIs(t, err, ErrMetricNotImplemented)
	}
}

func TestEvaluate_ShapeMismatch(t *testing.T) {
	f := newFixture(1, 2, 3, 5, 1)
	w := newTestWork(t, f, config.MetricEuclidean, config.PPIndependent)

	_, err := w.Evaluate(f.rP, f.PP, mat.NewDense(3, 5, nil), f.XX, false)
	assert.ErrorIs(t, err, ErrShape)
}

// numericGradient perturbs every entry of target and differentiates J centrally
func numericGradient(t *testing.T, w *Work, f fixture, target *mat.Dense) *mat.Dense {
	t.Helper()
	const h = 1e-6
	r, c := target.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			orig := target.At(i, j)
			target.Set(i, j, orig+h)
			plus, err := w.Evaluate(f.rP, f.PP, f.rX, f.XX, false)
			require.NoError(t, err)
			target.Set(i, j, orig-h)
			minus, err := w.Evaluate(f.rP, f.PP, f.rX, f.XX, false)
			require.NoError(t, err)
			target.Set(i, j, orig)
			out.Set(i, j, (plus.J-minus.J)/(2*h))
		}
	}
	return out
}

func assertClose(t *testing.T, want, got *mat.Dense, name string) {
	t.Helper()
	r, c := want.Dims()
	gr, gc := got.Dims()
	require.Equal(t, r, gr, name)
	require.Equal(t, c, gc, name)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			assert.InDelta(t, want.At(i, j), got.At(i, j), 1e-6+1e-4*math.Abs(want.At(i, j)), "%s[%d,%d]", name, i, j)
		}
	}
}

func TestEvaluate_GradientsMatchFiniteDifferences(t *testing.T) {
	cases := []struct {
		name   string
		metric config.Metric
		dd     int
	}{
		{"euclidean-1d", config.MetricEuclidean, 1},
		{"euclidean-2d", config.MetricEuclidean, 2},
		{"cosine-1d", config.MetricCosine, 1},
		{"cosine-2d", config.MetricCosine, 2},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(21, 3, 4, 12, tc.dd)
			w := newTestWork(t, f, tc.metric, config.PPIndependent)

			res, err := w.Evaluate(f.rP, f.PP, f.rX, f.XX, true)
			require.NoError(t, err)
			require.True(t, res.HasGradients())

			assertClose(t, numericGradient(t, w, f, f.rX), res.FX, "FX")
			assertClose(t, numericGradient(t, w, f, f.rP), res.FP, "FP")
			assertClose(t, numericGradient(t, w, f, f.PP), res.FPP, "FPP")
		})
	}
}

func TestEvaluate_TiedTargetGradientIsSummed(t *testing.T) {
	f := newFixture(33, 2, 3, 10, 2)
	indep := newTestWork(t, f, config.MetricEuclidean, config.PPIndependent)
	tied := newTestWork(t, f, config.MetricEuclidean, config.PPTied)

	ri, err := indep.Evaluate(f.rP, f.PP, f.rX, f.XX, true)
	require.NoError(t, err)
	rt, err := tied.Evaluate(f.rP, f.PP, f.rX, f.XX, true)
	require.NoError(t, err)

	for p := 0; p < 3; p++ {
		sum := ri.FPP.At(0, p) + ri.FPP.At(1, p)
		assert.InDelta(t, sum, rt.FPP.At(0, p), 1e-12)
		assert.InDelta(t, sum, rt.FPP.At(1, p), 1e-12)
	}
	assert.Equal(t, ri.J, rt.J)
}

func TestEvaluateBatch_MatchesFullOnAllIndices(t *testing.T) {
	f := newFixture(8, 3, 4, 15, 1)
	w := newTestWork(t, f, config.MetricEuclidean, config.PPIndependent)

	idx := make([]int, 15)
	for i := range idx {
		idx[i] = i
	}
	full, err := w.Evaluate(f.rP, f.PP, f.rX, f.XX, true)
	require.NoError(t, err)
	bx, err := Columns(f.rX, idx)
	require.NoError(t, err)
	bxx, err := Columns(f.XX, idx)
	require.NoError(t, err)
	batch, err := w.EvaluateBatch(f.rP, f.PP, bx, bxx)
	require.NoError(t, err)

	assert.InDelta(t, full.J, batch.J, 1e-12)
	assert.InDelta(t, full.E, batch.E, 1e-12)
	assertClose(t, full.FX, batch.FX, "FX")
	assertClose(t, full.FP, batch.FP, "FP")

	_, err = Columns(f.rX, []int{0, 99})
	assert.ErrorIs(t, err, ErrShape)

	// repeated draws weigh a sample twice
	bx, err = Columns(f.rX, []int{2, 2, 5})
	require.NoError(t, err)
	bxx, err = Columns(f.XX, []int{2, 2, 5})
	require.NoError(t, err)
	rep, err := w.EvaluateBatch(f.rP, f.PP, bx, bxx)
	require.NoError(t, err)
	assert.True(t, rep.HasGradients())
	_, cols := rep.FX.Dims()
	assert.Equal(t, 3, cols)
}
