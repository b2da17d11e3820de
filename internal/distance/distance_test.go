package distance

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/sawpanic/protoreg/internal/config"
)

func points() (obs, ref *mat.Dense) {
	// columns are points
	obs = mat.NewDense(2, 2, []float64{
		1, 0,
		0, 2,
	})
	ref = mat.NewDense(2, 3, []float64{
		1, 0, -1,
		0, 1, 1,
	})
	return obs, ref
}

func TestPairwise_Euclidean(t *testing.T) {
	obs, ref := points()
	d, err := Pairwise(obs, ref, Options{Kind: Euclidean})
	require.NoError(t, err)

	want := mat.NewDense(2, 3, []float64{
		0, 2, 5,
		5, 1, 2,
	})
	assert.True(t, mat.EqualApprox(want, d, 1e-12))
	assert.Equal(t, []int{0, 1}, Nearest(d))
}

func TestPairwise_Cosine(t *testing.T) {
	obs, ref := points()
	d, err := Pairwise(obs, ref, Options{Kind: Cosine})
	require.NoError(t, err)

	assert.InDelta(t, 0, d.At(0, 0), 1e-12)
	assert.InDelta(t, 1, d.At(0, 1), 1e-12)
	assert.InDelta(t, 0, d.At(1, 1), 1e-12)
	assert.InDelta(t, 1+1/math.Sqrt2, d.At(0, 2), 1e-12)

	zero := mat.NewDense(2, 1, nil)
	d, err = Pairwise(zero, ref, Options{Kind: Cosine})
	require.NoError(t, err)
	assert.Equal(t, 1.0, d.At(0, 0))
}

func TestPairwise_Hamming(t *testing.T) {
	obs := mat.NewDense(3, 1, []float64{1, -1, 0.5})
	ref := mat.NewDense(3, 2, []float64{
		1, -1,
		-2, 2,
		3, 0,
	})
	d, err := Pairwise(obs, ref, Options{Kind: Hamming})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 3}, mat.Row(nil, 0, d))
}

func TestPairwise_TangentRemovesTangentComponent(t *testing.T) {
	obs := mat.NewDense(2, 1, []float64{3, 4})
	ref := mat.NewDense(2, 1, []float64{0, 0})
	xAxis := mat.NewDense(2, 1, []float64{2, 0}) // any scale spans the same line
	yAxis := mat.NewDense(2, 1, []float64{0, 1})

	opts := Options{Kind: RefTangent, Tangents: Tangents{Ref: []mat.Matrix{xAxis}}}
	d, err := Pairwise(obs, ref, opts)
	require.NoError(t, err)
	assert.InDelta(t, 16, d.At(0, 0), 1e-12)

	opts = Options{Kind: ObsTangent, Tangents: Tangents{Obs: []mat.Matrix{yAxis}}}
	d, err = Pairwise(obs, ref, opts)
	require.NoError(t, err)
	assert.InDelta(t, 9, d.At(0, 0), 1e-12)

	opts = Options{Kind: AvgTangent, Tangents: Tangents{Ref: []mat.Matrix{xAxis}, Obs: []mat.Matrix{yAxis}}}
	d, err = Pairwise(obs, ref, opts)
	require.NoError(t, err)
	assert.InDelta(t, 12.5, d.At(0, 0), 1e-12)

	// a basis of the wrong dimensionality is rejected
	opts = Options{Kind: RefTangent, Tangents: Tangents{Ref: []mat.Matrix{mat.NewDense(3, 1, nil)}}}
	_, err = Pairwise(obs, ref, opts)
	assert.Error(t, err)
}

func TestPairwise_Errors(t *testing.T) {
	obs, ref := points()
	_, err := Pairwise(obs, mat.NewDense(3, 1, nil), Options{})
	assert.Error(t, err)

	_, err = Pairwise(obs, ref, Options{Kind: RefTangent})
	assert.ErrorIs(t, err, ErrMissingTangents)

	_, err = Pairwise(obs, ref, Options{Kind: Kind(42)})
	assert.Error(t, err)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, Euclidean, KindOf(config.MetricEuclidean))
	assert.Equal(t, Cosine, KindOf(config.MetricCosine))
	assert.Equal(t, AvgTangent, KindOf(config.MetricAvgTangent))
	assert.Equal(t, "otangent", KindOf(config.MetricObsTangent).String())
}

func TestKind_Set(t *testing.T) {
	var k Kind
	require.NoError(t, k.Set(" Hamming"))
	assert.Equal(t, Hamming, k)
	assert.Equal(t, "hamming", k.String())
	assert.Error(t, k.Set("manhattan"))
}
