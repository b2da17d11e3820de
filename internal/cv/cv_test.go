package cv

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/sawpanic/protoreg/internal/config"
	"github.com/sawpanic/protoreg/internal/normalize"
	"github.com/sawpanic/protoreg/internal/optim"
)

func testData(t *testing.T, n int) Data {
	t.Helper()
	rng := rand.New(rand.NewPCG(21, 22))
	X := mat.NewDense(3, n, nil)
	XX := mat.NewDense(1, n, nil)
	for j := 0; j < n; j++ {
		for i := 0; i < 3; i++ {
			X.Set(i, j, rng.NormFloat64())
		}
		XX.Set(0, j, 2*X.At(0, j)-X.At(2, j)+0.1*rng.NormFloat64())
	}
	stats, err := normalize.Fit(X, XX, 1, config.NormZScore, config.ErrorRMSE)
	require.NoError(t, err)
	return Data{X: X, XX: XX, Stats: stats}
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Slope = 1
	cfg.MinIterations, cfg.MaxIterations = 10, 10
	cfg.OrthoEvery = 5
	cfg.Init.Prototypes = 3
	cfg.CrossValidation.Folds = 3
	cfg.CrossValidation.Iterations = 8
	cfg.CrossValidation.Slopes = []float64{0.5, 2}
	cfg.CrossValidation.Dims = []int{1, 2}
	cfg.CrossValidation.Workers = 2
	return cfg
}

func TestCombos_CartesianProduct(t *testing.T) {
	cfg := config.Default()
	cfg.CrossValidation.Slopes = []float64{1, 2}
	cfg.CrossValidation.Prototypes = []int{3, 4, 5}
	cfg.CrossValidation.RatesPP = []float64{0, 0.5}

	combos := Combos(cfg)
	require.Len(t, combos, 12)
	assert.Equal(t, Combo{1, 3, cfg.Dims, cfg.RateB, cfg.RateP, 0}, combos[0])
	assert.Equal(t, Combo{1, 3, cfg.Dims, cfg.RateB, cfg.RateP, 0.5}, combos[1])
	assert.Equal(t, Combo{2, 5, cfg.Dims, cfg.RateB, cfg.RateP, 0.5}, combos[11])

	applied := combos[11].Apply(cfg)
	assert.Equal(t, 2.0, applied.Slope)
	assert.Equal(t, 5, applied.Init.Prototypes)
	assert.Equal(t, 0.5, applied.RatePP)
}

func TestCombos_EmptyListsUseBase(t *testing.T) {
	cfg := config.Default()
	combos := Combos(cfg)
	require.Len(t, combos, 1)
	assert.Equal(t, Combo{cfg.Slope, cfg.Init.Prototypes, cfg.Dims, cfg.RateB, cfg.RateP, cfg.RatePP}, combos[0])
}

func TestFolds_NearEqualPartition(t *testing.T) {
	folds, err := Folds(10, 3, rand.New(rand.NewPCG(1, 1)))
	require.NoError(t, err)
	require.Len(t, folds, 3)

	seen := make(map[int]bool)
	for _, f := range folds {
		assert.GreaterOrEqual(t, len(f), 3)
		assert.LessOrEqual(t, len(f), 4)
		for _, j := range f {
			assert.False(t, seen[j], "index %d in two folds", j)
			seen[j] = true
		}
	}
	assert.Len(t, seen, 10)

	_, err = Folds(10, 1, rand.New(rand.NewPCG(1, 1)))
	assert.Error(t, err)
	_, err = Folds(2, 3, rand.New(rand.NewPCG(1, 1)))
	assert.Error(t, err)
}

func TestComplement(t *testing.T) {
	assert.Equal(t, []int{0, 2, 4}, complement(5, []int{3, 1}))
}

func TestSelectBest(t *testing.T) {
	rows := []Row{{Criterion: math.Inf(1)}, {Criterion: 0.4}, {Criterion: 0.2}, {Criterion: 0.2}, {Criterion: math.NaN()}}
	best, ok := selectBest(rows)
	require.True(t, ok)
	assert.Equal(t, 2, best)

	_, ok = selectBest([]Row{{Criterion: math.Inf(1)}})
	assert.False(t, ok)
}

func TestRun_SelectsMinimum(t *testing.T) {
	data := testData(t, 30)
	cfg := testConfig()

	grid, err := Run(context.Background(), data, cfg, WithRunID("abc"))
	require.NoError(t, err)

	require.Len(t, grid.Rows, 4)
	assert.Equal(t, "abc", grid.RunID)
	assert.Equal(t, 3, grid.Folds)
	sel := grid.Selected()
	for _, r := range grid.Rows {
		assert.Equal(t, 3, r.Folds)
		assert.Zero(t, r.Failed)
		assert.GreaterOrEqual(t, r.Criterion, sel.Criterion)
		assert.GreaterOrEqual(t, r.ImprovementFraction, 0.0)
		assert.LessOrEqual(t, r.ImprovementFraction, 1.0)
	}
}

func TestRun_FailedCombinationDoesNotAbort(t *testing.T) {
	data := testData(t, 30)
	cfg := testConfig()
	cfg.CrossValidation.Slopes = nil
	cfg.CrossValidation.Dims = []int{5, 2} // 5 exceeds the input dimensionality

	grid, err := Run(context.Background(), data, cfg)
	require.NoError(t, err)

	require.Len(t, grid.Rows, 2)
	assert.True(t, math.IsInf(grid.Rows[0].Criterion, 1))
	assert.Equal(t, 3, grid.Rows[0].Failed)
	assert.NotEmpty(t, grid.Rows[0].Error)
	assert.Equal(t, 1, grid.Best)
}

func TestRun_NoViableCombination(t *testing.T) {
	data := testData(t, 30)
	cfg := testConfig()
	cfg.CrossValidation.Slopes = nil
	cfg.CrossValidation.Dims = []int{7}

	_, err := Run(context.Background(), data, cfg)
	assert.ErrorIs(t, err, ErrNoViableCombination)
}

func TestRun_IndependentOfWorkerCount(t *testing.T) {
	data := testData(t, 24)
	cfg := testConfig()

	cfg.CrossValidation.Workers = 1
	serial, err := Run(context.Background(), data, cfg)
	require.NoError(t, err)

	cfg.CrossValidation.Workers = 4
	parallel, err := Run(context.Background(), data, cfg)
	require.NoError(t, err)

	assert.Equal(t, serial.Best, parallel.Best)
	for i := range serial.Rows {
		assert.Equal(t, serial.Rows[i].Criterion, parallel.Rows[i].Criterion)
	}
}

func TestRun_Cancelled(t *testing.T) {
	data := testData(t, 24)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, data, testConfig())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_SuppliedProjectionFixesDims(t *testing.T) {
	data := testData(t, 24)
	data.B0 = mat.NewDense(3, 1, []float64{1, 0, 0})
	cfg := testConfig()

	grid, err := Run(context.Background(), data, cfg)
	require.NoError(t, err)
	for _, r := range grid.Rows {
		assert.Equal(t, 1, r.Dims)
	}
}

type memCache struct {
	mu   sync.Mutex
	data map[string]optim.ProbeResult
	hits int
}

func (m *memCache) Get(_ context.Context, key string) (optim.ProbeResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.data[key]
	if ok {
		m.hits++
	}
	return res, ok
}

func (m *memCache) Put(_ context.Context, key string, res optim.ProbeResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = res
}

type countingObserver struct {
	mu     sync.Mutex
	probes int
}

func (o *countingObserver) ObserveProbe(int, Combo, optim.ProbeResult, error, time.Duration) {
	o.mu.Lock()
	o.probes++
	o.mu.Unlock()
}

func TestRun_CacheReplaysProbes(t *testing.T) {
	data := testData(t, 24)
	cfg := testConfig()
	cache := &memCache{data: make(map[string]optim.ProbeResult)}
	obs := &countingObserver{}

	first, err := Run(context.Background(), data, cfg, WithCache(cache, "fp"), WithObserver(obs))
	require.NoError(t, err)
	assert.Len(t, cache.data, 12)
	assert.Zero(t, cache.hits)

	second, err := Run(context.Background(), data, cfg, WithCache(cache, "fp"), WithObserver(obs))
	require.NoError(t, err)
	assert.Equal(t, 12, cache.hits)
	assert.Equal(t, 24, obs.probes)
	assert.Equal(t, first.Rows, second.Rows)
}

func TestCacheKey_DistinguishesInputs(t *testing.T) {
	cfg := testConfig()
	base := CacheKey("fp", 0, 0, cfg)
	assert.NotEqual(t, base, CacheKey("other", 0, 0, cfg))
	assert.NotEqual(t, base, CacheKey("fp", 1, 0, cfg))

	cfg.Slope = 3
	assert.NotEqual(t, base, CacheKey("fp", 0, 0, cfg))
	assert.Equal(t, CacheKey("fp", 0, 0, cfg), CacheKey("fp", 0, 0, cfg))

	tweaks := map[string]func(*config.Config){
		"kmeans iterations": func(c *config.Config) { c.Init.KMeansIters++ },
		"final exact":       func(c *config.Config) { c.Stochastic.FinalExact = !c.Stochastic.FinalExact },
		"full stats":        func(c *config.Config) { c.Stochastic.FullStats = !c.Stochastic.FullStats },
		"batch size":        func(c *config.Config) { c.Stochastic.Samples++ },
	}
	stoch := testConfig()
	stoch.Stochastic.Enabled = true
	stochKey := CacheKey("fp", 0, 0, stoch)
	for name, tweak := range tweaks {
		c := stoch
		tweak(&c)
		assert.NotEqual(t, stochKey, CacheKey("fp", 0, 0, c), name)
	}
}
