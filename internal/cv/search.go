package cv

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/sawpanic/protoreg/internal/config"
	"github.com/sawpanic/protoreg/internal/index"
	"github.com/sawpanic/protoreg/internal/normalize"
	"github.com/sawpanic/protoreg/internal/optim"
	"github.com/sawpanic/protoreg/internal/proto"
)

// ErrNoViableCombination is returned when every combination failed on some fold
var ErrNoViableCombination = errors.New("no hyperparameter combination completed every fold")

// Data is the raw training set with its fitted normalization. B0, when set, is a
// caller-supplied raw projection whose width overrides the Dims candidates.
type Data struct {
	X, XX *mat.Dense
	Stats *normalize.Stats
	B0    *mat.Dense
}

// Cache stores probe results across runs
type Cache interface {
	Get(ctx context.Context, key string) (optim.ProbeResult, bool)
	Put(ctx context.Context, key string, res optim.ProbeResult)
}

// Observer is told about every finished probe
type Observer interface {
	ObserveProbe(fold int, c Combo, res optim.ProbeResult, err error, elapsed time.Duration)
}

// Observers fans probe notifications out to several observers
type Observers []Observer

// ObserveProbe forwards to every non-nil observer
func (obs Observers) ObserveProbe(fold int, c Combo, res optim.ProbeResult, err error, elapsed time.Duration) {
	for _, o := range obs {
		if o != nil {
			o.ObserveProbe(fold, c, res, err, elapsed)
		}
	}
}

// Search runs one cross-validation
type Search struct {
	cfg         config.Config
	logger      zerolog.Logger
	cache       Cache
	fingerprint string
	observer    Observer
	runID       string
}

// Option customizes a Search
type Option func(*Search)

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option { return func(s *Search) { s.logger = l } }

// WithCache enables probe caching; fingerprint identifies the dataset in cache keys
func WithCache(c Cache, fingerprint string) Option {
	return func(s *Search) { s.cache, s.fingerprint = c, fingerprint }
}

// WithObserver registers a probe observer
func WithObserver(o Observer) Option { return func(s *Search) { s.observer = o } }

// WithRunID tags the resulting grid
func WithRunID(id string) Option { return func(s *Search) { s.runID = id } }

// NewSearch prepares a cross-validation for cfg
func NewSearch(cfg config.Config, opts ...Option) *Search {
	s := &Search{cfg: cfg, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run is shorthand for NewSearch(cfg, opts...).Run(ctx, data)
func Run(ctx context.Context, data Data, cfg config.Config, opts ...Option) (*Grid, error) {
	return NewSearch(cfg, opts...).Run(ctx, data)
}

type outcome struct {
	res optim.ProbeResult
	err error
}

// task is one (fold, combination) probe
type task struct {
	id    int
	fold  int
	combo int
}

// foldData holds the per-fold split and its principal directions
type foldData struct {
	train, test []int
	pca         *mat.Dense // standardized space, widest candidate
	pcaErr      error
}

// Run scores every combination on every fold and selects the minimum mean criterion
func (s *Search) Run(ctx context.Context, data Data) (*Grid, error) {
	cv := s.cfg.CrossValidation
	if data.X == nil || data.XX == nil || data.Stats == nil {
		return nil, fmt.Errorf("cross-validation needs data and its normalization")
	}
	_, n := data.X.Dims()

	combos := Combos(s.cfg)
	if data.B0 != nil {
		_, dr := data.B0.Dims()
		for i := range combos {
			combos[i].Dims = dr
		}
	}

	rng := rand.New(rand.NewPCG(s.cfg.Seed, math.MaxUint64))
	folds, err := Folds(n, cv.Folds, rng)
	if err != nil {
		return nil, err
	}
	prepared := s.prepareFolds(data, folds, combos)

	tasks := make([]task, 0, len(folds)*len(combos))
	for f := range folds {
		for c := range combos {
			tasks = append(tasks, task{id: len(tasks), fold: f, combo: c})
		}
	}

	workers := cv.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	s.logger.Info().
		Int("folds", len(folds)).
		Int("combinations", len(combos)).
		Int("workers", workers).
		Int("probe_iterations", s.cfg.ProbeIterations()).
		Msg("Starting cross-validation")
	start := time.Now()

	results := make([]outcome, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, tk := range tasks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[tk.id] = s.probe(gctx, data, prepared[tk.fold], combos[tk.combo], tk)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	grid := s.reduce(combos, len(folds), tasks, results)
	best, ok := selectBest(grid.Rows)
	if !ok {
		return grid, ErrNoViableCombination
	}
	grid.Best = best

	sel := grid.Selected()
	s.logger.Info().
		Str("combination", sel.Combo.String()).
		Float64("criterion", sel.Criterion).
		Float64("improvement_fraction", sel.ImprovementFraction).
		Dur("elapsed", time.Since(start)).
		Msg("Cross-validation complete")
	return grid, nil
}

func (s *Search) prepareFolds(data Data, folds [][]int, combos []Combo) []foldData {
	_, n := data.X.Dims()
	widest := 1
	for _, c := range combos {
		widest = max(widest, c.Dims)
	}
	// principal directions do not depend on the Dr factor of the input scale
	xn := data.Stats.WithDr(1).Inputs(data.X)

	out := make([]foldData, len(folds))
	for f, fold := range folds {
		out[f].test = fold
		out[f].train = complement(n, fold)
		if data.B0 != nil {
			continue
		}
		sub, err := index.Columns(xn, out[f].train)
		if err != nil {
			out[f].pcaErr = err
			continue
		}
		d, _ := sub.Dims()
		out[f].pca, out[f].pcaErr = proto.PCA(sub, min(widest, d))
	}
	return out
}

// probe trains one combination on one fold and evaluates it on the held-out part
func (s *Search) probe(ctx context.Context, data Data, fd foldData, c Combo, tk task) outcome {
	cfg := c.Apply(s.cfg)
	start := time.Now()

	key := ""
	if s.cache != nil {
		key = CacheKey(s.fingerprint, tk.fold, tk.id, cfg)
		if res, ok := s.cache.Get(ctx, key); ok {
			s.observe(tk.fold, c, res, nil, time.Since(start))
			return outcome{res: res}
		}
	}

	res, err := s.runProbe(ctx, data, fd, cfg, tk)
	if err != nil {
		s.logger.Debug().Err(err).Int("fold", tk.fold).Str("combination", c.String()).Msg("Probe failed")
	} else if s.cache != nil {
		s.cache.Put(ctx, key, res)
	}
	s.observe(tk.fold, c, res, err, time.Since(start))
	return outcome{res: res, err: err}
}

func (s *Search) runProbe(ctx context.Context, data Data, fd foldData, cfg config.Config, tk task) (optim.ProbeResult, error) {
	rng := rand.New(rand.NewPCG(s.cfg.Seed, uint64(tk.id)))
	stats := data.Stats.WithDr(cfg.Dims)
	xn := stats.Inputs(data.X)
	xxn := stats.Targets(data.XX)

	split := func(m *mat.Dense, idx []int) *mat.Dense {
		out, _ := index.Columns(m, idx)
		return out
	}
	prob := optim.Problem{
		X:           split(xn, fd.train),
		XX:          split(xxn, fd.train),
		Y:           split(xn, fd.test),
		YY:          split(xxn, fd.test),
		TargetScale: stats.YScale,
	}

	var b0 *mat.Dense
	switch {
	case data.B0 != nil:
		b0 = stats.Projection(data.B0)
	case fd.pcaErr != nil:
		return optim.ProbeResult{}, fd.pcaErr
	default:
		d, width := fd.pca.Dims()
		if cfg.Dims > width {
			return optim.ProbeResult{}, fmt.Errorf("projection to %d dims exceeds %d available", cfg.Dims, width)
		}
		b0 = mat.DenseCopyOf(fd.pca.Slice(0, d, 0, cfg.Dims))
	}

	p0, pp0, err := proto.Initialize(prob.X, prob.XX, cfg.Init.Prototypes, proto.OptionsFrom(cfg.Init), rng)
	if err != nil {
		return optim.ProbeResult{}, fmt.Errorf("initialize prototypes: %w", err)
	}
	return optim.Probe(ctx, prob, optim.Params{B: b0, P: p0, PP: pp0}, cfg, rng)
}

func (s *Search) observe(fold int, c Combo, res optim.ProbeResult, err error, elapsed time.Duration) {
	if s.observer != nil {
		s.observer.ObserveProbe(fold, c, res, err, elapsed)
	}
}

// reduce sums the per-fold results of every combination in task order
func (s *Search) reduce(combos []Combo, folds int, tasks []task, results []outcome) *Grid {
	grid := &Grid{RunID: s.runID, Folds: folds, Rows: make([]Row, len(combos))}
	for i, c := range combos {
		grid.Rows[i] = Row{Index: i, Combo: c}
	}

	for _, tk := range tasks {
		row := &grid.Rows[tk.combo]
		out := results[tk.id]
		if out.err != nil {
			row.Failed++
			if row.Error == "" {
				row.Error = out.err.Error()
			}
			continue
		}
		row.Folds++
		row.Criterion += out.res.Criterion
		row.ImprovementFraction += out.res.ImprovementFraction
	}

	for i := range grid.Rows {
		row := &grid.Rows[i]
		if row.Folds > 0 {
			row.Criterion /= float64(row.Folds)
			row.ImprovementFraction /= float64(row.Folds)
		}
		if row.Failed > 0 || row.Folds == 0 {
			row.Criterion = math.Inf(1)
		}
	}
	return grid
}
