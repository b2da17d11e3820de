package main

import (
	"github.com/spf13/pflag"

	"github.com/sawpanic/protoreg/internal/config"
)

// overrides binds training flags to a scratch configuration; only flags the
// user actually set are copied onto the loaded configuration
type overrides struct {
	v      config.Config
	copies map[string]func(dst, src *config.Config)
}

func newOverrides(fs *pflag.FlagSet) *overrides {
	o := &overrides{v: config.Default(), copies: make(map[string]func(dst, src *config.Config))}
	v := &o.v

	o.bind("slope", func(d, s *config.Config) { d.Slope = s.Slope })
	fs.Float64Var(&v.Slope, "slope", v.Slope, "tanh saturation slope of the objective")
	o.bind("rate-b", func(d, s *config.Config) { d.RateB = s.RateB })
	fs.Float64Var(&v.RateB, "rate-b", v.RateB, "learning rate of the projection")
	o.bind("rate-p", func(d, s *config.Config) { d.RateP = s.RateP })
	fs.Float64Var(&v.RateP, "rate-p", v.RateP, "learning rate of the prototype positions")
	o.bind("rate-pp", func(d, s *config.Config) { d.RatePP = s.RatePP })
	fs.Float64Var(&v.RatePP, "rate-pp", v.RatePP, "learning rate of the prototype targets")
	o.bind("min-iterations", func(d, s *config.Config) { d.MinIterations = s.MinIterations })
	fs.IntVar(&v.MinIterations, "min-iterations", v.MinIterations, "no convergence stop before this iteration")
	o.bind("max-iterations", func(d, s *config.Config) { d.MaxIterations = s.MaxIterations })
	fs.IntVar(&v.MaxIterations, "max-iterations", v.MaxIterations, "iteration limit")
	o.bind("epsilon", func(d, s *config.Config) { d.Epsilon = s.Epsilon })
	fs.Float64Var(&v.Epsilon, "epsilon", v.Epsilon, "|ΔJ| convergence threshold")
	o.bind("ortho-every", func(d, s *config.Config) { d.OrthoEvery = s.OrthoEvery })
	fs.IntVar(&v.OrthoEvery, "ortho-every", v.OrthoEvery, "iterations between projection constraint steps, 0 = never")
	o.bind("ortho", func(d, s *config.Config) { d.Ortho = s.Ortho })
	fs.Var(&v.Ortho, "ortho", "projection constraint (orthonormal|orthogonal|none)")
	o.bind("metric", func(d, s *config.Config) { d.Metric = s.Metric })
	fs.Var(&v.Metric, "metric", "distance metric (euclidean|cosine)")
	o.bind("norm", func(d, s *config.Config) { d.Norm = s.Norm })
	fs.Var(&v.Norm, "norm", "input normalization (zscore|linear|none)")
	o.bind("error-stat", func(d, s *config.Config) { d.ErrorStat = s.ErrorStat })
	fs.Var(&v.ErrorStat, "error-stat", "error statistic (rmse|mad)")
	o.bind("pp-mode", func(d, s *config.Config) { d.PPMode = s.PPMode })
	fs.Var(&v.PPMode, "pp-mode", "prototype target updates (independent|tied)")
	o.bind("criterion", func(d, s *config.Config) { d.Criterion = s.Criterion })
	fs.Var(&v.Criterion, "criterion", "selection criterion (objective|error)")
	o.bind("dims", func(d, s *config.Config) { d.Dims = s.Dims })
	fs.IntVar(&v.Dims, "dims", v.Dims, "projected dimensionality when no initial projection is given")
	o.bind("log-every", func(d, s *config.Config) { d.LogEvery = s.LogEvery })
	fs.IntVar(&v.LogEvery, "log-every", v.LogEvery, "iterations between progress records")
	o.bind("progress-rate", func(d, s *config.Config) { d.ProgressRate = s.ProgressRate })
	fs.Float64Var(&v.ProgressRate, "progress-rate", v.ProgressRate, "max progress log lines per second, 0 = unlimited")
	o.bind("seed", func(d, s *config.Config) { d.Seed = s.Seed })
	fs.Uint64Var(&v.Seed, "seed", v.Seed, "random seed")

	o.bind("stochastic", func(d, s *config.Config) { d.Stochastic.Enabled = s.Stochastic.Enabled })
	fs.BoolVar(&v.Stochastic.Enabled, "stochastic", v.Stochastic.Enabled, "mini-batch gradient descent")
	o.bind("stoch-samples", func(d, s *config.Config) { d.Stochastic.Samples = s.Stochastic.Samples })
	fs.IntVar(&v.Stochastic.Samples, "stoch-samples", v.Stochastic.Samples, "mini-batch size")
	o.bind("stoch-check", func(d, s *config.Config) { d.Stochastic.Check = s.Stochastic.Check })
	fs.IntVar(&v.Stochastic.Check, "stoch-check", v.Stochastic.Check, "iterations between stochastic checks")
	o.bind("stoch-full-stats", func(d, s *config.Config) { d.Stochastic.FullStats = s.Stochastic.FullStats })
	fs.BoolVar(&v.Stochastic.FullStats, "stoch-full-stats", v.Stochastic.FullStats, "exact statistics at every check")
	o.bind("stoch-final-exact", func(d, s *config.Config) { d.Stochastic.FinalExact = s.Stochastic.FinalExact })
	fs.BoolVar(&v.Stochastic.FinalExact, "stoch-final-exact", v.Stochastic.FinalExact, "exact statistics for the returned model")

	o.bind("init", func(d, s *config.Config) { d.Init.Method = s.Init.Method })
	fs.Var(&v.Init.Method, "init", "prototype initialization (grid|kmeans)")
	o.bind("prototypes", func(d, s *config.Config) { d.Init.Prototypes = s.Init.Prototypes })
	fs.IntVar(&v.Init.Prototypes, "prototypes", v.Init.Prototypes, "prototypes per dependent dimension (grid) or clusters (kmeans)")
	o.bind("extrapolate", func(d, s *config.Config) { d.Init.Extrapolate = s.Init.Extrapolate })
	fs.Float64Var(&v.Init.Extrapolate, "extrapolate", v.Init.Extrapolate, "bin widths added beyond the observed target range")
	o.bind("multimodal", func(d, s *config.Config) { d.Init.Multimodal = s.Init.Multimodal })
	fs.IntVar(&v.Init.Multimodal, "multimodal", v.Init.Multimodal, "prototypes per grid bin")

	o.bind("cv-folds", func(d, s *config.Config) { d.CrossValidation.Folds = s.CrossValidation.Folds })
	fs.IntVar(&v.CrossValidation.Folds, "cv-folds", 0, "cross-validation folds, 0 = off")
	o.bind("cv-slopes", func(d, s *config.Config) { d.CrossValidation.Slopes = s.CrossValidation.Slopes })
	fs.Float64SliceVar(&v.CrossValidation.Slopes, "cv-slopes", nil, "slope candidates")
	o.bind("cv-prototypes", func(d, s *config.Config) { d.CrossValidation.Prototypes = s.CrossValidation.Prototypes })
	fs.IntSliceVar(&v.CrossValidation.Prototypes, "cv-prototypes", nil, "prototype count candidates")
	o.bind("cv-dims", func(d, s *config.Config) { d.CrossValidation.Dims = s.CrossValidation.Dims })
	fs.IntSliceVar(&v.CrossValidation.Dims, "cv-dims", nil, "projected dimensionality candidates")
	o.bind("cv-rates-b", func(d, s *config.Config) { d.CrossValidation.RatesB = s.CrossValidation.RatesB })
	fs.Float64SliceVar(&v.CrossValidation.RatesB, "cv-rates-b", nil, "projection learning rate candidates")
	o.bind("cv-rates-p", func(d, s *config.Config) { d.CrossValidation.RatesP = s.CrossValidation.RatesP })
	fs.Float64SliceVar(&v.CrossValidation.RatesP, "cv-rates-p", nil, "prototype learning rate candidates")
	o.bind("cv-rates-pp", func(d, s *config.Config) { d.CrossValidation.RatesPP = s.CrossValidation.RatesPP })
	fs.Float64SliceVar(&v.CrossValidation.RatesPP, "cv-rates-pp", nil, "prototype target learning rate candidates")
	o.bind("cv-iterations", func(d, s *config.Config) { d.CrossValidation.Iterations = s.CrossValidation.Iterations })
	fs.IntVar(&v.CrossValidation.Iterations, "cv-iterations", 0, "probe iteration budget, 0 = max-iterations")
	o.bind("cv-workers", func(d, s *config.Config) { d.CrossValidation.Workers = s.CrossValidation.Workers })
	fs.IntVar(&v.CrossValidation.Workers, "cv-workers", 0, "parallel probes, 0 = GOMAXPROCS")

	o.bind("redis", func(d, s *config.Config) { d.Cache.RedisAddr = s.Cache.RedisAddr })
	fs.StringVar(&v.Cache.RedisAddr, "redis", "", "redis address for the shared probe cache")
	o.bind("monitor", func(d, s *config.Config) { d.Monitor.Addr = s.Monitor.Addr })
	fs.StringVar(&v.Monitor.Addr, "monitor", "", "address of the monitoring server, empty = off")
	addDatabaseFlags(fs, o)
	return o
}

func addDatabaseFlags(fs *pflag.FlagSet, o *overrides) {
	o.bind("pg-dsn", func(d, s *config.Config) {
		d.Database.DSN = s.Database.DSN
		d.Database.Enabled = s.Database.DSN != ""
	})
	fs.StringVar(&o.v.Database.DSN, "pg-dsn", "", "PostgreSQL DSN for grid results")
}

func (o *overrides) bind(name string, cp func(dst, src *config.Config)) {
	o.copies[name] = cp
}

// apply copies every changed flag onto cfg
func (o *overrides) apply(fs *pflag.FlagSet, cfg *config.Config) {
	fs.Visit(func(f *pflag.Flag) {
		if cp, ok := o.copies[f.Name]; ok {
			cp(cfg, &o.v)
		}
	})
}

// newDatabaseOverrides binds only the database flag
func newDatabaseOverrides(fs *pflag.FlagSet) *overrides {
	o := &overrides{v: config.Default(), copies: make(map[string]func(dst, src *config.Config))}
	addDatabaseFlags(fs, o)
	return o
}
