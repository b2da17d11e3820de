package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every validation failure reported by Validate
var ErrInvalidConfig = errors.New("invalid configuration")

// Config enumerates every recognized training option
type Config struct {
	Slope         float64   `yaml:"slope"`          // tanh saturation slope of the objective
	RateB         float64   `yaml:"rate_b"`         // learning rate of the projection
	RateP         float64   `yaml:"rate_p"`         // learning rate of the prototype positions
	RatePP        float64   `yaml:"rate_pp"`        // learning rate of the prototype targets
	MinIterations int       `yaml:"min_iterations"` // no convergence stop before this
	MaxIterations int       `yaml:"max_iterations"`
	Epsilon       float64   `yaml:"epsilon"` // |ΔJ| convergence threshold
	OrthoEvery    int       `yaml:"ortho_every"`
	Ortho         OrthoMode `yaml:"ortho"`
	Metric        Metric    `yaml:"metric"`
	Norm          NormMode  `yaml:"norm"`
	ErrorStat     ErrorStat `yaml:"error_stat"`
	PPMode        PPMode    `yaml:"pp_mode"`
	Criterion     Criterion `yaml:"criterion"`
	Dims          int       `yaml:"dims"` // target dimensionality Dr when no B0 is given
	LogEvery      int       `yaml:"log_every"`
	ProgressRate  float64   `yaml:"progress_rate"` // max progress log lines per second, 0 = unlimited
	Seed          uint64    `yaml:"seed"`

	Stochastic      StochasticConfig      `yaml:"stochastic"`
	Init            InitConfig            `yaml:"init"`
	CrossValidation CrossValidationConfig `yaml:"cross_validation"`
	Cache           CacheConfig           `yaml:"cache"`
	Database        DatabaseConfig        `yaml:"database"`
	Monitor         MonitorConfig         `yaml:"monitor"`
}

// StochasticConfig configures mini-batch training
type StochasticConfig struct {
	Enabled    bool `yaml:"enabled"`
	Samples    int  `yaml:"samples"`     // mini-batch size
	Check      int  `yaml:"check"`       // iterations between best/stop checks
	FullStats  bool `yaml:"full_stats"`  // exact J,E over the whole set at each check
	FinalExact bool `yaml:"final_exact"` // recompute exact J,E for the best parameters at the end
}

// InitConfig configures the prototype initializer
type InitConfig struct {
	Method      InitMethod `yaml:"method"`
	Prototypes  int        `yaml:"prototypes"`  // M, prototypes per dependent dimension (grid) or clusters (kmeans)
	Extrapolate float64    `yaml:"extrapolate"` // fraction of a bin width added beyond the observed target range
	Multimodal  int        `yaml:"multimodal"`  // prototypes per grid bin
	KMeansIters int        `yaml:"kmeans_iterations"`
}

// CrossValidationConfig configures the hyperparameter grid search
type CrossValidationConfig struct {
	Folds      int       `yaml:"folds"` // 0 disables cross-validation
	Slopes     []float64 `yaml:"slopes"`
	Prototypes []int     `yaml:"prototypes"`
	Dims       []int     `yaml:"dims"`
	RatesB     []float64 `yaml:"rates_b"`
	RatesP     []float64 `yaml:"rates_p"`
	RatesPP    []float64 `yaml:"rates_pp"`
	Iterations int       `yaml:"iterations"` // probe iteration budget, 0 = MaxIterations
	Workers    int       `yaml:"workers"`    // 0 = GOMAXPROCS
}

// CacheConfig configures the probe result cache
type CacheConfig struct {
	RedisAddr string        `yaml:"redis_addr"`
	RedisDB   int           `yaml:"redis_db"`
	TTL       time.Duration `yaml:"ttl"`
}

// DatabaseConfig configures persistence of cross-validation grids
type DatabaseConfig struct {
	Enabled      bool          `yaml:"enabled"`
	DSN          string        `yaml:"dsn"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// MonitorConfig configures the optional HTTP monitor
type MonitorConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the default training configuration
func Default() Config {
	return Config{
		Slope:         10,
		RateB:         0.1,
		RateP:         0.1,
		RatePP:        0.1,
		MinIterations: 100,
		MaxIterations: 1000,
		Epsilon:       1e-7,
		OrthoEvery:    100,
		Ortho:         OrthoNormal,
		Metric:        MetricEuclidean,
		Norm:          NormZScore,
		ErrorStat:     ErrorRMSE,
		PPMode:        PPIndependent,
		Criterion:     CriterionObjective,
		Dims:          2,
		LogEvery:      100,
		Seed:          1,
		Stochastic: StochasticConfig{
			Samples:    10,
			Check:      100,
			FinalExact: true,
		},
		Init: InitConfig{
			Method:      InitGrid,
			Prototypes:  4,
			Multimodal:  1,
			KMeansIters: 50,
		},
		Cache: CacheConfig{
			TTL: 24 * time.Hour,
		},
		Database: DatabaseConfig{
			QueryTimeout: 30 * time.Second,
		},
	}
}

// Load reads a YAML file on top of the defaults and applies environment overrides.
// An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// Save writes the configuration as YAML
func Save(cfg Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

func applyEnvOverrides(cfg *Config) {
	if seed := os.Getenv("PROTOREG_SEED"); seed != "" {
		if val, err := strconv.ParseUint(seed, 10, 64); err == nil {
			cfg.Seed = val
		}
	}
	if addr := os.Getenv("PROTOREG_REDIS_ADDR"); addr != "" {
		cfg.Cache.RedisAddr = addr
	}
	if dsn := os.Getenv("PROTOREG_PG_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
		cfg.Database.Enabled = true
	}
	if addr := os.Getenv("PROTOREG_MONITOR_ADDR"); addr != "" {
		cfg.Monitor.Addr = addr
	}
	if workers := os.Getenv("PROTOREG_CV_WORKERS"); workers != "" {
		if val, err := strconv.Atoi(workers); err == nil {
			cfg.CrossValidation.Workers = val
		}
	}
}

// Validate checks every option and reports all problems at once
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if !(c.Slope > 0) || math.IsInf(c.Slope, 0) {
		add("slope must be positive and finite, got %g", c.Slope)
	}
	rates := []struct {
		name  string
		value float64
	}{{"rate_b", c.RateB}, {"rate_p", c.RateP}, {"rate_pp", c.RatePP}}
	for _, rate := range rates {
		if rate.value < 0 || math.IsNaN(rate.value) || math.IsInf(rate.value, 0) {
			add("%s must be a finite non-negative number, got %g", rate.name, rate.value)
		}
	}
	if c.MinIterations < 0 {
		add("min_iterations cannot be negative, got %d", c.MinIterations)
	}
	if c.MaxIterations < c.MinIterations {
		add("max_iterations (%d) must be >= min_iterations (%d)", c.MaxIterations, c.MinIterations)
	}
	if c.Epsilon < 0 {
		add("epsilon cannot be negative, got %g", c.Epsilon)
	}
	if c.OrthoEvery < 0 {
		add("ortho_every cannot be negative, got %d", c.OrthoEvery)
	}
	if c.Metric.Tangent() {
		add("metric %s has no gradient implementation and cannot be used for training", c.Metric)
	} else if c.Metric != MetricEuclidean && c.Metric != MetricCosine {
		add("unknown metric %s", c.Metric)
	}
	if c.Ortho < OrthoNormal || c.Ortho > OrthoNone {
		add("unknown orthogonalization mode %s", c.Ortho)
	}
	if c.Norm < NormZScore || c.Norm > NormNone {
		add("unknown normalization mode %s", c.Norm)
	}
	if c.Dims < 1 {
		add("dims must be at least 1, got %d", c.Dims)
	}
	if c.LogEvery < 1 {
		add("log_every must be at least 1, got %d", c.LogEvery)
	}
	if c.ProgressRate < 0 {
		add("progress_rate cannot be negative, got %g", c.ProgressRate)
	}

	if c.Stochastic.Enabled {
		if c.Stochastic.Samples < 1 {
			add("stochastic.samples must be at least 1, got %d", c.Stochastic.Samples)
		}
		if c.Stochastic.Check < 1 {
			add("stochastic.check must be at least 1, got %d", c.Stochastic.Check)
		}
	}

	if c.Init.Prototypes < 1 {
		add("init.prototypes must be at least 1, got %d", c.Init.Prototypes)
	}
	if c.Init.Multimodal < 1 {
		add("init.multimodal must be at least 1, got %d", c.Init.Multimodal)
	}
	if c.Init.Extrapolate < 0 {
		add("init.extrapolate cannot be negative, got %g", c.Init.Extrapolate)
	}

	cv := c.CrossValidation
	if cv.Folds == 1 || cv.Folds < 0 {
		add("cross_validation.folds must be 0 (off) or at least 2, got %d", cv.Folds)
	}
	for _, v := range cv.Slopes {
		if !(v > 0) {
			add("cross_validation.slopes must be positive, got %g", v)
		}
	}
	for _, v := range cv.Prototypes {
		if v < 1 {
			add("cross_validation.prototypes must be at least 1, got %d", v)
		}
	}
	for _, v := range cv.Dims {
		if v < 1 {
			add("cross_validation.dims must be at least 1, got %d", v)
		}
	}
	for _, list := range [][]float64{cv.RatesB, cv.RatesP, cv.RatesPP} {
		for _, v := range list {
			if v < 0 {
				add("cross_validation rates cannot be negative, got %g", v)
			}
		}
	}
	if cv.Iterations < 0 {
		add("cross_validation.iterations cannot be negative, got %d", cv.Iterations)
	}

	if c.Database.Enabled && c.Database.DSN == "" {
		add("database.dsn is required when the database is enabled")
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// ProbeIterations returns the fixed iteration budget of a cross-validation probe
func (c Config) ProbeIterations() int {
	if c.CrossValidation.Iterations > 0 {
		return c.CrossValidation.Iterations
	}
	return c.MaxIterations
}
