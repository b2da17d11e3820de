// Package application wires normalization, initialization, cross-validation,
// training and de-normalization into one training run.
package application

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/sawpanic/protoreg/internal/config"
	"github.com/sawpanic/protoreg/internal/cv"
	"github.com/sawpanic/protoreg/internal/normalize"
	"github.com/sawpanic/protoreg/internal/optim"
	"github.com/sawpanic/protoreg/internal/proto"
)

// GridSaver persists cross-validation tables
type GridSaver interface {
	SaveGrid(ctx context.Context, grid *cv.Grid) error
}

// Deps are the optional collaborators of a run
type Deps struct {
	Logger   zerolog.Logger
	Reporter optim.Reporter
	Cache    cv.Cache
	// Fingerprint identifies the dataset in probe cache keys
	Fingerprint string
	Observer    cv.Observer
	Grids       []GridSaver
}

// Info describes how a run went
type Info struct {
	RunID               string           `json:"run_id"`
	Elapsed             time.Duration    `json:"elapsed"`
	Iterations          int              `json:"iterations"`
	BestIteration       int              `json:"best_iteration"`
	J                   float64          `json:"j"` // selection objective of the returned model
	E                   float64          `json:"e"`
	TrainJ              float64          `json:"train_j"`
	Reason              optim.Reason     `json:"reason"`
	ImprovementFraction float64          `json:"improvement_fraction"`
	Grid                *cv.Grid         `json:"grid,omitempty"`
	Stats               *normalize.Stats `json:"normalization"`
	Config              config.Config    `json:"-"`
}

// MarshalJSON writes non-finite statistics of an unstable run as null
func (i Info) MarshalJSON() ([]byte, error) {
	type plain Info
	return json.Marshal(struct {
		plain
		J      *float64 `json:"j"`
		E      *float64 `json:"e"`
		TrainJ *float64 `json:"train_j"`
	}{plain(i), finiteOrNil(i.J), finiteOrNil(i.E), finiteOrNil(i.TrainJ)})
}

// UnmarshalJSON reads null statistics back as NaN
func (i *Info) UnmarshalJSON(data []byte) error {
	type plain Info
	aux := struct {
		*plain
		J      *float64 `json:"j"`
		E      *float64 `json:"e"`
		TrainJ *float64 `json:"train_j"`
	}{plain: (*plain)(i)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	i.J, i.E, i.TrainJ = orNaN(aux.J), orNaN(aux.E), orNaN(aux.TrainJ)
	return nil
}

func finiteOrNil(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func orNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

// Output is the learned model in the raw input space
type Output struct {
	B  *mat.Dense // D × Dr
	P  *mat.Dense // D × Np
	PP *mat.Dense // DD × Np
	Info
}

// Train runs the whole pipeline: validate, normalize, optionally cross-validate,
// initialize, train and map the best parameters back to the raw space. Caller
// matrices are never modified. After cross-validation the prototypes are always
// initialized afresh with the selected hyperparameters; a supplied B0 still
// fixes the projection.
func Train(ctx context.Context, in Inputs, cfg config.Config, deps Deps) (*Output, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := checkInputs(in, cfg); err != nil {
		return nil, err
	}

	start := time.Now()
	runID := uuid.NewString()
	logger := deps.Logger.With().Str("run_id", runID).Logger()

	stats, err := normalize.Fit(in.X, in.XX, in.Dr(cfg), cfg.Norm, cfg.ErrorStat)
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	if len(stats.Dropped) > 0 {
		logger.Warn().Ints("dims", stats.Dropped).Msg("Dropping zero-variance input dimensions")
	}

	var grid *cv.Grid
	if cfg.CrossValidation.Folds > 0 {
		grid, err = crossValidate(ctx, in, stats, cfg, runID, deps, logger)
		if err != nil {
			return nil, err
		}
		cfg = grid.Selected().Combo.Apply(cfg)
		stats = stats.WithDr(in.Dr(cfg))

		// the final run starts from prototypes of the selected size
		if in.P0 != nil {
			_, np := in.P0.Dims()
			logger.Info().
				Int("supplied", np).
				Int("selected", cfg.Init.Prototypes).
				Msg("Re-initializing supplied prototypes after cross-validation")
			in.P0, in.PP0 = nil, nil
		}
	}

	prob := optim.Problem{
		X:           stats.Inputs(in.X),
		XX:          stats.Targets(in.XX),
		TargetScale: stats.YScale,
	}
	if in.Y != nil {
		prob.Y, prob.YY = stats.Inputs(in.Y), stats.Targets(in.YY)
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, 0))
	init, err := initialParams(in, prob, stats, cfg, rng)
	if err != nil {
		return nil, err
	}

	res, err := optim.Train(ctx, prob, init, cfg, rng,
		optim.WithLogger(logger),
		optim.WithReporter(deps.Reporter),
		optim.WithRunID(runID),
	)
	if err != nil {
		return nil, fmt.Errorf("train: %w", err)
	}

	out := &Output{
		B:  stats.RestoreProjection(res.Params.B),
		P:  stats.RestoreInputs(res.Params.P),
		PP: stats.RestoreTargets(res.Params.PP),
		Info: Info{
			RunID:               runID,
			Elapsed:             time.Since(start),
			Iterations:          res.Iterations,
			BestIteration:       res.Best.Iteration,
			J:                   res.Best.J,
			E:                   res.Best.E,
			TrainJ:              res.TrainJ,
			Reason:              res.Reason,
			ImprovementFraction: res.ImprovementFraction,
			Grid:                grid,
			Stats:               stats,
			Config:              cfg,
		},
	}
	return out, nil
}

func crossValidate(ctx context.Context, in Inputs, stats *normalize.Stats, cfg config.Config, runID string, deps Deps, logger zerolog.Logger) (*cv.Grid, error) {
	opts := []cv.Option{cv.WithLogger(logger), cv.WithRunID(runID)}
	if deps.Cache != nil {
		opts = append(opts, cv.WithCache(deps.Cache, deps.Fingerprint))
	}
	if deps.Observer != nil {
		opts = append(opts, cv.WithObserver(deps.Observer))
	}

	grid, err := cv.Run(ctx, cv.Data{X: in.X, XX: in.XX, Stats: stats, B0: in.B0}, cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("cross-validation: %w", err)
	}

	for _, g := range deps.Grids {
		if err := g.SaveGrid(ctx, grid); err != nil {
			logger.Warn().Err(err).Msg("Failed to persist cross-validation grid")
		}
	}
	return grid, nil
}

// initialParams builds B0, P0 and PP0 in the standardized space
func initialParams(in Inputs, prob optim.Problem, stats *normalize.Stats, cfg config.Config, rng *rand.Rand) (optim.Params, error) {
	var p optim.Params

	if in.B0 != nil {
		p.B = stats.Projection(in.B0)
	} else {
		b, err := proto.PCA(prob.X, cfg.Dims)
		if err != nil {
			return p, fmt.Errorf("default projection: %w", err)
		}
		p.B = b
	}

	if in.P0 != nil {
		p.P = stats.Inputs(in.P0)
		p.PP = stats.Targets(in.PP0)
		return p, nil
	}

	var err error
	p.P, p.PP, err = proto.Initialize(prob.X, prob.XX, cfg.Init.Prototypes, proto.OptionsFrom(cfg.Init), rng)
	if err != nil {
		return p, fmt.Errorf("initialize prototypes: %w", err)
	}
	return p, nil
}
