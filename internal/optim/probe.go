package optim

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/sawpanic/protoreg/internal/config"
)

// ErrNoFiniteCheck is returned by Probe when every check of the run was non-finite
var ErrNoFiniteCheck = errors.New("no finite check before the run became unstable")

// ProbeResult summarizes a fixed-budget run used to score a hyperparameter
// combination
type ProbeResult struct {
	ImprovementFraction float64 `json:"improvement_fraction"`
	Criterion           float64 `json:"criterion"` // best J or E, per the configured criterion
	Reason              Reason  `json:"reason"`
	Best                Best    `json:"best"`
}

// Probe trains for exactly cfg.ProbeIterations() iterations, with no
// convergence stop and no progress output, and reports the best criterion
// value reached on the development set
func Probe(ctx context.Context, prob Problem, init Params, cfg config.Config, rng *rand.Rand) (ProbeResult, error) {
	budget := cfg.ProbeIterations()
	cfg.MinIterations, cfg.MaxIterations = budget, budget

	res, err := NewTrainer(prob, cfg, rng).Run(ctx, init)
	if err != nil {
		return ProbeResult{}, err
	}
	if !finite(res.Best.J) || !finite(res.Best.E) {
		return ProbeResult{}, fmt.Errorf("%w (iteration %d)", ErrNoFiniteCheck, res.Best.Iteration)
	}
	return ProbeResult{
		ImprovementFraction: res.ImprovementFraction,
		Criterion:           res.Best.Criterion(cfg.Criterion),
		Reason:              res.Reason,
		Best:                res.Best,
	}, nil
}
