// Package cv selects training hyperparameters by K-fold cross-validation over a
// Cartesian grid, probing every (fold, combination) pair on a bounded pool.
package cv

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/sawpanic/protoreg/internal/config"
)

// Combo is one point of the hyperparameter grid
type Combo struct {
	Slope      float64 `json:"slope"`
	Prototypes int     `json:"prototypes"`
	Dims       int     `json:"dims"`
	RateB      float64 `json:"rate_b"`
	RateP      float64 `json:"rate_p"`
	RatePP     float64 `json:"rate_pp"`
}

func (c Combo) String() string {
	return fmt.Sprintf("slope=%g M=%d dr=%d rateB=%g rateP=%g ratePP=%g",
		c.Slope, c.Prototypes, c.Dims, c.RateB, c.RateP, c.RatePP)
}

// Apply returns cfg with the combination's values substituted
func (c Combo) Apply(cfg config.Config) config.Config {
	cfg.Slope = c.Slope
	cfg.Init.Prototypes = c.Prototypes
	cfg.Dims = c.Dims
	cfg.RateB, cfg.RateP, cfg.RatePP = c.RateB, c.RateP, c.RatePP
	return cfg
}

// Row is the cross-validated score of one combination
type Row struct {
	Index int `json:"index"`
	Combo
	// Criterion is the mean selection statistic over folds, +Inf when any fold failed
	Criterion           float64 `json:"criterion"`
	ImprovementFraction float64 `json:"improvement_fraction"`
	Folds               int     `json:"folds"`
	Failed              int     `json:"failed"`
	Error               string  `json:"error,omitempty"`
}

// Grid is the full cross-validation table. Best indexes the selected row.
type Grid struct {
	RunID string `json:"run_id"`
	Folds int    `json:"folds"`
	Rows  []Row  `json:"rows"`
	Best  int    `json:"best"`
}

// Selected returns the winning row
func (g *Grid) Selected() Row { return g.Rows[g.Best] }

// Combos expands the configured candidate lists into their Cartesian product.
// An empty list contributes the base configuration value. Order is slope,
// prototypes, dims, rateB, rateP, ratePP with the last varying fastest.
func Combos(cfg config.Config) []Combo {
	cv := cfg.CrossValidation
	slopes := orDefault(cv.Slopes, cfg.Slope)
	protos := orDefault(cv.Prototypes, cfg.Init.Prototypes)
	dims := orDefault(cv.Dims, cfg.Dims)
	ratesB := orDefault(cv.RatesB, cfg.RateB)
	ratesP := orDefault(cv.RatesP, cfg.RateP)
	ratesPP := orDefault(cv.RatesPP, cfg.RatePP)

	var out []Combo
	for _, s := range slopes {
		for _, m := range protos {
			for _, dr := range dims {
				for _, rb := range ratesB {
					for _, rp := range ratesP {
						for _, rpp := range ratesPP {
							out = append(out, Combo{s, m, dr, rb, rp, rpp})
						}
					}
				}
			}
		}
	}
	return out
}

func orDefault[T any](list []T, base T) []T {
	if len(list) == 0 {
		return []T{base}
	}
	return list
}

// Folds randomly partitions n sample indices into k folds whose sizes differ by
// at most one
func Folds(n, k int, rng *rand.Rand) ([][]int, error) {
	if k < 2 || k > n {
		return nil, fmt.Errorf("cannot split %d samples into %d folds", n, k)
	}
	perm := rng.Perm(n)
	folds := make([][]int, k)
	for i, j := range perm {
		folds[i%k] = append(folds[i%k], j)
	}
	return folds, nil
}

// complement returns the indices in [0,n) outside fold, in increasing order
func complement(n int, fold []int) []int {
	skip := make(map[int]bool, len(fold))
	for _, j := range fold {
		skip[j] = true
	}
	out := make([]int, 0, n-len(fold))
	for j := 0; j < n; j++ {
		if !skip[j] {
			out = append(out, j)
		}
	}
	return out
}

// selectBest returns the index of the smallest finite criterion, first on ties
func selectBest(rows []Row) (int, bool) {
	best, found := 0, false
	for i, r := range rows {
		if math.IsInf(r.Criterion, 0) || math.IsNaN(r.Criterion) {
			continue
		}
		if !found || r.Criterion < rows[best].Criterion {
			best, found = i, true
		}
	}
	return best, found
}
