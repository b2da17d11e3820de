// Package optim runs batch and stochastic gradient descent over the projection,
// the prototypes and the prototype targets, keeping the best parameters seen.
package optim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/sawpanic/protoreg/internal/config"
	"github.com/sawpanic/protoreg/internal/index"
)

// Result holds the outcome of a training run. Params is the best-so-far
// snapshot, which need not be the final iterate.
type Result struct {
	Params              Params        `json:"-"`
	Best                Best          `json:"best"`
	TrainJ              float64       `json:"train_j"` // training objective of the best parameters
	Iterations          int           `json:"iterations"`
	Reason              Reason        `json:"reason"`
	ImprovementFraction float64       `json:"improvement_fraction"`
	Elapsed             time.Duration `json:"elapsed"`
	History             []Progress    `json:"history,omitempty"`
}

// Trainer owns one training run
type Trainer struct {
	cfg      config.Config
	prob     Problem
	rng      *rand.Rand
	logger   zerolog.Logger
	reporter Reporter
	runID    string

	work      *index.Work // full training set
	batchWork *index.Work // mini-batches
	devWork   *index.Work // development set
}

// Option customizes a Trainer
type Option func(*Trainer)

// WithLogger sets the logger; the default discards everything
func WithLogger(l zerolog.Logger) Option {
	return func(t *Trainer) { t.logger = l }
}

// WithReporter sets the progress reporter
func WithReporter(r Reporter) Option {
	return func(t *Trainer) { t.reporter = r }
}

// WithRunID tags progress records with a run identifier
func WithRunID(id string) Option {
	return func(t *Trainer) { t.runID = id }
}

// NewTrainer prepares a run over prob. rng is consumed by mini-batch sampling only.
func NewTrainer(prob Problem, cfg config.Config, rng *rand.Rand, opts ...Option) *Trainer {
	t := &Trainer{
		cfg:    cfg,
		prob:   prob,
		rng:    rng,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Train runs the configured optimizer from init and returns the best parameters
func Train(ctx context.Context, prob Problem, init Params, cfg config.Config, rng *rand.Rand, opts ...Option) (*Result, error) {
	return NewTrainer(prob, cfg, rng, opts...).Run(ctx, init)
}

func (t *Trainer) setup(init Params) error {
	if err := t.cfg.Validate(); err != nil {
		return err
	}
	if err := t.prob.check(init); err != nil {
		return err
	}
	if t.cfg.Stochastic.Enabled && t.rng == nil {
		return fmt.Errorf("stochastic training needs a random source")
	}

	dd, nx := t.prob.XX.Dims()
	np := init.Np()
	opts := index.Options{
		Slope:       t.cfg.Slope,
		Metric:      t.cfg.Metric,
		PPMode:      t.cfg.PPMode,
		ErrorStat:   t.cfg.ErrorStat,
		TargetScale: t.prob.TargetScale,
	}

	var err error
	if t.work, err = index.NewWork(nx, np, dd, opts); err != nil {
		return err
	}
	if t.cfg.Stochastic.Enabled {
		if t.batchWork, err = index.NewWork(min(t.cfg.Stochastic.Samples, nx), np, dd, opts); err != nil {
			return err
		}
	}
	if t.prob.HasDevelopment() {
		_, ny := t.prob.YY.Dims()
		if t.devWork, err = index.NewWork(ny, np, dd, opts); err != nil {
			return err
		}
	}
	return nil
}

// loop carries the mutable state of one run
type loop struct {
	cur     Params
	best    Best
	bestJ   float64 // training J of the best parameters
	prevJ   float64 // training J at the previous check
	recJ    float64 // training J at the previous progress record
	records int
	history []Progress

	// selection statistics of the latest check, finite or not
	lastJ, lastE float64

	// running estimates of the stochastic regime
	estJ, estE float64
	estOK      bool
}

// Run executes the state machine: initializing, iterating, then converged,
// unstable, max-iterations or cancelled. A cancelled run returns its best
// parameters together with the context error. A run that turns unstable before
// any finite check returns init with the non-finite statistics recorded; only
// degenerate distances or cancellation at that point are errors.
func (t *Trainer) Run(ctx context.Context, init Params) (*Result, error) {
	if err := t.setup(init); err != nil {
		return nil, err
	}

	start := time.Now()
	st := &loop{
		cur:   init.Clone(),
		prevJ: math.Inf(1),
		lastJ: math.NaN(),
		lastE: math.NaN(),
	}

	d, nx := t.prob.X.Dims()
	t.logger.Info().
		Int("samples", nx).
		Int("dims", d).
		Int("projected_dims", init.Dr()).
		Int("prototypes", init.Np()).
		Bool("stochastic", t.cfg.Stochastic.Enabled).
		Str("metric", t.cfg.Metric.String()).
		Msg("Starting training")

	var (
		reason  Reason
		iter    int
		runErr  error
		evalErr error
	)
	for iter = 0; ; iter++ {
		// cancellation only between iterations, never inside the bookkeeping
		if err := ctx.Err(); err != nil {
			reason, runErr = ReasonCancelled, err
			break
		}

		var (
			stop Reason
			err  error
		)
		if t.cfg.Stochastic.Enabled {
			stop, err = t.stochasticStep(st, iter, start)
		} else {
			stop, err = t.batchStep(st, iter, start)
		}
		if err != nil {
			t.logger.Warn().Err(err).Int("iteration", iter).Msg("Index evaluation failed, stopping")
			reason, evalErr = ReasonUnstable, err
			break
		}
		if stop != "" {
			reason = stop
			break
		}

		if t.cfg.OrthoEvery > 0 && t.cfg.Ortho != config.OrthoNone && (iter+1)%t.cfg.OrthoEvery == 0 {
			b, err := Constrain(st.cur.B, t.cfg.Ortho)
			if err != nil {
				t.logger.Warn().Err(err).Int("iteration", iter).Msg("Projection constraint failed, stopping")
				reason = ReasonUnstable
				iter++
				break
			}
			st.cur.B = b
		}
	}

	if st.best.Empty() {
		switch {
		case runErr != nil:
			return nil, runErr
		case errors.Is(evalErr, index.ErrDegenerateDistances):
			return nil, fmt.Errorf("training stopped at iteration %d: %w", iter, evalErr)
		}
		st.best.Iteration, st.best.J, st.best.E = iter, st.lastJ, st.lastE
		st.best.Params = init.Clone()
		st.bestJ = st.prevJ
		t.logger.Warn().
			Int("iteration", iter).
			Float64("J", st.lastJ).
			Float64("E", st.lastE).
			Msg("Training unstable before any finite check, returning initial parameters")
	}

	if t.cfg.Stochastic.Enabled && t.cfg.Stochastic.FinalExact {
		if err := t.exactBest(st); err != nil {
			t.logger.Warn().Err(err).Msg("Exact final statistics failed, keeping running estimates")
		}
	}

	res := &Result{
		Params:              st.best.Params,
		Best:                st.best,
		TrainJ:              st.bestJ,
		Iterations:          iter,
		Reason:              reason,
		ImprovementFraction: st.best.ImprovementFraction(),
		Elapsed:             time.Since(start),
		History:             st.history,
	}

	t.logger.Info().
		Int("iterations", iter).
		Str("reason", string(reason)).
		Int("best_iteration", st.best.Iteration).
		Float64("J", st.best.J).
		Float64("E", st.best.E).
		Float64("improvement_fraction", res.ImprovementFraction).
		Dur("elapsed", res.Elapsed).
		Msg("Training complete")

	return res, runErr
}

// batchStep evaluates the full training set, checks, and takes one step
func (t *Trainer) batchStep(st *loop, iter int, start time.Time) (Reason, error) {
	rP := st.cur.Project(st.cur.P)
	res, err := t.work.Evaluate(rP, st.cur.PP, st.cur.Project(t.prob.X), t.prob.XX, true)
	if err != nil {
		return "", err
	}

	stop, err := t.check(st, iter, rP, res.J, res.E, start, iter%t.cfg.LogEvery == 0)
	if err != nil || stop != "" {
		return stop, err
	}

	t.step(&st.cur, t.prob.X, res)
	return "", nil
}

// stochasticStep evaluates one mini-batch, checks every Stochastic.Check
// iterations, and takes one step
func (t *Trainer) stochasticStep(st *loop, iter int, start time.Time) (Reason, error) {
	idx := t.sample()
	bx, err := index.Columns(t.prob.X, idx)
	if err != nil {
		return "", err
	}
	bxx, err := index.Columns(t.prob.XX, idx)
	if err != nil {
		return "", err
	}

	rP := st.cur.Project(st.cur.P)
	res, err := t.batchWork.EvaluateBatch(rP, st.cur.PP, st.cur.Project(bx), bxx)
	if err != nil {
		return "", err
	}
	if !finite(res.J) || !finite(res.E) {
		st.lastJ, st.lastE, st.prevJ = res.J, res.E, res.J
		t.report(st, iter, res.J, res.E, start, true)
		return ReasonUnstable, nil
	}

	if st.estOK {
		st.estJ = 0.5 * (st.estJ + res.J)
		st.estE = 0.5 * (st.estE + res.E)
	} else {
		st.estJ, st.estE, st.estOK = res.J, res.E, true
	}

	if iter%t.cfg.Stochastic.Check == 0 || iter >= t.cfg.MaxIterations {
		j, e := st.estJ, st.estE
		if t.cfg.Stochastic.FullStats {
			full, err := t.work.Evaluate(rP, st.cur.PP, st.cur.Project(t.prob.X), t.prob.XX, false)
			if err != nil {
				return "", err
			}
			j, e = full.J, full.E
		}
		stop, err := t.check(st, iter, rP, j, e, start, true)
		if err != nil || stop != "" {
			return stop, err
		}
	}

	t.step(&st.cur, bx, res)
	return "", nil
}

// check offers the current parameters to the best-so-far record, emits a
// progress record when due and evaluates the stop condition
func (t *Trainer) check(st *loop, iter int, rP *mat.Dense, j, e float64, start time.Time, record bool) (Reason, error) {
	selJ, selE := j, e
	if t.prob.HasDevelopment() {
		dev, err := t.devWork.Evaluate(rP, st.cur.PP, st.cur.Project(t.prob.Y), t.prob.YY, false)
		if err != nil {
			return "", err
		}
		selJ, selE = dev.J, dev.E
	}

	st.lastJ, st.lastE = selJ, selE
	if st.best.offer(iter, selJ, selE, t.cfg.Criterion, st.cur) {
		st.bestJ = j
	}

	stop := t.stopReason(iter, j, e, j-st.prevJ)
	st.prevJ = j

	if record || stop != "" {
		t.report(st, iter, j, e, start, stop != "")
	}
	return stop, nil
}

func (t *Trainer) stopReason(iter int, j, e, dj float64) Reason {
	switch {
	case !finite(j) || !finite(e):
		return ReasonUnstable
	case iter >= t.cfg.MaxIterations:
		return ReasonMaxIterations
	case iter >= t.cfg.MinIterations && math.Abs(dj) < t.cfg.Epsilon:
		return ReasonConverged
	}
	return ""
}

func (t *Trainer) report(st *loop, iter int, j, e float64, start time.Time, final bool) {
	p := Progress{
		RunID:     t.runID,
		Iteration: iter,
		J:         j,
		E:         e,
		Elapsed:   time.Since(start),
		Final:     final,
	}
	if st.records > 0 {
		p.DeltaJ = j - st.recJ
	}
	st.recJ = j
	st.records++

	st.history = append(st.history, p)
	if t.reporter != nil {
		t.reporter.Report(p)
	}
}

// step applies one gradient-descent update. X holds the samples the gradients
// were computed on.
func (t *Trainer) step(cur *Params, X mat.Matrix, res index.Result) {
	// dJ/dB = X·FXᵗ + P·FPᵗ, dJ/dP = B·FP, both with the pre-update B
	var dB, viaP, dP mat.Dense
	dB.Mul(X, res.FX.T())
	viaP.Mul(cur.P, res.FP.T())
	dB.Add(&dB, &viaP)
	dP.Mul(cur.B, res.FP)

	dB.Scale(t.cfg.RateB, &dB)
	dP.Scale(t.cfg.RateP, &dP)
	var dPP mat.Dense
	dPP.Scale(t.cfg.RatePP, res.FPP)

	cur.B.Sub(cur.B, &dB)
	cur.P.Sub(cur.P, &dP)
	cur.PP.Sub(cur.PP, &dPP)
}

// sample draws the mini-batch indices uniformly with replacement; a batch at
// least as large as the training set is the whole set in order
func (t *Trainer) sample() []int {
	_, nx := t.prob.X.Dims()
	n := t.cfg.Stochastic.Samples
	if n >= nx {
		idx := make([]int, nx)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}

	idx := make([]int, n)
	for i := range idx {
		idx[i] = t.rng.IntN(nx)
	}
	return idx
}

// exactBest replaces the running estimates of the best record with exact
// statistics over the full training (and development) set
func (t *Trainer) exactBest(st *loop) error {
	p := st.best.Params
	rP := p.Project(p.P)
	full, err := t.work.Evaluate(rP, p.PP, p.Project(t.prob.X), t.prob.XX, false)
	if err != nil {
		return err
	}
	st.bestJ = full.J
	st.best.J, st.best.E = full.J, full.E

	if t.prob.HasDevelopment() {
		dev, err := t.devWork.Evaluate(rP, p.PP, p.Project(t.prob.Y), t.prob.YY, false)
		if err != nil {
			return err
		}
		st.best.J, st.best.E = dev.J, dev.E
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
