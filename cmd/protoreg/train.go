package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"github.com/sawpanic/protoreg/internal/application"
	"github.com/sawpanic/protoreg/internal/cache"
	"github.com/sawpanic/protoreg/internal/config"
	"github.com/sawpanic/protoreg/internal/cv"
	"github.com/sawpanic/protoreg/internal/dataset"
	protolog "github.com/sawpanic/protoreg/internal/log"
	"github.com/sawpanic/protoreg/internal/metrics"
	"github.com/sawpanic/protoreg/internal/model"
	"github.com/sawpanic/protoreg/internal/monitor"
	"github.com/sawpanic/protoreg/internal/optim"
	"github.com/sawpanic/protoreg/internal/persistence/file"
	"github.com/sawpanic/protoreg/internal/persistence/postgres"
)

func newTrainCmd() *cobra.Command {
	var ov *overrides
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a projection and prototype model",
		Long: `Train reads a CSV table (one sample per line), standardizes it, optionally
chooses hyperparameters by k-fold cross-validation and trains the final model.
The best parameters seen during training are written as a JSON model.`,
		Example: `  protoreg train --data wine.csv --targets quality --dims 2 --out wine.json
  protoreg train --data wine.csv --targets quality --cv-folds 5 --cv-slopes 1,5,10 --grid-out grid.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrain(cmd, ov)
		},
	}

	cmd.Flags().String("data", "", "training CSV with a header row (required)")
	cmd.Flags().StringSlice("targets", nil, "target column names (required)")
	cmd.Flags().StringSlice("inputs", nil, "input column names (default: every non-target column)")
	cmd.Flags().String("dev", "", "development CSV used for best-so-far selection")
	cmd.Flags().String("b0", "", "initial projection, headerless CSV (D × Dr)")
	cmd.Flags().String("p0", "", "initial prototypes, headerless CSV (D × Np)")
	cmd.Flags().String("pp0", "", "initial prototype targets, headerless CSV (DD × Np)")
	cmd.Flags().String("out", "model.json", "model output path")
	cmd.Flags().String("grid-out", "", "write the cross-validation grid to this CSV file")
	cmd.Flags().String("grid-dir", "", "store cross-validation grids under this directory")
	cmd.MarkFlagRequired("data")
	cmd.MarkFlagRequired("targets")
	ov = newOverrides(cmd.Flags())
	return cmd
}

func runTrain(cmd *cobra.Command, ov *overrides) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(cmd, ov)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	in, err := readInputs(cmd)
	if err != nil {
		return err
	}

	deps := application.Deps{Logger: log.Logger}
	reporters := optim.Reporters{protolog.NewProgressLogger(log.Logger, cfg.ProgressRate)}
	var observers cv.Observers
	var registry *metrics.Registry

	if cfg.Monitor.Addr != "" {
		registry = metrics.NewRegistry()
		hub := monitor.NewHub(log.Logger)
		reporters = append(reporters, registry, hub)
		observers = append(observers, registry)

		monCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		srv := monitor.NewServer(cfg.Monitor.Addr, registry, hub, nil, log.Logger)
		go func() {
			if err := srv.Start(monCtx); err != nil {
				log.Error().Err(err).Msg("Monitor stopped")
			}
		}()
	}
	deps.Reporter = reporters

	if cfg.CrossValidation.Folds > 0 {
		probeCache := cache.New(cfg.Cache, log.Logger)
		defer probeCache.Close()
		deps.Cache = probeCache
		deps.Fingerprint = cache.Fingerprint(in.X, in.XX, in.B0)

		total := len(cv.Combos(cfg)) * cfg.CrossValidation.Folds
		observers = append(observers, protolog.NewProbeProgress(log.Logger, total, cfg.ProgressRate))
		deps.Observer = observers

		grids, closeGrids, err := gridSavers(ctx, cmd, cfg)
		if err != nil {
			return err
		}
		defer closeGrids()
		deps.Grids = grids
	}

	out, err := application.Train(ctx, in, cfg, deps)
	if err != nil {
		return err
	}
	if registry != nil {
		registry.RecordRun(out.Reason)
	}

	path, _ := cmd.Flags().GetString("out")
	if err := model.Save(path, model.FromOutput(out)); err != nil {
		return err
	}

	ev := log.Info().
		Str("run_id", out.RunID).
		Str("model", path).
		Str("reason", string(out.Reason)).
		Int("iterations", out.Iterations).
		Int("best_iteration", out.BestIteration).
		Float64("j", out.J).
		Float64("e", out.E).
		Float64("improvement_fraction", out.ImprovementFraction).
		Dur("elapsed", out.Elapsed.Round(time.Millisecond))
	if out.Grid != nil {
		ev = ev.Str("selected", out.Grid.Selected().Combo.String())
	}
	ev.Msg("Model written")
	return nil
}

// readInputs loads the training set, the optional development set and any
// supplied initial model
func readInputs(cmd *cobra.Command) (application.Inputs, error) {
	var in application.Inputs

	dataPath, _ := cmd.Flags().GetString("data")
	targets, _ := cmd.Flags().GetStringSlice("targets")
	inputs, _ := cmd.Flags().GetStringSlice("inputs")

	train, err := dataset.Load(dataPath, dataset.Options{Targets: targets, Inputs: inputs})
	if err != nil {
		return in, err
	}
	in.X, in.XX = train.X, train.XX
	log.Info().
		Int("samples", train.Samples()).
		Strs("inputs", train.Inputs).
		Strs("targets", train.Targets).
		Msg("Loaded training data")

	if devPath, _ := cmd.Flags().GetString("dev"); devPath != "" {
		dev, err := dataset.Load(devPath, dataset.Options{Targets: train.Targets, Inputs: train.Inputs})
		if err != nil {
			return in, err
		}
		in.Y, in.YY = dev.X, dev.XX
	}

	matrices := []struct {
		flag string
		dst  **mat.Dense
	}{{"b0", &in.B0}, {"p0", &in.P0}, {"pp0", &in.PP0}}
	for _, m := range matrices {
		path, _ := cmd.Flags().GetString(m.flag)
		if path == "" {
			continue
		}
		if *m.dst, err = dataset.ReadMatrix(path); err != nil {
			return in, err
		}
	}
	if (in.P0 == nil) != (in.PP0 == nil) {
		return in, fmt.Errorf("--p0 and --pp0 must be given together")
	}
	return in, nil
}

// gridFile writes each grid to one fixed path
type gridFile string

func (g gridFile) SaveGrid(ctx context.Context, grid *cv.Grid) error {
	return file.WriteGrid(string(g), grid, time.Now().UTC())
}

func gridSavers(ctx context.Context, cmd *cobra.Command, cfg config.Config) ([]application.GridSaver, func(), error) {
	var savers []application.GridSaver
	closeFn := func() {}

	if path, _ := cmd.Flags().GetString("grid-out"); path != "" {
		savers = append(savers, gridFile(path))
	}
	if dir, _ := cmd.Flags().GetString("grid-dir"); dir != "" {
		savers = append(savers, file.NewGridRepo(dir))
	}
	if cfg.Database.Enabled {
		mgr, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			return nil, closeFn, err
		}
		savers = append(savers, mgr.Grids())
		closeFn = func() { mgr.Close() }
	}
	return savers, closeFn, nil
}
