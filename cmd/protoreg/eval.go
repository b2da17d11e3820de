package main

import (
	"encoding/json"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/protoreg/internal/config"
	"github.com/sawpanic/protoreg/internal/dataset"
	"github.com/sawpanic/protoreg/internal/distance"
	"github.com/sawpanic/protoreg/internal/model"
)

func newEvalCmd() *cobra.Command {
	var (
		errStat config.ErrorStat
		kind    distance.Kind
	)
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate a trained model on a labelled CSV",
		Long: `Eval predicts the targets of every sample and reports the error per dependent
dimension as JSON. With --nearest the target of the single nearest prototype is
used instead of the soft weighted average.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			modelPath, _ := cmd.Flags().GetString("model")
			dataPath, _ := cmd.Flags().GetString("data")
			nearest, _ := cmd.Flags().GetBool("nearest")

			m, err := model.Load(modelPath)
			if err != nil {
				return err
			}
			targets, _ := cmd.Flags().GetStringSlice("targets")
			inputs, _ := cmd.Flags().GetStringSlice("inputs")
			ds, err := dataset.Load(dataPath, dataset.Options{Targets: targets, Inputs: inputs})
			if err != nil {
				return err
			}

			report, err := m.Evaluate(ds.X, ds.XX, model.EvalOptions{
				ErrorStat: errStat,
				Nearest:   nearest,
				Kind:      kind,
			})
			if err != nil {
				return err
			}
			log.Info().
				Str("run_id", m.RunID).
				Int("samples", report.Samples).
				Float64("error", report.Error).
				Msg("Evaluation complete")

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}

	cmd.Flags().String("model", "model.json", "model file written by train")
	cmd.Flags().String("data", "", "labelled CSV with a header row (required)")
	cmd.Flags().StringSlice("targets", nil, "target column names (required)")
	cmd.Flags().StringSlice("inputs", nil, "input column names (default: every non-target column)")
	cmd.Flags().Bool("nearest", false, "predict with the nearest prototype only")
	cmd.Flags().Var(&errStat, "error-stat", "reported error statistic (rmse|mad)")
	cmd.Flags().Var(&kind, "kind", "distance for --nearest (euclidean|cosine|hamming)")
	cmd.MarkFlagRequired("data")
	cmd.MarkFlagRequired("targets")
	return cmd
}
