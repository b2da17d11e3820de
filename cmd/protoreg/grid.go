package main

import (
	"fmt"
	"io"
	"math"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sawpanic/protoreg/internal/cv"
	"github.com/sawpanic/protoreg/internal/persistence"
	"github.com/sawpanic/protoreg/internal/persistence/file"
	"github.com/sawpanic/protoreg/internal/persistence/postgres"
)

func newGridCmd() *cobra.Command {
	gridCmd := &cobra.Command{
		Use:   "grid",
		Short: "Inspect stored cross-validation grids",
	}
	gridCmd.PersistentFlags().String("grid-dir", "", "grid directory written by train --grid-dir")
	gridCmd.PersistentFlags().String("file", "", "single grid CSV written by train --grid-out")
	ov := newDatabaseOverrides(gridCmd.PersistentFlags())

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the grid of one run",
		RunE: func(cmd *cobra.Command, args []string) error {
			if path, _ := cmd.Flags().GetString("file"); path != "" {
				grid, err := file.ReadGrid(path)
				if err != nil {
					return err
				}
				return printGrid(cmd.OutOrStdout(), grid)
			}

			runID, _ := cmd.Flags().GetString("run")
			if runID == "" {
				return fmt.Errorf("--run or --file is required")
			}
			repo, closeFn, err := openGridRepo(cmd, ov)
			if err != nil {
				return err
			}
			defer closeFn()

			grid, err := repo.LoadGrid(cmd.Context(), runID)
			if err != nil {
				return err
			}
			return printGrid(cmd.OutOrStdout(), grid)
		},
	}
	showCmd.Flags().String("run", "", "run ID")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored runs, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			repo, closeFn, err := openGridRepo(cmd, ov)
			if err != nil {
				return err
			}
			defer closeFn()

			runs, err := repo.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tROWS\tFOLDS\tCREATED")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", r.RunID, r.Rows, r.Folds, r.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}
	listCmd.Flags().Int("limit", 20, "maximum number of runs")

	gridCmd.AddCommand(showCmd, listCmd)
	return gridCmd
}

// openGridRepo prefers a grid directory over the database
func openGridRepo(cmd *cobra.Command, ov *overrides) (persistence.GridRepo, func(), error) {
	if dir, _ := cmd.Flags().GetString("grid-dir"); dir != "" {
		return file.NewGridRepo(dir), func() {}, nil
	}
	cfg, err := loadConfig(cmd, ov)
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Database.Enabled {
		return nil, nil, fmt.Errorf("no grid store: pass --grid-dir or configure a database")
	}
	mgr, err := postgres.Open(cmd.Context(), cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return mgr.Grids(), func() { mgr.Close() }, nil
}

func printGrid(w io.Writer, grid *cv.Grid) error {
	fmt.Fprintf(w, "run %s, %d folds, %d combinations\n\n", grid.RunID, grid.Folds, len(grid.Rows))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, " \t#\tSLOPE\tM\tDR\tRATE_B\tRATE_P\tRATE_PP\tCRITERION\tIMPROVED\tFOLDS\tERROR")
	for i, r := range grid.Rows {
		mark := " "
		if i == grid.Best {
			mark = "*"
		}
		crit := "failed"
		if !math.IsInf(r.Criterion, 0) {
			crit = fmt.Sprintf("%.6g", r.Criterion)
		}
		fmt.Fprintf(tw, "%s\t%d\t%g\t%d\t%d\t%g\t%g\t%g\t%s\t%.2f\t%d/%d\t%s\n",
			mark, r.Index, r.Slope, r.Prototypes, r.Dims, r.RateB, r.RateP, r.RatePP,
			crit, r.ImprovementFraction, r.Folds, r.Folds+r.Failed, r.Error)
	}
	return tw.Flush()
}
