package file

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sawpanic/protoreg/internal/cv"
	atomicio "github.com/sawpanic/protoreg/internal/io"
	"github.com/sawpanic/protoreg/internal/persistence"
)

// Header is the column layout of a grid CSV file
var Header = []string{
	"run_id", "row_index", "folds", "slope", "prototypes", "dims", "rate_b", "rate_p", "rate_pp",
	"criterion", "improvement_fraction", "completed_folds", "failed_folds", "error", "selected", "created_at",
}

// gridRepo stores one CSV file per run under a directory
type gridRepo struct {
	dir string
}

// NewGridRepo creates a CSV grid repository rooted at dir
func NewGridRepo(dir string) persistence.GridRepo {
	return &gridRepo{dir: dir}
}

func (r *gridRepo) path(runID string) string {
	return filepath.Join(r.dir, runID+".csv")
}

// SaveGrid writes <dir>/<run ID>.csv, replacing an earlier file
func (r *gridRepo) SaveGrid(ctx context.Context, grid *cv.Grid) error {
	if grid == nil || grid.RunID == "" {
		return fmt.Errorf("grid without run ID")
	}
	if strings.ContainsAny(grid.RunID, `/\`) {
		return fmt.Errorf("invalid run ID %q", grid.RunID)
	}
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return fmt.Errorf("failed to create grid directory: %w", err)
	}
	return WriteGrid(r.path(grid.RunID), grid, time.Now().UTC())
}

// LoadGrid reads the grid of a run
func (r *gridRepo) LoadGrid(ctx context.Context, runID string) (*cv.Grid, error) {
	grid, err := ReadGrid(r.path(runID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", persistence.ErrRunNotFound, runID)
	}
	return grid, err
}

// ListRuns scans the directory, most recent runs first
func (r *gridRepo) ListRuns(ctx context.Context, limit int) ([]persistence.RunSummary, error) {
	matches, err := filepath.Glob(filepath.Join(r.dir, "*.csv"))
	if err != nil {
		return nil, err
	}

	var runs []persistence.RunSummary
	for _, path := range matches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := readRows(path)
		if err != nil || len(rows) == 0 {
			continue
		}
		runs = append(runs, persistence.RunSummary{
			RunID:     rows[0].RunID,
			Rows:      len(rows),
			Folds:     rows[0].Folds,
			CreatedAt: rows[0].CreatedAt,
		})
	}

	sort.SliceStable(runs, func(i, j int) bool { return runs[i].CreatedAt.After(runs[j].CreatedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// WriteGrid writes a grid as CSV. Failed combinations have an empty criterion.
func WriteGrid(path string, grid *cv.Grid, createdAt time.Time) error {
	rows := persistence.ToRows(grid, createdAt)
	records := make([][]string, len(rows))
	for i, row := range rows {
		records[i] = encodeRow(row)
	}
	if err := atomicio.WriteCSVAtomic(path, Header, records); err != nil {
		return fmt.Errorf("failed to write grid %s: %w", path, err)
	}
	return nil
}

// ReadGrid reads a grid written by WriteGrid
func ReadGrid(path string) (*cv.Grid, error) {
	rows, err := readRows(path)
	if err != nil {
		return nil, err
	}
	return persistence.FromRows(rows)
}

func readRows(path string) ([]persistence.GridRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = len(Header)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse grid %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("grid %s is empty", path)
	}
	if strings.Join(records[0], ",") != strings.Join(Header, ",") {
		return nil, fmt.Errorf("grid %s has an unexpected header", path)
	}

	rows := make([]persistence.GridRow, 0, len(records)-1)
	for i, rec := range records[1:] {
		row, err := decodeRow(rec)
		if err != nil {
			return nil, fmt.Errorf("grid %s line %d: %w", path, i+2, err)
		}
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].RowIndex < rows[j].RowIndex })
	return rows, nil
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

func encodeRow(r persistence.GridRow) []string {
	crit := ""
	if r.Criterion.Valid {
		crit = formatFloat(r.Criterion.Float64)
	}
	return []string{
		r.RunID,
		strconv.Itoa(r.RowIndex),
		strconv.Itoa(r.Folds),
		formatFloat(r.Slope),
		strconv.Itoa(r.Prototypes),
		strconv.Itoa(r.Dims),
		formatFloat(r.RateB),
		formatFloat(r.RateP),
		formatFloat(r.RatePP),
		crit,
		formatFloat(r.ImprovementFraction),
		strconv.Itoa(r.CompletedFolds),
		strconv.Itoa(r.FailedFolds),
		r.Error,
		strconv.FormatBool(r.Selected),
		r.CreatedAt.Format(time.RFC3339Nano),
	}
}

// fieldParser accumulates the first parse error
type fieldParser struct {
	rec []string
	err error
}

func (p *fieldParser) int(i int) int {
	v, err := strconv.Atoi(p.rec[i])
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("column %s: %w", Header[i], err)
	}
	return v
}

func (p *fieldParser) float(i int) float64 {
	v, err := strconv.ParseFloat(p.rec[i], 64)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("column %s: %w", Header[i], err)
	}
	return v
}

func decodeRow(rec []string) (persistence.GridRow, error) {
	p := &fieldParser{rec: rec}
	row := persistence.GridRow{
		RunID:               rec[0],
		RowIndex:            p.int(1),
		Folds:               p.int(2),
		Slope:               p.float(3),
		Prototypes:          p.int(4),
		Dims:                p.int(5),
		RateB:               p.float(6),
		RateP:               p.float(7),
		RatePP:              p.float(8),
		ImprovementFraction: p.float(10),
		CompletedFolds:      p.int(11),
		FailedFolds:         p.int(12),
		Error:               rec[13],
	}
	if rec[9] != "" {
		row.Criterion = sql.NullFloat64{Float64: p.float(9), Valid: true}
	}
	selected, err := strconv.ParseBool(rec[14])
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("column selected: %w", err)
	}
	row.Selected = selected
	created, err := time.Parse(time.RFC3339Nano, rec[15])
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("column created_at: %w", err)
	}
	row.CreatedAt = created
	return row, p.err
}
