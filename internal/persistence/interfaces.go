package persistence

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"time"

	"github.com/sawpanic/protoreg/internal/cv"
)

// ErrRunNotFound is returned when no grid was stored under a run ID
var ErrRunNotFound = errors.New("cross-validation run not found")

// GridRow is one stored row of a cross-validation grid
type GridRow struct {
	RunID      string  `json:"run_id" db:"run_id"`
	RowIndex   int     `json:"row_index" db:"row_index"`
	Folds      int     `json:"folds" db:"folds"`
	Slope      float64 `json:"slope" db:"slope"`
	Prototypes int     `json:"prototypes" db:"prototypes"`
	Dims       int     `json:"dims" db:"dims"`
	RateB      float64 `json:"rate_b" db:"rate_b"`
	RateP      float64 `json:"rate_p" db:"rate_p"`
	RatePP     float64 `json:"rate_pp" db:"rate_pp"`

	// Criterion is NULL for combinations that failed on some fold
	Criterion           sql.NullFloat64 `json:"criterion" db:"criterion"`
	ImprovementFraction float64         `json:"improvement_fraction" db:"improvement_fraction"`
	CompletedFolds      int             `json:"completed_folds" db:"completed_folds"`
	FailedFolds         int             `json:"failed_folds" db:"failed_folds"`
	Error               string          `json:"error,omitempty" db:"error"`
	Selected            bool            `json:"selected" db:"selected"`
	CreatedAt           time.Time       `json:"created_at" db:"created_at"`
}

// RunSummary describes one stored grid
type RunSummary struct {
	RunID     string    `json:"run_id" db:"run_id"`
	Rows      int       `json:"rows" db:"rows"`
	Folds     int       `json:"folds" db:"folds"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// GridRepo stores cross-validation grids keyed by run ID
type GridRepo interface {
	// SaveGrid stores every row of grid, replacing an earlier grid of the same run
	SaveGrid(ctx context.Context, grid *cv.Grid) error

	// LoadGrid returns the grid of a run, ErrRunNotFound if there is none
	LoadGrid(ctx context.Context, runID string) (*cv.Grid, error)

	// ListRuns returns the most recent runs first
	ListRuns(ctx context.Context, limit int) ([]RunSummary, error)
}

// HealthCheck represents repository health status
type HealthCheck struct {
	Healthy        bool           `json:"healthy"`
	Errors         []string       `json:"errors,omitempty"`
	ConnectionPool map[string]int `json:"connection_pool"`
	LastCheck      time.Time      `json:"last_check"`
	ResponseTimeMS int64          `json:"response_time_ms"`
}

// RepositoryHealth provides health monitoring for the persistence layer
type RepositoryHealth interface {
	Health(ctx context.Context) HealthCheck
	Ping(ctx context.Context) error
}

// ToRows flattens a grid for storage
func ToRows(grid *cv.Grid, createdAt time.Time) []GridRow {
	rows := make([]GridRow, len(grid.Rows))
	for i, r := range grid.Rows {
		crit := sql.NullFloat64{Float64: r.Criterion, Valid: !math.IsInf(r.Criterion, 0) && !math.IsNaN(r.Criterion)}
		if !crit.Valid {
			crit.Float64 = 0
		}
		rows[i] = GridRow{
			RunID:               grid.RunID,
			RowIndex:            r.Index,
			Folds:               grid.Folds,
			Slope:               r.Slope,
			Prototypes:          r.Prototypes,
			Dims:                r.Dims,
			RateB:               r.RateB,
			RateP:               r.RateP,
			RatePP:              r.RatePP,
			Criterion:           crit,
			ImprovementFraction: r.ImprovementFraction,
			CompletedFolds:      r.Folds,
			FailedFolds:         r.Failed,
			Error:               r.Error,
			Selected:            i == grid.Best,
			CreatedAt:           createdAt,
		}
	}
	return rows
}

// FromRows rebuilds a grid from its stored rows, ordered by RowIndex
func FromRows(rows []GridRow) (*cv.Grid, error) {
	if len(rows) == 0 {
		return nil, ErrRunNotFound
	}
	grid := &cv.Grid{RunID: rows[0].RunID, Folds: rows[0].Folds, Rows: make([]cv.Row, len(rows))}
	for i, r := range rows {
		crit := math.Inf(1)
		if r.Criterion.Valid {
			crit = r.Criterion.Float64
		}
		grid.Rows[i] = cv.Row{
			Index: r.RowIndex,
			Combo: cv.Combo{
				Slope:      r.Slope,
				Prototypes: r.Prototypes,
				Dims:       r.Dims,
				RateB:      r.RateB,
				RateP:      r.RateP,
				RatePP:     r.RatePP,
			},
			Criterion:           crit,
			ImprovementFraction: r.ImprovementFraction,
			Folds:               r.CompletedFolds,
			Failed:              r.FailedFolds,
			Error:               r.Error,
		}
		if r.Selected {
			grid.Best = i
		}
	}
	return grid, nil
}
