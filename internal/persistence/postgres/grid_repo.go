package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/protoreg/internal/cv"
	"github.com/sawpanic/protoreg/internal/persistence"
)

// gridRepo implements GridRepo for PostgreSQL
type gridRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewGridRepo creates a PostgreSQL grid repository
func NewGridRepo(db *sqlx.DB, timeout time.Duration) persistence.GridRepo {
	return &gridRepo{
		db:      db,
		timeout: timeout,
	}
}

const insertGridRow = `
	INSERT INTO cv_grid_results
	(run_id, row_index, folds, slope, prototypes, dims, rate_b, rate_p, rate_pp,
	 criterion, improvement_fraction, completed_folds, failed_folds, error, selected, created_at)
	VALUES (:run_id, :row_index, :folds, :slope, :prototypes, :dims, :rate_b, :rate_p, :rate_pp,
	 :criterion, :improvement_fraction, :completed_folds, :failed_folds, :error, :selected, :created_at)`

// SaveGrid replaces the stored rows of the grid's run in one transaction
func (r *gridRepo) SaveGrid(ctx context.Context, grid *cv.Grid) error {
	if grid == nil || grid.RunID == "" {
		return fmt.Errorf("grid without run ID")
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cv_grid_results WHERE run_id = $1`, grid.RunID); err != nil {
		return fmt.Errorf("failed to clear grid %s: %w", grid.RunID, err)
	}

	for _, row := range persistence.ToRows(grid, time.Now().UTC()) {
		if _, err := tx.NamedExecContext(ctx, insertGridRow, row); err != nil {
			return fmt.Errorf("failed to insert grid row %d: %w", row.RowIndex, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit grid %s: %w", grid.RunID, err)
	}
	return nil
}

// LoadGrid returns the stored grid of a run
func (r *gridRepo) LoadGrid(ctx context.Context, runID string) (*cv.Grid, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT run_id, row_index, folds, slope, prototypes, dims, rate_b, rate_p, rate_pp,
		       criterion, improvement_fraction, completed_folds, failed_folds, error, selected, created_at
		FROM cv_grid_results
		WHERE run_id = $1
		ORDER BY row_index`

	var rows []persistence.GridRow
	if err := r.db.SelectContext(ctx, &rows, query, runID); err != nil {
		return nil, fmt.Errorf("failed to query grid %s: %w", runID, err)
	}
	return persistence.FromRows(rows)
}

// ListRuns returns the most recent runs first
func (r *gridRepo) ListRuns(ctx context.Context, limit int) ([]persistence.RunSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT run_id, COUNT(*) AS rows, MAX(folds) AS folds, MIN(created_at) AS created_at
		FROM cv_grid_results
		GROUP BY run_id
		ORDER BY created_at DESC
		LIMIT $1`

	var runs []persistence.RunSummary
	if err := r.db.SelectContext(ctx, &runs, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}
