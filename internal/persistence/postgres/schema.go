package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Schema creates the cross-validation results table
const Schema = `
CREATE TABLE IF NOT EXISTS cv_grid_results (
	run_id               TEXT             NOT NULL,
	row_index            INTEGER          NOT NULL,
	folds                INTEGER          NOT NULL,
	slope                DOUBLE PRECISION NOT NULL,
	prototypes           INTEGER          NOT NULL,
	dims                 INTEGER          NOT NULL,
	rate_b               DOUBLE PRECISION NOT NULL,
	rate_p               DOUBLE PRECISION NOT NULL,
	rate_pp              DOUBLE PRECISION NOT NULL,
	criterion            DOUBLE PRECISION,
	improvement_fraction DOUBLE PRECISION NOT NULL,
	completed_folds      INTEGER          NOT NULL,
	failed_folds         INTEGER          NOT NULL,
	error                TEXT             NOT NULL DEFAULT '',
	selected             BOOLEAN          NOT NULL DEFAULT FALSE,
	created_at           TIMESTAMPTZ      NOT NULL DEFAULT NOW(),
	PRIMARY KEY (run_id, row_index)
);
CREATE INDEX IF NOT EXISTS cv_grid_results_created_at ON cv_grid_results (created_at DESC);`

// Migrate applies Schema
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to migrate cv_grid_results: %w", err)
	}
	return nil
}
