package file

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/protoreg/internal/cv"
	"github.com/sawpanic/protoreg/internal/persistence"
)

func testGrid(runID string) *cv.Grid {
	return &cv.Grid{
		RunID: runID,
		Folds: 5,
		Best:  1,
		Rows: []cv.Row{
			{Index: 0, Combo: cv.Combo{Slope: 1, Prototypes: 4, Dims: 3, RateB: 0.1}, Criterion: math.Inf(1), Failed: 5, Error: "unstable, diverged"},
			{Index: 1, Combo: cv.Combo{Slope: 2.5, Prototypes: 8, Dims: 2, RateP: 0.01}, Criterion: 0.125, ImprovementFraction: 1.0 / 3, Folds: 5},
		},
	}
}

func TestGridRepo_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewGridRepo(filepath.Join(t.TempDir(), "grids"))

	require.NoError(t, repo.SaveGrid(ctx, testGrid("run-a")))

	grid, err := repo.LoadGrid(ctx, "run-a")
	require.NoError(t, err)
	assert.Equal(t, testGrid("run-a"), grid)
	assert.True(t, math.IsInf(grid.Rows[0].Criterion, 1))
	assert.Equal(t, 1, grid.Best)
}

func TestGridRepo_Missing(t *testing.T) {
	_, err := NewGridRepo(t.TempDir()).LoadGrid(context.Background(), "nope")
	assert.ErrorIs(t, err, persistence.ErrRunNotFound)
}

func TestGridRepo_RejectsBadRunID(t *testing.T) {
	repo := NewGridRepo(t.TempDir())
	assert.Error(t, repo.SaveGrid(context.Background(), testGrid("../escape")))
	assert.Error(t, repo.SaveGrid(context.Background(), &cv.Grid{}))
}

func TestGridRepo_ListRuns(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	repo := NewGridRepo(dir)

	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, WriteGrid(filepath.Join(dir, "old.csv"), testGrid("old"), old))
	require.NoError(t, WriteGrid(filepath.Join(dir, "new.csv"), testGrid("new"), old.Add(time.Hour)))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "junk.csv"), []byte("a,b\n"), 0644))

	runs, err := repo.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "new", runs[0].RunID)
	assert.Equal(t, 2, runs[0].Rows)
	assert.Equal(t, 5, runs[0].Folds)
	assert.Equal(t, "old", runs[1].RunID)

	runs, err = repo.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestReadGrid_Malformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.csv")

	require.NoError(t, WriteGrid(path, testGrid("r"), time.Now()))
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	bad := []byte(string(data[:len(data)-1]) + "\nr,x,5,1,4,3,0,0,0,,0,0,0,,false,2026-01-01T00:00:00Z\n")
	require.NoError(t, os.WriteFile(path, bad, 0644))
	_, err = ReadGrid(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row_index")
}
