// Package dataset reads sample tables into the column-per-sample matrices the
// trainer works on.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// ErrNoTargets is returned when none of the requested target columns exist
var ErrNoTargets = errors.New("no target columns")

// Dataset holds inputs X (D × N) and targets XX (DD × N), one column per sample
type Dataset struct {
	X, XX   *mat.Dense
	Inputs  []string // input column names, in row order of X
	Targets []string // target column names, in row order of XX
}

// Samples returns N
func (d *Dataset) Samples() int {
	_, n := d.X.Dims()
	return n
}

// Options selects columns of a CSV table
type Options struct {
	Targets []string // target column names; required
	Inputs  []string // input column names; empty = every non-target column
	Comma   rune     // field separator, 0 = ','
}

// Load reads a CSV file with a header row, one sample per line
func Load(path string, opts Options) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	ds, err := Read(f, opts)
	if err != nil {
		return nil, fmt.Errorf("dataset %s: %w", path, err)
	}
	return ds, nil
}

// Read parses a CSV table from r
func Read(r io.Reader, opts Options) (*Dataset, error) {
	reader := csv.NewReader(r)
	if opts.Comma != 0 {
		reader.Comma = opts.Comma
	}
	reader.Comment = '#'
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	targetIdx, err := columns(header, opts.Targets)
	if err != nil {
		return nil, err
	}
	if len(targetIdx) == 0 {
		return nil, ErrNoTargets
	}

	var inputIdx []int
	if len(opts.Inputs) > 0 {
		if inputIdx, err = columns(header, opts.Inputs); err != nil {
			return nil, err
		}
	} else {
		for i := range header {
			if !slices.Contains(targetIdx, i) {
				inputIdx = append(inputIdx, i)
			}
		}
	}
	if len(inputIdx) == 0 {
		return nil, fmt.Errorf("no input columns")
	}

	var xs, xxs [][]float64
	line := 1
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		x, err := parseRow(rec, header, inputIdx)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		xx, err := parseRow(rec, header, targetIdx)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		xs = append(xs, x)
		xxs = append(xxs, xx)
	}
	if len(xs) == 0 {
		return nil, fmt.Errorf("no samples")
	}

	return &Dataset{
		X:       columnMatrix(xs),
		XX:      columnMatrix(xxs),
		Inputs:  pick(header, inputIdx),
		Targets: pick(header, targetIdx),
	}, nil
}

func columns(header, names []string) ([]int, error) {
	idx := make([]int, 0, len(names))
	for _, name := range names {
		i := slices.Index(header, name)
		if i < 0 {
			return nil, fmt.Errorf("column %q not found", name)
		}
		idx = append(idx, i)
	}
	return idx, nil
}

func parseRow(rec, header []string, idx []int) ([]float64, error) {
	out := make([]float64, len(idx))
	for k, i := range idx {
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", header[i], err)
		}
		out[k] = v
	}
	return out, nil
}

func pick(header []string, idx []int) []string {
	out := make([]string, len(idx))
	for k, i := range idx {
		out[k] = header[i]
	}
	return out
}

// columnMatrix lays rows out as columns: rows[j] becomes column j
func columnMatrix(rows [][]float64) *mat.Dense {
	d := len(rows[0])
	m := mat.NewDense(d, len(rows), nil)
	for j, row := range rows {
		m.SetCol(j, row)
	}
	return m
}

// ReadMatrix reads a headerless CSV of numbers, one matrix row per line, as used
// for supplied B0, P0 and PP0
func ReadMatrix(path string) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open matrix: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.Comment = '#'
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("matrix %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("matrix %s is empty", path)
	}

	cols := len(records[0])
	data := make([]float64, 0, len(records)*cols)
	for i, rec := range records {
		for j, field := range rec {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, fmt.Errorf("matrix %s row %d col %d: %w", path, i+1, j+1, err)
			}
			data = append(data, v)
		}
	}
	return mat.NewDense(len(records), cols, data), nil
}
