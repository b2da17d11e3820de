// Package model stores a trained projection with its prototypes and uses it to
// predict and evaluate on new data.
package model

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/sawpanic/protoreg/internal/application"
	"github.com/sawpanic/protoreg/internal/config"
	atomicio "github.com/sawpanic/protoreg/internal/io"
)

// FormatVersion is bumped whenever the file layout changes
const FormatVersion = 1

// Model is the on-disk artifact. Matrices are stored row-major.
type Model struct {
	Version   int       `json:"version"`
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`
	Metric    string    `json:"metric"`
	ErrorStat string    `json:"error_stat"`

	B  [][]float64 `json:"b"`  // D × Dr
	P  [][]float64 `json:"p"`  // D × Np
	PP [][]float64 `json:"pp"` // DD × Np

	Info application.Info `json:"info"`
}

// FromOutput captures a training result. The cross-validation grid is not part
// of the artifact; it is persisted separately.
func FromOutput(out *application.Output) *Model {
	info := out.Info
	info.Grid = nil
	return &Model{
		Version:   FormatVersion,
		RunID:     out.RunID,
		CreatedAt: time.Now().UTC(),
		Metric:    out.Config.Metric.String(),
		ErrorStat: out.Config.ErrorStat.String(),
		B:         rows(out.B),
		P:         rows(out.P),
		PP:        rows(out.PP),
		Info:      info,
	}
}

// Save writes the model as JSON
func Save(path string, m *Model) error {
	return atomicio.WriteJSONAtomic(path, m)
}

// Load reads and validates a model file
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model %s: %w", path, err)
	}
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse model %s: %w", path, err)
	}
	if m.Version != FormatVersion {
		return nil, fmt.Errorf("model %s has format version %d, want %d", path, m.Version, FormatVersion)
	}
	if _, _, _, err := m.Matrices(); err != nil {
		return nil, fmt.Errorf("model %s: %w", path, err)
	}
	return &m, nil
}

// MetricValue parses the stored metric
func (m *Model) MetricValue() (config.Metric, error) {
	var metric config.Metric
	err := metric.Set(m.Metric)
	return metric, err
}

// Matrices rebuilds B, P and PP and checks that their shapes agree
func (m *Model) Matrices() (B, P, PP *mat.Dense, err error) {
	if B, err = dense(m.B); err != nil {
		return nil, nil, nil, fmt.Errorf("b: %w", err)
	}
	if P, err = dense(m.P); err != nil {
		return nil, nil, nil, fmt.Errorf("p: %w", err)
	}
	if PP, err = dense(m.PP); err != nil {
		return nil, nil, nil, fmt.Errorf("pp: %w", err)
	}

	bd, _ := B.Dims()
	pd, np := P.Dims()
	_, npp := PP.Dims()
	if bd != pd || np != npp {
		return nil, nil, nil, fmt.Errorf("inconsistent shapes: B %d rows, P %d×%d, PP with %d columns", bd, pd, np, npp)
	}
	return B, P, PP, nil
}

func rows(m mat.Matrix) [][]float64 {
	r, _ := m.Dims()
	out := make([][]float64, r)
	for i := range out {
		out[i] = mat.Row(nil, i, m)
	}
	return out
}

func dense(data [][]float64) (*mat.Dense, error) {
	if len(data) == 0 || len(data[0]) == 0 {
		return nil, fmt.Errorf("empty matrix")
	}
	c := len(data[0])
	out := mat.NewDense(len(data), c, nil)
	for i, row := range data {
		if len(row) != c {
			return nil, fmt.Errorf("row %d has %d columns, want %d", i, len(row), c)
		}
		out.SetRow(i, row)
	}
	return out, nil
}
