package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/protoreg/internal/cv"
	"github.com/sawpanic/protoreg/internal/optim"
)

func TestRegistry_Report(t *testing.T) {
	r := NewRegistry()
	r.Report(optim.Progress{Iteration: 100, J: 0.5, DeltaJ: -0.25, E: 1.5})
	r.Report(optim.Progress{Iteration: 200, J: 0.25, DeltaJ: -0.25, E: 1.0})

	assert.Equal(t, 200.0, testutil.ToFloat64(r.Iteration))
	assert.Equal(t, 0.25, testutil.ToFloat64(r.Objective))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Error))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.ProgressTotal))

	r.RecordRun(optim.ReasonConverged)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Runs.WithLabelValues("converged")))
}

func TestRegistry_ObserveProbe(t *testing.T) {
	r := NewRegistry()
	c := cv.Combo{Slope: 1, Prototypes: 2, Dims: 1}
	r.ObserveProbe(0, c, optim.ProbeResult{Criterion: 0.1}, nil, 20*time.Millisecond)
	r.ObserveProbe(1, c, optim.ProbeResult{}, errors.New("unstable"), time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.Probes.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Probes.WithLabelValues("failed")))

	families, err := r.Gatherer().Gather()
	require.NoError(t, err)
	var hist *dto.Histogram
	for _, mf := range families {
		if mf.GetName() == "protoreg_cv_probe_duration_seconds" {
			hist = mf.GetMetric()[0].GetHistogram()
		}
	}
	require.NotNil(t, hist)
	assert.Equal(t, uint64(2), hist.GetSampleCount())
	assert.InDelta(t, 0.021, hist.GetSampleSum(), 1e-9)
}

func TestRegistry_Handler(t *testing.T) {
	r := NewRegistry()
	r.Report(optim.Progress{Iteration: 7})

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), "protoreg_training_iteration 7")
	assert.Contains(t, string(body), "go_goroutines")
}
