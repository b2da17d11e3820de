package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sawpanic/protoreg/internal/cv"
	"github.com/sawpanic/protoreg/internal/optim"
)

// Registry holds the Prometheus metrics of training and cross-validation
type Registry struct {
	registry *prometheus.Registry

	// Training metrics
	Iteration     prometheus.Gauge
	Objective     prometheus.Gauge
	Error         prometheus.Gauge
	DeltaJ        prometheus.Gauge
	ProgressTotal prometheus.Counter
	Runs          *prometheus.CounterVec

	// Cross-validation metrics
	Probes        *prometheus.CounterVec
	ProbeDuration prometheus.Histogram
	ProbeCriteria prometheus.Histogram
}

// NewRegistry creates a registry with every protoreg metric and the Go
// runtime collectors registered
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),

		Iteration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "protoreg_training_iteration",
			Help: "Iteration of the latest progress record",
		}),
		Objective: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "protoreg_training_objective",
			Help: "Training objective J of the latest progress record",
		}),
		Error: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "protoreg_training_error",
			Help: "Error statistic E of the latest progress record",
		}),
		DeltaJ: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "protoreg_training_delta_j",
			Help: "Change of J since the previous progress record",
		}),
		ProgressTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "protoreg_training_progress_records_total",
			Help: "Total number of progress records emitted",
		}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "protoreg_training_runs_total",
			Help: "Finished training runs by termination reason",
		}, []string{"reason"}),

		Probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "protoreg_cv_probes_total",
			Help: "Finished cross-validation probes by result",
		}, []string{"result"}),
		ProbeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "protoreg_cv_probe_duration_seconds",
			Help:    "Wall time of one cross-validation probe",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}),
		ProbeCriteria: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "protoreg_cv_probe_criterion",
			Help:    "Held-out criterion of successful probes",
			Buckets: prometheus.ExponentialBuckets(1e-4, 4, 12),
		}),
	}

	r.registry.MustRegister(
		r.Iteration, r.Objective, r.Error, r.DeltaJ, r.ProgressTotal, r.Runs,
		r.Probes, r.ProbeDuration, r.ProbeCriteria,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Gatherer exposes the underlying registry
func (r *Registry) Gatherer() prometheus.Gatherer { return r.registry }

// Handler serves the registry in the Prometheus exposition format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Report implements optim.Reporter
func (r *Registry) Report(p optim.Progress) {
	r.Iteration.Set(float64(p.Iteration))
	r.Objective.Set(p.J)
	r.Error.Set(p.E)
	r.DeltaJ.Set(p.DeltaJ)
	r.ProgressTotal.Inc()
}

// RecordRun counts a finished training run
func (r *Registry) RecordRun(reason optim.Reason) {
	r.Runs.WithLabelValues(string(reason)).Inc()
}

// ObserveProbe implements cv.Observer
func (r *Registry) ObserveProbe(fold int, c cv.Combo, res optim.ProbeResult, err error, elapsed time.Duration) {
	r.ProbeDuration.Observe(elapsed.Seconds())
	if err != nil {
		r.Probes.WithLabelValues("failed").Inc()
		return
	}
	r.Probes.WithLabelValues("ok").Inc()
	r.ProbeCriteria.Observe(res.Criterion)
}
