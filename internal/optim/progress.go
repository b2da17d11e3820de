package optim

import (
	"encoding/json"
	"time"
)

// Reason tags why a training run terminated
type Reason string

const (
	ReasonMaxIterations Reason = "max-iterations"
	ReasonUnstable      Reason = "unstable"
	ReasonConverged     Reason = "converged"
	ReasonCancelled     Reason = "cancelled"
)

// Progress is one periodic progress record
type Progress struct {
	RunID     string        `json:"run_id,omitempty"`
	Iteration int           `json:"iteration"`
	J         float64       `json:"j"`
	DeltaJ    float64       `json:"delta_j"` // change since the previous record
	E         float64       `json:"e"`
	Elapsed   time.Duration `json:"elapsed"`
	Final     bool          `json:"final,omitempty"`
}

// MarshalJSON writes the non-finite statistics of an unstable record as null
func (p Progress) MarshalJSON() ([]byte, error) {
	type plain Progress
	return json.Marshal(struct {
		plain
		J      *float64 `json:"j"`
		DeltaJ *float64 `json:"delta_j"`
		E      *float64 `json:"e"`
	}{plain(p), finiteOrNil(p.J), finiteOrNil(p.DeltaJ), finiteOrNil(p.E)})
}

func finiteOrNil(v float64) *float64 {
	if !finite(v) {
		return nil
	}
	return &v
}

// Reporter receives progress records as training runs
type Reporter interface {
	Report(Progress)
}

// ReporterFunc adapts a function to Reporter
type ReporterFunc func(Progress)

// Report calls f
func (f ReporterFunc) Report(p Progress) { f(p) }

// Reporters fans a record out to several reporters
type Reporters []Reporter

// Report forwards p to every non-nil reporter
func (rs Reporters) Report(p Progress) {
	for _, r := range rs {
		if r != nil {
			r.Report(p)
		}
	}
}
