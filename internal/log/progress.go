package log

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/sawpanic/protoreg/internal/cv"
	"github.com/sawpanic/protoreg/internal/optim"
)

// ProgressLogger writes training progress records as structured log lines,
// at most perSecond lines per second. Final records are never dropped.
type ProgressLogger struct {
	logger  zerolog.Logger
	limiter *rate.Limiter
}

// NewProgressLogger creates a progress logger; perSecond <= 0 disables throttling
func NewProgressLogger(logger zerolog.Logger, perSecond float64) *ProgressLogger {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &ProgressLogger{logger: logger, limiter: rate.NewLimiter(limit, 1)}
}

// Report implements optim.Reporter
func (p *ProgressLogger) Report(pr optim.Progress) {
	if !pr.Final && !p.limiter.Allow() {
		return
	}
	ev := p.logger.Info()
	if pr.Final {
		ev = ev.Bool("final", true)
	}
	ev.Str("run_id", pr.RunID).
		Int("iteration", pr.Iteration).
		Float64("j", pr.J).
		Float64("delta_j", pr.DeltaJ).
		Float64("e", pr.E).
		Dur("elapsed", pr.Elapsed).
		Msg("Training progress")
}

// ProbeProgress counts finished cross-validation probes and logs the share
// done with an ETA
type ProbeProgress struct {
	mu        sync.Mutex
	logger    zerolog.Logger
	limiter   *rate.Limiter
	total     int
	done      int
	failed    int
	startTime time.Time
}

// NewProbeProgress creates a probe counter for total probes
func NewProbeProgress(logger zerolog.Logger, total int, perSecond float64) *ProbeProgress {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &ProbeProgress{
		logger:    logger,
		limiter:   rate.NewLimiter(limit, 1),
		total:     total,
		startTime: time.Now(),
	}
}

// ObserveProbe implements cv.Observer
func (p *ProbeProgress) ObserveProbe(fold int, c cv.Combo, res optim.ProbeResult, err error, elapsed time.Duration) {
	p.mu.Lock()
	p.done++
	if err != nil {
		p.failed++
	}
	done, failed := p.done, p.failed
	p.mu.Unlock()

	if done < p.total && !p.limiter.Allow() {
		return
	}

	ev := p.logger.Info().
		Int("done", done).
		Int("total", p.total).
		Int("failed", failed).
		Str("combination", c.String())
	if eta, ok := p.ETA(); ok {
		ev = ev.Dur("eta", eta)
	}
	ev.Msg("Cross-validation progress")
}

// Done returns the finished and failed probe counts
func (p *ProbeProgress) Done() (done, failed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done, p.failed
}

// ETA extrapolates the remaining time from the mean probe rate so far
func (p *ProbeProgress) ETA() (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done == 0 || p.done >= p.total {
		return 0, false
	}
	perProbe := time.Since(p.startTime) / time.Duration(p.done)
	return perProbe * time.Duration(p.total-p.done), true
}
