package cv

import (
	"fmt"
	"strings"

	"github.com/sawpanic/protoreg/internal/config"
)

// CacheKey identifies a probe result: the dataset fingerprint, the fold layout,
// the task's generator stream and every option that influences the probe. The
// fingerprint must cover a supplied initial projection as well as the data.
func CacheKey(fingerprint string, fold, taskID int, cfg config.Config) string {
	var b strings.Builder
	fmt.Fprintf(&b, "protoreg:probe:%s:k%d:f%d:t%d:seed%d", fingerprint, cfg.CrossValidation.Folds, fold, taskID, cfg.Seed)
	fmt.Fprintf(&b, ":s%g:m%d:dr%d:rb%g:rp%g:rpp%g", cfg.Slope, cfg.Init.Prototypes, cfg.Dims, cfg.RateB, cfg.RateP, cfg.RatePP)
	fmt.Fprintf(&b, ":it%d:%s:%s:%s:%s:%s:%s:%s", cfg.ProbeIterations(), cfg.Metric, cfg.Norm, cfg.ErrorStat, cfg.PPMode, cfg.Criterion, cfg.Ortho, cfg.Init.Method)
	fmt.Fprintf(&b, ":oe%d:x%g:mm%d:km%d:st%t", cfg.OrthoEvery, cfg.Init.Extrapolate, cfg.Init.Multimodal, cfg.Init.KMeansIters, cfg.Stochastic.Enabled)
	if cfg.Stochastic.Enabled {
		fmt.Fprintf(&b, ":%d:%d:%t:%t", cfg.Stochastic.Samples, cfg.Stochastic.Check, cfg.Stochastic.FullStats, cfg.Stochastic.FinalExact)
	}
	return b.String()
}
