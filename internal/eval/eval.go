package eval

import (
	"fmt"
	"math"
	"sort"

	"github.com/danielpatrickdp/model-gate/internal/artifact"
)

// #region eval-harness
// EvalHarness sanity-checks a metrics record before it is trusted by the gate.
type EvalHarness struct {
	config EvalConfig
}

// NewEvalHarness creates an eval harness with the given configuration.
func NewEvalHarness(config EvalConfig) *EvalHarness {
	return &EvalHarness{config: config}
}

// Run checks that the scores are finite and inside the configured range.
// Extra fields are reported but only non-finite values fail them.
func (h *EvalHarness) Run(m artifact.Metrics) EvalResult {
	var metrics []EvalMetric
	var failReasons []string

	// 1. Scores the gate compares
	for _, s := range []struct {
		name  string
		value float64
	}{
		{"accuracy", m.Accuracy},
		{"f1_macro", m.F1Macro},
	} {
		pass := h.inRange(s.value)
		metrics = append(metrics, EvalMetric{Name: s.name, Value: s.value, Pass: pass})
		if !pass {
			failReasons = append(failReasons, fmt.Sprintf("%s %v outside [%g, %g]", s.name, s.value, h.config.MinScore, h.config.MaxScore))
		}
	}

	// 2. Extra fields, sorted for stable output
	names := make([]string, 0, len(m.Extra))
	for k := range m.Extra {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		v := m.Extra[k]
		pass := !math.IsNaN(v) && !math.IsInf(v, 0)
		metrics = append(metrics, EvalMetric{Name: k, Value: v, Pass: pass})
		if !pass {
			failReasons = append(failReasons, fmt.Sprintf("%s is not finite", k))
		}
	}

	reason := "all checks passed"
	if len(failReasons) == 1 {
		reason = fmt.Sprintf("eval failed: %s", failReasons[0])
	} else if len(failReasons) > 1 {
		reason = fmt.Sprintf("eval failed: %d checks: %s", len(failReasons), failReasons[0])
	}

	return EvalResult{
		Passed:  len(failReasons) == 0,
		Metrics: metrics,
		Reason:  reason,
	}
}

// #endregion eval-harness

// #region helpers
func (h *EvalHarness) inRange(v float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	return v >= h.config.MinScore && v <= h.config.MaxScore
}

// #endregion helpers
