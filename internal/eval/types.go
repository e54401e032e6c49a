package eval

// #region eval-config
// EvalConfig holds the accepted ranges for candidate metrics.
type EvalConfig struct {
	MinScore float64 // lower bound for accuracy and f1_macro
	MaxScore float64 // upper bound for accuracy and f1_macro
}

// DefaultEvalConfig returns the [0, 1] range used by classification scores.
func DefaultEvalConfig() EvalConfig {
	return EvalConfig{
		MinScore: 0.0,
		MaxScore: 1.0,
	}
}

// #endregion eval-config

// #region eval-metric
// EvalMetric captures a single validation check result.
type EvalMetric struct {
	Name  string
	Value float64
	Pass  bool
}

// #endregion eval-metric

// #region eval-result
// EvalResult is the output of candidate metrics validation.
type EvalResult struct {
	Passed  bool
	Metrics []EvalMetric
	Reason  string
}

// #endregion eval-result
