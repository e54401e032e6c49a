package inference

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// #region prediction
// Prediction is the result of a single inference call. Confidence is nil
// when the predictor cannot report class probabilities.
type Prediction struct {
	Label      int
	Confidence *float64
}

// #endregion prediction

// #region engine
// Engine serves predictions from one loaded predictor. It is read-only after
// construction and safe for concurrent use.
type Engine struct {
	predictor Predictor
	path      string
}

// Load reads and parses the predictor at path.
func Load(path string) (*Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	p, err := Parse(data)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return &Engine{predictor: p, path: path}, nil
}

// NewEngine wraps an already constructed predictor.
func NewEngine(p Predictor) *Engine {
	return &Engine{predictor: p}
}

// Path returns the file the engine was loaded from, if any.
func (e *Engine) Path() string { return e.path }

// NumFeatures returns the input dimensionality of the model.
func (e *Engine) NumFeatures() int { return e.predictor.NumFeatures() }

// SupportsProbability reports whether predictions carry a confidence.
func (e *Engine) SupportsProbability() bool {
	_, ok := e.predictor.(Probabilistic)
	return ok
}

// Predict validates features against expectedLen and runs the predictor.
func (e *Engine) Predict(features []float64, expectedLen int) (Prediction, error) {
	if features == nil {
		return Prediction{}, validationf("features are required (%d-length list)", expectedLen)
	}
	if len(features) != expectedLen {
		return Prediction{}, validationf("expected %d features, got %d", expectedLen, len(features))
	}
	for i, f := range features {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Prediction{}, validationf("feature %d is not a finite number", i)
		}
	}

	label, err := e.predictor.Predict(features)
	if err != nil {
		return Prediction{}, &InferenceError{Err: err}
	}

	out := Prediction{Label: label}
	if pp, ok := e.predictor.(Probabilistic); ok {
		proba, err := pp.PredictProba(features)
		if err != nil {
			return Prediction{}, &InferenceError{Err: err}
		}
		conf := proba[argmax(proba)]
		out.Confidence = &conf
	}
	return out, nil
}

// #endregion engine

// #region coerce
// CoerceFeatures converts decoded JSON values into a feature vector. Numbers
// and numeric strings are accepted; anything else is a ValidationError.
func CoerceFeatures(raw []any) ([]float64, error) {
	if raw == nil {
		return nil, validationf("features are required")
	}
	out := make([]float64, len(raw))
	for i, v := range raw {
		switch x := v.(type) {
		case float64:
			out[i] = x
		case json.Number:
			f, err := x.Float64()
			if err != nil {
				return nil, validationf("feature %d is not numeric: %s", i, x)
			}
			out[i] = f
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if err != nil {
				return nil, validationf("feature %d is not numeric: %q", i, x)
			}
			out[i] = f
		default:
			return nil, validationf("feature %d is not numeric: %s", i, describe(v))
		}
	}
	return out, nil
}

func describe(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// #endregion coerce
