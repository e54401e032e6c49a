package inference

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

var (
	wineClass0 = []float64{14.23, 1.71, 2.43, 15.6, 127.0, 2.80, 3.06, 0.28, 2.29, 5.64, 1.04, 3.92, 1065.0}
	wineClass1 = []float64{12.37, 1.07, 2.10, 18.5, 88.0, 3.52, 3.75, 0.24, 1.95, 4.50, 1.04, 2.77, 660.0}
	wineClass2 = []float64{13.0, 2.5, 2.4, 21.0, 95.0, 1.5, 0.8, 0.4, 1.1, 7.0, 0.6, 1.6, 600.0}
)

func loadWine(t *testing.T) *Engine {
	t.Helper()
	e, err := Load(filepath.Join("testdata", "wine_forest.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return e
}

func TestLoadWineForest(t *testing.T) {
	e := loadWine(t)

	if e.NumFeatures() != 13 {
		t.Fatalf("expected 13 features, got %d", e.NumFeatures())
	}
	if !e.SupportsProbability() {
		t.Fatal("forest should support probabilities")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))

	var le *LoadError
	if !errors.As(err, &le) {
		t.Fatalf("expected LoadError, got %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected wrapped ErrNotExist, got %v", err)
	}
}

func TestLoadUnparsable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	os.WriteFile(path, []byte("\x80\x04\x95pickle"), 0o644)

	_, err := Load(path)

	var le *LoadError
	if !errors.As(err, &le) {
		t.Fatalf("expected LoadError, got %v", err)
	}
}

func TestPredictWineClasses(t *testing.T) {
	e := loadWine(t)

	cases := []struct {
		name  string
		x     []float64
		label int
	}{
		{"class0", wineClass0, 0},
		{"class1", wineClass1, 1},
		{"class2", wineClass2, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := e.Predict(tc.x, 13)
			if err != nil {
				t.Fatalf("Predict: %v", err)
			}
			if p.Label != tc.label {
				t.Fatalf("expected label %d, got %d", tc.label, p.Label)
			}
			if p.Confidence == nil {
				t.Fatal("expected confidence")
			}
		})
	}
}

func TestPredictConfidenceIsMaxProbability(t *testing.T) {
	e := loadWine(t)

	p, err := e.Predict(wineClass0, 13)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	want := (44.0/46.0 + 45.0/49.0) / 2
	if math.Abs(*p.Confidence-want) > 1e-9 {
		t.Fatalf("expected confidence %.6f, got %.6f", want, *p.Confidence)
	}
}

func TestPredictWrongLength(t *testing.T) {
	e := loadWine(t)

	_, err := e.Predict(make([]float64, 10), 13)

	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestPredictNilFeatures(t *testing.T) {
	e := loadWine(t)

	_, err := e.Predict(nil, 13)

	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestPredictNonFinite(t *testing.T) {
	e := loadWine(t)
	x := append([]float64(nil), wineClass0...)
	x[3] = math.NaN()

	_, err := e.Predict(x, 13)

	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestLinearHasNoConfidence(t *testing.T) {
	p, err := FromSpec(Spec{
		FormatVersion: FormatVersion,
		Kind:          KindLinear,
		NFeatures:     2,
		Classes:       []int{0, 1},
		Weights:       [][]float64{{1, 0}, {0, 1}},
	})
	if err != nil {
		t.Fatalf("FromSpec: %v", err)
	}
	e := NewEngine(p)

	if e.SupportsProbability() {
		t.Fatal("linear should not support probabilities")
	}
	pred, err := e.Predict([]float64{0.2, 0.9}, 2)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if pred.Label != 1 {
		t.Fatalf("expected label 1, got %d", pred.Label)
	}
	if pred.Confidence != nil {
		t.Fatalf("expected nil confidence, got %v", *pred.Confidence)
	}
}

func TestLinearOverflowIsInferenceError(t *testing.T) {
	p, err := FromSpec(Spec{
		FormatVersion: FormatVersion,
		Kind:          KindLinear,
		NFeatures:     2,
		Classes:       []int{0, 1},
		Weights:       [][]float64{{math.MaxFloat64, -math.MaxFloat64}, {0, 1}},
	})
	if err != nil {
		t.Fatalf("FromSpec: %v", err)
	}

	// MaxFloat64*10 overflows to +Inf and -MaxFloat64*10 to -Inf; their sum is NaN
	_, err = NewEngine(p).Predict([]float64{10, 10}, 2)

	var ie *InferenceError
	if !errors.As(err, &ie) {
		t.Fatalf("expected InferenceError, got %v", err)
	}
}

func TestParseRejectsInvalidSpecs(t *testing.T) {
	cases := map[string]string{
		"wrong version":  `{"format_version":2,"kind":"linear","n_features":1,"classes":[0],"weights":[[1]]}`,
		"unknown kind":   `{"format_version":1,"kind":"svm","n_features":1,"classes":[0]}`,
		"no classes":     `{"format_version":1,"kind":"linear","n_features":1,"classes":[]}`,
		"dup classes":    `{"format_version":1,"kind":"linear","n_features":1,"classes":[0,0],"weights":[[1],[1]]}`,
		"short weights":  `{"format_version":1,"kind":"linear","n_features":2,"classes":[0],"weights":[[1]]}`,
		"cyclic tree":    `{"format_version":1,"kind":"decision_tree","n_features":1,"classes":[0],"trees":[{"nodes":[{"feature":0,"threshold":1,"left":0,"right":0}]}]}`,
		"bad feature":    `{"format_version":1,"kind":"decision_tree","n_features":1,"classes":[0],"trees":[{"nodes":[{"feature":3,"threshold":1,"left":1,"right":2},{"value":[1]},{"value":[1]}]}]}`,
		"leaf width":     `{"format_version":1,"kind":"decision_tree","n_features":1,"classes":[0,1],"trees":[{"nodes":[{"value":[1]}]}]}`,
		"unknown field":  `{"format_version":1,"kind":"linear","n_features":1,"classes":[0],"weights":[[1]],"pickle":"x"}`,
		"two trees":      `{"format_version":1,"kind":"decision_tree","n_features":1,"classes":[0],"trees":[{"nodes":[{"value":[1]}]},{"nodes":[{"value":[1]}]}]}`,
		"negative count": `{"format_version":1,"kind":"random_forest","n_features":1,"classes":[0,1],"trees":[{"nodes":[{"value":[-1,2]}]}]}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(doc)); err == nil {
				t.Fatal("expected parse error")
			}
		})
	}
}

func TestCoerceFeatures(t *testing.T) {
	got, err := CoerceFeatures([]any{1.5, "2.25", " 3 "})
	if err != nil {
		t.Fatalf("CoerceFeatures: %v", err)
	}
	want := []float64{1.5, 2.25, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("index %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestCoerceFeaturesRejectsNonNumeric(t *testing.T) {
	for _, bad := range [][]any{
		{1.0, "abc"},
		{true},
		{nil},
		{map[string]any{"x": 1.0}},
		{[]any{1.0}},
	} {
		_, err := CoerceFeatures(bad)
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("expected ValidationError for %v, got %v", bad, err)
		}
	}
}

func TestCoerceFeaturesMissing(t *testing.T) {
	_, err := CoerceFeatures(nil)

	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}
