package inference

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// #region format
// FormatVersion is the only predictor format version understood by Parse.
const FormatVersion = 1

// Kind names a predictor family in the serialized format.
type Kind string

const (
	KindRandomForest Kind = "random_forest"
	KindDecisionTree Kind = "decision_tree"
	KindLinear       Kind = "linear"
)

// Spec is the language-neutral description of a trained predictor.
type Spec struct {
	FormatVersion int         `json:"format_version"`
	Kind          Kind        `json:"kind"`
	NFeatures     int         `json:"n_features"`
	Classes       []int       `json:"classes"`
	Trees         []TreeSpec  `json:"trees,omitempty"`
	Weights       [][]float64 `json:"weights,omitempty"`    // linear: [class][feature]
	Intercepts    []float64   `json:"intercepts,omitempty"` // linear: [class]

	Metadata map[string]string `json:"metadata,omitempty"`
}

// TreeSpec is a flattened binary tree. Node 0 is the root.
type TreeSpec struct {
	Nodes []Node `json:"nodes"`
}

// Node is either a split (Value empty) or a leaf holding per-class weights.
// Samples with x[Feature] <= Threshold go left.
type Node struct {
	Feature   int       `json:"feature,omitempty"`
	Threshold float64   `json:"threshold,omitempty"`
	Left      int       `json:"left,omitempty"`
	Right     int       `json:"right,omitempty"`
	Value     []float64 `json:"value,omitempty"`
}

func (n Node) isLeaf() bool { return len(n.Value) > 0 }

// #endregion format

// #region predictor
// Predictor maps a feature vector to a class label.
type Predictor interface {
	NumFeatures() int
	Predict(x []float64) (int, error)
}

// Probabilistic is implemented by predictors that expose a class
// probability distribution.
type Probabilistic interface {
	PredictProba(x []float64) ([]float64, error)
}

// #endregion predictor

// #region parse
// Parse decodes and validates a serialized predictor.
func Parse(data []byte) (Predictor, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var spec Spec
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode predictor: %w", err)
	}
	return FromSpec(spec)
}

// FromSpec validates spec and builds the matching predictor.
func FromSpec(spec Spec) (Predictor, error) {
	if spec.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("unsupported format_version %d", spec.FormatVersion)
	}
	if spec.NFeatures <= 0 {
		return nil, errors.New("n_features must be positive")
	}
	if len(spec.Classes) == 0 {
		return nil, errors.New("classes must not be empty")
	}
	seen := make(map[int]bool, len(spec.Classes))
	for _, c := range spec.Classes {
		if seen[c] {
			return nil, fmt.Errorf("duplicate class %d", c)
		}
		seen[c] = true
	}

	switch spec.Kind {
	case KindRandomForest, KindDecisionTree:
		if len(spec.Trees) == 0 {
			return nil, fmt.Errorf("%s needs at least one tree", spec.Kind)
		}
		if spec.Kind == KindDecisionTree && len(spec.Trees) != 1 {
			return nil, fmt.Errorf("decision_tree needs exactly one tree, got %d", len(spec.Trees))
		}
		for i, t := range spec.Trees {
			if err := validateTree(t, spec.NFeatures, len(spec.Classes)); err != nil {
				return nil, fmt.Errorf("tree %d: %w", i, err)
			}
		}
		return &forest{nFeatures: spec.NFeatures, classes: spec.Classes, trees: spec.Trees}, nil

	case KindLinear:
		if len(spec.Weights) != len(spec.Classes) {
			return nil, fmt.Errorf("linear needs %d weight rows, got %d", len(spec.Classes), len(spec.Weights))
		}
		for i, row := range spec.Weights {
			if len(row) != spec.NFeatures {
				return nil, fmt.Errorf("weight row %d has %d entries, want %d", i, len(row), spec.NFeatures)
			}
		}
		intercepts := spec.Intercepts
		if intercepts == nil {
			intercepts = make([]float64, len(spec.Classes))
		}
		if len(intercepts) != len(spec.Classes) {
			return nil, fmt.Errorf("linear needs %d intercepts, got %d", len(spec.Classes), len(intercepts))
		}
		return &linear{nFeatures: spec.NFeatures, classes: spec.Classes, weights: spec.Weights, intercepts: intercepts}, nil

	default:
		return nil, fmt.Errorf("unknown kind %q", spec.Kind)
	}
}

// validateTree checks indices so traversal always terminates: children must
// come after their parent.
func validateTree(t TreeSpec, nFeatures, nClasses int) error {
	if len(t.Nodes) == 0 {
		return errors.New("empty tree")
	}
	for i, n := range t.Nodes {
		if n.isLeaf() {
			if len(n.Value) != nClasses {
				return fmt.Errorf("leaf %d has %d values, want %d", i, len(n.Value), nClasses)
			}
			var sum float64
			for _, v := range n.Value {
				if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
					return fmt.Errorf("leaf %d has invalid value %v", i, v)
				}
				sum += v
			}
			if sum == 0 {
				return fmt.Errorf("leaf %d is empty", i)
			}
			continue
		}
		if n.Feature < 0 || n.Feature >= nFeatures {
			return fmt.Errorf("node %d splits on feature %d, have %d", i, n.Feature, nFeatures)
		}
		if n.Left <= i || n.Left >= len(t.Nodes) || n.Right <= i || n.Right >= len(t.Nodes) {
			return fmt.Errorf("node %d has invalid children %d/%d", i, n.Left, n.Right)
		}
	}
	return nil
}

// #endregion parse

// #region forest
type forest struct {
	nFeatures int
	classes   []int
	trees     []TreeSpec
}

func (f *forest) NumFeatures() int { return f.nFeatures }

// PredictProba averages the normalized leaf distributions of every tree.
func (f *forest) PredictProba(x []float64) ([]float64, error) {
	if len(x) != f.nFeatures {
		return nil, fmt.Errorf("got %d features, model has %d", len(x), f.nFeatures)
	}
	proba := make([]float64, len(f.classes))
	for ti, t := range f.trees {
		leaf, err := walk(t, x)
		if err != nil {
			return nil, fmt.Errorf("tree %d: %w", ti, err)
		}
		var sum float64
		for _, v := range leaf.Value {
			sum += v
		}
		for i, v := range leaf.Value {
			proba[i] += v / sum
		}
	}
	n := float64(len(f.trees))
	for i := range proba {
		proba[i] /= n
	}
	return proba, nil
}

func (f *forest) Predict(x []float64) (int, error) {
	proba, err := f.PredictProba(x)
	if err != nil {
		return 0, err
	}
	return f.classes[argmax(proba)], nil
}

func walk(t TreeSpec, x []float64) (Node, error) {
	i := 0
	for steps := 0; steps < len(t.Nodes); steps++ {
		n := t.Nodes[i]
		if n.isLeaf() {
			return n, nil
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
	return Node{}, errors.New("traversal did not reach a leaf")
}

// #endregion forest

// #region linear
// linear scores each class as w·x + b. It has no calibrated probabilities.
type linear struct {
	nFeatures  int
	classes    []int
	weights    [][]float64
	intercepts []float64
}

func (l *linear) NumFeatures() int { return l.nFeatures }

func (l *linear) Predict(x []float64) (int, error) {
	if len(x) != l.nFeatures {
		return 0, fmt.Errorf("got %d features, model has %d", len(x), l.nFeatures)
	}
	scores := make([]float64, len(l.classes))
	for c, row := range l.weights {
		s := l.intercepts[c]
		for j, w := range row {
			s += w * x[j]
		}
		if math.IsNaN(s) {
			return 0, fmt.Errorf("score for class %d is NaN", l.classes[c])
		}
		scores[c] = s
	}
	return l.classes[argmax(scores)], nil
}

// #endregion linear

func argmax(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}
