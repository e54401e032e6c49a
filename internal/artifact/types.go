package artifact

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// #region metrics
// Metrics is the evaluation record written next to every predictor blob.
// Accuracy is required; any additional numeric fields are kept in Extra.
type Metrics struct {
	Accuracy float64
	F1Macro  float64
	Extra    map[string]float64
}

const (
	fieldAccuracy = "accuracy"
	fieldF1Macro  = "f1_macro"
)

// MarshalJSON flattens Extra into the top-level object.
func (m Metrics) MarshalJSON() ([]byte, error) {
	out := make(map[string]float64, len(m.Extra)+2)
	for k, v := range m.Extra {
		out[k] = v
	}
	out[fieldAccuracy] = m.Accuracy
	out[fieldF1Macro] = m.F1Macro

	keys := make([]string, 0, len(out))
	for k := range out {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// accuracy and f1_macro lead, the rest sorted, so the file diffs cleanly
	var buf bytes.Buffer
	buf.WriteByte('{')
	order := append([]string{fieldAccuracy, fieldF1Macro}, withoutKnown(keys)...)
	for i, k := range order {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		vb, err := json.Marshal(out[k])
		if err != nil {
			return nil, fmt.Errorf("marshal metric %s: %w", k, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a flat JSON object of numeric fields.
func (m *Metrics) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		return errors.New("metrics must be a JSON object")
	}

	var out Metrics
	accRaw, ok := raw[fieldAccuracy]
	if !ok {
		return fmt.Errorf("missing %q field", fieldAccuracy)
	}
	if err := json.Unmarshal(accRaw, &out.Accuracy); err != nil {
		return fmt.Errorf("field %q is not numeric", fieldAccuracy)
	}
	for k, v := range raw {
		if k == fieldAccuracy {
			continue
		}
		var f float64
		if err := json.Unmarshal(v, &f); err != nil {
			return fmt.Errorf("field %q is not numeric", k)
		}
		if k == fieldF1Macro {
			out.F1Macro = f
			continue
		}
		if out.Extra == nil {
			out.Extra = make(map[string]float64)
		}
		out.Extra[k] = f
	}
	*m = out
	return nil
}

func withoutKnown(keys []string) []string {
	out := keys[:0:0]
	for _, k := range keys {
		if k != fieldAccuracy && k != fieldF1Macro {
			out = append(out, k)
		}
	}
	return out
}

// #endregion metrics

// #region bundle
// Bundle pairs a serialized predictor with its metrics.
type Bundle struct {
	Predictor []byte
	Metrics   Metrics
}

// Release is the live production bundle together with where it was read from.
type Release struct {
	ID            string // empty for the flat layout
	PredictorPath string
	Bundle
}

// #endregion bundle

// #region errors
var (
	// ErrNoCandidate is returned when the candidate slot holds no metrics.
	ErrNoCandidate = errors.New("no candidate artifact")
	// ErrNoProduction is returned before the first deploy.
	ErrNoProduction = errors.New("no production artifact")
)

// StorageError reports a failed read or write against the artifact store.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// #endregion errors
