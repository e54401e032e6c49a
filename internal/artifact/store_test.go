package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	return NewStore(filepath.Join(dir, "artifacts"), filepath.Join(dir, "deployed_model"))
}

func writeCandidate(t *testing.T, s *Store, predictor string, metrics string) {
	t.Helper()
	if err := os.MkdirAll(s.CandidateDir(), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(s.CandidateDir(), PredictorFile), []byte(predictor), 0o644); err != nil {
		t.Fatalf("write predictor: %v", err)
	}
	if err := os.WriteFile(filepath.Join(s.CandidateDir(), CandidateMetricsFile), []byte(metrics), 0o644); err != nil {
		t.Fatalf("write metrics: %v", err)
	}
}

func TestCandidateMetricsMissing(t *testing.T) {
	s := tempStore(t)

	_, err := s.CandidateMetrics()
	if !errors.Is(err, ErrNoCandidate) {
		t.Fatalf("expected ErrNoCandidate, got %v", err)
	}
}

func TestCandidateBundle(t *testing.T) {
	s := tempStore(t)
	writeCandidate(t, s, `{"kind":"linear"}`, `{"accuracy": 0.95, "f1_macro": 0.94, "roc_auc": 0.99}`)

	b, err := s.Candidate()
	if err != nil {
		t.Fatalf("Candidate: %v", err)
	}
	want := Metrics{Accuracy: 0.95, F1Macro: 0.94, Extra: map[string]float64{"roc_auc": 0.99}}
	if diff := cmp.Diff(want, b.Metrics); diff != "" {
		t.Fatalf("metrics mismatch (-want +got):\n%s", diff)
	}
	if string(b.Predictor) != `{"kind":"linear"}` {
		t.Fatalf("unexpected predictor %q", b.Predictor)
	}
}

func TestMetricsRejectsMissingAccuracy(t *testing.T) {
	var m Metrics
	if err := json.Unmarshal([]byte(`{"f1_macro": 0.5}`), &m); err == nil {
		t.Fatal("expected error for missing accuracy")
	}
	if err := json.Unmarshal([]byte(`{"accuracy": "high"}`), &m); err == nil {
		t.Fatal("expected error for non-numeric accuracy")
	}
	if err := json.Unmarshal([]byte(`null`), &m); err == nil {
		t.Fatal("expected error for null document")
	}
}

func TestMetricsMarshalOrder(t *testing.T) {
	m := Metrics{Accuracy: 0.9, F1Macro: 0.8, Extra: map[string]float64{"b": 2, "a": 1}}
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"accuracy":0.9,"f1_macro":0.8,"a":1,"b":2}`
	if string(data) != want {
		t.Fatalf("expected %s, got %s", want, data)
	}
}

func TestNoProductionBeforeFirstPublish(t *testing.T) {
	s := tempStore(t)

	if s.HasProduction() {
		t.Fatal("expected no production")
	}
	if _, err := s.ProductionMetrics(); !errors.Is(err, ErrNoProduction) {
		t.Fatalf("expected ErrNoProduction, got %v", err)
	}
	if _, err := s.ProductionPredictor(); !errors.Is(err, ErrNoProduction) {
		t.Fatalf("expected ErrNoProduction from predictor, got %v", err)
	}
}

func TestPublishFirstDeploy(t *testing.T) {
	s := tempStore(t)
	b := Bundle{Predictor: []byte("model-a"), Metrics: Metrics{Accuracy: 0.95, F1Macro: 0.9}}

	id, err := s.Publish(b)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if id == "" {
		t.Fatal("expected release id")
	}
	if !s.HasProduction() {
		t.Fatal("expected production after publish")
	}

	got, err := s.Production()
	if err != nil {
		t.Fatalf("Production: %v", err)
	}
	if diff := cmp.Diff(b, got); diff != "" {
		t.Fatalf("bundle mismatch (-want +got):\n%s", diff)
	}

	path, err := s.ProductionPredictorPath()
	if err != nil {
		t.Fatalf("ProductionPredictorPath: %v", err)
	}
	if filepath.Base(filepath.Dir(path)) != id {
		t.Fatalf("expected predictor under release %s, got %s", id, path)
	}

	pred, err := s.ProductionPredictor()
	if err != nil {
		t.Fatalf("ProductionPredictor: %v", err)
	}
	if string(pred) != "model-a" {
		t.Fatalf("expected model-a, got %q", pred)
	}
}

func TestPublishReplacesAndPrunes(t *testing.T) {
	s := tempStore(t)

	if _, err := s.Publish(Bundle{Predictor: []byte("old"), Metrics: Metrics{Accuracy: 0.8}}); err != nil {
		t.Fatalf("Publish old: %v", err)
	}
	newID, err := s.Publish(Bundle{Predictor: []byte("new"), Metrics: Metrics{Accuracy: 0.9}})
	if err != nil {
		t.Fatalf("Publish new: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(s.ProductionDir(), releasesDir))
	if err != nil {
		t.Fatalf("read releases: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != newID {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Fatalf("expected only release %s, got %v", newID, names)
	}

	m, err := s.ProductionMetrics()
	if err != nil {
		t.Fatalf("ProductionMetrics: %v", err)
	}
	if m.Accuracy != 0.9 {
		t.Fatalf("expected accuracy 0.9, got %f", m.Accuracy)
	}
}

func TestPublishInterruptedKeepsOldBundle(t *testing.T) {
	s := tempStore(t)
	old := Bundle{Predictor: []byte("old"), Metrics: Metrics{Accuracy: 0.85}}
	if _, err := s.Publish(old); err != nil {
		t.Fatalf("Publish old: %v", err)
	}

	s.beforeSwap = func() error { return errors.New("simulated crash") }
	_, err := s.Publish(Bundle{Predictor: []byte("new"), Metrics: Metrics{Accuracy: 0.99}})
	var se *StorageError
	if !errors.As(err, &se) {
		t.Fatalf("expected StorageError, got %v", err)
	}

	got, err := s.Production()
	if err != nil {
		t.Fatalf("Production: %v", err)
	}
	if diff := cmp.Diff(old, got); diff != "" {
		t.Fatalf("production changed after failed publish (-want +got):\n%s", diff)
	}

	entries, _ := os.ReadDir(filepath.Join(s.ProductionDir(), releasesDir))
	if len(entries) != 1 {
		t.Fatalf("expected abandoned release to be removed, got %d entries", len(entries))
	}
}

func TestPublishSameBundleTwice(t *testing.T) {
	once := tempStore(t)
	twice := tempStore(t)
	b := Bundle{Predictor: []byte("model"), Metrics: Metrics{Accuracy: 0.9, F1Macro: 0.88}}

	if _, err := once.Publish(b); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := twice.Publish(b); err != nil {
			t.Fatalf("Publish #%d: %v", i, err)
		}
	}

	a, _ := once.Production()
	c, _ := twice.Production()
	if diff := cmp.Diff(a, c); diff != "" {
		t.Fatalf("double publish diverged (-once +twice):\n%s", diff)
	}
}

func TestReadersNeverSeeTornBundle(t *testing.T) {
	s := tempStore(t)
	publish := func(n int) error {
		_, err := s.Publish(Bundle{
			Predictor: []byte("model-" + strconv.Itoa(n)),
			Metrics:   Metrics{Accuracy: 0.5, Extra: map[string]float64{"seq": float64(n)}},
		})
		return err
	}
	if err := publish(0); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				b, err := s.Production()
				if err != nil {
					// a reader may lose the race with pruning; that is a
					// failed read, never a mismatched pair
					continue
				}
				want := fmt.Sprintf("model-%d", int(b.Metrics.Extra["seq"]))
				if string(b.Predictor) != want {
					errs <- fmt.Errorf("torn bundle: predictor %q with metrics seq %v", b.Predictor, b.Metrics.Extra["seq"])
					return
				}
			}
		}()
	}

	for n := 1; n <= 50; n++ {
		if err := publish(n); err != nil {
			close(done)
			t.Fatalf("Publish %d: %v", n, err)
		}
	}
	close(done)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}

func TestFlatLayoutIsReadAndMigrated(t *testing.T) {
	s := tempStore(t)
	if err := os.MkdirAll(s.ProductionDir(), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	os.WriteFile(filepath.Join(s.ProductionDir(), PredictorFile), []byte("flat"), 0o644)
	os.WriteFile(filepath.Join(s.ProductionDir(), ProductionMetricsFile), []byte(`{"accuracy": 0.85, "f1_macro": 0.8}`), 0o644)

	if !s.HasProduction() {
		t.Fatal("expected flat layout to count as production")
	}
	m, err := s.ProductionMetrics()
	if err != nil {
		t.Fatalf("ProductionMetrics: %v", err)
	}
	if m.Accuracy != 0.85 {
		t.Fatalf("expected 0.85, got %f", m.Accuracy)
	}

	if _, err := s.Publish(Bundle{Predictor: []byte("released"), Metrics: Metrics{Accuracy: 0.9}}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.ProductionDir(), PredictorFile)); !os.IsNotExist(err) {
		t.Fatalf("expected flat predictor to be removed, got %v", err)
	}
	b, err := s.Production()
	if err != nil {
		t.Fatalf("Production: %v", err)
	}
	if string(b.Predictor) != "released" {
		t.Fatalf("expected released predictor, got %q", b.Predictor)
	}
}

func TestCurrentReleasePairsIDWithBundle(t *testing.T) {
	s := tempStore(t)
	if _, err := s.CurrentRelease(); !errors.Is(err, ErrNoProduction) {
		t.Fatalf("expected ErrNoProduction, got %v", err)
	}

	s.Publish(Bundle{Predictor: []byte("old"), Metrics: Metrics{Accuracy: 0.8}})
	id, err := s.Publish(Bundle{Predictor: []byte("new"), Metrics: Metrics{Accuracy: 0.9}})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	r, err := s.CurrentRelease()
	if err != nil {
		t.Fatalf("CurrentRelease: %v", err)
	}
	if r.ID != id {
		t.Fatalf("expected release %s, got %s", id, r.ID)
	}
	if string(r.Predictor) != "new" || r.Metrics.Accuracy != 0.9 {
		t.Fatalf("release %s paired with wrong bundle: %q %v", r.ID, r.Predictor, r.Metrics.Accuracy)
	}
	if filepath.Base(filepath.Dir(r.PredictorPath)) != id {
		t.Fatalf("predictor path %s is outside release %s", r.PredictorPath, id)
	}
}

func TestCurrentReleaseFlatLayoutHasNoID(t *testing.T) {
	s := tempStore(t)
	os.MkdirAll(s.ProductionDir(), 0o755)
	os.WriteFile(filepath.Join(s.ProductionDir(), PredictorFile), []byte("flat"), 0o644)
	os.WriteFile(filepath.Join(s.ProductionDir(), ProductionMetricsFile), []byte(`{"accuracy": 0.85}`), 0o644)

	r, err := s.CurrentRelease()
	if err != nil {
		t.Fatalf("CurrentRelease: %v", err)
	}
	if r.ID != "" {
		t.Fatalf("expected no release id for flat layout, got %q", r.ID)
	}
}

func TestPredictorWithoutMetricsIsCorrupt(t *testing.T) {
	s := tempStore(t)
	os.MkdirAll(s.ProductionDir(), 0o755)
	os.WriteFile(filepath.Join(s.ProductionDir(), PredictorFile), []byte("bare"), 0o644)

	if !s.HasProduction() {
		t.Fatal("expected bare predictor to count as production")
	}
	if _, err := s.ProductionMetrics(); err == nil {
		t.Fatal("expected metrics read to fail")
	}
}

func TestCorruptProductionMetrics(t *testing.T) {
	s := tempStore(t)
	if _, err := s.Publish(Bundle{Predictor: []byte("m"), Metrics: Metrics{Accuracy: 0.9}}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	path, _ := s.ProductionPredictorPath()
	metricsPath := filepath.Join(filepath.Dir(path), ProductionMetricsFile)
	if err := os.WriteFile(metricsPath, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("corrupt: %v", err)
	}

	_, err := s.ProductionMetrics()
	var se *StorageError
	if !errors.As(err, &se) {
		t.Fatalf("expected StorageError, got %v", err)
	}
}
