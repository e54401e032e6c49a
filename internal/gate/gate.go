package gate

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/labstack/gommon/log"

	"github.com/danielpatrickdp/model-gate/internal/artifact"
	"github.com/danielpatrickdp/model-gate/internal/eval"
	"github.com/danielpatrickdp/model-gate/internal/inference"
	"github.com/danielpatrickdp/model-gate/internal/logging"
)

// #region collaborators
// Store is the part of the artifact store the gate needs.
type Store interface {
	CandidateMetrics() (artifact.Metrics, error)
	CandidatePredictor() ([]byte, error)
	HasProduction() bool
	ProductionMetrics() (artifact.Metrics, error)
	Publish(artifact.Bundle) (string, error)
}

// Recorder keeps an audit trail of decisions.
type Recorder interface {
	Record(d GateDecision, metrics artifact.Metrics, releaseID string) error
}

// #endregion collaborators

// #region gate
// Gate decides whether the candidate replaces production.
type Gate struct {
	store    Store
	config   GateConfig
	harness  *eval.EvalHarness
	recorder Recorder
	logger   *log.Logger
}

// Option customizes a Gate.
type Option func(*Gate) *Gate

// WithRecorder records every completed decision.
func WithRecorder(r Recorder) Option {
	return func(g *Gate) *Gate {
		g.recorder = r
		return g
	}
}

// WithLogger sets the logger. The default discards output.
func WithLogger(l *log.Logger) Option {
	return func(g *Gate) *Gate {
		g.logger = l
		return g
	}
}

// NewGate creates a gate over store.
func NewGate(store Store, config GateConfig, opts ...Option) *Gate {
	g := &Gate{
		store:   store,
		config:  config,
		harness: eval.NewEvalHarness(eval.DefaultEvalConfig()),
		logger:  logging.Discard("gate"),
	}
	for _, o := range opts {
		g = o(g)
	}
	return g
}

// #endregion gate

// #region resolve-baseline
// ResolveBaseline walks the priority chain: a well-formed override, then the
// persisted production accuracy, then nothing (first deploy).
//
// Unreadable production metrics resolve to 0.0 unless StrictBaseline is set,
// in which case the StorageError is returned.
func (g *Gate) ResolveBaseline() (*float64, BaselineSource, error) {
	if v, ok := parseOverride(g.config.BaselineOverride); ok {
		return &v, SourceOverride, nil
	}
	if g.config.BaselineOverride != "" {
		g.logger.Debugf("ignoring malformed baseline override %q", g.config.BaselineOverride)
	}

	if !g.store.HasProduction() {
		return nil, SourceNone, nil
	}

	m, err := g.store.ProductionMetrics()
	if err != nil {
		if g.config.StrictBaseline {
			var se *artifact.StorageError
			if !errors.As(err, &se) {
				err = &artifact.StorageError{Op: "read production metrics", Path: "production", Err: err}
			}
			return nil, SourcePersisted, err
		}
		g.logger.Warnf("production metrics unreadable, treating baseline as 0.0: %v", err)
		zero := 0.0
		return &zero, SourcePersisted, nil
	}
	acc := m.Accuracy
	return &acc, SourcePersisted, nil
}

func parseOverride(raw string) (float64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// #endregion resolve-baseline

// #region decide
// Decide accepts when there is no baseline or the candidate meets it.
// Equal accuracy accepts: the newer model wins ties.
func Decide(candidate artifact.Metrics, baseline *float64, source BaselineSource) GateDecision {
	d := GateDecision{
		CandidateAccuracy: candidate.Accuracy,
		BaselineAccuracy:  baseline,
		BaselineSource:    source,
	}
	switch {
	case baseline == nil:
		d.Outcome = Accepted
		d.Reason = "first deploy: no production baseline"
	case candidate.Accuracy >= *baseline:
		d.Outcome = Accepted
		d.Reason = fmt.Sprintf("candidate accuracy %.4f >= baseline %.4f (%s)", candidate.Accuracy, *baseline, source)
	default:
		d.Outcome = Rejected
		d.Reason = fmt.Sprintf("candidate accuracy %.4f < baseline %.4f (%s)", candidate.Accuracy, *baseline, source)
	}
	return d
}

// #endregion decide

// #region run
// Run executes one promotion: load the candidate, resolve the baseline,
// decide, and publish on acceptance. The returned Result carries the exit
// code even when err is non-nil.
func (g *Gate) Run() (Result, error) {
	// 1. Candidate metrics must exist and be sane
	metrics, err := g.store.CandidateMetrics()
	if err != nil {
		return Result{ExitCode: ExitFatal}, &PreconditionError{Reason: "load candidate metrics", Err: err}
	}
	if r := g.harness.Run(metrics); !r.Passed {
		return Result{ExitCode: ExitFatal}, &PreconditionError{Reason: "candidate metrics " + r.Reason}
	}

	// 2. Baseline and verdict
	baseline, source, err := g.ResolveBaseline()
	if err != nil {
		return Result{ExitCode: ExitFatal}, err
	}
	decision := Decide(metrics, baseline, source)
	g.logger.Infof("New accuracy=%v | Prod accuracy=%s", metrics.Accuracy, formatBaseline(baseline))

	if !decision.Accepted() {
		g.logger.Infof("Rejected: %s. No deploy.", decision.Reason)
		g.record(decision, metrics, "")
		return Result{Decision: decision, ExitCode: ExitRejected}, nil
	}

	// 3. Publish; the predictor is only read once the candidate is accepted
	predictor, err := g.candidatePredictor()
	if err != nil {
		return Result{Decision: decision, ExitCode: ExitFatal}, err
	}
	releaseID, err := g.store.Publish(artifact.Bundle{Predictor: predictor, Metrics: metrics})
	if err != nil {
		return Result{Decision: decision, ExitCode: ExitFatal}, fmt.Errorf("publish: %w", err)
	}
	g.logger.Infof("Accepted: %s. Deployed release %s", decision.Reason, releaseID)
	g.record(decision, metrics, releaseID)

	return Result{Decision: decision, ReleaseID: releaseID, ExitCode: ExitDeployed}, nil
}

func (g *Gate) candidatePredictor() ([]byte, error) {
	data, err := g.store.CandidatePredictor()
	if err != nil {
		return nil, &PreconditionError{Reason: "load candidate predictor", Err: err}
	}
	if g.config.VerifyCandidate {
		if _, err := inference.Parse(data); err != nil {
			return nil, &PreconditionError{Reason: "candidate predictor is not loadable", Err: err}
		}
	}
	return data, nil
}

func (g *Gate) record(d GateDecision, m artifact.Metrics, releaseID string) {
	if g.recorder == nil {
		return
	}
	if err := g.recorder.Record(d, m, releaseID); err != nil {
		g.logger.Errorf("record decision: %v", err)
	}
}

func formatBaseline(b *float64) string {
	if b == nil {
		return "None"
	}
	return strconv.FormatFloat(*b, 'g', -1, 64)
}

// #endregion run
