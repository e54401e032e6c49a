package gate

import "fmt"

// #region baseline-source
// BaselineSource names where the accuracy a candidate must meet came from.
type BaselineSource string

const (
	SourceOverride  BaselineSource = "external_override"
	SourcePersisted BaselineSource = "persisted_production"
	SourceNone      BaselineSource = "no_baseline"
)

// #endregion baseline-source

// #region outcome
// Outcome is the gate verdict.
type Outcome string

const (
	Accepted Outcome = "accepted"
	Rejected Outcome = "rejected"
)

// #endregion outcome

// #region exit-codes
// Process exit statuses of the promotion workflow.
const (
	ExitDeployed = 0
	ExitFatal    = 1
	ExitRejected = 2
)

// #endregion exit-codes

// #region gate-config
// GateConfig holds the inputs that steer baseline resolution.
type GateConfig struct {
	BaselineOverride string // raw override value, ignored when not a finite float
	StrictBaseline   bool   // unreadable production metrics are fatal instead of 0.0
	VerifyCandidate  bool   // candidate predictor must parse before publish
}

// DefaultGateConfig returns the defaults used by the promote command.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		VerifyCandidate: true,
	}
}

// #endregion gate-config

// #region gate-decision
// GateDecision is the derived verdict for one candidate.
type GateDecision struct {
	CandidateAccuracy float64
	BaselineAccuracy  *float64 // nil on first deploy
	BaselineSource    BaselineSource
	Outcome           Outcome
	Reason            string
}

// Accepted reports whether the candidate may be published.
func (d GateDecision) Accepted() bool {
	return d.Outcome == Accepted
}

// #endregion gate-decision

// #region result
// Result is what a full promotion run produced.
type Result struct {
	Decision  GateDecision
	ReleaseID string // set only when a publish happened
	ExitCode  int
}

// #endregion result

// #region errors
// PreconditionError aborts the workflow before any decision is made.
type PreconditionError struct {
	Reason string
	Err    error
}

func (e *PreconditionError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *PreconditionError) Unwrap() error {
	return e.Err
}

// #endregion errors
