package ledger

import "time"

// #region entry
// Entry is one row of the promotions table.
type Entry struct {
	ID                string
	CandidateAccuracy float64
	BaselineAccuracy  *float64 // nil on first deploy
	BaselineSource    string
	Outcome           string // "accepted" | "rejected"
	Reason            string
	ReleaseID         string // empty when nothing was published
	MetricsJSON       string
	CreatedAt         time.Time
}

// #endregion entry
