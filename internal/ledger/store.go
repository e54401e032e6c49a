package ledger

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/model-gate/internal/artifact"
	"github.com/danielpatrickdp/model-gate/internal/gate"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS promotions (
	id                 TEXT PRIMARY KEY,
	candidate_accuracy REAL NOT NULL,
	baseline_accuracy  REAL,
	baseline_source    TEXT NOT NULL,
	outcome            TEXT NOT NULL,
	reason             TEXT,
	release_id         TEXT,
	metrics_json       TEXT,
	created_at         TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS promotions_created_at ON promotions(created_at);
`

// #endregion schema

// timeLayout is fixed width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrEmpty is returned by Latest when no decision has been recorded.
var ErrEmpty = errors.New("ledger is empty")

// #region store-struct
// Store is an append-only audit log of promotion decisions in SQLite.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// #endregion constructor

// #region append
// Append writes e, filling in ID and CreatedAt when unset.
func (s *Store) Append(e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	var baseline interface{}
	if e.BaselineAccuracy != nil {
		baseline = *e.BaselineAccuracy
	}

	_, err := s.db.Exec(
		`INSERT INTO promotions (id, candidate_accuracy, baseline_accuracy, baseline_source, outcome, reason, release_id, metrics_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.CandidateAccuracy, baseline, e.BaselineSource, e.Outcome,
		nullIfEmpty(e.Reason), nullIfEmpty(e.ReleaseID), nullIfEmpty(e.MetricsJSON),
		e.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("insert promotion: %w", err)
	}
	return e, nil
}

// Record implements gate.Recorder.
func (s *Store) Record(d gate.GateDecision, m artifact.Metrics, releaseID string) error {
	metricsJSON, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	_, err = s.Append(Entry{
		CandidateAccuracy: d.CandidateAccuracy,
		BaselineAccuracy:  d.BaselineAccuracy,
		BaselineSource:    string(d.BaselineSource),
		Outcome:           string(d.Outcome),
		Reason:            d.Reason,
		ReleaseID:         releaseID,
		MetricsJSON:       string(metricsJSON),
	})
	return err
}

// #endregion append

// #region list
// List returns the most recent decisions, newest first.
func (s *Store) List(limit int) ([]Entry, error) {
	rows, err := s.db.Query(
		`SELECT id, candidate_accuracy, baseline_accuracy, baseline_source, outcome, reason, release_id, metrics_json, created_at
		 FROM promotions ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list promotions: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Latest returns the most recent decision.
func (s *Store) Latest() (Entry, error) {
	entries, err := s.List(1)
	if err != nil {
		return Entry{}, err
	}
	if len(entries) == 0 {
		return Entry{}, ErrEmpty
	}
	return entries[0], nil
}

// #endregion list

// #region helpers
func scanEntry(rows *sql.Rows) (Entry, error) {
	var e Entry
	var baseline sql.NullFloat64
	var reason, releaseID, metricsJSON sql.NullString
	var createdStr string

	if err := rows.Scan(&e.ID, &e.CandidateAccuracy, &baseline, &e.BaselineSource, &e.Outcome,
		&reason, &releaseID, &metricsJSON, &createdStr); err != nil {
		return Entry{}, fmt.Errorf("scan row: %w", err)
	}
	if baseline.Valid {
		b := baseline.Float64
		e.BaselineAccuracy = &b
	}
	e.Reason = reason.String
	e.ReleaseID = releaseID.String
	e.MetricsJSON = metricsJSON.String
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return e, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
