package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// #region layout
const (
	// PredictorFile is the predictor blob name in both slots.
	PredictorFile = "model.json"
	// CandidateMetricsFile is the metrics file written by training.
	CandidateMetricsFile = "metrics.json"
	// ProductionMetricsFile is the metrics file persisted with production.
	ProductionMetricsFile = "deployed_metrics.json"

	currentLink   = "current"
	releasesDir   = "releases"
	stagingPrefix = ".staging-"
	linkPrefix    = ".current-"

	staleStagingAge = time.Hour
)

// #endregion layout

// #region store-struct
// Store is the filesystem-backed artifact store. It holds one candidate
// bundle and one production bundle.
//
// Production lives in an immutable release directory; the "current" symlink
// names the live release and is replaced with rename(2), so a reader that
// resolves the link once always sees a predictor and metrics from the same
// publish.
type Store struct {
	candidateDir  string
	productionDir string

	// beforeSwap runs after the release is staged and before the link swap.
	beforeSwap func() error
}

// NewStore creates a store over the given slot directories.
func NewStore(candidateDir, productionDir string) *Store {
	return &Store{candidateDir: candidateDir, productionDir: productionDir}
}

// CandidateDir returns the candidate slot directory.
func (s *Store) CandidateDir() string { return s.candidateDir }

// ProductionDir returns the production slot directory.
func (s *Store) ProductionDir() string { return s.productionDir }

// #endregion store-struct

// #region candidate
// CandidateMetrics reads the candidate metrics record.
func (s *Store) CandidateMetrics() (Metrics, error) {
	path := filepath.Join(s.candidateDir, CandidateMetricsFile)
	m, err := readMetrics(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Metrics{}, fmt.Errorf("%w: %s not found", ErrNoCandidate, path)
	}
	return m, err
}

// CandidatePredictor reads the candidate predictor blob.
func (s *Store) CandidatePredictor() ([]byte, error) {
	path := s.CandidatePredictorPath()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &StorageError{Op: "read candidate predictor", Path: path, Err: err}
	}
	return data, nil
}

// CandidatePredictorPath returns where the candidate predictor is expected.
func (s *Store) CandidatePredictorPath() string {
	return filepath.Join(s.candidateDir, PredictorFile)
}

// Candidate reads the full candidate bundle.
func (s *Store) Candidate() (Bundle, error) {
	m, err := s.CandidateMetrics()
	if err != nil {
		return Bundle{}, err
	}
	p, err := s.CandidatePredictor()
	if err != nil {
		return Bundle{}, err
	}
	return Bundle{Predictor: p, Metrics: m}, nil
}

// #endregion candidate

// #region production
// HasProduction reports whether a production bundle exists on disk.
func (s *Store) HasProduction() bool {
	_, err := s.productionRoot()
	return !errors.Is(err, ErrNoProduction)
}

// ProductionMetrics reads the persisted production metrics record.
func (s *Store) ProductionMetrics() (Metrics, error) {
	root, err := s.productionRoot()
	if err != nil {
		return Metrics{}, err
	}
	return readMetrics(filepath.Join(root, ProductionMetricsFile))
}

// ProductionPredictor reads the live predictor blob.
func (s *Store) ProductionPredictor() ([]byte, error) {
	path, err := s.ProductionPredictorPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &StorageError{Op: "read production predictor", Path: path, Err: err}
	}
	return data, nil
}

// ProductionPredictorPath resolves the live release and returns the
// predictor path inside it.
func (s *Store) ProductionPredictorPath() (string, error) {
	root, err := s.productionRoot()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, PredictorFile), nil
}

// Production reads both halves of the production bundle from one release.
func (s *Store) Production() (Bundle, error) {
	r, err := s.CurrentRelease()
	if err != nil {
		return Bundle{}, err
	}
	return r.Bundle, nil
}

// CurrentRelease resolves the live release once and reads its bundle.
func (s *Store) CurrentRelease() (Release, error) {
	root, err := s.productionRoot()
	if err != nil {
		return Release{}, err
	}
	predPath := filepath.Join(root, PredictorFile)
	pred, err := os.ReadFile(predPath)
	if err != nil {
		return Release{}, &StorageError{Op: "read production predictor", Path: predPath, Err: err}
	}
	m, err := readMetrics(filepath.Join(root, ProductionMetricsFile))
	if err != nil {
		return Release{}, err
	}

	r := Release{PredictorPath: predPath, Bundle: Bundle{Predictor: pred, Metrics: m}}
	if root != s.productionDir {
		r.ID = filepath.Base(root)
	}
	return r, nil
}

// productionRoot resolves the directory holding the live production files.
// The flat layout (files directly under the production dir) is read when no
// release link exists yet.
func (s *Store) productionRoot() (string, error) {
	link := filepath.Join(s.productionDir, currentLink)
	target, err := os.Readlink(link)
	if err == nil {
		if !filepath.IsAbs(target) {
			target = filepath.Join(s.productionDir, target)
		}
		return target, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", &StorageError{Op: "resolve production", Path: link, Err: err}
	}

	for _, name := range []string{ProductionMetricsFile, PredictorFile} {
		if _, err := os.Stat(filepath.Join(s.productionDir, name)); err == nil {
			return s.productionDir, nil
		}
	}
	return "", ErrNoProduction
}

// #endregion production

// #region publish
// Publish installs b as the new production bundle and returns its release ID.
// On error the previous production bundle is left untouched.
func (s *Store) Publish(b Bundle) (string, error) {
	metricsJSON, err := json.MarshalIndent(b.Metrics, "", "  ")
	if err != nil {
		return "", &StorageError{Op: "encode metrics", Path: s.productionDir, Err: err}
	}

	releases := filepath.Join(s.productionDir, releasesDir)
	if err := os.MkdirAll(releases, 0o755); err != nil {
		return "", &StorageError{Op: "create releases dir", Path: releases, Err: err}
	}

	// 1. Stage both files in a private directory
	staging, err := os.MkdirTemp(releases, stagingPrefix)
	if err != nil {
		return "", &StorageError{Op: "create staging dir", Path: releases, Err: err}
	}
	defer os.RemoveAll(staging)

	if err := writeFileSync(filepath.Join(staging, PredictorFile), b.Predictor); err != nil {
		return "", err
	}
	if err := writeFileSync(filepath.Join(staging, ProductionMetricsFile), metricsJSON); err != nil {
		return "", err
	}
	syncDir(staging)

	// 2. Seal the release under its ID
	id := uuid.New().String()
	release := filepath.Join(releases, id)
	if err := os.Rename(staging, release); err != nil {
		return "", &StorageError{Op: "seal release", Path: release, Err: err}
	}
	syncDir(releases)

	if s.beforeSwap != nil {
		if err := s.beforeSwap(); err != nil {
			os.RemoveAll(release)
			return "", &StorageError{Op: "swap production", Path: release, Err: err}
		}
	}

	// 3. Point current at it with a single rename
	tmpLink := filepath.Join(s.productionDir, linkPrefix+id)
	if err := os.Symlink(filepath.Join(releasesDir, id), tmpLink); err != nil {
		os.RemoveAll(release)
		return "", &StorageError{Op: "create link", Path: tmpLink, Err: err}
	}
	if err := os.Rename(tmpLink, filepath.Join(s.productionDir, currentLink)); err != nil {
		os.Remove(tmpLink)
		os.RemoveAll(release)
		return "", &StorageError{Op: "swap production", Path: tmpLink, Err: err}
	}
	syncDir(s.productionDir)

	s.prune(id)
	return id, nil
}

// prune drops every release except the live one and the flat-layout files.
func (s *Store) prune(keep string) {
	live := keep
	if target, err := os.Readlink(filepath.Join(s.productionDir, currentLink)); err == nil {
		live = filepath.Base(target)
	}

	releases := filepath.Join(s.productionDir, releasesDir)
	entries, err := os.ReadDir(releases)
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		if name == live || name == keep {
			continue
		}
		if strings.HasPrefix(name, stagingPrefix) {
			info, err := e.Info()
			if err != nil || time.Since(info.ModTime()) < staleStagingAge {
				continue
			}
		}
		os.RemoveAll(filepath.Join(releases, name))
	}

	for _, name := range []string{PredictorFile, ProductionMetricsFile} {
		os.Remove(filepath.Join(s.productionDir, name))
	}
}

// #endregion publish

// #region helpers
func readMetrics(path string) (Metrics, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Metrics{}, err
		}
		return Metrics{}, &StorageError{Op: "read metrics", Path: path, Err: err}
	}
	var m Metrics
	if err := json.Unmarshal(data, &m); err != nil {
		return Metrics{}, &StorageError{Op: "parse metrics", Path: path, Err: err}
	}
	return m, nil
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return &StorageError{Op: "create", Path: path, Err: err}
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return &StorageError{Op: "write", Path: path, Err: err}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return &StorageError{Op: "sync", Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		return &StorageError{Op: "close", Path: path, Err: err}
	}
	return nil
}

// syncDir flushes directory entries; not every platform supports it.
func syncDir(path string) {
	d, err := os.Open(path)
	if err != nil {
		return
	}
	d.Sync()
	d.Close()
}

// #endregion helpers
