// Package baselinestore persists the per-repository learning snapshot
// (spec.md §3.5) as a single JSON file, written atomically via a
// temp-file-then-rename swap, grounded on statestore's same atomic-write
// idiom.
package baselinestore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/shipwrightrun/shipwright/internal/domain/baseline"
	domainrun "github.com/shipwrightrun/shipwright/internal/domain/run"
)

// Store is a file-backed baseline.Record persistence layer.
type Store struct {
	path string
	mu   sync.Mutex
}

// New returns a Store rooted at path, creating the parent directory.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, domainrun.NewDomainError(domainrun.ErrCodeInfra, "create baseline store directory", err, nil)
	}
	return &Store{path: path}, nil
}

// Load reads the baseline record for repoKey, returning a fresh record if
// none has been persisted yet — absence is not an error (spec.md §3.5:
// best-effort, presence only refines decisions).
func (s *Store) Load(repoKey string) (*baseline.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return baseline.NewRecord(repoKey), nil
	}
	if err != nil {
		return nil, domainrun.NewDomainError(domainrun.ErrCodeInfra, "read baseline file", err, nil)
	}

	rec := baseline.NewRecord(repoKey)
	if err := json.Unmarshal(data, rec); err != nil {
		return baseline.NewRecord(repoKey), nil
	}
	if rec.RepoKey != repoKey {
		return baseline.NewRecord(repoKey), nil
	}
	return rec, nil
}

// Save atomically persists rec.
func (s *Store) Save(rec *baseline.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return domainrun.NewDomainError(domainrun.ErrCodeInternal, "marshal baseline record", err, nil)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return domainrun.NewDomainError(domainrun.ErrCodeInfra, "write temporary baseline file", err, nil)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return domainrun.NewDomainError(domainrun.ErrCodeInfra, "rename temporary baseline file", err, nil)
	}
	return nil
}
