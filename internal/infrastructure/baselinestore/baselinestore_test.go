package baselinestore

import (
	"path/filepath"
	"testing"
)

func TestLoadReturnsFreshRecordWhenAbsent(t *testing.T) {
	store, err := New(filepath.Join(t.TempDir(), "baseline.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec, err := store.Load("repo-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.RepoKey != "repo-a" || rec.CoverageBaseline != 0 {
		t.Fatalf("expected fresh zero-valued record, got %+v", rec)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "baseline.json")
	store, err := New(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec, _ := store.Load("repo-a")
	rec.CoverageBaseline = 82.5
	rec.RecordCIWait(120)
	if err := store.Save(rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reloaded, err := store.Load("repo-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reloaded.CoverageBaseline != 82.5 {
		t.Fatalf("expected coverage baseline to round-trip, got %v", reloaded.CoverageBaseline)
	}
	if len(reloaded.CIWaitHistory) != 1 || reloaded.CIWaitHistory[0] != 120 {
		t.Fatalf("expected CI wait history to round-trip, got %v", reloaded.CIWaitHistory)
	}
}

func TestLoadIgnoresMismatchedRepoKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "baseline.json")
	store, _ := New(path)
	rec, _ := store.Load("repo-a")
	rec.CoverageBaseline = 50
	_ = store.Save(rec)

	got, err := store.Load("repo-b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.RepoKey != "repo-b" || got.CoverageBaseline != 0 {
		t.Fatalf("expected a fresh record for a different repo key, got %+v", got)
	}
}
