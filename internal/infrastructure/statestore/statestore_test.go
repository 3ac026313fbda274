package statestore

import (
	"context"
	"path/filepath"
	"testing"

	domainrun "github.com/shipwrightrun/shipwright/internal/domain/run"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := New(filepath.Join(dir, "state.txt"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	order := []domainrun.StageKind{domainrun.StageIntake, domainrun.StagePlan, domainrun.StageBuild}
	r := domainrun.NewRun("run-123", "default", "fix the widget", order, 1000)
	_ = r.BeginStage(domainrun.StageIntake, 1000)
	_ = r.CompleteStage(domainrun.StageIntake, 1005)
	_ = r.BeginStage(domainrun.StagePlan, 1005)

	if err := store.Save(ctx, r); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected a loaded run, got nil")
	}
	if loaded.ID != r.ID || loaded.Goal != r.Goal || loaded.CurrentStage != r.CurrentStage {
		t.Fatalf("round trip mismatch: %+v vs %+v", loaded, r)
	}
	if loaded.StageStatus[domainrun.StageIntake] != domainrun.StageComplete {
		t.Fatalf("expected intake complete, got %s", loaded.StageStatus[domainrun.StageIntake])
	}
	if loaded.StageStatus[domainrun.StagePlan] != domainrun.StageRunning {
		t.Fatalf("expected plan running, got %s", loaded.StageStatus[domainrun.StagePlan])
	}
}

func TestStartIfAbsentRefusesWhileRunning(t *testing.T) {
	dir := t.TempDir()
	store, _ := New(filepath.Join(dir, "state.txt"))
	ctx := context.Background()

	order := []domainrun.StageKind{domainrun.StageIntake}
	first := domainrun.NewRun("run-1", "default", "goal", order, 1000)
	_ = first.BeginStage(domainrun.StageIntake, 1000)
	if err := store.StartIfAbsent(ctx, first); err != nil {
		t.Fatalf("first start: %v", err)
	}

	second := domainrun.NewRun("run-2", "default", "goal", order, 2000)
	if err := store.StartIfAbsent(ctx, second); err == nil {
		t.Fatal("expected error starting a second run while one is in progress")
	}
}

func TestLoadMissingFileReturnsNil(t *testing.T) {
	dir := t.TempDir()
	store, _ := New(filepath.Join(dir, "state.txt"))
	r, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if r != nil {
		t.Fatalf("expected nil run, got %+v", r)
	}
}

func TestClearRemovesState(t *testing.T) {
	dir := t.TempDir()
	store, _ := New(filepath.Join(dir, "state.txt"))
	ctx := context.Background()
	r := domainrun.NewRun("run-1", "default", "goal", []domainrun.StageKind{domainrun.StageIntake}, 1000)
	_ = store.Save(ctx, r)

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load after clear: %v", err)
	}
	if loaded != nil {
		t.Fatalf("expected nil after clear, got %+v", loaded)
	}
}
