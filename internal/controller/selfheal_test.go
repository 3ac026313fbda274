package controller

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	domainevent "github.com/shipwrightrun/shipwright/internal/domain/event"
	domainrun "github.com/shipwrightrun/shipwright/internal/domain/run"
	"github.com/shipwrightrun/shipwright/internal/engine/selfheal"
	"github.com/shipwrightrun/shipwright/internal/infrastructure/classifier"
	"github.com/shipwrightrun/shipwright/internal/runctx"
)

// fakeBuildStage implements both stages.Stage and selfheal.BuildRunner so it
// can sit in the registry under domainrun.StageBuild the way build.Stage
// does in production.
type fakeBuildStage struct{}

func (fakeBuildStage) Kind() domainrun.StageKind { return domainrun.StageBuild }

func (fakeBuildStage) Run(context.Context, *runctx.RunContext) (domainrun.StageOutcome, error) {
	return domainrun.StageOutcome{Success: true}, nil
}

func (fakeBuildStage) Build(context.Context, string, string) (selfheal.BuildResult, error) {
	return selfheal.BuildResult{Success: true}, nil
}

// fakeTestStage implements both stages.Stage and selfheal.TestRunner,
// replaying a scripted sequence of test results the way test.Stage replays
// real `go test` runs.
type fakeTestStage struct {
	results []selfheal.TestResult
	calls   int
}

func (*fakeTestStage) Kind() domainrun.StageKind { return domainrun.StageTest }

func (*fakeTestStage) Run(context.Context, *runctx.RunContext) (domainrun.StageOutcome, error) {
	return domainrun.StageOutcome{Success: true}, nil
}

func (f *fakeTestStage) Test(context.Context) (selfheal.TestResult, error) {
	r := f.results[f.calls]
	f.calls++
	return r, nil
}

// TestRunBuildTestPairEmitsConvergenceEventAlongsideStageFailed exercises
// the exact input spec.md's stuck-signal scenario describes: the same test
// fails with the same signature and the same failure count three cycles
// running. runBuildTestPair must fail StageTest *and* publish
// convergence.stuck (not convergence.plateau, and not neither) alongside
// stage.failed.
func TestRunBuildTestPairEmitsConvergenceEventAlongsideStageFailed(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "test.log")
	if err := os.WriteFile(logPath, []byte("AssertionError: expected true, got false\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	buildKind := domainrun.StageBuild
	testKind := domainrun.StageTest
	s := newTestSetup(t, []domainrun.StageKind{buildKind, testKind}, nil)

	registry := s.drv.registry
	if err := registry.Register(fakeBuildStage{}); err != nil {
		t.Fatalf("register build: %v", err)
	}
	testStage := &fakeTestStage{results: []selfheal.TestResult{
		{Success: false, LogPath: logPath, FailureCount: 1},
		{Success: false, LogPath: logPath, FailureCount: 1},
		{Success: false, LogPath: logPath, FailureCount: 1},
	}}
	if err := registry.Register(testStage); err != nil {
		t.Fatalf("register test: %v", err)
	}

	s.rc.Classifier = classifier.New(nil)
	s.drv.opts.MaxSelfHealCycles = 10

	err := s.drv.runBuildTestPair(context.Background())
	var sf *stageFailure
	if !errors.As(err, &sf) {
		t.Fatalf("expected a *stageFailure, got %v", err)
	}
	if sf.Stage != domainrun.StageTest || sf.Class != "logic" {
		t.Fatalf("unexpected failure detail: %+v", sf)
	}
	if testStage.calls != 3 {
		t.Fatalf("expected stuck to fire on the 3rd identical signature, got %d test calls", testStage.calls)
	}

	var stuck, plateau, failed int
	for _, ty := range s.bus.types() {
		switch ty {
		case domainevent.TypeConvergenceStuck:
			stuck++
		case domainevent.TypeConvergencePlateau:
			plateau++
		case domainevent.TypeStageFailed:
			failed++
		}
	}
	if stuck != 1 {
		t.Fatalf("expected exactly one convergence.stuck event, got %d", stuck)
	}
	if plateau != 0 {
		t.Fatalf("expected no convergence.plateau event for this input, got %d", plateau)
	}
	if failed != 1 {
		t.Fatalf("expected exactly one stage.failed event, got %d", failed)
	}
}
