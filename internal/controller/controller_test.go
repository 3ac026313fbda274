package controller

import (
	"context"
	"errors"
	"testing"

	domainevent "github.com/shipwrightrun/shipwright/internal/domain/event"
	domainrun "github.com/shipwrightrun/shipwright/internal/domain/run"
	domaintemplate "github.com/shipwrightrun/shipwright/internal/domain/template"
	"github.com/shipwrightrun/shipwright/internal/ports"
	"github.com/shipwrightrun/shipwright/internal/runctx"
	"github.com/shipwrightrun/shipwright/internal/stages"
)

// fakeEventBus is an in-memory ports.EventBus recording every published
// event, letting tests assert both ordering and the universal event-count
// invariants.
type fakeEventBus struct {
	events []domainevent.Event
}

func (b *fakeEventBus) Publish(_ context.Context, evt domainevent.Event) error {
	b.events = append(b.events, evt)
	return nil
}

func (b *fakeEventBus) Count(_ context.Context, runID string, t domainevent.Type) (int, error) {
	n := 0
	for _, e := range b.events {
		if e.RunID == runID && e.Type == t {
			n++
		}
	}
	return n, nil
}

func (b *fakeEventBus) types() []domainevent.Type {
	out := make([]domainevent.Type, len(b.events))
	for i, e := range b.events {
		out[i] = e.Type
	}
	return out
}

// fakeStateStore is an in-memory ports.StateStore tracking at most one run,
// mirroring the single-current-run contract real adapters implement.
type fakeStateStore struct {
	run   *domainrun.Run
	saves int
}

func (s *fakeStateStore) Load(_ context.Context) (*domainrun.Run, error) {
	if s.run == nil {
		return nil, domainrun.NewNotFoundError("no run tracked", nil)
	}
	return s.run, nil
}

func (s *fakeStateStore) Save(_ context.Context, r *domainrun.Run) error {
	s.run = r
	s.saves++
	return nil
}

func (s *fakeStateStore) StartIfAbsent(_ context.Context, r *domainrun.Run) error {
	if s.run != nil {
		switch s.run.Status {
		case domainrun.StatusRunning, domainrun.StatusPaused, domainrun.StatusInterrupted:
			return domainrun.NewStateError("a run is already active", map[string]interface{}{"status": s.run.Status})
		}
	}
	s.run = r
	return nil
}

func (s *fakeStateStore) Clear(_ context.Context) error {
	s.run = nil
	return nil
}

// fakeLogger discards everything; controller tests only care that Logger
// can be called without a nil-pointer panic.
type fakeLogger struct{}

func (fakeLogger) Debug(string, ...interface{})     {}
func (fakeLogger) Info(string, ...interface{})      {}
func (fakeLogger) Warn(string, ...interface{})      {}
func (fakeLogger) Error(string, ...interface{})     {}
func (fakeLogger) With(...interface{}) ports.Logger { return fakeLogger{} }

// fakeRetry replays a scripted sequence of decisions, one per Decide call,
// repeating the last entry once exhausted.
type fakeRetry struct {
	decisions []ports.RetryDecision
	calls     int
}

func (f *fakeRetry) Decide(_ context.Context, _, _ string, _ int, _ string) (ports.RetryDecision, error) {
	i := f.calls
	if i >= len(f.decisions) {
		i = len(f.decisions) - 1
	}
	f.calls++
	return f.decisions[i], nil
}

// fakeStage implements stages.Stage with a caller-supplied Run body, letting
// each test script exactly the outcomes (success, failure classes, context
// cancellation) the controller must dispatch correctly.
type fakeStage struct {
	kind domainrun.StageKind
	runs int
	run  func(calls int) (domainrun.StageOutcome, error)
}

func (s *fakeStage) Kind() domainrun.StageKind { return s.kind }

func (s *fakeStage) Run(_ context.Context, _ *runctx.RunContext) (domainrun.StageOutcome, error) {
	s.runs++
	return s.run(s.runs)
}

func alwaysSucceeds(kind domainrun.StageKind) *fakeStage {
	return &fakeStage{kind: kind, run: func(int) (domainrun.StageOutcome, error) {
		return domainrun.StageOutcome{Success: true}, nil
	}}
}

// testSetup bundles a driver over a registry of the given fake stages, ready
// to call drive/runStage/checkGate directly without going through Start
// (which would pull in the real build/test/intake/... stage implementations
// via buildRegistry).
type testSetup struct {
	ctrl  *Controller
	rc    *runctx.RunContext
	drv   *driver
	bus   *fakeEventBus
	store *fakeStateStore
}

func newTestSetup(t *testing.T, order []domainrun.StageKind, fakeStages []*fakeStage) *testSetup {
	t.Helper()

	tmpl := &domaintemplate.Template{Name: "fixture"}
	for _, k := range order {
		tmpl.Stages = append(tmpl.Stages, domaintemplate.StageSpec{ID: k, Enabled: true})
	}

	run := domainrun.NewRun("run-1", tmpl.Name, "fix the thing", order, 1000)

	bus := &fakeEventBus{}
	store := &fakeStateStore{}
	ctrl := New(Deps{
		StateStore: store,
		Events:     bus,
		Logger:     fakeLogger{},
		Now:        func() int64 { return 1000 },
	})

	rc := ctrl.newRunContext(run, tmpl, StartOptions{ArtifactDir: t.TempDir(), WorkDir: t.TempDir()})

	registry := stages.NewRegistry()
	for _, s := range fakeStages {
		if err := registry.Register(s); err != nil {
			t.Fatalf("register %s: %v", s.Kind(), err)
		}
	}

	return &testSetup{
		ctrl:  ctrl,
		rc:    rc,
		drv:   &driver{ctrl: ctrl, rc: rc, opts: StartOptions{}, registry: registry},
		bus:   bus,
		store: store,
	}
}

func TestDriveRunsStagesInOrderAndPersistsEachTransition(t *testing.T) {
	alpha := domainrun.StageKind("alpha")
	beta := domainrun.StageKind("beta")

	var order []domainrun.StageKind
	s := newTestSetup(t, []domainrun.StageKind{alpha, beta}, []*fakeStage{
		{kind: alpha, run: func(int) (domainrun.StageOutcome, error) {
			order = append(order, alpha)
			return domainrun.StageOutcome{Success: true}, nil
		}},
		{kind: beta, run: func(int) (domainrun.StageOutcome, error) {
			order = append(order, beta)
			return domainrun.StageOutcome{Success: true}, nil
		}},
	})

	if err := s.drv.drive(context.Background()); err != nil {
		t.Fatalf("drive: %v", err)
	}

	if len(order) != 2 || order[0] != alpha || order[1] != beta {
		t.Fatalf("stages ran out of template order: %v", order)
	}
	if s.rc.Run.StageStatus[alpha] != domainrun.StageComplete || s.rc.Run.StageStatus[beta] != domainrun.StageComplete {
		t.Fatalf("expected both stages complete, got %v", s.rc.Run.StageStatus)
	}
	if s.store.saves == 0 {
		t.Fatal("expected at least one Save call while driving the run")
	}
}

func TestDriveHonorsConfiguredGateSkip(t *testing.T) {
	alpha := domainrun.StageKind("alpha")
	stage := alwaysSucceeds(alpha)
	s := newTestSetup(t, []domainrun.StageKind{alpha}, []*fakeStage{stage})
	s.rc.Template.Stages[0].Gate = domaintemplate.GateSkip

	if err := s.drv.drive(context.Background()); err != nil {
		t.Fatalf("drive: %v", err)
	}
	if stage.runs != 0 {
		t.Fatalf("expected gate=skip to prevent the stage from running, ran %d times", stage.runs)
	}
	if s.rc.Run.StageStatus[alpha] != domainrun.StageSkipped {
		t.Fatalf("expected stage status skipped, got %s", s.rc.Run.StageStatus[alpha])
	}
}

func TestDriveApproveGateDeclinedSkipsStage(t *testing.T) {
	alpha := domainrun.StageKind("alpha")
	stage := alwaysSucceeds(alpha)
	s := newTestSetup(t, []domainrun.StageKind{alpha}, []*fakeStage{stage})
	s.rc.Template.Stages[0].Gate = domaintemplate.GateApprove
	s.ctrl.Approve = func(domainrun.StageKind) bool { return false }

	if err := s.drv.drive(context.Background()); err != nil {
		t.Fatalf("drive: %v", err)
	}
	if stage.runs != 0 {
		t.Fatalf("expected a declined approval gate to skip the stage, ran %d times", stage.runs)
	}
	if s.rc.Run.StageStatus[alpha] != domainrun.StageSkipped {
		t.Fatalf("expected stage status skipped, got %s", s.rc.Run.StageStatus[alpha])
	}
}

func TestDriveApproveGateIgnoredWhenHeadless(t *testing.T) {
	alpha := domainrun.StageKind("alpha")
	stage := alwaysSucceeds(alpha)
	s := newTestSetup(t, []domainrun.StageKind{alpha}, []*fakeStage{stage})
	s.rc.Template.Stages[0].Gate = domaintemplate.GateApprove
	s.rc.Headless = true
	s.ctrl.Approve = func(domainrun.StageKind) bool { return false } // would decline if ever consulted

	if err := s.drv.drive(context.Background()); err != nil {
		t.Fatalf("drive: %v", err)
	}
	if stage.runs != 1 {
		t.Fatalf("expected a headless run to bypass the approval gate and run the stage, ran %d times", stage.runs)
	}
	if s.rc.Run.StageStatus[alpha] != domainrun.StageComplete {
		t.Fatalf("expected stage status complete, got %s", s.rc.Run.StageStatus[alpha])
	}
}

func TestRunStageRetriesThenEscalatesOnClassifierDecision(t *testing.T) {
	alpha := domainrun.StageKind("alpha")
	stage := &fakeStage{kind: alpha, run: func(int) (domainrun.StageOutcome, error) {
		return domainrun.StageOutcome{Success: false, LogPath: "irrelevant", FailureClass: "logic"}, nil
	}}
	s := newTestSetup(t, []domainrun.StageKind{alpha}, []*fakeStage{stage})
	s.rc.Retry = &fakeRetry{decisions: []ports.RetryDecision{
		{Action: "retry", Class: "logic"},
		{Action: "escalate", Class: "logic"},
	}}

	err := s.ctrl.runStage(context.Background(), s.rc, stage)
	var sf *stageFailure
	if !errors.As(err, &sf) {
		t.Fatalf("expected a *stageFailure, got %v", err)
	}
	if sf.Stage != alpha || sf.Class != "logic" {
		t.Fatalf("unexpected failure detail: %+v", sf)
	}
	if stage.runs != 2 {
		t.Fatalf("expected exactly one retry (2 attempts total), got %d", stage.runs)
	}
	if s.rc.Run.StageStatus[alpha] != domainrun.StageFailed {
		t.Fatalf("expected stage status failed, got %s", s.rc.Run.StageStatus[alpha])
	}

	var escalated, failed int
	for _, ty := range s.bus.types() {
		if ty == domainevent.TypeRetryEscalated {
			escalated++
		}
		if ty == domainevent.TypeStageFailed {
			failed++
		}
	}
	if escalated != 1 || failed != 1 {
		t.Fatalf("expected one retry.escalated and one stage.failed event, got escalated=%d failed=%d", escalated, failed)
	}
}

func TestRunStageSkipActionEndsTheRunWithoutEscalating(t *testing.T) {
	alpha := domainrun.StageKind("alpha")
	stage := &fakeStage{kind: alpha, run: func(int) (domainrun.StageOutcome, error) {
		return domainrun.StageOutcome{Success: false, LogPath: "irrelevant"}, nil
	}}
	s := newTestSetup(t, []domainrun.StageKind{alpha}, []*fakeStage{stage})
	s.rc.Retry = &fakeRetry{decisions: []ports.RetryDecision{{Action: "skip", Class: "infrastructure"}}}

	err := s.ctrl.runStage(context.Background(), s.rc, stage)
	var sf *stageFailure
	if !errors.As(err, &sf) {
		t.Fatalf("expected a *stageFailure, got %v", err)
	}
	if stage.runs != 1 {
		t.Fatalf("expected the retry controller's skip decision to end the run on the first attempt, got %d attempts", stage.runs)
	}
}

func TestRunStageWithoutRetryControllerEscalatesConfigurationClassImmediately(t *testing.T) {
	alpha := domainrun.StageKind("alpha")
	stage := &fakeStage{kind: alpha, run: func(int) (domainrun.StageOutcome, error) {
		return domainrun.StageOutcome{Success: false, LogPath: "irrelevant", FailureClass: "configuration"}, nil
	}}
	s := newTestSetup(t, []domainrun.StageKind{alpha}, []*fakeStage{stage})
	s.rc.Retry = nil

	err := s.ctrl.runStage(context.Background(), s.rc, stage)
	var sf *stageFailure
	if !errors.As(err, &sf) {
		t.Fatalf("expected a *stageFailure, got %v", err)
	}
	if stage.runs != 1 {
		t.Fatalf("expected a configuration failure to escalate without retrying, got %d attempts", stage.runs)
	}
}

func TestDriveInterruptMidRunParksTheRunAsInterrupted(t *testing.T) {
	alpha := domainrun.StageKind("alpha")
	beta := domainrun.StageKind("beta")
	ctx, cancel := context.WithCancel(context.Background())

	betaStage := &fakeStage{kind: beta, run: func(int) (domainrun.StageOutcome, error) {
		t.Fatal("beta should never run once the context is cancelled before it starts")
		return domainrun.StageOutcome{}, nil
	}}
	s := newTestSetup(t, []domainrun.StageKind{alpha, beta}, []*fakeStage{
		{kind: alpha, run: func(int) (domainrun.StageOutcome, error) {
			cancel() // simulate SIGINT arriving once the first stage completes
			return domainrun.StageOutcome{Success: true}, nil
		}},
		betaStage,
	})

	err := s.drv.drive(ctx)
	if !errors.Is(err, errInterrupted) {
		t.Fatalf("expected errInterrupted, got %v", err)
	}
	if s.rc.Run.Status != domainrun.StatusInterrupted {
		t.Fatalf("expected run status interrupted, got %s", s.rc.Run.Status)
	}
}

func TestRunStageInterruptMidAttemptParksTheRunAsInterrupted(t *testing.T) {
	alpha := domainrun.StageKind("alpha")
	ctx, cancel := context.WithCancel(context.Background())
	stage := &fakeStage{kind: alpha, run: func(int) (domainrun.StageOutcome, error) {
		cancel()
		return domainrun.StageOutcome{Success: false, LogPath: "x"}, nil
	}}
	s := newTestSetup(t, []domainrun.StageKind{alpha}, []*fakeStage{stage})

	err := s.ctrl.runStage(ctx, s.rc, stage)
	if !errors.Is(err, errInterrupted) {
		t.Fatalf("expected errInterrupted, got %v", err)
	}
	if s.rc.Run.Status != domainrun.StatusInterrupted {
		t.Fatalf("expected run status interrupted, got %s", s.rc.Run.Status)
	}
}

func TestFinalizeResetsToIdleAndClearsStateOnSuccess(t *testing.T) {
	alpha := domainrun.StageKind("alpha")
	s := newTestSetup(t, []domainrun.StageKind{alpha}, []*fakeStage{alwaysSucceeds(alpha)})

	if err := s.ctrl.finalize(context.Background(), s.rc, nil); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if s.rc.Run.Status != domainrun.StatusIdle {
		t.Fatalf("expected idle status after pipeline.completed (testable property 5), got %s", s.rc.Run.Status)
	}
	if s.store.run != nil {
		t.Fatal("expected the state store to be cleared after a completed run")
	}

	var completed int
	for _, ty := range s.bus.types() {
		if ty == domainevent.TypePipelineCompleted {
			completed++
		}
	}
	if completed != 1 {
		t.Fatalf("expected exactly one pipeline.completed event, got %d", completed)
	}
}

func TestFinalizeAlsoResetsToIdleOnFailure(t *testing.T) {
	alpha := domainrun.StageKind("alpha")
	s := newTestSetup(t, []domainrun.StageKind{alpha}, []*fakeStage{alwaysSucceeds(alpha)})

	runErr := &stageFailure{Stage: alpha, Class: "logic"}
	if err := s.ctrl.finalize(context.Background(), s.rc, runErr); !errors.Is(err, runErr) {
		t.Fatalf("finalize should return the original run error, got %v", err)
	}
	if s.rc.Run.Status != domainrun.StatusIdle {
		t.Fatalf("expected idle status even after a failed run, got %s", s.rc.Run.Status)
	}
}

func TestApplyOverridesLayersOntoTemplateDefaults(t *testing.T) {
	tmpl := &domaintemplate.Template{
		Defaults: domaintemplate.Defaults{Model: "haiku", Agents: 1, TestCmd: "go test ./...", FastTest: "go test -short ./..."},
		Stages:   []domaintemplate.StageSpec{{ID: domainrun.StageBuild, Enabled: true}},
	}

	applyOverrides(tmpl, StartOptions{
		ModelOverride:         "opus",
		AgentsOverride:        3,
		FastTestCmdOverride:   "go test -run TestFast ./...",
		MaxIterationsOverride: 7,
		TDDOverride:           true,
	})

	if tmpl.Defaults.Model != "opus" {
		t.Fatalf("expected model override to apply, got %q", tmpl.Defaults.Model)
	}
	if tmpl.Defaults.Agents != 3 {
		t.Fatalf("expected agents override to apply, got %d", tmpl.Defaults.Agents)
	}
	if tmpl.Defaults.TestCmd != "go test ./..." {
		t.Fatalf("expected test_cmd to stay at its template default when no override is given, got %q", tmpl.Defaults.TestCmd)
	}
	if tmpl.Defaults.FastTest != "go test -run TestFast ./..." {
		t.Fatalf("expected fast_test_cmd override to apply, got %q", tmpl.Defaults.FastTest)
	}
	if !tmpl.TDD {
		t.Fatal("expected tdd override to apply")
	}
	if got := tmpl.Stages[0].ConfigInt("max_iterations", 0); got != 7 {
		t.Fatalf("expected max_iterations override written into the build stage's config, got %d", got)
	}
}

func TestApplyOverridesLeavesTemplateUntouchedWhenAllZero(t *testing.T) {
	tmpl := &domaintemplate.Template{
		Defaults: domaintemplate.Defaults{Model: "haiku", Agents: 2, TestCmd: "make test"},
		Stages:   []domaintemplate.StageSpec{{ID: domainrun.StageBuild, Enabled: true}},
	}
	applyOverrides(tmpl, StartOptions{})

	if tmpl.Defaults.Model != "haiku" || tmpl.Defaults.Agents != 2 || tmpl.Defaults.TestCmd != "make test" {
		t.Fatalf("expected zero-value overrides to leave template defaults untouched, got %+v", tmpl.Defaults)
	}
	if tmpl.Stages[0].Config != nil {
		t.Fatalf("expected no config map to be allocated when max_iterations isn't overridden, got %v", tmpl.Stages[0].Config)
	}
}

func TestAbortMarksTheTrackedRunAbortedAndClearsTheStore(t *testing.T) {
	alpha := domainrun.StageKind("alpha")
	s := newTestSetup(t, []domainrun.StageKind{alpha}, nil)
	s.store.run = s.rc.Run

	run, err := s.ctrl.Abort(context.Background())
	if err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if run.Status != domainrun.StatusAborted {
		t.Fatalf("expected aborted status, got %s", run.Status)
	}
	if s.store.run != nil {
		t.Fatal("expected Abort to clear the state store")
	}
}

func TestResumeRejectsARunThatIsNotInterrupted(t *testing.T) {
	alpha := domainrun.StageKind("alpha")
	s := newTestSetup(t, []domainrun.StageKind{alpha}, nil)
	s.rc.Run.Status = domainrun.StatusComplete
	s.store.run = s.rc.Run

	if _, err := s.ctrl.Resume(context.Background(), StartOptions{}); err == nil {
		t.Fatal("expected Resume to reject a non-interrupted run")
	}
}
