package run

import "testing"

func order() []StageKind {
	return []StageKind{StageIntake, StagePlan, StageDesign, StageBuild, StageTest, StagePR}
}

func TestNewRunStartsPending(t *testing.T) {
	r := NewRun("run-1", "default", "fix the bug", order(), 100)
	if r.Status != StatusIdle {
		t.Fatalf("expected idle status, got %s", r.Status)
	}
	for _, s := range r.StageOrder {
		if r.StageStatus[s] != StagePending {
			t.Fatalf("expected stage %s pending, got %s", s, r.StageStatus[s])
		}
	}
}

func TestBeginCompleteStageLifecycle(t *testing.T) {
	r := NewRun("run-1", "default", "goal", order(), 100)

	if err := r.BeginStage(StageIntake, 100); err != nil {
		t.Fatalf("begin stage: %v", err)
	}
	if err := r.Validate(); err != nil {
		t.Fatalf("validate while running: %v", err)
	}
	if r.CurrentStage != StageIntake {
		t.Fatalf("expected current stage intake, got %s", r.CurrentStage)
	}

	if err := r.CompleteStage(StageIntake, 105); err != nil {
		t.Fatalf("complete stage: %v", err)
	}
	if r.StageStatus[StageIntake] != StageComplete {
		t.Fatalf("expected complete, got %s", r.StageStatus[StageIntake])
	}
	if got := r.StageTiming[StageIntake].Elapsed(200); got != 5 {
		t.Fatalf("expected elapsed 5, got %d", got)
	}
}

func TestOnlyOneRunningStageInvariant(t *testing.T) {
	r := NewRun("run-1", "default", "goal", order(), 100)
	_ = r.BeginStage(StageIntake, 100)
	r.StageStatus[StagePlan] = StageRunning // simulate corruption
	if err := r.Validate(); err == nil {
		t.Fatal("expected validation error for two running stages")
	}
}

func TestRetryThenBeginAgain(t *testing.T) {
	r := NewRun("run-1", "default", "goal", order(), 100)
	_ = r.BeginStage(StageBuild, 100)
	if err := r.RetryStage(StageBuild, 110); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if err := r.BeginStage(StageBuild, 111); err != nil {
		t.Fatalf("begin after retry: %v", err)
	}
	if r.StageStatus[StageBuild] != StageRunning {
		t.Fatalf("expected running, got %s", r.StageStatus[StageBuild])
	}
}

func TestBacktrackResetsFromStageOnward(t *testing.T) {
	r := NewRun("run-1", "default", "goal", order(), 100)
	for _, s := range []StageKind{StageIntake, StagePlan, StageDesign, StageBuild, StageTest} {
		_ = r.BeginStage(s, 100)
		_ = r.CompleteStage(s, 105)
	}

	r.Backtrack(StageDesign, 200)

	if r.StageStatus[StageIntake] != StageComplete {
		t.Fatalf("expected intake to remain complete, got %s", r.StageStatus[StageIntake])
	}
	if r.StageStatus[StagePlan] != StageComplete {
		t.Fatalf("expected plan to remain complete, got %s", r.StageStatus[StagePlan])
	}
	for _, s := range []StageKind{StageDesign, StageBuild, StageTest} {
		if r.StageStatus[s] != StagePending {
			t.Fatalf("expected %s pending after backtrack, got %s", s, r.StageStatus[s])
		}
	}
	if r.Counters.BacktrackCount != 1 {
		t.Fatalf("expected backtrack count 1, got %d", r.Counters.BacktrackCount)
	}
}

func TestInterruptAndResume(t *testing.T) {
	r := NewRun("run-1", "default", "goal", order(), 100)
	_ = r.BeginStage(StageIntake, 100)
	_ = r.CompleteStage(StageIntake, 105)
	_ = r.BeginStage(StagePlan, 105)

	r.Interrupt(120)
	if r.Status != StatusInterrupted {
		t.Fatalf("expected interrupted, got %s", r.Status)
	}
	// crash leaves stage status running; a real crash wouldn't call CompleteStage
	r.Resume(130)
	if r.Status != StatusRunning {
		t.Fatalf("expected running after resume, got %s", r.Status)
	}
	if r.CurrentStage != StagePlan {
		t.Fatalf("expected resume at plan, got %s", r.CurrentStage)
	}
	if r.StageStatus[StagePlan] != StageRetrying {
		t.Fatalf("expected plan marked retrying on resume, got %s", r.StageStatus[StagePlan])
	}
}

func TestExecutedStageCount(t *testing.T) {
	r := NewRun("run-1", "default", "goal", order(), 100)
	_ = r.BeginStage(StageIntake, 100)
	_ = r.CompleteStage(StageIntake, 101)
	_ = r.BeginStage(StagePlan, 101)
	_ = r.FailStage(StagePlan, 102)

	if got := r.ExecutedStageCount(); got != 2 {
		t.Fatalf("expected 2 executed stages, got %d", got)
	}
}
