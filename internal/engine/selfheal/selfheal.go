// Package selfheal implements the build<->test self-healing loop (spec.md
// §4.8), wrapping the build and test stages when both are enabled and
// build_test_retries > 0. It is grounded on the teacher Executor's
// level-loop-with-error-capture shape (internal/infrastructure/engine),
// generalized from "DAG level" to "cycle."
package selfheal

import (
	"context"
	"fmt"

	"github.com/shipwrightrun/shipwright/internal/domain/baseline"
	domainevent "github.com/shipwrightrun/shipwright/internal/domain/event"
	"github.com/shipwrightrun/shipwright/internal/engine/convergence"
	"github.com/shipwrightrun/shipwright/internal/ports"
)

// BuildResult is the outcome of one build attempt.
type BuildResult struct {
	Success bool
	LogPath string
}

// TestResult is the outcome of one test attempt. FailureCount is an
// implementation-defined measure of how many distinct failures were observed
// (e.g. failing test cases) and feeds the plateau tracker; 1 is a reasonable
// default when a finer count isn't available.
type TestResult struct {
	Success      bool
	LogPath      string
	FailureTail  string
	FailureCount int
}

// BuildRunner invokes the build stage with an enriched goal (spec.md
// §4.10.4). Annotation, when non-empty, is a memory-sourced fix hint to be
// surfaced to the coding agent as a prefix.
type BuildRunner interface {
	Build(ctx context.Context, goal string, annotation string) (BuildResult, error)
}

// TestRunner invokes the test stage.
type TestRunner interface {
	Test(ctx context.Context) (TestResult, error)
}

// Loop drives the build<->test self-healing cycles.
type Loop struct {
	Classifier ports.Classifier
	Events     ports.EventBus
	Baseline   *baseline.Record
	Build      BuildRunner
	Test       TestRunner

	// MaxCycles is the cycle ceiling for this run, already resolved by the
	// caller via convergence.Adjust against §4.7's learned-cycles/budget
	// rules.
	MaxCycles int
}

// Result is the outcome of a full self-healing run.
type Result struct {
	Success   bool
	Cycles    int // total cycles attempted
	SelfHeal  int // repeat cycles (cycle index > 1), reported as iterations
	Signature string
	// Signal reports which convergence tracker ended the loop early
	// (convergence.SignalPlateau/SignalStuck), or convergence.SignalNone when
	// the loop ended on success, a build failure, or plain cycle exhaustion.
	Signal convergence.Signal
}

// Run executes the loop for one build<->test pair on the named run.
func (l *Loop) Run(ctx context.Context, runID, stageID, goal string) (Result, error) {
	maxCycles := l.MaxCycles
	if maxCycles < 1 {
		maxCycles = 1
	}

	var plateau convergence.PlateauTracker
	var stuck convergence.StuckTracker

	var prevFailureTail string
	var lastSignature string
	selfHealCount := 0

	for cycle := 1; cycle <= maxCycles; cycle++ {
		if cycle > 1 {
			selfHealCount++
		}

		annotation := ""
		effectiveGoal := goal
		if cycle > 1 {
			effectiveGoal = fmt.Sprintf("%s\n\nPrevious test failure:\n%s", goal, prevFailureTail)
		}

		usedKnownFix := false
		var fixSignature string
		if cycle > 1 && lastSignature != "" && l.Baseline != nil {
			if fix, ok := l.Baseline.KnownFix(lastSignature); ok {
				annotation = fix
				usedKnownFix = true
				fixSignature = lastSignature
			}
		}

		build, err := l.Build.Build(ctx, effectiveGoal, annotation)
		if err != nil {
			return Result{Success: false, Cycles: cycle, SelfHeal: selfHealCount}, err
		}
		if !build.Success {
			l.publish(ctx, runID, domainevent.TypeStageFailed, domainevent.StageFields(stageID, map[string]interface{}{
				"reason": "build_failed",
				"cycle":  cycle,
			}))
			return Result{Success: false, Cycles: cycle, SelfHeal: selfHealCount}, nil
		}

		test, err := l.Test.Test(ctx)
		if err != nil {
			return Result{Success: false, Cycles: cycle, SelfHeal: selfHealCount}, err
		}

		if test.Success {
			l.publish(ctx, runID, domainevent.TypeConvergenceTestsPassed, domainevent.StageFields(stageID, map[string]interface{}{
				"cycle": cycle,
			}))
			if usedKnownFix && l.Baseline != nil {
				l.Baseline.RecordFixOutcome(fixSignature, true)
			}
			return Result{Success: true, Cycles: cycle, SelfHeal: selfHealCount}, nil
		}

		if usedKnownFix && l.Baseline != nil {
			l.Baseline.RecordFixOutcome(fixSignature, false)
		}

		class, signature, classifyErr := "", "", error(nil)
		if l.Classifier != nil && test.LogPath != "" {
			class, signature, classifyErr = l.Classifier.Classify(ctx, stageID, test.LogPath)
		}
		_ = class
		haveSignature := classifyErr == nil && signature != ""
		repeatSignature := haveSignature && signature == lastSignature
		if haveSignature {
			lastSignature = signature
		}
		prevFailureTail = test.FailureTail

		failureCount := test.FailureCount
		if failureCount <= 0 {
			failureCount = 1
		}

		// Evaluate stuck first and unconditionally: a repeating signature is
		// the more specific signal, and the same failing test will almost
		// always report an unchanging failureCount too, which would trip
		// PlateauTracker a cycle early and starve StuckTracker of the third
		// observation it needs (spec.md §4.7 scenario E2). While a signature
		// streak is building, skip the plateau check for this cycle and let
		// the streak run its course.
		if haveSignature {
			if stuck.Observe(lastSignature) {
				return Result{Success: false, Cycles: cycle, SelfHeal: selfHealCount, Signature: lastSignature, Signal: convergence.SignalStuck}, nil
			}
			if repeatSignature {
				continue
			}
		}

		if plateau.Observe(failureCount) {
			return Result{Success: false, Cycles: cycle, SelfHeal: selfHealCount, Signature: lastSignature, Signal: convergence.SignalPlateau}, nil
		}
	}

	return Result{Success: false, Cycles: maxCycles, SelfHeal: selfHealCount, Signature: lastSignature}, nil
}

func (l *Loop) publish(ctx context.Context, runID string, t domainevent.Type, fields map[string]interface{}) {
	if l.Events == nil {
		return
	}
	_ = l.Events.Publish(ctx, domainevent.New(runID, t, fields))
}
