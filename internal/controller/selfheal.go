package controller

import (
	"context"

	domainevent "github.com/shipwrightrun/shipwright/internal/domain/event"
	domainrun "github.com/shipwrightrun/shipwright/internal/domain/run"
	"github.com/shipwrightrun/shipwright/internal/engine/convergence"
	"github.com/shipwrightrun/shipwright/internal/engine/selfheal"
)

// runBuildTestPair drives the build and test stages through
// selfheal.Loop instead of two independent runStage calls, since build and
// test only becomes a self-healing pair once both are enabled (spec.md
// §4.8). The loop's Result doesn't distinguish a build-stage failure from a
// test-stage failure, so this maps it onto the run's per-stage state
// machine by always completing StageBuild (the loop already retried the
// build internally on every cycle) and completing-or-failing StageTest on
// the loop's overall Success.
func (d *driver) runBuildTestPair(ctx context.Context) error {
	rc := d.rc
	now := d.ctrl.now

	limit := convergence.Adjust(d.opts.MaxSelfHealCycles, convergence.Context{}, 0, 0)
	if limit.Signal != convergence.SignalNone {
		rc.Emit(ctx, domainevent.TypeConvergenceAcceleration, map[string]interface{}{"signal": string(limit.Signal), "limit": limit.NewLimit})
	}

	if err := rc.Run.BeginStage(domainrun.StageBuild, now()); err != nil {
		return err
	}
	rc.Emit(ctx, domainevent.TypeStageStarted, domainevent.StageFields(string(domainrun.StageBuild), nil))
	d.ctrl.save(ctx, rc)

	buildStage, _ := d.registry.Get(domainrun.StageBuild)
	testStage, _ := d.registry.Get(domainrun.StageTest)

	loop := &selfheal.Loop{
		Classifier: rc.Classifier,
		Events:     rc.Events,
		Baseline:   rc.Baseline,
		Build:      buildStage.(buildRunner),
		Test:       testStage.(testRunner),
		MaxCycles:  limit.NewLimit,
	}

	result, err := loop.Run(ctx, rc.Run.ID, string(domainrun.StageTest), rc.Run.Goal)
	if ctx.Err() != nil {
		return d.ctrl.handleInterrupt(ctx, rc)
	}
	if err != nil {
		return err
	}

	rc.Run.Counters.SelfHealCount += result.SelfHeal
	if err := rc.Run.CompleteStage(domainrun.StageBuild, now()); err != nil {
		return err
	}
	rc.Emit(ctx, domainevent.TypeStageCompleted, domainevent.StageFields(string(domainrun.StageBuild), map[string]interface{}{"cycles": result.Cycles}))
	d.ctrl.save(ctx, rc)

	if err := rc.Run.BeginStage(domainrun.StageTest, now()); err != nil {
		return err
	}
	rc.Emit(ctx, domainevent.TypeStageStarted, domainevent.StageFields(string(domainrun.StageTest), nil))
	d.ctrl.save(ctx, rc)

	if result.Success {
		if err := rc.Run.CompleteStage(domainrun.StageTest, now()); err != nil {
			return err
		}
		rc.Emit(ctx, domainevent.TypeStageCompleted, domainevent.StageFields(string(domainrun.StageTest), map[string]interface{}{"cycles": result.Cycles}))
		d.ctrl.save(ctx, rc)
		return nil
	}

	// selfheal.Loop classifies internally (to drive its stuck tracker) but
	// doesn't surface the class, only a failure signature; report "logic"
	// since a loop that exhausted its cycles without converging means the
	// agent couldn't resolve a recurring logic failure, not an infra blip.
	class := "logic"
	_ = rc.Run.FailStage(domainrun.StageTest, now())
	if evt, ok := convergenceEventFor(result.Signal); ok {
		rc.Emit(ctx, evt, domainevent.StageFields(string(domainrun.StageTest), map[string]interface{}{
			"cycle":     result.Cycles,
			"signature": result.Signature,
		}))
	}
	rc.Emit(ctx, domainevent.TypeStageFailed, domainevent.StageFields(string(domainrun.StageTest), map[string]interface{}{"class": class, "cycles": result.Cycles}))
	d.ctrl.save(ctx, rc)
	return &stageFailure{Stage: domainrun.StageTest, Class: class}
}

// buildRunner/testRunner name the selfheal interfaces locally so this file
// doesn't need to import the build/test packages' concrete types.
type buildRunner = selfheal.BuildRunner
type testRunner = selfheal.TestRunner

// convergenceEventFor maps a selfheal.Loop termination signal onto the
// event it must be reported as (spec.md §4.7), so a plateau or stuck exit
// is visible on the bus alongside the stage.failed it causes, not just
// folded silently into cycle count.
func convergenceEventFor(signal convergence.Signal) (domainevent.Type, bool) {
	switch signal {
	case convergence.SignalPlateau:
		return domainevent.TypeConvergencePlateau, true
	case convergence.SignalStuck:
		return domainevent.TypeConvergenceStuck, true
	default:
		return "", false
	}
}
