package controller

import (
	"context"
	"path/filepath"

	domainevent "github.com/shipwrightrun/shipwright/internal/domain/event"
	domainrun "github.com/shipwrightrun/shipwright/internal/domain/run"
	"github.com/shipwrightrun/shipwright/internal/engine/compoundquality"
	"github.com/shipwrightrun/shipwright/internal/engine/convergence"
	"github.com/shipwrightrun/shipwright/internal/stages/build"
	"github.com/shipwrightrun/shipwright/internal/stages/design"
	"github.com/shipwrightrun/shipwright/internal/stages/dod"
	"github.com/shipwrightrun/shipwright/internal/stages/review"
	"github.com/shipwrightrun/shipwright/internal/stages/test"
)

// runCompoundQuality drives the multi-audit loop that follows a passing
// review stage (spec.md §4.9). It is skipped under the same intelligence
// rules as any other stage, using the pseudo-target
// intelligence.CompoundQualityTarget since the loop isn't itself a
// StageKind.
func (d *driver) runCompoundQuality(ctx context.Context) error {
	rc := d.rc

	if decision := d.checkCompoundQualitySkip(ctx); decision.Skip {
		rc.Emit(ctx, domainevent.TypeIntelligenceStageSkipped, map[string]interface{}{
			"stage": "compound_quality", "reason": decision.Reason,
		})
		return nil
	}

	designStage := design.New()
	buildStage, _ := d.registry.Get(domainrun.StageBuild)
	testStage, _ := d.registry.Get(domainrun.StageTest)
	reviewStage := review.New(d.opts.CompoundQuality)

	dodVerifier := dod.NewVerifier(rc.WorkDir, filepath.Join(rc.ArtifactDir, "dod.md"), rc.Run.BaseBranch)

	audits := map[compoundquality.AuditKind]compoundquality.AuditRunner{
		compoundquality.AuditAdversarial:  &review.LLMAudit{Kind: compoundquality.AuditAdversarial, WorkDir: rc.WorkDir, Base: rc.Run.BaseBranch, LLM: rc.LLM},
		compoundquality.AuditNegative:     &review.LLMAudit{Kind: compoundquality.AuditNegative, WorkDir: rc.WorkDir, Base: rc.Run.BaseBranch, LLM: rc.LLM},
		compoundquality.AuditSimulation:   &review.LLMAudit{Kind: compoundquality.AuditSimulation, WorkDir: rc.WorkDir, Base: rc.Run.BaseBranch, LLM: rc.LLM},
		compoundquality.AuditArchitecture: &review.LLMAudit{Kind: compoundquality.AuditArchitecture, WorkDir: rc.WorkDir, Base: rc.Run.BaseBranch, LLM: rc.LLM},
		compoundquality.AuditSecurityScan: &review.LLMAudit{Kind: compoundquality.AuditSecurityScan, WorkDir: rc.WorkDir, Base: rc.Run.BaseBranch, LLM: rc.LLM},
		compoundquality.AuditE2E:          &review.E2EAudit{WorkDir: rc.WorkDir, TestCmd: rc.Template.Defaults.TestCmd},
		compoundquality.AuditDoD:          &review.DoDAudit{Verifier: dodVerifier},
		compoundquality.AuditMultiDimensional: &review.MultiDimensionalAudit{
			ArtifactDir: rc.ArtifactDir, Baseline: rc.Baseline, Events: rc.Events, RunID: rc.Run.ID,
		},
	}

	maxCycles := convergence.Adjust(3, convergence.Context{}, 0, 0).NewLimit

	loop := &compoundquality.Loop{
		Audits:    audits,
		Baseline:  rc.Baseline,
		Events:    rc.Events,
		Backtrack: &cqBacktracker{d: d, design: designStage, build: buildStage.(*build.Stage), test: testStage.(*test.Stage), review: reviewStage},
		Rebuild:   &cqRebuilder{build: buildStage.(*build.Stage), test: testStage.(*test.Stage), goal: rc.Run.Goal},
		DoD:       dodVerifier,
		MaxCycles: maxCycles,
	}

	outcome, err := loop.Run(ctx, rc.Run.ID)
	if err != nil {
		return err
	}
	if outcome.BlockedByPolicy {
		return &stageFailure{Stage: domainrun.StageReview, Class: "quality_gate"}
	}
	return nil
}

// cqBacktracker implements compoundquality.Backtracker by legally resetting
// design-onward stages to pending (the one documented exception to the
// forward-only stage DAG, spec.md §3.2) and re-running design, build/test,
// and review so the next audit cycle has a fresh diff to inspect.
type cqBacktracker struct {
	d       *driver
	design  *design.Stage
	build   *build.Stage
	test    *test.Stage
	review  *review.Stage
}

func (b *cqBacktracker) Backtrack(ctx context.Context, findings []compoundquality.Finding) error {
	rc := b.d.rc
	rc.Run.Backtrack(domainrun.StageDesign, b.d.ctrl.now())
	rc.Emit(ctx, domainevent.TypeIntelligenceBacktrack, map[string]interface{}{"target": "design"})

	originalGoal := rc.Run.Goal
	rc.Run.Goal = originalGoal + "\n\n" + compoundquality.FeedbackDocument(compoundquality.FindingArchitecture, findings)
	defer func() { rc.Run.Goal = originalGoal }()

	if err := b.d.ctrl.runStage(ctx, rc, b.design); err != nil {
		return err
	}
	if err := b.d.runBuildTestPair(ctx); err != nil {
		return err
	}
	return b.d.ctrl.runStage(ctx, rc, b.review)
}

// cqRebuilder implements compoundquality.Rebuilder by calling the build and
// test stages' underlying methods directly, bypassing the Run state
// machine: a compound-quality rebuild cycle refines the same StageBuild/
// StageTest transition already completed, not a new one.
type cqRebuilder struct {
	build *build.Stage
	test  *test.Stage
	goal  string
}

func (r *cqRebuilder) Rebuild(ctx context.Context, feedbackDoc string) error {
	if _, err := r.build.Build(ctx, r.goal+"\n\n"+feedbackDoc, ""); err != nil {
		return err
	}
	_, err := r.test.Test(ctx)
	return err
}
