// Package controller implements the Pipeline Controller (spec.md §4.12):
// the top-level driver that loads a template, builds a Run, and walks its
// stage order, wiring in the retry controller, the self-healing and
// compound-quality loops, the intelligence skip/reassessment hooks, and the
// heartbeat writer. Grounded on the teacher's internal/application/pipeline
// service layer (Prepare -> Apply) and internal/infrastructure/engine.Executor,
// generalized from "DAG level" to "stages in template order" since pipeline
// stages run strictly sequentially (spec.md §5) — no fan-out goroutines are
// needed at this layer.
package controller

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/shipwrightrun/shipwright/internal/domain/baseline"
	domainevent "github.com/shipwrightrun/shipwright/internal/domain/event"
	domainrun "github.com/shipwrightrun/shipwright/internal/domain/run"
	domaintemplate "github.com/shipwrightrun/shipwright/internal/domain/template"
	"github.com/shipwrightrun/shipwright/internal/executil"
	"github.com/shipwrightrun/shipwright/internal/infrastructure/heartbeat"
	"github.com/shipwrightrun/shipwright/internal/infrastructure/retry"
	"github.com/shipwrightrun/shipwright/internal/ports"
	"github.com/shipwrightrun/shipwright/internal/runctx"
	"github.com/shipwrightrun/shipwright/internal/stages"
	"github.com/shipwrightrun/shipwright/internal/stages/build"
	"github.com/shipwrightrun/shipwright/internal/stages/deploy"
	"github.com/shipwrightrun/shipwright/internal/stages/design"
	"github.com/shipwrightrun/shipwright/internal/stages/intake"
	"github.com/shipwrightrun/shipwright/internal/stages/merge"
	"github.com/shipwrightrun/shipwright/internal/stages/monitor"
	"github.com/shipwrightrun/shipwright/internal/stages/plan"
	"github.com/shipwrightrun/shipwright/internal/stages/pr"
	"github.com/shipwrightrun/shipwright/internal/stages/review"
	"github.com/shipwrightrun/shipwright/internal/stages/test"
	"github.com/shipwrightrun/shipwright/internal/stages/validate"
)

// BaselineStore is the subset of internal/infrastructure/baselinestore.Store
// the controller needs, named locally so this package doesn't depend on the
// concrete adapter.
type BaselineStore interface {
	Load(repoKey string) (*baseline.Record, error)
	Save(rec *baseline.Record) error
}

// Deps bundles every adapter the controller wires into each run's
// RunContext, generalized from the teacher's per-service constructor
// argument list into one struct (spec.md §3.6, "RunContext...passed through
// every component instead of module-level variables").
type Deps struct {
	StateStore ports.StateStore
	Events     ports.EventBus
	Logger     ports.Logger
	Forge      ports.Forge
	Classifier ports.Classifier
	Retry      ports.RetryController
	LLM        ports.LLMClient
	Agent      ports.CodingAgentRunner
	Metrics    ports.MetricsCollector
	Templates  ports.TemplateLoader
	Baseline   BaselineStore

	// Now returns the current epoch second; overridable in tests so the
	// state machine's timing fields stay deterministic.
	Now func() int64
	// Approve is consulted for a stage gated "approve" when the run isn't
	// headless; returning false skips the stage. Nil means every approval
	// gate is granted (suitable for headless/CI callers, which never reach
	// this check since RunContext.Headless short-circuits it).
	Approve func(stage domainrun.StageKind) bool
}

// Controller drives Pipeline Runs end to end.
type Controller struct {
	Deps
}

// New returns a Controller. A nil Deps.Now defaults to the wall clock.
func New(deps Deps) *Controller {
	if deps.Now == nil {
		deps.Now = func() int64 { return time.Now().Unix() }
	}
	return &Controller{Deps: deps}
}

func (c *Controller) now() int64 { return c.Now() }

// StartOptions carries the `start` subcommand's resolved inputs
// (spec.md §6.1).
type StartOptions struct {
	Goal         string
	IssueRef     string
	TemplateName string
	WorkDir      string
	ArtifactDir  string
	BaseBranch   string
	RepoKey      string

	Headless bool
	CIMode   bool

	MaxSelfHealCycles int
	CompoundQuality   bool

	Reviewers         []string
	Labels            []string
	Milestone         string
	MergeStrategy     string
	MergeDeleteBranch bool
	MergeAuto         bool
	MergeAutoApprove  bool

	// Overrides layer onto the loaded template's defaults, honoring the
	// "CLI override > template > default" precedence spec.md §4.10.4
	// states for the build stage's inputs. Zero values leave the
	// template's own default untouched.
	ModelOverride         string
	AgentsOverride        int
	TestCmdOverride       string
	FastTestCmdOverride   string
	MaxIterationsOverride int
	TDDOverride           bool
}

// stageFailure marks a definitive (non-retryable, retry-budget-exhausted, or
// escalated) stage failure that ends the run.
type stageFailure struct {
	Stage domainrun.StageKind
	Class string
}

func (e *stageFailure) Error() string {
	return fmt.Sprintf("stage %s failed (%s)", e.Stage, e.Class)
}

// errInterrupted signals a cooperative cancellation mid-run (spec.md §4.2,
// scenario E6); the run is parked as interrupted rather than finalized.
var errInterrupted = errors.New("pipeline run interrupted")

// driver holds the per-run mutable bookkeeping the stateless Controller
// methods thread through one drive() call — the reassessment overrides and
// the initial complexity estimate, both derived mid-run from stage
// artifacts (spec.md §4.11).
type driver struct {
	ctrl     *Controller
	rc       *runctx.RunContext
	opts     StartOptions
	registry *stages.Registry

	reassessmentSkip map[domainrun.StageKind]bool
}

// Start begins a new run from opts, blocking until the run completes, fails
// definitively, or is interrupted.
func (c *Controller) Start(ctx context.Context, opts StartOptions) (*domainrun.Run, error) {
	tmpl, err := c.loadTemplate(ctx, opts.TemplateName, opts)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	now := c.now()
	run := domainrun.NewRun(runID, tmpl.Name, opts.Goal, tmpl.EnabledStageOrder(), now)
	run.IssueRef = opts.IssueRef
	run.BaseBranch = opts.BaseBranch
	run.WorkDir = opts.WorkDir

	if c.StateStore != nil {
		if err := c.StateStore.StartIfAbsent(ctx, run); err != nil {
			return nil, err
		}
	}

	rc := c.newRunContext(run, tmpl, opts)
	bl, err := c.loadBaseline(opts.RepoKey)
	if err != nil {
		return nil, err
	}
	rc.Baseline = bl

	rc.Emit(ctx, domainevent.TypePipelineStarted, map[string]interface{}{
		"template": tmpl.Name, "goal": opts.Goal,
	})

	return c.run(ctx, rc, opts)
}

// Resume reloads an interrupted run and continues it from its last
// non-complete stage (spec.md §4.2, scenario E6).
func (c *Controller) Resume(ctx context.Context, opts StartOptions) (*domainrun.Run, error) {
	if c.StateStore == nil {
		return nil, fmt.Errorf("resume requires a state store")
	}
	run, err := c.StateStore.Load(ctx)
	if err != nil {
		return nil, err
	}
	if run.Status != domainrun.StatusInterrupted {
		return nil, domainrun.NewStateError("run is not interrupted", map[string]interface{}{"status": run.Status})
	}

	tmpl, err := c.loadTemplate(ctx, run.TemplateName, opts)
	if err != nil {
		return nil, err
	}
	run.Resume(c.now())

	rc := c.newRunContext(run, tmpl, opts)
	bl, err := c.loadBaseline(opts.RepoKey)
	if err != nil {
		return nil, err
	}
	rc.Baseline = bl

	return c.run(ctx, rc, opts)
}

// Abort force-ends whatever run is currently tracked by the state store.
func (c *Controller) Abort(ctx context.Context) (*domainrun.Run, error) {
	if c.StateStore == nil {
		return nil, fmt.Errorf("abort requires a state store")
	}
	run, err := c.StateStore.Load(ctx)
	if err != nil {
		return nil, err
	}
	run.Status = domainrun.StatusAborted
	run.UpdatedEpoch = c.now()
	if err := c.StateStore.Save(ctx, run); err != nil {
		return nil, err
	}
	_ = c.StateStore.Clear(ctx)
	return run, nil
}

// Status returns the currently tracked run record, if any.
func (c *Controller) Status(ctx context.Context) (*domainrun.Run, error) {
	if c.StateStore == nil {
		return nil, fmt.Errorf("status requires a state store")
	}
	return c.StateStore.Load(ctx)
}

func (c *Controller) loadTemplate(ctx context.Context, name string, opts StartOptions) (*domaintemplate.Template, error) {
	if c.Templates == nil {
		return nil, fmt.Errorf("no template loader configured")
	}
	tmpl, err := c.Templates.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	applyOverrides(tmpl, opts)
	if err := tmpl.Validate(); err != nil {
		return nil, err
	}
	return tmpl, nil
}

// applyOverrides layers non-zero StartOptions fields onto the loaded
// template's defaults, in place.
func applyOverrides(tmpl *domaintemplate.Template, opts StartOptions) {
	if opts.ModelOverride != "" {
		tmpl.Defaults.Model = opts.ModelOverride
	}
	if opts.AgentsOverride > 0 {
		tmpl.Defaults.Agents = opts.AgentsOverride
	}
	if opts.TestCmdOverride != "" {
		tmpl.Defaults.TestCmd = opts.TestCmdOverride
	}
	if opts.FastTestCmdOverride != "" {
		tmpl.Defaults.FastTest = opts.FastTestCmdOverride
	}
	if opts.TDDOverride {
		tmpl.TDD = true
	}
	if opts.MaxIterationsOverride > 0 {
		for i := range tmpl.Stages {
			if tmpl.Stages[i].ID == domainrun.StageBuild {
				if tmpl.Stages[i].Config == nil {
					tmpl.Stages[i].Config = map[string]interface{}{}
				}
				tmpl.Stages[i].Config["max_iterations"] = opts.MaxIterationsOverride
			}
		}
	}
}

func (c *Controller) loadBaseline(repoKey string) (*baseline.Record, error) {
	if c.Baseline == nil {
		return baseline.NewRecord(repoKey), nil
	}
	return c.Baseline.Load(repoKey)
}

func (c *Controller) newRunContext(run *domainrun.Run, tmpl *domaintemplate.Template, opts StartOptions) *runctx.RunContext {
	rc := runctx.New(run, tmpl, nil)
	rc.StateStore = c.StateStore
	rc.Events = c.Events
	rc.Logger = c.Logger
	rc.Forge = c.Forge
	rc.Classifier = c.Classifier
	rc.Retry = c.Retry
	rc.LLM = c.LLM
	rc.Agent = c.Agent
	rc.Metrics = c.Metrics
	rc.ArtifactDir = opts.ArtifactDir
	rc.WorkDir = opts.WorkDir
	rc.Headless = opts.Headless
	rc.CIMode = opts.CIMode
	return rc
}

// run wires the registry and heartbeat, drives the run, and finalizes it.
func (c *Controller) run(ctx context.Context, rc *runctx.RunContext, opts StartOptions) (*domainrun.Run, error) {
	if rc.ArtifactDir != "" {
		if err := os.MkdirAll(rc.ArtifactDir, 0o755); err != nil {
			return rc.Run, err
		}
	}

	hb := heartbeat.New(filepath.Join(rc.ArtifactDir, "heartbeat.json"), &heartbeatSource{rc: rc})
	hbCtx, cancelHB := context.WithCancel(ctx)
	defer cancelHB()
	hb.Start(hbCtx)

	registry := c.buildRegistry(rc, opts)

	d := &driver{ctrl: c, rc: rc, opts: opts, registry: registry}

	err := d.drive(ctx)
	if errors.Is(err, errInterrupted) {
		return rc.Run, nil
	}
	return rc.Run, c.finalize(ctx, rc, err)
}

// buildRegistry constructs a fresh stage registry bound to rc, since the
// build and test stages are constructed with a bound RunContext pointer
// (spec.md §4.10.4/§4.10.5) and so cannot be shared across runs.
func (c *Controller) buildRegistry(rc *runctx.RunContext, opts StartOptions) *stages.Registry {
	reg := stages.NewRegistry()
	_ = reg.Register(intake.New())
	_ = reg.Register(plan.New())
	_ = reg.Register(design.New())
	_ = reg.Register(build.New(rc))
	_ = reg.Register(test.New(rc))
	_ = reg.Register(review.New(opts.CompoundQuality))
	_ = reg.Register(pr.New(opts.Reviewers, opts.Labels, opts.Milestone))
	_ = reg.Register(merge.New(opts.MergeStrategy, opts.MergeDeleteBranch, opts.MergeAuto, opts.MergeAutoApprove))
	_ = reg.Register(deploy.New())
	_ = reg.Register(validate.New())
	_ = reg.Register(monitor.New())
	return reg
}

// heartbeatSource adapts a RunContext to heartbeat.Source.
type heartbeatSource struct{ rc *runctx.RunContext }

func (h *heartbeatSource) Heartbeat() heartbeat.Record {
	return heartbeat.Record{
		PipelineID:   h.rc.Run.ID,
		PID:          os.Getpid(),
		Issue:        h.rc.Run.IssueRef,
		CurrentStage: string(h.rc.Run.CurrentStage),
		Iteration:    h.rc.Run.Counters.SelfHealCount + 1,
		Description:  h.rc.Run.Goal,
	}
}

// drive walks the run's stage order, handling the build<->test and
// review<->compound-quality special pairings, skip decisions, and
// interactive gates (spec.md §4.12).
func (d *driver) drive(ctx context.Context) error {
	order := d.rc.Run.StageOrder
	for i := 0; i < len(order); i++ {
		stage := order[i]

		if ctx.Err() != nil {
			return d.ctrl.handleInterrupt(ctx, d.rc)
		}

		status := d.rc.Run.StageStatus[stage]
		if status == domainrun.StageComplete || status == domainrun.StageSkipped {
			continue
		}

		if decision := d.checkSkip(ctx, stage); decision.Skip {
			_ = d.rc.Run.SkipStage(stage, d.ctrl.now())
			d.rc.Emit(ctx, domainevent.TypeIntelligenceStageSkipped, map[string]interface{}{
				"stage": string(stage), "reason": decision.Reason,
			})
			d.rc.Emit(ctx, domainevent.TypeStageSkipped, domainevent.StageFields(string(stage), map[string]interface{}{"reason": decision.Reason}))
			d.ctrl.save(ctx, d.rc)
			continue
		}

		if skip, err := d.checkGate(ctx, stage); err != nil {
			return err
		} else if skip {
			continue
		}

		switch stage {
		case domainrun.StageBuild:
			nextIsTest := i+1 < len(order) && order[i+1] == domainrun.StageTest
			testPending := d.rc.Run.StageStatus[domainrun.StageTest] == domainrun.StagePending
			if nextIsTest && testPending && d.opts.MaxSelfHealCycles > 0 {
				if err := d.runBuildTestPair(ctx); err != nil {
					return err
				}
				d.applyReassessment(ctx)
				i++ // test was driven as part of the pair
				continue
			}
			if err := d.runGeneric(ctx, stage); err != nil {
				return err
			}
		case domainrun.StageReview:
			if err := d.runGeneric(ctx, stage); err != nil {
				return err
			}
			if d.opts.CompoundQuality {
				if err := d.runCompoundQuality(ctx); err != nil {
					return err
				}
			}
		default:
			if err := d.runGeneric(ctx, stage); err != nil {
				return err
			}
		}

		if stage == domainrun.StageTest {
			d.applyReassessment(ctx)
		}
	}
	return nil
}

// checkGate applies a stage's configured approval gate (spec.md §3.1), only
// meaningful for interactive, non-headless runs. It returns skip=true when
// the stage must be bypassed (gate=skip, or an approve gate was declined).
func (d *driver) checkGate(ctx context.Context, stage domainrun.StageKind) (skip bool, err error) {
	spec, ok := d.rc.Template.StageByKind(stage)
	if !ok {
		return false, nil
	}
	switch spec.Gate {
	case domaintemplate.GateSkip:
		_ = d.rc.Run.SkipStage(stage, d.ctrl.now())
		d.rc.Emit(ctx, domainevent.TypeStageSkipped, domainevent.StageFields(string(stage), map[string]interface{}{"reason": "gate_skip"}))
		d.ctrl.save(ctx, d.rc)
		return true, nil
	case domaintemplate.GateApprove:
		if d.rc.Headless {
			return false, nil
		}
		approve := d.ctrl.Approve
		if approve != nil && !approve(stage) {
			_ = d.rc.Run.SkipStage(stage, d.ctrl.now())
			d.rc.Emit(ctx, domainevent.TypeStageSkipped, domainevent.StageFields(string(stage), map[string]interface{}{"reason": "gate_declined"}))
			d.ctrl.save(ctx, d.rc)
			return true, nil
		}
		return false, nil
	default:
		return false, nil
	}
}

// runGeneric dispatches one registered stage through the bounded retry
// policy.
func (d *driver) runGeneric(ctx context.Context, kind domainrun.StageKind) error {
	st, ok := d.registry.Get(kind)
	if !ok {
		// Unknown/unimplemented stage kinds found in a template are
		// tolerated (spec.md §6.2): treat as a no-op completion.
		_ = d.rc.Run.BeginStage(kind, d.ctrl.now())
		_ = d.rc.Run.CompleteStage(kind, d.ctrl.now())
		return nil
	}
	return d.ctrl.runStage(ctx, d.rc, st)
}

// runStage executes one registered stage through to completion, applying
// the classifier + retry-controller decision loop between attempts
// (spec.md §4.5).
func (c *Controller) runStage(ctx context.Context, rc *runctx.RunContext, st stages.Stage) error {
	kind := st.Kind()
	if err := rc.Run.BeginStage(kind, c.now()); err != nil {
		return err
	}
	rc.Emit(ctx, domainevent.TypeStageStarted, domainevent.StageFields(string(kind), nil))
	c.save(ctx, rc)

	prevClass := ""
	attempt := 0
	for {
		attempt++
		outcome, stageErr := st.Run(ctx, rc)
		if stageErr != nil && rc.Logger != nil {
			rc.Logger.Warn("stage returned an error", "stage", string(kind), "err", stageErr)
		}
		if ctx.Err() != nil {
			return c.handleInterrupt(ctx, rc)
		}

		if outcome.Success {
			if err := rc.Run.CompleteStage(kind, c.now()); err != nil {
				return err
			}
			rc.Emit(ctx, domainevent.TypeStageCompleted, domainevent.StageFields(string(kind), outcome.Fields))
			c.save(ctx, rc)
			return nil
		}

		class := outcome.FailureClass
		if class == "" && rc.Classifier != nil && outcome.LogPath != "" {
			if cl, _, cerr := rc.Classifier.Classify(ctx, string(kind), outcome.LogPath); cerr == nil {
				class = cl
			}
		}
		if class == "" {
			class = "unknown"
		}

		decision := ports.RetryDecision{Action: "retry", Class: class}
		if rc.Retry != nil && outcome.LogPath != "" {
			if d, derr := rc.Retry.Decide(ctx, string(kind), outcome.LogPath, attempt, prevClass); derr == nil {
				decision = d
			}
		} else if class == "configuration" {
			decision = ports.RetryDecision{Action: "escalate", Class: class, Reason: "configuration_error"}
		}
		rc.Emit(ctx, domainevent.TypeRetryClassified, map[string]interface{}{
			"stage": string(kind), "class": decision.Class, "action": decision.Action, "attempt": attempt,
		})

		switch decision.Action {
		case "retry":
			if err := rc.Run.RetryStage(kind, c.now()); err != nil {
				return err
			}
			c.save(ctx, rc)
			_ = retry.Sleep(ctx, decision.BackoffSeconds)
			if ctx.Err() != nil {
				return c.handleInterrupt(ctx, rc)
			}
			if err := rc.Run.BeginStage(kind, c.now()); err != nil {
				return err
			}
			c.save(ctx, rc)
			prevClass = decision.Class
			continue
		case "escalate":
			rc.Emit(ctx, domainevent.TypeRetryEscalated, map[string]interface{}{"stage": string(kind), "class": decision.Class})
			_ = rc.Run.FailStage(kind, c.now())
			rc.Emit(ctx, domainevent.TypeStageFailed, domainevent.StageFields(string(kind), map[string]interface{}{"class": decision.Class}))
			c.save(ctx, rc)
			return &stageFailure{Stage: kind, Class: decision.Class}
		default: // "skip" — the retry controller gave up without escalating
			rc.Emit(ctx, domainevent.TypeRetrySkipped, map[string]interface{}{"stage": string(kind), "class": decision.Class})
			_ = rc.Run.FailStage(kind, c.now())
			rc.Emit(ctx, domainevent.TypeStageFailed, domainevent.StageFields(string(kind), map[string]interface{}{"class": decision.Class}))
			c.save(ctx, rc)
			return &stageFailure{Stage: kind, Class: decision.Class}
		}
	}
}

func (c *Controller) save(ctx context.Context, rc *runctx.RunContext) {
	if c.StateStore == nil {
		return
	}
	_ = c.StateStore.Save(ctx, rc.Run)
}

// handleInterrupt persists the run as interrupted and, in CI mode, pushes
// whatever work is on the branch so a human can inspect it (spec.md §4.2,
// scenario E6).
func (c *Controller) handleInterrupt(ctx context.Context, rc *runctx.RunContext) error {
	now := c.now()
	rc.Run.Interrupt(now)
	// The triggering context is already cancelled; persist with a fresh
	// background context so the write itself isn't aborted.
	bg := context.Background()
	if c.StateStore != nil {
		_ = c.StateStore.Save(bg, rc.Run)
	}
	if rc.CIMode {
		c.pushPartialWork(bg, rc)
	}
	return errInterrupted
}

// pushPartialWork commits and pushes whatever is on the working branch to a
// recovery branch so an interrupted CI run isn't silently lost.
func (c *Controller) pushPartialWork(ctx context.Context, rc *runctx.RunContext) {
	if rc.WorkDir == "" {
		return
	}
	recoveryBranch := "shipwright/" + recoveryBranchSuffix(rc.Run.IssueRef, rc.Run.ID)
	_, _ = executil.Run(ctx, "git", []string{"add", "-A"}, executil.Options{Dir: rc.WorkDir})
	_, _ = executil.Run(ctx, "git", []string{"commit", "-m", "chore: interrupted pipeline checkpoint"}, executil.Options{Dir: rc.WorkDir})
	_, _ = executil.Run(ctx, "git", []string{"push", "origin", "HEAD:" + recoveryBranch}, executil.Options{Dir: rc.WorkDir})
}

func recoveryBranchSuffix(issueRef, runID string) string {
	if issueRef != "" {
		return "issue-" + issueRef
	}
	return "run-" + runID
}

// finalize emits pipeline.cost and pipeline.completed, resets the run to
// idle, persists it, and clears the state store (spec.md §4.12, testable
// property 5: "after pipeline.completed the state file's status is idle").
func (c *Controller) finalize(ctx context.Context, rc *runctx.RunContext, runErr error) error {
	result := "success"
	fields := map[string]interface{}{
		"self_heal_count": rc.Run.Counters.SelfHealCount,
		"backtrack_count": rc.Run.Counters.BacktrackCount,
	}

	var sf *stageFailure
	if errors.As(runErr, &sf) {
		result = "failure"
		fields["failed_stage"] = string(sf.Stage)
		fields["error_class"] = sf.Class
	} else if runErr != nil {
		result = "failure"
		fields["error"] = runErr.Error()
	}
	fields["result"] = result

	rc.Emit(ctx, domainevent.TypePipelineCost, map[string]interface{}{
		"input_tokens": rc.Run.Counters.InputTokens, "output_tokens": rc.Run.Counters.OutputTokens,
	})
	rc.Emit(ctx, domainevent.TypePipelineCompleted, fields)

	rc.Run.Reset(c.now())
	if c.StateStore != nil {
		_ = c.StateStore.Save(ctx, rc.Run)
		_ = c.StateStore.Clear(ctx)
	}
	if c.Baseline != nil && rc.Baseline != nil {
		_ = c.Baseline.Save(rc.Baseline)
	}

	return runErr
}
