// Package runctx carries the wiring every stage and engine component needs
// through a single value, generalized from the teacher's
// internal/application service-struct pattern (each service held its own
// bag of adapter interfaces; here they're collected once and threaded
// through instead of re-injected per component).
package runctx

import (
	"context"

	"github.com/shipwrightrun/shipwright/internal/domain/baseline"
	domainevent "github.com/shipwrightrun/shipwright/internal/domain/event"
	domainrun "github.com/shipwrightrun/shipwright/internal/domain/run"
	domaintemplate "github.com/shipwrightrun/shipwright/internal/domain/template"
	"github.com/shipwrightrun/shipwright/internal/ports"
)

// RunContext is the shared, per-run handle passed to every stage and engine
// loop. It is not safe for concurrent mutation of Run from multiple
// goroutines; the controller is Run's sole owner (spec.md §3.6).
type RunContext struct {
	Run      *domainrun.Run
	Template *domaintemplate.Template
	Baseline *baseline.Record

	StateStore ports.StateStore
	Events     ports.EventBus
	Logger     ports.Logger
	Forge      ports.Forge
	Classifier ports.Classifier
	Retry      ports.RetryController
	LLM        ports.LLMClient
	Agent      ports.CodingAgentRunner
	Metrics    ports.MetricsCollector

	// ArtifactDir is where each stage writes its result file (spec.md
	// §4.10: "writes a result file under the artifacts directory").
	ArtifactDir string
	// WorkDir is the repository working directory, possibly an isolated
	// worktree (spec.md §4.12).
	WorkDir string
	// Headless disables interactive approval gates (spec.md §4.12 step 4);
	// auto-enabled when stdin is not a TTY.
	Headless bool
	// CIMode toggles the build stage's audit/quality-gate and
	// skip-permissions flags (spec.md §4.10.4).
	CIMode bool

	// cancel is the cancellation handle for the whole run, invoked on
	// SIGINT/SIGTERM by the CLI entrypoint so every blocking stage call can
	// observe ctx.Done().
	cancel context.CancelFunc
}

// New constructs a RunContext. cancel may be nil outside the CLI entrypoint
// (e.g. in tests).
func New(run *domainrun.Run, tmpl *domaintemplate.Template, cancel context.CancelFunc) *RunContext {
	return &RunContext{Run: run, Template: tmpl, cancel: cancel}
}

// Cancel requests cancellation of the run's context, if a cancel handle was
// supplied.
func (rc *RunContext) Cancel() {
	if rc.cancel != nil {
		rc.cancel()
	}
}

// Emit publishes an event for this run, tolerating a nil event bus and
// swallowing publish errors (spec.md §4.1: "Publish must never block the
// pipeline on I/O failure").
func (rc *RunContext) Emit(ctx context.Context, t domainevent.Type, fields map[string]interface{}) {
	if rc.Events == nil {
		return
	}
	_ = rc.Events.Publish(ctx, domainevent.New(rc.Run.ID, t, fields))
}
