// Package stages holds the concrete implementations dispatched by
// run_stage_with_retry (spec.md §4.10), plus the registry that maps a
// StageKind to its implementation. Generalized from the teacher's
// internal/infrastructure/plugin.Registry, keyed by stage kind instead of
// plugin type.
package stages

import (
	"context"

	domainrun "github.com/shipwrightrun/shipwright/internal/domain/run"
	"github.com/shipwrightrun/shipwright/internal/runctx"
)

// Stage is the contract every stage implementation satisfies. Run performs
// one execution attempt and returns its outcome; retries, skip decisions,
// and gating all live in the controller, not here.
type Stage interface {
	Kind() domainrun.StageKind
	Run(ctx context.Context, rc *runctx.RunContext) (domainrun.StageOutcome, error)
}
