package ports

import (
	"context"

	domainrun "github.com/shipwrightrun/shipwright/internal/domain/run"
)

// StateStore persists the Pipeline Run record with crash- and
// interrupt-safety (spec.md §4.2). Writes must be atomic (write-temp +
// rename); reads must tolerate missing fields by filling defaults.
//
// Error mapping:
//   - no run present → Load returns a nil run and a nil error
//   - a run already running/paused/interrupted at Save-if-absent → ErrCodeState
//   - I/O failures → ErrCodeInfra
type StateStore interface {
	// Load reads the current run record, if any.
	Load(ctx context.Context) (*domainrun.Run, error)

	// Save atomically persists the run record. Called after every status
	// transition (spec.md §3.2).
	Save(ctx context.Context, r *domainrun.Run) error

	// StartIfAbsent refuses to create a new run while one is already
	// running|paused|interrupted, implementing the first-wins check in
	// spec.md §5 ("Shared-resource policy").
	StartIfAbsent(ctx context.Context, r *domainrun.Run) error

	// Clear resets the store to empty, used after `pipeline.completed`
	// cleanup (spec.md §4.12).
	Clear(ctx context.Context) error
}
