package ports

import (
	"context"

	domainevent "github.com/shipwrightrun/shipwright/internal/domain/event"
)

// EventBus is the append-only spine of the learning loop (spec.md §4.1).
// Publish must never block the pipeline on I/O failure: implementations
// return an error for observability but the controller treats a publish
// failure as best-effort and continues.
type EventBus interface {
	Publish(ctx context.Context, evt domainevent.Event) error

	// Count returns the number of events of a given type for a run, used by
	// tests asserting the universal invariants in spec.md §8.
	Count(ctx context.Context, runID string, t domainevent.Type) (int, error)
}

// Logger is the structured logging contract threaded through every
// component, mirroring the correlation-id-enriched style of the teacher's
// logging port.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	With(fields ...interface{}) Logger
}
