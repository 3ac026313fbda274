package stages

import (
	"fmt"
	"sync"

	domainrun "github.com/shipwrightrun/shipwright/internal/domain/run"
)

// Registry is an in-memory, concurrency-safe map of stage kind to
// implementation, grounded on the teacher's plugin Registry
// (internal/infrastructure/plugin).
type Registry struct {
	mu     sync.RWMutex
	stages map[domainrun.StageKind]Stage
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{stages: make(map[domainrun.StageKind]Stage)}
}

// Register adds a stage implementation, keyed by its own Kind().
func (r *Registry) Register(s Stage) error {
	if s == nil {
		return fmt.Errorf("stage is nil")
	}
	kind := s.Kind()
	if kind == "" {
		return fmt.Errorf("stage kind is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.stages[kind]; exists {
		return fmt.Errorf("stage %q already registered", kind)
	}
	r.stages[kind] = s
	return nil
}

// Get returns the stage implementation for kind, and whether one is
// registered. Unknown kinds found in a template are tolerated elsewhere
// (spec.md §6.2) — this just reports absence so the caller can decide.
func (r *Registry) Get(kind domainrun.StageKind) (Stage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stages[kind]
	return s, ok
}
