package template

import (
	"fmt"

	domainrun "github.com/shipwrightrun/shipwright/internal/domain/run"
)

// Gate controls whether a stage requires human approval before it runs.
type Gate string

const (
	GateAuto    Gate = "auto"
	GateApprove Gate = "approve"
	GateSkip    Gate = "skip"
)

// Defaults are inherited by any StageSpec that does not override them
// (spec.md §3.1).
type Defaults struct {
	Model    string `yaml:"model" json:"model"`
	Agents   int    `yaml:"agents" json:"agents"`
	TestCmd  string `yaml:"test_cmd" json:"test_cmd"`
	FastTest string `yaml:"fast_test_cmd" json:"fast_test_cmd"`
}

// StageSpec is one entry of a Pipeline Template's ordered stage list.
type StageSpec struct {
	ID      domainrun.StageKind    `yaml:"id" validate:"required"`
	Enabled bool                   `yaml:"enabled"`
	Gate    Gate                   `yaml:"gate" validate:"omitempty,oneof=auto approve skip"`
	Config  map[string]interface{} `yaml:"config"`
}

// ConfigString reads a string-valued config key, falling back when absent or
// of the wrong type.
func (s StageSpec) ConfigString(key, fallback string) string {
	if s.Config == nil {
		return fallback
	}
	if v, ok := s.Config[key]; ok {
		if str, ok := v.(string); ok {
			return str
		}
	}
	return fallback
}

// ConfigInt reads an int-valued config key, tolerating the float64 that a
// YAML/JSON decode into interface{} normally produces.
func (s StageSpec) ConfigInt(key string, fallback int) int {
	if s.Config == nil {
		return fallback
	}
	v, ok := s.Config[key]
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return fallback
	}
}

// ConfigBool reads a bool-valued config key.
func (s StageSpec) ConfigBool(key string, fallback bool) bool {
	if s.Config == nil {
		return fallback
	}
	if v, ok := s.Config[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return fallback
}

// Template is a Pipeline Template: an ordered stage list plus inherited
// defaults (spec.md §3.1, §6.2).
type Template struct {
	Name        string      `yaml:"name" validate:"required"`
	Description string      `yaml:"description"`
	Defaults    Defaults    `yaml:"defaults"`
	TDD         bool        `yaml:"tdd"`
	Stages      []StageSpec `yaml:"stages" validate:"required,dive"`
}

// EnabledStageOrder returns the stage kinds in template order, skipping
// disabled entries. Unknown stage kinds are kept — the controller is the one
// that decides whether it knows how to dispatch them (spec.md §6.2).
func (t *Template) EnabledStageOrder() []domainrun.StageKind {
	out := make([]domainrun.StageKind, 0, len(t.Stages))
	for _, s := range t.Stages {
		if s.Enabled {
			out = append(out, s.ID)
		}
	}
	return out
}

// StageByKind returns the first StageSpec matching the kind, if present.
func (t *Template) StageByKind(kind domainrun.StageKind) (StageSpec, bool) {
	for _, s := range t.Stages {
		if s.ID == kind {
			return s, true
		}
	}
	return StageSpec{}, false
}

// Validate enforces the structural invariants from spec.md §4.3: a stages
// array of objects with id and enabled, no duplicate stage ids.
func (t *Template) Validate() error {
	if t.Name == "" {
		return domainrun.NewValidationError("template name is required", nil)
	}
	if len(t.Stages) == 0 {
		return domainrun.NewValidationError("template must declare a non-empty stages array", map[string]interface{}{
			"template": t.Name,
		})
	}
	seen := make(map[domainrun.StageKind]bool, len(t.Stages))
	for i, s := range t.Stages {
		if s.ID == "" {
			return domainrun.NewValidationError(fmt.Sprintf("stage at index %d is missing an id", i), nil)
		}
		if seen[s.ID] {
			return domainrun.NewDomainError(domainrun.ErrCodeDuplicate, "duplicate stage id in template", nil, map[string]interface{}{
				"stage": s.ID, "template": t.Name,
			})
		}
		seen[s.ID] = true
		if s.Gate != "" && s.Gate != GateAuto && s.Gate != GateApprove && s.Gate != GateSkip {
			return domainrun.NewValidationError("invalid gate value", map[string]interface{}{
				"stage": s.ID, "gate": s.Gate,
			})
		}
	}
	return nil
}
