// Package plan implements the plan stage: an LLM-authored implementation
// plan with a bounded validation gate before its checklist and DoD file are
// extracted (spec.md §4.10.2). Grounded on the design/review stages' shared
// LLM-prompt shape; the validator-retry loop follows the teacher's bounded
// retry pattern (internal/infrastructure/retry) generalized to a 2-attempt
// ceiling against a single classification, not a generic error class.
package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	domainevent "github.com/shipwrightrun/shipwright/internal/domain/event"
	domainrun "github.com/shipwrightrun/shipwright/internal/domain/run"
	"github.com/shipwrightrun/shipwright/internal/runctx"
)

// Stage implements stages.Stage for the plan step.
type Stage struct{}

// New returns a plan Stage.
func New() *Stage { return &Stage{} }

// Kind identifies this stage to the registry.
func (s *Stage) Kind() domainrun.StageKind { return domainrun.StagePlan }

const maxValidationAttempts = 2

// Artifact is the persisted plan.json decisions record.
type Artifact struct {
	Validated     bool   `json:"validated"`
	Attempts      int    `json:"attempts"`
	FailureMode   string `json:"failure_mode,omitempty"`
	Escalated     bool   `json:"escalated"`
	ChecklistSize int    `json:"checklist_size"`
	PlanPath      string `json:"plan_path"`
	TasksPath     string `json:"tasks_path"`
	DoDPath       string `json:"dod_path"`
}

// Run executes the plan stage against rc.
func (s *Stage) Run(ctx context.Context, rc *runctx.RunContext) (domainrun.StageOutcome, error) {
	if rc.LLM == nil {
		return domainrun.StageOutcome{Success: false, FailureClass: "configuration"}, fmt.Errorf("plan stage requires an LLM client")
	}

	var (
		planText    string
		lastMode    string
		valid       bool
		failureMode string
	)

	corrective := ""
	for attempt := 1; attempt <= maxValidationAttempts; attempt++ {
		prompt := BuildPlanPrompt(rc.Run.Goal, rc.Template.Name, corrective)
		text, err := rc.LLM.Complete(ctx, prompt)
		if err != nil {
			return domainrun.StageOutcome{Success: false, FailureClass: "infrastructure"}, err
		}
		planText = text

		validationResp, err := rc.LLM.Complete(ctx, BuildValidationPrompt(planText))
		if err != nil {
			return domainrun.StageOutcome{Success: false, FailureClass: "infrastructure"}, err
		}
		if ParseValidation(validationResp) {
			valid = true
			break
		}

		failureMode = ClassifyFailureMode(validationResp)
		if attempt == maxValidationAttempts && failureMode == lastMode {
			art := Artifact{Validated: false, Attempts: attempt, FailureMode: failureMode, Escalated: true}
			_, _ = s.writeArtifact(rc, art, planText, nil)
			return domainrun.StageOutcome{Success: false, FailureClass: "logic", Fields: map[string]interface{}{
				"escalated": true, "failure_mode": failureMode,
			}}, fmt.Errorf("plan validation escalated: repeated failure mode %q", failureMode)
		}
		lastMode = failureMode
		corrective = CorrectiveInstruction(failureMode)
	}

	if !valid {
		art := Artifact{Validated: false, Attempts: maxValidationAttempts, FailureMode: failureMode}
		_, _ = s.writeArtifact(rc, art, planText, nil)
		return domainrun.StageOutcome{Success: false, FailureClass: "logic"}, fmt.Errorf("plan failed validation: %s", failureMode)
	}

	checklist := ExtractChecklist(planText)
	art := Artifact{Validated: true, Attempts: maxValidationAttempts, ChecklistSize: len(checklist)}
	artifactPath, err := s.writeArtifact(rc, art, planText, checklist)
	if err != nil {
		return domainrun.StageOutcome{Success: false}, err
	}

	rc.Emit(ctx, domainevent.TypePlanValidated, domainevent.StageFields(string(domainrun.StagePlan), map[string]interface{}{
		"checklist_size": len(checklist),
	}))

	return domainrun.StageOutcome{
		Success:      true,
		ArtifactPath: artifactPath,
		Fields:       map[string]interface{}{"checklist_size": len(checklist)},
	}, nil
}

func (s *Stage) writeArtifact(rc *runctx.RunContext, art Artifact, planText string, checklist []string) (string, error) {
	planPath := filepath.Join(rc.ArtifactDir, "plan.md")
	if err := os.WriteFile(planPath, []byte(planText), 0o644); err != nil {
		return "", err
	}
	art.PlanPath = planPath

	if checklist != nil {
		tasksPath := filepath.Join(rc.ArtifactDir, "tasks.md")
		if err := os.WriteFile(tasksPath, []byte(BuildTasksFile(checklist)), 0o644); err != nil {
			return "", err
		}
		art.TasksPath = tasksPath

		dodPath := filepath.Join(rc.ArtifactDir, "dod.md")
		if err := os.WriteFile(dodPath, []byte(BuildDoDFile(checklist)), 0o644); err != nil {
			return "", err
		}
		art.DoDPath = dodPath
	}

	artifactPath := filepath.Join(rc.ArtifactDir, "plan.json")
	data, err := json.MarshalIndent(art, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(artifactPath, data, 0o644); err != nil {
		return "", err
	}
	return artifactPath, nil
}

// BuildPlanPrompt assembles the structured planning prompt from spec.md
// §4.10.2. corrective, when non-empty, is appended as a regeneration
// instruction after a prior validation rejection.
func BuildPlanPrompt(goal, templateName, corrective string) string {
	var b strings.Builder
	b.WriteString("Produce an implementation plan for the following task.\n\n")
	b.WriteString("Goal: " + goal + "\n")
	b.WriteString("Template: " + templateName + "\n\n")
	b.WriteString("Respond with these sections: Files to Modify, Implementation Steps, ")
	b.WriteString("Task Checklist (5-15 items as \"- [ ] ...\"), Testing Approach, Definition of Done.\n")
	if corrective != "" {
		b.WriteString("\n" + corrective + "\n")
	}
	return b.String()
}

// BuildValidationPrompt asks the LLM validator to judge a generated plan.
func BuildValidationPrompt(planText string) string {
	return "Validate the following implementation plan for completeness and scope. " +
		"Respond with \"VALID: true\" or \"VALID: false\" followed by a one-line reason.\n\n" + planText
}

var validTrueRe = regexp.MustCompile(`(?i)VALID:\s*true`)

// ParseValidation reports whether a validator response answered VALID: true.
func ParseValidation(resp string) bool {
	return validTrueRe.MatchString(resp)
}

// failureModeHints maps a failure mode to substrings its validator rejection
// reason is expected to contain.
var failureModeHints = map[string][]string{
	"requirements_unclear":  {"unclear", "ambiguous", "clarify"},
	"insufficient_detail":   {"insufficient", "vague", "lacks detail", "too little detail"},
	"scope_too_large":       {"too large", "too broad", "scope"},
}

// ClassifyFailureMode inspects a validator rejection response and returns
// one of requirements_unclear | insufficient_detail | scope_too_large |
// unknown (spec.md §4.10.2).
func ClassifyFailureMode(validationResp string) string {
	lower := strings.ToLower(validationResp)
	for _, mode := range []string{"requirements_unclear", "insufficient_detail", "scope_too_large"} {
		for _, hint := range failureModeHints[mode] {
			if strings.Contains(lower, hint) {
				return mode
			}
		}
	}
	return "unknown"
}

// CorrectiveInstruction returns a mode-specific regeneration instruction fed
// back into the next BuildPlanPrompt call.
func CorrectiveInstruction(mode string) string {
	switch mode {
	case "requirements_unclear":
		return "The previous plan was rejected as unclear about requirements. State explicit assumptions for any ambiguous requirement."
	case "insufficient_detail":
		return "The previous plan was rejected for insufficient detail. Expand each implementation step with concrete file-level actions."
	case "scope_too_large":
		return "The previous plan was rejected as too large in scope. Narrow it to the minimum change that satisfies the goal."
	default:
		return "The previous plan was rejected. Revise it to be clearer, more detailed, and appropriately scoped."
	}
}

var checklistSectionRe = regexp.MustCompile(`(?is)##\s*Task Checklist\s*\n(.*?)(\n##|\z)`)
var checklistItemRe = regexp.MustCompile(`(?m)^\s*-\s*\[[ xX]?\]\s*(.+)$`)

// ExtractChecklist pulls the "Task Checklist" section's "- [ ] ..." items out
// of a generated plan (spec.md §4.10.2).
func ExtractChecklist(planText string) []string {
	section := planText
	if m := checklistSectionRe.FindStringSubmatch(planText); m != nil {
		section = m[1]
	}
	matches := checklistItemRe.FindAllStringSubmatch(section, -1)
	items := make([]string, 0, len(matches))
	for _, m := range matches {
		items = append(items, strings.TrimSpace(m[1]))
	}
	return items
}

// BuildTasksFile renders the extracted checklist as a standalone tasks file.
func BuildTasksFile(checklist []string) string {
	var b strings.Builder
	b.WriteString("# Tasks\n\n")
	for _, item := range checklist {
		b.WriteString("- [ ] " + item + "\n")
	}
	return b.String()
}

// BuildDoDFile renders the extracted checklist as the Definition-of-Done
// audit file consumed by DoD verification (spec.md §4.10.12).
func BuildDoDFile(checklist []string) string {
	var b strings.Builder
	b.WriteString("# Definition of Done\n\n")
	for _, item := range checklist {
		b.WriteString("- [ ] " + item + "\n")
	}
	return b.String()
}
