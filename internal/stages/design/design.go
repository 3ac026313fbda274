// Package design implements the design stage: an LLM-authored ADR enriched
// with memory matches and rejected-approaches context, optionally posted to
// the forge as an issue comment (spec.md §4.10.3).
package design

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	domainrun "github.com/shipwrightrun/shipwright/internal/domain/run"
	"github.com/shipwrightrun/shipwright/internal/runctx"
)

// Stage implements stages.Stage for the design step.
type Stage struct{}

// New returns a design Stage.
func New() *Stage { return &Stage{} }

// Kind identifies this stage to the registry.
func (s *Stage) Kind() domainrun.StageKind { return domainrun.StageDesign }

// Artifact is the persisted design.json decisions record.
type Artifact struct {
	ADRPath        string `json:"adr_path"`
	PostedToForge  bool   `json:"posted_to_forge"`
	RejectedCount  int    `json:"rejected_approaches_considered"`
}

// Run executes the design stage against rc.
func (s *Stage) Run(ctx context.Context, rc *runctx.RunContext) (domainrun.StageOutcome, error) {
	if rc.LLM == nil {
		return domainrun.StageOutcome{Success: false, FailureClass: "configuration"}, fmt.Errorf("design stage requires an LLM client")
	}

	rejected := rejectedApproaches(rc)
	prompt := BuildADRPrompt(rc.Run.Goal, rejected)

	adr, err := rc.LLM.Complete(ctx, prompt)
	if err != nil {
		return domainrun.StageOutcome{Success: false, FailureClass: "infrastructure"}, err
	}

	adrPath := filepath.Join(rc.ArtifactDir, "design.md")
	if err := os.WriteFile(adrPath, []byte(adr), 0o644); err != nil {
		return domainrun.StageOutcome{Success: false}, err
	}

	posted := false
	issueNum := issueNumberFromRef(rc.Run.IssueRef)
	if rc.Forge != nil && issueNum > 0 {
		if err := rc.Forge.CommentIssue(ctx, issueNum, adr); err == nil {
			posted = true
		}
	}

	art := Artifact{ADRPath: adrPath, PostedToForge: posted, RejectedCount: len(rejected)}
	artifactPath := filepath.Join(rc.ArtifactDir, "design.json")
	data, err := json.MarshalIndent(art, "", "  ")
	if err != nil {
		return domainrun.StageOutcome{Success: false}, err
	}
	if err := os.WriteFile(artifactPath, data, 0o644); err != nil {
		return domainrun.StageOutcome{Success: false}, err
	}

	return domainrun.StageOutcome{
		Success:      true,
		ArtifactPath: artifactPath,
		Fields:       map[string]interface{}{"posted_to_forge": posted},
	}, nil
}

// rejectedApproaches surfaces prior failed fixes from the baseline as
// "rejected approaches" discouragement context (spec.md §4.10.3).
func rejectedApproaches(rc *runctx.RunContext) []string {
	if rc.Baseline == nil {
		return nil
	}
	var out []string
	for sig, outcome := range rc.Baseline.FixOutcomes {
		if outcome.Failures > outcome.Successes {
			if fix, ok := rc.Baseline.KnownFixes[sig]; ok {
				out = append(out, fix)
			}
		}
	}
	return out
}

// BuildADRPrompt assembles the ADR prompt from spec.md §4.10.3: Context /
// Decision / Alternatives / Implementation Plan / Validation Criteria,
// enriched with a rejected-approaches block.
func BuildADRPrompt(goal string, rejected []string) string {
	var b strings.Builder
	b.WriteString("Produce an Architecture Decision Record for the following task.\n\n")
	b.WriteString("Goal: " + goal + "\n\n")
	b.WriteString("Respond with these sections: Context, Decision, Alternatives, Implementation Plan, Validation Criteria.\n")
	if len(rejected) > 0 {
		b.WriteString("\nRejected approaches (avoid repeating these):\n")
		for _, r := range rejected {
			b.WriteString("- " + r + "\n")
		}
	}
	return b.String()
}

func issueNumberFromRef(ref string) int {
	n := 0
	for _, r := range ref {
		if r < '0' || r > '9' {
			if n > 0 {
				break
			}
			continue
		}
		n = n*10 + int(r-'0')
	}
	return n
}
