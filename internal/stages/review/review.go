// Package review implements the review stage: diffing against the base
// branch, running an LLM reviewer with a severity-tagged prompt, and
// applying the review-blocking gate (spec.md §4.10.6).
package review

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	domainevent "github.com/shipwrightrun/shipwright/internal/domain/event"
	domainrun "github.com/shipwrightrun/shipwright/internal/domain/run"
	"github.com/shipwrightrun/shipwright/internal/executil"
	"github.com/shipwrightrun/shipwright/internal/runctx"
)

// Stage implements stages.Stage for the review step.
type Stage struct {
	// CompoundQualityEnabled, when true, disables the blocking gate because
	// the compound-quality loop will route these findings instead (spec.md
	// §4.10.6 exception (a)).
	CompoundQualityEnabled bool
}

// New returns a review Stage.
func New(compoundQualityEnabled bool) *Stage { return &Stage{CompoundQualityEnabled: compoundQualityEnabled} }

// Kind identifies this stage to the registry.
func (s *Stage) Kind() domainrun.StageKind { return domainrun.StageReview }

// Finding is one severity-tagged review comment.
type Finding struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// Artifact is the persisted review.json decisions record.
type Artifact struct {
	Findings []Finding `json:"findings"`
	Blocked  bool      `json:"blocked"`
}

// Run executes the review stage against rc.
func (s *Stage) Run(ctx context.Context, rc *runctx.RunContext) (domainrun.StageOutcome, error) {
	diff := computeDiff(ctx, rc.WorkDir, rc.Run.BaseBranch)

	var findings []Finding
	if rc.LLM != nil {
		resp, err := rc.LLM.Complete(ctx, BuildReviewPrompt(diff))
		if err == nil {
			findings = ParseFindings(resp)
		}
	}

	fastTemplate := isFastTemplate(rc.Template.Name)
	skipGates := false
	if spec, ok := rc.Template.StageByKind(domainrun.StageReview); ok {
		skipGates = spec.ConfigBool("skip_gates", false)
	}

	blocked := ShouldBlock(findings, s.CompoundQualityEnabled, fastTemplate, skipGates)

	artifactPath := filepath.Join(rc.ArtifactDir, "review.json")
	art := Artifact{Findings: findings, Blocked: blocked}
	data, err := json.MarshalIndent(art, "", "  ")
	if err != nil {
		return domainrun.StageOutcome{Success: false}, err
	}
	if err := os.WriteFile(artifactPath, data, 0o644); err != nil {
		return domainrun.StageOutcome{Success: false}, err
	}

	if blocked {
		rc.Emit(ctx, domainevent.TypeReviewBlocked, map[string]interface{}{"findings": len(findings)})
		return domainrun.StageOutcome{Success: false, ArtifactPath: artifactPath, FailureClass: "logic"}, nil
	}

	return domainrun.StageOutcome{Success: true, ArtifactPath: artifactPath, Fields: map[string]interface{}{"findings": len(findings)}}, nil
}

func computeDiff(ctx context.Context, workDir, base string) string {
	if base == "" {
		base = "main"
	}
	res, err := executil.Run(ctx, "git", []string{"diff", base + "...HEAD"}, executil.Options{Dir: workDir})
	if err != nil {
		return ""
	}
	return res.Stdout
}

// BuildReviewPrompt assembles the severity-tagged review prompt from
// spec.md §4.10.6.
func BuildReviewPrompt(diff string) string {
	return "Review the following diff. Tag each finding with one of " +
		"Critical/Bug/Security/Warning/Suggestion as \"[Severity] message\", one per line.\n\n" + diff
}

var findingLineRe = regexp.MustCompile(`(?i)^\s*\[(critical|bug|security|warning|suggestion)\]\s*(.+)$`)

// ParseFindings extracts severity-tagged lines from an LLM review response.
func ParseFindings(resp string) []Finding {
	var findings []Finding
	for _, line := range strings.Split(resp, "\n") {
		if m := findingLineRe.FindStringSubmatch(line); m != nil {
			findings = append(findings, Finding{Severity: titleCase(m[1]), Message: strings.TrimSpace(m[2])})
		}
	}
	return findings
}

// ShouldBlock implements the review-blocking gate from spec.md §4.10.6:
// critical+security findings block unless compound quality will handle
// them, the template is fast/hotfix, or gates are globally skipped.
func ShouldBlock(findings []Finding, compoundQualityEnabled, fastTemplate, gatesSkipped bool) bool {
	if compoundQualityEnabled || fastTemplate || gatesSkipped {
		return false
	}
	for _, f := range findings {
		if f.Severity == "Critical" || f.Severity == "Security" {
			return true
		}
	}
	return false
}

func titleCase(s string) string {
	s = strings.ToLower(s)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func isFastTemplate(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "hotfix") || strings.Contains(lower, "fast")
}
