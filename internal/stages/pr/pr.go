// Package pr implements the pr stage: auto-rebasing the working branch,
// building a structured PR body, and creating or updating the pull request
// (spec.md §4.10.7).
package pr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	domainevent "github.com/shipwrightrun/shipwright/internal/domain/event"
	domainrun "github.com/shipwrightrun/shipwright/internal/domain/run"
	"github.com/shipwrightrun/shipwright/internal/executil"
	"github.com/shipwrightrun/shipwright/internal/ports"
	"github.com/shipwrightrun/shipwright/internal/runctx"
)

// Stage implements stages.Stage for the pr step.
type Stage struct {
	// CLIReviewers and CLILabels carry `--reviewers`/`--labels` overrides
	// (spec.md §6.1), which take priority over forge-derived defaults.
	CLIReviewers []string
	CLILabels    []string
	Milestone    string
}

// New returns a pr Stage.
func New(cliReviewers, cliLabels []string, milestone string) *Stage {
	return &Stage{CLIReviewers: cliReviewers, CLILabels: cliLabels, Milestone: milestone}
}

// Kind identifies this stage to the registry.
func (s *Stage) Kind() domainrun.StageKind { return domainrun.StagePR }

// artifactBasenames are files this pipeline itself writes under the
// artifacts directory; a diff touching only these is not a real change
// (spec.md §4.10.7).
var artifactBasenames = map[string]bool{
	"intake.json": true, "plan.json": true, "plan.md": true, "tasks.md": true,
	"dod.md": true, "design.json": true, "design.md": true, "build.json": true,
	"build.log": true, "test.json": true, "test.log": true, "review.json": true,
}

// Run executes the pr stage against rc.
func (s *Stage) Run(ctx context.Context, rc *runctx.RunContext) (domainrun.StageOutcome, error) {
	changed := changedFiles(ctx, rc.WorkDir, rc.Run.BaseBranch)
	if OnlyArtifactChanges(changed) {
		rc.Emit(ctx, domainevent.TypePRRejected, map[string]interface{}{"reason": "no_real_changes"})
		return domainrun.StageOutcome{Success: false, FailureClass: "logic", Fields: map[string]interface{}{"reason": "no_real_changes"}}, fmt.Errorf("no real changes to open a pull request for")
	}

	commitUncommitted(ctx, rc.WorkDir)
	rebaseOntoBase(ctx, rc.WorkDir, rc.Run.BaseBranch)

	title := BuildTitle(rc.Run.Goal, readFile(filepath.Join(rc.ArtifactDir, "plan.md")))
	body := BuildBody(Summary{
		PlanSummary: firstLine(readFile(filepath.Join(rc.ArtifactDir, "plan.md"))),
		DiffStats:   fmt.Sprintf("%d files changed", len(changed)),
		IssueRef:    rc.Run.IssueRef,
		Model:       rc.Template.Defaults.Model,
		Agents:      rc.Template.Defaults.Agents,
	})

	if rc.Forge == nil {
		return domainrun.StageOutcome{Success: true, Fields: map[string]interface{}{"pr_url": ""}}, nil
	}

	reviewers := s.resolveReviewers(ctx, rc)
	labels := s.CLILabels

	existing, err := rc.Forge.ListOpenPRsForBranch(ctx, rc.Run.WorkingBranch)
	var url string
	if err == nil && len(existing) > 0 {
		if editErr := rc.Forge.EditPR(ctx, existing[0].Number, title, body); editErr == nil {
			url = existing[0].URL
			rc.Run.PRNumber = existing[0].Number
		}
	} else {
		createdURL, createErr := rc.Forge.CreatePR(ctx, title, body, rc.Run.BaseBranch, rc.Run.WorkingBranch, labels, reviewers, s.Milestone)
		if createErr != nil {
			return domainrun.StageOutcome{Success: false, FailureClass: "infrastructure"}, createErr
		}
		url = createdURL
		rc.Run.PRNumber = prNumberFromURL(url)
	}

	_ = os.WriteFile(filepath.Join(rc.ArtifactDir, "pr-url.txt"), []byte(url), 0o644)

	return domainrun.StageOutcome{Success: true, Fields: map[string]interface{}{"pr_url": url}}, nil
}

func (s *Stage) resolveReviewers(ctx context.Context, rc *runctx.RunContext) []string {
	if len(s.CLIReviewers) > 0 {
		return s.CLIReviewers
	}
	if owners, err := rc.Forge.Codeowners(ctx, ""); err == nil && len(owners) > 0 {
		return owners
	}
	if contributors, err := rc.Forge.Contributors(ctx, ""); err == nil {
		return TopContributors(contributors, 2, "")
	}
	return nil
}

func changedFiles(ctx context.Context, workDir, base string) []string {
	if base == "" {
		base = "main"
	}
	res, err := executil.Run(ctx, "git", []string{"diff", "--name-only", base + "...HEAD"}, executil.Options{Dir: workDir})
	if err != nil {
		return nil
	}
	var out []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// OnlyArtifactChanges reports whether every changed file is one of this
// pipeline's own artifact basenames (spec.md §4.10.7).
func OnlyArtifactChanges(files []string) bool {
	if len(files) == 0 {
		return true
	}
	for _, f := range files {
		if !artifactBasenames[filepath.Base(f)] {
			return false
		}
	}
	return true
}

func commitUncommitted(ctx context.Context, workDir string) {
	_, _ = executil.Run(ctx, "git", []string{"add", "-A"}, executil.Options{Dir: workDir})
	_, _ = executil.Run(ctx, "git", []string{"commit", "-m", "chore: pipeline artifacts"}, executil.Options{Dir: workDir})
}

// rebaseOntoBase tries a rebase onto origin/<base>, falls back to a merge,
// and on conflict aborts both, leaving the branch as it was. It does not
// push the branch.
func rebaseOntoBase(ctx context.Context, workDir, base string) {
	if base == "" {
		base = "main"
	}
	ref := "origin/" + base
	if _, err := executil.Run(ctx, "git", []string{"rebase", ref}, executil.Options{Dir: workDir}); err == nil {
		return
	}
	_, _ = executil.Run(ctx, "git", []string{"rebase", "--abort"}, executil.Options{Dir: workDir})

	if _, err := executil.Run(ctx, "git", []string{"merge", ref}, executil.Options{Dir: workDir}); err == nil {
		return
	}
	_, _ = executil.Run(ctx, "git", []string{"merge", "--abort"}, executil.Options{Dir: workDir})
}

// prNumberFromURL extracts the trailing pull-request number from a forge
// HTML URL (".../pull/123"), so the merge stage's gating has a PR number to
// act on even on a freshly created PR.
func prNumberFromURL(url string) int {
	idx := strings.LastIndexByte(url, '/')
	if idx < 0 {
		return 0
	}
	n := 0
	for _, r := range url[idx+1:] {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}

func readFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

func firstLine(text string) string {
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		return text[:idx]
	}
	return text
}

// BuildTitle prefers the goal; falls back to the plan's first line
// (spec.md §4.10.7).
func BuildTitle(goal, planText string) string {
	if goal != "" {
		return goal
	}
	return firstLine(planText)
}

// Summary carries the fields folded into the structured PR body.
type Summary struct {
	PlanSummary string
	DiffStats   string
	IssueRef    string
	Model       string
	Agents      int
}

// BuildBody renders the structured PR body: plan summary, diff stats, a
// Closes line when an issue is referenced, and a model/agent-count table.
// The body carries no run duration.
func BuildBody(sum Summary) string {
	var b strings.Builder
	if sum.PlanSummary != "" {
		b.WriteString("## Summary\n" + sum.PlanSummary + "\n\n")
	}
	b.WriteString("## Changes\n" + sum.DiffStats + "\n\n")
	if sum.IssueRef != "" {
		b.WriteString("Closes #" + sum.IssueRef + "\n\n")
	}
	b.WriteString("| model | agents |\n|---|---|\n|" + sum.Model + "|" + strconv.Itoa(sum.Agents) + "|\n")
	return b.String()
}

// TopContributors returns up to n contributor logins ordered by commit
// count, excluding excludeLogin (the pipeline's own identity).
func TopContributors(contributors []ports.Contributor, n int, excludeLogin string) []string {
	sorted := make([]ports.Contributor, len(contributors))
	copy(sorted, contributors)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1].Commits < sorted[j].Commits; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	var out []string
	for _, c := range sorted {
		if c.Login == excludeLogin {
			continue
		}
		out = append(out, c.Login)
		if len(out) >= n {
			break
		}
	}
	return out
}
