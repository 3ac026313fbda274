// Package build implements the build stage: delegating to the external
// coding-agent subprocess with an enriched goal, then scoring the result
// (spec.md §4.10.4). Stage also implements selfheal.BuildRunner so the
// self-healing loop (internal/engine/selfheal) can drive repeat attempts
// without re-deriving the enriched goal each cycle.
package build

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	domainevent "github.com/shipwrightrun/shipwright/internal/domain/event"
	domainrun "github.com/shipwrightrun/shipwright/internal/domain/run"
	"github.com/shipwrightrun/shipwright/internal/engine/selfheal"
	"github.com/shipwrightrun/shipwright/internal/ports"
	"github.com/shipwrightrun/shipwright/internal/runctx"
)

// Stage implements stages.Stage and selfheal.BuildRunner for the build step.
type Stage struct {
	rc *runctx.RunContext
}

// New returns a build Stage bound to rc, usable directly as a
// selfheal.BuildRunner.
func New(rc *runctx.RunContext) *Stage { return &Stage{rc: rc} }

// Kind identifies this stage to the registry.
func (s *Stage) Kind() domainrun.StageKind { return domainrun.StageBuild }

// Artifact is the persisted build.json decisions record.
type Artifact struct {
	CommitsAdded     int     `json:"commits_added"`
	TestsPassing     bool    `json:"tests_passing"`
	InputTokens      int64   `json:"input_tokens"`
	OutputTokens     int64   `json:"output_tokens"`
	ContextExhausted bool    `json:"context_exhausted"`
	CommitQuality    float64 `json:"commit_quality,omitempty"`
}

// Run executes a single, non-self-healing build attempt (used when the
// build/test self-healing pair is disabled by configuration).
func (s *Stage) Run(ctx context.Context, rc *runctx.RunContext) (domainrun.StageOutcome, error) {
	s.rc = rc
	result, err := s.Build(ctx, rc.Run.Goal, "")
	if err != nil {
		return domainrun.StageOutcome{Success: false, LogPath: result.LogPath, FailureClass: "infrastructure"}, err
	}
	return domainrun.StageOutcome{Success: result.Success, LogPath: result.LogPath}, nil
}

// Build implements selfheal.BuildRunner: it constructs the enriched goal,
// invokes the coding agent, and scores the outcome.
func (s *Stage) Build(ctx context.Context, goal string, annotation string) (selfheal.BuildResult, error) {
	rc := s.rc
	if rc.Agent == nil {
		return selfheal.BuildResult{}, fmt.Errorf("build stage requires a coding agent runner")
	}

	enriched := EnrichGoal(goal, annotation, readArtifact(rc.ArtifactDir, "plan.md"), readArtifact(rc.ArtifactDir, "design.md"),
		readArtifact(rc.ArtifactDir, "tasks.md"), historicalLessons(rc), coverageInstruction(rc))

	req := ports.CodingAgent{
		Goal:                 enriched,
		TestCmd:              rc.Template.Defaults.TestCmd,
		FastTestCmd:          rc.Template.Defaults.FastTest,
		MaxIterations:        maxIterations(rc),
		Model:                rc.Template.Defaults.Model,
		Agents:               agentCount(rc),
		DefinitionOfDoneFile: filepath.Join(rc.ArtifactDir, "dod.md"),
		QualityGates:         rc.CIMode,
		SkipPermissions:      rc.CIMode,
	}

	result, runErr := rc.Agent.Run(ctx, rc.WorkDir, req)

	rc.Run.Counters.InputTokens += result.InputTokens
	rc.Run.Counters.OutputTokens += result.OutputTokens

	logPath := filepath.Join(rc.ArtifactDir, "build.log")
	_ = os.WriteFile(logPath, []byte(fmt.Sprintf("exit_code=%d tests_passing=%v commits=%d", result.ExitCode, result.TestsPassing, result.CommitsAdded)), 0o644)

	if !result.TestsPassing && runErr == nil {
		rc.Emit(ctx, domainevent.TypePipelineContextExhaustion, map[string]interface{}{"stage": string(domainrun.StageBuild)})
	}

	if runErr == nil && result.TestsPassing && result.CommitsAdded > 0 && rc.LLM != nil {
		if score, err := scoreCommitQuality(ctx, rc, result.CommitsAdded); err == nil {
			rc.Emit(ctx, domainevent.TypeBuildCommitQuality, map[string]interface{}{"score": score})
		}
	}

	art := Artifact{
		CommitsAdded: result.CommitsAdded, TestsPassing: result.TestsPassing,
		InputTokens: result.InputTokens, OutputTokens: result.OutputTokens,
		ContextExhausted: !result.TestsPassing,
	}
	_ = writeArtifact(rc.ArtifactDir, art)

	return selfheal.BuildResult{Success: runErr == nil && result.TestsPassing, LogPath: logPath}, runErr
}

func writeArtifact(artifactDir string, art Artifact) error {
	data, err := json.MarshalIndent(art, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(artifactDir, "build.json"), data, 0o644)
}

func readArtifact(artifactDir, name string) string {
	data, err := os.ReadFile(filepath.Join(artifactDir, name))
	if err != nil {
		return ""
	}
	return string(data)
}

func historicalLessons(rc *runctx.RunContext) string {
	if rc.Baseline == nil {
		return ""
	}
	var lessons []string
	for sig, fix := range rc.Baseline.KnownFixes {
		if outcome, ok := rc.Baseline.FixOutcomes[sig]; ok && outcome.Successes >= outcome.Failures {
			lessons = append(lessons, fix)
		}
	}
	return strings.Join(lessons, "\n")
}

func coverageInstruction(rc *runctx.RunContext) string {
	if rc.Baseline == nil || rc.Baseline.CoverageBaseline == 0 {
		return ""
	}
	return fmt.Sprintf("Keep test coverage at or above the repository baseline of %.1f%%.", rc.Baseline.CoverageBaseline)
}

// EnrichGoal composes the build goal from spec.md §4.10.4: the raw goal plus
// a compact plan summary, design key decisions, historical lessons, the task
// checklist, and a coverage baseline instruction.
func EnrichGoal(goal, annotation, planSummary, designSummary, checklist, lessons, coverageInstr string) string {
	var b strings.Builder
	if annotation != "" {
		b.WriteString("Known fix hint: " + annotation + "\n\n")
	}
	b.WriteString(goal + "\n")
	if planSummary != "" {
		b.WriteString("\n## Plan summary\n" + firstLines(planSummary, 10) + "\n")
	}
	if designSummary != "" {
		b.WriteString("\n## Design key decisions\n" + firstLines(designSummary, 10) + "\n")
	}
	if checklist != "" {
		b.WriteString("\n## Task checklist\n" + checklist + "\n")
	}
	if lessons != "" {
		b.WriteString("\n## Historical lessons\n" + lessons + "\n")
	}
	if coverageInstr != "" {
		b.WriteString("\n" + coverageInstr + "\n")
	}
	return b.String()
}

func firstLines(text string, n int) string {
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}

// maxIterations resolves CLI override > template > default (spec.md §4.10.4).
func maxIterations(rc *runctx.RunContext) int {
	if spec, ok := rc.Template.StageByKind(domainrun.StageBuild); ok {
		if n := spec.ConfigInt("max_iterations", 0); n > 0 {
			return n
		}
	}
	return 10
}

// agentCount bumps the configured agent count to at least 2 when the design
// document indicates independent modules (spec.md §4.10.4).
func agentCount(rc *runctx.RunContext) int {
	count := rc.Template.Defaults.Agents
	if count < 1 {
		count = 1
	}
	design := readArtifact(rc.ArtifactDir, "design.md")
	if strings.Contains(strings.ToLower(design), "independent module") && count < 2 {
		count = 2
	}
	return count
}

func scoreCommitQuality(ctx context.Context, rc *runctx.RunContext, commits int) (int, error) {
	prompt := fmt.Sprintf("Score the quality of the last %d commit messages on this branch from 0-100. Respond with \"score: N\".", commits)
	resp, err := rc.LLM.Complete(ctx, prompt)
	if err != nil {
		return 0, err
	}
	return parseScore(resp), nil
}

func parseScore(resp string) int {
	idx := strings.Index(strings.ToLower(resp), "score:")
	if idx < 0 {
		return 0
	}
	rest := strings.TrimSpace(resp[idx+len("score:"):])
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(rest[:end])
	if err != nil {
		return 0
	}
	return n
}

var _ selfheal.BuildRunner = (*Stage)(nil)
