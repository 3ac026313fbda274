// Package intake implements the first pipeline stage: resolving the goal
// from an issue reference (when present), classifying the task, detecting
// project conventions, and creating the working branch (spec.md §4.10.1).
// Grounded on the teacher's repo plugin (internal/plugins/repo) for the
// go-git branch-creation shape and on internalexec for the shell-outs used
// to survey the repository.
package intake

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	domainevent "github.com/shipwrightrun/shipwright/internal/domain/event"
	domainrun "github.com/shipwrightrun/shipwright/internal/domain/run"
	"github.com/shipwrightrun/shipwright/internal/executil"
	"github.com/shipwrightrun/shipwright/internal/runctx"
)

// Stage implements stages.Stage for the intake step.
type Stage struct{}

// New returns an intake Stage.
func New() *Stage { return &Stage{} }

// Kind identifies this stage to the registry.
func (s *Stage) Kind() domainrun.StageKind { return domainrun.StageIntake }

// Artifact is the persisted intake.json decisions record (spec.md §4.10.1).
type Artifact struct {
	Goal          string   `json:"goal"`
	IssueNumber   int      `json:"issue_number,omitempty"`
	Labels        []string `json:"labels,omitempty"`
	TaskType      string   `json:"task_type"`
	TaskTypeViaLLM bool    `json:"task_type_via_llm"`
	Language      string   `json:"language"`
	TestCmd       string   `json:"test_cmd"`
	WorkingBranch string   `json:"working_branch"`
}

// Run executes the intake stage against rc.
func (s *Stage) Run(ctx context.Context, rc *runctx.RunContext) (domainrun.StageOutcome, error) {
	goal := rc.Run.Goal
	var art Artifact
	art.IssueNumber = issueNumber(rc.Run.IssueRef)

	if art.IssueNumber > 0 && rc.Forge != nil {
		meta, err := rc.Forge.GetIssueMeta(ctx, art.IssueNumber)
		if err == nil {
			goal = meta.Title
			art.Labels = meta.Labels
		}
	}
	art.Goal = goal

	taskType, viaLLM := classifyTaskType(ctx, rc, goal)
	art.TaskType = taskType
	art.TaskTypeViaLLM = viaLLM

	language := detectLanguage(rc.WorkDir)
	art.Language = language

	testCmd := detectTestCommand(language, rc.WorkDir)
	art.TestCmd = testCmd

	prefix := BranchPrefix(taskType)
	if adopted, ok := adoptedPrefix(ctx, rc.WorkDir); ok {
		prefix = adopted
	}
	branch := prefix + "/" + Slugify(goal)
	if art.IssueNumber > 0 {
		branch += "-" + strconv.Itoa(art.IssueNumber)
	}
	art.WorkingBranch = branch

	if err := createBranch(rc.WorkDir, branch); err == nil {
		rc.Run.WorkingBranch = branch
	}

	if art.IssueNumber > 0 && rc.Forge != nil {
		_ = rc.Forge.AssignSelf(ctx, art.IssueNumber)
		_ = rc.Forge.AddLabels(ctx, art.IssueNumber, []string{"in-progress"})
		commentID, err := rc.Forge.PostProgressComment(ctx, art.IssueNumber, progressComment(taskType, branch))
		if err == nil {
			rc.Run.ProgressCommentID = commentID
		}
	}

	artifactPath := filepath.Join(rc.ArtifactDir, "intake.json")
	if err := writeJSON(artifactPath, art); err != nil {
		return domainrun.StageOutcome{Success: false}, err
	}

	rc.Emit(ctx, domainevent.TypeStageCompleted, domainevent.StageFields(string(domainrun.StageIntake), map[string]interface{}{
		"task_type": taskType, "language": language, "branch": branch,
	}))

	return domainrun.StageOutcome{
		Success:      true,
		ArtifactPath: artifactPath,
		Fields:       map[string]interface{}{"task_type": taskType, "language": language, "branch": branch},
	}, nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

var issueRefRe = regexp.MustCompile(`(\d+)`)

// issueNumber extracts the numeric issue id from a reference like "123" or
// "#123" or "owner/repo#123". Returns 0 when ref names no issue.
func issueNumber(ref string) int {
	if ref == "" {
		return 0
	}
	m := issueRefRe.FindString(ref)
	if m == "" {
		return 0
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0
	}
	return n
}

// taskTypes is the closed vocabulary from spec.md §4.10.1.
var taskTypes = []string{"bug", "refactor", "testing", "security", "docs", "devops", "migration", "architecture", "feature"}

var keywordHints = map[string][]string{
	"bug":          {"fix", "bug", "crash", "broken", "error"},
	"refactor":     {"refactor", "cleanup", "simplify", "restructure"},
	"testing":      {"test", "coverage", "spec"},
	"security":     {"security", "vuln", "cve", "exploit", "auth bypass"},
	"docs":         {"docs", "documentation", "readme", "changelog"},
	"devops":       {"ci", "pipeline", "deploy", "infra", "docker"},
	"migration":    {"migrate", "migration", "upgrade", "deprecat"},
	"architecture": {"architecture", "redesign", "rearchitect"},
	"feature":      {"add", "implement", "support", "feature"},
}

// ClassifyTaskTypeHeuristic applies the lowercased-keyword fallback from
// spec.md §4.10.1, defaulting to "feature" when nothing matches.
func ClassifyTaskTypeHeuristic(goal string) string {
	lower := strings.ToLower(goal)
	for _, t := range taskTypes {
		for _, kw := range keywordHints[t] {
			if strings.Contains(lower, kw) {
				return t
			}
		}
	}
	return "feature"
}

var llmClassificationRe = regexp.MustCompile(`(?i)type:\s*(\w+).*confidence:\s*(\d+)`)

// ParseLLMClassification extracts a "type: X ... confidence: N" pair from an
// LLM response. ok is false when the response doesn't match the expected
// shape or names a type outside the closed vocabulary.
func ParseLLMClassification(resp string) (taskType string, confidence int, ok bool) {
	m := llmClassificationRe.FindStringSubmatch(resp)
	if m == nil {
		return "", 0, false
	}
	t := strings.ToLower(m[1])
	valid := false
	for _, known := range taskTypes {
		if known == t {
			valid = true
			break
		}
	}
	if !valid {
		return "", 0, false
	}
	conf, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, false
	}
	return t, conf, true
}

// classifyTaskType prefers an LLM one-shot with confidence >= 70, falling
// back to the keyword heuristic (spec.md §4.10.1).
func classifyTaskType(ctx context.Context, rc *runctx.RunContext, goal string) (string, bool) {
	if rc.LLM != nil {
		prompt := "Classify the following engineering task into one of bug|refactor|testing|security|docs|devops|migration|architecture|feature. " +
			"Respond as \"type: <kind> confidence: <0-100>\".\n\nTask: " + goal
		resp, err := rc.LLM.Complete(ctx, prompt)
		if err == nil {
			if t, conf, ok := ParseLLMClassification(resp); ok && conf >= 70 {
				return t, true
			}
		}
	}
	return ClassifyTaskTypeHeuristic(goal), false
}

// projectMarkers maps a conventional manifest file to the language it
// signals (spec.md §4.10.1).
var projectMarkers = []struct {
	file     string
	language string
}{
	{"go.mod", "go"},
	{"package.json", "node"},
	{"Cargo.toml", "rust"},
	{"pyproject.toml", "python"},
	{"Gemfile", "ruby"},
	{"pom.xml", "java"},
	{"build.gradle", "java"},
}

// DetectLanguageFromFiles is the pure decision function behind detectLanguage:
// given which marker files are present, pick a language deterministically,
// preferring the first match in projectMarkers order. Returns "" when no
// marker is present (ambiguous).
func DetectLanguageFromFiles(present map[string]bool) string {
	for _, marker := range projectMarkers {
		if present[marker.file] {
			return marker.language
		}
	}
	return ""
}

func detectLanguage(workDir string) string {
	present := make(map[string]bool, len(projectMarkers))
	for _, marker := range projectMarkers {
		if _, err := os.Stat(filepath.Join(workDir, marker.file)); err == nil {
			present[marker.file] = true
		}
	}
	return DetectLanguageFromFiles(present)
}

// DetectTestCommandFromLanguage maps a detected language (and the presence
// of a Makefile) to the conventional test invocation (spec.md §4.10.1).
func DetectTestCommandFromLanguage(language string, hasMakefile bool) string {
	if hasMakefile {
		return "make test"
	}
	switch language {
	case "go":
		return "go test ./..."
	case "rust":
		return "cargo test"
	case "python":
		return "pytest"
	case "node":
		return "npm test"
	case "ruby":
		return "bundle exec rspec"
	case "java":
		return "mvn test"
	default:
		return ""
	}
}

func detectTestCommand(language, workDir string) string {
	_, err := os.Stat(filepath.Join(workDir, "Makefile"))
	return DetectTestCommandFromLanguage(language, err == nil)
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases s, replaces runs of non-alphanumerics with a single
// hyphen, and trims leading/trailing hyphens, truncating to 50 runes.
func Slugify(s string) string {
	slug := nonAlnum.ReplaceAllString(strings.ToLower(s), "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > 50 {
		slug = strings.Trim(slug[:50], "-")
	}
	if slug == "" {
		slug = "task"
	}
	return slug
}

// branchPrefixes maps task type to its conventional branch prefix.
var branchPrefixes = map[string]string{
	"bug": "fix", "refactor": "refactor", "testing": "test",
	"security": "security", "docs": "docs", "devops": "chore",
	"migration": "migration", "architecture": "refactor", "feature": "feature",
}

// BranchPrefix returns the conventional branch prefix for a task type.
func BranchPrefix(taskType string) string {
	if p, ok := branchPrefixes[taskType]; ok {
		return p
	}
	return "feature"
}

// AdoptedPrefix computes whether recent remote branch names share a single
// prefix strongly enough (>80%) to be adopted in place of the task-type
// default (spec.md §4.10.1).
func AdoptedPrefix(branches []string) (string, bool) {
	if len(branches) == 0 {
		return "", false
	}
	counts := make(map[string]int)
	for _, b := range branches {
		parts := strings.SplitN(b, "/", 2)
		if len(parts) != 2 {
			continue
		}
		counts[parts[0]]++
	}
	var best string
	var bestCount int
	total := 0
	for prefix, n := range counts {
		total += n
		if n > bestCount {
			best, bestCount = prefix, n
		}
	}
	if total == 0 {
		return "", false
	}
	if float64(bestCount)/float64(total) > 0.8 {
		return best, true
	}
	return "", false
}

func adoptedPrefix(ctx context.Context, workDir string) (string, bool) {
	res, err := executil.Run(ctx, "git", []string{"branch", "-r", "--format=%(refname:short)"}, executil.Options{Dir: workDir})
	if err != nil {
		return "", false
	}
	var branches []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "origin/")
		if line != "" && line != "HEAD" {
			branches = append(branches, line)
		}
	}
	return AdoptedPrefix(branches)
}

// createBranch creates and checks out a new branch at the current HEAD via
// go-git (spec.md §4.10.1), tolerating a non-repository WorkDir in tests.
func createBranch(workDir, branch string) error {
	repo, err := git.PlainOpen(workDir)
	if err != nil {
		return err
	}
	head, err := repo.Head()
	if err != nil {
		return err
	}
	ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(branch), head.Hash())
	if err := repo.Storer.SetReference(ref); err != nil {
		return err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return err
	}
	return wt.Checkout(&git.CheckoutOptions{Branch: plumbing.NewBranchReferenceName(branch)})
}

func progressComment(taskType, branch string) string {
	return "Working on this (" + taskType + ") on branch `" + branch + "`."
}
