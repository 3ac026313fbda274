// Package test implements the test stage: running the detected test command,
// parsing its coverage percentage across several frameworks, and gating on a
// configured minimum (spec.md §4.10.5). Stage also implements
// selfheal.TestRunner for the build<->test self-healing loop.
package test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	domainrun "github.com/shipwrightrun/shipwright/internal/domain/run"
	"github.com/shipwrightrun/shipwright/internal/engine/selfheal"
	"github.com/shipwrightrun/shipwright/internal/executil"
	"github.com/shipwrightrun/shipwright/internal/runctx"
)

// Stage implements stages.Stage and selfheal.TestRunner for the test step.
type Stage struct {
	rc      *runctx.RunContext
	TestCmd string
}

// New returns a test Stage bound to rc.
func New(rc *runctx.RunContext) *Stage { return &Stage{rc: rc} }

// Kind identifies this stage to the registry.
func (s *Stage) Kind() domainrun.StageKind { return domainrun.StageTest }

// Artifact is the persisted test/coverage summary artifact.
type Artifact struct {
	Passed         bool    `json:"passed"`
	Coverage       float64 `json:"coverage,omitempty"`
	CoverageFound  bool    `json:"coverage_found"`
	CoverageMin    float64 `json:"coverage_min,omitempty"`
	FailureSummary string  `json:"failure_summary,omitempty"`
}

// Run executes the test stage against rc directly (non-self-healing path).
func (s *Stage) Run(ctx context.Context, rc *runctx.RunContext) (domainrun.StageOutcome, error) {
	s.rc = rc
	result, err := s.Test(ctx)
	return domainrun.StageOutcome{Success: result.Success, LogPath: result.LogPath}, err
}

// Test implements selfheal.TestRunner.
func (s *Stage) Test(ctx context.Context) (selfheal.TestResult, error) {
	rc := s.rc
	cmd := s.TestCmd
	if cmd == "" {
		cmd = rc.Template.Defaults.TestCmd
	}
	if cmd == "" {
		return selfheal.TestResult{}, fmt.Errorf("test stage requires a configured test command")
	}

	res, runErr := executil.Run(ctx, "sh", []string{"-c", cmd}, executil.Options{Dir: rc.WorkDir})
	combined := res.Stdout + "\n" + res.Stderr

	logPath := filepath.Join(rc.ArtifactDir, "test.log")
	_ = os.WriteFile(logPath, []byte(combined), 0o644)

	coverage, found := ParseCoverage(combined)
	passed := runErr == nil

	coverageMin := 0.0
	if spec, ok := rc.Template.StageByKind(domainrun.StageTest); ok {
		coverageMin = float64(spec.ConfigInt("coverage_min", 0))
	}
	if passed && coverageMin > 0 && found && coverage < coverageMin {
		passed = false
	}

	failureTail := ""
	if !passed {
		failureTail = ExtractFailureSection(combined)
		issueNum := issueNumberFromRef(rc.Run.IssueRef)
		if rc.Forge != nil && issueNum > 0 {
			_ = rc.Forge.CommentIssue(ctx, issueNum, "Test failure:\n```\n"+failureTail+"\n```")
		}
	}

	art := Artifact{Passed: passed, Coverage: coverage, CoverageFound: found, CoverageMin: coverageMin, FailureSummary: failureTail}
	data, _ := json.MarshalIndent(art, "", "  ")
	_ = os.WriteFile(filepath.Join(rc.ArtifactDir, "test.json"), data, 0o644)

	return selfheal.TestResult{
		Success: passed, LogPath: logPath, FailureTail: failureTail,
		FailureCount: countFailures(combined),
	}, nil
}

// coveragePatterns matches common coverage report shapes across frameworks
// (spec.md §4.10.5): Jest/Istanbul, pytest-cov, Vitest, Go, cargo tarpaulin,
// and a generic "NN% coverage"/"Coverage: NN%" fallback.
var coveragePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)all files\s*\|\s*([\d.]+)`),
	regexp.MustCompile(`(?i)^TOTAL.*?(\d+)%\s*$`),
	regexp.MustCompile(`coverage:\s*([\d.]+)%\s*of statements`),
	regexp.MustCompile(`([\d.]+)%\s*coverage`),
	regexp.MustCompile(`(?i)coverage:\s*([\d.]+)%`),
}

// ParseCoverage scans combined test output for a coverage percentage,
// trying each known framework pattern in order.
func ParseCoverage(output string) (float64, bool) {
	for _, re := range coveragePatterns {
		if m := re.FindStringSubmatch(output); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				return v, true
			}
		}
	}
	for _, line := range strings.Split(output, "\n") {
		for _, re := range coveragePatterns {
			if m := re.FindStringSubmatch(line); m != nil {
				if v, err := strconv.ParseFloat(m[1], 64); err == nil {
					return v, true
				}
			}
		}
	}
	return 0, false
}

var failureMarkers = regexp.MustCompile(`(?i)\b(fail|error|assert|panic|traceback)\w*\b`)

// ExtractFailureSection returns the tail of output around the last failure
// marker, bounded to 30 lines, for a compact forge comment (spec.md §4.10.5).
func ExtractFailureSection(output string) string {
	lines := strings.Split(output, "\n")
	lastMatch := -1
	for i, line := range lines {
		if failureMarkers.MatchString(line) {
			lastMatch = i
		}
	}
	if lastMatch < 0 {
		if len(lines) > 30 {
			return strings.Join(lines[len(lines)-30:], "\n")
		}
		return output
	}
	start := lastMatch - 20
	if start < 0 {
		start = 0
	}
	end := lastMatch + 10
	if end > len(lines) {
		end = len(lines)
	}
	return strings.Join(lines[start:end], "\n")
}

// countFailures gives a rough distinct-failure count by counting lines that
// match a failure marker, feeding the self-healing plateau tracker (spec.md
// §4.8). At least 1 whenever the caller already knows the run failed.
func countFailures(output string) int {
	count := 0
	for _, line := range strings.Split(output, "\n") {
		if failureMarkers.MatchString(line) {
			count++
		}
	}
	if count == 0 {
		count = 1
	}
	return count
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

var _ selfheal.TestRunner = (*Stage)(nil)
