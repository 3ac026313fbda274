// Package agent invokes the external coding-agent subprocess that performs
// the actual code changes for the build stage (spec.md §4.10.4, §6.4, §6.6).
// Argument building is grounded on the teacher's command plugin
// (internal/plugins/command), execution on internal/executil
// (internal/plugins/internalexec generalized with a context and env
// control).
package agent

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/shipwrightrun/shipwright/internal/executil"
	"github.com/shipwrightrun/shipwright/internal/ports"
)

// Runner implements ports.CodingAgentRunner by shelling out to a coding-agent
// binary (default "claude").
type Runner struct {
	// Binary is the executable invoked; defaults to "claude".
	Binary string
}

// New returns a Runner using the given binary name, defaulting to "claude".
func New(binary string) *Runner {
	if binary == "" {
		binary = "claude"
	}
	return &Runner{Binary: binary}
}

var tokenLineRe = regexp.MustCompile(`(?i)input tokens:\s*([\d,]+).*output tokens:\s*([\d,]+)`)
var costLineRe = regexp.MustCompile(`(?i)cost.*\$([\d.]+)`)
var testsPassingRe = regexp.MustCompile(`(?i)tests passing:\s*(true|false)`)

// Run builds the subprocess argument list from req, executes it under
// workDir, and parses its structured output.
func (r *Runner) Run(ctx context.Context, workDir string, req ports.CodingAgent) (ports.CodingAgentResult, error) {
	args := buildArgs(req)

	env := executil.WithoutAgentEnv(os.Environ())
	res, runErr := executil.Run(ctx, r.Binary, args, executil.Options{Dir: workDir, Env: env})

	result := ports.CodingAgentResult{ExitCode: res.ExitCode}
	parseTokenUsage(res.Stdout, &result)

	progressPath := filepath.Join(workDir, "progress.md")
	result.ProgressPath = progressPath
	if testsPassing, ok := parseProgressFile(progressPath); ok {
		result.TestsPassing = testsPassing
	}

	commits, err := countNewCommits(ctx, workDir)
	if err == nil {
		result.CommitsAdded = commits
	}

	if runErr != nil && res.ExitCode == 0 {
		return result, fmt.Errorf("run coding agent: %w", runErr)
	}
	return result, nil
}

// buildArgs assembles the CLI flags for the subprocess, mirroring spec.md
// §4.10.4's argument list.
func buildArgs(req ports.CodingAgent) []string {
	args := []string{"--goal", req.Goal}
	if req.TestCmd != "" {
		args = append(args, "--test-cmd", req.TestCmd)
	}
	if req.FastTestCmd != "" {
		args = append(args, "--fast-test-cmd", req.FastTestCmd)
	}
	if req.MaxIterations > 0 {
		args = append(args, "--max-iterations", strconv.Itoa(req.MaxIterations))
	}
	agents := req.Agents
	if agents < 1 {
		agents = 1
	}
	args = append(args, "--agents", strconv.Itoa(agents))
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	if req.DefinitionOfDoneFile != "" {
		args = append(args, "--dod-file", req.DefinitionOfDoneFile)
	}
	for _, flag := range req.AuditFlags {
		args = append(args, "--audit", flag)
	}
	if req.QualityGates {
		args = append(args, "--quality-gates")
	}
	if req.MaxRestarts > 0 {
		args = append(args, "--max-restarts", strconv.Itoa(req.MaxRestarts))
	}
	if req.SkipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}
	return args
}

// parseTokenUsage scans stdout for token/cost counters the subprocess may
// have emitted, accumulating them onto result.
func parseTokenUsage(stdout string, result *ports.CodingAgentResult) {
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	for scanner.Scan() {
		line := scanner.Text()
		if m := tokenLineRe.FindStringSubmatch(line); m != nil {
			if in, err := strconv.ParseInt(strings.ReplaceAll(m[1], ",", ""), 10, 64); err == nil {
				result.InputTokens += in
			}
			if out, err := strconv.ParseInt(strings.ReplaceAll(m[2], ",", ""), 10, 64); err == nil {
				result.OutputTokens += out
			}
		}
		if m := costLineRe.FindStringSubmatch(line); m != nil {
			if cost, err := strconv.ParseFloat(m[1], 64); err == nil {
				result.ReportedCostUSD += cost
			}
		}
	}
}

// parseProgressFile reads the "Tests passing: (true|false)" line from the
// subprocess's structured progress report (spec.md §4.10.4).
func parseProgressFile(path string) (bool, bool) {
	f, err := os.Open(path)
	if err != nil {
		return false, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if m := testsPassingRe.FindStringSubmatch(scanner.Text()); m != nil {
			return strings.EqualFold(m[1], "true"), true
		}
	}
	return false, false
}

// countNewCommits counts commits made on HEAD since the subprocess started,
// used to decide whether to score commit-message quality (spec.md §4.10.4).
func countNewCommits(ctx context.Context, workDir string) (int, error) {
	res, err := executil.Run(ctx, "git", []string{"rev-list", "--count", "HEAD@{1}..HEAD"}, executil.Options{
		Dir:    workDir,
		Stdout: io.Discard,
		Stderr: io.Discard,
	})
	if err != nil {
		return 0, err
	}
	n, convErr := strconv.Atoi(strings.TrimSpace(res.Stdout))
	if convErr != nil {
		return 0, convErr
	}
	return n, nil
}

var _ ports.CodingAgentRunner = (*Runner)(nil)
