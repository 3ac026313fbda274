package main

import "strings"

// startFlags mirrors spec.md §6.1's authoritative `start` flag list. Kept
// as one struct, in the teacher's applyOptions style, so newAppContext and
// newStartCmd can both read from it without re-parsing cobra flags.
type startFlags struct {
	goal         string
	issue        string
	repoFlag     string // --repo owner/name
	local        string
	templateName string // --pipeline|--template
	testCmd      string
	fastTestCmd  string
	model        string
	agents       int
	skipGates    bool
	headless     bool
	base         string
	reviewers    []string
	labels       []string
	noGithub     bool
	noGithubLabel bool
	ci           bool
	ignoreBudget bool
	maxIterations int
	completedStages []string
	resume       bool
	worktree     string
	dryRun       bool
	slackWebhook string
	selfHeal     int
	maxRestarts  int
	tdd          bool
	agentBinary  string

	owner string
	repo  string
}

// splitRepo parses "--repo owner/name" into its two parts.
func splitRepo(s string) (owner, repo string) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return "", ""
	}
	return parts[0], parts[1]
}
