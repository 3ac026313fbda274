package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/shipwrightrun/shipwright/internal/controller"
	domainrun "github.com/shipwrightrun/shipwright/internal/domain/run"
)

func newStartCmd(root *rootFlags) *cobra.Command {
	f := &startFlags{}

	cmd := &cobra.Command{
		Use:   "start",
		Short: "start a pipeline run for an issue or ad-hoc goal",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.owner, f.repo = splitRepo(f.repoFlag)
			return runStart(cmd, root, f)
		},
	}

	cmd.Flags().StringVar(&f.goal, "goal", "", "the goal text driving the run (required unless --issue is set)")
	cmd.Flags().StringVar(&f.issue, "issue", "", "forge issue number/reference to pull the goal from")
	cmd.Flags().StringVar(&f.repoFlag, "repo", "", "owner/name of the forge repository")
	cmd.Flags().StringVar(&f.local, "local", "", "local repository path to operate in (defaults to cwd)")
	cmd.Flags().StringVar(&f.templateName, "template", "default", "pipeline template name")
	cmd.Flags().StringVar(&f.templateName, "pipeline", "default", "alias for --template")
	cmd.Flags().StringVar(&f.testCmd, "test-cmd", "", "override the template's test command")
	cmd.Flags().StringVar(&f.fastTestCmd, "fast-test-cmd", "", "override the template's fast test command")
	cmd.Flags().StringVar(&f.model, "model", "", "override the coding-agent model")
	cmd.Flags().IntVar(&f.agents, "agents", 0, "override the coding-agent parallelism")
	cmd.Flags().BoolVar(&f.skipGates, "skip-gates", false, "bypass every approval gate (implies --headless)")
	cmd.Flags().BoolVar(&f.headless, "headless", false, "run without interactive approval prompts")
	cmd.Flags().StringVar(&f.base, "base", "main", "base branch for PR/merge")
	cmd.Flags().StringSliceVar(&f.reviewers, "reviewers", nil, "PR reviewer usernames")
	cmd.Flags().StringSliceVar(&f.labels, "labels", nil, "labels to apply to the PR/issue")
	cmd.Flags().BoolVar(&f.noGithub, "no-github", false, "disable all forge operations (use the no-op forge)")
	cmd.Flags().BoolVar(&f.noGithubLabel, "no-github-label", false, "skip applying the forge label even when the forge is enabled")
	cmd.Flags().BoolVar(&f.ci, "ci", false, "run in CI mode (quality gates, skip-permissions, recovery-branch push on interrupt)")
	cmd.Flags().BoolVar(&f.ignoreBudget, "ignore-budget", false, "don't pause the run when an adaptive budget is exhausted")
	cmd.Flags().IntVar(&f.maxIterations, "max-iterations", 0, "override the coding-agent's max iteration count")
	cmd.Flags().StringSliceVar(&f.completedStages, "completed-stages", nil, "stage ids to mark already complete before driving")
	cmd.Flags().BoolVar(&f.resume, "resume", false, "resume the currently tracked run instead of starting a new one")
	cmd.Flags().StringVar(&f.worktree, "worktree", "", "run in an isolated git worktree (optional name)")
	cmd.Flags().Lookup("worktree").NoOptDefVal = "auto"
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "resolve and print the run plan without executing it")
	cmd.Flags().StringVar(&f.slackWebhook, "slack-webhook", "", "Slack webhook URL for run notifications")
	cmd.Flags().IntVar(&f.selfHeal, "self-heal", 3, "max build<->test self-healing cycles (0 disables pairing)")
	cmd.Flags().IntVar(&f.maxRestarts, "max-restarts", 0, "max coding-agent restarts per build attempt")
	cmd.Flags().BoolVar(&f.tdd, "tdd", false, "enable test-driven-development ordering")
	cmd.Flags().StringVar(&f.agentBinary, "agent-binary", "claude", "coding-agent subprocess binary name")

	return cmd
}

func runStart(cmd *cobra.Command, root *rootFlags, f *startFlags) error {
	if f.goal == "" && f.issue == "" {
		return fmt.Errorf("one of --goal or --issue is required")
	}
	if f.skipGates {
		f.headless = true
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		f.headless = true
	}

	app, err := newAppContext(root, *f)
	if err != nil {
		return err
	}

	repoKey := f.repoFlag
	if repoKey == "" {
		repoKey = app.RepoDir
	}

	opts := controller.StartOptions{
		Goal:         f.goal,
		IssueRef:     f.issue,
		TemplateName: f.templateName,
		WorkDir:      app.RepoDir,
		ArtifactDir:  app.StateDir + "/artifacts",
		BaseBranch:   f.base,
		RepoKey:      repoKey,

		Headless: f.headless,
		CIMode:   f.ci,

		MaxSelfHealCycles: f.selfHeal,
		CompoundQuality:   f.ci,

		Reviewers: f.reviewers,
		Labels:    f.labels,

		ModelOverride:         f.model,
		AgentsOverride:        f.agents,
		TestCmdOverride:       f.testCmd,
		FastTestCmdOverride:   f.fastTestCmd,
		MaxIterationsOverride: f.maxIterations,
		TDDOverride:           f.tdd,
	}

	if f.dryRun {
		fmt.Fprintf(cmd.OutOrStdout(), "would start template %q in %s (headless=%v ci=%v self_heal=%d)\n",
			opts.TemplateName, opts.WorkDir, opts.Headless, opts.CIMode, opts.MaxSelfHealCycles)
		return nil
	}

	ctx := app.commandContext(cmd)

	var run *domainrun.Run
	if f.resume {
		run, err = app.ctrl.Resume(ctx, opts)
	} else {
		run, err = app.ctrl.Start(ctx, opts)
	}

	if ctx.Err() != nil {
		fmt.Fprintln(cmd.OutOrStdout(), "⏸ Pipeline interrupted — state saved. Resume with `shipwright start --resume`.")
		os.Exit(130)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "pipeline %s finished with status %s\n", run.ID, run.Status)
	if run.Status == domainrun.StatusFailed {
		os.Exit(1)
	}
	return nil
}
