package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	domainrun "github.com/shipwrightrun/shipwright/internal/domain/run"
	domaintemplate "github.com/shipwrightrun/shipwright/internal/domain/template"
	"github.com/shipwrightrun/shipwright/internal/runctx"
	"github.com/shipwrightrun/shipwright/internal/stages/test"
)

// newTestCmd runs the configured test command once, outside a full pipeline
// run — a smoke check for validating --test-cmd against a repo before
// committing to `start`, grounded on the teacher's `verify` subcommand
// (cmd/streamy/verify.go) running one check in isolation from `apply`.
func newTestCmd(root *rootFlags) *cobra.Command {
	var local, testCmd string

	cmd := &cobra.Command{
		Use:   "test",
		Short: "run the test command once, outside a full pipeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repoDir, err := repoRoot(local)
			if err != nil {
				return err
			}
			if testCmd == "" {
				return fmt.Errorf("--test-cmd is required")
			}

			artifactDir := filepath.Join(stateDir(repoDir), "artifacts", "adhoc-test")
			if err := os.MkdirAll(artifactDir, 0o755); err != nil {
				return err
			}

			tmpl := &domaintemplate.Template{
				Name:     "adhoc",
				Defaults: domaintemplate.Defaults{TestCmd: testCmd},
				Stages:   []domaintemplate.StageSpec{{ID: domainrun.StageTest, Enabled: true}},
			}
			run := domainrun.NewRun("adhoc-test", tmpl.Name, "", nil, 0)
			rc := runctx.New(run, tmpl, nil)
			rc.WorkDir = repoDir
			rc.ArtifactDir = artifactDir

			ctx := context.Background()
			if cmd.Context() != nil {
				ctx = cmd.Context()
			}

			stage := test.New(rc)
			result, err := stage.Test(ctx)
			if err != nil {
				return err
			}

			if result.Success {
				fmt.Fprintln(cmd.OutOrStdout(), "✓ tests passed")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✗ tests failed — see %s\n", result.LogPath)
			os.Exit(1)
			return nil
		},
	}

	cmd.Flags().StringVar(&local, "local", "", "local repository path (defaults to cwd)")
	cmd.Flags().StringVar(&testCmd, "test-cmd", "", "shell command to run (required)")
	return cmd
}
