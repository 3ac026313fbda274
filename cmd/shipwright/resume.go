package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shipwrightrun/shipwright/internal/controller"
	domainrun "github.com/shipwrightrun/shipwright/internal/domain/run"
)

func newResumeCmd(root *rootFlags) *cobra.Command {
	var local string
	var ci bool

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "resume the currently interrupted pipeline run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAppContext(root, startFlags{local: local, noGithub: false, ci: ci})
			if err != nil {
				return err
			}

			ctx := app.commandContext(cmd)
			run, err := app.ctrl.Resume(ctx, controller.StartOptions{
				WorkDir:     app.RepoDir,
				ArtifactDir: app.StateDir + "/artifacts",
				CIMode:      ci,
			})
			if ctx.Err() != nil {
				fmt.Fprintln(cmd.OutOrStdout(), "⏸ Pipeline interrupted again — state saved.")
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
		},
	}

	cmd.Flags().StringVar(&local, "local", "", "local repository path (defaults to cwd)")
	cmd.Flags().BoolVar(&ci, "ci", false, "resume in CI mode")
	return cmd
}
