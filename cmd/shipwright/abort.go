package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newAbortCmd(root *rootFlags) *cobra.Command {
	var local string

	cmd := &cobra.Command{
		Use:   "abort",
		Short: "force-end the currently tracked pipeline run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newReadOnlyAppContext(root, local)
			if err != nil {
				return err
			}
			run, err := app.ctrl.Abort(app.commandContext(cmd))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s aborted\n", run.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&local, "local", "", "local repository path (defaults to cwd)")
	return cmd
}
