package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd(root *rootFlags) *cobra.Command {
	var local string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "show the currently tracked pipeline run, if any",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newReadOnlyAppContext(root, local)
			if err != nil {
				return err
			}
			run, err := app.ctrl.Status(app.commandContext(cmd))
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(run)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "run:      %s\n", run.ID)
			fmt.Fprintf(cmd.OutOrStdout(), "template: %s\n", run.TemplateName)
			fmt.Fprintf(cmd.OutOrStdout(), "status:   %s\n", run.Status)
			fmt.Fprintf(cmd.OutOrStdout(), "stage:    %s\n", run.CurrentStage)
			fmt.Fprintf(cmd.OutOrStdout(), "self_heal_count: %d  backtrack_count: %d\n",
				run.Counters.SelfHealCount, run.Counters.BacktrackCount)
			return nil
		},
	}

	cmd.Flags().StringVar(&local, "local", "", "local repository path (defaults to cwd)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output JSON")
	return cmd
}
