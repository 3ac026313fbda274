package main

import (
	"github.com/spf13/cobra"
)

// rootFlags holds persistent flags shared by every subcommand, grounded on
// the teacher's rootFlags{verbose,dryRun} (cmd/streamy/root.go).
type rootFlags struct {
	verbose bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "shipwright",
		Short:         "shipwright drives an issue from goal to merged, monitored deploy",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(newStartCmd(flags))
	cmd.AddCommand(newResumeCmd(flags))
	cmd.AddCommand(newStatusCmd(flags))
	cmd.AddCommand(newAbortCmd(flags))
	cmd.AddCommand(newListCmd(flags))
	cmd.AddCommand(newShowCmd(flags))
	cmd.AddCommand(newTestCmd(flags))

	return cmd
}
