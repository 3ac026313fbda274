package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newShowCmd(root *rootFlags) *cobra.Command {
	var local string

	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "show a pipeline template's stage list and defaults",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newReadOnlyAppContext(root, local)
			if err != nil {
				return err
			}

			tpl, err := app.Templates.Load(app.commandContext(cmd), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "name:        %s\n", tpl.Name)
			fmt.Fprintf(out, "description: %s\n", tpl.Description)
			fmt.Fprintf(out, "tdd:         %v\n", tpl.TDD)
			fmt.Fprintf(out, "defaults:    model=%s agents=%d test_cmd=%q fast_test_cmd=%q\n",
				tpl.Defaults.Model, tpl.Defaults.Agents, tpl.Defaults.TestCmd, tpl.Defaults.FastTest)
			fmt.Fprintln(out, "stages:")
			for _, s := range tpl.Stages {
				status := "disabled"
				if s.Enabled {
					status = "enabled"
				}
				gate := s.Gate
				if gate == "" {
					gate = "auto"
				}
				fmt.Fprintf(out, "  - %-12s %-9s gate=%s\n", s.ID, status, gate)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&local, "local", "", "local repository path (defaults to cwd)")
	return cmd
}
