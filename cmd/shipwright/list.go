package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// templateCandidateDirs mirrors templateconfig.New's search path so `list`
// and `show` can enumerate what Load would find, without the loader
// exposing a listing method of its own.
func templateCandidateDirs(repoDir string) []string {
	dirs := []string{filepath.Join(repoDir, ".shipwright", "templates")}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		dirs = append(dirs, filepath.Join(xdg, "shipwright", "templates"))
	} else if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".config", "shipwright", "templates"))
	}
	return dirs
}

// listTemplateNames scans the candidate directories for *.yaml templates,
// skipping the ".composed.yaml" override files (spec.md §4.3) since those
// aren't addressable by name on their own.
func listTemplateNames(repoDir string) []string {
	seen := map[string]bool{}
	var names []string
	for _, dir := range templateCandidateDirs(repoDir) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || !strings.HasSuffix(name, ".yaml") || strings.Contains(name, ".composed.") {
				continue
			}
			base := strings.TrimSuffix(name, ".yaml")
			if !seen[base] {
				seen[base] = true
				names = append(names, base)
			}
		}
	}
	sort.Strings(names)
	return names
}

func newListCmd(root *rootFlags) *cobra.Command {
	var local string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "list available pipeline templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newReadOnlyAppContext(root, local)
			if err != nil {
				return err
			}

			names := listTemplateNames(app.RepoDir)
			if len(names) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No pipeline templates found.")
				fmt.Fprintln(cmd.OutOrStdout(), "\nAdd one under .shipwright/templates/<name>.yaml.")
				return nil
			}

			ctx := app.commandContext(cmd)
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSTAGES\tDESCRIPTION")
			for _, name := range names {
				tpl, err := app.Templates.Load(ctx, name)
				if err != nil {
					fmt.Fprintf(w, "%s\t?\t(failed to load: %v)\n", name, err)
					continue
				}
				fmt.Fprintf(w, "%s\t%d\t%s\n", tpl.Name, len(tpl.EnabledStageOrder()), tpl.Description)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&local, "local", "", "local repository path (defaults to cwd)")
	return cmd
}
