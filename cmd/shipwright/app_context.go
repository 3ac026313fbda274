package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/shipwrightrun/shipwright/internal/agent"
	"github.com/shipwrightrun/shipwright/internal/controller"
	"github.com/shipwrightrun/shipwright/internal/infrastructure/baselinestore"
	"github.com/shipwrightrun/shipwright/internal/infrastructure/classifier"
	"github.com/shipwrightrun/shipwright/internal/infrastructure/eventbus"
	"github.com/shipwrightrun/shipwright/internal/infrastructure/forge/github"
	"github.com/shipwrightrun/shipwright/internal/infrastructure/forge/noop"
	"github.com/shipwrightrun/shipwright/internal/infrastructure/logging"
	"github.com/shipwrightrun/shipwright/internal/infrastructure/retry"
	"github.com/shipwrightrun/shipwright/internal/infrastructure/statestore"
	"github.com/shipwrightrun/shipwright/internal/infrastructure/templateconfig"
	"github.com/shipwrightrun/shipwright/internal/llm"
	"github.com/shipwrightrun/shipwright/internal/ports"
)

// AppContext bundles the long-lived adapters built once at startup,
// generalized from the teacher's AppContext (internal/application
// use-cases -> here, the one Controller and the loader/logger it shares
// with the `list`/`show`/`test` subcommands that don't go through it).
type AppContext struct {
	Logger    ports.Logger
	Templates *templateconfig.Loader
	RepoDir   string
	StateDir  string

	ctrl *controller.Controller
}

// repoRoot resolves the repository working directory a run operates
// against: --local overrides, otherwise the current directory.
func repoRoot(local string) (string, error) {
	if local != "" {
		abs, err := filepath.Abs(local)
		if err != nil {
			return "", fmt.Errorf("resolve --local path: %w", err)
		}
		return abs, nil
	}
	return os.Getwd()
}

// stateDir returns the directory shipwright keeps its run/baseline/event
// files in: <repoDir>/.shipwright.
func stateDir(repoDir string) string {
	return filepath.Join(repoDir, ".shipwright")
}

// newAppContext wires every adapter the controller needs from the
// resolved CLI flags (spec.md §4.12, §6.6). Grounded on the teacher's
// main.go construction sequence: logger first, then the infra adapters,
// then the use-case layer (here, controller.New).
func newAppContext(root *rootFlags, f startFlags) (*AppContext, error) {
	repoDir, err := repoRoot(f.local)
	if err != nil {
		return nil, err
	}
	sdir := stateDir(repoDir)

	level := "info"
	if root.verbose {
		level = "debug"
	}
	logger, err := logging.New(logging.Options{Level: level, Component: "cli"})
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	ss, err := statestore.New(filepath.Join(sdir, "state.txt"))
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	bus, err := eventbus.New(filepath.Join(sdir, "events.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	bls, err := baselinestore.New(filepath.Join(sdir, "baseline.json"))
	if err != nil {
		return nil, fmt.Errorf("open baseline store: %w", err)
	}

	var llmClient ports.LLMClient
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		llmClient = llm.New(apiKey, f.model)
	}

	cls := classifier.New(llmClient)

	var forge ports.Forge
	token := os.Getenv("GITHUB_TOKEN")
	if f.noGithub || token == "" || f.owner == "" || f.repo == "" {
		forge = noop.New()
	} else {
		forge = github.New(context.Background(), token, f.owner, f.repo)
	}

	templates := templateconfig.New(repoDir)

	ctrl := controller.New(controller.Deps{
		StateStore: ss,
		Events:     bus,
		Logger:     logger,
		Forge:      forge,
		Classifier: cls,
		Retry:      retry.New(cls),
		LLM:        llmClient,
		Agent:      agent.New(f.agentBinary),
		Templates:  templates,
		Baseline:   bls,
		Approve:    promptApprove,
	})

	return &AppContext{
		Logger:    logger,
		Templates: templates,
		RepoDir:   repoDir,
		StateDir:  sdir,
		ctrl:      ctrl,
	}, nil
}

// newReadOnlyAppContext builds the smaller subset of adapters needed by
// subcommands (status, abort, list, show) that don't invoke a run.
func newReadOnlyAppContext(root *rootFlags, local string) (*AppContext, error) {
	return newAppContext(root, startFlags{local: local, noGithub: true})
}

func (a *AppContext) commandContext(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}
