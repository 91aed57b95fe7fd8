package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/sailing-dev/sailing/internal/config"
	"github.com/sailing-dev/sailing/internal/core"
	"github.com/sailing-dev/sailing/internal/paths"
	"github.com/sailing-dev/sailing/internal/state"
	"github.com/sailing-dev/sailing/internal/templates"
)

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "project",
	Short:   "Initialize a project",
	Long: `Creates the .sailing control directory with default paths, templates,
configuration, and ID counters. Interactive unless --yes is given.

Examples:
  sail init
  sail init --yes
  sail init --yes --main-branch master`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		control := filepath.Join(cwd, paths.ControlDir)
		force, _ := cmd.Flags().GetBool("force")
		if _, err := os.Stat(control); err == nil && !force {
			return core.Errorf(core.KindAlreadyExists, "init",
				"%s already exists (use --force to reinitialize counters)", control)
		}

		mainBranch, _ := cmd.Flags().GetString("main-branch")
		agentCommand := ""
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			form := huh.NewForm(
				huh.NewGroup(
					huh.NewNote().
						Title("sail setup").
						Description("Scaffolds the governance workspace: artefact tree, templates, and the project haven."),
					huh.NewInput().
						Title("Main branch").
						Description("Agent branches merge back into this branch.").
						Value(&mainBranch),
					huh.NewInput().
						Title("Agent command").
						Description("Executable that runs worker agents (prompt arrives on stdin). Leave empty to configure later.").
						Value(&agentCommand),
				),
			)
			if err := form.Run(); err != nil {
				return core.Wrap(core.KindInvalidInput, "init", err)
			}
		}
		if mainBranch == "" {
			mainBranch = "main"
		}

		for _, dir := range []string{
			control,
			filepath.Join(control, "memory"),
			filepath.Join(control, "templates"),
			filepath.Join(control, "core"),
			filepath.Join(cwd, "artefacts"),
		} {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return core.Wrap(core.KindIO, "init", err)
			}
		}

		if err := templates.NewLoader("").WriteDefaults(filepath.Join(control, "templates")); err != nil {
			return err
		}
		if err := writeIfAbsent(filepath.Join(control, "paths.yaml"), defaultPathsYAML); err != nil {
			return err
		}
		configYAML := fmt.Sprintf(defaultConfigYAML, mainBranch, agentCommand)
		if err := writeIfAbsent(filepath.Join(control, "config.yaml"), configYAML); err != nil {
			return err
		}

		st := state.New(filepath.Join(control, "state.json"), config.LockTimeout())
		if err := st.Init(force); err != nil {
			return err
		}

		res, err := paths.NewResolver(cwd)
		if err != nil {
			return err
		}
		for _, loc := range []string{paths.LocRuns, paths.LocAssignments, paths.LocWorktrees, paths.LocAgents} {
			dir, err := res.Location(loc)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return core.Wrap(core.KindIO, "init", err)
			}
		}

		fmt.Printf("initialized %s (haven %s)\n", control, res.Hash())
		return nil
	},
}

func writeIfAbsent(path, content string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return core.Wrap(core.KindIO, "init", err)
	}
	return nil
}

const defaultPathsYAML = `# Placeholder and location overrides. Builtins: %project_root%,
# %project_hash%, %home%, %haven%.
placeholders: {}
locations: {}
`

const defaultConfigYAML = `main-branch: %s
agent:
  command: %q
  use-worktree: true
  watchdog-timeout: 30m
  grace-period: 10s
`

func init() {
	initCmd.Flags().Bool("yes", false, "accept defaults without prompting")
	initCmd.Flags().Bool("force", false, "reinitialize over an existing control directory")
	initCmd.Flags().String("main-branch", "main", "branch agents merge back into")
	rootCmd.AddCommand(initCmd)
}
