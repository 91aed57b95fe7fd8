package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sailing-dev/sailing/internal/assign"
	"github.com/sailing-dev/sailing/internal/config"
	"github.com/sailing-dev/sailing/internal/memory"
	"github.com/sailing-dev/sailing/internal/paths"
	"github.com/sailing-dev/sailing/internal/state"
	"github.com/sailing-dev/sailing/internal/store"
	"github.com/sailing-dev/sailing/internal/ui"
)

var rootCmd = &cobra.Command{
	Use:   "sail",
	Short: "Governance engine for agent-driven development",
	Long: `sail manages a project's governance artefacts (Products, Epics, Tasks,
Stories, Decisions) as markdown files, computes ready work from their
dependency graph, and orchestrates worker agents in isolated git worktrees.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Initialize(); err != nil {
			return err
		}
		if jsonOut {
			config.Set("json", true)
		}
		return nil
	},
}

var jsonOut bool

// Execute runs the CLI and returns the process exit code. Errors print as a
// single stderr line.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "sail: %v\n", err)
		return 1
	}
	return 0
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "emit machine-readable JSON")
	rootCmd.AddGroup(
		&cobra.Group{ID: "artefacts", Title: "Artefact Commands:"},
		&cobra.Group{ID: "graph", Title: "Dependency Commands:"},
		&cobra.Group{ID: "agents", Title: "Agent Commands:"},
		&cobra.Group{ID: "project", Title: "Project Commands:"},
	)
}

// app bundles the per-invocation handles every command needs.
type app struct {
	res *paths.Resolver
	st  *store.Store
	mem *memory.Pipeline
	asn *assign.Manager
	pr  *ui.Printer
}

// openApp locates the project and wires the store stack.
func openApp() (*app, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	root, err := paths.FindProjectRoot(cwd)
	if err != nil {
		return nil, err
	}
	res, err := paths.NewResolver(root)
	if err != nil {
		return nil, err
	}
	st := store.Open(res, state.New(res.StatePath(), config.LockTimeout()),
		store.WithWarnFunc(func(format string, args ...any) {
			fmt.Fprintf(os.Stderr, "warning: "+format+"\n", args...)
		}))
	mem, err := memory.New(st)
	if err != nil {
		return nil, err
	}
	asn, err := assign.NewManager(st, mem)
	if err != nil {
		return nil, err
	}
	return &app{
		res: res,
		st:  st,
		mem: mem,
		asn: asn,
		pr:  ui.NewPrinter(os.Stdout, config.GetBool("json")),
	}, nil
}
