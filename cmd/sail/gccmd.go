package main

import (
	"github.com/spf13/cobra"

	"github.com/sailing-dev/sailing/internal/agent"
	"github.com/sailing-dev/sailing/internal/config"
	"github.com/sailing-dev/sailing/internal/core"
	"github.com/sailing-dev/sailing/internal/gc"
	"github.com/sailing-dev/sailing/internal/git"
)

var gcCmd = &cobra.Command{
	Use:     "gc [worktrees|agents|assignments|havens|all]",
	GroupID: "project",
	Short:   "Collect stale worktrees, logs, and assignments",
	Long: `Classifies haven artefacts into safe (agent retired), unsafe (outcome
not collected yet), and active (a live process still uses it), then
removes what the flags allow. Active items are never removed. An optional
scope limits collection to one class of debris.

Examples:
  sail gc --dry-run
  sail gc
  sail gc worktrees
  sail gc --unsafe
  sail gc havens --unsafe --foreign-havens`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		tablePath, err := a.res.AgentTablePath()
		if err != nil {
			return err
		}
		table := agent.NewTable(tablePath, a.res.Hash(), config.LockTimeout())
		repo, err := git.Open(a.res.ProjectRoot())
		if err != nil {
			repo = nil
		}
		sweeper := gc.New(a.res, table, a.asn, repo)

		unsafe, _ := cmd.Flags().GetBool("unsafe")
		foreign, _ := cmd.Flags().GetBool("foreign-havens")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		var kinds []string
		if len(args) == 1 {
			switch args[0] {
			case "worktrees":
				kinds = []string{"worktree"}
			case "agents":
				kinds = []string{"agent-log", "run"}
			case "assignments":
				kinds = []string{"assignment"}
			case "havens":
				kinds = []string{"haven"}
				foreign = true
			case "all":
			default:
				return core.Errorf(core.KindInvalidInput, "gc", "unknown scope %q", args[0])
			}
		}
		result, err := sweeper.Sweep(gc.Options{Unsafe: unsafe, ForeignHavens: foreign, DryRun: dryRun, Kinds: kinds})
		if err != nil {
			return err
		}
		if a.pr.JSON(result) {
			return nil
		}
		verb := "removed"
		if dryRun {
			verb = "would remove"
		}
		for _, item := range result.Removed {
			a.pr.Printf("%s %s %s (%s)\n", verb, item.Kind, item.Path, item.Reason)
		}
		for _, item := range result.Kept {
			a.pr.Println(a.pr.Dim("kept " + item.Kind + " " + item.Path + " [" + string(item.Band) + "] " + item.Reason))
		}
		if len(result.Removed) == 0 && len(result.Kept) == 0 {
			a.pr.Println("nothing to collect")
		}
		return nil
	},
}

func init() {
	gcCmd.Flags().Bool("unsafe", false, "also remove items whose outcome was never collected")
	gcCmd.Flags().Bool("foreign-havens", false, "with --unsafe, remove havens of other projects")
	gcCmd.Flags().Bool("dry-run", false, "plan without deleting")
	rootCmd.AddCommand(gcCmd)
}
