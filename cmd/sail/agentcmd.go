package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sailing-dev/sailing/internal/agent"
	"github.com/sailing-dev/sailing/internal/git"
)

var agentCmd = &cobra.Command{
	Use:     "agent",
	GroupID: "agents",
	Short:   "Spawn and supervise worker agents",
	Long: `Agents run the configured command (agent.command) in an isolated git
worktree, one per task, with the composed prompt on stdin. Their lifecycle
is spawn, wait or reap, merge, cleanup.`,
}

// openRunner wires an agent runner over the current project and repository.
func openRunner() (*app, *agent.Runner, error) {
	a, err := openApp()
	if err != nil {
		return nil, nil, err
	}
	repo, err := git.Open(a.res.ProjectRoot())
	if err != nil {
		return nil, nil, err
	}
	runner, err := agent.NewRunner(a.st, a.mem, a.asn, repo, agent.OptionsFromConfig())
	if err != nil {
		return nil, nil, err
	}
	return a, runner, nil
}

var agentSpawnCmd = &cobra.Command{
	Use:   "spawn <task-id>",
	Short: "Start an agent on a task",
	Long: `Claims the task's assignment, creates the worktree and branch, and
starts the configured agent command with the prompt on stdin.

Examples:
  sail agent spawn T001
  sail agent spawn T001 --wait
  sail agent spawn T001 --operation review --force`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, runner, err := openRunner()
		if err != nil {
			return err
		}
		operation, _ := cmd.Flags().GetString("operation")
		force, _ := cmd.Flags().GetBool("force")
		wait, _ := cmd.Flags().GetBool("wait")

		handle, err := runner.Spawn(args[0], operation, force)
		if err != nil {
			return err
		}
		if !wait {
			if a.pr.JSON(handle.Record) {
				return nil
			}
			a.pr.Printf("spawned agent for %s (pid %d, branch %s)\n",
				a.pr.ID(handle.Record.TaskID), handle.Record.PID, handle.Record.Branch)
			return nil
		}
		rec, err := handle.Wait(cmd.Context())
		if err != nil {
			return err
		}
		if a.pr.JSON(rec) {
			return nil
		}
		a.pr.Printf("agent for %s finished: %s", a.pr.ID(rec.TaskID), rec.State)
		if rec.ExitCode != nil {
			a.pr.Printf(" (exit %d)", *rec.ExitCode)
		}
		a.pr.Println()
		return nil
	},
}

var agentReapCmd = &cobra.Command{
	Use:   "reap <task-id>",
	Short: "Record a finished agent's outcome",
	Long: `Inspects the agent's exit and branch, records the outcome, and rejects
runs that produced no commits. Works for agents spawned by another
process as long as the sentinel PID has exited.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, runner, err := openRunner()
		if err != nil {
			return err
		}
		rec, err := runner.Reap(args[0])
		if err != nil {
			return err
		}
		if a.pr.JSON(rec) {
			return nil
		}
		a.pr.Printf("agent for %s %s", a.pr.ID(rec.TaskID), rec.State)
		if rec.State == agent.StateRejected {
			a.pr.Printf(": %s", rec.Error)
		}
		if rec.Dirty {
			a.pr.Printf(" (worktree left dirty)")
		}
		a.pr.Println()
		return nil
	},
}

var agentKillCmd = &cobra.Command{
	Use:   "kill <task-id>",
	Short: "Terminate a running agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, runner, err := openRunner()
		if err != nil {
			return err
		}
		rec, err := runner.Kill(args[0])
		if err != nil {
			return err
		}
		if a.pr.JSON(rec) {
			return nil
		}
		a.pr.Printf("killed agent for %s\n", a.pr.ID(rec.TaskID))
		return nil
	},
}

var agentMergeCmd = &cobra.Command{
	Use:   "merge <task-id>",
	Short: "Merge a reaped agent branch into main",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, runner, err := openRunner()
		if err != nil {
			return err
		}
		rec, err := runner.Merge(args[0])
		if err != nil {
			return err
		}
		if a.pr.JSON(rec) {
			return nil
		}
		a.pr.Printf("merged %s into main; task marked Done\n", rec.Branch)
		return nil
	},
}

var agentCleanupCmd = &cobra.Command{
	Use:   "cleanup <task-id>",
	Short: "Remove an agent's worktree and branch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, runner, err := openRunner()
		if err != nil {
			return err
		}
		keepBranch, _ := cmd.Flags().GetBool("keep-branch")
		rec, err := runner.Cleanup(args[0], !keepBranch)
		if err != nil {
			return err
		}
		if a.pr.JSON(rec) {
			return nil
		}
		a.pr.Printf("collected agent for %s\n", a.pr.ID(rec.TaskID))
		return nil
	},
}

var agentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List this project's agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, runner, err := openRunner()
		if err != nil {
			return err
		}
		recs, err := runner.Table().All()
		if err != nil {
			return err
		}
		if a.pr.JSON(recs) {
			return nil
		}
		rows := make([][]string, 0, len(recs))
		for _, rec := range recs {
			age := time.Since(rec.SpawnedAt).Round(time.Second)
			rows = append(rows, []string{
				a.pr.ID(rec.TaskID), string(rec.State), rec.Operation, rec.Branch, age.String(),
			})
		}
		a.pr.Table([]string{"TASK", "STATE", "OPERATION", "BRANCH", "AGE"}, rows)
		return nil
	},
}

var agentStatusCmd = &cobra.Command{
	Use:   "status <task-id>",
	Short: "Show one agent's record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, runner, err := openRunner()
		if err != nil {
			return err
		}
		rec, err := runner.Table().Get(args[0])
		if err != nil {
			return err
		}
		if a.pr.JSON(rec) {
			return nil
		}
		a.pr.Header(fmt.Sprintf("%s  %s", rec.TaskID, rec.State))
		a.pr.Printf("operation: %s  branch: %s  pid: %d\n", rec.Operation, rec.Branch, rec.PID)
		a.pr.Printf("spawned: %s  updated: %s\n",
			rec.SpawnedAt.Format("2006-01-02 15:04:05"), rec.UpdatedAt.Format("2006-01-02 15:04:05"))
		if rec.Worktree != "" {
			a.pr.Printf("worktree: %s\n", rec.Worktree)
		}
		if rec.LogFile != "" {
			a.pr.Printf("log: %s\n", rec.LogFile)
		}
		if rec.ExitCode != nil {
			a.pr.Printf("exit code: %d\n", *rec.ExitCode)
		}
		if rec.Error != "" {
			a.pr.Printf("error: %s\n", rec.Error)
		}
		overlaps, err := runner.Overlaps(rec.TaskID)
		if err == nil && len(overlaps) > 0 {
			a.pr.Println(a.pr.Dim("file overlaps with running agents:"))
			for other, files := range overlaps {
				a.pr.Printf("  %s: %s\n", a.pr.ID(other), strings.Join(files, ", "))
			}
		}
		return nil
	},
}

var agentLogCmd = &cobra.Command{
	Use:   "log <task-id>",
	Short: "Print an agent's log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, runner, err := openRunner()
		if err != nil {
			return err
		}
		f, err := os.Open(runner.LogPath(args[0]))
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(os.Stdout, f)
		return err
	},
}

func init() {
	agentSpawnCmd.Flags().String("operation", "implement", "operation to perform")
	agentSpawnCmd.Flags().Bool("force", false, "bypass the unsynced-memory gate")
	agentSpawnCmd.Flags().Bool("wait", false, "supervise until the agent exits")
	agentCleanupCmd.Flags().Bool("keep-branch", false, "keep the agent branch after collecting")
	agentCmd.AddCommand(agentSpawnCmd, agentReapCmd, agentKillCmd, agentMergeCmd,
		agentCleanupCmd, agentListCmd, agentStatusCmd, agentLogCmd)
	rootCmd.AddCommand(agentCmd)
}
