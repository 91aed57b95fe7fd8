package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/sailing-dev/sailing/internal/markdown"
	"github.com/sailing-dev/sailing/internal/memory"
)

var memoryCmd = &cobra.Command{
	Use:     "memory",
	GroupID: "agents",
	Short:   "Task logs and epic memory consolidation",
	Long: `Agents append findings to per-task logs; sync consolidates them into
their epic's Agent Context section and truncates the logs. The next
agent on the epic receives the consolidated context in its prompt.`,
}

var memoryLogCmd = &cobra.Command{
	Use:   "log <task-id> <message>",
	Short: "Append one entry to a task log",
	Long: `Appends a timestamped entry to the task's memory log. Levels: INFO,
TIP, WARN, ERROR, CRITICAL.

Examples:
  sail memory log T001 "build needs CGO_ENABLED=0" --level TIP
  sail memory log T001 "migration fails on sqlite" --level WARN --file db/migrate.go`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		levelStr, _ := cmd.Flags().GetString("level")
		level, err := memory.ParseLevel(levelStr)
		if err != nil {
			return err
		}
		file, _ := cmd.Flags().GetString("file")
		command, _ := cmd.Flags().GetString("cmd")
		snippet, _ := cmd.Flags().GetString("code")
		entry := memory.Entry{
			Time:    time.Now().UTC(),
			Level:   level,
			Message: args[1],
			File:    file,
			Command: command,
			Snippet: snippet,
		}
		if err := a.mem.Append(args[0], entry); err != nil {
			return err
		}
		if a.pr.JSON(entry) {
			return nil
		}
		a.pr.Printf("logged [%s] for %s\n", level, a.pr.ID(args[0]))
		return nil
	},
}

var memorySyncCmd = &cobra.Command{
	Use:   "sync [scope]",
	Short: "Consolidate task logs into epic memory",
	Long: `Merges pending task logs into their epic's Agent Context section,
deduplicates repeated lines, and truncates the logs. The scope is a task
ID, an epic ID, or empty for the whole project. Running sync twice is a
no-op.

Examples:
  sail memory sync
  sail memory sync E001
  sail memory sync --dry-run`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		scope := ""
		if len(args) == 1 {
			scope = args[0]
		}
		noCreate, _ := cmd.Flags().GetBool("no-create")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		report, err := a.mem.Sync(memory.SyncOptions{Scope: scope, NoCreate: noCreate, DryRun: dryRun})
		if err != nil {
			return err
		}
		if a.pr.JSON(report) {
			return nil
		}
		for _, ts := range report.Synced {
			verb := "merged"
			if dryRun {
				verb = "would merge"
			}
			a.pr.Printf("%s %d lines from %s into %s\n", verb, ts.Merged, a.pr.ID(ts.TaskID), a.pr.ID(ts.EpicID))
		}
		for _, ts := range report.Skipped {
			a.pr.Println(a.pr.Dim("skipped " + ts.TaskID + ": " + ts.Reason))
		}
		if len(report.Synced) == 0 && len(report.Skipped) == 0 {
			a.pr.Println("nothing to sync")
		}
		return nil
	},
}

var memoryPendingCmd = &cobra.Command{
	Use:   "pending [scope]",
	Short: "List tasks with unsynced memory",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		scope := ""
		if len(args) == 1 {
			scope = args[0]
		}
		pending, err := a.mem.Pending(scope)
		if err != nil {
			return err
		}
		if a.pr.JSON(pending) {
			return nil
		}
		for _, id := range pending {
			a.pr.Println(a.pr.ID(id))
		}
		if len(pending) == 0 {
			a.pr.Println("no pending memory")
		}
		return nil
	},
}

var memoryShowCmd = &cobra.Command{
	Use:   "show <epic-id>",
	Short: "Show an epic's memory file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		doc, err := a.mem.Show(args[0])
		if err != nil {
			return err
		}
		if a.pr.JSON(map[string]string{"memory": doc}) {
			return nil
		}
		return a.pr.Markdown(doc)
	},
}

var memoryWriteCmd = &cobra.Command{
	Use:   "write <epic-id> <content>",
	Short: "Write a section of an epic's memory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		section, _ := cmd.Flags().GetString("section")
		modeStr, _ := cmd.Flags().GetString("mode")
		mode, err := markdown.ParseEditMode(modeStr)
		if err != nil {
			return err
		}
		if err := a.mem.Write(args[0], section, args[1], mode); err != nil {
			return err
		}
		a.pr.Printf("wrote %s of %s memory\n", section, a.pr.ID(args[0]))
		return nil
	},
}

func init() {
	memoryLogCmd.Flags().String("level", "INFO", "entry level: INFO, TIP, WARN, ERROR, CRITICAL")
	memoryLogCmd.Flags().String("file", "", "related file path")
	memoryLogCmd.Flags().String("cmd", "", "command that was run")
	memoryLogCmd.Flags().String("code", "", "code snippet")
	memorySyncCmd.Flags().Bool("no-create", false, "skip epics without a memory file")
	memorySyncCmd.Flags().Bool("dry-run", false, "report what would merge without writing")
	memoryWriteCmd.Flags().String("section", "Agent Context", "section to edit")
	memoryWriteCmd.Flags().String("mode", "replace", "edit mode: replace, append, prepend")
	memoryCmd.AddCommand(memoryLogCmd, memorySyncCmd, memoryPendingCmd, memoryShowCmd, memoryWriteCmd)
	rootCmd.AddCommand(memoryCmd)
}
