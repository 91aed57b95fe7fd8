package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/sailing-dev/sailing/internal/assign"
)

var assignCmd = &cobra.Command{
	Use:     "assign",
	GroupID: "agents",
	Short:   "Claim and release task assignments",
	Long: `Assignments hand tasks to workers through files in the project haven.
A worker claims a pending assignment, receives a composed prompt, and
releases it when done. Claims from dead processes are swept back to
pending automatically.`,
}

var assignCreateCmd = &cobra.Command{
	Use:   "create <task-id>",
	Short: "Create a pending assignment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		operation, _ := cmd.Flags().GetString("operation")
		asg, err := a.asn.Create(args[0], operation)
		if err != nil {
			return err
		}
		if a.pr.JSON(asg) {
			return nil
		}
		a.pr.Printf("assignment %s pending (%s)\n", a.pr.ID(asg.TaskID), asg.Operation)
		return nil
	},
}

var assignClaimCmd = &cobra.Command{
	Use:   "claim <task-id>",
	Short: "Claim an assignment and print the work prompt",
	Long: `Marks the assignment claimed for this process and prints the composed
prompt (contract, epic context, accumulated agent memory, task body) on
stdout. A task with no assignment yet gets a pending one created first.
Claims are refused while the epic has unsynced memory unless --force is
given.

Examples:
  sail assign claim T001
  sail assign claim T001 --force`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		force, _ := cmd.Flags().GetBool("force")
		pid, _ := cmd.Flags().GetInt("pid")
		operation, _ := cmd.Flags().GetString("operation")
		if pid == 0 {
			pid = os.Getpid()
		}
		asg, prompt, err := a.asn.Claim(args[0], assign.ClaimOptions{PID: pid, Force: force, Operation: operation})
		if err != nil {
			return err
		}
		if a.pr.JSON(map[string]any{"assignment": asg, "prompt": prompt}) {
			return nil
		}
		a.pr.Printf("%s", prompt)
		return nil
	},
}

var assignReleaseCmd = &cobra.Command{
	Use:   "release <task-id>",
	Short: "Release a claimed assignment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		failed, _ := cmd.Flags().GetBool("failed")
		pid, _ := cmd.Flags().GetInt("pid")
		if pid == 0 {
			pid = os.Getpid()
		}
		res, err := a.asn.Release(args[0], pid, !failed)
		if err != nil {
			return err
		}
		if a.pr.JSON(res) {
			return nil
		}
		a.pr.Printf("assignment %s complete\n", a.pr.ID(res.Assignment.TaskID))
		if res.MissingTip {
			a.pr.Println(a.pr.Dim("no TIP was logged for this task; consider recording one"))
		}
		return nil
	},
}

var assignCompleteCmd = &cobra.Command{
	Use:   "complete <task-id>",
	Short: "Force an assignment to complete",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		failed, _ := cmd.Flags().GetBool("failed")
		asg, err := a.asn.Complete(args[0], !failed)
		if err != nil {
			return err
		}
		if a.pr.JSON(asg) {
			return nil
		}
		a.pr.Printf("assignment %s complete\n", a.pr.ID(asg.TaskID))
		return nil
	},
}

var assignShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show one assignment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		asg, err := a.asn.Get(args[0])
		if err != nil {
			return err
		}
		if a.pr.JSON(asg) {
			return nil
		}
		a.pr.Header(asg.TaskID + "  " + asg.Status)
		a.pr.Printf("epic: %s  operation: %s\n", asg.EpicID, asg.Operation)
		a.pr.Printf("created: %s\n", asg.CreatedAt.Format("2006-01-02 15:04:05"))
		if asg.ClaimedAt != nil {
			a.pr.Printf("claimed: %s\n", asg.ClaimedAt.Format("2006-01-02 15:04:05"))
		}
		if asg.CompletedAt != nil {
			outcome := "success"
			if asg.Success != nil && !*asg.Success {
				outcome = "failure"
			}
			a.pr.Printf("completed: %s (%s)\n", asg.CompletedAt.Format("2006-01-02 15:04:05"), outcome)
		}
		return nil
	},
}

var assignListCmd = &cobra.Command{
	Use:   "list",
	Short: "List this project's assignments",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		swept, err := a.asn.SweepOrphans()
		if err != nil {
			return err
		}
		asgs, err := a.asn.List()
		if err != nil {
			return err
		}
		if a.pr.JSON(map[string]any{"assignments": asgs, "swept": swept}) {
			return nil
		}
		for _, id := range swept {
			a.pr.Println(a.pr.Dim("swept orphaned claim on " + id))
		}
		rows := make([][]string, 0, len(asgs))
		for _, asg := range asgs {
			rows = append(rows, []string{
				a.pr.ID(asg.TaskID), asg.Status, asg.Operation, asg.EpicID,
			})
		}
		a.pr.Table([]string{"TASK", "STATUS", "OPERATION", "EPIC"}, rows)
		return nil
	},
}

var assignDeleteCmd = &cobra.Command{
	Use:   "delete <task-id>",
	Short: "Delete an assignment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		if err := a.asn.Delete(args[0]); err != nil {
			return err
		}
		a.pr.Printf("deleted assignment %s\n", a.pr.ID(args[0]))
		return nil
	},
}

func init() {
	assignCreateCmd.Flags().String("operation", "implement", "operation to perform (implement, review, fix, ...)")
	assignClaimCmd.Flags().Bool("force", false, "claim even while the epic has unsynced memory")
	assignClaimCmd.Flags().String("operation", "", "operation when the claim has to create the assignment")
	assignClaimCmd.Flags().Int("pid", 0, "owning process ID (defaults to this process)")
	assignReleaseCmd.Flags().Bool("failed", false, "record the run as failed")
	assignReleaseCmd.Flags().Int("pid", 0, "owning process ID (defaults to this process)")
	assignCompleteCmd.Flags().Bool("failed", false, "record the run as failed")
	assignCmd.AddCommand(assignCreateCmd, assignClaimCmd, assignReleaseCmd,
		assignCompleteCmd, assignShowCmd, assignListCmd, assignDeleteCmd)
	rootCmd.AddCommand(assignCmd)
}
