package main

import (
	"github.com/spf13/cobra"
)

var milestoneCmd = &cobra.Command{
	Use:     "milestone",
	GroupID: "artefacts",
	Short:   "Manage product milestones",
}

var milestoneCreateCmd = &cobra.Command{
	Use:   "create <product-id> <title>",
	Short: "Create a milestone with its acceptance criteria",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		path, err := a.st.CreateMilestone(args[0], args[1])
		if err != nil {
			return err
		}
		if a.pr.JSON(map[string]string{"path": path}) {
			return nil
		}
		a.pr.Printf("created milestone criteria at %s\n", path)
		return nil
	},
}

func init() {
	milestoneCmd.AddCommand(milestoneCreateCmd)
	rootCmd.AddCommand(milestoneCmd)
}
