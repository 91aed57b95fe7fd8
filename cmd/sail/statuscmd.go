package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sailing-dev/sailing/internal/graph"
	"github.com/sailing-dev/sailing/internal/paths"
	"github.com/sailing-dev/sailing/internal/types"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "project",
	Short:   "Project overview",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}

		type kindSummary struct {
			Total    int            `json:"total"`
			ByStatus map[string]int `json:"by_status,omitempty"`
		}
		summary := map[string]kindSummary{}
		for _, kind := range types.Kinds() {
			entries, err := a.st.List(kind)
			if err != nil {
				return err
			}
			ks := kindSummary{Total: len(entries), ByStatus: map[string]int{}}
			for _, e := range entries {
				ks.ByStatus[types.CanonicalStatus(e.Front.Status)]++
			}
			summary[kind.String()] = ks
		}

		g, err := graph.Build(a.st, types.KindTask)
		if err != nil {
			return err
		}
		ready := g.Ready(false)
		pending, err := a.mem.Pending("")
		if err != nil {
			return err
		}

		if a.pr.JSON(map[string]any{
			"project_root": a.res.ProjectRoot(),
			"project_hash": a.res.Hash(),
			"artefacts":    summary,
			"ready":        len(ready),
			"pending":      pending,
		}) {
			return nil
		}

		a.pr.Header("Project " + a.res.ProjectRoot())
		a.pr.Println(a.pr.Dim("haven " + a.res.Hash()))
		a.pr.Println()
		rows := make([][]string, 0, len(summary))
		for _, kind := range types.Kinds() {
			ks := summary[kind.String()]
			done := ks.ByStatus[types.StatusDone] + ks.ByStatus[types.StatusApproved]
			rows = append(rows, []string{
				kind.String(), fmt.Sprintf("%d", ks.Total), fmt.Sprintf("%d", done),
				fmt.Sprintf("%d", ks.ByStatus[types.StatusInProgress]),
			})
		}
		a.pr.Table([]string{"KIND", "TOTAL", "DONE", "IN PROGRESS"}, rows)
		a.pr.Println()
		a.pr.Printf("ready tasks: %d\n", len(ready))
		if len(pending) > 0 {
			a.pr.Printf("tasks with unsynced memory: %d (run 'sail memory sync')\n", len(pending))
		}
		return nil
	},
}

var pathsCmd = &cobra.Command{
	Use:     "paths",
	GroupID: "project",
	Short:   "Show resolved collection locations",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		names := []string{
			paths.LocArtefacts, paths.LocMemory, paths.LocTemplates, paths.LocCore,
			paths.LocHaven, paths.LocRuns, paths.LocAssignments, paths.LocWorktrees, paths.LocAgents,
		}
		resolved := map[string]string{}
		for _, name := range names {
			dir, err := a.res.Location(name)
			if err != nil {
				return err
			}
			resolved[name] = dir
		}
		if a.pr.JSON(resolved) {
			return nil
		}
		rows := make([][]string, 0, len(names))
		for _, name := range names {
			rows = append(rows, []string{name, resolved[name]})
		}
		a.pr.Table([]string{"COLLECTION", "PATH"}, rows)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd, pathsCmd)
}
