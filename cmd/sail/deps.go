package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sailing-dev/sailing/internal/config"
	"github.com/sailing-dev/sailing/internal/core"
	"github.com/sailing-dev/sailing/internal/graph"
	"github.com/sailing-dev/sailing/internal/types"
	"github.com/sailing-dev/sailing/internal/validate"
)

var depsCmd = &cobra.Command{
	Use:     "deps",
	GroupID: "graph",
	Short:   "Dependency graph views over tasks",
}

var depsTreeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Render the blocker tree",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		g, err := buildGraph(cmd, a)
		if err != nil {
			return err
		}
		if a.pr.JSONMode() {
			out := map[string]any{}
			for _, id := range g.IDs() {
				n := g.Nodes[id]
				out[id] = map[string]any{
					"status":     n.Entry.Front.Status,
					"blockers":   n.Blockers,
					"dependents": n.Dependents,
				}
			}
			a.pr.JSON(out)
			return nil
		}
		printTree(a, g)
		return nil
	},
}

// printTree walks from the roots (nodes with no blockers) down the dependent
// edges. A node with several blockers shows under each; revisits collapse to
// a back-reference so cycles terminate.
func printTree(a *app, g *graph.Graph) {
	var walk func(id, indent string, seen map[string]bool)
	walk = func(id, indent string, seen map[string]bool) {
		n := g.Nodes[id]
		if seen[id] {
			a.pr.Printf("%s%s %s\n", indent, a.pr.ID(id), a.pr.Dim("(see above)"))
			return
		}
		seen[id] = true
		a.pr.Printf("%s%s [%s] %s\n", indent, a.pr.ID(id), a.pr.Status(n.Entry.Front.Status), n.Entry.Front.Title)
		deps := append([]string(nil), n.Dependents...)
		sort.Strings(deps)
		for _, dep := range deps {
			walk(dep, indent+"  ", seen)
		}
		delete(seen, id)
	}
	for _, id := range g.IDs() {
		if len(g.Nodes[id].Blockers) == 0 {
			walk(id, "", map[string]bool{})
		}
	}
	for node, refs := range g.Dangling {
		a.pr.Printf("%s %s\n", a.pr.ID(node), a.pr.Dim("dangling: "+strings.Join(refs, ", ")))
	}
}

var depsReadyCmd = &cobra.Command{
	Use:   "ready",
	Short: "List tasks whose blockers are all complete",
	Long: `Ready tasks are Not Started with every blocker Done or Cancelled,
sorted so the biggest bottlenecks come first.

Examples:
  sail deps ready
  sail deps ready --include-started`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		g, err := buildGraph(cmd, a)
		if err != nil {
			return err
		}
		includeStarted, _ := cmd.Flags().GetBool("include-started")
		ready := g.Ready(includeStarted)
		if a.pr.JSON(ready) {
			return nil
		}
		rows := make([][]string, 0, len(ready))
		for _, n := range ready {
			score, _ := g.BottleneckScore(n.ID)
			rows = append(rows, []string{
				a.pr.ID(n.ID), a.pr.Status(n.Entry.Front.Status), n.Entry.Front.Title,
				fmt.Sprintf("%d", score),
			})
		}
		a.pr.Table([]string{"ID", "STATUS", "TITLE", "SCORE"}, rows)
		return nil
	},
}

var depsValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check graph and artefact consistency",
	Long: `Checks blocker references, status spellings, ID/filename agreement, and
epic/task status aggregation. --fix repairs what is mechanical; findings a
human must resolve are only reported.

Examples:
  sail deps validate
  sail deps validate --fix`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		fix, _ := cmd.Flags().GetBool("fix")
		report, err := validate.Run(a.st, fix)
		if err != nil {
			return err
		}
		if a.pr.JSON(report) {
			if report.HasErrors() {
				return core.Errorf(core.KindValidation, "deps.validate", "validation failed")
			}
			return nil
		}
		for _, f := range report.Findings {
			marker := "error"
			if f.Fixable {
				marker = "fix"
			}
			a.pr.Printf("%-5s %s %s: %s\n", marker, a.pr.ID(f.ID), f.Rule, f.Message)
		}
		if len(report.Findings) == 0 {
			a.pr.Println("ok")
		} else if report.Fixed > 0 {
			a.pr.Printf("repaired %d artefacts\n", report.Fixed)
		}
		if report.HasErrors() {
			return core.Errorf(core.KindValidation, "deps.validate", "%d findings need attention", len(report.Findings))
		}
		return nil
	},
}

var depsCriticalCmd = &cobra.Command{
	Use:   "critical",
	Short: "Critical path and schedule envelope",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		g, err := buildGraph(cmd, a)
		if err != nil {
			return err
		}
		real, err := g.Real(config.EffortHours)
		if err != nil {
			return err
		}
		if a.pr.JSON(real) {
			return nil
		}
		theo := real.Theoretical
		a.pr.Header("Critical path")
		for _, id := range theo.CriticalPath {
			e := theo.Entries[id]
			a.pr.Printf("  %s  %5.1fh  (start %.1fh)\n", a.pr.ID(id), e.Hours, e.Start)
		}
		a.pr.Printf("critical: %.1fh of %.1fh total\n", theo.CriticalHrs, theo.TotalHours)
		if real.EarliestStart != nil {
			a.pr.Printf("started: %s\n", real.EarliestStart.Format("2006-01-02 15:04"))
		}
		if real.LatestEnd != nil {
			a.pr.Printf("latest done: %s\n", real.LatestEnd.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var depsImpactCmd = &cobra.Command{
	Use:   "impact <id>",
	Short: "Show what a task unblocks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		g, err := buildGraph(cmd, a)
		if err != nil {
			return err
		}
		id := types.NormalizeID(kindFlag(cmd), args[0])
		n, ok := g.Nodes[id]
		if !ok {
			return core.Errorf(core.KindNotFound, "deps.impact", "%q is not in the graph", args[0])
		}
		score, acyclic := g.BottleneckScore(id)
		chain, _ := g.LongestChain(id)
		if a.pr.JSON(map[string]any{
			"id": id, "dependents": n.Dependents, "score": score,
			"longest_chain": chain, "on_cycle": !acyclic,
		}) {
			return nil
		}
		a.pr.Header(id + "  " + n.Entry.Front.Title)
		if !acyclic {
			a.pr.Println("on a dependency cycle; impact undefined")
			return nil
		}
		a.pr.Printf("direct dependents: %d  longest chain: %d  score: %d\n",
			len(n.Dependents), chain, score)
		for _, dep := range n.Dependents {
			a.pr.Printf("  %s [%s] %s\n", a.pr.ID(dep),
				a.pr.Status(g.Nodes[dep].Entry.Front.Status), g.Nodes[dep].Entry.Front.Title)
		}
		return nil
	},
}

var depsAddCmd = &cobra.Command{
	Use:   "add <id> <blocker>...",
	Short: "Add blockers to a task",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		kind := kindFlag(cmd)
		art, err := a.st.Get(kind, args[0])
		if err != nil {
			return err
		}
		blockers := append([]string(nil), art.Front.BlockedBy...)
		have := map[string]bool{}
		for _, b := range blockers {
			have[types.NormalizeID(kind, b)] = true
		}
		for _, ref := range args[1:] {
			canon := types.NormalizeID(kind, ref)
			if _, err := a.st.Get(kind, canon); err != nil {
				return err
			}
			if canon == types.NormalizeID(kind, art.Front.ID) {
				return core.Errorf(core.KindInvalidInput, "deps.add", "%s cannot block itself", art.Front.ID)
			}
			if !have[canon] {
				blockers = append(blockers, canon)
				have[canon] = true
			}
		}
		updated, err := a.st.SetBlockedBy(kind, args[0], blockers)
		if err != nil {
			return err
		}
		if a.pr.JSON(updated) {
			return nil
		}
		a.pr.Printf("%s blocked by %s\n", a.pr.ID(updated.Front.ID), strings.Join(updated.Front.BlockedBy, ", "))
		return nil
	},
}

// buildGraph reads the --kind flag when present, defaulting to tasks.
func buildGraph(cmd *cobra.Command, a *app) (*graph.Graph, error) {
	return graph.Build(a.st, kindFlag(cmd))
}

func kindFlag(cmd *cobra.Command) types.Kind {
	if cmd.Flags().Lookup("epics") != nil {
		if epics, _ := cmd.Flags().GetBool("epics"); epics {
			return types.KindEpic
		}
	}
	return types.KindTask
}

func init() {
	for _, c := range []*cobra.Command{depsTreeCmd, depsReadyCmd, depsCriticalCmd, depsImpactCmd, depsAddCmd} {
		c.Flags().Bool("epics", false, "operate on the epic graph instead of tasks")
	}
	depsReadyCmd.Flags().Bool("include-started", false, "also list In Progress tasks")
	depsValidateCmd.Flags().Bool("fix", false, "apply mechanical repairs")
	depsCmd.AddCommand(depsTreeCmd, depsReadyCmd, depsValidateCmd, depsCriticalCmd, depsImpactCmd, depsAddCmd)
	rootCmd.AddCommand(depsCmd)
}
