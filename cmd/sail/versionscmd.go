package main

import (
	"github.com/spf13/cobra"

	"github.com/sailing-dev/sailing/internal/types"
	"github.com/sailing-dev/sailing/internal/versions"
)

var versionsCmd = &cobra.Command{
	Use:     "versions",
	GroupID: "project",
	Short:   "Track component versions against artefact targets",
}

func openRegistry(a *app) (*versions.Registry, error) {
	return versions.Load(a.res.ComponentsPath())
}

var versionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered components",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		reg, err := openRegistry(a)
		if err != nil {
			return err
		}
		if a.pr.JSON(reg.Components) {
			return nil
		}
		rows := make([][]string, 0, len(reg.Components))
		for _, name := range reg.Names() {
			rows = append(rows, []string{name, reg.Components[name]})
		}
		a.pr.Table([]string{"COMPONENT", "VERSION"}, rows)
		return nil
	},
}

var versionsSetCmd = &cobra.Command{
	Use:   "set <component> <version>",
	Short: "Set a component's version",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		reg, err := openRegistry(a)
		if err != nil {
			return err
		}
		if err := reg.Set(args[0], args[1]); err != nil {
			return err
		}
		if err := reg.Save(); err != nil {
			return err
		}
		version, _ := reg.Get(args[0])
		a.pr.Printf("%s = %s\n", args[0], version)
		return nil
	},
}

var versionsBumpCmd = &cobra.Command{
	Use:   "bump <component> <major|minor|patch>",
	Short: "Bump a component's version",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		reg, err := openRegistry(a)
		if err != nil {
			return err
		}
		version, err := reg.Bump(args[0], args[1])
		if err != nil {
			return err
		}
		if err := reg.Save(); err != nil {
			return err
		}
		a.pr.Printf("%s = %s\n", args[0], version)
		return nil
	},
}

var versionsCheckCmd = &cobra.Command{
	Use:   "check <artefact-id>",
	Short: "Check an artefact's target versions",
	Long: `Compares the artefact's target_versions front-matter against the
component registry and reports which targets are reached.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		reg, err := openRegistry(a)
		if err != nil {
			return err
		}
		art, err := findArtefact(a, args[0])
		if err != nil {
			return err
		}
		statuses := reg.CheckTargets(art.Front.TargetVersions)
		if a.pr.JSON(statuses) {
			return nil
		}
		if len(statuses) == 0 {
			a.pr.Printf("%s declares no target versions\n", a.pr.ID(art.Front.ID))
			return nil
		}
		rows := make([][]string, 0, len(statuses))
		for _, ts := range statuses {
			state := "pending"
			if ts.Reached {
				state = "reached"
			}
			if ts.Problem != "" {
				state = ts.Problem
			}
			rows = append(rows, []string{ts.Component, ts.Target, ts.Current, state})
		}
		a.pr.Table([]string{"COMPONENT", "TARGET", "CURRENT", "STATE"}, rows)
		return nil
	},
}

// findArtefact resolves an ID of any kind by its prefix; a bare number is
// taken as a Task.
func findArtefact(a *app, idAny string) (*types.Artefact, error) {
	if kind, ok := types.KindOfID(idAny); ok {
		return a.st.Get(kind, idAny)
	}
	return a.st.Get(types.KindTask, idAny)
}

func init() {
	versionsCmd.AddCommand(versionsListCmd, versionsSetCmd, versionsBumpCmd, versionsCheckCmd)
	rootCmd.AddCommand(versionsCmd)
}
