package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sailing-dev/sailing/internal/core"
	"github.com/sailing-dev/sailing/internal/markdown"
	"github.com/sailing-dev/sailing/internal/store"
	"github.com/sailing-dev/sailing/internal/types"
)

func init() { addArtefactCommands() }

// addArtefactCommands registers one command group per artefact kind, all
// sharing the same list/show/update/edit/patch verbs.
func addArtefactCommands() {
	for _, kind := range types.Kinds() {
		kind := kind
		group := &cobra.Command{
			Use:     kind.String(),
			GroupID: "artefacts",
			Short:   fmt.Sprintf("Manage %s artefacts", kind),
			Aliases: kindAliases(kind),
		}
		group.AddCommand(
			newListCmd(kind),
			newShowCmd(kind),
			newCreateCmd(kind),
			newUpdateCmd(kind),
			newEditCmd(kind),
			newPatchCmd(kind),
		)
		rootCmd.AddCommand(group)
	}
}

func kindAliases(kind types.Kind) []string {
	switch kind {
	case types.KindProduct:
		return []string{"product"}
	case types.KindDecision:
		return []string{"decision"}
	}
	return nil
}

func newListCmd(kind types.Kind) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: fmt.Sprintf("List %ss", kind),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			statusFilter, _ := cmd.Flags().GetString("status")
			entries, err := a.st.List(kind)
			if err != nil {
				return err
			}
			if statusFilter != "" {
				canon := types.CanonicalStatus(statusFilter)
				filtered := entries[:0]
				for _, e := range entries {
					if types.StatusEqual(e.Front.Status, canon) {
						filtered = append(filtered, e)
					}
				}
				entries = filtered
			}
			if kind == types.KindEpic {
				if milestone, _ := cmd.Flags().GetString("milestone"); milestone != "" {
					filtered := entries[:0]
					for _, e := range entries {
						if e.Front.Milestone == milestone {
							filtered = append(filtered, e)
						}
					}
					entries = filtered
				}
			}
			if a.pr.JSON(entries) {
				return nil
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{
					a.pr.ID(e.Key), a.pr.Status(e.Front.Status), e.Front.Title, e.Front.Parent,
				})
			}
			a.pr.Table([]string{"ID", "STATUS", "TITLE", "PARENT"}, rows)
			return nil
		},
	}
	cmd.Flags().String("status", "", "filter by status (aliases accepted)")
	if kind == types.KindEpic {
		cmd.Flags().String("milestone", "", "filter by milestone")
	}
	return cmd
}

func newShowCmd(kind types.Kind) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: fmt.Sprintf("Show one %s", kind),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			art, err := a.st.Get(kind, args[0])
			if err != nil {
				return err
			}
			if a.pr.JSON(art) {
				return nil
			}
			a.pr.Header(fmt.Sprintf("%s  %s  [%s]", art.Front.ID, art.Front.Title, art.Front.Status))
			if art.Front.Parent != "" {
				a.pr.Println(a.pr.Dim("parent: " + art.Front.Parent))
			}
			if len(art.Front.BlockedBy) > 0 {
				a.pr.Println(a.pr.Dim("blocked by: " + strings.Join(art.Front.BlockedBy, ", ")))
			}
			a.pr.Println()
			return a.pr.Markdown(art.Body)
		},
	}
}

func newCreateCmd(kind types.Kind) *cobra.Command {
	use := "create <title>"
	if kind == types.KindEpic || kind == types.KindTask || kind == types.KindStory {
		use = "create <parent-id> <title>"
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: fmt.Sprintf("Create a %s", kind),
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			opts := createOptions(cmd)
			var art *types.Artefact
			switch kind {
			case types.KindProduct:
				art, err = a.st.CreateProduct(args[0], opts)
			case types.KindDecision:
				art, err = a.st.CreateDecision(args[0], opts)
			default:
				if len(args) != 2 {
					return core.Errorf(core.KindInvalidInput, "cli", "usage: sail %s %s", kind, use)
				}
				switch kind {
				case types.KindEpic:
					art, err = a.st.CreateEpic(args[0], args[1], opts)
				case types.KindTask:
					art, err = a.st.CreateTask(args[0], args[1], opts)
				case types.KindStory:
					art, err = a.st.CreateStory(args[0], args[1], opts)
				}
			}
			if err != nil {
				return err
			}
			if a.pr.JSON(art) {
				return nil
			}
			a.pr.Printf("created %s (%s)\n", a.pr.ID(art.Front.ID), art.Path)
			return nil
		},
	}
	f := cmd.Flags()
	f.String("description", "", "initial description")
	f.StringSlice("tags", nil, "tags")
	f.StringSlice("blocked-by", nil, "blocker IDs")
	f.StringSlice("stories", nil, "linked story IDs")
	f.String("effort", "", "effort estimate (1h, 2h, 1d, ...)")
	f.String("priority", "", "priority (P1..P4)")
	f.String("assignee", "", "assignee")
	f.String("milestone", "", "milestone")
	if kind == types.KindProduct {
		f.String("branching", "", "artefact layout: flat or tree")
	}
	return cmd
}

func createOptions(cmd *cobra.Command) store.CreateOptions {
	f := cmd.Flags()
	opts := store.CreateOptions{}
	opts.Description, _ = f.GetString("description")
	opts.Tags, _ = f.GetStringSlice("tags")
	opts.BlockedBy, _ = f.GetStringSlice("blocked-by")
	opts.Stories, _ = f.GetStringSlice("stories")
	opts.Effort, _ = f.GetString("effort")
	opts.Priority, _ = f.GetString("priority")
	opts.Assignee, _ = f.GetString("assignee")
	opts.Milestone, _ = f.GetString("milestone")
	if f.Lookup("branching") != nil {
		opts.Branching, _ = f.GetString("branching")
	}
	return opts
}

func newUpdateCmd(kind types.Kind) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: fmt.Sprintf("Update %s front-matter", kind),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			patch := map[string]any{}
			if status, _ := cmd.Flags().GetString("status"); status != "" {
				patch["status"] = status
			}
			if title, _ := cmd.Flags().GetString("title"); title != "" {
				patch["title"] = title
			}
			if cmd.Flags().Changed("blocked-by") {
				refs, _ := cmd.Flags().GetStringSlice("blocked-by")
				patch["blocked_by"] = refs
			}
			fields, _ := cmd.Flags().GetStringSlice("field")
			for _, kv := range fields {
				k, v, ok := strings.Cut(kv, "=")
				if !ok {
					return core.Errorf(core.KindInvalidInput, "cli", "--field wants key=value, got %q", kv)
				}
				patch[k] = v
			}
			if len(patch) == 0 {
				return core.Errorf(core.KindInvalidInput, "cli", "nothing to update")
			}
			art, err := a.st.UpdateFrontMatter(kind, args[0], patch)
			if err != nil {
				return err
			}
			if a.pr.JSON(art) {
				return nil
			}
			a.pr.Printf("updated %s [%s]\n", a.pr.ID(art.Front.ID), a.pr.Status(art.Front.Status))
			return nil
		},
	}
	f := cmd.Flags()
	f.String("status", "", "new status (aliases accepted)")
	f.String("title", "", "new title")
	f.StringSlice("blocked-by", nil, "replace the blocker list")
	f.StringSlice("field", nil, "set a front-matter field, key=value (repeatable)")
	return cmd
}

func newEditCmd(kind types.Kind) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: fmt.Sprintf("Edit %s body sections", kind),
		Long: fmt.Sprintf(`Edit one section with --section/--content, or apply a multi-section
payload from --file / stdin where every "## Name [mode]" header starts a
region. Modes: replace (default), append, prepend.

Examples:
  sail %[1]s edit T001 --section Notes --content "Retested." --mode append
  sail %[1]s edit T001 --file changes.md`, kind),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			modeStr, _ := cmd.Flags().GetString("mode")
			mode, err := markdown.ParseEditMode(modeStr)
			if err != nil {
				return err
			}
			section, _ := cmd.Flags().GetString("section")
			content, _ := cmd.Flags().GetString("content")
			file, _ := cmd.Flags().GetString("file")

			var art *types.Artefact
			switch {
			case section != "":
				art, err = a.st.EditSection(kind, args[0], section, content, mode)
			case file != "":
				payload, rerr := readPayload(file)
				if rerr != nil {
					return rerr
				}
				art, err = a.st.EditMultiSection(kind, args[0], payload, mode)
			default:
				return core.Errorf(core.KindInvalidInput, "cli", "need --section or --file")
			}
			if err != nil {
				return err
			}
			if a.pr.JSON(art) {
				return nil
			}
			a.pr.Printf("edited %s\n", a.pr.ID(art.Front.ID))
			return nil
		},
	}
	f := cmd.Flags()
	f.String("section", "", "section name")
	f.String("content", "", "section content")
	f.String("mode", "replace", "edit mode: replace, append, prepend")
	f.String("file", "", "multi-section payload file, - for stdin")
	return cmd
}

func newPatchCmd(kind types.Kind) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patch <id>",
		Short: fmt.Sprintf("Surgical replace in a %s body", kind),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			old, _ := cmd.Flags().GetString("old")
			repl, _ := cmd.Flags().GetString("new")
			section, _ := cmd.Flags().GetString("section")
			re, _ := cmd.Flags().GetBool("regexp")
			if old == "" {
				return core.Errorf(core.KindInvalidInput, "cli", "--old is required")
			}
			art, err := a.st.PatchBody(kind, args[0], old, repl, markdown.PatchOptions{Section: section, Regexp: re})
			if err != nil {
				return err
			}
			if a.pr.JSON(art) {
				return nil
			}
			a.pr.Printf("patched %s\n", a.pr.ID(art.Front.ID))
			return nil
		},
	}
	f := cmd.Flags()
	f.String("old", "", "text (or pattern with --regexp) to replace; must match exactly once")
	f.String("new", "", "replacement text")
	f.String("section", "", "restrict the match to one section")
	f.Bool("regexp", false, "treat --old as a regular expression")
	return cmd
}

func readPayload(file string) (string, error) {
	if file == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", core.Wrap(core.KindIO, "cli", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return "", core.Wrap(core.KindIO, "cli", err)
	}
	return string(data), nil
}
