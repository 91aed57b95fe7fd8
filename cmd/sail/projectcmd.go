package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sailing-dev/sailing/internal/config"
	"github.com/sailing-dev/sailing/internal/core"
	"github.com/sailing-dev/sailing/internal/paths"
	"github.com/sailing-dev/sailing/internal/state"
	"github.com/sailing-dev/sailing/internal/types"
)

var fixCmd = &cobra.Command{
	Use:     "fix",
	GroupID: "graph",
	Short:   "Repair artefact consistency (deps validate --fix)",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = depsValidateCmd.Flags().Set("fix", "true")
		return depsValidateCmd.RunE(depsValidateCmd, nil)
	},
}

var ensureCmd = &cobra.Command{
	Use:     "ensure",
	GroupID: "project",
	Short:   "Create any missing layout directories",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		names := []string{
			paths.LocArtefacts, paths.LocMemory, paths.LocTemplates, paths.LocCore,
			paths.LocRuns, paths.LocAssignments, paths.LocWorktrees, paths.LocAgents,
		}
		var created []string
		for _, name := range names {
			dir, err := a.res.Location(name)
			if err != nil {
				return err
			}
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return core.Wrap(core.KindIO, "ensure", err)
				}
				created = append(created, dir)
			}
		}
		if a.pr.JSON(map[string]any{"created": created}) {
			return nil
		}
		for _, dir := range created {
			a.pr.Printf("created %s\n", dir)
		}
		if len(created) == 0 {
			a.pr.Println("layout complete")
		}
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "project",
	Short:   "Read and write configuration",
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one effective setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		value := config.GetString(args[0])
		if a.pr.JSON(map[string]string{args[0]: value}) {
			return nil
		}
		a.pr.Println(value)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Persist a setting in the project config",
	Long: `Writes the key into .sailing/config.yaml. Dotted keys nest
(agent.watchdog-timeout becomes agent: {watchdog-timeout: ...}).`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		path := a.res.ConfigPath()
		doc := map[string]any{}
		if data, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(data, &doc); err != nil {
				return core.Errorf(core.KindConfig, "config.set", "parsing %s: %v", path, err)
			}
		}
		setNested(doc, args[0], args[1])
		data, err := yaml.Marshal(doc)
		if err != nil {
			return core.Wrap(core.KindIO, "config.set", err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return core.Wrap(core.KindIO, "config.set", err)
		}
		a.pr.Printf("%s = %s\n", args[0], args[1])
		return nil
	},
}

// setNested writes value at a dotted key path, creating maps along the way.
func setNested(doc map[string]any, key, value string) {
	head, rest, ok := strings.Cut(key, ".")
	for ok {
		child, isMap := doc[head].(map[string]any)
		if !isMap {
			child = map[string]any{}
			doc[head] = child
		}
		doc = child
		head, rest, ok = strings.Cut(rest, ".")
	}
	doc[head] = value
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		keys := []string{
			"json", "lock-timeout", "main-branch", "effort.default-hours",
			"watch.debounce", "agent.command", "agent.use-worktree",
			"agent.watchdog-timeout", "agent.watchdog-interval",
			"agent.grace-period", "agent.reap-timeout", "agent.max-budget-usd",
		}
		effective := map[string]string{}
		for _, k := range keys {
			effective[k] = config.GetString(k)
		}
		if a.pr.JSON(effective) {
			return nil
		}
		sort.Strings(keys)
		rows := make([][]string, 0, len(keys))
		for _, k := range keys {
			rows = append(rows, []string{k, effective[k]})
		}
		a.pr.Table([]string{"KEY", "VALUE"}, rows)
		return nil
	},
}

var stateCmd = &cobra.Command{
	Use:     "state",
	GroupID: "project",
	Short:   "Inspect ID counters and the project hash",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		st := state.New(a.res.StatePath(), config.LockTimeout())
		counters, err := st.Read()
		if err != nil {
			return err
		}
		if a.pr.JSON(map[string]any{"counters": counters, "project_hash": a.res.Hash()}) {
			return nil
		}
		a.pr.Printf("next PRD %d, Epic %d, Task %d, Story %d, ADR %d\n",
			counters.PRD, counters.Epic, counters.Task, counters.Story, counters.ADR)
		a.pr.Printf("project hash %s\n", a.res.Hash())
		return nil
	},
}

var stateSetNextCmd = &cobra.Command{
	Use:   "set-next <kind> <n>",
	Short: "Set a kind's next ID counter",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		kind, ok := types.ParseKind(args[0])
		if !ok {
			return core.Errorf(core.KindInvalidInput, "state", "unknown kind %q", args[0])
		}
		var n int
		if _, err := fmt.Sscanf(args[1], "%d", &n); err != nil || n < 1 {
			return core.Errorf(core.KindInvalidInput, "state", "counter must be a positive number, got %q", args[1])
		}
		st := state.New(a.res.StatePath(), config.LockTimeout())
		if err := st.SetNext(kind, n); err != nil {
			return err
		}
		a.pr.Printf("next %s ID is %d\n", kind, n)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configGetCmd, configSetCmd, configListCmd)
	stateCmd.AddCommand(stateSetNextCmd)
	rootCmd.AddCommand(fixCmd, ensureCmd, configCmd, stateCmd)
}
