package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sailing-dev/sailing/internal/config"
	"github.com/sailing-dev/sailing/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: "project",
	Short:   "Stream artefact and run changes",
	Long: `Watches the artefact tree, memory logs, and run sentinels, printing one
line per debounced change until interrupted. Bursts of writes to the
same file coalesce into a single event.

Examples:
  sail watch
  sail watch --pattern "*.md"
  sail watch --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		w, err := watch.New(a.res, config.GetDuration("watch.debounce"))
		if err != nil {
			return err
		}
		patterns, _ := cmd.Flags().GetStringSlice("pattern")
		if len(patterns) == 0 {
			patterns = config.GetStringSlice("watch.patterns")
		}
		cancel := w.Subscribe(patterns, func(ev watch.Event) {
			if a.pr.JSON(ev) {
				return
			}
			a.pr.Printf("%-6s %-12s %s\n", ev.Op, ev.Collection, ev.Path)
		})
		defer cancel()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return w.Run(ctx)
	},
}

func init() {
	watchCmd.Flags().StringSlice("pattern", nil, "base-name patterns to report (defaults to watch.patterns)")
	rootCmd.AddCommand(watchCmd)
}
