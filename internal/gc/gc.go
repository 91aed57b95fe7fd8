// Package gc reclaims haven disk space: worktrees, agent logs, assignment
// and run files left behind by finished agents, and abandoned havens of
// other projects. Every candidate is classified into a band; only the safe
// band is removed by default, and a sweep over an already clean haven is a
// no-op.
package gc

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/sailing-dev/sailing/internal/agent"
	"github.com/sailing-dev/sailing/internal/assign"
	"github.com/sailing-dev/sailing/internal/core"
	"github.com/sailing-dev/sailing/internal/git"
	"github.com/sailing-dev/sailing/internal/paths"
)

// Band classifies how safely a candidate can be removed.
type Band string

const (
	BandSafe   Band = "safe"   // agent retired or record gone
	BandUnsafe Band = "unsafe" // outcome not collected yet; removal loses evidence
	BandActive Band = "active" // a live process still uses it
)

// Item is one garbage-collection candidate.
type Item struct {
	Path   string `json:"path"`
	Kind   string `json:"kind"` // worktree, agent-log, assignment, run, haven
	TaskID string `json:"task_id,omitempty"`
	Band   Band   `json:"band"`
	Reason string `json:"reason"`
}

// Options select what Sweep removes.
type Options struct {
	// Unsafe also removes the unsafe band.
	Unsafe bool
	// ForeignHavens removes havens belonging to other project hashes. Off by
	// default: the hash alone cannot prove the other project is gone.
	ForeignHavens bool
	// DryRun plans without deleting.
	DryRun bool
	// Kinds restricts the sweep to the named item kinds (worktree, agent-log,
	// assignment, run, haven). Empty means every kind.
	Kinds []string
}

func (o Options) wants(kind string) bool {
	if len(o.Kinds) == 0 {
		return true
	}
	for _, k := range o.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Sweeper plans and executes collection for one project's haven.
type Sweeper struct {
	res   *paths.Resolver
	table *agent.Table
	asn   *assign.Manager
	repo  *git.Repo // nil outside a repository; worktree pruning is skipped
}

// New builds a sweeper. repo may be nil.
func New(res *paths.Resolver, table *agent.Table, asn *assign.Manager, repo *git.Repo) *Sweeper {
	return &Sweeper{res: res, table: table, asn: asn, repo: repo}
}

// Plan classifies every candidate without touching anything.
func (s *Sweeper) Plan(includeForeign bool) ([]Item, error) {
	recs, err := s.table.All()
	if err != nil {
		return nil, err
	}
	byTask := map[string]*agent.Record{}
	for _, r := range recs {
		byTask[r.TaskID] = r
	}

	var items []Item
	collect := func(loc, kind string, strip func(string) string) error {
		dir, err := s.res.Location(loc)
		if err != nil {
			return err
		}
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return core.Wrap(core.KindIO, "gc.plan", err)
		}
		for _, e := range entries {
			taskID := strip(e.Name())
			if taskID == "" {
				continue
			}
			items = append(items, s.classify(filepath.Join(dir, e.Name()), kind, taskID, byTask[taskID]))
		}
		return nil
	}

	stripExt := func(suffix string) func(string) string {
		return func(name string) string {
			if !strings.HasSuffix(name, suffix) {
				return ""
			}
			return strings.TrimSuffix(name, suffix)
		}
	}
	if err := collect(paths.LocWorktrees, "worktree", func(n string) string { return n }); err != nil {
		return nil, err
	}
	if err := collect(paths.LocAgents, "agent-log", func(n string) string {
		n = strings.TrimSuffix(n, ".log")
		if i := strings.IndexByte(n, '-'); i > 0 {
			n = n[:i] // rotated backups carry a timestamp suffix
		}
		return n
	}); err != nil {
		return nil, err
	}
	if err := collect(paths.LocAssignments, "assignment", stripExt(".yaml")); err != nil {
		return nil, err
	}
	if err := collect(paths.LocRuns, "run", stripExt(".run")); err != nil {
		return nil, err
	}

	if includeForeign {
		foreign, err := s.foreignHavens()
		if err != nil {
			return nil, err
		}
		items = append(items, foreign...)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Path < items[j].Path })
	return items, nil
}

// classify bands one candidate from its agent record and assignment state.
func (s *Sweeper) classify(path, kind, taskID string, rec *agent.Record) Item {
	item := Item{Path: path, Kind: kind, TaskID: taskID}

	if kind == "run" || kind == "assignment" {
		a, err := s.asn.Get(taskID)
		switch {
		case err != nil:
			item.Band, item.Reason = BandSafe, "unreadable record"
		case a.Status == assign.StatusComplete:
			item.Band, item.Reason = BandSafe, "assignment complete"
		case a.Status == assign.StatusClaimed:
			if kind == "run" {
				if pid, ok := s.sentinelPID(taskID); ok && pidAlive(pid) {
					item.Band, item.Reason = BandActive, "claimant alive"
				} else {
					item.Band, item.Reason = BandUnsafe, "claimant dead, claim not swept"
				}
			} else {
				item.Band, item.Reason = BandActive, "claimed"
			}
		default:
			item.Band, item.Reason = BandActive, "assignment pending"
		}
		return item
	}

	switch {
	case rec == nil:
		item.Band, item.Reason = BandSafe, "no agent record"
	case rec.State == agent.StateSpawned || rec.State == agent.StateRunning:
		item.Band, item.Reason = BandActive, "agent "+string(rec.State)
	case rec.State.Terminal() || rec.State == agent.StateMerged:
		item.Band, item.Reason = BandSafe, "agent "+string(rec.State)
	default:
		item.Band, item.Reason = BandUnsafe, "agent "+string(rec.State)+", outcome not collected"
	}
	return item
}

func (s *Sweeper) sentinelPID(taskID string) (int, bool) {
	runsDir, err := s.res.Location(paths.LocRuns)
	if err != nil {
		return 0, false
	}
	data, err := os.ReadFile(filepath.Join(runsDir, taskID+".run"))
	if err != nil {
		return 0, false
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "pid:") {
			var pid int
			if _, err := fmt.Sscanf(strings.TrimSpace(line), "pid: %d", &pid); err == nil {
				return pid, true
			}
		}
	}
	return 0, false
}

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}

// foreignHavens lists havens under the shared root that belong to other
// project hashes.
func (s *Sweeper) foreignHavens() ([]Item, error) {
	root := s.res.HavensRoot()
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, core.Wrap(core.KindIO, "gc.plan", err)
	}
	var items []Item
	for _, e := range entries {
		if !e.IsDir() || e.Name() == s.res.Hash() {
			continue
		}
		items = append(items, Item{
			Path:   filepath.Join(root, e.Name()),
			Kind:   "haven",
			Band:   BandUnsafe,
			Reason: "haven of another project (" + e.Name() + ")",
		})
	}
	return items, nil
}

// Result reports one sweep.
type Result struct {
	Removed []Item `json:"removed,omitempty"`
	Kept    []Item `json:"kept,omitempty"`
}

// Sweep prunes stale worktree registrations, then removes every candidate
// the options allow. Active items are never removed.
func (s *Sweeper) Sweep(opts Options) (*Result, error) {
	if s.repo != nil && !opts.DryRun {
		_ = s.repo.PruneWorktrees()
	}
	items, err := s.Plan(opts.ForeignHavens)
	if err != nil {
		return nil, err
	}
	res := &Result{}
	for _, item := range items {
		if !opts.wants(item.Kind) {
			continue
		}
		remove := item.Band == BandSafe || (opts.Unsafe && item.Band == BandUnsafe)
		if item.Kind == "haven" {
			remove = opts.ForeignHavens && opts.Unsafe
		}
		if !remove {
			res.Kept = append(res.Kept, item)
			continue
		}
		if !opts.DryRun {
			if item.Kind == "worktree" && s.repo != nil {
				if err := s.repo.RemoveWorktree(item.Path); err != nil {
					return res, err
				}
			} else if err := os.RemoveAll(item.Path); err != nil {
				return res, core.Wrap(core.KindIO, "gc.sweep", err)
			}
		}
		res.Removed = append(res.Removed, item)
	}
	return res, nil
}
