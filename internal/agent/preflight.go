package agent

import (
	"sort"

	"github.com/sailing-dev/sailing/internal/core"
	"github.com/sailing-dev/sailing/internal/graph"
	"github.com/sailing-dev/sailing/internal/types"
)

// Preflight verifies the repository and graph are in a spawnable state:
// main branch checked out and clean, at least one commit, the Task not
// already terminal or running, and no dependency cycles touching it.
func (r *Runner) Preflight(taskID string) error {
	if !r.repo.HasCommits() {
		return core.Errorf(core.KindValidation, "agent.preflight", "repository has no commits")
	}
	branch, err := r.repo.CurrentBranch()
	if err != nil {
		return err
	}
	if branch != r.opts.MainBranch {
		return core.Errorf(core.KindValidation, "agent.preflight",
			"repository is on %s; spawn from %s", branch, r.opts.MainBranch)
	}
	dirty, err := r.repo.IsDirty()
	if err != nil {
		return err
	}
	if dirty {
		return core.Errorf(core.KindValidation, "agent.preflight", "main worktree has uncommitted changes")
	}

	entry, err := r.st.Entry(types.KindTask, taskID)
	if err != nil {
		return err
	}
	if types.IsTerminal(entry.Front.Status) {
		return core.Errorf(core.KindValidation, "agent.preflight", "%s is %s", taskID, entry.Front.Status)
	}

	if rec, err := r.table.Get(taskID); err == nil {
		if rec.State == StateSpawned || rec.State == StateRunning {
			return core.Errorf(core.KindConcurrency, "agent.preflight", "%s already has a %s agent (pid %d)", taskID, rec.State, rec.PID)
		}
		if !rec.State.Terminal() {
			return core.Errorf(core.KindValidation, "agent.preflight",
				"%s has an uncollected %s agent; reap or clean it up first", taskID, rec.State)
		}
	}

	g, err := graph.Build(r.st, types.KindTask)
	if err != nil {
		return err
	}
	for _, cycle := range g.Cycles() {
		for _, id := range cycle {
			if id == taskID {
				return core.Errorf(core.KindValidation, "agent.preflight", "%s sits on a dependency cycle", taskID)
			}
		}
	}
	return nil
}

// Overlaps reports files the Task's branch touches that a live sibling
// agent's branch also touches. Best effort: branches with no commits yet
// contribute nothing.
func (r *Runner) Overlaps(taskID string) (map[string][]string, error) {
	recs, err := r.table.All()
	if err != nil {
		return nil, err
	}
	mine := map[string]bool{}
	if r.repo.BranchExists(taskID) {
		files, err := r.repo.ChangedFiles(taskID, r.opts.MainBranch)
		if err == nil {
			for _, f := range files {
				mine[f] = true
			}
		}
	}
	out := map[string][]string{}
	for _, rec := range recs {
		if rec.TaskID == taskID {
			continue
		}
		if rec.State != StateSpawned && rec.State != StateRunning {
			continue
		}
		files, err := r.repo.ChangedFiles(rec.Branch, r.opts.MainBranch)
		if err != nil {
			continue
		}
		var shared []string
		for _, f := range files {
			if mine[f] {
				shared = append(shared, f)
			}
		}
		if len(shared) > 0 {
			sort.Strings(shared)
			out[rec.TaskID] = shared
		}
	}
	return out, nil
}
