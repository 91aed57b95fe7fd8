package git

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/sailing-dev/sailing/internal/core"
)

// Worktree describes one entry of `git worktree list --porcelain`.
type Worktree struct {
	Path   string
	Branch string
	Head   string
}

// AddWorktree creates a worktree at path on branch, creating the branch at
// startPoint when it does not exist yet. A stale registration for the same
// path is pruned first; -f handles the registered-but-deleted state.
func (r *Repo) AddWorktree(path, branch, startPoint string) error {
	_, _ = r.git("worktree", "prune")

	if _, err := os.Stat(path); err == nil {
		if ok, _ := r.isRegisteredWorktree(path); ok {
			return core.Errorf(core.KindAlreadyExists, "git.worktree", "worktree already exists at %s", path)
		}
		if err := os.RemoveAll(path); err != nil {
			return core.Wrap(core.KindIO, "git.worktree", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return core.Wrap(core.KindIO, "git.worktree", err)
	}

	var err error
	if r.BranchExists(branch) {
		_, err = r.git("worktree", "add", "-f", path, branch)
	} else {
		_, err = r.git("worktree", "add", "-f", "-b", branch, path, startPoint)
	}
	if err != nil {
		return core.Wrap(core.KindIO, "git.worktree", err)
	}
	return nil
}

// RemoveWorktree removes a worktree. When git refuses, the directory is
// removed by hand and the registration pruned.
func (r *Repo) RemoveWorktree(path string) error {
	if _, err := r.git("worktree", "remove", path, "--force"); err != nil {
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return core.Wrap(core.KindIO, "git.worktree", rmErr)
		}
		_, _ = r.git("worktree", "prune")
	}
	return nil
}

// PruneWorktrees drops stale worktree registrations.
func (r *Repo) PruneWorktrees() error {
	if _, err := r.git("worktree", "prune"); err != nil {
		return core.Wrap(core.KindIO, "git.worktree", err)
	}
	return nil
}

// ListWorktrees parses the porcelain worktree list.
func (r *Repo) ListWorktrees() ([]Worktree, error) {
	out, err := r.git("worktree", "list", "--porcelain")
	if err != nil {
		return nil, core.Wrap(core.KindIO, "git.worktree", err)
	}
	var list []Worktree
	var cur Worktree
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "worktree "):
			if cur.Path != "" {
				list = append(list, cur)
			}
			cur = Worktree{Path: strings.TrimPrefix(line, "worktree ")}
		case strings.HasPrefix(line, "HEAD "):
			cur.Head = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			cur.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		}
	}
	if cur.Path != "" {
		list = append(list, cur)
	}
	return list, nil
}

// isRegisteredWorktree checks the porcelain list for path, resolving
// symlinks so /tmp and /private/tmp compare equal on macOS.
func (r *Repo) isRegisteredWorktree(path string) (bool, error) {
	list, err := r.ListWorktrees()
	if err != nil {
		return false, err
	}
	want := resolvePath(path)
	for _, wt := range list {
		if resolvePath(wt.Path) == want {
			return true, nil
		}
	}
	return false, nil
}

func resolvePath(p string) string {
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return resolved
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
