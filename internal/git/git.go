// Package git shells out to the git CLI for the small set of operations the
// agent orchestrator needs: branch lifecycle, worktree lifecycle, dirtiness
// probes and merges. Everything runs with the repository as working
// directory; no git library is linked.
package git

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sailing-dev/sailing/internal/core"
)

// Repo wraps one git repository.
type Repo struct {
	root string
}

// Open locates the repository containing dir.
func Open(dir string) (*Repo, error) {
	out, err := run(dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return nil, core.Errorf(core.KindNotFound, "git.open", "%s is not inside a git repository", dir)
	}
	root, err := filepath.Abs(strings.TrimSpace(out))
	if err != nil {
		return nil, core.Wrap(core.KindIO, "git.open", err)
	}
	return &Repo{root: root}, nil
}

// Root returns the repository top-level directory.
func (r *Repo) Root() string { return r.root }

// run executes git in dir and returns combined output.
func run(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("git %s: %w\n%s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

func (r *Repo) git(args ...string) (string, error) {
	return run(r.root, args...)
}

// CurrentBranch returns the checked-out branch name.
func (r *Repo) CurrentBranch() (string, error) {
	out, err := r.git("rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", core.Wrap(core.KindIO, "git.branch", err)
	}
	return strings.TrimSpace(out), nil
}

// IsDirty reports whether the working tree has uncommitted changes,
// untracked files included.
func (r *Repo) IsDirty() (bool, error) {
	return dirAt(r.root).IsDirty()
}

// HasCommits reports whether HEAD resolves, i.e. the repository has at least
// one commit.
func (r *Repo) HasCommits() bool {
	_, err := r.git("rev-parse", "--verify", "HEAD")
	return err == nil
}

// CommitsAhead counts commits on branch that base does not have.
func (r *Repo) CommitsAhead(branch, base string) (int, error) {
	out, err := r.git("rev-list", "--count", base+".."+branch)
	if err != nil {
		return 0, core.Wrap(core.KindIO, "git.ahead", err)
	}
	n, convErr := strconv.Atoi(strings.TrimSpace(out))
	if convErr != nil {
		return 0, core.Wrap(core.KindIO, "git.ahead", convErr)
	}
	return n, nil
}

// BranchExists checks local then remote refs, the remote being origin.
func (r *Repo) BranchExists(branch string) bool {
	if _, err := r.git("show-ref", "--verify", "--quiet", "refs/heads/"+branch); err == nil {
		return true
	}
	_, err := r.git("show-ref", "--verify", "--quiet", "refs/remotes/origin/"+branch)
	return err == nil
}

// CreateBranch creates branch at the given start point without checking it
// out. An existing branch is left alone.
func (r *Repo) CreateBranch(branch, startPoint string) error {
	if r.BranchExists(branch) {
		return nil
	}
	if _, err := r.git("branch", branch, startPoint); err != nil {
		return core.Wrap(core.KindIO, "git.branch", err)
	}
	return nil
}

// DeleteBranch force-deletes a local branch; when remote is set the origin
// ref is deleted too, best effort.
func (r *Repo) DeleteBranch(branch string, remote bool) error {
	if _, err := r.git("branch", "-D", branch); err != nil {
		return core.Wrap(core.KindIO, "git.branch", err)
	}
	if remote {
		_, _ = r.git("push", "origin", "--delete", branch)
	}
	return nil
}

// ChangedFiles lists the paths branch touches relative to base. Used for
// best-effort overlap detection before spawning parallel agents.
func (r *Repo) ChangedFiles(branch, base string) ([]string, error) {
	out, err := r.git("diff", "--name-only", base+"..."+branch)
	if err != nil {
		return nil, core.Wrap(core.KindIO, "git.diff", err)
	}
	var files []string
	for _, l := range strings.Split(out, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			files = append(files, l)
		}
	}
	return files, nil
}

// Merge merges branch into the currently checked-out branch, fast-forward
// when possible. A conflicted merge is aborted and reported as
// KindConcurrency so the caller can mark the agent conflicted.
func (r *Repo) Merge(branch, message string) error {
	args := []string{"merge", "--no-edit"}
	if message != "" {
		args = append(args, "-m", message)
	}
	args = append(args, branch)
	out, err := r.git(args...)
	if err != nil {
		if strings.Contains(out, "CONFLICT") || strings.Contains(out, "Automatic merge failed") {
			_, _ = r.git("merge", "--abort")
			return core.Errorf(core.KindConcurrency, "git.merge", "merge of %s conflicts:\n%s", branch, strings.TrimSpace(out))
		}
		return core.Wrap(core.KindIO, "git.merge", err)
	}
	return nil
}

// Checkout switches the main working tree to branch.
func (r *Repo) Checkout(branch string) error {
	if _, err := r.git("checkout", branch); err != nil {
		return core.Wrap(core.KindIO, "git.checkout", err)
	}
	return nil
}

// dir is a working tree location for probes that run outside the main root.
type dir string

func dirAt(path string) dir { return dir(path) }

// IsDirty reports uncommitted changes in this working tree.
func (d dir) IsDirty() (bool, error) {
	out, err := run(string(d), "status", "--porcelain")
	if err != nil {
		return false, core.Wrap(core.KindIO, "git.status", err)
	}
	return strings.TrimSpace(out) != "", nil
}

// WorktreeDirty probes an agent worktree without opening it as a Repo.
func WorktreeDirty(path string) (bool, error) {
	return dirAt(path).IsDirty()
}
