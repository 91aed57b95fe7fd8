package agent

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/sailing-dev/sailing/internal/assign"
	"github.com/sailing-dev/sailing/internal/core"
	"github.com/sailing-dev/sailing/internal/git"
	"github.com/sailing-dev/sailing/internal/memory"
	"github.com/sailing-dev/sailing/internal/paths"
	"github.com/sailing-dev/sailing/internal/state"
	"github.com/sailing-dev/sailing/internal/store"
	"github.com/sailing-dev/sailing/internal/types"
)

type fixture struct {
	st   *store.Store
	repo *git.Repo
	task string
	opts Options
}

// newFixture builds a project whose artefacts are committed on main and
// whose haven lives outside the repository, so agent bookkeeping never
// dirties the tree.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	root := t.TempDir()
	haven := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, ".sailing"), 0o755); err != nil {
		t.Fatal(err)
	}
	overrides := "locations:\n  haven: \"" + haven + "\"\n"
	if err := os.WriteFile(filepath.Join(root, ".sailing", "paths.yaml"), []byte(overrides), 0o644); err != nil {
		t.Fatal(err)
	}
	res, err := paths.NewResolver(root)
	if err != nil {
		t.Fatal(err)
	}
	st := store.Open(res, state.New(res.StatePath(), 2*time.Second),
		store.WithWarnFunc(func(format string, args ...any) { t.Logf("warn: "+format, args...) }))
	prd, err := st.CreateProduct("Proj", store.CreateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	epic, err := st.CreateEpic(prd.Front.ID, "Feature", store.CreateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	task, err := st.CreateTask(epic.Front.ID, "one", store.CreateOptions{})
	if err != nil {
		t.Fatal(err)
	}

	mustGit(t, root, "init", "-b", "main")
	mustGit(t, root, "config", "user.email", "test@example.com")
	mustGit(t, root, "config", "user.name", "test")
	mustGit(t, root, "add", ".")
	mustGit(t, root, "commit", "-qm", "initial")

	repo, err := git.Open(root)
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{
		st:   st,
		repo: repo,
		task: task.Front.ID,
		opts: Options{
			UseWorktree:      true,
			MainBranch:       "main",
			WatchdogTimeout:  time.Minute,
			WatchdogInterval: 50 * time.Millisecond,
			GracePeriod:      200 * time.Millisecond,
			ReapTimeout:      5 * time.Second,
		},
	}
}

func mustGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
}

func (f *fixture) runner(t *testing.T, command ...string) *Runner {
	t.Helper()
	mem, err := memory.New(f.st)
	if err != nil {
		t.Fatal(err)
	}
	asn, err := assign.NewManager(f.st, mem)
	if err != nil {
		t.Fatal(err)
	}
	opts := f.opts
	opts.Command = command
	r, err := NewRunner(f.st, mem, asn, f.repo, opts)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestSpawnWaitReapMergeCleanup(t *testing.T) {
	f := newFixture(t)
	r := f.runner(t, "/bin/sh", "-c", "cat > prompt.txt && git add -A && git commit -qm agentwork")

	h, err := r.Spawn(f.task, "implement", false)
	if err != nil {
		t.Fatal(err)
	}
	if h.Record.Worktree == "" || h.Record.Branch != f.task {
		t.Fatalf("record = %+v", h.Record)
	}
	got, err := f.st.Get(types.KindTask, f.task)
	if err != nil {
		t.Fatal(err)
	}
	if got.Front.Status != types.StatusInProgress {
		t.Errorf("task status after spawn = %q", got.Front.Status)
	}

	rec, err := h.Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rec.State != StateCompleted || rec.ExitCode == nil || *rec.ExitCode != 0 {
		t.Fatalf("after wait = %+v", rec)
	}
	// The prompt arrived on the agent's stdin and was committed.
	data, err := os.ReadFile(filepath.Join(h.Record.Worktree, "prompt.txt"))
	if err != nil || len(data) == 0 {
		t.Fatalf("prompt.txt: %v", err)
	}

	rec, err = r.Reap(f.task)
	if err != nil {
		t.Fatal(err)
	}
	if rec.State != StateReaped || rec.Dirty {
		t.Fatalf("after reap = %+v", rec)
	}

	rec, err = r.Merge(f.task)
	if err != nil {
		t.Fatal(err)
	}
	if rec.State != StateMerged {
		t.Fatalf("after merge = %+v", rec)
	}
	if _, err := os.Stat(filepath.Join(f.repo.Root(), "prompt.txt")); err != nil {
		t.Errorf("agent work not merged into main: %v", err)
	}
	got, _ = f.st.Get(types.KindTask, f.task)
	if got.Front.Status != types.StatusDone {
		t.Errorf("task status after merge = %q", got.Front.Status)
	}

	rec, err = r.Cleanup(f.task, true)
	if err != nil {
		t.Fatal(err)
	}
	if rec.State != StateCollected {
		t.Fatalf("after cleanup = %+v", rec)
	}
	if _, err := os.Stat(h.Record.Worktree); !os.IsNotExist(err) {
		t.Error("worktree survived cleanup")
	}
	if f.repo.BranchExists(f.task) {
		t.Error("branch survived cleanup")
	}
}

func TestWatchdogKillsOnTimeout(t *testing.T) {
	f := newFixture(t)
	f.opts.WatchdogTimeout = 200 * time.Millisecond
	r := f.runner(t, "/bin/sh", "-c", "sleep 30")

	h, err := r.Spawn(f.task, "implement", false)
	if err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	rec, err := h.Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rec.State != StateKilled || rec.Error != "watchdog timeout" {
		t.Fatalf("after wait = %+v", rec)
	}
	if time.Since(start) > 10*time.Second {
		t.Error("watchdog took too long to fire")
	}
}

func TestBudgetKill(t *testing.T) {
	f := newFixture(t)
	f.opts.BudgetUSD = 1.0
	f.opts.CostFunc = func(*Record) (float64, bool) { return 2.0, true }
	r := f.runner(t, "/bin/sh", "-c", "sleep 30")

	h, err := r.Spawn(f.task, "implement", false)
	if err != nil {
		t.Fatal(err)
	}
	rec, err := h.Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rec.State != StateKilled || rec.Error != "budget exceeded" {
		t.Fatalf("after wait = %+v", rec)
	}
}

func TestPreflightGates(t *testing.T) {
	f := newFixture(t)
	r := f.runner(t, "/bin/sh", "-c", "true")

	// Dirty main tree.
	if err := os.WriteFile(filepath.Join(f.repo.Root(), "scratch.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Spawn(f.task, "implement", false); !core.IsKind(err, core.KindValidation) {
		t.Fatalf("dirty-tree err = %v", err)
	}
	if err := os.Remove(filepath.Join(f.repo.Root(), "scratch.txt")); err != nil {
		t.Fatal(err)
	}

	// A live agent record blocks a second spawn.
	if err := r.table.Put(&Record{TaskID: f.task, State: StateRunning, PID: os.Getpid(), SpawnedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Spawn(f.task, "implement", false); !core.IsKind(err, core.KindConcurrency) {
		t.Fatalf("live-agent err = %v", err)
	}

	// A terminal task is not spawnable.
	if err := r.table.Remove(f.task); err != nil {
		t.Fatal(err)
	}
	if _, err := f.st.SetStatus(types.KindTask, f.task, "Done"); err != nil {
		t.Fatal(err)
	}
	mustGit(t, f.repo.Root(), "commit", "-aqm", "status")
	if _, err := r.Spawn(f.task, "implement", false); !core.IsKind(err, core.KindValidation) {
		t.Fatalf("terminal-task err = %v", err)
	}
}

func TestReapRejectsEmptyBranch(t *testing.T) {
	f := newFixture(t)
	r := f.runner(t, "/bin/sh", "-c", "true")

	h, err := r.Spawn(f.task, "implement", false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	rec, err := r.Reap(f.task)
	if err != nil {
		t.Fatal(err)
	}
	if rec.State != StateRejected {
		t.Fatalf("after reap = %+v", rec)
	}
	// Rejected agents can still be cleaned up.
	if rec, err = r.Cleanup(f.task, true); err != nil || rec.State != StateCollected {
		t.Fatalf("cleanup = %+v, %v", rec, err)
	}
}

func TestMergeConflictParksRecord(t *testing.T) {
	f := newFixture(t)
	r := f.runner(t, "/bin/sh", "-c", "echo theirs > shared.txt && git add -A && git commit -qm agentwork")

	h, err := r.Spawn(f.task, "implement", false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Reap(f.task); err != nil {
		t.Fatal(err)
	}

	// Main gains a conflicting commit after the agent branched.
	if err := os.WriteFile(filepath.Join(f.repo.Root(), "shared.txt"), []byte("ours\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	mustGit(t, f.repo.Root(), "add", "-A")
	mustGit(t, f.repo.Root(), "commit", "-qm", "ours")

	if _, err := r.Merge(f.task); !core.IsKind(err, core.KindConcurrency) {
		t.Fatalf("merge err = %v", err)
	}
	rec, err := r.table.Get(f.task)
	if err != nil {
		t.Fatal(err)
	}
	if rec.State != StateConflict {
		t.Fatalf("after conflict = %+v", rec)
	}
}
