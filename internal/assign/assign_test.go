package assign

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sailing-dev/sailing/internal/core"
	"github.com/sailing-dev/sailing/internal/memory"
	"github.com/sailing-dev/sailing/internal/paths"
	"github.com/sailing-dev/sailing/internal/state"
	"github.com/sailing-dev/sailing/internal/store"
)

type fixture struct {
	st   *store.Store
	mem  *memory.Pipeline
	mgr  *Manager
	epic string
	task string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, ".sailing"), 0o755); err != nil {
		t.Fatal(err)
	}
	overrides := "locations:\n  haven: \"%project_root%/.haven\"\n"
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
	task, err := st.CreateTask(epic.Front.ID, "one", store.CreateOptions{Description: "Implement the thing."})
	if err != nil {
		t.Fatal(err)
	}
	mem, err := memory.New(st)
	if err != nil {
		t.Fatal(err)
	}
	mgr, err := NewManager(st, mem)
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{st: st, mem: mem, mgr: mgr, epic: epic.Front.ID, task: task.Front.ID}
}

func TestClaimReleaseRoundTrip(t *testing.T) {
	f := newFixture(t)
	a, err := f.mgr.Create(f.task, "implement")
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != StatusPending || a.EpicID != f.epic || a.ProjectHash == "" {
		t.Fatalf("assignment = %+v", a)
	}
	// A second pending assignment for the same task is refused.
	if _, err := f.mgr.Create(f.task, "implement"); !core.IsKind(err, core.KindAlreadyExists) {
		t.Fatalf("duplicate create err = %v", err)
	}

	claimed, prompt, err := f.mgr.Claim(f.task, ClaimOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if claimed.Status != StatusClaimed || claimed.ClaimedAt == nil {
		t.Fatalf("claimed = %+v", claimed)
	}
	for _, want := range []string{"# Task: " + f.task, "# Epic: " + f.epic, "Agent Contract", "Implement the thing."} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}

	// A live claim blocks a second claimant.
	if _, _, err := f.mgr.Claim(f.task, ClaimOptions{}); !core.IsKind(err, core.KindConcurrency) {
		t.Fatalf("second claim err = %v", err)
	}

	if err := f.mem.Append(f.task, memory.Entry{Level: memory.LevelTip, Message: "insight"}); err != nil {
		t.Fatal(err)
	}
	res, err := f.mgr.Release(f.task, 0, true)
	if err != nil {
		t.Fatal(err)
	}
	if res.MissingTip {
		t.Error("TIP entry present but flagged missing")
	}
	if res.Assignment.Status != StatusComplete || res.Assignment.Success == nil || !*res.Assignment.Success {
		t.Fatalf("released = %+v", res.Assignment)
	}
	if _, err := os.Stat(filepath.Join(f.mgr.runs, f.task+".run")); !os.IsNotExist(err) {
		t.Error("sentinel survived release")
	}

	// Complete assignments can be replaced by a fresh one.
	if _, err := f.mgr.Create(f.task, "review"); err != nil {
		t.Fatal(err)
	}
}

func TestClaimCreatesMissingAssignment(t *testing.T) {
	f := newFixture(t)
	a, prompt, err := f.mgr.Claim(f.task, ClaimOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != StatusClaimed || a.Operation != "implement" || a.EpicID != f.epic {
		t.Fatalf("claimed = %+v", a)
	}
	if !strings.Contains(prompt, "# Task: "+f.task) {
		t.Errorf("prompt missing task header:\n%s", prompt)
	}
	// An unknown task is still refused, not invented.
	if _, _, err := f.mgr.Claim("T099", ClaimOptions{}); !core.IsKind(err, core.KindNotFound) {
		t.Fatalf("unknown task err = %v", err)
	}
}

func TestConcurrentClaimSingleWinner(t *testing.T) {
	f := newFixture(t)
	if _, err := f.mgr.Create(f.task, "implement"); err != nil {
		t.Fatal(err)
	}
	rival, err := NewManager(f.st, f.mem)
	if err != nil {
		t.Fatal(err)
	}
	// Slip a full rival claim in after this manager's status checks but
	// before it commits its sentinel.
	interposed := false
	f.mgr.nowFunc = func() time.Time {
		if !interposed {
			interposed = true
			if _, _, err := rival.Claim(f.task, ClaimOptions{PID: os.Getpid()}); err != nil {
				t.Fatalf("rival claim: %v", err)
			}
		}
		return time.Now().UTC()
	}

	if _, _, err := f.mgr.Claim(f.task, ClaimOptions{PID: os.Getpid() + 1}); !core.IsKind(err, core.KindConcurrency) {
		t.Fatalf("losing claim err = %v", err)
	}
	a, err := f.mgr.Get(f.task)
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != StatusClaimed {
		t.Fatalf("after race = %+v", a)
	}
	s, err := f.mgr.readSentinel(f.task)
	if err != nil {
		t.Fatal(err)
	}
	if s.PID != os.Getpid() {
		t.Fatalf("sentinel pid = %d, want the rival's", s.PID)
	}
}

func TestReleaseChecks(t *testing.T) {
	f := newFixture(t)
	if _, err := f.mgr.Create(f.task, "implement"); err != nil {
		t.Fatal(err)
	}
	// Releasing an unclaimed assignment fails.
	if _, err := f.mgr.Release(f.task, 0, true); !core.IsKind(err, core.KindInvalidInput) {
		t.Fatalf("release pending err = %v", err)
	}

	if _, _, err := f.mgr.Claim(f.task, ClaimOptions{}); err != nil {
		t.Fatal(err)
	}
	// Wrong PID is refused.
	if _, err := f.mgr.Release(f.task, os.Getpid()+1, true); !core.IsKind(err, core.KindConcurrency) {
		t.Fatalf("wrong-pid err = %v", err)
	}
	// No TIP entry: release succeeds but flags it.
	res, err := f.mgr.Release(f.task, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	if !res.MissingTip {
		t.Error("missing TIP not flagged")
	}
}

func TestOrphanSweepReclaims(t *testing.T) {
	f := newFixture(t)
	if _, err := f.mgr.Create(f.task, "implement"); err != nil {
		t.Fatal(err)
	}
	// Claim under a PID that is then considered dead.
	f.mgr.alive = func(int) bool { return true }
	if _, _, err := f.mgr.Claim(f.task, ClaimOptions{PID: 999999}); err != nil {
		t.Fatal(err)
	}
	f.mgr.alive = func(int) bool { return false }

	swept, err := f.mgr.SweepOrphans()
	if err != nil {
		t.Fatal(err)
	}
	if len(swept) != 1 || swept[0] != f.task {
		t.Fatalf("swept = %v", swept)
	}
	a, err := f.mgr.Get(f.task)
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != StatusPending || a.ClaimedAt != nil {
		t.Fatalf("after sweep = %+v", a)
	}

	// Claim also sweeps, so a dead claim never blocks the next claimant.
	f.mgr.alive = func(int) bool { return true }
	if _, _, err := f.mgr.Claim(f.task, ClaimOptions{PID: 999999}); err != nil {
		t.Fatal(err)
	}
	f.mgr.alive = func(pid int) bool { return pid == os.Getpid() }
	if _, _, err := f.mgr.Claim(f.task, ClaimOptions{}); err != nil {
		t.Fatalf("reclaim after orphan: %v", err)
	}
}

func TestPendingMemoryGate(t *testing.T) {
	f := newFixture(t)
	other, err := f.st.CreateTask(f.epic, "two", store.CreateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.mgr.Create(f.task, "implement"); err != nil {
		t.Fatal(err)
	}
	// A sibling's unsynced log gates the whole epic.
	if err := f.mem.Append(other.Front.ID, memory.Entry{Message: "leftover"}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := f.mgr.Claim(f.task, ClaimOptions{}); !core.IsKind(err, core.KindValidation) {
		t.Fatalf("gate err = %v", err)
	}
	// Force bypasses the gate.
	if _, _, err := f.mgr.Claim(f.task, ClaimOptions{Force: true}); err != nil {
		t.Fatalf("forced claim: %v", err)
	}
}

func TestPromptCarriesAgentContext(t *testing.T) {
	f := newFixture(t)
	if err := f.mem.Append(f.task, memory.Entry{Level: memory.LevelTip, Message: "use the store index"}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.mem.Sync(memory.SyncOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.mgr.Create(f.task, "implement"); err != nil {
		t.Fatal(err)
	}
	_, prompt, err := f.mgr.Claim(f.task, ClaimOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(prompt, "use the store index") {
		t.Errorf("prompt missing consolidated context:\n%s", prompt)
	}
}

func TestListFiltersForeignHash(t *testing.T) {
	f := newFixture(t)
	if _, err := f.mgr.Create(f.task, "implement"); err != nil {
		t.Fatal(err)
	}
	// Drop a record from another project into the shared directory.
	foreign := "task_id: T099\nepic_id: E009\noperation: implement\nstatus: pending\nproject_hash: ffffffffffff\n"
	if err := os.WriteFile(filepath.Join(f.mgr.assign, "T099.yaml"), []byte(foreign), 0o644); err != nil {
		t.Fatal(err)
	}

	list, err := f.mgr.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].TaskID != f.task {
		t.Fatalf("list = %+v", list)
	}

	if err := f.mgr.Delete(f.task); err != nil {
		t.Fatal(err)
	}
	if _, err := f.mgr.Get(f.task); !core.IsKind(err, core.KindNotFound) {
		t.Fatalf("get after delete err = %v", err)
	}
	if _, err := f.mgr.Get("nope"); !core.IsKind(err, core.KindInvalidInput) {
		t.Fatalf("bad id err = %v", err)
	}
}
