package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sailing-dev/sailing/internal/core"
	"github.com/sailing-dev/sailing/internal/markdown"
	"github.com/sailing-dev/sailing/internal/paths"
	"github.com/sailing-dev/sailing/internal/state"
	"github.com/sailing-dev/sailing/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, ".sailing"), 0o755); err != nil {
		t.Fatal(err)
	}
	// Keep the haven inside the temp dir so tests never touch $HOME.
	overrides := "locations:\n  haven: \"%project_root%/.haven\"\n"
	if err := os.WriteFile(filepath.Join(root, ".sailing", "paths.yaml"), []byte(overrides), 0o644); err != nil {
		t.Fatal(err)
	}
	res, err := paths.NewResolver(root)
	if err != nil {
		t.Fatal(err)
	}
	st := state.New(res.StatePath(), 2*time.Second)
	return Open(res, st, WithWarnFunc(func(format string, args ...any) { t.Logf("warn: "+format, args...) }))
}

func mustCreateChain(t *testing.T, s *Store) (prd, epic, task *types.Artefact) {
	t.Helper()
	prd, err := s.CreateProduct("Auth", CreateOptions{Description: "Authentication"})
	if err != nil {
		t.Fatal(err)
	}
	epic, err = s.CreateEpic(prd.Front.ID, "Login", CreateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	task, err = s.CreateTask(epic.Front.ID, "Form", CreateOptions{Effort: "2h"})
	if err != nil {
		t.Fatal(err)
	}
	return prd, epic, task
}

func TestCreateChain(t *testing.T) {
	s := newTestStore(t)
	prd, epic, task := mustCreateChain(t, s)

	if prd.Front.ID != "PRD-001" {
		t.Errorf("prd id = %s", prd.Front.ID)
	}
	if epic.Front.ID != "E001" || epic.Front.Parent != "PRD-001" {
		t.Errorf("epic = %+v", epic.Front)
	}
	if task.Front.ID != "T001" || task.Front.Parent != "PRD-001 / E001" {
		t.Errorf("task = %+v", task.Front)
	}
	if task.Front.Status != types.StatusNotStarted {
		t.Errorf("task status = %q", task.Front.Status)
	}

	// Filenames carry the ID prefix and kebab title.
	if base := filepath.Base(task.Path); base != "T001-form.md" {
		t.Errorf("task file = %s", base)
	}

	// Epic memory collateral exists.
	memDir, _ := s.Paths().Location(paths.LocMemory)
	if _, err := os.Stat(filepath.Join(memDir, "E001.md")); err != nil {
		t.Errorf("epic memory file missing: %v", err)
	}
}

func TestGetByVariantForms(t *testing.T) {
	s := newTestStore(t)
	mustCreateChain(t, s)

	for _, form := range []string{"T001", "T1", "1", "001", "t001"} {
		a, err := s.Get(types.KindTask, form)
		if err != nil {
			t.Fatalf("Get(%q): %v", form, err)
		}
		if a.Front.ID != "T001" {
			t.Errorf("Get(%q) = %s", form, a.Front.ID)
		}
	}
	if _, err := s.Get(types.KindTask, "T099"); !core.IsNotFound(err) {
		t.Errorf("want not-found, got %v", err)
	}
	if _, err := s.Get(types.KindTask, "zzz"); !core.IsKind(err, core.KindInvalidInput) {
		t.Errorf("want invalid-input, got %v", err)
	}
}

func TestIndexSeesExternalEdits(t *testing.T) {
	s := newTestStore(t)
	prd, _, _ := mustCreateChain(t, s)

	// Drop a task file in from outside the process family.
	dir := filepath.Join(filepath.Dir(prd.Path), "tasks")
	external := "---\nid: T042\ntitle: Imported\nstatus: Not Started\nparent: PRD-001 / E001\n---\n\n## Description\n\nx\n"
	if err := os.WriteFile(filepath.Join(dir, "T042-imported.md"), []byte(external), 0o644); err != nil {
		t.Fatal(err)
	}

	// Not visible until invalidation.
	s.Invalidate()
	if _, err := s.Get(types.KindTask, "T042"); err != nil {
		t.Fatalf("external task not indexed: %v", err)
	}
}

func TestCreateSkipsDuplicateCounter(t *testing.T) {
	s := newTestStore(t)
	prd, epic, _ := mustCreateChain(t, s)

	// Simulate a counter reset: next allocation would collide with T001.
	st := state.New(s.Paths().StatePath(), 2*time.Second)
	if err := st.SetNext(types.KindTask, 1); err != nil {
		t.Fatal(err)
	}
	_ = prd
	task, err := s.CreateTask(epic.Front.ID, "Second", CreateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if task.Front.ID != "T002" {
		t.Errorf("duplicate retry allocated %s, want T002", task.Front.ID)
	}
}

func TestStatusTransitionStamps(t *testing.T) {
	s := newTestStore(t)
	_, _, task := mustCreateChain(t, s)

	a, err := s.SetStatus(types.KindTask, task.Front.ID, "wip")
	if err != nil {
		t.Fatal(err)
	}
	if a.Front.Status != types.StatusInProgress {
		t.Errorf("status = %q", a.Front.Status)
	}
	if a.Front.StartedAt == nil {
		t.Fatal("started_at not stamped")
	}
	started := *a.Front.StartedAt

	// Idempotent: repeating the set keeps the original stamp.
	time.Sleep(10 * time.Millisecond)
	a, err = s.SetStatus(types.KindTask, task.Front.ID, "In Progress")
	if err != nil {
		t.Fatal(err)
	}
	if !a.Front.StartedAt.Equal(started) {
		t.Errorf("started_at restamped: %v -> %v", started, a.Front.StartedAt)
	}

	a, err = s.SetStatus(types.KindTask, task.Front.ID, "done")
	if err != nil {
		t.Fatal(err)
	}
	if a.Front.DoneAt == nil {
		t.Fatal("done_at not stamped")
	}
	if !a.Front.StartedAt.Equal(started) {
		t.Errorf("done transition lost started_at")
	}

	if _, err := s.SetStatus(types.KindTask, task.Front.ID, "Approved"); !core.IsKind(err, core.KindInvalidInput) {
		t.Errorf("task accepted product status: %v", err)
	}
}

func TestUpdateFrontMatterFields(t *testing.T) {
	s := newTestStore(t)
	_, _, task := mustCreateChain(t, s)

	a, err := s.UpdateFrontMatter(types.KindTask, task.Front.ID, map[string]any{
		"priority": "high",
		"assignee": "agent",
		"tags":     []string{"backend"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if a.Front.Priority != "high" || a.Front.Assignee != "agent" || len(a.Front.Tags) != 1 {
		t.Errorf("patch not applied: %+v", a.Front)
	}
	if _, err := s.UpdateFrontMatter(types.KindTask, task.Front.ID, map[string]any{"priority": "urgent"}); err == nil {
		t.Error("bad priority accepted")
	}
	if _, err := s.UpdateFrontMatter(types.KindTask, task.Front.ID, map[string]any{"nope": 1}); err == nil {
		t.Error("unknown field accepted")
	}
}

func TestEditSectionAndPatch(t *testing.T) {
	s := newTestStore(t)
	_, _, task := mustCreateChain(t, s)

	a, err := s.EditSection(types.KindTask, task.Front.ID, "Notes", "remember the CSRF token", markdown.ModeAppend)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(a.Body, "remember the CSRF token") {
		t.Fatalf("edit lost: %q", a.Body)
	}

	a, err = s.PatchBody(types.KindTask, task.Front.ID, "CSRF token", "XSRF token", markdown.PatchOptions{Section: "Notes"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(a.Body, "XSRF token") {
		t.Fatalf("patch lost: %q", a.Body)
	}
}

func TestDegradedEntryOmittedFromGet(t *testing.T) {
	s := newTestStore(t)
	prd, _, _ := mustCreateChain(t, s)

	dir := filepath.Join(filepath.Dir(prd.Path), "tasks")
	bad := "---\nid: [broken\n---\nbody\n"
	if err := os.WriteFile(filepath.Join(dir, "T050-bad.md"), []byte(bad), 0o644); err != nil {
		t.Fatal(err)
	}
	s.Invalidate()

	// Still indexed (key from filename) but degraded; listings keep working.
	entries, err := s.List(types.KindTask)
	if err != nil {
		t.Fatal(err)
	}
	var degraded bool
	for _, e := range entries {
		if e.Key == "T050" {
			degraded = e.Degraded
		}
	}
	if !degraded {
		t.Error("malformed artefact should index as degraded")
	}
}

func TestTreeBranchingLayout(t *testing.T) {
	s := newTestStore(t)
	prd, err := s.CreateProduct("Infra", CreateOptions{Branching: "tree"})
	if err != nil {
		t.Fatal(err)
	}
	epic, err := s.CreateEpic(prd.Front.ID, "Pipelines", CreateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	task, err := s.CreateTask(epic.Front.ID, "Cache", CreateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	// Tree mode nests the task under the epic's own directory.
	if filepath.Dir(filepath.Dir(task.Path)) != filepath.Dir(epic.Path) {
		t.Errorf("task %s not under epic dir %s", task.Path, epic.Path)
	}
	// And the index still finds it.
	s.Invalidate()
	if _, err := s.Get(types.KindTask, task.Front.ID); err != nil {
		t.Errorf("tree-mode task not indexed: %v", err)
	}
}
