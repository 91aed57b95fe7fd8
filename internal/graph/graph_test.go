package graph

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/sailing-dev/sailing/internal/core"
	"github.com/sailing-dev/sailing/internal/paths"
	"github.com/sailing-dev/sailing/internal/state"
	"github.com/sailing-dev/sailing/internal/store"
	"github.com/sailing-dev/sailing/internal/types"
)

type fixture struct {
	st   *store.Store
	epic string
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
	return &fixture{st: st, epic: epic.Front.ID}
}

// task creates a Task with the given blockers and returns its canonical ID.
func (f *fixture) task(t *testing.T, title string, blockedBy ...string) string {
	t.Helper()
	a, err := f.st.CreateTask(f.epic, title, store.CreateOptions{BlockedBy: blockedBy})
	if err != nil {
		t.Fatal(err)
	}
	return a.Front.ID
}

func (f *fixture) setStatus(t *testing.T, id, status string) {
	t.Helper()
	if _, err := f.st.SetStatus(types.KindTask, id, status); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) graph(t *testing.T) *Graph {
	t.Helper()
	g, err := Build(f.st, types.KindTask)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func readyIDs(g *Graph, includeStarted bool) []string {
	var out []string
	for _, n := range g.Ready(includeStarted) {
		out = append(out, n.ID)
	}
	return out
}

func TestReadinessWithMixedStatuses(t *testing.T) {
	f := newFixture(t)
	t1 := f.task(t, "one")
	t2 := f.task(t, "two", t1)
	t3 := f.task(t, "three", t2)
	f.setStatus(t, t1, "Done")

	if got := readyIDs(f.graph(t), false); !reflect.DeepEqual(got, []string{t2}) {
		t.Fatalf("ready = %v, want [%s]", got, t2)
	}

	f.setStatus(t, t2, "Done")
	if got := readyIDs(f.graph(t), false); !reflect.DeepEqual(got, []string{t3}) {
		t.Fatalf("ready = %v, want [%s]", got, t3)
	}
}

func TestCancelledBlockerDoesNotGate(t *testing.T) {
	f := newFixture(t)
	t1 := f.task(t, "one")
	t2 := f.task(t, "two", t1)
	f.setStatus(t, t1, "Cancelled")

	if got := readyIDs(f.graph(t), false); !reflect.DeepEqual(got, []string{t2}) {
		t.Fatalf("ready = %v, want [%s]", got, t2)
	}
}

func TestIncludeStartedVariant(t *testing.T) {
	f := newFixture(t)
	t1 := f.task(t, "one")
	f.setStatus(t, t1, "wip")

	if got := readyIDs(f.graph(t), false); got != nil {
		t.Fatalf("default ready should exclude started: %v", got)
	}
	if got := readyIDs(f.graph(t), true); !reflect.DeepEqual(got, []string{t1}) {
		t.Fatalf("include-started ready = %v", got)
	}
}

func TestCycleDetectionAndReadiness(t *testing.T) {
	f := newFixture(t)
	t1 := f.task(t, "one")
	t2 := f.task(t, "two")
	t3 := f.task(t, "three")
	if _, err := f.st.SetBlockedBy(types.KindTask, t1, []string{t2}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.st.SetBlockedBy(types.KindTask, t2, []string{t3}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.st.SetBlockedBy(types.KindTask, t3, []string{t1}); err != nil {
		t.Fatal(err)
	}

	g := f.graph(t)
	cycles := g.Cycles()
	if len(cycles) != 1 {
		t.Fatalf("cycles = %v", cycles)
	}
	path := cycles[0]
	if len(path) != 4 || path[0] != path[len(path)-1] {
		t.Fatalf("cycle path not closed: %v", path)
	}
	if got := readyIDs(g, false); got != nil {
		t.Fatalf("no task on a cycle is ready, got %v", got)
	}
	if _, ok := g.LongestChain(t1); ok {
		t.Error("chain length should be undefined on a cycle")
	}
}

func TestSelfLoopIsCycle(t *testing.T) {
	f := newFixture(t)
	t1 := f.task(t, "self")
	// A self reference survives only via direct front-matter edit; the store
	// create path filters duplicates, not self refs on update.
	if _, err := f.st.SetBlockedBy(types.KindTask, t1, []string{t1}); err != nil {
		t.Fatal(err)
	}
	cycles := f.graph(t).Cycles()
	if len(cycles) != 1 || len(cycles[0]) != 2 {
		t.Fatalf("cycles = %v", cycles)
	}
}

func TestImpactRanking(t *testing.T) {
	f := newFixture(t)
	t1 := f.task(t, "hub")
	var second string
	for i := 0; i < 4; i++ {
		id := f.task(t, "downstream", t1)
		if i == 0 {
			second = id
		}
	}
	for i := 0; i < 5; i++ {
		f.task(t, "leaf", second)
	}

	g := f.graph(t)
	s1, ok := g.BottleneckScore(t1)
	if !ok {
		t.Fatal("score undefined")
	}
	s2, _ := g.BottleneckScore(second)
	if s1 < 8 {
		t.Errorf("hub score = %d, want >= 8", s1)
	}
	if s1 <= s2 {
		t.Errorf("hub (%d) should outrank second (%d)", s1, s2)
	}

	ready := readyIDs(g, false)
	if len(ready) == 0 || ready[0] != t1 {
		t.Errorf("ready order = %v, want %s first", ready, t1)
	}
}

func TestDanglingCaptured(t *testing.T) {
	f := newFixture(t)
	t1 := f.task(t, "one", "T999")
	g := f.graph(t)
	if refs := g.Dangling[t1]; len(refs) != 1 || refs[0] != "T999" {
		t.Fatalf("dangling = %v", g.Dangling)
	}
	// Dangling blockers do not gate readiness.
	if got := readyIDs(g, false); !reflect.DeepEqual(got, []string{t1}) {
		t.Fatalf("ready = %v", got)
	}
}

func TestCPMSchedule(t *testing.T) {
	f := newFixture(t)
	a, err := f.st.CreateTask(f.epic, "a", store.CreateOptions{Effort: "1d"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := f.st.CreateTask(f.epic, "b", store.CreateOptions{Effort: "2h", BlockedBy: []string{a.Front.ID}})
	if err != nil {
		t.Fatal(err)
	}
	c, err := f.st.CreateTask(f.epic, "c", store.CreateOptions{BlockedBy: []string{a.Front.ID}})
	if err != nil {
		t.Fatal(err)
	}

	hours := func(effort string) float64 {
		switch effort {
		case "1d":
			return 8
		case "2h":
			return 2
		default:
			return 4 // configured default for missing effort
		}
	}
	s, err := f.graph(t).CPM(hours)
	if err != nil {
		t.Fatal(err)
	}
	ea, eb, ec := s.Entries[a.Front.ID], s.Entries[b.Front.ID], s.Entries[c.Front.ID]
	if ea.Start != 0 || ea.End != 8 {
		t.Errorf("a = %+v", ea)
	}
	if eb.Start != 8 || eb.End != 10 {
		t.Errorf("b = %+v", eb)
	}
	// Missing effort falls back to the default and still schedules finitely.
	if ec.Start != 8 || ec.End != 12 {
		t.Errorf("c = %+v", ec)
	}
	if s.TotalHours != 14 {
		t.Errorf("total = %v", s.TotalHours)
	}
	want := []string{a.Front.ID, c.Front.ID}
	if !reflect.DeepEqual(s.CriticalPath, want) {
		t.Errorf("critical path = %v, want %v", s.CriticalPath, want)
	}
	if s.CriticalHrs != 12 {
		t.Errorf("critical hours = %v", s.CriticalHrs)
	}
}

func TestCPMRejectsCycles(t *testing.T) {
	f := newFixture(t)
	t1 := f.task(t, "one")
	t2 := f.task(t, "two", t1)
	if _, err := f.st.SetBlockedBy(types.KindTask, t1, []string{t2}); err != nil {
		t.Fatal(err)
	}
	_, err := f.graph(t).CPM(func(string) float64 { return 1 })
	if !core.IsKind(err, core.KindValidation) {
		t.Fatalf("want validation error, got %v", err)
	}
}

func TestRealScheduleEnvelope(t *testing.T) {
	f := newFixture(t)
	t1 := f.task(t, "one")
	f.setStatus(t, t1, "wip")
	f.setStatus(t, t1, "Done")

	rs, err := f.graph(t).Real(func(string) float64 { return 1 })
	if err != nil {
		t.Fatal(err)
	}
	if rs.EarliestStart == nil || rs.LatestEnd == nil {
		t.Fatal("envelope missing actual timestamps")
	}
	if rs.LatestEnd.Before(*rs.EarliestStart) {
		t.Errorf("end %v before start %v", rs.LatestEnd, rs.EarliestStart)
	}
}
