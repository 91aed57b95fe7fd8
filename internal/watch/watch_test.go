package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sailing-dev/sailing/internal/paths"
)

func newWatcher(t *testing.T) (*Watcher, *paths.Resolver, context.CancelFunc) {
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
	w, err := New(res, 50*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = w.Run(ctx) }()
	t.Cleanup(cancel)
	return w, res, cancel
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}

func TestDebouncedBatchDelivery(t *testing.T) {
	w, res, _ := newWatcher(t)
	rec := &recorder{}
	w.Subscribe(nil, rec.handle)

	dir, err := res.Location(paths.LocArtefacts)
	if err != nil {
		t.Fatal(err)
	}
	// A burst of writes to one file collapses into one event.
	path := filepath.Join(dir, "note.md")
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte("v"), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	waitFor(t, func() bool { return len(rec.snapshot()) >= 1 })
	time.Sleep(150 * time.Millisecond)

	events := rec.snapshot()
	if len(events) != 1 {
		t.Fatalf("burst produced %d events: %+v", len(events), events)
	}
	if events[0].Collection != CollectionArtefacts || events[0].Path != path {
		t.Errorf("event = %+v", events[0])
	}
}

func TestPatternFilteringAndOrder(t *testing.T) {
	w, res, _ := newWatcher(t)
	all := &recorder{}
	mdOnly := &recorder{}
	w.Subscribe(nil, all.handle)
	w.Subscribe([]string{"*.md"}, mdOnly.handle)

	memDir, err := res.Location(paths.LocMemory)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(memDir, "E001.md"), []byte("m"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(memDir, "T001.log"), []byte("l"), 0o644); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return len(all.snapshot()) >= 2 })
	md := mdOnly.snapshot()
	if len(md) != 1 || filepath.Base(md[0].Path) != "E001.md" {
		t.Fatalf("filtered events = %+v", md)
	}
	for _, ev := range all.snapshot() {
		if ev.Collection != CollectionMemory {
			t.Errorf("collection = %+v", ev)
		}
	}
}

func TestNewSubdirectoriesAreWatched(t *testing.T) {
	w, res, _ := newWatcher(t)
	rec := &recorder{}
	w.Subscribe([]string{"*.md"}, rec.handle)

	dir, err := res.Location(paths.LocArtefacts)
	if err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(dir, "prds", "PRD-001-proj", "tasks")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	// Give the watcher a beat to pick up the new directories.
	time.Sleep(200 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(nested, "T001-one.md"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		for _, ev := range rec.snapshot() {
			if filepath.Base(ev.Path) == "T001-one.md" {
				return true
			}
		}
		return false
	})
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	w, res, _ := newWatcher(t)
	rec := &recorder{}
	cancel := w.Subscribe(nil, rec.handle)
	cancel()

	dir, _ := res.Location(paths.LocRuns)
	if err := os.WriteFile(filepath.Join(dir, "T001.run"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 0 {
		t.Fatalf("cancelled subscriber got %+v", got)
	}
}
