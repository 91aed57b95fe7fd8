// Package watch emits debounced change notifications for the project's
// artefact, memory and run directories, so long-lived commands can refresh
// without polling.
package watch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sailing-dev/sailing/internal/core"
	"github.com/sailing-dev/sailing/internal/paths"
)

// Collection names events by origin.
const (
	CollectionArtefacts = "artefacts"
	CollectionMemory    = "memory"
	CollectionRuns      = "runs"
)

// Event is one debounced change.
type Event struct {
	Path       string
	Collection string
	Op         string // create, write, remove, rename, chmod
}

// Handler consumes events.
type Handler func(Event)

// Debouncer coalesces bursts of triggers into one callback after a quiet
// period.
type Debouncer struct {
	delay time.Duration
	fn    func()
	mu    sync.Mutex
	timer *time.Timer
}

// NewDebouncer builds a debouncer calling fn once per burst.
func NewDebouncer(delay time.Duration, fn func()) *Debouncer {
	return &Debouncer{delay: delay, fn: fn}
}

// Trigger starts or restarts the quiet-period timer.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fn)
}

// Cancel drops any pending callback.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

type subscription struct {
	id       int
	patterns []string
	fn       Handler
}

// Watcher fans debounced filesystem events out to pattern-filtered
// subscribers, in subscription order.
type Watcher struct {
	fsw      *fsnotify.Watcher
	debounce time.Duration
	roots    map[string]string // dir -> collection

	mu      sync.Mutex
	subs    []*subscription
	nextID  int
	pending map[string]Event
	flusher *Debouncer
}

// New builds a watcher over the project's watched collections. Missing
// directories are created so they can be watched from the start.
func New(res *paths.Resolver, debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, core.Wrap(core.KindIO, "watch.new", err)
	}
	w := &Watcher{
		fsw:      fsw,
		debounce: debounce,
		roots:    map[string]string{},
		pending:  map[string]Event{},
	}
	w.flusher = NewDebouncer(debounce, w.flush)

	for loc, coll := range map[string]string{
		paths.LocArtefacts: CollectionArtefacts,
		paths.LocMemory:    CollectionMemory,
		paths.LocRuns:      CollectionRuns,
	} {
		dir, err := res.Location(loc)
		if err != nil {
			fsw.Close()
			return nil, err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fsw.Close()
			return nil, core.Wrap(core.KindIO, "watch.new", err)
		}
		w.roots[dir] = coll
		if err := w.addRecursive(dir); err != nil {
			fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

// Subscribe registers a handler for events whose base name matches any of
// the glob patterns (nil means all). The returned func cancels it.
func (w *Watcher) Subscribe(patterns []string, fn Handler) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextID++
	sub := &subscription{id: w.nextID, patterns: patterns, fn: fn}
	w.subs = append(w.subs, sub)
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		for i, s := range w.subs {
			if s.id == sub.id {
				w.subs = append(w.subs[:i], w.subs[i+1:]...)
				return
			}
		}
	}
}

// Run pumps events until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()
	defer w.flusher.Cancel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			if err != nil {
				return core.Wrap(core.KindIO, "watch.run", err)
			}
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	// New directories join the watch so nested artefact trees keep working.
	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			_ = w.addRecursive(ev.Name)
		}
	}
	coll := w.collectionOf(ev.Name)
	if coll == "" {
		return
	}
	w.mu.Lock()
	// Last op wins per path within a burst.
	w.pending[ev.Name] = Event{Path: ev.Name, Collection: coll, Op: opString(ev.Op)}
	w.mu.Unlock()
	w.flusher.Trigger()
}

// flush delivers the coalesced batch, path-ordered, to each subscriber in
// subscription order.
func (w *Watcher) flush() {
	w.mu.Lock()
	batch := make([]Event, 0, len(w.pending))
	for _, ev := range w.pending {
		batch = append(batch, ev)
	}
	w.pending = map[string]Event{}
	subs := make([]*subscription, len(w.subs))
	copy(subs, w.subs)
	w.mu.Unlock()

	sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })
	for _, ev := range batch {
		base := filepath.Base(ev.Path)
		for _, sub := range subs {
			if matches(sub.patterns, base) {
				sub.fn(ev)
			}
		}
	}
}

func matches(patterns []string, base string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if ok, err := filepath.Match(p, base); err == nil && ok {
			return true
		}
	}
	return false
}

func (w *Watcher) collectionOf(path string) string {
	for dir, coll := range w.roots {
		if path == dir || strings.HasPrefix(path, dir+string(filepath.Separator)) {
			return coll
		}
	}
	return ""
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			return core.Wrap(core.KindIO, "watch.add", err)
		}
		return nil
	})
}

func opString(op fsnotify.Op) string {
	switch {
	case op&fsnotify.Create != 0:
		return "create"
	case op&fsnotify.Write != 0:
		return "write"
	case op&fsnotify.Remove != 0:
		return "remove"
	case op&fsnotify.Rename != 0:
		return "rename"
	default:
		return "chmod"
	}
}
