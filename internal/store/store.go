// Package store translates between on-disk artefacts and typed records, and
// maintains the lazy per-kind indexes.
//
// The index holds non-owning references (paths plus cached front-matter).
// Every mutating operation invalidates it; the next read rebuilds by scanning
// the artefacts tree. External edits are therefore tolerated: they surface at
// the next rebuild.
package store

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sailing-dev/sailing/internal/core"
	"github.com/sailing-dev/sailing/internal/markdown"
	"github.com/sailing-dev/sailing/internal/paths"
	"github.com/sailing-dev/sailing/internal/state"
	"github.com/sailing-dev/sailing/internal/templates"
	"github.com/sailing-dev/sailing/internal/types"
)

// IndexEntry is one artefact's cached index record.
type IndexEntry struct {
	ID         string // canonical ID from front-matter (may disagree with Key)
	Key        string // canonical ID derived from the file/directory name
	Path       string
	ParentDir  string
	Front      types.FrontMatter
	CreatedAt  time.Time
	ModifiedAt time.Time
	Degraded   bool // front-matter failed to parse; Front is zero
}

// Store is the artefact store and index.
type Store struct {
	res   *paths.Resolver
	state *state.Store
	tmpl  *templates.Loader
	warnf func(format string, args ...any)

	mu  sync.RWMutex
	idx map[types.Kind]map[string]*IndexEntry // nil when invalidated
	gen uint64
}

// Option configures a Store.
type Option func(*Store)

// WithWarnFunc redirects index warnings (default: stderr).
func WithWarnFunc(f func(format string, args ...any)) Option {
	return func(s *Store) { s.warnf = f }
}

// Open creates a store over the project identified by res.
func Open(res *paths.Resolver, st *state.Store, opts ...Option) *Store {
	s := &Store{
		res:   res,
		state: st,
		tmpl:  templates.NewLoader(mustTemplatesDir(res)),
		warnf: func(format string, args ...any) { fmt.Fprintf(os.Stderr, "warning: "+format+"\n", args...) },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func mustTemplatesDir(res *paths.Resolver) string {
	dir, err := res.Location(paths.LocTemplates)
	if err != nil {
		return ""
	}
	return dir
}

// Paths exposes the resolver for collaborators that need locations.
func (s *Store) Paths() *paths.Resolver { return s.res }

// Templates exposes the template loader.
func (s *Store) Templates() *templates.Loader { return s.tmpl }

// Invalidate drops the in-memory indexes; the next read rebuilds them.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.idx = nil
	s.gen++
	s.mu.Unlock()
}

// Generation returns the index generation counter. It increments on every
// invalidation, letting caches detect staleness.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// Index returns the entry map for a kind, rebuilding lazily.
func (s *Store) Index(kind types.Kind) (map[string]*IndexEntry, error) {
	s.mu.RLock()
	if s.idx != nil {
		m := s.idx[kind]
		s.mu.RUnlock()
		return m, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idx == nil {
		idx, err := s.rebuild()
		if err != nil {
			return nil, err
		}
		s.idx = idx
	}
	return s.idx[kind], nil
}

// List returns a kind's entries sorted by canonical key.
func (s *Store) List(kind types.Kind) ([]*IndexEntry, error) {
	m, err := s.Index(kind)
	if err != nil {
		return nil, err
	}
	out := make([]*IndexEntry, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Resolver builds an ID resolver over a kind's known canonical keys.
func (s *Store) Resolver(kind types.Kind) (*types.Resolver, error) {
	m, err := s.Index(kind)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(m))
	for k := range m {
		ids = append(ids, k)
	}
	return types.NewResolver(kind, ids), nil
}

// Get looks an artefact up by any accepted ID form and loads its current
// content from disk. Returns a not-found error when the ID is unknown.
func (s *Store) Get(kind types.Kind, idAny string) (*types.Artefact, error) {
	e, err := s.Entry(kind, idAny)
	if err != nil {
		return nil, err
	}
	fm, body, err := markdown.ReadFile(e.Path)
	if err != nil {
		return nil, err
	}
	return &types.Artefact{Kind: kind, Path: e.Path, Front: fm, Body: body}, nil
}

// Entry resolves an ID to its index entry without reading the file body.
func (s *Store) Entry(kind types.Kind, idAny string) (*IndexEntry, error) {
	m, err := s.Index(kind)
	if err != nil {
		return nil, err
	}
	canon := types.NormalizeID(kind, idAny)
	if canon == "" {
		return nil, core.Errorf(core.KindInvalidInput, "store.get", "malformed %s ID %q", kind, idAny)
	}
	e, ok := m[canon]
	if !ok {
		return nil, core.Errorf(core.KindNotFound, "store.get", "%s not found", canon)
	}
	return e, nil
}

// filePattern extracts the leading ID token from artefact file names:
// "T012a-split-login.md" -> "T012a".
var filePattern = regexp.MustCompile(`^((?:PRD-|ADR-|E|T|S)\d+[a-z]?)(?:-.*)?\.md$`)

// dirPattern matches product directory names: "PRD-001-auth".
var dirPattern = regexp.MustCompile(`^(PRD-\d+)(?:-.*)?$`)

// rebuild scans the artefacts tree and reconstructs every kind's index.
// Caller holds the write lock.
func (s *Store) rebuild() (map[types.Kind]map[string]*IndexEntry, error) {
	idx := make(map[types.Kind]map[string]*IndexEntry, len(types.Kinds()))
	for _, k := range types.Kinds() {
		idx[k] = map[string]*IndexEntry{}
	}

	root, err := s.res.Location(paths.LocArtefacts)
	if err != nil {
		return nil, err
	}

	prdsDir := filepath.Join(root, "prds")
	entries, err := os.ReadDir(prdsDir)
	if err != nil && !os.IsNotExist(err) {
		return nil, core.Wrap(core.KindIO, "store.index", err)
	}
	for _, de := range entries {
		if !de.IsDir() {
			continue
		}
		m := dirPattern.FindStringSubmatch(de.Name())
		if m == nil {
			continue
		}
		prdDir := filepath.Join(prdsDir, de.Name())
		prdKey := types.NormalizeID(types.KindProduct, m[1])
		s.addEntry(idx, types.KindProduct, prdKey, filepath.Join(prdDir, "prd.md"))

		// Epics, tasks and stories live under the product directory, flat or
		// nested (tree branching); a recursive walk covers both.
		_ = filepath.WalkDir(prdDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			fm := filePattern.FindStringSubmatch(d.Name())
			if fm == nil {
				return nil
			}
			kind, ok := types.KindOfID(fm[1])
			if !ok || kind == types.KindProduct || kind == types.KindDecision {
				return nil
			}
			key := types.NormalizeID(kind, fm[1])
			s.addEntry(idx, kind, key, path)
			return nil
		})
	}

	// Decision records: independent hierarchy.
	adrsDir := filepath.Join(root, "adrs")
	if adrEntries, err := os.ReadDir(adrsDir); err == nil {
		for _, de := range adrEntries {
			if de.IsDir() {
				continue
			}
			m := filePattern.FindStringSubmatch(de.Name())
			if m == nil || !strings.HasPrefix(m[1], "ADR-") {
				continue
			}
			key := types.NormalizeID(types.KindDecision, m[1])
			s.addEntry(idx, types.KindDecision, key, filepath.Join(adrsDir, de.Name()))
		}
	}

	return idx, nil
}

// addEntry loads one candidate file into the index, degrading (not failing)
// on malformed front-matter and warning on duplicate keys unless both sides
// are terminal.
func (s *Store) addEntry(idx map[types.Kind]map[string]*IndexEntry, kind types.Kind, key, path string) {
	if key == "" {
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		return
	}

	e := &IndexEntry{
		Key:        key,
		Path:       path,
		ParentDir:  filepath.Dir(path),
		ModifiedAt: info.ModTime(),
	}
	data, err := os.ReadFile(path)
	if err != nil {
		s.warnf("index: unreadable %s: %v", path, err)
		e.Degraded = true
	} else {
		fm, _, warn := markdown.Parse(string(data))
		if warn != nil {
			s.warnf("index: %s: %v", path, warn)
			e.Degraded = true
		}
		e.Front = fm
		e.ID = fm.ID
		if fm.CreatedAt != nil {
			e.CreatedAt = *fm.CreatedAt
		}
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = info.ModTime()
	}

	if prev, ok := idx[kind][key]; ok {
		// Terminal duplicates are tolerated (e.g. a split task closed under
		// both halves); anything else gets a warning. First entry wins.
		if !(types.IsTerminal(prev.Front.Status) && types.IsTerminal(e.Front.Status)) {
			s.warnf("index: duplicate %s at %s and %s", key, prev.Path, path)
		}
		return
	}
	idx[kind][key] = e
}

// Load reads a raw artefact file: front-matter plus body.
func (s *Store) Load(path string) (types.FrontMatter, string, error) {
	return markdown.ReadFile(path)
}

// Save atomically writes a raw artefact file and invalidates the index.
func (s *Store) Save(path string, fm types.FrontMatter, body string) error {
	if err := markdown.WriteFile(path, fm, body); err != nil {
		return err
	}
	s.Invalidate()
	return nil
}
