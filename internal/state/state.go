// Package state owns the persistent ID counters and small key-value JSON
// files under the project control directory. The counters file is the only
// cross-process contention point in the core, so its read-modify-write cycle
// runs under an advisory file lock with a bounded acquisition timeout.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/sailing-dev/sailing/internal/core"
	"github.com/sailing-dev/sailing/internal/markdown"
	"github.com/sailing-dev/sailing/internal/types"
)

// Counters holds the next unallocated ID per artefact kind.
type Counters struct {
	PRD   int `json:"prd"`
	Epic  int `json:"epic"`
	Task  int `json:"task"`
	Story int `json:"story"`
	ADR   int `json:"adr"`
}

func (c *Counters) field(kind types.Kind) *int {
	switch kind {
	case types.KindProduct:
		return &c.PRD
	case types.KindEpic:
		return &c.Epic
	case types.KindTask:
		return &c.Task
	case types.KindStory:
		return &c.Story
	case types.KindDecision:
		return &c.ADR
	}
	return nil
}

// Store manages the counters file and sibling KV files.
type Store struct {
	path        string
	lockTimeout time.Duration
}

// New creates a store over the given state.json path.
func New(path string, lockTimeout time.Duration) *Store {
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	return &Store{path: path, lockTimeout: lockTimeout}
}

// Path returns the counters file path.
func (s *Store) Path() string { return s.path }

// Init writes a fresh counters file. Fails if one already exists unless
// force is set.
func (s *Store) Init(force bool) error {
	if !force {
		if _, err := os.Stat(s.path); err == nil {
			return core.Errorf(core.KindAlreadyExists, "state.init", "%s already exists", s.path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return core.Wrap(core.KindIO, "state.init", err)
	}
	return s.write(Counters{PRD: 1, Epic: 1, Task: 1, Story: 1, ADR: 1})
}

// Read returns the current counters without taking the lock. Missing file
// yields zeroed counters treated as "start at 1".
func (s *Store) Read() (Counters, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return Counters{PRD: 1, Epic: 1, Task: 1, Story: 1, ADR: 1}, nil
	}
	if err != nil {
		return Counters{}, core.Wrap(core.KindIO, "state.read", err)
	}
	var c Counters
	if err := json.Unmarshal(data, &c); err != nil {
		return Counters{}, core.Errorf(core.KindCorrupted, "state.read", "malformed %s: %v", s.path, err)
	}
	return c, nil
}

// NextID atomically allocates the next ID number for kind: lock, read,
// increment, write, unlock. Lock contention beyond the bounded timeout fails
// with a concurrency error.
func (s *Store) NextID(kind types.Kind) (int, error) {
	var allocated int
	err := s.withLock(func() error {
		c, err := s.Read()
		if err != nil {
			return err
		}
		p := c.field(kind)
		if p == nil {
			return core.Errorf(core.KindInvalidInput, "state.next", "kind %v has no counter", kind)
		}
		if *p <= 0 {
			*p = 1
		}
		allocated = *p
		*p++
		return s.write(c)
	})
	if err != nil {
		return 0, err
	}
	return allocated, nil
}

// SetNext forces a kind's counter to n (used by repair and by create's
// duplicate-retry path indirectly through NextID).
func (s *Store) SetNext(kind types.Kind, n int) error {
	if n <= 0 {
		return core.Errorf(core.KindInvalidInput, "state.set", "counter must be positive, got %d", n)
	}
	return s.withLock(func() error {
		c, err := s.Read()
		if err != nil {
			return err
		}
		p := c.field(kind)
		if p == nil {
			return core.Errorf(core.KindInvalidInput, "state.set", "kind %v has no counter", kind)
		}
		*p = n
		return s.write(c)
	})
}

func (s *Store) withLock(fn func() error) error {
	lock := flock.New(s.path + ".lock")
	ctx, cancel := context.WithTimeout(context.Background(), s.lockTimeout)
	defer cancel()
	locked, err := lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil || !locked {
		return core.Errorf(core.KindConcurrency, "state.lock",
			"could not acquire %s.lock within %v", s.path, s.lockTimeout)
	}
	defer func() { _ = lock.Unlock() }()
	return fn()
}

func (s *Store) write(c Counters) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return core.Wrap(core.KindIO, "state.write", err)
	}
	return markdown.AtomicWrite(s.path, append(data, '\n'))
}

// GetKV reads a sibling JSON key-value file into v. Missing file returns a
// not-found error.
func (s *Store) GetKV(name string, v any) error {
	path := s.kvPath(name)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return core.Errorf(core.KindNotFound, "state.kv", "%s", path)
	}
	if err != nil {
		return core.Wrap(core.KindIO, "state.kv", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return core.Errorf(core.KindCorrupted, "state.kv", "malformed %s: %v", path, err)
	}
	return nil
}

// PutKV writes v to a sibling JSON key-value file atomically.
func (s *Store) PutKV(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return core.Wrap(core.KindIO, "state.kv", err)
	}
	return markdown.AtomicWrite(s.kvPath(name), append(data, '\n'))
}

func (s *Store) kvPath(name string) string {
	return filepath.Join(filepath.Dir(s.path), fmt.Sprintf("%s.json", name))
}
