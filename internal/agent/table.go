package agent

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/sailing-dev/sailing/internal/core"
)

// State is an agent lifecycle state.
type State string

const (
	StateSpawned   State = "spawned"
	StateRunning   State = "running"
	StateCompleted State = "completed" // process exited 0, work not yet reaped
	StateError     State = "error"     // process exited non-zero
	StateKilled    State = "killed"    // watchdog or operator kill
	StateRejected  State = "rejected"  // reap found the work unacceptable
	StateReaped    State = "reaped"    // outcome recorded, branch intact
	StateConflict  State = "conflict"  // merge hit conflicts
	StateMerged    State = "merged"    // branch merged into main
	StateCollected State = "collected" // worktree and branch cleaned up
)

// transitions lists the legal successor states.
var transitions = map[State][]State{
	StateSpawned:   {StateRunning, StateError, StateKilled},
	StateRunning:   {StateCompleted, StateError, StateKilled},
	StateCompleted: {StateReaped, StateRejected},
	StateError:     {StateReaped, StateRejected, StateCollected},
	StateKilled:    {StateReaped, StateRejected, StateCollected},
	StateRejected:  {StateCollected},
	StateReaped:    {StateMerged, StateConflict, StateCollected},
	StateConflict:  {StateMerged, StateCollected},
	StateMerged:    {StateCollected},
	StateCollected: {},
}

// Terminal reports whether no further transitions are expected.
func (s State) Terminal() bool { return s == StateCollected }

// CanTransition reports whether s -> next is a legal step.
func (s State) CanTransition(next State) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Record is one row of the agent table. The Task ID doubles as the agent
// identity: one live agent per Task.
type Record struct {
	TaskID      string    `json:"task_id"`
	Operation   string    `json:"operation"`
	Branch      string    `json:"branch"`
	Worktree    string    `json:"worktree,omitempty"`
	LogFile     string    `json:"log_file,omitempty"`
	PID         int       `json:"pid,omitempty"`
	State       State     `json:"state"`
	SpawnedAt   time.Time `json:"spawned_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	ExitCode    *int      `json:"exit_code,omitempty"`
	Dirty       bool      `json:"dirty,omitempty"`
	Error       string    `json:"error,omitempty"`
	ProjectHash string    `json:"project_hash"`
}

// Table is the line-delimited JSON agent registry in the haven. Writes are
// serialized by an in-process mutex plus a sibling lock file, so concurrent
// CLI invocations do not interleave.
type Table struct {
	path        string
	hash        string
	lockTimeout time.Duration
	mu          sync.Mutex
}

// NewTable opens the registry at path, filtering records to projectHash.
func NewTable(path, projectHash string, lockTimeout time.Duration) *Table {
	return &Table{path: path, hash: projectHash, lockTimeout: lockTimeout}
}

// Path returns the table file location.
func (t *Table) Path() string { return t.path }

// All returns this project's records, oldest spawn first.
func (t *Table) All() ([]*Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readLocked()
}

// Get returns the record for a Task.
func (t *Table) Get(taskID string) (*Record, error) {
	recs, err := t.All()
	if err != nil {
		return nil, err
	}
	for _, r := range recs {
		if r.TaskID == taskID {
			return r, nil
		}
	}
	return nil, core.Errorf(core.KindNotFound, "agent.table", "no agent record for %s", taskID)
}

// Put upserts a record keyed by Task ID.
func (t *Table) Put(rec *Record) error {
	rec.ProjectHash = t.hash
	rec.UpdatedAt = time.Now().UTC()
	return t.rewrite(func(recs []*Record) ([]*Record, error) {
		for i, r := range recs {
			if r.TaskID == rec.TaskID {
				recs[i] = rec
				return recs, nil
			}
		}
		return append(recs, rec), nil
	})
}

// Transition moves a record to next, enforcing the state machine, and lets
// apply mutate the rest of the row in the same write.
func (t *Table) Transition(taskID string, next State, apply func(*Record)) (*Record, error) {
	var out *Record
	err := t.rewrite(func(recs []*Record) ([]*Record, error) {
		for _, r := range recs {
			if r.TaskID != taskID {
				continue
			}
			if !r.State.CanTransition(next) {
				return nil, core.Errorf(core.KindValidation, "agent.table",
					"%s: illegal transition %s -> %s", taskID, r.State, next)
			}
			r.State = next
			r.UpdatedAt = time.Now().UTC()
			if apply != nil {
				apply(r)
			}
			out = r
			return recs, nil
		}
		return nil, core.Errorf(core.KindNotFound, "agent.table", "no agent record for %s", taskID)
	})
	return out, err
}

// Remove drops a record.
func (t *Table) Remove(taskID string) error {
	return t.rewrite(func(recs []*Record) ([]*Record, error) {
		for i, r := range recs {
			if r.TaskID == taskID {
				return append(recs[:i], recs[i+1:]...), nil
			}
		}
		return nil, core.Errorf(core.KindNotFound, "agent.table", "no agent record for %s", taskID)
	})
}

// rewrite applies fn to this project's records and writes the table back,
// preserving other projects' rows untouched.
func (t *Table) rewrite(fn func([]*Record) ([]*Record, error)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	lock := flock.New(t.path + ".lock")
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return core.Wrap(core.KindIO, "agent.table", err)
	}
	locked, err := lock.TryLock()
	deadline := time.Now().Add(t.lockTimeout)
	for err == nil && !locked && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
		locked, err = lock.TryLock()
	}
	if err != nil {
		return core.Wrap(core.KindIO, "agent.table", err)
	}
	if !locked {
		return core.Errorf(core.KindConcurrency, "agent.table", "timed out locking %s", t.path)
	}
	defer func() { _ = lock.Unlock() }()

	mine, foreign, err := t.readAllLocked()
	if err != nil {
		return err
	}
	mine, err = fn(mine)
	if err != nil {
		return err
	}

	var b strings.Builder
	for _, r := range append(foreign, mine...) {
		line, err := json.Marshal(r)
		if err != nil {
			return core.Wrap(core.KindIO, "agent.table", err)
		}
		b.Write(line)
		b.WriteByte('\n')
	}
	tmp, err := os.CreateTemp(filepath.Dir(t.path), ".agents-*")
	if err != nil {
		return core.Wrap(core.KindIO, "agent.table", err)
	}
	if _, err := tmp.WriteString(b.String()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return core.Wrap(core.KindIO, "agent.table", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return core.Wrap(core.KindIO, "agent.table", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return core.Wrap(core.KindIO, "agent.table", err)
	}
	if err := os.Rename(tmp.Name(), t.path); err != nil {
		os.Remove(tmp.Name())
		return core.Wrap(core.KindIO, "agent.table", err)
	}
	return nil
}

func (t *Table) readLocked() ([]*Record, error) {
	mine, _, err := t.readAllLocked()
	return mine, err
}

func (t *Table) readAllLocked() (mine, foreign []*Record, err error) {
	f, err := os.Open(t.path)
	if os.IsNotExist(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, core.Wrap(core.KindIO, "agent.table", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var r Record
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			// A torn line is dropped rather than wedging every command.
			continue
		}
		if r.ProjectHash == t.hash {
			mine = append(mine, &r)
		} else {
			foreign = append(foreign, &r)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, nil, core.Wrap(core.KindIO, "agent.table", err)
	}
	sort.Slice(mine, func(i, j int) bool { return mine[i].SpawnedAt.Before(mine[j].SpawnedAt) })
	return mine, foreign, nil
}
