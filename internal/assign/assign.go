// Package assign implements the file-based claim protocol that hands Tasks
// to agents. Each Task gets one assignment file in the haven; a run sentinel
// marks a live claim and carries the claimant PID so crashed runs can be
// swept and reclaimed.
package assign

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"

	"github.com/sailing-dev/sailing/internal/core"
	"github.com/sailing-dev/sailing/internal/markdown"
	"github.com/sailing-dev/sailing/internal/memory"
	"github.com/sailing-dev/sailing/internal/paths"
	"github.com/sailing-dev/sailing/internal/store"
	"github.com/sailing-dev/sailing/internal/types"
)

// Assignment statuses.
const (
	StatusPending  = "pending"
	StatusClaimed  = "claimed"
	StatusComplete = "complete"
)

// Assignment is the per-Task handoff record.
type Assignment struct {
	TaskID      string     `yaml:"task_id"`
	EpicID      string     `yaml:"epic_id"`
	Operation   string     `yaml:"operation"`
	Status      string     `yaml:"status"`
	CreatedAt   time.Time  `yaml:"created_at"`
	ClaimedAt   *time.Time `yaml:"claimed_at,omitempty"`
	CompletedAt *time.Time `yaml:"completed_at,omitempty"`
	Success     *bool      `yaml:"success,omitempty"`
	ProjectHash string     `yaml:"project_hash"`
}

// Sentinel marks a live run of a claimed assignment.
type Sentinel struct {
	TaskID    string    `yaml:"task_id"`
	Operation string    `yaml:"operation"`
	StartedAt time.Time `yaml:"started_at"`
	PID       int       `yaml:"pid"`
}

// Manager operates the assignment and run directories for one project.
type Manager struct {
	st      *store.Store
	mem     *memory.Pipeline
	assign  string
	runs    string
	hash    string
	nowFunc func() time.Time
	alive   func(pid int) bool
}

// NewManager wires a manager over the project's haven.
func NewManager(st *store.Store, mem *memory.Pipeline) (*Manager, error) {
	assignDir, err := st.Paths().Location(paths.LocAssignments)
	if err != nil {
		return nil, err
	}
	runsDir, err := st.Paths().Location(paths.LocRuns)
	if err != nil {
		return nil, err
	}
	return &Manager{
		st:      st,
		mem:     mem,
		assign:  assignDir,
		runs:    runsDir,
		hash:    st.Paths().Hash(),
		nowFunc: func() time.Time { return time.Now().UTC() },
		alive:   pidAlive,
	}, nil
}

// pidAlive probes a process with the null signal. EPERM means the process
// exists but belongs to another user.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}

func (m *Manager) assignmentPath(taskID string) string {
	return filepath.Join(m.assign, taskID+".yaml")
}

func (m *Manager) sentinelPath(taskID string) string {
	return filepath.Join(m.runs, taskID+".run")
}

// Create writes a pending assignment for the Task. An existing assignment
// that is not complete is an error; a complete one is replaced.
func (m *Manager) Create(taskAny, operation string) (*Assignment, error) {
	entry, err := m.st.Entry(types.KindTask, taskAny)
	if err != nil {
		return nil, err
	}
	epicID := epicOf(entry)
	if epicID == "" {
		return nil, core.Errorf(core.KindValidation, "assign.create", "%s has no epic parent", entry.Key)
	}
	if existing, err := m.Get(entry.Key); err == nil && existing.Status != StatusComplete {
		return nil, core.Errorf(core.KindAlreadyExists, "assign.create", "%s already has a %s assignment", entry.Key, existing.Status)
	}
	a := &Assignment{
		TaskID:      entry.Key,
		EpicID:      epicID,
		Operation:   operation,
		Status:      StatusPending,
		CreatedAt:   m.nowFunc(),
		ProjectHash: m.hash,
	}
	if err := m.write(a); err != nil {
		return nil, err
	}
	return a, nil
}

// Get loads one assignment by Task ID (any accepted form).
func (m *Manager) Get(taskAny string) (*Assignment, error) {
	taskID := types.NormalizeID(types.KindTask, taskAny)
	if taskID == "" {
		return nil, core.Errorf(core.KindInvalidInput, "assign.get", "%q is not a task ID", taskAny)
	}
	data, err := os.ReadFile(m.assignmentPath(taskID))
	if os.IsNotExist(err) {
		return nil, core.Errorf(core.KindNotFound, "assign.get", "no assignment for %s", taskID)
	}
	if err != nil {
		return nil, core.Wrap(core.KindIO, "assign.get", err)
	}
	var a Assignment
	if err := yaml.Unmarshal(data, &a); err != nil {
		return nil, core.Errorf(core.KindCorrupted, "assign.get", "parsing assignment for %s: %v", taskID, err)
	}
	return &a, nil
}

// List returns this project's assignments, pending first, oldest first
// within a status. Records carrying another project's hash are skipped.
func (m *Manager) List() ([]*Assignment, error) {
	entries, err := os.ReadDir(m.assign)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, core.Wrap(core.KindIO, "assign.list", err)
	}
	var out []*Assignment
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		a, err := m.Get(strings.TrimSuffix(e.Name(), ".yaml"))
		if err != nil {
			continue
		}
		if a.ProjectHash != "" && a.ProjectHash != m.hash {
			continue
		}
		out = append(out, a)
	}
	rank := map[string]int{StatusPending: 0, StatusClaimed: 1, StatusComplete: 2}
	sort.Slice(out, func(i, j int) bool {
		if rank[out[i].Status] != rank[out[j].Status] {
			return rank[out[i].Status] < rank[out[j].Status]
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Delete removes an assignment and any sentinel for it.
func (m *Manager) Delete(taskAny string) error {
	a, err := m.Get(taskAny)
	if err != nil {
		return err
	}
	if err := os.Remove(m.assignmentPath(a.TaskID)); err != nil && !os.IsNotExist(err) {
		return core.Wrap(core.KindIO, "assign.delete", err)
	}
	if err := os.Remove(m.sentinelPath(a.TaskID)); err != nil && !os.IsNotExist(err) {
		return core.Wrap(core.KindIO, "assign.delete", err)
	}
	return nil
}

// ClaimOptions tune one claim attempt.
type ClaimOptions struct {
	// PID identifies the claimant; 0 means the current process.
	PID int
	// Force bypasses the pending-memory gate on the Epic.
	Force bool
	// Operation labels the assignment when the claim has to create it;
	// empty means implement.
	Operation string
}

// Claim transitions a pending assignment to claimed, writes the run
// sentinel, and returns the composed prompt. A task with no assignment yet
// gets a pending one created on the fly. Stale claims whose PID is dead are
// swept back to pending first.
func (m *Manager) Claim(taskAny string, opts ClaimOptions) (*Assignment, string, error) {
	if _, err := m.SweepOrphans(); err != nil {
		return nil, "", err
	}
	a, err := m.Get(taskAny)
	if core.IsNotFound(err) {
		op := opts.Operation
		if op == "" {
			op = "implement"
		}
		a, err = m.Create(taskAny, op)
	}
	if err != nil {
		return nil, "", err
	}
	switch a.Status {
	case StatusClaimed:
		return nil, "", core.Errorf(core.KindConcurrency, "assign.claim", "%s is already claimed", a.TaskID)
	case StatusComplete:
		return nil, "", core.Errorf(core.KindInvalidInput, "assign.claim", "%s is already complete", a.TaskID)
	}

	if !opts.Force {
		pending, err := m.mem.EpicHasPending(a.EpicID)
		if err != nil {
			return nil, "", err
		}
		if pending {
			return nil, "", core.Errorf(core.KindValidation, "assign.claim",
				"%s has unsynced task logs; run memory sync for %s or claim with force", a.EpicID, a.EpicID)
		}
	}

	prompt, err := m.ComposePrompt(a)
	if err != nil {
		return nil, "", err
	}

	pid := opts.PID
	if pid == 0 {
		pid = os.Getpid()
	}
	now := m.nowFunc()
	s := &Sentinel{TaskID: a.TaskID, Operation: a.Operation, StartedAt: now, PID: pid}
	// The sentinel's exclusive creation decides between racing claimants;
	// only the winner records the claim on the assignment.
	if err := m.createSentinel(s); err != nil {
		return nil, "", err
	}
	a.Status = StatusClaimed
	a.ClaimedAt = &now
	if err := m.write(a); err != nil {
		os.Remove(m.sentinelPath(a.TaskID))
		return nil, "", err
	}
	return a, prompt, nil
}

// SetSentinelPID rebinds a claim's sentinel to the actual worker process,
// once the orchestrator knows its PID.
func (m *Manager) SetSentinelPID(taskAny string, pid int) error {
	a, err := m.Get(taskAny)
	if err != nil {
		return err
	}
	s, err := m.readSentinel(a.TaskID)
	if err != nil {
		return err
	}
	s.PID = pid
	return m.writeSentinel(s)
}

// ReleaseResult reports what release observed.
type ReleaseResult struct {
	Assignment *Assignment `json:"assignment"`
	// MissingTip is set when the task log holds no TIP entry; release
	// proceeds anyway, this is advisory.
	MissingTip bool `json:"missing_tip,omitempty"`
}

// Release completes a claimed assignment. The caller's PID must match the
// sentinel; success records the run outcome.
func (m *Manager) Release(taskAny string, pid int, success bool) (*ReleaseResult, error) {
	a, err := m.Get(taskAny)
	if err != nil {
		return nil, err
	}
	if a.Status != StatusClaimed {
		return nil, core.Errorf(core.KindInvalidInput, "assign.release", "%s is %s, not claimed", a.TaskID, a.Status)
	}
	s, err := m.readSentinel(a.TaskID)
	if err != nil {
		return nil, err
	}
	if pid == 0 {
		pid = os.Getpid()
	}
	if s.PID != pid {
		return nil, core.Errorf(core.KindConcurrency, "assign.release",
			"%s is claimed by pid %d, not %d", a.TaskID, s.PID, pid)
	}

	tip, err := m.mem.HasTip(a.TaskID)
	if err != nil {
		return nil, err
	}

	now := m.nowFunc()
	a.Status = StatusComplete
	a.CompletedAt = &now
	a.Success = &success
	if err := m.write(a); err != nil {
		return nil, err
	}
	if err := os.Remove(m.sentinelPath(a.TaskID)); err != nil && !os.IsNotExist(err) {
		return nil, core.Wrap(core.KindIO, "assign.release", err)
	}
	return &ReleaseResult{Assignment: a, MissingTip: !tip}, nil
}

// Complete force-completes an assignment regardless of sentinel state, for
// operator cleanup after a wedged run.
func (m *Manager) Complete(taskAny string, success bool) (*Assignment, error) {
	a, err := m.Get(taskAny)
	if err != nil {
		return nil, err
	}
	now := m.nowFunc()
	a.Status = StatusComplete
	a.CompletedAt = &now
	a.Success = &success
	if err := m.write(a); err != nil {
		return nil, err
	}
	if err := os.Remove(m.sentinelPath(a.TaskID)); err != nil && !os.IsNotExist(err) {
		return nil, core.Wrap(core.KindIO, "assign.complete", err)
	}
	return a, nil
}

// SweepOrphans reverts claimed assignments whose sentinel PID is dead (or
// whose sentinel vanished) back to pending, and returns the swept task IDs.
func (m *Manager) SweepOrphans() ([]string, error) {
	list, err := m.List()
	if err != nil {
		return nil, err
	}
	var swept []string
	for _, a := range list {
		if a.Status != StatusClaimed {
			continue
		}
		s, err := m.readSentinel(a.TaskID)
		if err == nil && m.alive(s.PID) {
			continue
		}
		a.Status = StatusPending
		a.ClaimedAt = nil
		if err := m.write(a); err != nil {
			return swept, err
		}
		if err := os.Remove(m.sentinelPath(a.TaskID)); err != nil && !os.IsNotExist(err) {
			return swept, core.Wrap(core.KindIO, "assign.sweep", err)
		}
		swept = append(swept, a.TaskID)
	}
	return swept, nil
}

func (m *Manager) write(a *Assignment) error {
	if err := os.MkdirAll(m.assign, 0o755); err != nil {
		return core.Wrap(core.KindIO, "assign.write", err)
	}
	data, err := yaml.Marshal(a)
	if err != nil {
		return core.Wrap(core.KindIO, "assign.write", err)
	}
	return markdown.AtomicWrite(m.assignmentPath(a.TaskID), data)
}

// createSentinel writes a new sentinel with O_EXCL so exactly one claimant
// can hold a task's run at a time.
func (m *Manager) createSentinel(s *Sentinel) error {
	if err := os.MkdirAll(m.runs, 0o755); err != nil {
		return core.Wrap(core.KindIO, "assign.sentinel", err)
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return core.Wrap(core.KindIO, "assign.sentinel", err)
	}
	f, err := os.OpenFile(m.sentinelPath(s.TaskID), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if os.IsExist(err) {
		return core.Errorf(core.KindConcurrency, "assign.claim", "%s is already claimed", s.TaskID)
	}
	if err != nil {
		return core.Wrap(core.KindIO, "assign.sentinel", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return core.Wrap(core.KindIO, "assign.sentinel", err)
	}
	if err := f.Close(); err != nil {
		return core.Wrap(core.KindIO, "assign.sentinel", err)
	}
	return nil
}

func (m *Manager) writeSentinel(s *Sentinel) error {
	if err := os.MkdirAll(m.runs, 0o755); err != nil {
		return core.Wrap(core.KindIO, "assign.sentinel", err)
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return core.Wrap(core.KindIO, "assign.sentinel", err)
	}
	return markdown.AtomicWrite(m.sentinelPath(s.TaskID), data)
}

func (m *Manager) readSentinel(taskID string) (*Sentinel, error) {
	data, err := os.ReadFile(m.sentinelPath(taskID))
	if os.IsNotExist(err) {
		return nil, core.Errorf(core.KindNotFound, "assign.sentinel", "no run sentinel for %s", taskID)
	}
	if err != nil {
		return nil, core.Wrap(core.KindIO, "assign.sentinel", err)
	}
	var s Sentinel
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, core.Errorf(core.KindCorrupted, "assign.sentinel", "parsing sentinel for %s: %v", taskID, err)
	}
	return &s, nil
}

func epicOf(e *store.IndexEntry) string {
	for _, pid := range types.ParentIDs(e.Front.Parent) {
		if canon := types.NormalizeID(types.KindEpic, pid); canon != "" {
			return canon
		}
	}
	return ""
}
