// Package agent orchestrates worker processes: each agent executes one Task
// on its own branch in its own git worktree, watched over by a budget/timeout
// watchdog, with its lifecycle recorded in the haven's agent table.
package agent

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sailing-dev/sailing/internal/assign"
	"github.com/sailing-dev/sailing/internal/config"
	"github.com/sailing-dev/sailing/internal/core"
	"github.com/sailing-dev/sailing/internal/git"
	"github.com/sailing-dev/sailing/internal/memory"
	"github.com/sailing-dev/sailing/internal/paths"
	"github.com/sailing-dev/sailing/internal/store"
	"github.com/sailing-dev/sailing/internal/types"
)

// Options configure the runner. The CLI fills them from config; tests inject
// them directly.
type Options struct {
	Command          []string // agent executable and args; the prompt arrives on stdin
	UseWorktree      bool
	MainBranch       string
	WatchdogTimeout  time.Duration
	WatchdogInterval time.Duration
	GracePeriod      time.Duration
	ReapTimeout      time.Duration
	// BudgetUSD caps the run cost; CostFunc reports the current spend for a
	// record. Budget enforcement is skipped when CostFunc is nil.
	BudgetUSD float64
	CostFunc  func(*Record) (float64, bool)
}

// OptionsFromConfig builds runner options from the configuration singleton.
func OptionsFromConfig() Options {
	return Options{
		Command:          config.GetStringSlice("agent.command"),
		UseWorktree:      config.GetBool("agent.use-worktree"),
		MainBranch:       config.GetString("main-branch"),
		WatchdogTimeout:  config.GetDuration("agent.watchdog-timeout"),
		WatchdogInterval: config.GetDuration("agent.watchdog-interval"),
		GracePeriod:      config.GetDuration("agent.grace-period"),
		ReapTimeout:      config.GetDuration("agent.reap-timeout"),
		BudgetUSD:        config.GetFloat("agent.max-budget-usd"),
	}
}

// Runner drives agent lifecycles for one project.
type Runner struct {
	st     *store.Store
	mem    *memory.Pipeline
	asn    *assign.Manager
	repo   *git.Repo
	table  *Table
	opts   Options
	wtRoot string
	logDir string
}

// NewRunner wires a runner over the project's haven and repository.
func NewRunner(st *store.Store, mem *memory.Pipeline, asn *assign.Manager, repo *git.Repo, opts Options) (*Runner, error) {
	wtRoot, err := st.Paths().Location(paths.LocWorktrees)
	if err != nil {
		return nil, err
	}
	logDir, err := st.Paths().Location(paths.LocAgents)
	if err != nil {
		return nil, err
	}
	tablePath, err := st.Paths().AgentTablePath()
	if err != nil {
		return nil, err
	}
	return &Runner{
		st:     st,
		mem:    mem,
		asn:    asn,
		repo:   repo,
		table:  NewTable(tablePath, st.Paths().Hash(), config.LockTimeout()),
		opts:   opts,
		wtRoot: wtRoot,
		logDir: logDir,
	}, nil
}

// Table exposes the agent registry.
func (r *Runner) Table() *Table { return r.table }

// LogPath returns the agent log location for a Task.
func (r *Runner) LogPath(taskID string) string {
	return filepath.Join(r.logDir, taskID+".log")
}

// Handle tracks one spawned agent process in this orchestrator process.
type Handle struct {
	Record *Record
	cmd    *exec.Cmd
	runner *Runner
	logger *lumberjack.Logger
}

// Spawn claims the Task, creates its branch and worktree, starts the agent
// process in its own process group and registers it in the table.
func (r *Runner) Spawn(taskAny, operation string, force bool) (*Handle, error) {
	if len(r.opts.Command) == 0 {
		return nil, core.Errorf(core.KindConfig, "agent.spawn", "agent.command is not configured")
	}
	entry, err := r.st.Entry(types.KindTask, taskAny)
	if err != nil {
		return nil, err
	}
	taskID := entry.Key

	if err := r.Preflight(taskID); err != nil {
		return nil, err
	}
	a, prompt, err := r.asn.Claim(taskID, assign.ClaimOptions{Force: force, Operation: operation})
	if err != nil {
		return nil, err
	}

	branch := taskID
	workDir := r.repo.Root()
	worktree := ""
	if r.opts.UseWorktree {
		worktree = filepath.Join(r.wtRoot, taskID)
		if err := r.repo.AddWorktree(worktree, branch, r.opts.MainBranch); err != nil {
			return nil, err
		}
		workDir = worktree
	} else {
		if err := r.repo.CreateBranch(branch, r.opts.MainBranch); err != nil {
			return nil, err
		}
		if err := r.repo.Checkout(branch); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(r.logDir, 0o755); err != nil {
		return nil, core.Wrap(core.KindIO, "agent.spawn", err)
	}
	logger := &lumberjack.Logger{
		Filename:   r.LogPath(taskID),
		MaxSize:    10, // megabytes
		MaxBackups: 3,
	}

	cmd := exec.Command(r.opts.Command[0], r.opts.Command[1:]...)
	cmd.Dir = workDir
	cmd.Stdin = strings.NewReader(prompt)
	cmd.Stdout = logger
	cmd.Stderr = logger
	cmd.Env = append(os.Environ(),
		"SAILING_TASK="+taskID,
		paths.EnvProjectRoot+"="+r.st.Paths().ProjectRoot(),
	)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		logger.Close()
		_, _ = r.asn.Complete(taskID, false)
		return nil, core.Wrap(core.KindIO, "agent.spawn", err)
	}
	if err := r.asn.SetSentinelPID(taskID, cmd.Process.Pid); err != nil {
		return nil, err
	}

	rec := &Record{
		TaskID:    taskID,
		Operation: a.Operation,
		Branch:    branch,
		Worktree:  worktree,
		LogFile:   r.LogPath(taskID),
		PID:       cmd.Process.Pid,
		State:     StateSpawned,
		SpawnedAt: time.Now().UTC(),
	}
	if err := r.table.Put(rec); err != nil {
		return nil, err
	}
	if _, err := r.table.Transition(taskID, StateRunning, nil); err != nil {
		return nil, err
	}
	if _, err := r.st.SetStatus(types.KindTask, taskID, types.StatusInProgress); err != nil {
		return nil, err
	}
	return &Handle{Record: rec, cmd: cmd, runner: r, logger: logger}, nil
}

// Wait blocks until the agent exits or the watchdog kills it, records the
// outcome and returns the final table record.
func (h *Handle) Wait(ctx context.Context) (*Record, error) {
	defer h.logger.Close()
	r := h.runner
	taskID := h.Record.TaskID

	done := make(chan error, 1)
	go func() { done <- h.cmd.Wait() }()

	var timeout <-chan time.Time
	if r.opts.WatchdogTimeout > 0 {
		timer := time.NewTimer(r.opts.WatchdogTimeout)
		defer timer.Stop()
		timeout = timer.C
	}
	interval := r.opts.WatchdogInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			return r.recordExit(taskID, h.cmd, err)
		case <-ctx.Done():
			r.killGroup(h.Record.PID)
			<-done
			return r.table.Transition(taskID, StateKilled, func(rec *Record) { rec.Error = "cancelled" })
		case <-timeout:
			r.killGroup(h.Record.PID)
			<-done
			return r.table.Transition(taskID, StateKilled, func(rec *Record) { rec.Error = "watchdog timeout" })
		case <-ticker.C:
			if r.opts.CostFunc == nil || r.opts.BudgetUSD <= 0 {
				continue
			}
			if cost, ok := r.opts.CostFunc(h.Record); ok && cost > r.opts.BudgetUSD {
				r.killGroup(h.Record.PID)
				<-done
				return r.table.Transition(taskID, StateKilled, func(rec *Record) { rec.Error = "budget exceeded" })
			}
		}
	}
}

func (r *Runner) recordExit(taskID string, cmd *exec.Cmd, waitErr error) (*Record, error) {
	code := 0
	if waitErr != nil {
		code = -1
		if ee, ok := waitErr.(*exec.ExitError); ok {
			code = ee.ExitCode()
		}
	}
	next := StateCompleted
	if code != 0 {
		next = StateError
	}
	return r.table.Transition(taskID, next, func(rec *Record) {
		rec.ExitCode = &code
		if waitErr != nil {
			rec.Error = waitErr.Error()
		}
	})
}

// Kill terminates an agent's process group: SIGTERM, a grace period, then
// SIGKILL. Works across orchestrator invocations via the recorded PID.
func (r *Runner) Kill(taskAny string) (*Record, error) {
	rec, err := r.record(taskAny)
	if err != nil {
		return nil, err
	}
	if rec.State != StateSpawned && rec.State != StateRunning {
		return nil, core.Errorf(core.KindInvalidInput, "agent.kill", "%s is %s, nothing to kill", rec.TaskID, rec.State)
	}
	r.killGroup(rec.PID)
	return r.table.Transition(rec.TaskID, StateKilled, func(rec *Record) { rec.Error = "killed by operator" })
}

// killGroup signals the whole process group.
func (r *Runner) killGroup(pid int) {
	if pid <= 0 {
		return
	}
	_ = unix.Kill(-pid, unix.SIGTERM)
	grace := r.opts.GracePeriod
	if grace <= 0 {
		grace = 10 * time.Second
	}
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if unix.Kill(pid, 0) != nil {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	_ = unix.Kill(-pid, unix.SIGKILL)
}

// Reap collects a finished agent: waits out a lingering process, probes the
// worktree for uncommitted changes and records the outcome. The branch is
// left intact for Merge.
func (r *Runner) Reap(taskAny string) (*Record, error) {
	rec, err := r.record(taskAny)
	if err != nil {
		return nil, err
	}
	if rec.State == StateSpawned || rec.State == StateRunning {
		if err := r.waitForExit(rec.PID); err != nil {
			return nil, err
		}
		// The process died outside our supervision; classify by the
		// assignment outcome it left behind.
		next := StateError
		if a, err := r.asn.Get(rec.TaskID); err == nil && a.Status == assign.StatusComplete && a.Success != nil && *a.Success {
			next = StateCompleted
		}
		if rec, err = r.table.Transition(rec.TaskID, next, nil); err != nil {
			return nil, err
		}
	}

	switch rec.State {
	case StateCompleted, StateError, StateKilled:
	default:
		return nil, core.Errorf(core.KindInvalidInput, "agent.reap", "%s is %s, nothing to reap", rec.TaskID, rec.State)
	}

	dirty := false
	if rec.Worktree != "" {
		if d, err := git.WorktreeDirty(rec.Worktree); err == nil {
			dirty = d
		}
	}
	commits := 0
	if n, err := r.repo.CommitsAhead(rec.Branch, r.opts.MainBranch); err == nil {
		commits = n
	}

	if commits == 0 {
		return r.table.Transition(rec.TaskID, StateRejected, func(rec *Record) {
			rec.Dirty = dirty
			rec.Error = "no commits on agent branch"
		})
	}
	return r.table.Transition(rec.TaskID, StateReaped, func(rec *Record) { rec.Dirty = dirty })
}

// waitForExit polls the PID until it dies or the reap timeout elapses.
func (r *Runner) waitForExit(pid int) error {
	timeout := r.opts.ReapTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if pid <= 0 || unix.Kill(pid, 0) != nil {
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return core.Errorf(core.KindTimeout, "agent.reap", "pid %d still running after %s", pid, timeout)
}

// Merge merges a reaped agent's branch into the main branch and marks the
// Task Done. Conflicts park the record in the conflict state for a manual
// resolution followed by another Merge call.
func (r *Runner) Merge(taskAny string) (*Record, error) {
	rec, err := r.record(taskAny)
	if err != nil {
		return nil, err
	}
	if rec.State != StateReaped && rec.State != StateConflict {
		return nil, core.Errorf(core.KindInvalidInput, "agent.merge", "%s is %s, not reaped", rec.TaskID, rec.State)
	}
	if branch, err := r.repo.CurrentBranch(); err != nil {
		return nil, err
	} else if branch != r.opts.MainBranch {
		return nil, core.Errorf(core.KindValidation, "agent.merge", "main repository is on %s, not %s", branch, r.opts.MainBranch)
	}

	if err := r.repo.Merge(rec.Branch, "Merge "+rec.Branch+": "+rec.Operation); err != nil {
		if core.IsKind(err, core.KindConcurrency) {
			_, _ = r.table.Transition(rec.TaskID, StateConflict, func(rec *Record) { rec.Error = err.Error() })
		}
		return nil, err
	}
	if _, err := r.st.SetStatus(types.KindTask, rec.TaskID, types.StatusDone); err != nil {
		return nil, err
	}
	return r.table.Transition(rec.TaskID, StateMerged, nil)
}

// Cleanup removes the agent's worktree and branch and retires the record.
func (r *Runner) Cleanup(taskAny string, deleteBranch bool) (*Record, error) {
	rec, err := r.record(taskAny)
	if err != nil {
		return nil, err
	}
	if rec.State == StateSpawned || rec.State == StateRunning {
		return nil, core.Errorf(core.KindInvalidInput, "agent.cleanup", "%s is still %s; kill or reap it first", rec.TaskID, rec.State)
	}
	if rec.Worktree != "" {
		if err := r.repo.RemoveWorktree(rec.Worktree); err != nil {
			return nil, err
		}
	}
	if deleteBranch && r.repo.BranchExists(rec.Branch) {
		if err := r.repo.DeleteBranch(rec.Branch, false); err != nil {
			return nil, err
		}
	}
	if rec.State == StateCompleted {
		// Completed-but-unreaped records pass through reaped bookkeeping.
		if _, err := r.table.Transition(rec.TaskID, StateReaped, nil); err != nil {
			return nil, err
		}
	}
	return r.table.Transition(rec.TaskID, StateCollected, nil)
}

func (r *Runner) record(taskAny string) (*Record, error) {
	taskID := types.NormalizeID(types.KindTask, taskAny)
	if taskID == "" {
		return nil, core.Errorf(core.KindInvalidInput, "agent", "%q is not a task ID", taskAny)
	}
	return r.table.Get(taskID)
}
