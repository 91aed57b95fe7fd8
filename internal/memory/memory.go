// Package memory implements the per-Task append-only logs and their
// consolidation into per-Epic durable memory files.
//
// Task logs are transient: agents append timestamped, level-tagged events
// while executing. Sync merges them into the owning Epic's "Agent Context"
// section and truncates the log. A non-empty log is "pending"; pending
// memory on an Epic gates new claims.
package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/sailing-dev/sailing/internal/core"
	"github.com/sailing-dev/sailing/internal/markdown"
	"github.com/sailing-dev/sailing/internal/paths"
	"github.com/sailing-dev/sailing/internal/store"
	"github.com/sailing-dev/sailing/internal/templates"
	"github.com/sailing-dev/sailing/internal/types"
)

// AgentContextSection is the memory section consumed by claim-time prompt
// composition; sync merges task logs into it.
const AgentContextSection = "Agent Context"

// Level tags one log entry.
type Level string

const (
	LevelInfo     Level = "INFO"
	LevelTip      Level = "TIP"
	LevelWarn     Level = "WARN"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
)

// ParseLevel validates a level tag.
func ParseLevel(s string) (Level, error) {
	switch Level(strings.ToUpper(strings.TrimSpace(s))) {
	case LevelInfo:
		return LevelInfo, nil
	case LevelTip:
		return LevelTip, nil
	case LevelWarn:
		return LevelWarn, nil
	case LevelError:
		return LevelError, nil
	case LevelCritical:
		return LevelCritical, nil
	}
	return "", core.Errorf(core.KindInvalidInput, "memory.level", "unknown level %q", s)
}

// Entry is one log event.
type Entry struct {
	Time    time.Time
	Level   Level
	Message string
	File    string // related file path, optional
	Command string // command that was run, optional
	Snippet string // code snippet, optional
}

// Format renders an entry as one log line.
func (e Entry) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s", e.Time.UTC().Format(time.RFC3339), e.Level, sanitize(e.Message))
	if e.File != "" {
		fmt.Fprintf(&b, " | file=%s", e.File)
	}
	if e.Command != "" {
		fmt.Fprintf(&b, " | cmd=%s", sanitize(e.Command))
	}
	if e.Snippet != "" {
		fmt.Fprintf(&b, " | code=%s", sanitize(e.Snippet))
	}
	return b.String()
}

func sanitize(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), "\n", " ")
}

var linePattern = regexp.MustCompile(`^(\S+) \[(INFO|TIP|WARN|ERROR|CRITICAL)\] (.*)$`)

// ParseLine decodes one log line; ok is false for free-form lines, which
// still consolidate verbatim.
func ParseLine(line string) (Entry, bool) {
	m := linePattern.FindStringSubmatch(line)
	if m == nil {
		return Entry{}, false
	}
	ts, err := time.Parse(time.RFC3339, m[1])
	if err != nil {
		return Entry{}, false
	}
	e := Entry{Time: ts, Level: Level(m[2])}
	rest := m[3]
	for _, part := range strings.Split(rest, " | ") {
		switch {
		case strings.HasPrefix(part, "file="):
			e.File = strings.TrimPrefix(part, "file=")
		case strings.HasPrefix(part, "cmd="):
			e.Command = strings.TrimPrefix(part, "cmd=")
		case strings.HasPrefix(part, "code="):
			e.Snippet = strings.TrimPrefix(part, "code=")
		default:
			if e.Message == "" {
				e.Message = part
			}
		}
	}
	return e, true
}

// Pipeline operates over the memory directory.
type Pipeline struct {
	st  *store.Store
	dir string
}

// New creates a pipeline; the memory directory is created on demand.
func New(st *store.Store) (*Pipeline, error) {
	dir, err := st.Paths().Location(paths.LocMemory)
	if err != nil {
		return nil, err
	}
	return &Pipeline{st: st, dir: dir}, nil
}

// Dir returns the memory directory.
func (p *Pipeline) Dir() string { return p.dir }

// LogPath returns the append-only log path for an artefact ID.
func (p *Pipeline) LogPath(id string) string {
	return filepath.Join(p.dir, id+".log")
}

// MemoryPath returns the curated memory file path for an Epic.
func (p *Pipeline) MemoryPath(epicID string) string {
	return filepath.Join(p.dir, epicID+".md")
}

// Append adds one entry to an artefact's log.
func (p *Pipeline) Append(id string, e Entry) error {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	if e.Level == "" {
		e.Level = LevelInfo
	}
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return core.Wrap(core.KindIO, "memory.append", err)
	}
	f, err := os.OpenFile(p.LogPath(id), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return core.Wrap(core.KindIO, "memory.append", err)
	}
	defer f.Close()
	if _, err := f.WriteString(e.Format() + "\n"); err != nil {
		return core.Wrap(core.KindIO, "memory.append", err)
	}
	return nil
}

// ReadLog returns the raw lines of an artefact's log; a missing log is an
// empty slice.
func (p *Pipeline) ReadLog(id string) ([]string, error) {
	data, err := os.ReadFile(p.LogPath(id))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, core.Wrap(core.KindIO, "memory.read", err)
	}
	var lines []string
	for _, l := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	return lines, nil
}

// HasTip reports whether the artefact's log contains at least one TIP entry.
func (p *Pipeline) HasTip(id string) (bool, error) {
	lines, err := p.ReadLog(id)
	if err != nil {
		return false, err
	}
	for _, l := range lines {
		if e, ok := ParseLine(l); ok && e.Level == LevelTip {
			return true, nil
		}
	}
	return false, nil
}

// Pending reports the task IDs whose logs are non-empty, optionally scoped
// to one Epic (any accepted ID form) or one Task.
func (p *Pipeline) Pending(scope string) ([]string, error) {
	tasks, err := p.scopedTasks(scope)
	if err != nil {
		return nil, err
	}
	var pending []string
	for _, id := range tasks {
		lines, err := p.ReadLog(id)
		if err != nil {
			return nil, err
		}
		if len(lines) > 0 {
			pending = append(pending, id)
		}
	}
	sort.Strings(pending)
	return pending, nil
}

// EpicHasPending reports whether any Task of the Epic has a pending log.
func (p *Pipeline) EpicHasPending(epicAny string) (bool, error) {
	epic, err := p.st.Entry(types.KindEpic, epicAny)
	if err != nil {
		return false, err
	}
	pending, err := p.Pending(epic.Key)
	if err != nil {
		return false, err
	}
	return len(pending) > 0, nil
}

// scopedTasks resolves the sync/pending scope to a list of canonical Task
// IDs: everything, one Epic's tasks, or one Task.
func (p *Pipeline) scopedTasks(scope string) ([]string, error) {
	taskIdx, err := p.st.Index(types.KindTask)
	if err != nil {
		return nil, err
	}
	scope = strings.TrimSpace(scope)
	if scope == "" {
		out := make([]string, 0, len(taskIdx))
		for id := range taskIdx {
			out = append(out, id)
		}
		sort.Strings(out)
		return out, nil
	}
	if taskID := types.NormalizeID(types.KindTask, scope); taskID != "" {
		if _, ok := taskIdx[taskID]; ok {
			return []string{taskID}, nil
		}
	}
	if epicID := types.NormalizeID(types.KindEpic, scope); epicID != "" {
		var out []string
		for id, e := range taskIdx {
			if taskEpic(e) == epicID {
				out = append(out, id)
			}
		}
		sort.Strings(out)
		return out, nil
	}
	return nil, core.Errorf(core.KindInvalidInput, "memory.scope", "scope %q is not a task or epic ID", scope)
}

func taskEpic(e *store.IndexEntry) string {
	for _, pid := range types.ParentIDs(e.Front.Parent) {
		if canon := types.NormalizeID(types.KindEpic, pid); canon != "" {
			return canon
		}
	}
	return ""
}

// EnsureMemory creates an Epic's memory file from the template when absent.
func (p *Pipeline) EnsureMemory(epicID string) error {
	path := p.MemoryPath(epicID)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return core.Wrap(core.KindIO, "memory.ensure", err)
	}
	body, err := p.st.Templates().Render("memory", templates.Data{ID: epicID})
	if err != nil {
		return err
	}
	return markdown.AtomicWrite(path, []byte(body))
}

// AgentContext returns the Epic memory's Agent Context section, "" when the
// memory file or section does not exist.
func (p *Pipeline) AgentContext(epicID string) (string, error) {
	data, err := os.ReadFile(p.MemoryPath(epicID))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", core.Wrap(core.KindIO, "memory.context", err)
	}
	content, _ := markdown.SectionContent(string(data), AgentContextSection)
	return strings.TrimSpace(content), nil
}

// Show returns the full Epic memory document.
func (p *Pipeline) Show(epicAny string) (string, error) {
	epic, err := p.st.Entry(types.KindEpic, epicAny)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(p.MemoryPath(epic.Key))
	if os.IsNotExist(err) {
		return "", core.Errorf(core.KindNotFound, "memory.show", "no memory file for %s", epic.Key)
	}
	if err != nil {
		return "", core.Wrap(core.KindIO, "memory.show", err)
	}
	return string(data), nil
}

// Write edits one section of an Epic's memory file.
func (p *Pipeline) Write(epicAny, section, content string, mode markdown.EditMode) error {
	epic, err := p.st.Entry(types.KindEpic, epicAny)
	if err != nil {
		return err
	}
	if err := p.EnsureMemory(epic.Key); err != nil {
		return err
	}
	path := p.MemoryPath(epic.Key)
	data, err := os.ReadFile(path)
	if err != nil {
		return core.Wrap(core.KindIO, "memory.write", err)
	}
	body := markdown.EditSection(string(data), section, content, mode)
	return markdown.AtomicWrite(path, []byte(body))
}
