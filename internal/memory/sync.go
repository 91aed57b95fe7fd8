package memory

import (
	"os"
	"sort"
	"strings"

	"github.com/sailing-dev/sailing/internal/markdown"
	"github.com/sailing-dev/sailing/internal/types"
)

// SyncOptions controls one consolidation pass.
type SyncOptions struct {
	// Scope is "" for the whole project, or one Epic or Task ID.
	Scope string
	// NoCreate skips tasks whose Epic has no memory file instead of
	// creating one from the template.
	NoCreate bool
	// DryRun reports what would merge without writing anything.
	DryRun bool
}

// TaskSync records the outcome for one task log.
type TaskSync struct {
	TaskID string `json:"task_id"`
	EpicID string `json:"epic_id,omitempty"`
	Lines  int    `json:"lines"`
	Merged int    `json:"merged"`
	Reason string `json:"reason,omitempty"` // set when skipped
}

// SyncReport summarizes a consolidation pass.
type SyncReport struct {
	Synced  []TaskSync `json:"synced,omitempty"`
	Skipped []TaskSync `json:"skipped,omitempty"`
	Created []string   `json:"created_memories,omitempty"`
}

// Sync consolidates pending task logs into their Epics' Agent Context
// sections and truncates the logs. Lines already present in the section are
// dropped so repeated syncs never duplicate content; a pass over unchanged
// logs is a no-op.
func (p *Pipeline) Sync(opts SyncOptions) (*SyncReport, error) {
	tasks, err := p.scopedTasks(opts.Scope)
	if err != nil {
		return nil, err
	}
	taskIdx, err := p.st.Index(types.KindTask)
	if err != nil {
		return nil, err
	}

	report := &SyncReport{}
	for _, id := range tasks {
		lines, err := p.ReadLog(id)
		if err != nil {
			return nil, err
		}
		if len(lines) == 0 {
			continue
		}
		entry := taskIdx[id]
		epicID := taskEpic(entry)
		if epicID == "" {
			report.Skipped = append(report.Skipped, TaskSync{TaskID: id, Lines: len(lines), Reason: "no epic parent"})
			continue
		}

		memPath := p.MemoryPath(epicID)
		if _, err := os.Stat(memPath); os.IsNotExist(err) {
			if opts.NoCreate {
				report.Skipped = append(report.Skipped, TaskSync{TaskID: id, EpicID: epicID, Lines: len(lines), Reason: "memory file missing"})
				continue
			}
			if !opts.DryRun {
				if err := p.EnsureMemory(epicID); err != nil {
					return nil, err
				}
			}
			report.Created = append(report.Created, epicID)
		}

		merged, err := p.mergeInto(epicID, id, lines, opts.DryRun)
		if err != nil {
			return nil, err
		}
		report.Synced = append(report.Synced, TaskSync{TaskID: id, EpicID: epicID, Lines: len(lines), Merged: merged})

		if !opts.DryRun {
			// Truncate rather than remove: an agent may hold the log open
			// and append after the sync.
			if err := os.Truncate(p.LogPath(id), 0); err != nil && !os.IsNotExist(err) {
				return nil, err
			}
		}
	}
	sort.Strings(report.Created)
	return report, nil
}

// mergeInto appends the log lines that are not already present in the Epic's
// Agent Context section, tagged with the task they came from, preserving
// chronological order within the batch.
func (p *Pipeline) mergeInto(epicID, taskID string, lines []string, dryRun bool) (int, error) {
	existing, err := p.AgentContext(epicID)
	if err != nil {
		return 0, err
	}
	have := map[string]bool{}
	for _, l := range strings.Split(existing, "\n") {
		have[strings.TrimSpace(l)] = true
	}

	var fresh []string
	for _, l := range lines {
		tagged := "- [" + taskID + "] " + strings.TrimSpace(l)
		if have[tagged] {
			continue
		}
		have[tagged] = true
		fresh = append(fresh, tagged)
	}
	if len(fresh) == 0 || dryRun {
		return len(fresh), nil
	}

	path := p.MemoryPath(epicID)
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	content := strings.Join(fresh, "\n")
	body := markdown.EditSection(string(data), AgentContextSection, content, markdown.ModeAppend)
	if err := markdown.AtomicWrite(path, []byte(body)); err != nil {
		return 0, err
	}
	return len(fresh), nil
}
