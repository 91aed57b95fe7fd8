package store

import (
	"time"

	"github.com/sailing-dev/sailing/internal/core"
	"github.com/sailing-dev/sailing/internal/markdown"
	"github.com/sailing-dev/sailing/internal/types"
)

// UpdateFrontMatter merges a field->value patch into an artefact's
// front-matter, stamps updated_at, and applies lifecycle stamps on status
// transitions. Returns the updated artefact.
func (s *Store) UpdateFrontMatter(kind types.Kind, idAny string, patch map[string]any) (*types.Artefact, error) {
	a, err := s.Get(kind, idAny)
	if err != nil {
		return nil, err
	}

	for field, value := range patch {
		if err := applyField(kind, &a.Front, field, value); err != nil {
			return nil, err
		}
	}
	now := time.Now().UTC()
	a.Front.UpdatedAt = &now

	if err := markdown.WriteFile(a.Path, a.Front, a.Body); err != nil {
		return nil, err
	}
	s.Invalidate()
	return a, nil
}

// SetStatus transitions an artefact's status, canonicalizing the input and
// stamping started_at / done_at per the lexicon.
func (s *Store) SetStatus(kind types.Kind, idAny, status string) (*types.Artefact, error) {
	return s.UpdateFrontMatter(kind, idAny, map[string]any{"status": status})
}

// SetBlockedBy replaces an artefact's blocker list with the given canonical
// IDs. Used by deps add and the validator's repairs.
func (s *Store) SetBlockedBy(kind types.Kind, idAny string, blockers []string) (*types.Artefact, error) {
	return s.UpdateFrontMatter(kind, idAny, map[string]any{"blocked_by": blockers})
}

func applyField(kind types.Kind, fm *types.FrontMatter, field string, value any) error {
	switch field {
	case "title":
		v, ok := value.(string)
		if !ok || v == "" {
			return badField(field, value)
		}
		fm.Title = v
	case "status":
		v, ok := value.(string)
		if !ok {
			return badField(field, value)
		}
		return applyStatus(kind, fm, v)
	case "parent":
		v, ok := value.(string)
		if !ok {
			return badField(field, value)
		}
		fm.Parent = v
	case "tags":
		v, ok := toStrings(value)
		if !ok {
			return badField(field, value)
		}
		fm.Tags = v
	case "blocked_by":
		v, ok := toStrings(value)
		if !ok {
			return badField(field, value)
		}
		fm.BlockedBy = v
	case "stories":
		v, ok := toStrings(value)
		if !ok {
			return badField(field, value)
		}
		fm.Stories = v
	case "effort":
		v, ok := value.(string)
		if !ok {
			return badField(field, value)
		}
		fm.Effort = v
	case "priority":
		v, ok := value.(string)
		if !ok || (v != "" && !types.ValidPriority(v)) {
			return badField(field, value)
		}
		fm.Priority = v
	case "assignee":
		v, ok := value.(string)
		if !ok {
			return badField(field, value)
		}
		fm.Assignee = v
	case "milestone":
		v, ok := value.(string)
		if !ok {
			return badField(field, value)
		}
		fm.Milestone = v
	case "branching":
		v, ok := value.(string)
		if !ok || (v != "flat" && v != "tree") {
			return badField(field, value)
		}
		fm.Branching = v
	case "target_versions":
		v, ok := value.(map[string]string)
		if !ok {
			return badField(field, value)
		}
		fm.TargetVersions = v
	default:
		return core.Errorf(core.KindInvalidInput, "store.update", "unknown front-matter field %q", field)
	}
	return nil
}

// applyStatus canonicalizes and applies a status change with its lifecycle
// stamps. Re-applying the current status is idempotent: stamps are written
// exactly once.
func applyStatus(kind types.Kind, fm *types.FrontMatter, raw string) error {
	canon := types.CanonicalStatus(raw)
	if canon == "" || !types.ValidStatus(kind, canon) {
		return core.Errorf(core.KindInvalidInput, "store.update", "invalid %s status %q", kind, raw)
	}
	now := time.Now().UTC()
	switch canon {
	case types.StatusInProgress:
		if fm.StartedAt == nil {
			fm.StartedAt = &now
		}
	case types.StatusDone:
		if fm.StartedAt == nil {
			fm.StartedAt = &now
		}
		if fm.DoneAt == nil {
			fm.DoneAt = &now
		}
	}
	if canon != types.StatusDone {
		// Leaving Done clears the completion stamp so a later re-completion
		// restamps; started_at is preserved.
		if types.IsDone(fm.Status) && !types.IsDone(canon) {
			fm.DoneAt = nil
		}
	}
	fm.Status = canon
	return nil
}

func toStrings(value any) ([]string, bool) {
	switch v := value.(type) {
	case nil:
		return nil, true
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

func badField(field string, value any) error {
	return core.Errorf(core.KindInvalidInput, "store.update", "bad value %v for field %q", value, field)
}
