package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sailing-dev/sailing/internal/core"
	"github.com/sailing-dev/sailing/internal/markdown"
	"github.com/sailing-dev/sailing/internal/paths"
	"github.com/sailing-dev/sailing/internal/templates"
	"github.com/sailing-dev/sailing/internal/types"
)

// createAttempts bounds duplicate-ID retries before declaring the counter
// exhausted.
const createAttempts = 5

// CreateOptions carries the optional fields of a new artefact.
type CreateOptions struct {
	Description string
	Tags        []string
	BlockedBy   []string
	Stories     []string
	Effort      string
	Priority    string
	Assignee    string
	Milestone   string
	Branching   string // products only: "flat" (default) or "tree"
}

// CreateProduct creates a new PRD directory with its prd.md.
func (s *Store) CreateProduct(title string, opts CreateOptions) (*types.Artefact, error) {
	branching := opts.Branching
	if branching == "" {
		branching = "flat"
	}
	if branching != "flat" && branching != "tree" {
		return nil, core.Errorf(core.KindInvalidInput, "store.create", "branching must be flat or tree, got %q", branching)
	}

	root, err := s.res.Location(paths.LocArtefacts)
	if err != nil {
		return nil, err
	}
	return s.allocate(types.KindProduct, func(id string) (string, error) {
		dir := filepath.Join(root, "prds", fmt.Sprintf("%s-%s", id, types.Slug(title)))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", core.Wrap(core.KindIO, "store.create", err)
		}
		return filepath.Join(dir, "prd.md"), nil
	}, func(fm *types.FrontMatter) {
		fm.Title = title
		fm.Status = types.StatusDraft
		fm.Branching = branching
		fm.Tags = opts.Tags
	}, "prd", opts)
}

// CreateEpic creates an Epic under a Product, including its empty memory
// file collateral.
func (s *Store) CreateEpic(productAny, title string, opts CreateOptions) (*types.Artefact, error) {
	prd, err := s.Entry(types.KindProduct, productAny)
	if err != nil {
		return nil, err
	}
	prdDir := filepath.Dir(prd.Path)
	tree := prd.Front.Branching == "tree"

	a, err := s.allocate(types.KindEpic, func(id string) (string, error) {
		name := fmt.Sprintf("%s-%s", id, types.Slug(title))
		dir := filepath.Join(prdDir, "epics")
		if tree {
			dir = filepath.Join(dir, name)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", core.Wrap(core.KindIO, "store.create", err)
		}
		return filepath.Join(dir, name+".md"), nil
	}, func(fm *types.FrontMatter) {
		fm.Title = title
		fm.Status = types.StatusDraft
		fm.Parent = prd.Key
		fm.Tags = opts.Tags
		fm.BlockedBy = normalizeRefs(types.KindEpic, opts.BlockedBy)
		fm.Milestone = opts.Milestone
	}, "epic", opts)
	if err != nil {
		return nil, err
	}

	if err := s.ensureEpicMemory(a.Front.ID); err != nil {
		return nil, err
	}
	return a, nil
}

// CreateTask creates a Task under an Epic.
func (s *Store) CreateTask(epicAny, title string, opts CreateOptions) (*types.Artefact, error) {
	epic, err := s.Entry(types.KindEpic, epicAny)
	if err != nil {
		return nil, err
	}
	if opts.Priority != "" && !types.ValidPriority(opts.Priority) {
		return nil, core.Errorf(core.KindInvalidInput, "store.create", "unknown priority %q", opts.Priority)
	}

	prdKey := firstParent(epic.Front.Parent)
	prd, err := s.Entry(types.KindProduct, prdKey)
	if err != nil {
		return nil, core.Errorf(core.KindValidation, "store.create", "epic %s has no resolvable product parent %q", epic.Key, epic.Front.Parent)
	}

	// Flat branching keeps tasks beside the product's epics; tree branching
	// nests them under the owning epic's directory.
	var tasksDir string
	if prd.Front.Branching == "tree" {
		tasksDir = filepath.Join(filepath.Dir(epic.Path), "tasks")
	} else {
		tasksDir = filepath.Join(filepath.Dir(prd.Path), "tasks")
	}

	return s.allocate(types.KindTask, func(id string) (string, error) {
		if err := os.MkdirAll(tasksDir, 0o755); err != nil {
			return "", core.Wrap(core.KindIO, "store.create", err)
		}
		return filepath.Join(tasksDir, fmt.Sprintf("%s-%s.md", id, types.Slug(title))), nil
	}, func(fm *types.FrontMatter) {
		fm.Title = title
		fm.Status = types.StatusNotStarted
		fm.Parent = types.JoinParent(prd.Key, epic.Key)
		fm.Tags = opts.Tags
		fm.BlockedBy = normalizeRefs(types.KindTask, opts.BlockedBy)
		fm.Stories = normalizeRefs(types.KindStory, opts.Stories)
		fm.Effort = opts.Effort
		fm.Priority = opts.Priority
		fm.Assignee = opts.Assignee
	}, "task", opts)
}

// CreateStory creates a Story under a Product. Stories are passive: no
// status, no lifecycle stamps beyond created/updated.
func (s *Store) CreateStory(productAny, title string, opts CreateOptions) (*types.Artefact, error) {
	prd, err := s.Entry(types.KindProduct, productAny)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(filepath.Dir(prd.Path), "stories")
	return s.allocate(types.KindStory, func(id string) (string, error) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", core.Wrap(core.KindIO, "store.create", err)
		}
		return filepath.Join(dir, fmt.Sprintf("%s-%s.md", id, types.Slug(title))), nil
	}, func(fm *types.FrontMatter) {
		fm.Title = title
		fm.Parent = prd.Key
		fm.Tags = opts.Tags
	}, "story", opts)
}

// CreateDecision creates an ADR in the independent decisions hierarchy.
func (s *Store) CreateDecision(title string, opts CreateOptions) (*types.Artefact, error) {
	root, err := s.res.Location(paths.LocArtefacts)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(root, "adrs")
	return s.allocate(types.KindDecision, func(id string) (string, error) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", core.Wrap(core.KindIO, "store.create", err)
		}
		return filepath.Join(dir, fmt.Sprintf("%s-%s.md", id, types.Slug(title))), nil
	}, func(fm *types.FrontMatter) {
		fm.Title = title
		fm.Tags = opts.Tags
	}, "adr", opts)
}

// CreateMilestone creates a milestone directory with its CRITERIA.md under a
// Product. Milestones are collateral, not indexed artefacts; the milestone
// label on Epics is what groups them.
func (s *Store) CreateMilestone(productAny, title string) (string, error) {
	prd, err := s.Entry(types.KindProduct, productAny)
	if err != nil {
		return "", err
	}
	msRoot := filepath.Join(filepath.Dir(prd.Path), "milestones")
	existing, _ := os.ReadDir(msRoot)
	n := len(existing) + 1

	dir := filepath.Join(msRoot, fmt.Sprintf("m%d-%s", n, types.Slug(title)))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", core.Wrap(core.KindIO, "store.create", err)
	}
	body, err := s.tmpl.Render("criteria", templates.Data{Title: title})
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, "CRITERIA.md")
	if err := markdown.AtomicWrite(path, []byte(body)); err != nil {
		return "", err
	}
	return path, nil
}

// allocate runs the shared create flow: take the next counter value, retry
// past duplicates, render the template, write the file, invalidate.
func (s *Store) allocate(kind types.Kind, place func(id string) (string, error), fill func(*types.FrontMatter), tmplName string, opts CreateOptions) (*types.Artefact, error) {
	idx, err := s.Index(kind)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < createAttempts; attempt++ {
		num, err := s.state.NextID(kind)
		if err != nil {
			return nil, err
		}
		id := types.FormatID(kind, num, "")
		if _, dup := idx[id]; dup {
			continue
		}

		path, err := place(id)
		if err != nil {
			return nil, err
		}
		if _, err := os.Stat(path); err == nil {
			// On-disk duplicate the index has not seen yet.
			continue
		}

		now := time.Now().UTC()
		fm := types.FrontMatter{ID: id, CreatedAt: &now, UpdatedAt: &now}
		fill(&fm)

		body, err := s.tmpl.Render(tmplName, templates.Data{
			ID:          id,
			Title:       fm.Title,
			Description: opts.Description,
			Parent:      fm.Parent,
		})
		if err != nil {
			return nil, err
		}
		if err := markdown.WriteFile(path, fm, body); err != nil {
			return nil, err
		}
		s.Invalidate()
		return &types.Artefact{Kind: kind, Path: path, Front: fm, Body: body}, nil
	}
	return nil, core.Errorf(core.KindAlreadyExists, "store.create",
		"counter exhausted: %d consecutive duplicate %s IDs", createAttempts, kind)
}

// ensureEpicMemory creates the Epic's memory file from the template when it
// does not exist yet.
func (s *Store) ensureEpicMemory(epicID string) error {
	memDir, err := s.res.Location(paths.LocMemory)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(memDir, 0o755); err != nil {
		return core.Wrap(core.KindIO, "store.create", err)
	}
	path := filepath.Join(memDir, epicID+".md")
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	body, err := s.tmpl.Render("memory", templates.Data{ID: epicID})
	if err != nil {
		return err
	}
	return markdown.AtomicWrite(path, []byte(body))
}

// normalizeRefs canonicalizes a list of ID references, dropping entries that
// do not match the grammar (the validator reports those separately when they
// arrive via external edits).
func normalizeRefs(kind types.Kind, refs []string) []string {
	if len(refs) == 0 {
		return nil
	}
	out := make([]string, 0, len(refs))
	seen := map[string]bool{}
	for _, r := range refs {
		canon := types.NormalizeID(kind, r)
		if canon == "" || seen[canon] {
			continue
		}
		seen[canon] = true
		out = append(out, canon)
	}
	return out
}

func firstParent(parent string) string {
	ids := types.ParentIDs(parent)
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}
