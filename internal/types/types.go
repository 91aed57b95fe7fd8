// Package types defines the artefact model shared across sailing: artefact
// kinds, the status lexicon, the ID grammar, and the front-matter record.
package types

import (
	"regexp"
	"strings"
	"time"
)

// Kind identifies an artefact variant. The string aliases used by the CLI
// parser ("task", "epic", ...) live at the adapter boundary only.
type Kind int

const (
	KindProduct Kind = iota
	KindEpic
	KindTask
	KindStory
	KindDecision
)

// Prefix returns the ID prefix for the kind ("PRD-", "E", "T", "S", "ADR-").
func (k Kind) Prefix() string {
	switch k {
	case KindProduct:
		return "PRD-"
	case KindEpic:
		return "E"
	case KindTask:
		return "T"
	case KindStory:
		return "S"
	case KindDecision:
		return "ADR-"
	}
	return ""
}

func (k Kind) String() string {
	switch k {
	case KindProduct:
		return "prd"
	case KindEpic:
		return "epic"
	case KindTask:
		return "task"
	case KindStory:
		return "story"
	case KindDecision:
		return "adr"
	}
	return "unknown"
}

// ParseKind maps a CLI alias to a Kind.
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "prd", "product":
		return KindProduct, true
	case "epic":
		return KindEpic, true
	case "task":
		return KindTask, true
	case "story":
		return KindStory, true
	case "adr", "decision":
		return KindDecision, true
	}
	return 0, false
}

// Kinds lists every artefact kind in dependency order (parents first).
func Kinds() []Kind {
	return []Kind{KindProduct, KindEpic, KindTask, KindStory, KindDecision}
}

// Priority levels for Tasks.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// ValidPriority reports whether p is a known priority level.
func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return true
	}
	return false
}

// FrontMatter is the canonical attribute set persisted in an artefact's YAML
// front-matter. Fields that do not apply to a kind stay zero and are omitted
// on save.
type FrontMatter struct {
	ID        string     `yaml:"id"`
	Title     string     `yaml:"title"`
	Status    string     `yaml:"status,omitempty"`
	Parent    string     `yaml:"parent,omitempty"`
	Tags      []string   `yaml:"tags,omitempty"`
	CreatedAt *time.Time `yaml:"created_at,omitempty"`
	UpdatedAt *time.Time `yaml:"updated_at,omitempty"`

	// Task / Epic scheduling fields.
	BlockedBy []string   `yaml:"blocked_by,omitempty"`
	Stories   []string   `yaml:"stories,omitempty"`
	Effort    string     `yaml:"effort,omitempty"`
	Priority  string     `yaml:"priority,omitempty"`
	Assignee  string     `yaml:"assignee,omitempty"`
	StartedAt *time.Time `yaml:"started_at,omitempty"`
	DoneAt    *time.Time `yaml:"done_at,omitempty"`

	// Epic only.
	Milestone string `yaml:"milestone,omitempty"`

	// Product only: "flat" or "tree".
	Branching string `yaml:"branching,omitempty"`

	// Component name -> target semver.
	TargetVersions map[string]string `yaml:"target_versions,omitempty"`
}

// Artefact pairs a parsed front-matter with its markdown body and location.
type Artefact struct {
	Kind  Kind
	Path  string
	Front FrontMatter
	Body  string
}

// ParentIDs splits a parent path ("PRD-001 / E043") into its components.
func ParentIDs(parent string) []string {
	if strings.TrimSpace(parent) == "" {
		return nil
	}
	parts := strings.Split(parent, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// JoinParent builds a parent path from component IDs.
func JoinParent(ids ...string) string { return strings.Join(ids, " / ") }

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slug converts a title to the kebab-case form used in filenames.
// "OAuth2 Login Flow!" -> "oauth2-login-flow".
func Slug(title string) string {
	s := nonSlug.ReplaceAllString(strings.ToLower(title), "-")
	s = strings.Trim(s, "-")
	if s == "" {
		s = "untitled"
	}
	return s
}
