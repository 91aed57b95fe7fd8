// Package paths resolves %name%-placeholder path templates against a layered
// configuration and exposes the canonical location of every on-disk
// collection (artefacts, memory, runs, assignments, worktrees, agents, ...).
//
// Built-in placeholders: %project_root%, %project_hash%, %home%, %haven%.
// User placeholders and per-collection overrides load from an optional
// .sailing/paths.yaml.
package paths

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/sailing-dev/sailing/internal/core"
)

// EnvProjectRoot overrides project detection when set.
const EnvProjectRoot = "SAILING_PROJECT_ROOT"

// ControlDir is the project-local control directory name.
const ControlDir = ".sailing"

// maxDepth bounds recursive placeholder expansion; exceeding it means a
// circular definition.
const maxDepth = 8

// Well-known collection names accepted by Location.
const (
	LocArtefacts   = "artefacts"
	LocMemory      = "memory"
	LocRuns        = "runs"
	LocAssignments = "assignments"
	LocWorktrees   = "worktrees"
	LocAgents      = "agents"
	LocTemplates   = "templates"
	LocCore        = "core"
	LocHaven       = "haven"
)

var defaultLocations = map[string]string{
	LocArtefacts:   "%project_root%/artefacts",
	LocMemory:      "%project_root%/.sailing/memory",
	LocTemplates:   "%project_root%/.sailing/templates",
	LocCore:        "%project_root%/.sailing/core",
	LocHaven:       "%haven%",
	LocRuns:        "%haven%/runs",
	LocAssignments: "%haven%/assignments",
	LocWorktrees:   "%haven%/worktrees",
	LocAgents:      "%haven%/agents",
}

// pathsFile is the schema of .sailing/paths.yaml.
type pathsFile struct {
	Placeholders map[string]string `yaml:"placeholders"`
	Locations    map[string]string `yaml:"locations"`
}

var placeholderPattern = regexp.MustCompile(`%([a-z_][a-z0-9_]*)%`)

// Resolver resolves placeholder templates. Resolution is pure and cached for
// the resolver's lifetime.
type Resolver struct {
	projectRoot  string
	projectHash  string
	home         string
	placeholders map[string]string // name -> template (may itself hold placeholders)
	locations    map[string]string

	mu    sync.Mutex
	cache map[string]string
}

// FindProjectRoot locates the project root: the EnvProjectRoot override, or
// the nearest ancestor of dir containing a .sailing directory.
func FindProjectRoot(dir string) (string, error) {
	if env := os.Getenv(EnvProjectRoot); env != "" {
		abs, err := filepath.Abs(env)
		if err != nil {
			return "", core.Wrap(core.KindConfig, "paths.root", err)
		}
		return abs, nil
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", core.Wrap(core.KindConfig, "paths.root", err)
	}
	for d := abs; ; d = filepath.Dir(d) {
		if info, err := os.Stat(filepath.Join(d, ControlDir)); err == nil && info.IsDir() {
			return d, nil
		}
		if d == filepath.Dir(d) {
			break
		}
	}
	return "", core.Errorf(core.KindConfig, "paths.root",
		"no %s directory found above %s (run 'sail init' or set %s)", ControlDir, abs, EnvProjectRoot)
}

// ProjectHash derives the stable 12-hex-char digest of an absolute project root.
func ProjectHash(projectRoot string) string {
	sum := sha256.Sum256([]byte(filepath.Clean(projectRoot)))
	return hex.EncodeToString(sum[:])[:12]
}

// NewResolver builds a resolver for the given project root, loading
// .sailing/paths.yaml when present.
func NewResolver(projectRoot string) (*Resolver, error) {
	abs, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, core.Wrap(core.KindConfig, "paths.new", err)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, core.Wrap(core.KindConfig, "paths.new", err)
	}

	r := &Resolver{
		projectRoot:  abs,
		projectHash:  ProjectHash(abs),
		home:         home,
		placeholders: map[string]string{},
		locations:    map[string]string{},
		cache:        map[string]string{},
	}
	for k, tmpl := range defaultLocations {
		r.locations[k] = tmpl
	}

	overridePath := filepath.Join(abs, ControlDir, "paths.yaml")
	if data, err := os.ReadFile(overridePath); err == nil {
		var pf pathsFile
		if err := yaml.Unmarshal(data, &pf); err != nil {
			return nil, core.Errorf(core.KindConfig, "paths.new", "parsing %s: %v", overridePath, err)
		}
		for k, tmpl := range pf.Placeholders {
			r.placeholders[strings.ToLower(k)] = tmpl
		}
		for k, tmpl := range pf.Locations {
			r.locations[strings.ToLower(k)] = tmpl
		}
		// Relocating the haven moves every collection anchored on %haven%
		// with it, unless the override itself builds on the builtin.
		if tmpl, ok := r.locations[LocHaven]; ok && !strings.Contains(tmpl, "%haven%") {
			if _, set := r.placeholders["haven"]; !set {
				r.placeholders["haven"] = tmpl
			}
		}
	} else if !os.IsNotExist(err) {
		return nil, core.Wrap(core.KindIO, "paths.new", err)
	}
	return r, nil
}

// ProjectRoot returns the absolute project root.
func (r *Resolver) ProjectRoot() string { return r.projectRoot }

// Hash returns the 12-char project hash used to key the haven.
func (r *Resolver) Hash() string { return r.projectHash }

// Resolve expands every placeholder in template and returns an absolute
// path. Relative results resolve under the project root. Unknown or circular
// placeholders fail with a config error.
func (r *Resolver) Resolve(template string) (string, error) {
	r.mu.Lock()
	if cached, ok := r.cache[template]; ok {
		r.mu.Unlock()
		return cached, nil
	}
	r.mu.Unlock()

	expanded, err := r.expand(template, 0)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(expanded) {
		expanded = filepath.Join(r.projectRoot, expanded)
	}
	expanded = filepath.Clean(expanded)

	r.mu.Lock()
	r.cache[template] = expanded
	r.mu.Unlock()
	return expanded, nil
}

func (r *Resolver) expand(template string, depth int) (string, error) {
	if depth > maxDepth {
		return "", core.Errorf(core.KindConfig, "paths.resolve", "circular placeholder expansion in %q", template)
	}
	var expandErr error
	out := placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := strings.Trim(match, "%")
		value, ok := r.placeholders[name]
		if !ok {
			value, ok = r.builtin(name)
		}
		if !ok {
			if expandErr == nil {
				expandErr = core.Errorf(core.KindConfig, "paths.resolve", "unknown placeholder %%%s%%", name)
			}
			return match
		}
		sub, err := r.expand(value, depth+1)
		if err != nil {
			if expandErr == nil {
				expandErr = err
			}
			return match
		}
		return sub
	})
	return out, expandErr
}

func (r *Resolver) builtin(name string) (string, bool) {
	switch name {
	case "project_root":
		return r.projectRoot, true
	case "project_hash":
		return r.projectHash, true
	case "home":
		return r.home, true
	case "haven":
		return filepath.Join(r.home, ".sailing", "havens", r.projectHash), true
	}
	return "", false
}

// Location resolves a well-known collection name to its effective directory.
func (r *Resolver) Location(name string) (string, error) {
	tmpl, ok := r.locations[strings.ToLower(name)]
	if !ok {
		return "", core.Errorf(core.KindConfig, "paths.location", "unknown location %q", name)
	}
	return r.Resolve(tmpl)
}

// MustLocation is Location for collections with static defaults; it panics
// only on a programming error (unknown built-in name).
func (r *Resolver) MustLocation(name string) string {
	p, err := r.Location(name)
	if err != nil {
		panic(fmt.Sprintf("paths: %v", err))
	}
	return p
}

// StatePath returns the counters file location.
func (r *Resolver) StatePath() string {
	return filepath.Join(r.projectRoot, ControlDir, "state.json")
}

// ConfigPath returns the project config file location.
func (r *Resolver) ConfigPath() string {
	return filepath.Join(r.projectRoot, ControlDir, "config.yaml")
}

// ComponentsPath returns the version-tracked components file location.
func (r *Resolver) ComponentsPath() string {
	return filepath.Join(r.projectRoot, ControlDir, "components.yaml")
}

// AgentTablePath returns the persistent agent table location.
func (r *Resolver) AgentTablePath() (string, error) {
	haven, err := r.Location(LocHaven)
	if err != nil {
		return "", err
	}
	return filepath.Join(haven, "agents.json"), nil
}

// HavensRoot returns the directory holding every project's haven.
func (r *Resolver) HavensRoot() string {
	return filepath.Join(r.home, ".sailing", "havens")
}
