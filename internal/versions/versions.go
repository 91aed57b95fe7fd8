// Package versions tracks the semantic versions of the project's components
// in .sailing/components.yaml and validates artefact target_versions against
// that registry.
package versions

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"

	"github.com/sailing-dev/sailing/internal/core"
	"github.com/sailing-dev/sailing/internal/markdown"
)

// Registry is the on-disk component version table.
type Registry struct {
	path       string
	Components map[string]string `yaml:"components"`
}

// Load reads the registry; a missing file yields an empty registry that can
// be saved later.
func Load(path string) (*Registry, error) {
	r := &Registry{path: path, Components: map[string]string{}}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, core.Wrap(core.KindIO, "versions.load", err)
	}
	if err := yaml.Unmarshal(data, r); err != nil {
		return nil, core.Errorf(core.KindCorrupted, "versions.load", "parsing %s: %v", path, err)
	}
	if r.Components == nil {
		r.Components = map[string]string{}
	}
	return r, nil
}

// Save writes the registry atomically.
func (r *Registry) Save() error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return core.Wrap(core.KindIO, "versions.save", err)
	}
	return markdown.AtomicWrite(r.path, data)
}

// Normalize canonicalizes a version string to the leading-v semver form.
func Normalize(version string) (string, error) {
	v := strings.TrimSpace(version)
	if v == "" {
		return "", core.Errorf(core.KindInvalidInput, "versions", "empty version")
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return "", core.Errorf(core.KindInvalidInput, "versions", "%q is not a semantic version", version)
	}
	return v, nil
}

// Get returns a component's current version.
func (r *Registry) Get(name string) (string, error) {
	v, ok := r.Components[name]
	if !ok {
		return "", core.Errorf(core.KindNotFound, "versions.get", "unknown component %q", name)
	}
	return v, nil
}

// Set records a component version, creating the component on first use.
func (r *Registry) Set(name, version string) error {
	if strings.TrimSpace(name) == "" {
		return core.Errorf(core.KindInvalidInput, "versions.set", "empty component name")
	}
	v, err := Normalize(version)
	if err != nil {
		return err
	}
	r.Components[name] = v
	return nil
}

// Bump increments one part of a component's version.
func (r *Registry) Bump(name, part string) (string, error) {
	cur, err := r.Get(name)
	if err != nil {
		return "", err
	}
	var major, minor, patch int
	if _, err := fmt.Sscanf(semver.Canonical(cur), "v%d.%d.%d", &major, &minor, &patch); err != nil {
		return "", core.Errorf(core.KindCorrupted, "versions.bump", "component %s has malformed version %q", name, cur)
	}
	switch part {
	case "major":
		major, minor, patch = major+1, 0, 0
	case "minor":
		minor, patch = minor+1, 0
	case "patch":
		patch++
	default:
		return "", core.Errorf(core.KindInvalidInput, "versions.bump", "unknown part %q (major, minor or patch)", part)
	}
	next := fmt.Sprintf("v%d.%d.%d", major, minor, patch)
	r.Components[name] = next
	return next, nil
}

// Names lists components in stable order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.Components))
	for name := range r.Components {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// TargetStatus classifies one target_versions entry.
type TargetStatus struct {
	Component string `json:"component"`
	Target    string `json:"target"`
	Current   string `json:"current,omitempty"`
	// Reached is true when the component's current version is at or past
	// the target.
	Reached bool   `json:"reached"`
	Problem string `json:"problem,omitempty"`
}

// CheckTargets validates an artefact's target_versions map against the
// registry: component must exist, target must be valid semver, and the
// comparison uses semver ordering.
func (r *Registry) CheckTargets(targets map[string]string) []TargetStatus {
	names := make([]string, 0, len(targets))
	for name := range targets {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]TargetStatus, 0, len(names))
	for _, name := range names {
		ts := TargetStatus{Component: name, Target: targets[name]}
		target, err := Normalize(targets[name])
		if err != nil {
			ts.Problem = err.Error()
			out = append(out, ts)
			continue
		}
		ts.Target = target
		cur, err := r.Get(name)
		if err != nil {
			ts.Problem = "component not in registry"
			out = append(out, ts)
			continue
		}
		ts.Current = cur
		ts.Reached = semver.Compare(cur, target) >= 0
		out = append(out, ts)
	}
	return out
}
