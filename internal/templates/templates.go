// Package templates provides the markdown bodies for new artefacts. Defaults
// are embedded; a project can override any of them by dropping a file with
// the same name into .sailing/templates/.
package templates

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/sailing-dev/sailing/internal/core"
)

//go:embed defaults/*.md
var defaults embed.FS

// Data is the substitution context available to templates.
type Data struct {
	ID          string
	Title       string
	Description string
	Parent      string
}

// Loader resolves template names against a project override directory.
type Loader struct {
	overrideDir string // may be ""; then only embedded defaults are used
}

// NewLoader creates a loader; overrideDir is typically .sailing/templates.
func NewLoader(overrideDir string) *Loader {
	return &Loader{overrideDir: overrideDir}
}

// Render produces the body for the named template ("task", "epic", "prd",
// "story", "adr", "memory", "criteria", "contract").
func (l *Loader) Render(name string, data Data) (string, error) {
	src, err := l.source(name)
	if err != nil {
		return "", err
	}
	tmpl, err := template.New(name).Parse(src)
	if err != nil {
		return "", core.Errorf(core.KindInvalidInput, "templates.render", "template %s: %v", name, err)
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", core.Errorf(core.KindInvalidInput, "templates.render", "template %s: %v", name, err)
	}
	return b.String(), nil
}

func (l *Loader) source(name string) (string, error) {
	file := fmt.Sprintf("%s.md", name)
	if l.overrideDir != "" {
		if data, err := os.ReadFile(filepath.Join(l.overrideDir, file)); err == nil {
			return string(data), nil
		}
	}
	data, err := defaults.ReadFile("defaults/" + file)
	if err != nil {
		return "", core.Errorf(core.KindNotFound, "templates.render", "no template %q", name)
	}
	return string(data), nil
}

// WriteDefaults materializes every embedded template into dir, skipping
// files that already exist. Used by init so projects can edit them in place.
func (l *Loader) WriteDefaults(dir string) error {
	entries, err := defaults.ReadDir("defaults")
	if err != nil {
		return core.Wrap(core.KindIO, "templates.write", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return core.Wrap(core.KindIO, "templates.write", err)
	}
	for _, e := range entries {
		dst := filepath.Join(dir, e.Name())
		if _, err := os.Stat(dst); err == nil {
			continue
		}
		data, err := defaults.ReadFile("defaults/" + e.Name())
		if err != nil {
			return core.Wrap(core.KindIO, "templates.write", err)
		}
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return core.Wrap(core.KindIO, "templates.write", err)
		}
	}
	return nil
}
