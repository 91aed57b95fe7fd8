// Package markdown handles the on-disk artefact format: a YAML front-matter
// block between two "---" fences, followed by a markdown body whose sections
// are H2 headers. It also provides the atomic-save primitive every writer
// goes through.
package markdown

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sailing-dev/sailing/internal/core"
	"github.com/sailing-dev/sailing/internal/types"
)

const fence = "---"

// Split separates raw file content into the front-matter YAML (without
// fences) and the body. hasFront is false when the file does not start with
// a fence; the whole content is then the body.
func Split(content string) (front, body string, hasFront bool) {
	if !strings.HasPrefix(content, fence+"\n") && content != fence {
		return "", content, false
	}
	rest := strings.TrimPrefix(content, fence+"\n")
	idx := strings.Index(rest, "\n"+fence)
	if idx < 0 {
		// Opening fence without a closing one: treat as body.
		return "", content, false
	}
	front = rest[:idx]
	body = rest[idx+len("\n"+fence):]
	// The first newline terminates the fence line; the second is the
	// separator Render places before a non-empty body. Stripping both makes
	// Split invert Render exactly, whatever the body starts with.
	body = strings.TrimPrefix(body, "\n")
	body = strings.TrimPrefix(body, "\n")
	return front, body, true
}

// Parse decodes file content into a typed front-matter record and body.
// Malformed front-matter degrades: the record comes back empty, the entire
// content becomes the body, and the returned warning is non-nil. Only I/O
// level problems are errors.
func Parse(content string) (fm types.FrontMatter, body string, warn error) {
	front, body, ok := Split(content)
	if !ok {
		return types.FrontMatter{}, content, fmt.Errorf("no front-matter block")
	}
	if err := yaml.Unmarshal([]byte(front), &fm); err != nil {
		return types.FrontMatter{}, content, fmt.Errorf("malformed front-matter: %w", err)
	}
	return fm, body, nil
}

// Render serializes front-matter and body back to file content. Refuses to
// emit output that would not re-parse (defends the atomic-save invariant).
func Render(fm types.FrontMatter, body string) (string, error) {
	out, err := yaml.Marshal(&fm)
	if err != nil {
		return "", core.Wrap(core.KindInvalidInput, "markdown.render", err)
	}
	var b strings.Builder
	b.WriteString(fence + "\n")
	b.Write(out)
	b.WriteString(fence + "\n")
	if body != "" {
		b.WriteString("\n")
		b.WriteString(body)
		if !strings.HasSuffix(body, "\n") {
			b.WriteString("\n")
		}
	}
	if _, _, ok := Split(b.String()); !ok {
		return "", core.Errorf(core.KindInvalidInput, "markdown.render", "rendered content lost its front-matter fences")
	}
	return b.String(), nil
}

// ReadFile loads and parses an artefact file.
func ReadFile(path string) (types.FrontMatter, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return types.FrontMatter{}, "", core.Errorf(core.KindNotFound, "markdown.read", "%s", path)
		}
		return types.FrontMatter{}, "", core.Wrap(core.KindIO, "markdown.read", err)
	}
	fm, body, _ := Parse(string(data))
	return fm, body, nil
}

// WriteFile renders and atomically writes an artefact file.
func WriteFile(path string, fm types.FrontMatter, body string) error {
	content, err := Render(fm, body)
	if err != nil {
		return err
	}
	return AtomicWrite(path, []byte(content))
}

// AtomicWrite writes data through a temp file in the same directory followed
// by a rename, so a reader sees either the old or the new content, never a
// partial write. Permission bits are clamped to 0644 before the rename.
func AtomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return core.Wrap(core.KindIO, "markdown.write", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// No-ops after a successful rename.
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()
	if _, err := tmp.Write(data); err != nil {
		return core.Wrap(core.KindIO, "markdown.write", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		return core.Wrap(core.KindIO, "markdown.write", err)
	}
	if err := tmp.Close(); err != nil {
		return core.Wrap(core.KindIO, "markdown.write", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return core.Wrap(core.KindIO, "markdown.write", err)
	}
	return nil
}
