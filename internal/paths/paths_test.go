package paths

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sailing-dev/sailing/internal/core"
)

func newTestResolver(t *testing.T) (*Resolver, string) {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, ControlDir), 0o755); err != nil {
		t.Fatal(err)
	}
	r, err := NewResolver(root)
	if err != nil {
		t.Fatal(err)
	}
	return r, r.ProjectRoot()
}

func TestResolveBuiltins(t *testing.T) {
	r, root := newTestResolver(t)

	got, err := r.Resolve("%project_root%/artefacts")
	if err != nil {
		t.Fatal(err)
	}
	if got != filepath.Join(root, "artefacts") {
		t.Errorf("got %q", got)
	}

	haven, err := r.Resolve("%haven%/runs")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(haven, filepath.Join(".sailing", "havens", r.Hash(), "runs")) {
		t.Errorf("haven path %q missing hash %q", haven, r.Hash())
	}
}

func TestResolveRelativeUnderRoot(t *testing.T) {
	r, root := newTestResolver(t)
	got, err := r.Resolve("artefacts/prds")
	if err != nil {
		t.Fatal(err)
	}
	if got != filepath.Join(root, "artefacts", "prds") {
		t.Errorf("got %q", got)
	}
}

func TestResolveAbsolutePassThrough(t *testing.T) {
	r, _ := newTestResolver(t)
	got, err := r.Resolve("/var/tmp/x")
	if err != nil {
		t.Fatal(err)
	}
	if got != "/var/tmp/x" {
		t.Errorf("got %q", got)
	}
}

func TestResolveUnknownPlaceholder(t *testing.T) {
	r, _ := newTestResolver(t)
	_, err := r.Resolve("%nope%/x")
	if !core.IsKind(err, core.KindConfig) {
		t.Fatalf("want config error, got %v", err)
	}
}

func TestResolveCircularPlaceholder(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, ControlDir), 0o755); err != nil {
		t.Fatal(err)
	}
	yaml := "placeholders:\n  a: \"%b%/x\"\n  b: \"%a%/y\"\n"
	if err := os.WriteFile(filepath.Join(root, ControlDir, "paths.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	r, err := NewResolver(root)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Resolve("%a%"); !core.IsKind(err, core.KindConfig) {
		t.Fatalf("want config error for cycle, got %v", err)
	}
}

func TestUserOverrides(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, ControlDir), 0o755); err != nil {
		t.Fatal(err)
	}
	yaml := "placeholders:\n  scratch: \"/tmp/sailing-scratch\"\nlocations:\n  memory: \"%scratch%/memory\"\n"
	if err := os.WriteFile(filepath.Join(root, ControlDir, "paths.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	r, err := NewResolver(root)
	if err != nil {
		t.Fatal(err)
	}
	mem, err := r.Location(LocMemory)
	if err != nil {
		t.Fatal(err)
	}
	if mem != "/tmp/sailing-scratch/memory" {
		t.Errorf("memory = %q", mem)
	}
	// Untouched locations keep their defaults.
	art, err := r.Location(LocArtefacts)
	if err != nil {
		t.Fatal(err)
	}
	if art != filepath.Join(r.ProjectRoot(), "artefacts") {
		t.Errorf("artefacts = %q", art)
	}
}

func TestHavenOverrideMovesAnchoredCollections(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, ControlDir), 0o755); err != nil {
		t.Fatal(err)
	}
	yaml := "locations:\n  haven: \"%project_root%/.haven\"\n"
	if err := os.WriteFile(filepath.Join(root, ControlDir, "paths.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	r, err := NewResolver(root)
	if err != nil {
		t.Fatal(err)
	}
	runs, err := r.Location(LocRuns)
	if err != nil {
		t.Fatal(err)
	}
	if runs != filepath.Join(r.ProjectRoot(), ".haven", "runs") {
		t.Errorf("runs = %q", runs)
	}
	table, err := r.AgentTablePath()
	if err != nil {
		t.Fatal(err)
	}
	if table != filepath.Join(r.ProjectRoot(), ".haven", "agents.json") {
		t.Errorf("agent table = %q", table)
	}
}

func TestProjectHashStable(t *testing.T) {
	h1 := ProjectHash("/some/project")
	h2 := ProjectHash("/some/project/")
	if h1 != h2 {
		t.Errorf("hash not stable under trailing slash: %q vs %q", h1, h2)
	}
	if len(h1) != 12 {
		t.Errorf("hash length = %d", len(h1))
	}
	if h1 == ProjectHash("/other/project") {
		t.Error("distinct roots should hash differently")
	}
}

func TestFindProjectRoot(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(filepath.Join(root, ControlDir), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	got, err := FindProjectRoot(nested)
	if err != nil {
		t.Fatal(err)
	}
	resolved, _ := filepath.EvalSymlinks(root)
	gotResolved, _ := filepath.EvalSymlinks(got)
	if gotResolved != resolved {
		t.Errorf("got %q, want %q", got, root)
	}

	t.Setenv(EnvProjectRoot, "/explicit/root")
	got, err = FindProjectRoot(nested)
	if err != nil {
		t.Fatal(err)
	}
	if got != "/explicit/root" {
		t.Errorf("env override ignored: %q", got)
	}
}
