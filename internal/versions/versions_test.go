package versions

import (
	"path/filepath"
	"testing"

	"github.com/sailing-dev/sailing/internal/core"
)

func TestSetNormalizesAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "components.yaml")
	r, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Set("api", "1.2.0"); err != nil {
		t.Fatal(err)
	}
	if err := r.Set("cli", "v0.3.1"); err != nil {
		t.Fatal(err)
	}
	if err := r.Set("bad", "not-a-version"); !core.IsKind(err, core.KindInvalidInput) {
		t.Fatalf("bad version err = %v", err)
	}
	if err := r.Save(); err != nil {
		t.Fatal(err)
	}

	r2, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := r2.Get("api"); v != "v1.2.0" {
		t.Errorf("api = %q", v)
	}
	if got := r2.Names(); len(got) != 2 || got[0] != "api" || got[1] != "cli" {
		t.Errorf("names = %v", got)
	}
	if _, err := r2.Get("nope"); !core.IsKind(err, core.KindNotFound) {
		t.Errorf("unknown component err = %v", err)
	}
}

func TestBump(t *testing.T) {
	r := &Registry{Components: map[string]string{"api": "v1.2.3"}}
	cases := []struct {
		part string
		want string
	}{
		{"patch", "v1.2.4"},
		{"minor", "v1.3.0"},
		{"major", "v2.0.0"},
	}
	for _, c := range cases {
		r.Components["api"] = "v1.2.3"
		got, err := r.Bump("api", c.part)
		if err != nil {
			t.Fatal(err)
		}
		if got != c.want {
			t.Errorf("bump %s = %q, want %q", c.part, got, c.want)
		}
	}
	if _, err := r.Bump("api", "flavor"); !core.IsKind(err, core.KindInvalidInput) {
		t.Errorf("bad part err = %v", err)
	}
}

func TestCheckTargets(t *testing.T) {
	r := &Registry{Components: map[string]string{"api": "v1.2.0", "cli": "v0.9.0"}}
	out := r.CheckTargets(map[string]string{
		"api":     "1.0.0",  // already reached
		"cli":     "v1.0.0", // not yet
		"ghost":   "v1.0.0", // unknown component
		"api-bad": "x.y",    // invalid target
	})
	byName := map[string]TargetStatus{}
	for _, ts := range out {
		byName[ts.Component] = ts
	}
	if !byName["api"].Reached || byName["api"].Target != "v1.0.0" {
		t.Errorf("api = %+v", byName["api"])
	}
	if byName["cli"].Reached {
		t.Errorf("cli = %+v", byName["cli"])
	}
	if byName["ghost"].Problem == "" || byName["api-bad"].Problem == "" {
		t.Errorf("problems missing: %+v", out)
	}
}
