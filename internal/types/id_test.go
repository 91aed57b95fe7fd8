package types

import "testing"

func TestNormalizeIDVariants(t *testing.T) {
	tests := []struct {
		kind Kind
		in   string
		want string
	}{
		{KindTask, "1", "T001"},
		{KindTask, "01", "T001"},
		{KindTask, "001", "T001"},
		{KindTask, "T1", "T001"},
		{KindTask, "T001", "T001"},
		{KindTask, "t001", "T001"},
		{KindTask, "T012a", "T012a"},
		{KindTask, "12a", "T012a"},
		{KindTask, "10000", "T10000"},
		{KindTask, "T010000", "T10000"},
		{KindEpic, "E43", "E043"},
		{KindEpic, "43", "E043"},
		{KindProduct, "PRD-1", "PRD-001"},
		{KindProduct, "prd-001", "PRD-001"},
		{KindProduct, "1", "PRD-001"},
		{KindStory, "S7", "S007"},
		{KindDecision, "ADR-2", "ADR-002"},

		// Mismatched or ungrammatical forms.
		{KindTask, "E001", ""},
		{KindTask, "", ""},
		{KindTask, "T0", ""},
		{KindTask, "TT1", ""},
		{KindTask, "T1A", ""}, // suffix must be lowercase
		{KindEpic, "E12a", ""},
		{KindTask, "banana", ""},
		{KindTask, "T-1", ""},
	}
	for _, tt := range tests {
		if got := NormalizeID(tt.kind, tt.in); got != tt.want {
			t.Errorf("NormalizeID(%v, %q) = %q, want %q", tt.kind, tt.in, got, tt.want)
		}
	}
}

func TestResolverRoundTrip(t *testing.T) {
	r := NewResolver(KindTask, []string{"T001", "T012a", "T10000"})

	// Every variant of a known ID resolves to its canonical form.
	for in, want := range map[string]string{
		"1": "T001", "T1": "T001", "T001": "T001", "001": "T001",
		"12a": "T012a", "T012a": "T012a",
		"10000": "T10000", "T10000": "T10000", "T010000": "T10000",
	} {
		if got := r.Resolve(in); got != want {
			t.Errorf("Resolve(%q) = %q, want %q", in, got, want)
		}
	}

	// Unknown and ungrammatical inputs resolve to "".
	for _, in := range []string{"T002", "2", "E001", "xyz", "", "T12b"} {
		if got := r.Resolve(in); got != "" {
			t.Errorf("Resolve(%q) = %q, want empty", in, got)
		}
	}
}

func TestResolverNormalizesInput(t *testing.T) {
	r := NewResolver(KindEpic, []string{"E1", "e002"})
	if !r.Known("E001") || !r.Known("E002") {
		t.Fatalf("resolver did not normalize constructor input: %v", r.known)
	}
}

func TestKindOfID(t *testing.T) {
	if k, ok := KindOfID("PRD-003"); !ok || k != KindProduct {
		t.Errorf("KindOfID(PRD-003) = %v, %v", k, ok)
	}
	if k, ok := KindOfID("T12"); !ok || k != KindTask {
		t.Errorf("KindOfID(T12) = %v, %v", k, ok)
	}
	if _, ok := KindOfID("42"); ok {
		t.Error("bare number should not carry a kind")
	}
}

func TestSlug(t *testing.T) {
	tests := []struct{ in, want string }{
		{"OAuth2 Login Flow!", "oauth2-login-flow"},
		{"  spaced   out  ", "spaced-out"},
		{"ALL CAPS", "all-caps"},
		{"---", "untitled"},
	}
	for _, tt := range tests {
		if got := Slug(tt.in); got != tt.want {
			t.Errorf("Slug(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
