package types

import "testing"

func TestCanonicalStatus(t *testing.T) {
	tests := []struct{ in, want string }{
		{"wip", StatusInProgress},
		{"WIP", StatusInProgress},
		{"In Progress", StatusInProgress},
		{"in-progress", StatusInProgress},
		{"todo", StatusNotStarted},
		{"Not Started", StatusNotStarted},
		{"done", StatusDone},
		{"Done", StatusDone},
		{"canceled", StatusCancelled},
		{"Cancelled", StatusCancelled},
		{"draft", StatusDraft},
		{"approved", StatusApproved},
		{"bogus", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := CanonicalStatus(tt.in); got != tt.want {
			t.Errorf("CanonicalStatus(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidStatusPerKind(t *testing.T) {
	if !ValidStatus(KindTask, "wip") {
		t.Error("wip should be valid for tasks")
	}
	if ValidStatus(KindTask, "Draft") {
		t.Error("Draft is not a task status")
	}
	if !ValidStatus(KindEpic, "Draft") {
		t.Error("Draft should be valid for epics")
	}
	if ValidStatus(KindProduct, "Blocked") {
		t.Error("Blocked is not a product status")
	}
	if !ValidStatus(KindProduct, "Approved") {
		t.Error("Approved should be valid for products")
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []string{"Done", "done", "Cancelled", "canceled"} {
		if !IsTerminal(s) {
			t.Errorf("IsTerminal(%q) = false", s)
		}
	}
	for _, s := range []string{"Not Started", "wip", "Blocked", ""} {
		if IsTerminal(s) {
			t.Errorf("IsTerminal(%q) = true", s)
		}
	}
}
