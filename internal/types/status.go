package types

import "strings"

// Canonical status values. Statuses are always compared through
// CanonicalStatus, never raw.
const (
	StatusNotStarted = "Not Started"
	StatusInProgress = "In Progress"
	StatusDone       = "Done"
	StatusBlocked    = "Blocked"
	StatusCancelled  = "Cancelled"

	StatusDraft    = "Draft"
	StatusApproved = "Approved"
)

// statusAliases maps lowercase input forms to canonical statuses.
var statusAliases = map[string]string{
	"wip":         StatusInProgress,
	"in progress": StatusInProgress,
	"in-progress": StatusInProgress,
	"todo":        StatusNotStarted,
	"not started": StatusNotStarted,
	"not-started": StatusNotStarted,
	"done":        StatusDone,
	"blocked":     StatusBlocked,
	"cancelled":   StatusCancelled,
	"canceled":    StatusCancelled,
	"draft":       StatusDraft,
	"approved":    StatusApproved,
}

// TaskStatuses, EpicStatuses and ProductStatuses enumerate the lexicon per kind.
var (
	TaskStatuses    = []string{StatusNotStarted, StatusInProgress, StatusDone, StatusBlocked, StatusCancelled}
	EpicStatuses    = []string{StatusDraft, StatusInProgress, StatusDone, StatusBlocked, StatusCancelled}
	ProductStatuses = []string{StatusDraft, StatusApproved, StatusInProgress, StatusDone}
)

// CanonicalStatus resolves any accepted spelling or alias of a status to its
// canonical form. Returns "" when the input is not in the lexicon.
func CanonicalStatus(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if canon, ok := statusAliases[strings.ToLower(s)]; ok {
		return canon
	}
	return ""
}

// ValidStatus reports whether raw canonicalizes to a status allowed for kind.
func ValidStatus(kind Kind, raw string) bool {
	canon := CanonicalStatus(raw)
	if canon == "" {
		return false
	}
	for _, s := range statusesFor(kind) {
		if s == canon {
			return true
		}
	}
	return false
}

func statusesFor(kind Kind) []string {
	switch kind {
	case KindTask:
		return TaskStatuses
	case KindEpic:
		return EpicStatuses
	case KindProduct:
		return ProductStatuses
	default:
		return nil
	}
}

// DefaultStatus returns the status a freshly created artefact carries.
func DefaultStatus(kind Kind) string {
	switch kind {
	case KindTask:
		return StatusNotStarted
	case KindEpic, KindProduct:
		return StatusDraft
	default:
		return ""
	}
}

// StatusEqual compares two raw statuses through canonicalization.
func StatusEqual(a, b string) bool {
	return CanonicalStatus(a) != "" && CanonicalStatus(a) == CanonicalStatus(b)
}

// IsTerminal reports whether a status ends the artefact's lifecycle.
// Blockers in terminal state no longer gate readiness.
func IsTerminal(raw string) bool {
	switch CanonicalStatus(raw) {
	case StatusDone, StatusCancelled:
		return true
	}
	return false
}

// IsDone reports whether raw canonicalizes to Done.
func IsDone(raw string) bool { return CanonicalStatus(raw) == StatusDone }

// IsCancelled reports whether raw canonicalizes to Cancelled.
func IsCancelled(raw string) bool { return CanonicalStatus(raw) == StatusCancelled }
