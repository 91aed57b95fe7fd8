// Package validate runs the graph and artefact invariant checks and applies
// the bounded set of auto-repairs behind --fix.
package validate

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sailing-dev/sailing/internal/graph"
	"github.com/sailing-dev/sailing/internal/markdown"
	"github.com/sailing-dev/sailing/internal/store"
	"github.com/sailing-dev/sailing/internal/types"
)

// Rule names one family of findings.
type Rule string

const (
	RuleMissingRef         Rule = "missing_ref"
	RuleSelfRef            Rule = "self_ref"
	RuleDuplicate          Rule = "duplicate"
	RuleFormat             Rule = "format"
	RuleCancelledBlocker   Rule = "cancelled_blocker"
	RuleInvalidStatus      Rule = "invalid_status"
	RuleStatusFormat       Rule = "status_format"
	RuleCycle              Rule = "cycle"
	RuleMissingEpicParent  Rule = "missing_epic_parent"
	RuleIDMismatch         Rule = "id_mismatch"
	RuleEpicStatusMismatch Rule = "epic_status_mismatch"
)

// Finding is one detected violation.
type Finding struct {
	Rule    Rule     `json:"rule"`
	Kind    string   `json:"kind"`
	ID      string   `json:"id"`
	Path    string   `json:"path,omitempty"`
	Message string   `json:"message"`
	Fixable bool     `json:"fixable"`
	Cycle   []string `json:"cycle,omitempty"`
}

// Report is the outcome of a validation pass.
type Report struct {
	Findings []Finding `json:"findings"`
	Fixed    int       `json:"fixed,omitempty"`
}

// HasErrors reports whether any finding remains that --fix cannot repair.
func (r *Report) HasErrors() bool {
	for _, f := range r.Findings {
		if !f.Fixable {
			return true
		}
	}
	return false
}

// fileFix accumulates every repair for one artefact so they apply in a
// single load-save cycle.
type fileFix struct {
	kind      types.Kind
	entry     *store.IndexEntry
	blockedBy []string // replacement list, set when blocker rules fired
	hasBlock  bool
	status    string // canonical rewrite for status_format / epic mismatch
	rename    string // new path for id_mismatch
}

// Run validates the project. When fix is set, fixable findings are repaired,
// grouped per file, with one index invalidation at the end.
func Run(st *store.Store, fix bool) (*Report, error) {
	report := &Report{}
	fixes := map[string]*fileFix{}

	forFix := func(kind types.Kind, e *store.IndexEntry) *fileFix {
		f, ok := fixes[e.Path]
		if !ok {
			f = &fileFix{kind: kind, entry: e}
			fixes[e.Path] = f
		}
		return f
	}

	// Blocker rules run per kind over Task and Epic graphs; cycle detection
	// runs on each graph independently.
	for _, kind := range []types.Kind{types.KindTask, types.KindEpic} {
		g, err := graph.Build(st, kind)
		if err != nil {
			return nil, err
		}
		idx, err := st.Index(kind)
		if err != nil {
			return nil, err
		}
		resolver, err := st.Resolver(kind)
		if err != nil {
			return nil, err
		}

		for _, id := range g.IDs() {
			e := idx[id]
			if e.Degraded {
				continue
			}
			cleaned, findings := checkBlockers(kind, id, e, resolver, idx)
			if len(findings) > 0 {
				report.Findings = append(report.Findings, findings...)
				f := forFix(kind, e)
				f.blockedBy = cleaned
				f.hasBlock = true
			}
		}

		for _, cycle := range g.Cycles() {
			report.Findings = append(report.Findings, Finding{
				Rule:    RuleCycle,
				Kind:    kind.String(),
				ID:      cycle[0],
				Message: fmt.Sprintf("dependency cycle: %s", strings.Join(cycle, " -> ")),
				Cycle:   cycle,
			})
		}
	}

	// Per-artefact rules: status lexicon, parent linkage, filename prefix.
	prodIdx, err := st.Index(types.KindProduct)
	if err != nil {
		return nil, err
	}
	epicIdx, err := st.Index(types.KindEpic)
	if err != nil {
		return nil, err
	}
	for _, kind := range []types.Kind{types.KindProduct, types.KindEpic, types.KindTask} {
		idx, err := st.Index(kind)
		if err != nil {
			return nil, err
		}
		for id, e := range idx {
			if e.Degraded {
				continue
			}
			checkStatus(kind, id, e, report, forFix)
			checkIDMatch(kind, id, e, report, forFix)
			if kind == types.KindTask {
				checkTaskParent(id, e, prodIdx, epicIdx, report)
			}
		}
	}

	checkEpicAggregate(st, epicIdx, report, forFix)

	if fix {
		if err := applyFixes(st, fixes, report); err != nil {
			return report, err
		}
	}
	return report, nil
}

// checkBlockers evaluates the five blocker rules for one artefact and
// returns the repaired list.
func checkBlockers(kind types.Kind, id string, e *store.IndexEntry, resolver *types.Resolver, idx map[string]*store.IndexEntry) ([]string, []Finding) {
	var findings []Finding
	var cleaned []string
	seen := map[string]bool{}

	add := func(rule Rule, fixable bool, format string, args ...any) {
		findings = append(findings, Finding{
			Rule: rule, Kind: kind.String(), ID: id, Path: e.Path,
			Message: fmt.Sprintf(format, args...), Fixable: fixable,
		})
	}

	for _, raw := range e.Front.BlockedBy {
		canon := types.NormalizeID(kind, raw)
		if canon == "" || !resolver.Known(canon) {
			add(RuleMissingRef, true, "blocker %q does not exist", raw)
			continue
		}
		if canon == id {
			add(RuleSelfRef, true, "lists itself as blocker")
			continue
		}
		if seen[canon] {
			add(RuleDuplicate, true, "blocker %s listed more than once", canon)
			continue
		}
		if types.IsCancelled(idx[canon].Front.Status) {
			add(RuleCancelledBlocker, true, "blocker %s is cancelled", canon)
			continue
		}
		if raw != canon {
			add(RuleFormat, true, "blocker %q should be %s", raw, canon)
		}
		seen[canon] = true
		cleaned = append(cleaned, canon)
	}
	return cleaned, findings
}

func checkStatus(kind types.Kind, id string, e *store.IndexEntry, report *Report, forFix func(types.Kind, *store.IndexEntry) *fileFix) {
	raw := e.Front.Status
	canon := types.CanonicalStatus(raw)
	switch {
	case canon == "" || !types.ValidStatus(kind, canon):
		report.Findings = append(report.Findings, Finding{
			Rule: RuleInvalidStatus, Kind: kind.String(), ID: id, Path: e.Path,
			Message: fmt.Sprintf("status %q is not in the %s lexicon", raw, kind),
		})
	case raw != canon:
		report.Findings = append(report.Findings, Finding{
			Rule: RuleStatusFormat, Kind: kind.String(), ID: id, Path: e.Path,
			Message: fmt.Sprintf("status %q should be %q", raw, canon),
			Fixable: true,
		})
		forFix(kind, e).status = canon
	}
}

var leadingToken = regexp.MustCompile(`^(?:PRD-|ADR-|E|T|S)\d+[a-z]?`)

func checkIDMatch(kind types.Kind, key string, e *store.IndexEntry, report *Report, forFix func(types.Kind, *store.IndexEntry) *fileFix) {
	if e.Front.ID == "" {
		return
	}
	frontID := types.NormalizeID(kind, e.Front.ID)
	if frontID == "" || frontID == key {
		return
	}
	// Front-matter is authoritative; the file is renamed to match it.
	base := filepath.Base(e.Path)
	newBase := base
	if base == "prd.md" {
		// Product IDs live in the directory name; renaming directories is
		// not attempted automatically.
		report.Findings = append(report.Findings, Finding{
			Rule: RuleIDMismatch, Kind: kind.String(), ID: key, Path: e.Path,
			Message: fmt.Sprintf("directory says %s but front-matter says %s", key, frontID),
		})
		return
	}
	newBase = leadingToken.ReplaceAllString(base, frontID)
	report.Findings = append(report.Findings, Finding{
		Rule: RuleIDMismatch, Kind: kind.String(), ID: key, Path: e.Path,
		Message: fmt.Sprintf("filename says %s but front-matter says %s", key, frontID),
		Fixable: true,
	})
	forFix(kind, e).rename = filepath.Join(filepath.Dir(e.Path), newBase)
}

func checkTaskParent(id string, e *store.IndexEntry, prodIdx, epicIdx map[string]*store.IndexEntry, report *Report) {
	ids := types.ParentIDs(e.Front.Parent)
	var hasEpic, hasProduct bool
	for _, pid := range ids {
		if canon := types.NormalizeID(types.KindEpic, pid); canon != "" {
			if _, ok := epicIdx[canon]; ok {
				hasEpic = true
			}
		}
		if canon := types.NormalizeID(types.KindProduct, pid); canon != "" {
			if _, ok := prodIdx[canon]; ok {
				hasProduct = true
			}
		}
	}
	if !hasEpic || !hasProduct {
		report.Findings = append(report.Findings, Finding{
			Rule: RuleMissingEpicParent, Kind: "task", ID: id, Path: e.Path,
			Message: fmt.Sprintf("parent %q does not resolve to a product and epic", e.Front.Parent),
		})
	}
}

// checkEpicAggregate flags epics whose status disagrees with their tasks:
// every task terminal (and at least one Done) but the epic is not Done.
func checkEpicAggregate(st *store.Store, epicIdx map[string]*store.IndexEntry, report *Report, forFix func(types.Kind, *store.IndexEntry) *fileFix) {
	taskIdx, err := st.Index(types.KindTask)
	if err != nil {
		return
	}
	byEpic := map[string][]*store.IndexEntry{}
	for _, e := range taskIdx {
		ids := types.ParentIDs(e.Front.Parent)
		for _, pid := range ids {
			if canon := types.NormalizeID(types.KindEpic, pid); canon != "" {
				if _, ok := epicIdx[canon]; ok {
					byEpic[canon] = append(byEpic[canon], e)
				}
			}
		}
	}
	for epicID, tasks := range byEpic {
		allTerminal := true
		anyDone := false
		for _, e := range tasks {
			if !types.IsTerminal(e.Front.Status) {
				allTerminal = false
				break
			}
			if types.IsDone(e.Front.Status) {
				anyDone = true
			}
		}
		epic := epicIdx[epicID]
		if allTerminal && anyDone && !types.IsDone(epic.Front.Status) && !types.IsCancelled(epic.Front.Status) {
			report.Findings = append(report.Findings, Finding{
				Rule: RuleEpicStatusMismatch, Kind: "epic", ID: epicID, Path: epic.Path,
				Message: "all tasks are terminal but the epic is not Done",
				Fixable: true,
			})
			forFix(types.KindEpic, epic).status = types.StatusDone
		}
	}
}

// applyFixes writes every grouped repair, then invalidates the index once.
func applyFixes(st *store.Store, fixes map[string]*fileFix, report *Report) error {
	for path, f := range fixes {
		fm, body, err := markdown.ReadFile(path)
		if err != nil {
			return err
		}
		changed := false
		if f.hasBlock {
			fm.BlockedBy = f.blockedBy
			changed = true
		}
		if f.status != "" {
			fm.Status = f.status
			changed = true
		}
		if changed {
			if err := markdown.WriteFile(path, fm, body); err != nil {
				return err
			}
			report.Fixed++
		}
		if f.rename != "" && f.rename != path {
			if err := renameFile(path, f.rename); err != nil {
				return err
			}
			report.Fixed++
		}
	}
	st.Invalidate()
	return nil
}
