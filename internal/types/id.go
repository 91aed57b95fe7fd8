package types

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// idPattern matches every accepted input form: an optional case-insensitive
// prefix, optional zero padding, the number, and an optional lowercase suffix
// letter (Tasks only, e.g. "T012a" for a split task).
var idPattern = regexp.MustCompile(`^((?i:PRD-|ADR-|E|T|S))?0*([1-9]\d*)([a-z])?$`)

// ParsedID is the decomposed form of an artefact ID.
type ParsedID struct {
	Kind      Kind
	HasPrefix bool
	Num       int
	Suffix    string
}

// ParseID decomposes raw into prefix, number and suffix. When raw carries no
// prefix, Kind is unset and HasPrefix is false; the caller supplies context.
func ParseID(raw string) (ParsedID, bool) {
	m := idPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return ParsedID{}, false
	}
	var p ParsedID
	if m[1] != "" {
		p.HasPrefix = true
		switch strings.ToUpper(m[1]) {
		case "PRD-":
			p.Kind = KindProduct
		case "ADR-":
			p.Kind = KindDecision
		case "E":
			p.Kind = KindEpic
		case "T":
			p.Kind = KindTask
		case "S":
			p.Kind = KindStory
		}
	}
	n, err := strconv.Atoi(m[2])
	if err != nil || n <= 0 {
		return ParsedID{}, false
	}
	p.Num = n
	p.Suffix = m[3]
	if p.Suffix != "" && p.HasPrefix && p.Kind != KindTask {
		// Only Task IDs carry a split suffix.
		return ParsedID{}, false
	}
	return p, true
}

// FormatID renders the canonical form of an ID: three-digit zero padding,
// uppercase prefix, optional suffix. FormatID(KindTask, 7, "") == "T007".
func FormatID(kind Kind, num int, suffix string) string {
	return fmt.Sprintf("%s%03d%s", kind.Prefix(), num, suffix)
}

// NormalizeID converts any accepted input form of a kind's ID to canonical
// form. Returns "" when raw does not match the grammar or names another kind.
func NormalizeID(kind Kind, raw string) string {
	p, ok := ParseID(raw)
	if !ok {
		return ""
	}
	if p.HasPrefix && p.Kind != kind {
		return ""
	}
	if p.Suffix != "" && kind != KindTask {
		return ""
	}
	return FormatID(kind, p.Num, p.Suffix)
}

// KindOfID infers the kind from a prefixed canonical or variant ID.
func KindOfID(raw string) (Kind, bool) {
	p, ok := ParseID(raw)
	if !ok || !p.HasPrefix {
		return 0, false
	}
	return p.Kind, true
}

// Resolver maps any accepted variant of a known ID to its canonical form.
// Built from the set of canonical IDs currently in an index; resolution of an
// unknown or ungrammatical ID yields "".
type Resolver struct {
	kind  Kind
	known map[string]struct{}
}

// NewResolver builds a resolver over the given canonical IDs for one kind.
// Non-canonical entries are normalized on the way in.
func NewResolver(kind Kind, ids []string) *Resolver {
	r := &Resolver{kind: kind, known: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		if canon := NormalizeID(kind, id); canon != "" {
			r.known[canon] = struct{}{}
		}
	}
	return r
}

// Resolve returns the canonical form of raw when it names a known ID, else "".
func (r *Resolver) Resolve(raw string) string {
	canon := NormalizeID(r.kind, raw)
	if canon == "" {
		return ""
	}
	if _, ok := r.known[canon]; !ok {
		return ""
	}
	return canon
}

// Known reports whether the canonical ID is in the resolver's set.
func (r *Resolver) Known(canonical string) bool {
	_, ok := r.known[canonical]
	return ok
}

// Len returns the number of known IDs.
func (r *Resolver) Len() int { return len(r.known) }
