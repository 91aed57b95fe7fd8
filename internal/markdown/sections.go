package markdown

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sailing-dev/sailing/internal/core"
)

// EditMode selects how new content combines with an existing section.
type EditMode string

const (
	ModeReplace EditMode = "replace"
	ModeAppend  EditMode = "append"
	ModePrepend EditMode = "prepend"
)

// ParseEditMode validates a mode string.
func ParseEditMode(s string) (EditMode, error) {
	switch EditMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeReplace:
		return ModeReplace, nil
	case ModeAppend:
		return ModeAppend, nil
	case ModePrepend:
		return ModePrepend, nil
	}
	return "", core.Errorf(core.KindInvalidInput, "markdown.edit", "unknown edit mode %q", s)
}

var h2Pattern = regexp.MustCompile(`(?m)^## +(.+?) *$`)

// Section is one H2-delimited region of a body.
type Section struct {
	Name  string
	Start int // offset of the "## " header line
	Body  int // offset of the first content byte after the header line
	End   int // offset one past the section content (start of next header or len)
}

// Sections splits a body into its H2 regions, in document order.
func Sections(body string) []Section {
	matches := h2Pattern.FindAllStringSubmatchIndex(body, -1)
	out := make([]Section, 0, len(matches))
	for i, m := range matches {
		s := Section{
			Name:  strings.TrimSpace(body[m[2]:m[3]]),
			Start: m[0],
		}
		lineEnd := strings.IndexByte(body[m[0]:], '\n')
		if lineEnd < 0 {
			s.Body = len(body)
		} else {
			s.Body = m[0] + lineEnd + 1
		}
		if i+1 < len(matches) {
			s.End = matches[i+1][0]
		} else {
			s.End = len(body)
		}
		out = append(out, s)
	}
	return out
}

// FindSection locates a section by name (case-insensitive).
func FindSection(body, name string) (Section, bool) {
	for _, s := range Sections(body) {
		if strings.EqualFold(s.Name, name) {
			return s, true
		}
	}
	return Section{}, false
}

// SectionContent returns the content of the named section without the header.
func SectionContent(body, name string) (string, bool) {
	s, ok := FindSection(body, name)
	if !ok {
		return "", false
	}
	return body[s.Body:s.End], true
}

// EditSection applies content to the named section in the given mode. When
// the section does not exist it is created at the end of the document
// (replace and append); prepend on a missing section also creates it.
func EditSection(body, name, content string, mode EditMode) string {
	s, ok := FindSection(body, name)
	if !ok {
		var b strings.Builder
		b.WriteString(strings.TrimRight(body, "\n"))
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("## " + name + "\n\n")
		b.WriteString(ensureTrailingNewline(content))
		return b.String()
	}

	existing := body[s.Body:s.End]
	var merged string
	switch mode {
	case ModeAppend:
		merged = joinBlocks(existing, content)
	case ModePrepend:
		merged = joinBlocks(content, existing)
	default: // replace
		merged = "\n" + ensureTrailingNewline(strings.TrimSpace(content)) + "\n"
	}
	return body[:s.Body] + merged + body[s.End:]
}

func joinBlocks(a, b string) string {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	switch {
	case a == "":
		return "\n" + ensureTrailingNewline(b) + "\n"
	case b == "":
		return "\n" + ensureTrailingNewline(a) + "\n"
	default:
		return "\n" + a + "\n\n" + ensureTrailingNewline(b) + "\n"
	}
}

func ensureTrailingNewline(s string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}

// SectionEdit is one region of a composite edit payload.
type SectionEdit struct {
	Name    string
	Mode    EditMode
	Content string
}

// ParseMultiSection parses a composite payload where each "## <name>[ <op>]"
// header starts a region. A trailing header token naming an edit mode selects
// that mode for the region; otherwise defaultMode applies. Content before the
// first header is rejected.
func ParseMultiSection(payload string, defaultMode EditMode) ([]SectionEdit, error) {
	secs := Sections(payload)
	if len(secs) == 0 {
		return nil, core.Errorf(core.KindInvalidInput, "markdown.multiedit", "payload contains no ## sections")
	}
	if strings.TrimSpace(payload[:secs[0].Start]) != "" {
		return nil, core.Errorf(core.KindInvalidInput, "markdown.multiedit", "content before first ## header")
	}
	edits := make([]SectionEdit, 0, len(secs))
	for _, s := range secs {
		name := s.Name
		mode := defaultMode
		if i := strings.LastIndexByte(name, ' '); i > 0 {
			if m, err := ParseEditMode(name[i+1:]); err == nil {
				mode = m
				name = strings.TrimSpace(name[:i])
			}
		}
		edits = append(edits, SectionEdit{
			Name:    name,
			Mode:    mode,
			Content: strings.TrimSpace(payload[s.Body:s.End]),
		})
	}
	return edits, nil
}

// ApplyMultiSection applies every region of a composite payload to body.
func ApplyMultiSection(body, payload string, defaultMode EditMode) (string, error) {
	edits, err := ParseMultiSection(payload, defaultMode)
	if err != nil {
		return "", err
	}
	for _, e := range edits {
		body = EditSection(body, e.Name, e.Content, e.Mode)
	}
	return body, nil
}

// PatchOptions scope a surgical replace.
type PatchOptions struct {
	Section string // restrict the match to one section
	Regexp  bool   // old is a regular expression
}

// Patch replaces old with new within body. The match must be unique within
// the scope (whole body or the named section); zero or multiple matches fail.
func Patch(body, old, new string, opts PatchOptions) (string, error) {
	scopeStart, scopeEnd := 0, len(body)
	if opts.Section != "" {
		s, ok := FindSection(body, opts.Section)
		if !ok {
			return "", core.Errorf(core.KindNotFound, "markdown.patch", "section %q not found", opts.Section)
		}
		scopeStart, scopeEnd = s.Body, s.End
	}
	scope := body[scopeStart:scopeEnd]

	if opts.Regexp {
		re, err := regexp.Compile(old)
		if err != nil {
			return "", core.Errorf(core.KindInvalidInput, "markdown.patch", "bad pattern: %v", err)
		}
		locs := re.FindAllStringIndex(scope, 2)
		if err := requireUnique(len(locs), old); err != nil {
			return "", err
		}
		patched := scope[:locs[0][0]] + re.ReplaceAllString(scope[locs[0][0]:locs[0][1]], new) + scope[locs[0][1]:]
		return body[:scopeStart] + patched + body[scopeEnd:], nil
	}

	if err := requireUnique(strings.Count(scope, old), old); err != nil {
		return "", err
	}
	return body[:scopeStart] + strings.Replace(scope, old, new, 1) + body[scopeEnd:], nil
}

func requireUnique(n int, needle string) error {
	switch {
	case n == 0:
		return core.Errorf(core.KindNotFound, "markdown.patch", "no match for %s", summarize(needle))
	case n > 1:
		return core.Errorf(core.KindInvalidInput, "markdown.patch", "%s matches %d times, need exactly one", summarize(needle), n)
	}
	return nil
}

func summarize(s string) string {
	s = strings.ReplaceAll(s, "\n", `\n`)
	if len(s) > 40 {
		s = s[:37] + "..."
	}
	return fmt.Sprintf("%q", s)
}
