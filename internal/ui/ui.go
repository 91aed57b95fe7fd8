// Package ui renders command output: lipgloss-styled tables and status
// badges on terminals, plain text on pipes, JSON when requested.
package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/sailing-dev/sailing/internal/core"
	"github.com/sailing-dev/sailing/internal/types"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Faint(true)
	idStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))

	statusStyles = map[string]lipgloss.Style{
		types.StatusNotStarted: lipgloss.NewStyle().Faint(true),
		types.StatusInProgress: lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		types.StatusBlocked:    lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
		types.StatusDone:       lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		types.StatusCancelled:  lipgloss.NewStyle().Strikethrough(true).Faint(true),
		types.StatusDraft:      lipgloss.NewStyle().Faint(true),
		types.StatusApproved:   lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
	}
)

// Printer writes command output in one of three modes: styled terminal
// output, plain text, or JSON.
type Printer struct {
	out    io.Writer
	json   bool
	styled bool
}

// NewPrinter builds a printer for out. JSON mode wins over styling; styling
// engages only when out is a real terminal with color support.
func NewPrinter(out io.Writer, jsonMode bool) *Printer {
	styled := false
	if f, ok := out.(*os.File); ok && !jsonMode {
		styled = term.IsTerminal(int(f.Fd())) && termenv.ColorProfile() != termenv.Ascii
	}
	return &Printer{out: out, json: jsonMode, styled: styled}
}

// JSONMode reports whether output is machine-readable.
func (p *Printer) JSONMode() bool { return p.json }

// JSON emits v as indented JSON. Returns true when JSON mode consumed the
// output, so callers can skip their human rendering.
func (p *Printer) JSON(v any) bool {
	if !p.json {
		return false
	}
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
	return true
}

// Printf writes formatted text output.
func (p *Printer) Printf(format string, args ...any) {
	fmt.Fprintf(p.out, format, args...)
}

// Println writes one line.
func (p *Printer) Println(args ...any) {
	fmt.Fprintln(p.out, args...)
}

// Header renders a section heading.
func (p *Printer) Header(text string) {
	if p.styled {
		fmt.Fprintln(p.out, headerStyle.Render(text))
		return
	}
	fmt.Fprintln(p.out, text)
}

// Dim renders de-emphasized text inline.
func (p *Printer) Dim(text string) string {
	if p.styled {
		return dimStyle.Render(text)
	}
	return text
}

// ID renders an artefact ID inline.
func (p *Printer) ID(id string) string {
	if p.styled {
		return idStyle.Render(id)
	}
	return id
}

// Status renders a status badge inline.
func (p *Printer) Status(status string) string {
	if !p.styled {
		return status
	}
	if style, ok := statusStyles[status]; ok {
		return style.Render(status)
	}
	return status
}

// Table renders rows under a header with aligned columns.
func (p *Printer) Table(header []string, rows [][]string) {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && lipgloss.Width(cell) > widths[i] {
				widths[i] = lipgloss.Width(cell)
			}
		}
	}
	line := func(cells []string, style func(string) string) {
		var b strings.Builder
		for i, cell := range cells {
			if i > 0 {
				b.WriteString("  ")
			}
			pad := widths[i] - lipgloss.Width(cell)
			b.WriteString(style(cell))
			b.WriteString(strings.Repeat(" ", pad))
		}
		fmt.Fprintln(p.out, strings.TrimRight(b.String(), " "))
	}
	identity := func(s string) string { return s }
	if p.styled {
		line(header, func(s string) string { return headerStyle.Render(s) })
	} else {
		line(header, identity)
	}
	for _, row := range rows {
		line(row, identity)
	}
}

// Markdown renders a markdown document, glamour-styled on terminals and raw
// otherwise.
func (p *Printer) Markdown(doc string) error {
	if !p.styled {
		fmt.Fprint(p.out, doc)
		if !strings.HasSuffix(doc, "\n") {
			fmt.Fprintln(p.out)
		}
		return nil
	}
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		return core.Wrap(core.KindIO, "ui.markdown", err)
	}
	rendered, err := r.Render(doc)
	if err != nil {
		return core.Wrap(core.KindIO, "ui.markdown", err)
	}
	fmt.Fprint(p.out, rendered)
	return nil
}
