package assign

import (
	"strings"
	"text/template"

	"github.com/sailing-dev/sailing/internal/core"
	"github.com/sailing-dev/sailing/internal/templates"
	"github.com/sailing-dev/sailing/internal/types"
)

// promptLayout stitches the contract, the Epic's accumulated context and the
// Task body into the prompt handed to a spawned agent.
const promptLayout = `{{.Contract}}
# Epic: {{.EpicID}} {{.EpicTitle}}

{{.EpicSummary}}
{{- if .AgentContext}}

## Agent Context

{{.AgentContext}}
{{- end}}

# Task: {{.TaskID}} {{.TaskTitle}}

{{.TaskBody}}
`

type promptData struct {
	Contract     string
	EpicID       string
	EpicTitle    string
	EpicSummary  string
	AgentContext string
	TaskID       string
	TaskTitle    string
	TaskBody     string
}

// ComposePrompt builds the full agent prompt for an assignment.
func (m *Manager) ComposePrompt(a *Assignment) (string, error) {
	contract, err := m.st.Templates().Render("contract", templates.Data{ID: a.TaskID, Parent: a.EpicID})
	if err != nil {
		return "", err
	}
	epic, err := m.st.Get(types.KindEpic, a.EpicID)
	if err != nil {
		return "", err
	}
	task, err := m.st.Get(types.KindTask, a.TaskID)
	if err != nil {
		return "", err
	}
	ctx, err := m.mem.AgentContext(a.EpicID)
	if err != nil {
		return "", err
	}

	tmpl, err := template.New("prompt").Parse(promptLayout)
	if err != nil {
		return "", core.Wrap(core.KindInvalidInput, "assign.prompt", err)
	}
	var b strings.Builder
	err = tmpl.Execute(&b, promptData{
		Contract:     strings.TrimSpace(contract) + "\n",
		EpicID:       a.EpicID,
		EpicTitle:    epic.Front.Title,
		EpicSummary:  strings.TrimSpace(epic.Body),
		AgentContext: ctx,
		TaskID:       a.TaskID,
		TaskTitle:    task.Front.Title,
		TaskBody:     strings.TrimSpace(task.Body),
	})
	if err != nil {
		return "", core.Wrap(core.KindInvalidInput, "assign.prompt", err)
	}
	return b.String(), nil
}
