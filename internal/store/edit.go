package store

import (
	"time"

	"github.com/sailing-dev/sailing/internal/markdown"
	"github.com/sailing-dev/sailing/internal/types"
)

// EditSection applies content to one H2 section of an artefact's body.
// Unknown sections are created at the end of the document.
func (s *Store) EditSection(kind types.Kind, idAny, section, content string, mode markdown.EditMode) (*types.Artefact, error) {
	return s.editBody(kind, idAny, func(body string) (string, error) {
		return markdown.EditSection(body, section, content, mode), nil
	})
}

// EditMultiSection applies a composite payload where each "## <name>[ <op>]"
// header starts a region. All regions apply in one load-save cycle.
func (s *Store) EditMultiSection(kind types.Kind, idAny, payload string, defaultMode markdown.EditMode) (*types.Artefact, error) {
	return s.editBody(kind, idAny, func(body string) (string, error) {
		return markdown.ApplyMultiSection(body, payload, defaultMode)
	})
}

// PatchBody performs a surgical search-and-replace on an artefact's body.
// The match must be unique within the scope.
func (s *Store) PatchBody(kind types.Kind, idAny, old, replacement string, opts markdown.PatchOptions) (*types.Artefact, error) {
	return s.editBody(kind, idAny, func(body string) (string, error) {
		return markdown.Patch(body, old, replacement, opts)
	})
}

func (s *Store) editBody(kind types.Kind, idAny string, edit func(string) (string, error)) (*types.Artefact, error) {
	a, err := s.Get(kind, idAny)
	if err != nil {
		return nil, err
	}
	body, err := edit(a.Body)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	a.Front.UpdatedAt = &now
	a.Body = body
	if err := markdown.WriteFile(a.Path, a.Front, a.Body); err != nil {
		return nil, err
	}
	s.Invalidate()
	return a, nil
}
