// Package template renders the notification templates embedded in the binary.
package template

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"github.com/shandysiswandi/pulsarbite/internal/notification/entity"
)

//go:embed templates/*.html
var files embed.FS

// ErrTemplateNotFound is returned for a trigger key without a template.
var ErrTemplateNotFound = errors.New("notification template not found")

type set struct {
	html *htmltemplate.Template
	text *texttemplate.Template
}

// Renderer holds the parsed templates. Each file defines "subject", "text" and
// "html"; subject and text go through text/template, html through html/template.
type Renderer struct {
	sets map[entity.TriggerKey]set
}

// New parses every template listed in entity.TriggerKeys.
func New() (*Renderer, error) {
	r := &Renderer{sets: make(map[entity.TriggerKey]set, len(entity.TriggerKeys))}

	for _, key := range entity.TriggerKeys {
		name := "templates/" + key.String() + ".html"

		h, err := htmltemplate.New(key.String()).Option("missingkey=zero").ParseFS(files, name)
		if err != nil {
			return nil, fmt.Errorf("parse html template %s: %w", key, err)
		}
		t, err := texttemplate.New(key.String()).Option("missingkey=zero").ParseFS(files, name)
		if err != nil {
			return nil, fmt.Errorf("parse text template %s: %w", key, err)
		}

		r.sets[key] = set{html: h, text: t}
	}

	return r, nil
}

// Render applies data to the template of key.
func (r *Renderer) Render(key entity.TriggerKey, data map[string]any) (entity.Rendered, error) {
	s, ok := r.sets[key]
	if !ok {
		return entity.Rendered{}, fmt.Errorf("%w: %s", ErrTemplateNotFound, key)
	}

	var subject, text, html bytes.Buffer
	if err := s.text.ExecuteTemplate(&subject, "subject", data); err != nil {
		return entity.Rendered{}, err
	}
	if err := s.text.ExecuteTemplate(&text, "text", data); err != nil {
		return entity.Rendered{}, err
	}
	if err := s.html.ExecuteTemplate(&html, "html", data); err != nil {
		return entity.Rendered{}, err
	}

	return entity.Rendered{
		Subject:  strings.TrimSpace(subject.String()),
		TextBody: strings.TrimSpace(text.String()),
		HTMLBody: strings.TrimSpace(html.String()),
	}, nil
}
