package templates

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"resume-gpt/render"
)

var log = logrus.New()

// SetLogLevel sets the logging level for the templates package
func SetLogLevel(level logrus.Level) {
	log.SetLevel(level)
}

// ErrTemplateNotFound is returned for unknown template ids.
var ErrTemplateNotFound = errors.New("template not found")

// Template pairs a style configuration with the instruction block sent to the
// generator.
type Template struct {
	ID           string
	Name         string
	Description  string
	PreviewImage string
	Style        render.StyleConfiguration
	Instructions string
}

// Summary is the public listing of a template.
type Summary struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	PreviewImage string `json:"preview_image"`
}

// Registry holds templates by id. Instruction overrides may be swapped at
// runtime; styles never change after registration.
type Registry struct {
	mu        sync.RWMutex
	order     []string
	templates map[string]Template
}

// NewRegistry creates a registry from templates, keeping their order for List.
func NewRegistry(templates ...Template) *Registry {
	r := &Registry{templates: make(map[string]Template, len(templates))}
	for _, t := range templates {
		if _, exists := r.templates[t.ID]; !exists {
			r.order = append(r.order, t.ID)
		}
		r.templates[t.ID] = t
	}
	return r
}

// Default returns a registry with the built-in templates.
func Default() *Registry {
	return NewRegistry(Professional(), Modern())
}

// Get returns the template registered under id.
func (r *Registry) Get(id string) (Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[id]
	if !ok {
		return Template{}, fmt.Errorf("%w: %q", ErrTemplateNotFound, id)
	}
	return t, nil
}

// Lookup returns the style configuration and generation instructions for id.
func (r *Registry) Lookup(id string) (render.StyleConfiguration, string, error) {
	t, err := r.Get(id)
	if err != nil {
		return render.StyleConfiguration{}, "", err
	}
	return t.Style, t.Instructions, nil
}

// List returns template summaries in registration order.
func (r *Registry) List() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Summary, 0, len(r.order))
	for _, id := range r.order {
		t := r.templates[id]
		out = append(out, Summary{ID: t.ID, Name: t.Name, Description: t.Description, PreviewImage: t.PreviewImage})
	}
	return out
}

// SetInstructions replaces the generation instructions of one template.
func (r *Registry) SetInstructions(id, instructions string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.templates[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrTemplateNotFound, id)
	}
	t.Instructions = instructions
	r.templates[id] = t
	return nil
}

// InstructionsFile is the on-disk name of a template's instruction override.
func InstructionsFile(id string) string {
	return id + "_instructions.txt"
}

// LoadInstructionOverrides reads <id>_instructions.txt for every template in
// dir. Missing files are created from the built-in instructions.
func (r *Registry) LoadInstructionOverrides(dir string) error {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return fmt.Errorf("failed to create prompts directory: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		t := r.templates[id]
		path := filepath.Join(dir, InstructionsFile(id))
		content, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}
			log.Infof("Writing default instructions for template %s to %s", id, path)
			if err := os.WriteFile(path, []byte(t.Instructions), 0644); err != nil {
				return fmt.Errorf("failed to write default instructions to %s: %w", path, err)
			}
			continue
		}
		if len(content) == 0 {
			log.Warnf("Instruction override %s is empty, keeping built-in instructions", path)
			continue
		}
		t.Instructions = string(content)
		r.templates[id] = t
		log.WithField("template_id", id).Debug("Loaded instruction override")
	}
	return nil
}
