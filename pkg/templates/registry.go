package templates

import (
	"fmt"
	"sort"
	"sync"

	"github.com/l3v3l/core/pkg/logger"
)

// Registry maps template type keys to implementations. Registration happens
// once at process start; lookups are safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]Template
	logger    *logger.Logger
}

// NewRegistry creates an empty template registry
func NewRegistry() *Registry {
	return &Registry{
		templates: make(map[string]Template),
		logger:    logger.New("template-registry"),
	}
}

// Register adds a template. Registering the same type twice is a boot-time
// configuration error, not a silent overwrite.
func (r *Registry) Register(t Template) error {
	if t == nil {
		return fmt.Errorf("template cannot be nil")
	}
	if t.Type() == "" {
		return fmt.Errorf("template type cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.templates[t.Type()]; exists {
		return fmt.Errorf("template type %q is already registered", t.Type())
	}
	r.templates[t.Type()] = t

	r.logger.Info().
		Str("action", "register_template").
		Str("template_type", t.Type()).
		Str("template_name", t.Name()).
		Msg("Registered job template")

	return nil
}

// Get returns the template for a type key
func (r *Registry) Get(templateType string) (Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[templateType]
	return t, ok
}

// Exists reports whether a type key is registered
func (r *Registry) Exists(templateType string) bool {
	_, ok := r.Get(templateType)
	return ok
}

// List returns all templates ordered by type key
func (r *Registry) List() []Template {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Template, 0, len(r.templates))
	for _, t := range r.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type() < out[j].Type() })
	return out
}

// Metadata returns the metadata documents for all templates, ordered by type
func (r *Registry) Metadata() []Metadata {
	list := r.List()
	out := make([]Metadata, 0, len(list))
	for _, t := range list {
		out = append(out, MetadataFor(t))
	}
	return out
}

// Count returns the number of registered templates
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.templates)
}
