// Package search answers simple and advanced queries over the searchable
// fields each entity declares.
package search

import (
	"fmt"
	"sync"

	"docflow/internal/util"
)

const (
	EntityDocument     = "document"
	EntityDocumentType = "document_type"
)

// Field is a searchable path. Double underscores traverse into related
// entities, e.g. versions__pages__content.
type Field struct {
	Path  string `json:"path"`
	Label string `json:"label"`
}

type Model struct {
	Entity string  `json:"entity"`
	Label  string  `json:"label"`
	Fields []Field `json:"fields"`
}

func (m Model) Field(path string) (Field, bool) {
	for _, f := range m.Fields {
		if f.Path == path {
			return f, true
		}
	}
	return Field{}, false
}

type Registry struct {
	mu     sync.RWMutex
	models map[string]Model
	order  []string
}

func NewRegistry() *Registry {
	return &Registry{models: map[string]Model{}}
}

func (r *Registry) Register(m Model) error {
	if m.Entity == "" || len(m.Fields) == 0 {
		return util.NewValidationError("model", "entity and at least one field are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.models[m.Entity]; ok {
		return fmt.Errorf("search model %q: %w", m.Entity, util.ErrConflict)
	}
	r.models[m.Entity] = m
	r.order = append(r.order, m.Entity)
	return nil
}

func (r *Registry) Get(entity string) (Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[entity]
	if !ok {
		return Model{}, fmt.Errorf("search model %q: %w", entity, util.ErrNotFound)
	}
	return m, nil
}

// Models returns the models in registration order.
func (r *Registry) Models() []Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Model, 0, len(r.order))
	for _, e := range r.order {
		out = append(out, r.models[e])
	}
	return out
}

// DocumentModel and DocumentTypeModel are the built-in models.
var (
	DocumentModel = Model{
		Entity: EntityDocument,
		Label:  "Document",
		Fields: []Field{
			{Path: "label", Label: "Label"},
			{Path: "description", Label: "Description"},
			{Path: "uuid", Label: "UUID"},
			{Path: "type__label", Label: "Document type"},
			{Path: "metadata__value", Label: "Metadata value"},
			{Path: "versions__mimetype", Label: "MIME type"},
			{Path: "versions__checksum", Label: "Checksum"},
			{Path: "versions__pages__content", Label: "Content"},
		},
	}
	DocumentTypeModel = Model{
		Entity: EntityDocumentType,
		Label:  "Document type",
		Fields: []Field{{Path: "label", Label: "Label"}},
	}
)

// NewDefaultRegistry holds the built-in models.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register(DocumentModel)
	_ = r.Register(DocumentTypeModel)
	return r
}
