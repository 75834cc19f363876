package documents

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"docflow/internal/models"
	"docflow/internal/storage"
	"docflow/internal/util"

	"github.com/google/uuid"
)

type DocumentInput struct {
	TypeID      string
	Label       string
	Description string
	Language    string
	Metadata    map[string]string
}

// CreateDocument stores a stub: a document with no versions yet.
func (s *Service) CreateDocument(ctx context.Context, in DocumentInput) (models.Document, error) {
	if strings.TrimSpace(in.Label) == "" {
		return models.Document{}, util.NewValidationError("label", "cannot be empty")
	}
	if _, err := s.store.GetType(ctx, in.TypeID); err != nil {
		return models.Document{}, fmt.Errorf("document type %s: %w", in.TypeID, err)
	}
	md, err := s.resolveMetadata(ctx, in.TypeID, in.Metadata, false)
	if err != nil {
		return models.Document{}, err
	}
	lang := in.Language
	if lang == "" {
		lang = s.opts.DefaultLanguage
	}
	id := uuid.New()
	d := models.Document{
		ID:          id.String(),
		UUID:        id.String(),
		TypeID:      in.TypeID,
		Label:       strings.TrimSpace(in.Label),
		Description: in.Description,
		Language:    lang,
		Metadata:    md,
		DateAdded:   s.now(),
		IsStub:      true,
	}
	if err := s.store.CreateDocument(ctx, d); err != nil {
		return models.Document{}, fmt.Errorf("create document: %w", err)
	}
	s.emit(ctx, models.EventDocumentCreate, d.ID, "")
	s.reindex(ctx, d.ID)
	return d, nil
}

func (s *Service) GetDocument(ctx context.Context, id string) (models.Document, error) {
	return s.store.GetDocument(ctx, id)
}

func (s *Service) ListDocuments(ctx context.Context, f storage.DocumentFilter) ([]models.Document, error) {
	return s.store.ListDocuments(ctx, f)
}

// DocumentPatch changes the set fields only.
type DocumentPatch struct {
	Label       *string
	Description *string
	Language    *string
}

func (s *Service) UpdateDocument(ctx context.Context, id string, p DocumentPatch) (models.Document, error) {
	if p.Label != nil && strings.TrimSpace(*p.Label) == "" {
		return models.Document{}, util.NewValidationError("label", "cannot be empty")
	}
	d, _, err := s.mutate(ctx, id, func(d *models.Document) (bool, error) {
		if p.Label != nil {
			d.Label = strings.TrimSpace(*p.Label)
		}
		if p.Description != nil {
			d.Description = *p.Description
		}
		if p.Language != nil {
			d.Language = *p.Language
		}
		return true, nil
	})
	if err != nil {
		return models.Document{}, fmt.Errorf("update document: %w", err)
	}
	s.reindex(ctx, d.ID)
	return d, nil
}

// SetMetadata merges values into the document's metadata. An empty value
// clears a key. Nothing is written when validation fails.
func (s *Service) SetMetadata(ctx context.Context, id string, values map[string]string) (models.Document, error) {
	d, _, err := s.mutate(ctx, id, func(d *models.Document) (bool, error) {
		merged := maps.Clone(d.Metadata)
		if merged == nil {
			merged = map[string]string{}
		}
		for k, v := range values {
			merged[k] = v
		}
		md, err := s.resolveMetadata(ctx, d.TypeID, merged, false)
		if err != nil {
			return false, err
		}
		d.Metadata = md
		return true, nil
	})
	if err != nil {
		return models.Document{}, err
	}
	s.reindex(ctx, d.ID)
	return d, nil
}

// ChangeType moves a document to another type. Metadata the new type does
// not bind is dropped and its defaults are applied.
func (s *Service) ChangeType(ctx context.Context, id, typeID string) (models.Document, error) {
	if _, err := s.store.GetType(ctx, typeID); err != nil {
		return models.Document{}, fmt.Errorf("document type %s: %w", typeID, err)
	}
	d, changed, err := s.mutate(ctx, id, func(d *models.Document) (bool, error) {
		if d.TypeID == typeID {
			return false, nil
		}
		md, err := s.resolveMetadata(ctx, typeID, d.Metadata, true)
		if err != nil {
			return false, err
		}
		d.TypeID = typeID
		d.Metadata = md
		return true, nil
	})
	if err != nil || !changed {
		return d, err
	}
	s.emit(ctx, models.EventDocumentTypeChange, d.ID, typeID)
	s.reindex(ctx, d.ID)
	return d, nil
}
