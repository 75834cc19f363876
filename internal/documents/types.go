package documents

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"docflow/internal/models"
	"docflow/internal/storage"
	"docflow/internal/util"

	"github.com/google/uuid"
)

type TypeInput struct {
	Label       string
	TrashAfter  *time.Duration
	DeleteAfter time.Duration
	AutoExtract bool
	// AutoOCR nil means the configured default.
	AutoOCR *bool
}

func validateType(t models.DocumentType) error {
	if strings.TrimSpace(t.Label) == "" {
		return util.NewValidationError("label", "cannot be empty")
	}
	if t.DeleteAfter <= 0 {
		return util.NewValidationError("delete_after", "must be positive")
	}
	if t.TrashAfter != nil && *t.TrashAfter <= 0 {
		return util.NewValidationError("trash_after", "must be positive when set")
	}
	return nil
}

func (s *Service) CreateType(ctx context.Context, in TypeInput) (models.DocumentType, error) {
	t := models.DocumentType{
		ID:          uuid.NewString(),
		Label:       strings.TrimSpace(in.Label),
		TrashAfter:  in.TrashAfter,
		DeleteAfter: in.DeleteAfter,
		AutoExtract: in.AutoExtract,
		AutoOCR:     s.opts.AutoOCR,
		CreatedAt:   s.now(),
	}
	if t.DeleteAfter == 0 {
		t.DeleteAfter = models.DefaultDeleteAfter
	}
	if in.AutoOCR != nil {
		t.AutoOCR = *in.AutoOCR
	}
	if err := validateType(t); err != nil {
		return models.DocumentType{}, err
	}
	if err := s.store.CreateType(ctx, t); err != nil {
		return models.DocumentType{}, fmt.Errorf("create document type: %w", err)
	}
	return t, nil
}

func (s *Service) UpdateType(ctx context.Context, t models.DocumentType) error {
	t.Label = strings.TrimSpace(t.Label)
	if err := validateType(t); err != nil {
		return err
	}
	if err := s.store.UpdateType(ctx, t); err != nil {
		return fmt.Errorf("update document type: %w", err)
	}
	return nil
}

func (s *Service) GetType(ctx context.Context, id string) (models.DocumentType, error) {
	return s.store.GetType(ctx, id)
}

func (s *Service) ListTypes(ctx context.Context) ([]models.DocumentType, error) {
	return s.store.ListTypes(ctx)
}

// DeleteType hard-deletes every document of the type, then the type.
func (s *Service) DeleteType(ctx context.Context, id string) error {
	if _, err := s.store.GetType(ctx, id); err != nil {
		return err
	}
	docs, err := s.store.ListDocuments(ctx, storage.DocumentFilter{TypeID: id})
	if err != nil {
		return fmt.Errorf("list documents of type: %w", err)
	}
	for _, d := range docs {
		if err := s.Delete(ctx, d.ID); err != nil {
			return fmt.Errorf("delete document %s: %w", d.ID, err)
		}
	}
	if err := s.store.DeleteType(ctx, id); err != nil {
		return fmt.Errorf("delete document type: %w", err)
	}
	return nil
}

var metadataNameRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func (s *Service) CreateMetadataType(ctx context.Context, m models.MetadataType) (models.MetadataType, error) {
	m.Name = strings.TrimSpace(m.Name)
	if !metadataNameRe.MatchString(m.Name) {
		return models.MetadataType{}, util.NewValidationError("name", "%q must be a lowercase identifier", m.Name)
	}
	if m.Label == "" {
		m.Label = m.Name
	}
	if m.Pattern != "" {
		if _, err := regexp.Compile(m.Pattern); err != nil {
			return models.MetadataType{}, util.NewValidationError("pattern", "%v", err)
		}
	}
	if m.Default != "" {
		if err := checkValue(m, m.Default); err != nil {
			return models.MetadataType{}, err
		}
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if err := s.store.CreateMetadataType(ctx, m); err != nil {
		return models.MetadataType{}, fmt.Errorf("create metadata type: %w", err)
	}
	return m, nil
}

func (s *Service) ListMetadataTypes(ctx context.Context) ([]models.MetadataType, error) {
	return s.store.ListMetadataTypes(ctx)
}

// BindMetadata makes a metadata type available, optionally required, on
// documents of a type.
func (s *Service) BindMetadata(ctx context.Context, typeID, metadataTypeID string, required bool) error {
	if _, err := s.store.GetType(ctx, typeID); err != nil {
		return err
	}
	if _, err := s.store.GetMetadataType(ctx, metadataTypeID); err != nil {
		return err
	}
	return s.store.BindMetadata(ctx, models.TypeMetadata{TypeID: typeID, MetadataTypeID: metadataTypeID, Required: required})
}
