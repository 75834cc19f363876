package search

import (
	"context"
	"fmt"
	"strings"

	"docflow/internal/models"
	"docflow/internal/storage"
	"docflow/internal/util"
)

type ScanStore interface {
	Store
	ListDocuments(ctx context.Context, f storage.DocumentFilter) ([]models.Document, error)
	ListTypes(ctx context.Context) ([]models.DocumentType, error)
}

// ScanMatcher evaluates matches by reading every row. It serves the
// embedded store, which has no query language.
type ScanMatcher struct {
	store ScanStore
}

func NewScanMatcher(store ScanStore) *ScanMatcher {
	return &ScanMatcher{store: store}
}

func containsAll(value string, terms []string) bool {
	v := strings.ToLower(value)
	for _, t := range terms {
		if !strings.Contains(v, strings.ToLower(t)) {
			return false
		}
	}
	return true
}

func (m *ScanMatcher) Match(ctx context.Context, entity, path string, terms []string) (Set, error) {
	out := Set{}
	switch entity {
	case EntityDocumentType:
		if path != "label" {
			return nil, util.NewValidationError(path, "unknown document_type field")
		}
		types, err := m.store.ListTypes(ctx)
		if err != nil {
			return nil, err
		}
		for _, t := range types {
			if containsAll(t.Label, terms) {
				out[t.ID] = struct{}{}
			}
		}
	case EntityDocument:
		notTrashed := false
		docs, err := m.store.ListDocuments(ctx, storage.DocumentFilter{InTrash: &notTrashed})
		if err != nil {
			return nil, err
		}
		for _, d := range docs {
			values, err := m.values(ctx, d, path)
			if err != nil {
				return nil, err
			}
			for _, v := range values {
				if containsAll(v, terms) {
					out[d.ID] = struct{}{}
					break
				}
			}
		}
	default:
		return nil, fmt.Errorf("search model %q: %w", entity, util.ErrNotFound)
	}
	return out, nil
}

// values returns the field's values for one document. Related rows yield
// one value each and all terms must land in the same value.
func (m *ScanMatcher) values(ctx context.Context, d models.Document, path string) ([]string, error) {
	switch path {
	case "label":
		return []string{d.Label}, nil
	case "description":
		return []string{d.Description}, nil
	case "uuid":
		return []string{d.UUID}, nil
	case "type__label":
		t, err := m.store.GetType(ctx, d.TypeID)
		if err != nil {
			return nil, err
		}
		return []string{t.Label}, nil
	case "metadata__value":
		out := make([]string, 0, len(d.Metadata))
		for _, v := range d.Metadata {
			out = append(out, v)
		}
		return out, nil
	case "versions__mimetype", "versions__checksum", "versions__pages__content":
		versions, err := m.store.ListVersions(ctx, d.ID)
		if err != nil {
			return nil, err
		}
		var out []string
		for _, v := range versions {
			switch path {
			case "versions__mimetype":
				out = append(out, v.MimeType)
			case "versions__checksum":
				out = append(out, v.Checksum)
			default:
				contents, err := m.store.ListPageContents(ctx, v.ID)
				if err != nil {
					return nil, err
				}
				for _, c := range contents {
					out = append(out, c.Content)
				}
			}
		}
		return out, nil
	}
	return nil, util.NewValidationError(path, "unknown document field")
}
