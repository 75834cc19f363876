package storage

import (
	"context"
	"time"

	"docflow/internal/models"
)

type TypeStore interface {
	CreateType(ctx context.Context, t models.DocumentType) error
	UpdateType(ctx context.Context, t models.DocumentType) error
	GetType(ctx context.Context, id string) (models.DocumentType, error)
	ListTypes(ctx context.Context) ([]models.DocumentType, error)
	// DeleteType removes the type row and its metadata bindings. Callers
	// delete the type's documents first.
	DeleteType(ctx context.Context, id string) error
	BindMetadata(ctx context.Context, b models.TypeMetadata) error
	TypeMetadata(ctx context.Context, typeID string) ([]models.TypeMetadata, error)
}

type MetadataTypeStore interface {
	CreateMetadataType(ctx context.Context, m models.MetadataType) error
	GetMetadataType(ctx context.Context, id string) (models.MetadataType, error)
	ListMetadataTypes(ctx context.Context) ([]models.MetadataType, error)
}

type DocumentFilter struct {
	TypeID  string
	InTrash *bool
}

func (f DocumentFilter) Match(d models.Document) bool {
	if f.TypeID != "" && d.TypeID != f.TypeID {
		return false
	}
	if f.InTrash != nil && d.InTrash != *f.InTrash {
		return false
	}
	return true
}

type DocumentStore interface {
	CreateDocument(ctx context.Context, d models.Document) error
	// UpdateDocument rewrites the mutable document fields. IsStub is owned
	// by the version operations and is left untouched.
	UpdateDocument(ctx context.Context, d models.Document) error
	GetDocument(ctx context.Context, id string) (models.Document, error)
	ListDocuments(ctx context.Context, f DocumentFilter) ([]models.Document, error)
	// DeleteDocument cascades to versions, pages, contents, extraction
	// errors and the checkout. It returns the blob refs the versions held.
	DeleteDocument(ctx context.Context, id string) ([]string, error)

	GetCheckout(ctx context.Context, documentID string) (models.Checkout, error)
	SaveCheckout(ctx context.Context, c models.Checkout) error
	DeleteCheckout(ctx context.Context, documentID string) error
}

type VersionStore interface {
	// CommitVersion stores the version and its pages and clears the
	// document's stub flag in one transaction.
	CommitVersion(ctx context.Context, v models.DocumentVersion, pages []models.DocumentPage) error
	GetVersion(ctx context.Context, id string) (models.DocumentVersion, error)
	// ListVersions orders by timestamp, oldest first.
	ListVersions(ctx context.Context, documentID string) ([]models.DocumentVersion, error)
	// DeleteVersion cascades to pages, contents and errors and flags the
	// document as a stub when no version remains.
	DeleteVersion(ctx context.Context, id string) (stub bool, err error)

	ListPages(ctx context.Context, versionID string) ([]models.DocumentPage, error)
	SavePageContent(ctx context.Context, c models.PageContent) error
	ListPageContents(ctx context.Context, versionID string) ([]models.PageContent, error)

	AddExtractionError(ctx context.Context, e models.VersionExtractionError) error
	ClearExtractionErrors(ctx context.Context, versionID, family string) error
	ListExtractionErrors(ctx context.Context, versionID string) ([]models.VersionExtractionError, error)

	BlobInUse(ctx context.Context, blobRef string) (bool, error)
	ListBlobRefs(ctx context.Context) (map[string]struct{}, error)
}

// TreeMutator receives the whole instance tree of a template and returns
// its replacement.
type TreeMutator func(nodes []models.IndexInstanceNode) ([]models.IndexInstanceNode, error)

type IndexStore interface {
	CreateTemplate(ctx context.Context, t models.IndexTemplate) error
	UpdateTemplate(ctx context.Context, t models.IndexTemplate) error
	GetTemplate(ctx context.Context, id string) (models.IndexTemplate, error)
	ListTemplates(ctx context.Context) ([]models.IndexTemplate, error)
	DeleteTemplate(ctx context.Context, id string) error

	CreateTemplateNode(ctx context.Context, n models.IndexTemplateNode) error
	ListTemplateNodes(ctx context.Context, templateID string) ([]models.IndexTemplateNode, error)

	ListInstanceNodes(ctx context.Context, templateID string) ([]models.IndexInstanceNode, error)
	// UpdateInstanceTree serialises concurrent tree mutations of a template.
	UpdateInstanceTree(ctx context.Context, templateID string, fn TreeMutator) error
}

// LockStore stores one row per lock name for the database lock backend.
type LockStore interface {
	AcquireLockRow(ctx context.Context, name, token string, ttl time.Duration, now time.Time) (bool, error)
	ReleaseLockRow(ctx context.Context, name, token string) error
	PurgeLockRows(ctx context.Context) error
}

type Store interface {
	TypeStore
	MetadataTypeStore
	DocumentStore
	VersionStore
	IndexStore
	LockStore
	Close() error
}
