package models

import (
	"sort"
	"time"
)

// Extraction families. Each has its own queue, lock namespace and events.
const (
	FamilyParsing = "parsing"
	FamilyOCR     = "ocr"
)

func Families() []string { return []string{FamilyParsing, FamilyOCR} }

const DefaultDeleteAfter = 30 * 24 * time.Hour

type DocumentType struct {
	ID          string         `json:"id"`
	Label       string         `json:"label"`
	TrashAfter  *time.Duration `json:"trash_after,omitempty"`
	DeleteAfter time.Duration  `json:"delete_after"`
	AutoExtract bool           `json:"auto_extract"`
	AutoOCR     bool           `json:"auto_ocr"`
	CreatedAt   time.Time      `json:"created_at"`
}

type MetadataType struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Label   string   `json:"label"`
	Default string   `json:"default,omitempty"`
	Pattern string   `json:"pattern,omitempty"`
	Options []string `json:"options,omitempty"`
}

// TypeMetadata binds a MetadataType to a DocumentType.
type TypeMetadata struct {
	TypeID         string `json:"type_id"`
	MetadataTypeID string `json:"metadata_type_id"`
	Required       bool   `json:"required"`
}

type Document struct {
	ID          string            `json:"id"`
	UUID        string            `json:"uuid"`
	TypeID      string            `json:"type_id"`
	Label       string            `json:"label"`
	Description string            `json:"description,omitempty"`
	Language    string            `json:"language"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	DateAdded   time.Time         `json:"date_added"`
	InTrash     bool              `json:"in_trash"`
	TrashedAt   *time.Time        `json:"trashed_at,omitempty"`
	IsStub      bool              `json:"is_stub"`
}

type DocumentVersion struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Timestamp  time.Time `json:"timestamp"`
	Comment    string    `json:"comment,omitempty"`
	MimeType   string    `json:"mimetype"`
	Encoding   string    `json:"encoding"`
	Checksum   string    `json:"checksum"`
	Size       int64     `json:"size"`
	BlobRef    string    `json:"blob_ref"`
	PageCount  int       `json:"page_count"`
}

type DocumentPage struct {
	ID         string `json:"id"`
	VersionID  string `json:"version_id"`
	PageNumber int    `json:"page_number"`
}

// PageContent is keyed by (PageID, Source). Parsed and OCR text coexist.
type PageContent struct {
	PageID    string    `json:"page_id"`
	VersionID string    `json:"version_id"`
	Source    string    `json:"source"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}

type VersionExtractionError struct {
	ID          string    `json:"id"`
	VersionID   string    `json:"version_id"`
	Family      string    `json:"family"`
	SubmittedAt time.Time `json:"submitted_at"`
	Result      string    `json:"result"`
}

type Checkout struct {
	DocumentID      string    `json:"document_id"`
	User            string    `json:"user,omitempty"`
	CheckedOutAt    time.Time `json:"checked_out_at"`
	Expiration      time.Time `json:"expiration"`
	BlockNewVersion bool      `json:"block_new_version"`
}

// Live reports whether the checkout is still in force at now.
func (c Checkout) Live(now time.Time) bool {
	return now.Before(c.Expiration)
}

type IndexTemplate struct {
	ID      string   `json:"id"`
	Label   string   `json:"label"`
	Slug    string   `json:"slug"`
	Enabled bool     `json:"enabled"`
	TypeIDs []string `json:"type_ids"`
}

func (t IndexTemplate) AppliesTo(typeID string) bool {
	for _, id := range t.TypeIDs {
		if id == typeID {
			return true
		}
	}
	return false
}

// IndexTemplateNode with an empty ParentID is the implicit template root.
type IndexTemplateNode struct {
	ID            string `json:"id"`
	TemplateID    string `json:"template_id"`
	ParentID      string `json:"parent_id,omitempty"`
	Expression    string `json:"expression"`
	LinkDocuments bool   `json:"link_documents"`
	Enabled       bool   `json:"enabled"`
	Position      int    `json:"position"`
}

type IndexInstanceNode struct {
	ID             string   `json:"id"`
	TemplateID     string   `json:"template_id"`
	TemplateNodeID string   `json:"template_node_id"`
	ParentID       string   `json:"parent_id,omitempty"`
	Value          string   `json:"value"`
	DocumentIDs    []string `json:"document_ids,omitempty"`
	Lft            int      `json:"lft"`
	Rght           int      `json:"rght"`
	TreeID         string   `json:"tree_id"`
	Level          int      `json:"level"`
}

func (n IndexInstanceNode) HasDocument(id string) bool {
	i := sort.SearchStrings(n.DocumentIDs, id)
	return i < len(n.DocumentIDs) && n.DocumentIDs[i] == id
}

// Event kinds published after commit.
const (
	EventDocumentCreate     = "document_create"
	EventVersionUpload      = "version_upload"
	EventDocumentTypeChange = "document_type_change"
	EventDocumentTrash      = "document_trash"
	EventDocumentRestore    = "document_restore"
	EventDocumentDelete     = "document_delete"
)

// SubmitEvent and FinishEvent name the extraction events of a family.
func SubmitEvent(family string) string { return "extract_" + familyEventName(family) + "_submit" }

func FinishEvent(family string) string { return "extract_" + familyEventName(family) + "_finish" }

func familyEventName(family string) string {
	if family == FamilyParsing {
		return "parse"
	}
	return family
}
