package documents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"docflow/internal/mimes"
	"docflow/internal/models"
	"docflow/internal/util"
)

// ArchivePolicy decides whether an uploaded archive becomes one document or
// one sibling document per entry.
type ArchivePolicy string

const (
	ArchiveAlways ArchivePolicy = "always"
	ArchiveNever  ArchivePolicy = "never"
	// ArchiveAsk leaves the choice to the uploader through UploadRequest.Expand.
	ArchiveAsk ArchivePolicy = "ask"
)

func ParseArchivePolicy(s string) (ArchivePolicy, error) {
	switch p := ArchivePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case ArchiveAlways, ArchiveNever, ArchiveAsk:
		return p, nil
	case "":
		return ArchiveAsk, nil
	default:
		return "", util.NewValidationError("archive_policy", "unknown policy %q", s)
	}
}

type UploadRequest struct {
	TypeID      string
	Label       string
	Description string
	Language    string
	Comment     string
	Metadata    map[string]string
	Policy      ArchivePolicy
	// Expand is the uploader's answer under ArchiveAsk.
	Expand bool
	// DropFailedStub deletes the stub of a document whose version failed to
	// commit. Sources that retry an item set it so retries do not pile up
	// stubs.
	DropFailedStub bool
	Body           io.Reader
}

func (r UploadRequest) expand() bool {
	switch r.Policy {
	case ArchiveAlways:
		return true
	case ArchiveAsk:
		return r.Expand
	default:
		return false
	}
}

// Upload creates documents from a source stream. An archive expanded by the
// policy yields one document per entry and none for the archive itself.
// Documents whose version failed to commit stay behind as stubs unless
// DropFailedStub is set.
func (s *Service) Upload(ctx context.Context, req UploadRequest) ([]models.Document, error) {
	if req.Body == nil {
		return nil, util.NewValidationError("file", "missing body")
	}
	sp, err := newSpool(req.Body)
	if err != nil {
		return nil, err
	}
	defer sp.close()

	if req.expand() && mimes.IsArchive(sp.mimeType) {
		docs, err := s.uploadArchive(ctx, req, sp)
		if !errors.Is(err, util.ErrNotACompressedFile) {
			return docs, err
		}
		s.log.Info("archive could not be expanded, storing as one document", "label", req.Label, "error", err)
	}

	d, err := s.uploadOne(ctx, req, req.Label, sp)
	if err != nil {
		return nil, err
	}
	return []models.Document{d}, nil
}

func (s *Service) uploadOne(ctx context.Context, req UploadRequest, label string, sp *spool) (models.Document, error) {
	if strings.TrimSpace(label) == "" {
		label = sp.checksum[:12]
	}
	d, err := s.CreateDocument(ctx, DocumentInput{
		TypeID:      req.TypeID,
		Label:       label,
		Description: req.Description,
		Language:    req.Language,
		Metadata:    req.Metadata,
	})
	if err != nil {
		return models.Document{}, err
	}
	if _, err := s.newVersion(ctx, d.ID, sp, VersionOptions{Comment: req.Comment}); err != nil {
		if req.DropFailedStub {
			if derr := s.Delete(context.WithoutCancel(ctx), d.ID); derr != nil {
				s.log.Warn("drop failed stub", "document_id", d.ID, "error", derr)
			}
		}
		return d, fmt.Errorf("upload %q: %w", label, err)
	}
	return s.store.GetDocument(ctx, d.ID)
}

func (s *Service) uploadArchive(ctx context.Context, req UploadRequest, sp *spool) ([]models.Document, error) {
	entries, err := mimes.Expand(sp.reader(), sp.size)
	if err != nil {
		return nil, err
	}
	var docs []models.Document
	for _, e := range entries {
		d, err := s.uploadEntry(ctx, req, e)
		if err != nil {
			var verr *util.ValidationError
			if errors.As(err, &verr) && verr.Field == "file" {
				s.log.Info("skipping empty archive entry", "entry", e.Name)
				continue
			}
			return docs, fmt.Errorf("archive entry %s: %w", e.Name, err)
		}
		docs = append(docs, d)
	}
	return docs, nil
}

func (s *Service) uploadEntry(ctx context.Context, req UploadRequest, e mimes.ArchiveEntry) (models.Document, error) {
	rc, err := e.Open()
	if err != nil {
		return models.Document{}, fmt.Errorf("open entry: %w", err)
	}
	defer rc.Close()
	sp, err := newSpool(rc)
	if err != nil {
		return models.Document{}, err
	}
	defer sp.close()
	return s.uploadOne(ctx, req, path.Base(e.Name), sp)
}
