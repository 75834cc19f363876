package parsing

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"docflow/internal/blob"
	"docflow/internal/models"
	"docflow/internal/util"
)

// Target is the version a backend works on plus the means to read its
// bytes and write page text.
type Target struct {
	Version  models.DocumentVersion
	Language string
	Pages    []models.DocumentPage

	source string
	store  ContentStore
	blobs  blob.Store
	now    func() time.Time

	spooled string
}

func (t *Target) Open(ctx context.Context) (io.ReadCloser, error) {
	return t.blobs.Open(ctx, t.Version.BlobRef)
}

// Spool copies the blob to a temp file once per dispatch, for tools that
// need a path or random access.
func (t *Target) Spool(ctx context.Context) (string, error) {
	if t.spooled != "" {
		return t.spooled, nil
	}
	rc, err := t.Open(ctx)
	if err != nil {
		return "", fmt.Errorf("open blob: %w", err)
	}
	defer rc.Close()

	f, err := os.CreateTemp("", "docflow-extract-*")
	if err != nil {
		return "", fmt.Errorf("create spool file: %w", err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("spool blob: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("close spool file: %w", err)
	}
	t.spooled = f.Name()
	return t.spooled, nil
}

func (t *Target) cleanup() {
	if t.spooled != "" {
		_ = os.Remove(t.spooled)
		t.spooled = ""
	}
}

// Save stores text for the 1-based page number under the registry's
// family.
func (t *Target) Save(ctx context.Context, pageNumber int, text string) error {
	for _, p := range t.Pages {
		if p.PageNumber != pageNumber {
			continue
		}
		return t.store.SavePageContent(ctx, models.PageContent{
			PageID:    p.ID,
			VersionID: t.Version.ID,
			Source:    t.source,
			Content:   util.SanitizeText(text),
			UpdatedAt: t.now().UTC(),
		})
	}
	return fmt.Errorf("version %s has no page %d", t.Version.ID, pageNumber)
}
