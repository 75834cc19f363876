// Package parsing maps MIME types to ordered lists of text extraction
// backends. There is one Registry per family: parsing for text-native
// formats, ocr for raster content.
package parsing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"docflow/internal/blob"
	"docflow/internal/models"
	"docflow/internal/util"
)

// Backend extracts text for one version. Process must be idempotent: a
// re-run overwrites the page contents it wrote before.
type Backend interface {
	Name() string
	Process(ctx context.Context, t *Target) error
}

// ContentStore is the part of the document model backends write through.
type ContentStore interface {
	ListPages(ctx context.Context, versionID string) ([]models.DocumentPage, error)
	SavePageContent(ctx context.Context, c models.PageContent) error
}

type Job struct {
	Version  models.DocumentVersion
	Language string
}

type Registry struct {
	family string
	store  ContentStore
	blobs  blob.Store
	now    func() time.Time
	log    *slog.Logger

	mu       sync.RWMutex
	backends map[string][]Backend
}

func NewRegistry(family string, store ContentStore, blobs blob.Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		family:   family,
		store:    store,
		blobs:    blobs,
		now:      time.Now,
		log:      logger.With("family", family),
		backends: map[string][]Backend{},
	}
}

func (r *Registry) Family() string { return r.family }

// Register appends b to the backends tried for mimeType.
func (r *Registry) Register(mimeType string, b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[mimeType] = append(r.backends[mimeType], b)
}

func (r *Registry) Backends(mimeType string) []Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Backend(nil), r.backends[mimeType]...)
}

// MimeTypes lists the registered types, for diagnostics.
func (r *Registry) MimeTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.backends))
	for mt := range r.backends {
		out = append(out, mt)
	}
	return out
}

// Dispatch tries the backends of the version's MIME type in order and
// stops at the first success. A type with no backends succeeds without
// doing anything. When every backend fails the joined failures are wrapped
// in util.ErrExtractionFailed.
func (r *Registry) Dispatch(ctx context.Context, job Job) error {
	backends := r.Backends(job.Version.MimeType)
	if len(backends) == 0 {
		r.log.Debug("no backend for mime type", "mimetype", job.Version.MimeType, "version_id", job.Version.ID)
		return nil
	}
	pages, err := r.store.ListPages(ctx, job.Version.ID)
	if err != nil {
		return fmt.Errorf("list pages: %w", err)
	}
	t := &Target{
		Version:  job.Version,
		Language: job.Language,
		Pages:    pages,
		source:   r.family,
		store:    r.store,
		blobs:    r.blobs,
		now:      r.now,
	}
	defer t.cleanup()

	errs := make([]error, 0, len(backends))
	for _, b := range backends {
		err := b.Process(ctx, t)
		if err == nil {
			r.log.Info("extracted", "backend", b.Name(), "version_id", job.Version.ID, "pages", len(pages))
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.log.Warn("backend failed", "backend", b.Name(), "version_id", job.Version.ID, "error", err)
		var be *util.BackendError
		if !errors.As(err, &be) {
			err = &util.BackendError{Backend: b.Name(), Err: err}
		}
		errs = append(errs, err)
	}
	return fmt.Errorf("%w: %w", util.ErrExtractionFailed, errors.Join(errs...))
}
