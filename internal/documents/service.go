// Package documents owns the document model: types, documents, versions,
// pages and their trash lifecycle. Every mutation commits through the store
// first and only then publishes events and notifies the index engine.
package documents

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"docflow/internal/blob"
	"docflow/internal/events"
	"docflow/internal/lock"
	"docflow/internal/mimes"
	"docflow/internal/models"
	"docflow/internal/storage"
)

// Indexer keeps index trees in step with documents.
type Indexer interface {
	DocumentChanged(ctx context.Context, documentID string) error
	DocumentDeleted(ctx context.Context, documentID string) error
}

// Submitter queues a version for extraction in a family.
type Submitter interface {
	Submit(ctx context.Context, family, versionID string) error
}

type Options struct {
	UploadLockTimeout time.Duration
	DefaultLanguage   string
	// AutoOCR is the default auto_ocr of new types.
	AutoOCR bool
}

type Deps struct {
	Store     storage.Store
	Blobs     blob.Store
	Locks     lock.Manager
	Events    events.Publisher
	Indexer   Indexer
	Submitter Submitter
	Counters  *mimes.Counters
	Logger    *slog.Logger
}

type Service struct {
	store     storage.Store
	blobs     blob.Store
	locks     lock.Manager
	events    events.Publisher
	indexer   Indexer
	submitter Submitter
	counters  *mimes.Counters
	opts      Options
	log       *slog.Logger

	// Now is the clock for timestamps and sweeps.
	Now func() time.Time

	// checksums of blobs written by uploads that have not committed yet
	pendingMu sync.Mutex
	pending   map[string]int
}

func NewService(d Deps, opts Options) *Service {
	if opts.UploadLockTimeout <= 0 {
		opts.UploadLockTimeout = 10 * time.Second
	}
	if opts.DefaultLanguage == "" {
		opts.DefaultLanguage = "eng"
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Counters == nil {
		d.Counters = mimes.NewCounters()
	}
	if d.Events == nil {
		d.Events = events.NewBus(d.Logger)
	}
	return &Service{
		store:     d.Store,
		blobs:     d.Blobs,
		locks:     d.Locks,
		events:    d.Events,
		indexer:   d.Indexer,
		submitter: d.Submitter,
		counters:  d.Counters,
		opts:      opts,
		log:       d.Logger,
		Now:       time.Now,
		pending:   map[string]int{},
	}
}

// SetIndexer and SetSubmitter break construction cycles in the wiring.
func (s *Service) SetIndexer(i Indexer) { s.indexer = i }

func (s *Service) SetSubmitter(sub Submitter) { s.submitter = sub }

func (s *Service) now() time.Time { return s.Now().UTC() }

func (s *Service) emit(ctx context.Context, kind, target, object string) {
	s.events.Publish(ctx, events.Event{
		Kind:         kind,
		Actor:        events.ActorFrom(ctx),
		Target:       target,
		ActionObject: object,
		At:           s.now(),
	})
}

// reindex runs after commit. A failure leaves the trees stale until the
// next change or rebuild, so it is logged rather than returned.
func (s *Service) reindex(ctx context.Context, documentID string) {
	if s.indexer == nil {
		return
	}
	if err := s.indexer.DocumentChanged(ctx, documentID); err != nil {
		s.log.Error("index update failed", "document_id", documentID, "error", err)
	}
}

func (s *Service) unindex(ctx context.Context, documentID string) {
	if s.indexer == nil {
		return
	}
	if err := s.indexer.DocumentDeleted(ctx, documentID); err != nil {
		s.log.Error("index removal failed", "document_id", documentID, "error", err)
	}
}

func (s *Service) submit(ctx context.Context, family, versionID string) {
	if s.submitter == nil {
		return
	}
	if err := s.submitter.Submit(ctx, family, versionID); err != nil {
		s.log.Error("extraction submit failed", "family", family, "version_id", versionID, "error", err)
	}
}

func (s *Service) holdBlob(checksum string) {
	s.pendingMu.Lock()
	s.pending[checksum]++
	s.pendingMu.Unlock()
}

func (s *Service) dropBlob(checksum string) {
	s.pendingMu.Lock()
	if s.pending[checksum] <= 1 {
		delete(s.pending, checksum)
	} else {
		s.pending[checksum]--
	}
	s.pendingMu.Unlock()
}

func (s *Service) blobPending(checksum string) bool {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	return s.pending[checksum] > 0
}

// releaseBlob deletes a blob no version references any more.
func (s *Service) releaseBlob(ctx context.Context, checksum string) {
	if checksum == "" || s.blobPending(checksum) {
		return
	}
	inUse, err := s.store.BlobInUse(ctx, checksum)
	if err != nil {
		s.log.Warn("blob reference check failed", "checksum", checksum, "error", err)
		return
	}
	if inUse {
		return
	}
	if err := s.blobs.Delete(ctx, checksum); err != nil {
		s.log.Warn("blob delete failed", "checksum", checksum, "error", err)
	}
}

// mutate loads a document, applies fn and writes it back under the
// document's upload lock, so two writers never overwrite each other with a
// stale copy. fn returns false when nothing changed.
func (s *Service) mutate(ctx context.Context, id string, fn func(d *models.Document) (bool, error)) (models.Document, bool, error) {
	var (
		d       models.Document
		changed bool
	)
	err := lock.WithWait(ctx, s.locks, UploadLockName(id), s.opts.UploadLockTimeout, s.opts.UploadLockTimeout, func(ctx context.Context) error {
		var err error
		if d, err = s.store.GetDocument(ctx, id); err != nil {
			return err
		}
		if changed, err = fn(&d); err != nil || !changed {
			return err
		}
		return s.store.UpdateDocument(ctx, d)
	})
	if err != nil {
		return models.Document{}, false, err
	}
	return d, changed, nil
}
