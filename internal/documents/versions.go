package documents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"docflow/internal/lock"
	"docflow/internal/models"
	"docflow/internal/util"

	"github.com/google/uuid"
)

type VersionOptions struct {
	// Language, when set, replaces the document language.
	Language string
	Comment  string
}

func UploadLockName(documentID string) string { return "upload-lock:" + documentID }

// NewVersion stores r as the newest version of a document. Uploads to one
// document are serialised by its upload lock; a held lock fails fast with
// util.ErrLockUnavailable.
func (s *Service) NewVersion(ctx context.Context, documentID string, r io.Reader, opts VersionOptions) (models.DocumentVersion, error) {
	sp, err := newSpool(r)
	if err != nil {
		return models.DocumentVersion{}, err
	}
	defer sp.close()
	return s.newVersion(ctx, documentID, sp, opts)
}

func (s *Service) newVersion(ctx context.Context, documentID string, sp *spool, opts VersionOptions) (models.DocumentVersion, error) {
	var v models.DocumentVersion
	err := lock.With(ctx, s.locks, UploadLockName(documentID), s.opts.UploadLockTimeout, func(ctx context.Context) error {
		var err error
		v, err = s.commitVersion(ctx, documentID, sp, opts)
		return err
	})
	if err != nil {
		return models.DocumentVersion{}, err
	}

	s.emit(ctx, models.EventVersionUpload, documentID, v.ID)
	s.reindex(ctx, documentID)
	s.autoExtract(ctx, documentID, v.ID)
	return v, nil
}

func (s *Service) checkBlocked(ctx context.Context, documentID string) error {
	c, err := s.store.GetCheckout(ctx, documentID)
	if errors.Is(err, util.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load checkout: %w", err)
	}
	if c.BlockNewVersion && c.Live(s.now()) {
		return fmt.Errorf("document %s checked out until %s: %w", documentID, c.Expiration.Format(time.RFC3339), util.ErrNewVersionBlocked)
	}
	return nil
}

func (s *Service) commitVersion(ctx context.Context, documentID string, sp *spool, opts VersionOptions) (models.DocumentVersion, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return models.DocumentVersion{}, err
	}
	if err := s.checkBlocked(ctx, documentID); err != nil {
		return models.DocumentVersion{}, err
	}

	s.holdBlob(sp.checksum)
	held := true
	defer func() {
		if held {
			s.dropBlob(sp.checksum)
		}
	}()

	checksum, size, err := s.blobs.Put(ctx, sp.reader())
	if err != nil {
		return models.DocumentVersion{}, fmt.Errorf("store blob: %w", err)
	}
	if checksum != sp.checksum || size != sp.size {
		return models.DocumentVersion{}, fmt.Errorf("store blob: checksum mismatch %s != %s", checksum, sp.checksum)
	}

	pageCount, err := s.counters.Count(sp.mimeType, sp.reader(), sp.size)
	if err != nil {
		s.log.Warn("page count failed, assuming one page", "document_id", documentID, "mimetype", sp.mimeType, "error", err)
		pageCount = 1
	}

	ts, err := s.nextTimestamp(ctx, documentID)
	if err != nil {
		return models.DocumentVersion{}, err
	}
	v := models.DocumentVersion{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		Timestamp:  ts,
		Comment:    opts.Comment,
		MimeType:   sp.mimeType,
		Encoding:   sp.encoding,
		Checksum:   checksum,
		Size:       size,
		BlobRef:    checksum,
		PageCount:  pageCount,
	}
	pages := make([]models.DocumentPage, pageCount)
	for i := range pages {
		pages[i] = models.DocumentPage{ID: uuid.NewString(), VersionID: v.ID, PageNumber: i + 1}
	}
	if err := s.store.CommitVersion(ctx, v, pages); err != nil {
		held = false
		s.dropBlob(sp.checksum)
		s.releaseBlob(context.WithoutCancel(ctx), checksum)
		return models.DocumentVersion{}, fmt.Errorf("commit version: %w", err)
	}

	if opts.Language != "" && opts.Language != doc.Language {
		doc.Language = opts.Language
		if err := s.store.UpdateDocument(ctx, doc); err != nil {
			s.log.Warn("update document language failed", "document_id", documentID, "error", err)
		}
	}
	return v, nil
}

// nextTimestamp keeps version timestamps strictly increasing per document
// even when the clock does not move between two uploads.
func (s *Service) nextTimestamp(ctx context.Context, documentID string) (time.Time, error) {
	ts := s.now().Truncate(time.Microsecond)
	versions, err := s.store.ListVersions(ctx, documentID)
	if err != nil {
		return time.Time{}, fmt.Errorf("list versions: %w", err)
	}
	if n := len(versions); n > 0 {
		if last := versions[n-1].Timestamp; !ts.After(last) {
			ts = last.Add(time.Microsecond)
		}
	}
	return ts, nil
}

func (s *Service) autoExtract(ctx context.Context, documentID, versionID string) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		s.log.Warn("auto extraction skipped", "document_id", documentID, "error", err)
		return
	}
	t, err := s.store.GetType(ctx, doc.TypeID)
	if err != nil {
		s.log.Warn("auto extraction skipped", "document_id", documentID, "error", err)
		return
	}
	if t.AutoExtract {
		s.submit(ctx, models.FamilyParsing, versionID)
	}
	if t.AutoOCR {
		s.submit(ctx, models.FamilyOCR, versionID)
	}
}

// Submit queues extraction of a version explicitly.
func (s *Service) Submit(ctx context.Context, family, versionID string) error {
	if s.submitter == nil {
		return fmt.Errorf("submit %s: no scheduler configured", family)
	}
	if _, err := s.store.GetVersion(ctx, versionID); err != nil {
		return err
	}
	return s.submitter.Submit(ctx, family, versionID)
}

func (s *Service) GetVersion(ctx context.Context, id string) (models.DocumentVersion, error) {
	return s.store.GetVersion(ctx, id)
}

func (s *Service) ListVersions(ctx context.Context, documentID string) ([]models.DocumentVersion, error) {
	return s.store.ListVersions(ctx, documentID)
}

// LatestVersion returns util.ErrNotFound for a stub.
func (s *Service) LatestVersion(ctx context.Context, documentID string) (models.DocumentVersion, error) {
	vs, err := s.store.ListVersions(ctx, documentID)
	if err != nil {
		return models.DocumentVersion{}, err
	}
	if len(vs) == 0 {
		return models.DocumentVersion{}, fmt.Errorf("latest version of %s: %w", documentID, util.ErrNotFound)
	}
	return vs[len(vs)-1], nil
}

func (s *Service) OpenVersion(ctx context.Context, id string) (io.ReadCloser, error) {
	v, err := s.store.GetVersion(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.blobs.Open(ctx, v.BlobRef)
}

func (s *Service) Pages(ctx context.Context, versionID string) ([]models.DocumentPage, error) {
	return s.store.ListPages(ctx, versionID)
}

func (s *Service) PageContents(ctx context.Context, versionID string) ([]models.PageContent, error) {
	return s.store.ListPageContents(ctx, versionID)
}

func (s *Service) ExtractionErrors(ctx context.Context, versionID string) ([]models.VersionExtractionError, error) {
	return s.store.ListExtractionErrors(ctx, versionID)
}

// DeleteVersion removes a version. The document becomes a stub again when
// it was the last one.
func (s *Service) DeleteVersion(ctx context.Context, id string) error {
	v, err := s.store.GetVersion(ctx, id)
	if err != nil {
		return err
	}
	err = lock.With(ctx, s.locks, UploadLockName(v.DocumentID), s.opts.UploadLockTimeout, func(ctx context.Context) error {
		_, err := s.store.DeleteVersion(ctx, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete version: %w", err)
	}
	s.releaseBlob(ctx, v.BlobRef)
	s.reindex(ctx, v.DocumentID)
	return nil
}

// CheckOut blocks or reserves a document until now+d. A live checkout by
// anyone is a conflict.
func (s *Service) CheckOut(ctx context.Context, documentID, user string, d time.Duration, blockNewVersion bool) (models.Checkout, error) {
	if d <= 0 {
		return models.Checkout{}, util.NewValidationError("expiration", "must be in the future")
	}
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return models.Checkout{}, err
	}
	now := s.now()
	cur, err := s.store.GetCheckout(ctx, documentID)
	switch {
	case err == nil && cur.Live(now):
		return models.Checkout{}, fmt.Errorf("document %s already checked out: %w", documentID, util.ErrConflict)
	case err != nil && !errors.Is(err, util.ErrNotFound):
		return models.Checkout{}, fmt.Errorf("load checkout: %w", err)
	}
	c := models.Checkout{
		DocumentID:      documentID,
		User:            user,
		CheckedOutAt:    now,
		Expiration:      now.Add(d),
		BlockNewVersion: blockNewVersion,
	}
	if err := s.store.SaveCheckout(ctx, c); err != nil {
		return models.Checkout{}, fmt.Errorf("save checkout: %w", err)
	}
	return c, nil
}

func (s *Service) CheckIn(ctx context.Context, documentID string) error {
	if err := s.store.DeleteCheckout(ctx, documentID); err != nil {
		return fmt.Errorf("check in: %w", err)
	}
	return nil
}
