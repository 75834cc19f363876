package documents

import (
	"context"
	"fmt"
	"time"

	"docflow/internal/lock"
	"docflow/internal/models"
	"docflow/internal/storage"
)

func (s *Service) Trash(ctx context.Context, id string) (models.Document, error) {
	d, changed, err := s.mutate(ctx, id, func(d *models.Document) (bool, error) {
		if d.InTrash {
			return false, nil
		}
		now := s.now()
		d.InTrash = true
		d.TrashedAt = &now
		return true, nil
	})
	if err != nil {
		return models.Document{}, fmt.Errorf("trash document: %w", err)
	}
	if changed {
		s.emit(ctx, models.EventDocumentTrash, d.ID, "")
		s.reindex(ctx, d.ID)
	}
	return d, nil
}

func (s *Service) Restore(ctx context.Context, id string) (models.Document, error) {
	d, changed, err := s.mutate(ctx, id, func(d *models.Document) (bool, error) {
		if !d.InTrash {
			return false, nil
		}
		d.InTrash = false
		d.TrashedAt = nil
		return true, nil
	})
	if err != nil {
		return models.Document{}, fmt.Errorf("restore document: %w", err)
	}
	if changed {
		s.emit(ctx, models.EventDocumentRestore, d.ID, "")
		s.reindex(ctx, d.ID)
	}
	return d, nil
}

// Delete removes a document and everything it owns, drops it from every
// index tree and deletes the blobs no other version shares.
func (s *Service) Delete(ctx context.Context, id string) error {
	var refs []string
	err := lock.With(ctx, s.locks, UploadLockName(id), s.opts.UploadLockTimeout, func(ctx context.Context) error {
		var err error
		refs, err = s.store.DeleteDocument(ctx, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	s.unindex(ctx, id)
	for _, ref := range refs {
		s.releaseBlob(ctx, ref)
	}
	s.emit(ctx, models.EventDocumentDelete, id, "")
	return nil
}

func (s *Service) typesByID(ctx context.Context) (map[string]models.DocumentType, error) {
	types, err := s.store.ListTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list document types: %w", err)
	}
	out := make(map[string]models.DocumentType, len(types))
	for _, t := range types {
		out[t.ID] = t
	}
	return out, nil
}

// SweepTrash moves to the trash every document whose type's trash_after has
// elapsed since it was added. Types without trash_after are never swept.
func (s *Service) SweepTrash(ctx context.Context, now time.Time) (int, error) {
	types, err := s.typesByID(ctx)
	if err != nil {
		return 0, err
	}
	notTrashed := false
	docs, err := s.store.ListDocuments(ctx, storage.DocumentFilter{InTrash: &notTrashed})
	if err != nil {
		return 0, fmt.Errorf("list documents: %w", err)
	}
	n := 0
	for _, d := range docs {
		t, ok := types[d.TypeID]
		if !ok || t.TrashAfter == nil {
			continue
		}
		if now.Before(d.DateAdded.Add(*t.TrashAfter)) {
			continue
		}
		if _, err := s.Trash(ctx, d.ID); err != nil {
			s.log.Error("trash sweep failed", "document_id", d.ID, "error", err)
			continue
		}
		n++
	}
	if n > 0 {
		s.log.Info("trash sweep", "trashed", n)
	}
	return n, nil
}

// SweepDeleted hard-deletes trashed documents whose type's delete_after has
// elapsed since they were trashed.
func (s *Service) SweepDeleted(ctx context.Context, now time.Time) (int, error) {
	types, err := s.typesByID(ctx)
	if err != nil {
		return 0, err
	}
	trashed := true
	docs, err := s.store.ListDocuments(ctx, storage.DocumentFilter{InTrash: &trashed})
	if err != nil {
		return 0, fmt.Errorf("list documents: %w", err)
	}
	n := 0
	for _, d := range docs {
		t, ok := types[d.TypeID]
		if !ok || d.TrashedAt == nil {
			continue
		}
		if now.Before(d.TrashedAt.Add(t.DeleteAfter)) {
			continue
		}
		if err := s.Delete(ctx, d.ID); err != nil {
			s.log.Error("delete sweep failed", "document_id", d.ID, "error", err)
			continue
		}
		n++
	}
	if n > 0 {
		s.log.Info("delete sweep", "deleted", n)
	}
	return n, nil
}

// CollectOrphanBlobs deletes stored blobs that no version references.
// Blobs of uploads still in flight are left alone.
func (s *Service) CollectOrphanBlobs(ctx context.Context) (int, error) {
	keys, err := s.blobs.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list blobs: %w", err)
	}
	refs, err := s.store.ListBlobRefs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list blob refs: %w", err)
	}
	n := 0
	for _, k := range keys {
		if _, ok := refs[k]; ok || s.blobPending(k) {
			continue
		}
		// re-check: an upload may have committed since the ref listing
		if inUse, err := s.store.BlobInUse(ctx, k); err != nil || inUse {
			continue
		}
		if err := s.blobs.Delete(ctx, k); err != nil {
			s.log.Warn("orphan blob delete failed", "checksum", k, "error", err)
			continue
		}
		n++
	}
	if n > 0 {
		s.log.Info("orphan blobs collected", "deleted", n)
	}
	return n, nil
}
