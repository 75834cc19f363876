package kvstore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"docflow/internal/models"
	"docflow/internal/util"

	"github.com/dgraph-io/badger/v4"
)

const (
	prefixVersion    = "v/"
	prefixDocVersion = "dv/"
	prefixPage       = "p/"
	prefixContent    = "c/"
	prefixError      = "e/"
	prefixBlobRef    = "br/"
)

func versionKey(id string) string { return prefixVersion + id }
func docVersionKey(docID, versionID string) string {
	return prefixDocVersion + docID + "/" + versionID
}
func pageKey(versionID string, n int) string {
	return fmt.Sprintf("%s%s/%08d", prefixPage, versionID, n)
}
func contentKey(versionID, pageID, source string) string {
	return prefixContent + versionID + "/" + pageID + "/" + source
}
func errorKey(versionID, id string) string { return prefixError + versionID + "/" + id }
func blobRefKey(ref, versionID string) string {
	return prefixBlobRef + ref + "/" + versionID
}

func (s *Store) CommitVersion(ctx context.Context, v models.DocumentVersion, pages []models.DocumentPage) error {
	return s.update(func(txn *badger.Txn) error {
		doc, err := getJSON[models.Document](txn, documentKey(v.DocumentID))
		if err != nil {
			return fmt.Errorf("get document %s: %w", v.DocumentID, err)
		}
		if ok, err := exists(txn, versionKey(v.ID)); err != nil {
			return err
		} else if ok {
			return fmt.Errorf("insert version %s: %w", v.ID, util.ErrConflict)
		}
		if err := putJSON(txn, versionKey(v.ID), v); err != nil {
			return err
		}
		if err := txn.Set([]byte(docVersionKey(v.DocumentID, v.ID)), nil); err != nil {
			return err
		}
		if err := txn.Set([]byte(blobRefKey(v.BlobRef, v.ID)), nil); err != nil {
			return err
		}
		for _, p := range pages {
			if err := putJSON(txn, pageKey(v.ID, p.PageNumber), p); err != nil {
				return err
			}
		}
		doc.IsStub = false
		return putJSON(txn, documentKey(doc.ID), doc)
	})
}

func (s *Store) GetVersion(ctx context.Context, id string) (models.DocumentVersion, error) {
	var out models.DocumentVersion
	err := s.view(func(txn *badger.Txn) error {
		var err error
		out, err = getJSON[models.DocumentVersion](txn, versionKey(id))
		return err
	})
	if err != nil {
		return models.DocumentVersion{}, fmt.Errorf("get version %s: %w", id, err)
	}
	return out, nil
}

func (s *Store) ListVersions(ctx context.Context, documentID string) ([]models.DocumentVersion, error) {
	out := make([]models.DocumentVersion, 0)
	err := s.view(func(txn *badger.Txn) error {
		ids, err := scanKeys(txn, prefixDocVersion+documentID+"/")
		if err != nil {
			return err
		}
		for _, id := range ids {
			v, err := getJSON[models.DocumentVersion](txn, versionKey(id))
			if err != nil {
				return err
			}
			out = append(out, v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func (s *Store) DeleteVersion(ctx context.Context, id string) (bool, error) {
	var stub bool
	err := s.update(func(txn *badger.Txn) error {
		v, err := getJSON[models.DocumentVersion](txn, versionKey(id))
		if err != nil {
			return fmt.Errorf("get version %s: %w", id, err)
		}
		if err := deleteVersionTxn(txn, v); err != nil {
			return err
		}
		left, err := scanKeys(txn, prefixDocVersion+v.DocumentID+"/")
		if err != nil {
			return err
		}
		// the delete above is visible to this transaction's own reads
		stub = len(left) == 0
		if !stub {
			return nil
		}
		doc, err := getJSON[models.Document](txn, documentKey(v.DocumentID))
		if err != nil {
			return err
		}
		doc.IsStub = true
		return putJSON(txn, documentKey(doc.ID), doc)
	})
	return stub, err
}

func deleteVersionTxn(txn *badger.Txn, v models.DocumentVersion) error {
	for _, prefix := range []string{
		prefixPage + v.ID + "/",
		prefixContent + v.ID + "/",
		prefixError + v.ID + "/",
	} {
		if err := deletePrefix(txn, prefix); err != nil {
			return err
		}
	}
	for _, k := range []string{
		blobRefKey(v.BlobRef, v.ID),
		docVersionKey(v.DocumentID, v.ID),
		versionKey(v.ID),
	} {
		if err := txn.Delete([]byte(k)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ListPages(ctx context.Context, versionID string) ([]models.DocumentPage, error) {
	var out []models.DocumentPage
	err := s.view(func(txn *badger.Txn) error {
		var err error
		out, err = scanJSON[models.DocumentPage](txn, prefixPage+versionID+"/")
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	return out, nil
}

func (s *Store) SavePageContent(ctx context.Context, c models.PageContent) error {
	return s.update(func(txn *badger.Txn) error {
		if ok, err := exists(txn, versionKey(c.VersionID)); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("save page content: version %s: %w", c.VersionID, util.ErrNotFound)
		}
		return putJSON(txn, contentKey(c.VersionID, c.PageID, c.Source), c)
	})
}

func (s *Store) ListPageContents(ctx context.Context, versionID string) ([]models.PageContent, error) {
	var out []models.PageContent
	err := s.view(func(txn *badger.Txn) error {
		var err error
		out, err = scanJSON[models.PageContent](txn, prefixContent+versionID+"/")
		return err
	})
	return out, err
}

func (s *Store) AddExtractionError(ctx context.Context, e models.VersionExtractionError) error {
	return s.update(func(txn *badger.Txn) error {
		if ok, err := exists(txn, versionKey(e.VersionID)); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("add extraction error: version %s: %w", e.VersionID, util.ErrNotFound)
		}
		return putJSON(txn, errorKey(e.VersionID, e.ID), e)
	})
}

func (s *Store) ClearExtractionErrors(ctx context.Context, versionID, family string) error {
	return s.update(func(txn *badger.Txn) error {
		errs, err := scanJSON[models.VersionExtractionError](txn, prefixError+versionID+"/")
		if err != nil {
			return err
		}
		for _, e := range errs {
			if family == "" || e.Family == family {
				if err := txn.Delete([]byte(errorKey(versionID, e.ID))); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (s *Store) ListExtractionErrors(ctx context.Context, versionID string) ([]models.VersionExtractionError, error) {
	var out []models.VersionExtractionError
	err := s.view(func(txn *badger.Txn) error {
		var err error
		out, err = scanJSON[models.VersionExtractionError](txn, prefixError+versionID+"/")
		return err
	})
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, err
}

func (s *Store) BlobInUse(ctx context.Context, blobRef string) (bool, error) {
	var inUse bool
	err := s.view(func(txn *badger.Txn) error {
		keys, err := scanKeys(txn, prefixBlobRef+blobRef+"/")
		inUse = len(keys) > 0
		return err
	})
	return inUse, err
}

func (s *Store) ListBlobRefs(ctx context.Context) (map[string]struct{}, error) {
	out := map[string]struct{}{}
	err := s.view(func(txn *badger.Txn) error {
		keys, err := scanKeys(txn, prefixBlobRef)
		for _, k := range keys {
			ref, _, _ := strings.Cut(k, "/")
			out[ref] = struct{}{}
		}
		return err
	})
	return out, err
}
