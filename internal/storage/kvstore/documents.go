package kvstore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"docflow/internal/models"
	"docflow/internal/storage"
	"docflow/internal/util"

	"github.com/dgraph-io/badger/v4"
)

const (
	prefixType         = "t/"
	prefixTypeMetadata = "tm/"
	prefixMetadataType = "m/"
	prefixDocument     = "d/"
	prefixCheckout     = "co/"
)

func typeKey(id string) string         { return prefixType + id }
func metadataTypeKey(id string) string { return prefixMetadataType + id }
func documentKey(id string) string     { return prefixDocument + id }
func checkoutKey(id string) string     { return prefixCheckout + id }
func typeMetadataKey(typeID, mdID string) string {
	return prefixTypeMetadata + typeID + "/" + mdID
}

func (s *Store) CreateType(ctx context.Context, t models.DocumentType) error {
	return s.update(func(txn *badger.Txn) error {
		all, err := scanJSON[models.DocumentType](txn, prefixType)
		if err != nil {
			return err
		}
		for _, x := range all {
			if x.ID == t.ID || strings.EqualFold(x.Label, t.Label) {
				return fmt.Errorf("create document type %q: %w", t.Label, util.ErrConflict)
			}
		}
		return putJSON(txn, typeKey(t.ID), t)
	})
}

func (s *Store) UpdateType(ctx context.Context, t models.DocumentType) error {
	return s.update(func(txn *badger.Txn) error {
		if _, err := getJSON[models.DocumentType](txn, typeKey(t.ID)); err != nil {
			return fmt.Errorf("get document type: %w", err)
		}
		all, err := scanJSON[models.DocumentType](txn, prefixType)
		if err != nil {
			return err
		}
		for _, x := range all {
			if x.ID != t.ID && strings.EqualFold(x.Label, t.Label) {
				return fmt.Errorf("update document type %q: %w", t.Label, util.ErrConflict)
			}
		}
		return putJSON(txn, typeKey(t.ID), t)
	})
}

func (s *Store) GetType(ctx context.Context, id string) (models.DocumentType, error) {
	var out models.DocumentType
	err := s.view(func(txn *badger.Txn) error {
		var err error
		out, err = getJSON[models.DocumentType](txn, typeKey(id))
		return err
	})
	if err != nil {
		return models.DocumentType{}, fmt.Errorf("get document type %s: %w", id, err)
	}
	return out, nil
}

func (s *Store) ListTypes(ctx context.Context) ([]models.DocumentType, error) {
	var out []models.DocumentType
	err := s.view(func(txn *badger.Txn) error {
		var err error
		out, err = scanJSON[models.DocumentType](txn, prefixType)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list document types: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out, nil
}

func (s *Store) DeleteType(ctx context.Context, id string) error {
	return s.update(func(txn *badger.Txn) error {
		if err := deletePrefix(txn, prefixTypeMetadata+id+"/"); err != nil {
			return err
		}
		return txn.Delete([]byte(typeKey(id)))
	})
}

func (s *Store) BindMetadata(ctx context.Context, b models.TypeMetadata) error {
	return s.update(func(txn *badger.Txn) error {
		if _, err := getJSON[models.DocumentType](txn, typeKey(b.TypeID)); err != nil {
			return fmt.Errorf("get document type: %w", err)
		}
		if _, err := getJSON[models.MetadataType](txn, metadataTypeKey(b.MetadataTypeID)); err != nil {
			return fmt.Errorf("get metadata type: %w", err)
		}
		return putJSON(txn, typeMetadataKey(b.TypeID, b.MetadataTypeID), b)
	})
}

func (s *Store) TypeMetadata(ctx context.Context, typeID string) ([]models.TypeMetadata, error) {
	var out []models.TypeMetadata
	err := s.view(func(txn *badger.Txn) error {
		var err error
		out, err = scanJSON[models.TypeMetadata](txn, prefixTypeMetadata+typeID+"/")
		return err
	})
	return out, err
}

func (s *Store) CreateMetadataType(ctx context.Context, m models.MetadataType) error {
	return s.update(func(txn *badger.Txn) error {
		all, err := scanJSON[models.MetadataType](txn, prefixMetadataType)
		if err != nil {
			return err
		}
		for _, x := range all {
			if x.ID == m.ID || x.Name == m.Name {
				return fmt.Errorf("create metadata type %q: %w", m.Name, util.ErrConflict)
			}
		}
		return putJSON(txn, metadataTypeKey(m.ID), m)
	})
}

func (s *Store) GetMetadataType(ctx context.Context, id string) (models.MetadataType, error) {
	var out models.MetadataType
	err := s.view(func(txn *badger.Txn) error {
		var err error
		out, err = getJSON[models.MetadataType](txn, metadataTypeKey(id))
		return err
	})
	if err != nil {
		return models.MetadataType{}, fmt.Errorf("get metadata type %s: %w", id, err)
	}
	return out, nil
}

func (s *Store) ListMetadataTypes(ctx context.Context) ([]models.MetadataType, error) {
	var out []models.MetadataType
	err := s.view(func(txn *badger.Txn) error {
		var err error
		out, err = scanJSON[models.MetadataType](txn, prefixMetadataType)
		return err
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, err
}

func (s *Store) CreateDocument(ctx context.Context, d models.Document) error {
	return s.update(func(txn *badger.Txn) error {
		if _, err := getJSON[models.DocumentType](txn, typeKey(d.TypeID)); err != nil {
			return fmt.Errorf("get document type: %w", err)
		}
		ok, err := exists(txn, documentKey(d.ID))
		if err != nil {
			return err
		}
		if ok {
			return fmt.Errorf("create document %s: %w", d.ID, util.ErrConflict)
		}
		return putJSON(txn, documentKey(d.ID), d)
	})
}

func (s *Store) UpdateDocument(ctx context.Context, d models.Document) error {
	return s.update(func(txn *badger.Txn) error {
		cur, err := getJSON[models.Document](txn, documentKey(d.ID))
		if err != nil {
			return fmt.Errorf("get document %s: %w", d.ID, err)
		}
		if d.TypeID != cur.TypeID {
			if _, err := getJSON[models.DocumentType](txn, typeKey(d.TypeID)); err != nil {
				return fmt.Errorf("get document type: %w", err)
			}
		}
		d.IsStub = cur.IsStub
		d.UUID = cur.UUID
		d.DateAdded = cur.DateAdded
		return putJSON(txn, documentKey(d.ID), d)
	})
}

func (s *Store) GetDocument(ctx context.Context, id string) (models.Document, error) {
	var out models.Document
	err := s.view(func(txn *badger.Txn) error {
		var err error
		out, err = getJSON[models.Document](txn, documentKey(id))
		return err
	})
	if err != nil {
		return models.Document{}, fmt.Errorf("get document %s: %w", id, err)
	}
	return out, nil
}

func (s *Store) ListDocuments(ctx context.Context, f storage.DocumentFilter) ([]models.Document, error) {
	var all []models.Document
	err := s.view(func(txn *badger.Txn) error {
		var err error
		all, err = scanJSON[models.Document](txn, prefixDocument)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	out := all[:0]
	for _, d := range all {
		if f.Match(d) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DateAdded.Equal(out[j].DateAdded) {
			return out[i].ID < out[j].ID
		}
		return out[i].DateAdded.Before(out[j].DateAdded)
	})
	return out, nil
}

func (s *Store) DeleteDocument(ctx context.Context, id string) ([]string, error) {
	var refs []string
	err := s.update(func(txn *badger.Txn) error {
		refs = refs[:0]
		if _, err := getJSON[models.Document](txn, documentKey(id)); err != nil {
			return fmt.Errorf("get document %s: %w", id, err)
		}
		versionIDs, err := scanKeys(txn, prefixDocVersion+id+"/")
		if err != nil {
			return err
		}
		for _, vid := range versionIDs {
			v, err := getJSON[models.DocumentVersion](txn, versionKey(vid))
			if err != nil {
				return err
			}
			if err := deleteVersionTxn(txn, v); err != nil {
				return err
			}
			refs = append(refs, v.BlobRef)
		}
		if err := txn.Delete([]byte(checkoutKey(id))); err != nil {
			return err
		}
		return txn.Delete([]byte(documentKey(id)))
	})
	if err != nil {
		return nil, fmt.Errorf("delete document: %w", err)
	}
	return refs, nil
}

func (s *Store) GetCheckout(ctx context.Context, documentID string) (models.Checkout, error) {
	var out models.Checkout
	err := s.view(func(txn *badger.Txn) error {
		var err error
		out, err = getJSON[models.Checkout](txn, checkoutKey(documentID))
		return err
	})
	if err != nil {
		return models.Checkout{}, fmt.Errorf("get checkout: %w", err)
	}
	return out, nil
}

func (s *Store) SaveCheckout(ctx context.Context, c models.Checkout) error {
	return s.update(func(txn *badger.Txn) error {
		if _, err := getJSON[models.Document](txn, documentKey(c.DocumentID)); err != nil {
			return fmt.Errorf("get document %s: %w", c.DocumentID, err)
		}
		return putJSON(txn, checkoutKey(c.DocumentID), c)
	})
}

func (s *Store) DeleteCheckout(ctx context.Context, documentID string) error {
	return s.update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(checkoutKey(documentID)))
	})
}
