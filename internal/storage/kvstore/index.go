package kvstore

import (
	"context"
	"fmt"
	"sort"

	"docflow/internal/models"
	"docflow/internal/storage"
	"docflow/internal/util"

	"github.com/dgraph-io/badger/v4"
)

const (
	prefixTemplate     = "it/"
	prefixTemplateNode = "itn/"
	prefixInstance     = "ii/"
)

func templateKey(id string) string { return prefixTemplate + id }
func templateNodeKey(templateID, id string) string {
	return prefixTemplateNode + templateID + "/" + id
}
func instanceKey(templateID, id string) string {
	return prefixInstance + templateID + "/" + id
}

func (s *Store) CreateTemplate(ctx context.Context, t models.IndexTemplate) error {
	return s.update(func(txn *badger.Txn) error {
		all, err := scanJSON[models.IndexTemplate](txn, prefixTemplate)
		if err != nil {
			return err
		}
		for _, x := range all {
			if x.ID == t.ID || x.Label == t.Label || x.Slug == t.Slug {
				return fmt.Errorf("create index template %q: %w", t.Slug, util.ErrConflict)
			}
		}
		return putJSON(txn, templateKey(t.ID), t)
	})
}

func (s *Store) UpdateTemplate(ctx context.Context, t models.IndexTemplate) error {
	return s.update(func(txn *badger.Txn) error {
		if _, err := getJSON[models.IndexTemplate](txn, templateKey(t.ID)); err != nil {
			return fmt.Errorf("get index template: %w", err)
		}
		all, err := scanJSON[models.IndexTemplate](txn, prefixTemplate)
		if err != nil {
			return err
		}
		for _, x := range all {
			if x.ID != t.ID && (x.Label == t.Label || x.Slug == t.Slug) {
				return fmt.Errorf("update index template %q: %w", t.Slug, util.ErrConflict)
			}
		}
		return putJSON(txn, templateKey(t.ID), t)
	})
}

func (s *Store) GetTemplate(ctx context.Context, id string) (models.IndexTemplate, error) {
	var out models.IndexTemplate
	err := s.view(func(txn *badger.Txn) error {
		var err error
		out, err = getJSON[models.IndexTemplate](txn, templateKey(id))
		return err
	})
	if err != nil {
		return models.IndexTemplate{}, fmt.Errorf("get index template %s: %w", id, err)
	}
	return out, nil
}

func (s *Store) ListTemplates(ctx context.Context) ([]models.IndexTemplate, error) {
	var out []models.IndexTemplate
	err := s.view(func(txn *badger.Txn) error {
		var err error
		out, err = scanJSON[models.IndexTemplate](txn, prefixTemplate)
		return err
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out, err
}

func (s *Store) DeleteTemplate(ctx context.Context, id string) error {
	return s.update(func(txn *badger.Txn) error {
		if err := deletePrefix(txn, prefixInstance+id+"/"); err != nil {
			return err
		}
		if err := deletePrefix(txn, prefixTemplateNode+id+"/"); err != nil {
			return err
		}
		return txn.Delete([]byte(templateKey(id)))
	})
}

func (s *Store) CreateTemplateNode(ctx context.Context, n models.IndexTemplateNode) error {
	return s.update(func(txn *badger.Txn) error {
		if _, err := getJSON[models.IndexTemplate](txn, templateKey(n.TemplateID)); err != nil {
			return fmt.Errorf("get index template: %w", err)
		}
		if n.ParentID != "" {
			if _, err := getJSON[models.IndexTemplateNode](txn, templateNodeKey(n.TemplateID, n.ParentID)); err != nil {
				return fmt.Errorf("get parent template node: %w", err)
			}
		}
		return putJSON(txn, templateNodeKey(n.TemplateID, n.ID), n)
	})
}

func (s *Store) ListTemplateNodes(ctx context.Context, templateID string) ([]models.IndexTemplateNode, error) {
	var out []models.IndexTemplateNode
	err := s.view(func(txn *badger.Txn) error {
		var err error
		out, err = scanJSON[models.IndexTemplateNode](txn, prefixTemplateNode+templateID+"/")
		return err
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position == out[j].Position {
			return out[i].ID < out[j].ID
		}
		return out[i].Position < out[j].Position
	})
	return out, err
}

func (s *Store) ListInstanceNodes(ctx context.Context, templateID string) ([]models.IndexInstanceNode, error) {
	var out []models.IndexInstanceNode
	err := s.view(func(txn *badger.Txn) error {
		var err error
		out, err = scanJSON[models.IndexInstanceNode](txn, prefixInstance+templateID+"/")
		return err
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Lft < out[j].Lft })
	return out, err
}

// UpdateInstanceTree reads and rewrites the tree in one transaction; a
// concurrent writer makes the commit conflict and the whole mutation rerun.
func (s *Store) UpdateInstanceTree(ctx context.Context, templateID string, fn storage.TreeMutator) error {
	return s.update(func(txn *badger.Txn) error {
		if _, err := getJSON[models.IndexTemplate](txn, templateKey(templateID)); err != nil {
			return fmt.Errorf("get index template: %w", err)
		}
		prefix := prefixInstance + templateID + "/"
		cur, err := scanJSON[models.IndexInstanceNode](txn, prefix)
		if err != nil {
			return err
		}
		next, err := fn(cur)
		if err != nil {
			return err
		}
		keep := make(map[string]struct{}, len(next))
		for _, n := range next {
			keep[n.ID] = struct{}{}
			if err := putJSON(txn, instanceKey(templateID, n.ID), n); err != nil {
				return err
			}
		}
		for _, n := range cur {
			if _, ok := keep[n.ID]; !ok {
				if err := txn.Delete([]byte(instanceKey(templateID, n.ID))); err != nil {
					return err
				}
			}
		}
		return nil
	})
}
